// Package config loads the hub configuration file. Every field has a
// default so the hub runs with no file at all; flags override on top.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial   SerialConfig   `yaml:"serial"`
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Webcam   WebcamConfig   `yaml:"webcam"`
	LogFile  string         `yaml:"log_file"`
}

type SerialConfig struct {
	// Port is the device path. Empty means auto-detect.
	Port                  string `yaml:"port"`
	BaudRate              int    `yaml:"baud_rate"`
	MaxSilenceSeconds     int    `yaml:"max_silence_seconds"`
	HealthIntervalSeconds int    `yaml:"health_interval_seconds"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

type WebcamConfig struct {
	Enabled         bool   `yaml:"enabled"`
	URL             string `yaml:"url"`
	Title           string `yaml:"title"`
	IntervalSeconds int    `yaml:"interval_seconds"`
}

func Default() Config {
	return Config{
		Serial: SerialConfig{
			BaudRate:              115200,
			MaxSilenceSeconds:     300,
			HealthIntervalSeconds: 60,
		},
		Database: DatabaseConfig{
			Path: "readings.db",
		},
		Server: ServerConfig{
			Enabled:   true,
			Addr:      ":8080",
			StaticDir: "web-dashboard-static",
		},
		Webcam: WebcamConfig{
			IntervalSeconds: 60,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path yields
// the defaults; a missing or malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func (c SerialConfig) MaxSilence() time.Duration {
	return time.Duration(c.MaxSilenceSeconds) * time.Second
}

func (c SerialConfig) HealthInterval() time.Duration {
	return time.Duration(c.HealthIntervalSeconds) * time.Second
}

func (c WebcamConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}
