package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pulsehub/internal/api"
	"pulsehub/internal/config"
	"pulsehub/internal/ingest"
	"pulsehub/internal/logging"
	"pulsehub/internal/store"
	"pulsehub/internal/webcam"
)

var (
	configPath     = flag.String("config", "", "Path to YAML config file")
	portName       = flag.String("port", "", "Serial port path (default: auto-detect)")
	baudRate       = flag.Int("baud", 115200, "Serial baud rate")
	dbFileName     = flag.String("db", "readings.db", "SQLite database filename")
	exportCSV      = flag.String("export-csv", "", "Export readings to CSV file and exit")
	serveDashboard = flag.Bool("dashboard", true, "Serve web dashboard")
	listenAddr     = flag.String("addr", ":8080", "Dashboard listen address")
	maxSilence     = flag.Int("max-silence", 300, "Seconds without data before a forced reconnect")
	logFile        = flag.String("log-file", "", "Log output to file (optional)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("Failed to load config: %v", err)
		os.Exit(1)
	}
	applyFlagOverrides(&cfg)

	if err := logging.Setup(cfg.LogFile); err != nil {
		logging.Error("Failed to open log file: %v", err)
		os.Exit(1)
	}

	if *exportCSV != "" {
		if err := runExport(cfg.Database.Path, *exportCSV); err != nil {
			logging.Error("Export to CSV failed: %v", err)
			os.Exit(1)
		}
		logging.Info("Exported readings to %s", *exportCSV)
		return
	}

	logging.Info("Pulsehub started")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		logging.Error("Failed to open database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	engine := ingest.New(ingest.Config{
		Device:         cfg.Serial.Port,
		BaudRate:       cfg.Serial.BaudRate,
		MaxSilence:     cfg.Serial.MaxSilence(),
		HealthInterval: cfg.Serial.HealthInterval(),
	})

	var insertErrThrottle logging.Throttle
	err = engine.Start(func(r ingest.Reading) {
		if err := db.InsertReading(r); err != nil {
			logging.ThrottledError(&insertErrThrottle, "Failed to insert reading: %v", err)
			return
		}
		printToConsole(r)
	})
	if err != nil {
		logging.Error("Failed to start ingest engine: %v", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	var camera *webcam.Fetcher
	if cfg.Webcam.Enabled && cfg.Webcam.URL != "" {
		camera = webcam.New(cfg.Webcam.URL, cfg.Webcam.Interval())
		camera.Run(ctx, &wg)
	}

	if cfg.Server.Enabled {
		mux := http.NewServeMux()
		api.Register(mux, api.Deps{
			Store:     db,
			Engine:    engine,
			Camera:    camera,
			StaticDir: cfg.Server.StaticDir,
		})
		api.StartServer(ctx, cfg.Server.Addr, mux, &wg)
	}

	<-ctx.Done()
	fmt.Println("Graceful shutdown requested. Exiting...")
	engine.Stop()
	wg.Wait()
}

// applyFlagOverrides lets explicitly set flags win over the config file.
func applyFlagOverrides(cfg *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "port":
			cfg.Serial.Port = *portName
		case "baud":
			cfg.Serial.BaudRate = *baudRate
		case "db":
			cfg.Database.Path = *dbFileName
		case "dashboard":
			cfg.Server.Enabled = *serveDashboard
		case "addr":
			cfg.Server.Addr = *listenAddr
		case "max-silence":
			cfg.Serial.MaxSilenceSeconds = *maxSilence
		case "log-file":
			cfg.LogFile = *logFile
		}
	})
}

func runExport(dbPath, outPath string) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	file, err := os.Create(outPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return db.ExportCSV(file)
}

func printToConsole(r ingest.Reading) {
	const (
		green = "\033[32m"
		cyan  = "\033[36m"
		reset = "\033[0m"
	)

	t := time.UnixMilli(r.Timestamp)
	fmt.Printf("%sReading at %s%s\n", cyan, t.Format("2006-01-02 15:04:05"), reset)
	if r.TemperatureC != nil {
		fmt.Printf("    %sTemperature:%s %.2f °C\n", green, reset, *r.TemperatureC)
	}
	if r.HumidityPercent != nil {
		fmt.Printf("    %sHumidity:   %s %.2f %%\n", green, reset, *r.HumidityPercent)
	}
	if r.PressureHpa != nil {
		fmt.Printf("    %sPressure:   %s %.1f hPa\n", green, reset, *r.PressureHpa)
	}
	if r.Air.CO2Ppm != nil {
		status := ""
		if r.Air.Status != nil {
			status = fmt.Sprintf(" (%s)", *r.Air.Status)
		}
		fmt.Printf("    %sCO2:        %s %.1f ppm%s\n", green, reset, *r.Air.CO2Ppm, status)
	}
}
