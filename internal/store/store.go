// Package store persists normalized sensor readings to SQLite.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	_ "github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pulsehub/internal/ingest"
)

// Reading is one persisted sensor sample. Sensor columns are nullable:
// the firmware omits fields it could not sample and absent must stay
// distinguishable from zero.
type Reading struct {
	ID               uint     `gorm:"primaryKey" json:"id"`
	Timestamp        int64    `gorm:"index" json:"timestamp"`
	TemperatureC     *float64 `json:"temperature_c,omitempty"`
	HumidityPercent  *float64 `json:"humidity_percent,omitempty"`
	PressureHpa      *float64 `json:"pressure_hpa,omitempty"`
	CO2Ppm           *float64 `json:"co2_ppm,omitempty"`
	NH3Ppm           *float64 `json:"nh3_ppm,omitempty"`
	AlcoholPpm       *float64 `json:"alcohol_ppm,omitempty"`
	AQI              *int     `json:"aqi,omitempty"`
	AirQualityStatus *string  `json:"air_quality_status,omitempty"`
	RawADC           *int     `json:"raw_adc,omitempty"`
	VoltageV         *float64 `json:"voltage_v,omitempty"`
	ResistanceOhm    *float64 `json:"resistance_ohm,omitempty"`
	RatioRsR0        *float64 `json:"ratio_rs_r0,omitempty"`
}

// Stats summarizes readings inside a time window.
type Stats struct {
	Count   int64    `json:"count"`
	MinTemp *float64 `json:"min_temperature_c,omitempty"`
	MaxTemp *float64 `json:"max_temperature_c,omitempty"`
	AvgTemp *float64 `json:"avg_temperature_c,omitempty"`
}

type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

func Open(dbPath string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	gormDB, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize ORM: %w", err)
	}
	if err := gormDB.AutoMigrate(&Reading{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: gormDB, sqlDB: sqlDB}, nil
}

func (s *Store) Close() error {
	return s.sqlDB.Close()
}

// Ping reports whether the underlying database is reachable.
func (s *Store) Ping() error {
	return s.sqlDB.Ping()
}

func fromIngest(r ingest.Reading) Reading {
	return Reading{
		Timestamp:        r.Timestamp,
		TemperatureC:     r.TemperatureC,
		HumidityPercent:  r.HumidityPercent,
		PressureHpa:      r.PressureHpa,
		CO2Ppm:           r.Air.CO2Ppm,
		NH3Ppm:           r.Air.NH3Ppm,
		AlcoholPpm:       r.Air.AlcoholPpm,
		AQI:              r.Air.AQI,
		AirQualityStatus: r.Air.Status,
		RawADC:           r.Air.RawADC,
		VoltageV:         r.Air.VoltageV,
		ResistanceOhm:    r.Air.ResistanceOhm,
		RatioRsR0:        r.Air.RatioRsR0,
	}
}

func (s *Store) InsertReading(r ingest.Reading) error {
	row := fromIngest(r)
	return s.db.Create(&row).Error
}

// Latest returns the most recent reading, or nil when the table is empty.
func (s *Store) Latest() (*Reading, error) {
	var r Reading
	err := s.db.Order("timestamp DESC").First(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Since returns readings with a timestamp at or after since (unix ms),
// oldest first, capped at limit rows.
func (s *Store) Since(since int64, limit int) ([]Reading, error) {
	var rows []Reading
	err := s.db.Where("timestamp >= ?", since).
		Order("timestamp ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// CountSince returns how many readings arrived at or after since.
func (s *Store) CountSince(since int64) (int64, error) {
	var count int64
	err := s.db.Model(&Reading{}).Where("timestamp >= ?", since).Count(&count).Error
	return count, err
}

// StatsSince aggregates temperature statistics over readings at or
// after since.
func (s *Store) StatsSince(since int64) (Stats, error) {
	var stats Stats
	err := s.db.Model(&Reading{}).
		Select("COUNT(*) AS count, MIN(temperature_c) AS min_temp, MAX(temperature_c) AS max_temp, AVG(temperature_c) AS avg_temp").
		Where("timestamp >= ?", since).
		Scan(&stats).Error
	return stats, err
}

// ExportCSV writes every reading to w, oldest first.
func (s *Store) ExportCSV(w io.Writer) error {
	header := "timestamp,temperature_c,humidity_percent,pressure_hpa,co2_ppm,nh3_ppm,alcohol_ppm,aqi,air_quality_status,raw_adc,voltage_v,resistance_ohm,ratio_rs_r0\n"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	rows, err := s.db.Model(&Reading{}).Order("timestamp ASC").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var r Reading
		if err := s.db.ScanRows(rows, &r); err != nil {
			return err
		}
		line := fmt.Sprintf("%d,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s\n",
			r.Timestamp,
			csvFloat(r.TemperatureC),
			csvFloat(r.HumidityPercent),
			csvFloat(r.PressureHpa),
			csvFloat(r.CO2Ppm),
			csvFloat(r.NH3Ppm),
			csvFloat(r.AlcoholPpm),
			csvInt(r.AQI),
			csvString(r.AirQualityStatus),
			csvInt(r.RawADC),
			csvFloat(r.VoltageV),
			csvFloat(r.ResistanceOhm),
			csvFloat(r.RatioRsR0),
		)
		if _, err := io.WriteString(w, line); err != nil {
			return err
		}
	}
	return rows.Err()
}

func csvFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return fmt.Sprintf("%.2f", *f)
}

func csvInt(i *int) string {
	if i == nil {
		return ""
	}
	return fmt.Sprintf("%d", *i)
}

func csvString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
