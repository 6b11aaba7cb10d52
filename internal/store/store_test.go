package store

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pulsehub/internal/ingest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test_readings.db"))
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func f(v float64) *float64 { return &v }
func i(v int) *int         { return &v }
func str(v string) *string { return &v }

func sampleReading(ts int64, temp float64) ingest.Reading {
	return ingest.Reading{
		Timestamp:       ts,
		TemperatureC:    f(temp),
		HumidityPercent: f(50.0),
		PressureHpa:     f(1013.2),
		Air: ingest.AirQuality{
			CO2Ppm: f(600.0),
			AQI:    i(3),
			Status: str("moderate"),
		},
	}
}

func TestInsertAndLatest(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UnixMilli()
	if err := s.InsertReading(sampleReading(now-1000, 20.0)); err != nil {
		t.Fatalf("Failed to insert reading: %v", err)
	}
	if err := s.InsertReading(sampleReading(now, 21.5)); err != nil {
		t.Fatalf("Failed to insert reading: %v", err)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest == nil {
		t.Fatal("Expected a latest reading, got nil")
	}
	if latest.Timestamp != now {
		t.Errorf("Expected latest timestamp %d, got %d", now, latest.Timestamp)
	}
	if latest.TemperatureC == nil || *latest.TemperatureC != 21.5 {
		t.Errorf("Expected temperature 21.5, got %v", latest.TemperatureC)
	}
	if latest.AirQualityStatus == nil || *latest.AirQualityStatus != "moderate" {
		t.Errorf("Expected status 'moderate', got %v", latest.AirQualityStatus)
	}
}

func TestLatest_Empty(t *testing.T) {
	s := openTestStore(t)

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest != nil {
		t.Errorf("Expected nil for empty table, got %+v", latest)
	}
}

func TestInsert_AbsentFieldsStayNull(t *testing.T) {
	s := openTestStore(t)

	r := ingest.Reading{Timestamp: time.Now().UnixMilli()}
	if err := s.InsertReading(r); err != nil {
		t.Fatalf("Failed to insert sparse reading: %v", err)
	}

	latest, err := s.Latest()
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.TemperatureC != nil || latest.CO2Ppm != nil || latest.AQI != nil {
		t.Errorf("Expected NULL sensor columns, got %+v", latest)
	}
}

func TestSince(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UnixMilli()
	for k := 0; k < 5; k++ {
		if err := s.InsertReading(sampleReading(base+int64(k*1000), 20.0+float64(k))); err != nil {
			t.Fatalf("Failed to insert reading: %v", err)
		}
	}

	rows, err := s.Since(base+2000, 100)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("Expected 3 readings, got %d", len(rows))
	}
	if rows[0].Timestamp != base+2000 {
		t.Errorf("Expected oldest-first ordering, got first timestamp %d", rows[0].Timestamp)
	}

	limited, err := s.Since(base, 2)
	if err != nil {
		t.Fatalf("Since failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected limit to cap rows at 2, got %d", len(limited))
	}
}

func TestCountSince(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UnixMilli()
	for k := 0; k < 4; k++ {
		if err := s.InsertReading(sampleReading(base+int64(k), 20.0)); err != nil {
			t.Fatalf("Failed to insert reading: %v", err)
		}
	}

	count, err := s.CountSince(base + 2)
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected count 2, got %d", count)
	}
}

func TestStatsSince(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UnixMilli()
	for k, temp := range []float64{18.0, 22.0, 20.0} {
		if err := s.InsertReading(sampleReading(base+int64(k), temp)); err != nil {
			t.Fatalf("Failed to insert reading: %v", err)
		}
	}

	stats, err := s.StatsSince(base)
	if err != nil {
		t.Fatalf("StatsSince failed: %v", err)
	}
	if stats.Count != 3 {
		t.Errorf("Expected count 3, got %d", stats.Count)
	}
	if stats.MinTemp == nil || *stats.MinTemp != 18.0 {
		t.Errorf("Expected min 18.0, got %v", stats.MinTemp)
	}
	if stats.MaxTemp == nil || *stats.MaxTemp != 22.0 {
		t.Errorf("Expected max 22.0, got %v", stats.MaxTemp)
	}
	if stats.AvgTemp == nil || *stats.AvgTemp != 20.0 {
		t.Errorf("Expected avg 20.0, got %v", stats.AvgTemp)
	}
}

func TestExportCSV(t *testing.T) {
	s := openTestStore(t)

	base := time.Now().UnixMilli()
	if err := s.InsertReading(sampleReading(base, 21.5)); err != nil {
		t.Fatalf("Failed to insert reading: %v", err)
	}
	if err := s.InsertReading(ingest.Reading{Timestamp: base + 1000}); err != nil {
		t.Fatalf("Failed to insert sparse reading: %v", err)
	}

	var sb strings.Builder
	if err := s.ExportCSV(&sb); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected header and 2 rows, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,temperature_c") {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "21.50") || !strings.Contains(lines[1], "moderate") {
		t.Errorf("Unexpected first row: %s", lines[1])
	}
	// Sparse rows export NULL columns as empty strings.
	if !strings.Contains(lines[2], ",,") {
		t.Errorf("Expected empty columns for sparse row: %s", lines[2])
	}
}
