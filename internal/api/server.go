// Package api serves the dashboard REST endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"pulsehub/internal/ingest"
	"pulsehub/internal/logging"
	"pulsehub/internal/store"
	"pulsehub/internal/webcam"
)

const defaultStaleAfter = 2 * time.Minute

// StatusProvider is the slice of the ingest engine the API needs.
type StatusProvider interface {
	GetStatus() ingest.Status
}

type Deps struct {
	Store  *store.Store
	Engine StatusProvider
	// Camera may be nil when the webcam is disabled.
	Camera *webcam.Fetcher
	// StaleAfter is how long without data before a connected sensor is
	// reported as "stale" instead of "online".
	StaleAfter time.Duration
	StaticDir  string
}

// Register mounts the API routes and the static dashboard on mux.
func Register(mux *http.ServeMux, d Deps) {
	if d.StaleAfter == 0 {
		d.StaleAfter = defaultStaleAfter
	}
	mux.HandleFunc("/api/health", d.handleHealth)
	mux.HandleFunc("/api/current", d.handleCurrent)
	mux.HandleFunc("/api/measurements", d.handleMeasurements)
	mux.HandleFunc("/api/stats", d.handleStats)
	mux.HandleFunc("/api/webcam", d.handleWebcam)
	if d.StaticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(d.StaticDir)))
	}
}

// StartServer serves mux on addr until ctx is cancelled.
func StartServer(ctx context.Context, addr string, mux *http.ServeMux, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		server := &http.Server{Addr: addr, Handler: mux}
		logging.Info("Dashboard served at http://localhost%s", addr)
		go func() {
			<-ctx.Done()
			logging.Info("Shutting down dashboard server...")
			server.Shutdown(context.Background())
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("Dashboard server error: %v", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sensorState folds the engine status into the three states the
// frontend renders: online, stale, disconnected.
func sensorState(st ingest.Status, staleAfter time.Duration, now time.Time) string {
	if !st.Connected {
		return "disconnected"
	}
	ref := st.LastDataTime
	if ref.IsZero() {
		ref = st.LastSuccessTime
	}
	if ref.IsZero() || now.Sub(ref) > staleAfter {
		return "stale"
	}
	return "online"
}

func (d Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	st := d.Engine.GetStatus()

	type sensorHealth struct {
		State string `json:"state"`
		ingest.Status
	}
	resp := map[string]any{
		"status":    "ok",
		"timestamp": now.UTC().Format(time.RFC3339),
		"database":  "connected",
		"sensor": sensorHealth{
			State:  sensorState(st, d.StaleAfter, now),
			Status: st,
		},
	}

	if err := d.Store.Ping(); err != nil {
		resp["status"] = "error"
		resp["database"] = "error"
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	count, err := d.Store.CountSince(now.Add(-time.Hour).UnixMilli())
	if err != nil {
		resp["status"] = "error"
		resp["database"] = "error"
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	resp["recent_readings"] = count
	writeJSON(w, http.StatusOK, resp)
}

func (d Deps) handleCurrent(w http.ResponseWriter, r *http.Request) {
	latest, err := d.Store.Latest()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to get current reading"})
		return
	}
	if latest == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No readings available"})
		return
	}
	writeJSON(w, http.StatusOK, latest)
}

const maxHistoryRows = 5000

func (d Deps) handleMeasurements(w http.ResponseWriter, r *http.Request) {
	since := sinceForRange(r.URL.Query().Get("range"), time.Now())
	rows, err := d.Store.Since(since, maxHistoryRows)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "DB error"})
		return
	}
	if rows == nil {
		rows = []store.Reading{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (d Deps) handleStats(w http.ResponseWriter, r *http.Request) {
	since := sinceForRange(r.URL.Query().Get("range"), time.Now())
	stats, err := d.Store.StatsSince(since)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "DB error"})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (d Deps) handleWebcam(w http.ResponseWriter, r *http.Request) {
	if d.Camera == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "Webcam disabled"})
		return
	}
	frame, contentType, fetchedAt, ok := d.Camera.Latest()
	if !ok {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "No frame available yet"})
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Fetched-At", fetchedAt.UTC().Format(time.RFC3339))
	w.Write(frame)
}

func sinceForRange(rangeParam string, now time.Time) int64 {
	switch rangeParam {
	case "1h":
		return now.Add(-1 * time.Hour).UnixMilli()
	case "6h":
		return now.Add(-6 * time.Hour).UnixMilli()
	case "12h":
		return now.Add(-12 * time.Hour).UnixMilli()
	case "24h":
		return now.Add(-24 * time.Hour).UnixMilli()
	case "today":
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).UnixMilli()
	case "week":
		return now.AddDate(0, 0, -7).UnixMilli()
	case "month":
		return now.AddDate(0, -1, 0).UnixMilli()
	case "year":
		return now.AddDate(-1, 0, 0).UnixMilli()
	default:
		return 0 // all data
	}
}
