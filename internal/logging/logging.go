package logging

import (
	"log"
	"os"
	"sync"
	"time"
)

var throttleInterval = 5 * time.Second

// Setup redirects log output to a file when one is configured.
func Setup(logFile string) error {
	if logFile == "" {
		return nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	log.SetOutput(f)
	return nil
}

var Info = func(format string, v ...any) {
	log.Printf("[INFO] "+format, v...)
}

var Warn = func(format string, v ...any) {
	log.Printf("[WARN] "+format, v...)
}

var Error = func(format string, v ...any) {
	log.Printf("[ERROR] "+format, v...)
}

// Throttle suppresses repeated log lines from a single call site.
// Safe for use from multiple goroutines.
type Throttle struct {
	mu   sync.Mutex
	last time.Time
}

func (t *Throttle) ready() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if time.Since(t.last) > throttleInterval {
		t.last = time.Now()
		return true
	}
	return false
}

func ThrottledWarn(t *Throttle, format string, v ...any) {
	if t.ready() {
		Warn(format, v...)
	}
}

func ThrottledError(t *Throttle, format string, v ...any) {
	if t.ready() {
		Error(format, v...)
	}
}
