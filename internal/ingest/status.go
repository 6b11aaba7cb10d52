package ingest

import (
	"sync"
	"time"
)

// Status is a snapshot of the connection health. Zero time values mean
// "never". LastError is empty while the connection is healthy.
type Status struct {
	Connected       bool      `json:"connected"`
	LastError       string    `json:"last_error,omitempty"`
	LastDataTime    time.Time `json:"last_data_time"`
	LastSuccessTime time.Time `json:"last_success_time"`
	ReconnectCount  uint64    `json:"reconnect_count"`
}

// statusStore guards the shared connection state between the read loop
// and the health loop. The forced-reconnect flag lives here too so both
// loops share a single lock. The lock is never held across I/O.
type statusStore struct {
	mu             sync.Mutex
	status         Status
	forceReconnect bool
}

func (s *statusStore) snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *statusStore) setConnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Connected = true
	s.status.LastError = ""
}

func (s *statusStore) setDisconnected(lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Connected = false
	s.status.LastError = lastError
}

func (s *statusStore) markData(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastDataTime = t
}

func (s *statusStore) markSuccess(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.LastSuccessTime = t
}

// watchdogFired records a watchdog trip as a single coherent update:
// the read loop observes the reconnect request on its next iteration.
func (s *statusStore) watchdogFired(lastError string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceReconnect = true
	s.status.Connected = false
	s.status.LastError = lastError
	s.status.ReconnectCount++
}

// markStopped clears the connected flag without touching LastError.
func (s *statusStore) markStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Connected = false
}

// consumeForceReconnect reports whether a forced reconnect was requested
// and clears the flag.
func (s *statusStore) consumeForceReconnect() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.forceReconnect
	s.forceReconnect = false
	return set
}
