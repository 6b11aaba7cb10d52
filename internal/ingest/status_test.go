package ingest

import (
	"sync"
	"testing"
	"time"
)

func TestStatusStore_SnapshotIsCopy(t *testing.T) {
	var s statusStore
	s.setConnected()
	snap := s.snapshot()
	snap.Connected = false
	snap.LastError = "mutated"

	if got := s.snapshot(); !got.Connected || got.LastError != "" {
		t.Errorf("Snapshot mutation leaked into store: %+v", got)
	}
}

func TestStatusStore_SetConnectedClearsError(t *testing.T) {
	var s statusStore
	s.setDisconnected("No serial device found")
	if st := s.snapshot(); st.Connected || st.LastError != "No serial device found" {
		t.Fatalf("Unexpected status: %+v", st)
	}

	s.setConnected()
	st := s.snapshot()
	if !st.Connected {
		t.Error("Expected connected after setConnected")
	}
	if st.LastError != "" {
		t.Errorf("Expected cleared error, got %q", st.LastError)
	}
}

func TestStatusStore_WatchdogFired(t *testing.T) {
	var s statusStore
	s.setConnected()

	s.watchdogFired(watchdogTimeoutError)

	st := s.snapshot()
	if st.Connected {
		t.Error("Expected connected=false after watchdog")
	}
	if st.LastError != watchdogTimeoutError {
		t.Errorf("Expected watchdog error, got %q", st.LastError)
	}
	if st.ReconnectCount != 1 {
		t.Errorf("Expected ReconnectCount 1, got %d", st.ReconnectCount)
	}
	if !s.consumeForceReconnect() {
		t.Error("Expected forced reconnect to be requested")
	}
	if s.consumeForceReconnect() {
		t.Error("Expected forced reconnect flag to be cleared after consume")
	}
}

func TestStatusStore_ReconnectCountMonotonic(t *testing.T) {
	var s statusStore
	var prev uint64
	for i := 0; i < 5; i++ {
		s.watchdogFired(watchdogTimeoutError)
		s.setConnected()
		st := s.snapshot()
		if st.ReconnectCount <= prev {
			t.Fatalf("ReconnectCount not monotonic: %d after %d", st.ReconnectCount, prev)
		}
		prev = st.ReconnectCount
	}
}

// Snapshots taken while both loops mutate state concurrently must never
// observe a torn record: a watchdog trip flips Connected, LastError and
// ReconnectCount together.
func TestStatusStore_ConcurrentSnapshotsCoherent(t *testing.T) {
	var s statusStore

	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.setConnected()
				s.markData(time.Now())
				s.markSuccess(time.Now())
			}
		}
	}()
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				s.watchdogFired(watchdogTimeoutError)
				s.consumeForceReconnect()
			}
		}
	}()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		st := s.snapshot()
		if st.Connected && st.LastError == watchdogTimeoutError {
			t.Errorf("Torn snapshot: connected with watchdog error: %+v", st)
			break
		}
	}

	close(stop)
	wg.Wait()
}
