// Package ingest maintains a long-lived connection to a USB-serial
// microcontroller emitting line-delimited JSON telemetry. It survives
// unplugs and firmware resets, detects connections that have gone
// silent, and delivers each valid line exactly once to a caller-supplied
// callback. All failures are handled internally; the only external
// surface is Start, Stop and GetStatus.
package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"pulsehub/internal/logging"
)

const (
	// Partial lines longer than this without a newline are firmware
	// garbage (or a baud mismatch), not telemetry.
	maxLineBytes = 64 * 1024

	// Fraction of MaxSilence at which the health loop starts warning.
	silenceWarnFraction = 0.7

	watchdogTimeoutError = "Watchdog timeout: no data received"
	noDeviceError        = "No serial device found"
)

// Swappable for tests.
var (
	openPort = serial.Open
	timeNow  = time.Now
)

// Config carries the engine settings. Zero values are replaced with
// defaults matching the Pico firmware and a ~5 minute watchdog.
type Config struct {
	// Device is the serial port path. Empty means auto-detect on every
	// (re)connect, so the path may change across replugs.
	Device         string
	BaudRate       int
	ReadTimeout    time.Duration
	MaxSilence     time.Duration
	HealthInterval time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64
	EmptyReadLimit int
	StopTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.BaudRate == 0 {
		c.BaudRate = 115200
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 2 * time.Second
	}
	if c.MaxSilence == 0 {
		c.MaxSilence = 5 * time.Minute
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = time.Minute
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffFactor == 0 {
		c.BackoffFactor = 1.5
	}
	if c.EmptyReadLimit == 0 {
		c.EmptyReadLimit = 100
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 5 * time.Second
	}
	return c
}

// Engine runs two loops: the read loop owns the serial handle and does
// the connect/read/close cycle, the health loop watches for a connection
// that is open but silent. They communicate only through the shared
// status store; the health loop never touches the handle itself.
type Engine struct {
	cfg       Config
	status    statusStore
	onReading func(Reading)

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup

	openErrThrottle  logging.Throttle
	readErrThrottle  logging.Throttle
	parseThrottle    logging.Throttle
	oversizeThrottle logging.Throttle
}

func New(cfg Config) *Engine {
	return &Engine{cfg: cfg.withDefaults()}
}

// Start launches the read and health loops. Calling Start on a running
// engine is a no-op. The callback is invoked synchronously from the
// read loop, one reading per valid line; a panic inside it is logged
// and does not affect the connection.
func (e *Engine) Start(onReading func(Reading)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	if e.cfg.BaudRate < 0 {
		return fmt.Errorf("invalid baud rate %d", e.cfg.BaudRate)
	}
	e.onReading = onReading
	stop := make(chan struct{})
	e.stop = stop
	e.running = true
	e.wg.Add(2)
	go e.readLoop(stop)
	go e.healthLoop(stop)
	return nil
}

// Stop signals both loops and waits for them to exit, bounded by
// StopTimeout. After Stop returns the handle is closed and no further
// callback invocations occur.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.StopTimeout):
		logging.Error("Timed out waiting for ingest loops to stop")
	}
}

// GetStatus returns a coherent snapshot of the connection health.
// Non-blocking; safe to call from any goroutine.
func (e *Engine) GetStatus() Status {
	return e.status.snapshot()
}

// readLoop receives the stop channel as a parameter so that a restart
// after a timed-out Stop cannot race a stale loop against the fresh
// channel assigned by Start.
func (e *Engine) readLoop(stop chan struct{}) {
	defer e.wg.Done()

	mode := &serial.Mode{BaudRate: e.cfg.BaudRate}
	var (
		port       serial.Port
		backoff    = e.cfg.BackoffBase
		emptyReads int
		pending    []byte
	)
	buf := make([]byte, 1024)

	defer func() {
		if port != nil {
			port.Close()
		}
		e.status.markStopped()
	}()

	for {
		select {
		case <-stop:
			return
		default:
		}

		if e.status.consumeForceReconnect() && port != nil {
			logging.Info("Forced reconnect requested, closing serial port")
			port.Close()
			port = nil
			pending = nil
			emptyReads = 0
			backoff = e.cfg.BackoffBase
			continue
		}

		if port == nil {
			path := detectDevice(e.cfg.Device)
			if path == "" {
				e.status.setDisconnected(noDeviceError)
				logging.ThrottledWarn(&e.openErrThrottle, "%s, retrying in %s", noDeviceError, backoff)
				if !e.sleep(stop, backoff) {
					return
				}
				backoff = nextBackoff(backoff, e.cfg.BackoffFactor, e.cfg.BackoffMax)
				continue
			}

			p, err := openPort(path, mode)
			if err != nil {
				e.status.setDisconnected(fmt.Sprintf("Failed to open %s: %v", path, err))
				logging.ThrottledError(&e.openErrThrottle, "Failed to open %s: %v", path, err)
				if !e.sleep(stop, backoff) {
					return
				}
				backoff = nextBackoff(backoff, e.cfg.BackoffFactor, e.cfg.BackoffMax)
				continue
			}
			// Without a read timeout port.Read blocks forever and the
			// loop can never observe the stop signal, so a failure here
			// is an open failure.
			if err := p.SetReadTimeout(e.cfg.ReadTimeout); err != nil {
				p.Close()
				e.status.setDisconnected(fmt.Sprintf("Failed to configure %s: %v", path, err))
				logging.ThrottledError(&e.openErrThrottle, "Failed to configure %s: %v", path, err)
				if !e.sleep(stop, backoff) {
					return
				}
				backoff = nextBackoff(backoff, e.cfg.BackoffFactor, e.cfg.BackoffMax)
				continue
			}
			p.ResetInputBuffer()
			p.ResetOutputBuffer()
			port = p
			pending = nil
			emptyReads = 0
			backoff = e.cfg.BackoffBase
			e.status.setConnected()
			logging.Info("Connected to %s @ %d baud", path, e.cfg.BaudRate)
			continue
		}

		n, err := port.Read(buf)
		if err != nil {
			e.status.setDisconnected(fmt.Sprintf("Serial read error: %v", err))
			logging.ThrottledError(&e.readErrThrottle, "Serial read error: %v", err)
			port.Close()
			port = nil
			pending = nil
			// A handle that opens fine but faults on every read would
			// otherwise spin the open/close cycle flat out.
			if !e.sleep(stop, backoff) {
				return
			}
			backoff = nextBackoff(backoff, e.cfg.BackoffFactor, e.cfg.BackoffMax)
			continue
		}
		if n == 0 {
			// Read timeout. A handle can stay open while the device has
			// stopped producing bytes entirely; after enough of these in
			// a row, reopen it. Separate guard from the data watchdog.
			emptyReads++
			if emptyReads >= e.cfg.EmptyReadLimit {
				logging.Warn("No bytes in %d consecutive reads, reopening serial port", emptyReads)
				port.Close()
				port = nil
				pending = nil
				emptyReads = 0
			}
			continue
		}

		emptyReads = 0
		e.status.markData(timeNow())
		pending = append(pending, buf[:n]...)
		pending = e.drainLines(pending)
	}
}

// drainLines hands every complete line in pending to the decoder and
// returns the unterminated remainder.
func (e *Engine) drainLines(pending []byte) []byte {
	for {
		idx := bytes.IndexByte(pending, '\n')
		if idx < 0 {
			if len(pending) > maxLineBytes {
				logging.ThrottledWarn(&e.oversizeThrottle, "Discarding %d byte partial line with no terminator", len(pending))
				return nil
			}
			return pending
		}
		line := pending[:idx]
		pending = pending[idx+1:]
		e.handleLine(line)
	}
}

func (e *Engine) handleLine(line []byte) {
	reading, err := decodeAndNormalize(line)
	if err != nil {
		if !errors.Is(err, errBlankLine) {
			logging.ThrottledWarn(&e.parseThrottle, "Skipping line: %v", err)
		}
		return
	}
	reading.Timestamp = timeNow().UnixMilli()
	if e.deliver(reading) {
		e.status.markSuccess(timeNow())
	}
}

// deliver invokes the callback, containing any panic. A callback fault
// is a delivery problem, not a connection problem: it must not touch
// backoff or reconnect state.
func (e *Engine) deliver(r Reading) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			ok = false
			logging.Error("Reading callback panicked: %v", rec)
		}
	}()
	if e.onReading != nil {
		e.onReading(r)
	}
	return true
}

func (e *Engine) healthLoop(stop chan struct{}) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.checkHealth(timeNow())
		}
	}
}

// checkHealth trips the watchdog when an open connection has been
// silent past MaxSilence. Silence gates on data arrival, not on
// callback success: LastSuccessTime is consulted only when no data has
// ever arrived. The read loop performs the actual teardown on its next
// iteration; the window between trip and teardown is bounded by the
// read timeout and is intentional.
func (e *Engine) checkHealth(now time.Time) {
	st := e.status.snapshot()
	if !st.Connected {
		return
	}
	ref := st.LastDataTime
	if ref.IsZero() {
		ref = st.LastSuccessTime
	}
	if ref.IsZero() {
		return
	}
	silence := now.Sub(ref)
	if silence > e.cfg.MaxSilence {
		logging.Error("Watchdog: no data for %s, forcing reconnect", silence.Round(time.Second))
		e.status.watchdogFired(watchdogTimeoutError)
		return
	}
	if silence > time.Duration(float64(e.cfg.MaxSilence)*silenceWarnFraction) {
		logging.Warn("No data for %s, watchdog threshold is %s", silence.Round(time.Second), e.cfg.MaxSilence)
	}
}

// sleep waits for d or until the engine is stopped. Reports false when
// the stop signal arrived.
func (e *Engine) sleep(stop chan struct{}, d time.Duration) bool {
	select {
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current time.Duration, factor float64, maxDelay time.Duration) time.Duration {
	next := time.Duration(float64(current) * factor)
	if next > maxDelay {
		next = maxDelay
	}
	return next
}
