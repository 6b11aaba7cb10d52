// Package webcam periodically pulls a snapshot from an IP camera and
// caches the latest frame for the dashboard.
package webcam

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pulsehub/internal/logging"
)

const maxFrameBytes = 8 << 20

type Fetcher struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu          sync.Mutex
	frame       []byte
	contentType string
	fetchedAt   time.Time

	errThrottle logging.Throttle
}

func New(url string, interval time.Duration) *Fetcher {
	return &Fetcher{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Run fetches a first frame immediately, then refreshes on the
// configured interval until ctx is cancelled.
func (f *Fetcher) Run(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		if err := f.fetchOnce(ctx); err != nil {
			logging.ThrottledError(&f.errThrottle, "Webcam fetch failed: %v", err)
		}

		ticker := time.NewTicker(f.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				logging.Info("Webcam fetch loop stopped")
				return
			case <-ticker.C:
				if err := f.fetchOnce(ctx); err != nil {
					logging.ThrottledError(&f.errThrottle, "Webcam fetch failed: %v", err)
				}
			}
		}
	}()
}

func (f *Fetcher) fetchOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("camera returned status %d", resp.StatusCode)
	}
	frame, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameBytes))
	if err != nil {
		return err
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "image/jpeg"
	}

	f.mu.Lock()
	f.frame = frame
	f.contentType = contentType
	f.fetchedAt = time.Now()
	f.mu.Unlock()
	return nil
}

// Latest returns the most recent frame, its content type and fetch
// time. ok is false until the first successful fetch.
func (f *Fetcher) Latest() (frame []byte, contentType string, fetchedAt time.Time, ok bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.frame == nil {
		return nil, "", time.Time{}, false
	}
	return f.frame, f.contentType, f.fetchedAt, true
}
