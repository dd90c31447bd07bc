package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/frank120121/bpa/internal/infra"
)

type serverTimeResponse struct {
	ServerTime int64 `json:"serverTime"`
}

// ServerClock tracks the offset between the local clock and the exchange
// server clock. Signed requests must carry a timestamp inside the server's
// acceptance window, so all of them read through Now.
// Shared by every Gateway instance in the process.
type ServerClock struct {
	mu       sync.Mutex
	http     *resty.Client
	timeURLs []string
	offsetMS int64
	bufferMS int64
	synced   bool

	// SyncInterval controls the periodic refresh in Run.
	SyncInterval time.Duration
}

// NewServerClock creates a clock syncing against the exchange time
// endpoints (v3 first, v1 as fallback).
func NewServerClock(baseURL string) *ServerClock {
	return &ServerClock{
		http: resty.New().SetTimeout(10 * time.Second),
		timeURLs: []string{
			baseURL + "/api/v3/time",
			baseURL + "/api/v1/time",
		},
		SyncInterval: 10 * time.Minute,
	}
}

// Now returns the timestamp in milliseconds to place on a signed request:
// local time + server offset + a safety buffer derived from the measured
// round trip. Falls back to plain local time when never synced.
func (c *ServerClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	local := time.Now().UnixMilli()
	if !c.synced {
		return local
	}
	return local + c.offsetMS + c.bufferMS
}

// EnsureSynced performs an initial sync if none has succeeded yet.
func (c *ServerClock) EnsureSynced(ctx context.Context) error {
	c.mu.Lock()
	synced := c.synced
	c.mu.Unlock()
	if synced {
		return nil
	}
	return c.Sync(ctx)
}

// Sync fetches the server time and updates offset and buffer.
// Called on-demand when the server rejects a timestamp, and periodically
// from Run.
func (c *ServerClock) Sync(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(infra.BackoffWithBase(attempt-1, 200*time.Millisecond, 5*time.Second)):
			}
		}

		for _, url := range c.timeURLs {
			start := time.Now()
			resp, err := c.http.R().SetContext(ctx).Get(url)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.StatusCode() != 200 {
				lastErr = fmt.Errorf("time endpoint %s returned %d", url, resp.StatusCode())
				continue
			}

			var body serverTimeResponse
			if err := json.Unmarshal(resp.Body(), &body); err != nil {
				lastErr = fmt.Errorf("decode server time: %w", err)
				continue
			}

			roundTrip := time.Since(start).Milliseconds()
			local := time.Now().UnixMilli()

			c.mu.Lock()
			c.offsetMS = body.ServerTime - local
			c.bufferMS = roundTrip + 500
			c.synced = true
			c.mu.Unlock()

			slog.Debug("server clock synced",
				"offset_ms", body.ServerTime-local, "buffer_ms", roundTrip+500)
			return nil
		}
	}

	// Keep serving local time rather than wedging callers.
	c.mu.Lock()
	c.offsetMS = 0
	c.synced = false
	c.mu.Unlock()

	slog.Error("server clock sync failed on all endpoints, using local time", "err", lastErr)
	return fmt.Errorf("server clock sync failed: %w", lastErr)
}

// Run refreshes the offset on a fixed interval until ctx is cancelled.
func (c *ServerClock) Run(ctx context.Context) {
	ticker := time.NewTicker(c.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Sync(ctx); err != nil {
				slog.Warn("periodic clock sync failed", "err", err)
			}
		}
	}
}
