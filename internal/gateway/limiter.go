package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EndpointClass identifies a rate-limit class of outbound calls. Update
// endpoints mutate venue state and get throttled harder than reads.
type EndpointClass string

const (
	ClassUpdate   EndpointClass = "update"
	ClassSearch   EndpointClass = "search"
	ClassDetail   EndpointClass = "detail"
	ClassSnapshot EndpointClass = "snapshot"
)

type limiterEntry struct {
	lastCall time.Time
	minDelay time.Duration
}

// EndpointLimiter enforces a minimum inter-request delay per endpoint class.
// One instance is shared by every Gateway in the process so concurrent
// listing groups serialize correctly against the same endpoint. The delay is
// mutable: 429 responses raise it for all subsequent calls.
type EndpointLimiter struct {
	mu      sync.Mutex
	entries map[EndpointClass]*limiterEntry
}

// NewEndpointLimiter creates a limiter with the default per-class delays.
func NewEndpointLimiter() *EndpointLimiter {
	return &EndpointLimiter{
		entries: map[EndpointClass]*limiterEntry{
			ClassUpdate:   {minDelay: 500 * time.Millisecond},
			ClassSearch:   {minDelay: 50 * time.Millisecond},
			ClassDetail:   {minDelay: 200 * time.Millisecond},
			ClassSnapshot: {minDelay: 200 * time.Millisecond},
		},
	}
}

// Wait blocks until the class's minimum delay since its last call has
// elapsed, then records the call time. The lock is held across the sleep so
// concurrent callers serialize instead of all waking at once.
func (l *EndpointLimiter) Wait(ctx context.Context, class EndpointClass) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[class]
	if !ok {
		entry = &limiterEntry{}
		l.entries[class] = entry
	}

	if remaining := entry.minDelay - time.Since(entry.lastCall); remaining > 0 {
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	entry.lastCall = time.Now()
	return nil
}

// RaiseDelay increases the class's minimum delay. It never lowers it.
func (l *EndpointLimiter) RaiseDelay(class EndpointClass, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[class]
	if !ok {
		entry = &limiterEntry{}
		l.entries[class] = entry
	}

	if d > entry.minDelay {
		slog.Warn("raising endpoint min delay",
			"class", string(class), "from", entry.minDelay, "to", d)
		entry.minDelay = d
	}
}

// MinDelay returns the class's current minimum delay.
func (l *EndpointLimiter) MinDelay(class EndpointClass) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.entries[class]; ok {
		return entry.minDelay
	}
	return 0
}
