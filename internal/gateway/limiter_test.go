package gateway

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEndpointLimiter_MinimumSpacing(t *testing.T) {
	l := NewEndpointLimiter()
	l.RaiseDelay(ClassUpdate, 0) // keep default 500ms

	ctx := context.Background()

	if err := l.Wait(ctx, ClassUpdate); err != nil {
		t.Fatalf("first Wait: %v", err)
	}
	start := time.Now()
	if err := l.Wait(ctx, ClassUpdate); err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	elapsed := time.Since(start)

	// Two back-to-back update calls must be spaced by the class delay.
	if elapsed < 450*time.Millisecond {
		t.Errorf("second call dispatched after %s, want >= 500ms", elapsed)
	}
}

func TestEndpointLimiter_ConcurrentCallersSerialize(t *testing.T) {
	l := NewEndpointLimiter()
	ctx := context.Background()

	var mu sync.Mutex
	var times []time.Time

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Wait(ctx, ClassUpdate); err != nil {
				t.Errorf("Wait: %v", err)
				return
			}
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(times) != 3 {
		t.Fatalf("got %d dispatch times, want 3", len(times))
	}
	// Dispatch order between goroutines is not fixed, but every pair must
	// be spaced by at least the class delay.
	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			gap := times[j].Sub(times[i])
			if gap < 0 {
				gap = -gap
			}
			if gap < 450*time.Millisecond {
				t.Errorf("calls %d and %d spaced by %s, want >= 500ms", i, j, gap)
			}
		}
	}
}

func TestEndpointLimiter_RaiseDelayNeverLowers(t *testing.T) {
	l := NewEndpointLimiter()

	l.RaiseDelay(ClassSearch, 2*time.Second)
	if got := l.MinDelay(ClassSearch); got != 2*time.Second {
		t.Errorf("MinDelay = %s, want 2s", got)
	}

	l.RaiseDelay(ClassSearch, 1*time.Second)
	if got := l.MinDelay(ClassSearch); got != 2*time.Second {
		t.Errorf("MinDelay lowered to %s, want still 2s", got)
	}
}

func TestEndpointLimiter_WaitRespectsContext(t *testing.T) {
	l := NewEndpointLimiter()
	l.RaiseDelay(ClassUpdate, 5*time.Second)

	ctx := context.Background()
	if err := l.Wait(ctx, ClassUpdate); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := l.Wait(cancelled, ClassUpdate)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Error("Wait did not return promptly on cancellation")
	}
}
