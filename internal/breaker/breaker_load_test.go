package breaker

import (
	"sync"
	"testing"
	"time"
)

// TestBreakerHalfOpenSingleProbeUnderLoad exercises the embedder-path
// breaker under concurrent Allow() calls: once HalfOpen, exactly one
// goroutine should win the probe slot, even under a 100-way race.
func TestBreakerHalfOpenSingleProbeUnderLoad(t *testing.T) {
	cb := New("embedder", 20*time.Millisecond, 50*time.Millisecond, 0.5, 2)
	if cb.State() != Closed {
		t.Fatal("expected closed")
	}
	cb.Record(false)
	cb.Record(false)
	if cb.State() != Open {
		t.Fatal("expected open after 2 failures")
	}

	time.Sleep(60 * time.Millisecond)

	if got := concurrentAllows(cb, 100); got != 1 {
		t.Fatalf("expected exactly 1 allowed probe, got %d", got)
	}

	cb.Record(false)
	if cb.State() != Open {
		t.Fatalf("expected open after failed probe, got %v", cb.State())
	}

	time.Sleep(60 * time.Millisecond)
	if got := concurrentAllows(cb, 100); got != 1 {
		t.Fatalf("expected exactly 1 allowed probe in second cycle, got %d", got)
	}

	cb.Record(true)
	if cb.State() != Closed {
		t.Fatalf("expected closed after successful probe, got %v", cb.State())
	}
}

func concurrentAllows(cb *CircuitBreaker, n int) int {
	var wg sync.WaitGroup
	wg.Add(n)
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if cb.Allow() {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return allowed
}
