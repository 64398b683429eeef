// Copyright 2025 James Ross
package breaker

import (
    "sync"
    "time"

    "github.com/civicpipeline/grievance-pipeline/internal/obs"
)

// State is one of Closed, HalfOpen, or Open, in that increasing order of
// caution. It doubles as the value published to the
// pipeline_circuit_breaker_state gauge.
type State int

const (
    Closed State = iota
    HalfOpen
    Open
)

type result struct {
    t  time.Time
    ok bool
}

// CircuitBreaker guards one outbound AI-service HTTP client (the text
// analyzer, the embedder) with a sliding failure-rate window and a cooldown
// before it lets traffic back in. name labels this breaker's state on the
// circuit-breaker gauge so a dashboard can tell the analyzer and embedder
// breakers apart.
type CircuitBreaker struct {
    mu               sync.Mutex
    name             string
    state            State
    window           time.Duration
    cooldown         time.Duration
    failureThresh    float64
    minSamples       int
    lastTransition   time.Time
    results          []result
    halfOpenInFlight bool
}

func New(name string, window, cooldown time.Duration, failureThresh float64, minSamples int) *CircuitBreaker {
    cb := &CircuitBreaker{
        name: name, state: Closed, window: window, cooldown: cooldown,
        failureThresh: failureThresh, minSamples: minSamples, lastTransition: time.Now(),
    }
    obs.CircuitBreakerState.WithLabelValues(name).Set(float64(Closed))
    return cb
}

func (cb *CircuitBreaker) State() State {
    cb.mu.Lock()
    defer cb.mu.Unlock()
    return cb.state
}

// Allow reports whether a call may proceed: always when Closed, never when
// Open until the cooldown elapses, and exactly once per cooldown window
// when HalfOpen, so a single probe decides whether the breaker recloses.
func (cb *CircuitBreaker) Allow() bool {
    cb.mu.Lock()
    defer cb.mu.Unlock()
    switch cb.state {
    case Open:
        if time.Since(cb.lastTransition) >= cb.cooldown {
            cb.transitionLocked(HalfOpen)
            cb.halfOpenInFlight = true
            return true
        }
        return false
    case HalfOpen:
        if cb.halfOpenInFlight {
            return false
        }
        cb.halfOpenInFlight = true
        return true
    default:
        return true
    }
}

// Record feeds the outcome of one call into the sliding window and
// re-evaluates the breaker's state.
func (cb *CircuitBreaker) Record(ok bool) {
    cb.mu.Lock()
    defer cb.mu.Unlock()
    now := time.Now()
    cutoff := now.Add(-cb.window)
    filtered := cb.results[:0]
    for _, r := range cb.results {
        if r.t.After(cutoff) {
            filtered = append(filtered, r)
        }
    }
    cb.results = append(filtered, result{t: now, ok: ok})

    total := len(cb.results)
    if total < cb.minSamples {
        if cb.state == HalfOpen {
            if ok {
                cb.transitionLocked(Closed)
            } else {
                cb.transitionLocked(Open)
            }
        }
        return
    }

    fails := 0
    for _, r := range cb.results {
        if !r.ok {
            fails++
        }
    }
    rate := float64(fails) / float64(total)
    switch cb.state {
    case Closed:
        if rate >= cb.failureThresh {
            cb.transitionLocked(Open)
        }
    case HalfOpen:
        if ok {
            cb.transitionLocked(Closed)
        } else {
            cb.transitionLocked(Open)
        }
        cb.halfOpenInFlight = false
    case Open:
        // Allow() owns the Open -> HalfOpen transition once cooldown elapses.
    }
}

func (cb *CircuitBreaker) transitionLocked(to State) {
    cb.state = to
    cb.lastTransition = time.Now()
    obs.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(to))
}
