package gateway

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy controls the Gateway's jittered exponential backoff. Its
// delay formula, min(max_delay, base_delay*2^(n-1)) + U(0,jitter), is
// ported exactly from the Python original's reliability.py RetryPolicy —
// note this differs from the teacher's own internal/backoff
// (BackoffPolicy computes min(max, base + base*jitter*rand()), a
// proportional rather than additive-uniform jitter term clamped
// together with the base). The Gateway needs spec-exact numbers, so it
// implements its own Delay here rather than the teacher's formula
// (which this module's internal/backoff no longer carries), while
// still reusing that package's
// context-cancellable sleep helper for the actual wait.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration
}

// DefaultRetryPolicy matches the Python original's defaults:
// max_attempts=3, base_delay_s=0.2, max_delay_s=2.0, jitter=0.1.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      100 * time.Millisecond,
	}
}

// Delay returns the wait before the given 1-indexed retry attempt.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	return p.delayWithRand(attempt, rand.Float64()) // #nosec G404 -- jitter does not need cryptographic randomness
}

func (p RetryPolicy) delayWithRand(attempt int, r float64) time.Duration {
	base := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	base = math.Min(base, float64(p.MaxDelay))
	jitter := float64(p.Jitter) * r
	return time.Duration(base + jitter)
}

// CircuitBreaker opens after consecutive failures reach a threshold,
// failing fast until reset_timeout has elapsed since it opened, at
// which point the next call is allowed through; a success closes the
// breaker and zeroes the failure count. Ported from the Python
// original's reliability.py CircuitBreaker, restated in Go mutex style
// matching the teacher's internal/agent/failover.go ProviderState.
type CircuitBreaker struct {
	mu              sync.Mutex
	failureThreshold int
	resetTimeout    time.Duration
	failures        int
	openedAt        time.Time
	open            bool
}

// NewCircuitBreaker constructs a breaker with the given threshold and
// reset timeout.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: failureThreshold, resetTimeout: resetTimeout}
}

// Allow reports whether a call may proceed: always true when closed;
// true exactly once reset_timeout has elapsed since opening (a
// half-open probe), false otherwise.
func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return true
	}
	return time.Since(c.openedAt) >= c.resetTimeout
}

// RecordSuccess closes the breaker and resets the failure count.
func (c *CircuitBreaker) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
	c.open = false
}

// RecordFailure increments the failure count, opening the breaker once
// the threshold is reached.
func (c *CircuitBreaker) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.failureThreshold {
		c.open = true
		c.openedAt = time.Now()
	}
}

// IsOpen reports the breaker's current state without side effects.
func (c *CircuitBreaker) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
