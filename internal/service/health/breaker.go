package health

import (
	"sync"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

// breaker isolates a failing dependency. Closed passes probes through, open
// skips them until the cooldown elapses, half-open admits one trial probe.
type breaker struct {
	mu          sync.Mutex
	dependency  string
	state       domain.BreakerState
	failures    []time.Time
	successes   int
	threshold   int
	window      time.Duration
	cooldown    time.Duration
	lastFailure time.Time
	retryAfter  time.Time
	now         func() time.Time
}

func newBreaker(dependency string, threshold int, window, cooldown time.Duration, now func() time.Time) *breaker {
	if threshold < 1 {
		threshold = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &breaker{
		dependency: dependency,
		state:      domain.BreakerClosed,
		threshold:  threshold,
		window:     window,
		cooldown:   cooldown,
		now:        now,
	}
}

// Allow reports whether a real probe may run. An open breaker whose cooldown
// has elapsed moves to half-open and admits exactly one trial.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case domain.BreakerOpen:
		if b.now().Before(b.retryAfter) {
			return false
		}
		b.state = domain.BreakerHalfOpen
		return true
	default:
		return true
	}
}

// Record feeds one probe outcome into the state machine.
func (b *breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if success {
		if b.state == domain.BreakerHalfOpen {
			// Trial probe succeeded, close with fresh counters.
			b.state = domain.BreakerClosed
			b.successes = 0
			b.failures = b.failures[:0]
			return
		}
		b.successes++
		b.failures = b.failures[:0]
		return
	}

	b.lastFailure = now
	if b.state == domain.BreakerHalfOpen {
		b.trip(now)
		return
	}
	b.failures = append(b.failures, now)
	b.pruneLocked(now)
	if len(b.failures) >= b.threshold {
		b.trip(now)
	}
}

// trip opens the breaker. Must be called under lock.
func (b *breaker) trip(now time.Time) {
	b.state = domain.BreakerOpen
	b.retryAfter = now.Add(b.cooldown)
	b.failures = b.failures[:0]
	b.successes = 0
}

// pruneLocked drops failures that slid out of the window.
func (b *breaker) pruneLocked(now time.Time) {
	cutoff := now.Add(-b.window)
	kept := b.failures[:0]
	for _, at := range b.failures {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}
	b.failures = kept
}

// Snapshot returns a read-only copy of the breaker state.
func (b *breaker) Snapshot() domain.BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return domain.BreakerSnapshot{
		Dependency:  b.dependency,
		State:       b.state,
		Failures:    len(b.failures),
		Successes:   b.successes,
		LastFailure: b.lastFailure,
		RetryAfter:  b.retryAfter,
	}
}
