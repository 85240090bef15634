package health

import (
	"testing"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	br := newBreaker("database", 5, 5*time.Minute, time.Minute, func() time.Time { return now })

	for i := 0; i < 4; i++ {
		if !br.Allow() {
			t.Fatalf("closed breaker must allow probe %d", i)
		}
		br.Record(false)
		now = now.Add(10 * time.Second)
	}
	if br.Snapshot().State != domain.BreakerClosed {
		t.Fatal("breaker should stay closed below the threshold")
	}

	br.Allow()
	br.Record(false)
	if br.Snapshot().State != domain.BreakerOpen {
		t.Fatal("fifth failure should open the breaker")
	}
	if br.Allow() {
		t.Fatal("open breaker must block probes before the cooldown")
	}
}

func TestBreakerHalfOpenTrialSuccessCloses(t *testing.T) {
	now := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	br := newBreaker("cache", 2, 5*time.Minute, time.Minute, func() time.Time { return now })

	br.Record(false)
	br.Record(false)
	if br.Snapshot().State != domain.BreakerOpen {
		t.Fatal("expected open state")
	}

	now = now.Add(61 * time.Second)
	if !br.Allow() {
		t.Fatal("cooldown elapsed, one trial probe must be admitted")
	}
	if br.Snapshot().State != domain.BreakerHalfOpen {
		t.Fatal("expected half-open state during trial")
	}

	br.Record(true)
	snap := br.Snapshot()
	if snap.State != domain.BreakerClosed {
		t.Fatal("trial success should close the breaker")
	}
	if snap.Failures != 0 {
		t.Fatalf("failure count should reset to 0, got %d", snap.Failures)
	}
	if snap.Successes != 0 {
		t.Fatalf("success count should reset to 0, got %d", snap.Successes)
	}
}

func TestBreakerHalfOpenTrialFailureReopens(t *testing.T) {
	now := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	br := newBreaker("api", 1, 5*time.Minute, time.Minute, func() time.Time { return now })

	br.Record(false)
	now = now.Add(61 * time.Second)
	if !br.Allow() {
		t.Fatal("expected trial probe after cooldown")
	}
	br.Record(false)

	snap := br.Snapshot()
	if snap.State != domain.BreakerOpen {
		t.Fatal("trial failure should reopen the breaker")
	}
	if !snap.RetryAfter.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected cooldown restarted, retry after %v", snap.RetryAfter)
	}
	if br.Allow() {
		t.Fatal("reopened breaker must block until the next cooldown")
	}
}

func TestBreakerWindowSlidesOldFailuresOut(t *testing.T) {
	now := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	br := newBreaker("search", 3, time.Minute, time.Minute, func() time.Time { return now })

	br.Record(false)
	br.Record(false)
	now = now.Add(2 * time.Minute)
	br.Record(false)

	snap := br.Snapshot()
	if snap.State != domain.BreakerClosed {
		t.Fatal("failures outside the window must not open the breaker")
	}
	if snap.Failures != 1 {
		t.Fatalf("expected a single windowed failure, got %d", snap.Failures)
	}
}

func TestBreakerSuccessResetsFailureRun(t *testing.T) {
	now := time.Date(2026, time.May, 1, 8, 0, 0, 0, time.UTC)
	br := newBreaker("queue", 3, 5*time.Minute, time.Minute, func() time.Time { return now })

	br.Record(false)
	br.Record(false)
	br.Record(true)
	br.Record(false)
	br.Record(false)
	if br.Snapshot().State != domain.BreakerClosed {
		t.Fatal("a success must break the failure run")
	}
}
