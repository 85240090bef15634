package metrics

import (
	"testing"
	"time"
)

func newTestAggregator(now time.Time) *Aggregator {
	a := NewAggregator(nil, 5, 24*time.Hour, time.Minute)
	a.now = func() time.Time { return now }
	return a
}

func TestAggregatePercentilesIndexCeilRule(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	a := newTestAggregator(now)
	for _, v := range []float64{100, 200, 300, 400, 500} {
		a.Record("api.latency", v, false, now.Add(-time.Minute))
	}

	agg := a.Aggregate("api.latency", time.Hour)
	if agg.Count != 5 {
		t.Fatalf("expected 5 samples, got %d", agg.Count)
	}
	if agg.P50 != 300 {
		t.Fatalf("expected p50 300, got %v", agg.P50)
	}
	if agg.P95 != 500 {
		t.Fatalf("expected p95 500, got %v", agg.P95)
	}
	if agg.P99 != 500 {
		t.Fatalf("expected p99 500, got %v", agg.P99)
	}
	if agg.Mean != 300 {
		t.Fatalf("expected mean 300, got %v", agg.Mean)
	}
	if agg.Min != 100 || agg.Max != 500 {
		t.Fatalf("unexpected min/max %v/%v", agg.Min, agg.Max)
	}
}

func TestAggregateEmptyReturnsZeroes(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	a := newTestAggregator(now)

	agg := a.Aggregate("missing", time.Hour)
	if agg.Count != 0 || agg.Mean != 0 || agg.P99 != 0 || agg.ErrorRate != 0 {
		t.Fatalf("expected all-zero aggregate, got %+v", agg)
	}
}

func TestAggregateWindowFiltering(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	a := newTestAggregator(now)
	a.Record("q", 10, false, now.Add(-2*time.Hour))
	a.Record("q", 20, true, now.Add(-10*time.Minute))
	a.Record("q", 30, false, now.Add(-5*time.Minute))

	agg := a.Aggregate("q", time.Hour)
	if agg.Count != 2 {
		t.Fatalf("expected 2 samples inside window, got %d", agg.Count)
	}
	if agg.ErrorRate != 50 {
		t.Fatalf("expected 50%% error rate, got %v", agg.ErrorRate)
	}
	if agg.PerMinute != 2.0/60.0 {
		t.Fatalf("unexpected throughput %v", agg.PerMinute)
	}
}

func TestRecordEnforcesBufferCap(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	a := newTestAggregator(now)
	for i := 0; i < 8; i++ {
		a.Record("k", float64(i), false, now.Add(-time.Duration(8-i)*time.Second))
	}
	agg := a.Aggregate("k", time.Hour)
	if agg.Count != 5 {
		t.Fatalf("expected buffer capped at 5, got %d", agg.Count)
	}
	if agg.Min != 3 {
		t.Fatalf("expected oldest samples evicted, min %v", agg.Min)
	}
}

func TestCleanupDropsAgedSamples(t *testing.T) {
	now := time.Date(2026, time.March, 2, 10, 0, 0, 0, time.UTC)
	a := newTestAggregator(now)
	a.Record("old", 1, false, now.Add(-25*time.Hour))
	a.Record("mixed", 1, false, now.Add(-25*time.Hour))
	a.Record("mixed", 2, false, now.Add(-time.Minute))

	removed := a.cleanup(now)
	if removed != 2 {
		t.Fatalf("expected 2 removed samples, got %d", removed)
	}
	if keys := a.Keys(); len(keys) != 1 || keys[0] != "mixed" {
		t.Fatalf("expected only mixed key to survive, got %v", keys)
	}
}

func TestPercentileSingleSample(t *testing.T) {
	if got := percentile([]float64{42}, 99); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Fatalf("expected 0 for empty input, got %v", got)
	}
}
