// Package metrics maintains bounded per-key sample buffers and derives
// windowed aggregates (mean, percentiles, error rate, throughput) on read.
package metrics

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

const (
	defaultBufferSize      = 1000
	defaultMaxWindow       = 24 * time.Hour
	defaultCleanupInterval = 5 * time.Minute
)

// Aggregator ingests timestamped samples keyed by operation or endpoint.
type Aggregator struct {
	mu              sync.RWMutex
	samples         map[string][]domain.MetricSample
	bufferSize      int
	maxWindow       time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger
	now             func() time.Time
	once            sync.Once
}

// NewAggregator constructs an Aggregator with sane defaults.
func NewAggregator(logger *slog.Logger, bufferSize int, maxWindow, cleanupInterval time.Duration) *Aggregator {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if maxWindow <= 0 {
		maxWindow = defaultMaxWindow
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	if logger != nil {
		logger = logger.With("component", "metrics_aggregator")
	}
	return &Aggregator{
		samples:         make(map[string][]domain.MetricSample),
		bufferSize:      bufferSize,
		maxWindow:       maxWindow,
		cleanupInterval: cleanupInterval,
		logger:          logger,
		now:             time.Now,
	}
}

// Record appends a sample to the key's buffer, evicting the oldest entry
// once the buffer is full. A zero timestamp defaults to now.
func (a *Aggregator) Record(key string, value float64, failed bool, ts time.Time) {
	if key == "" {
		return
	}
	if ts.IsZero() {
		ts = a.now().UTC()
	}
	sample := domain.MetricSample{Key: key, Value: value, Failed: failed, RecordedAt: ts.UTC()}

	a.mu.Lock()
	defer a.mu.Unlock()
	buf := a.samples[key]
	if len(buf) >= a.bufferSize {
		buf = buf[1:]
	}
	a.samples[key] = append(buf, sample)
}

// Aggregate computes statistics over samples recorded within [now-window, now].
// An empty window returns an all-zero aggregate rather than an error.
func (a *Aggregator) Aggregate(key string, window time.Duration) domain.MetricAggregate {
	if window <= 0 || window > a.maxWindow {
		window = a.maxWindow
	}
	now := a.now().UTC()
	cutoff := now.Add(-window)

	a.mu.RLock()
	buf := a.samples[key]
	values := make([]float64, 0, len(buf))
	failed := 0
	oldest := time.Time{}
	for _, sample := range buf {
		if sample.RecordedAt.Before(cutoff) {
			continue
		}
		values = append(values, sample.Value)
		if sample.Failed {
			failed++
		}
		if oldest.IsZero() || sample.RecordedAt.Before(oldest) {
			oldest = sample.RecordedAt
		}
	}
	a.mu.RUnlock()

	agg := domain.MetricAggregate{Key: key, Window: window, ComputedAt: now, OldestInScope: oldest}
	if len(values) == 0 {
		return agg
	}

	sort.Float64s(values)
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	agg.Count = len(values)
	agg.Mean = sum / float64(len(values))
	agg.Min = values[0]
	agg.Max = values[len(values)-1]
	agg.P50 = percentile(values, 50)
	agg.P95 = percentile(values, 95)
	agg.P99 = percentile(values, 99)
	agg.ErrorRate = float64(failed) / float64(len(values)) * 100
	if minutes := window.Minutes(); minutes > 0 {
		agg.PerMinute = float64(len(values)) / minutes
	}
	return agg
}

// Keys lists every key currently holding samples.
func (a *Aggregator) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	keys := make([]string, 0, len(a.samples))
	for key := range a.samples {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Run drives the periodic cleanup until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.once.Do(func() {
		if a.logger != nil {
			a.logger.Info("metrics aggregator started", "buffer_size", a.bufferSize, "max_window", a.maxWindow)
		}
	})
	ticker := time.NewTicker(a.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if a.logger != nil {
				a.logger.Info("metrics aggregator stopped")
			}
			return
		case <-ticker.C:
			removed := a.cleanup(a.now().UTC())
			if removed > 0 && a.logger != nil {
				a.logger.Debug("discarded aged samples", "count", removed)
			}
		}
	}
}

// cleanup drops samples older than the longest supported window.
func (a *Aggregator) cleanup(now time.Time) int {
	cutoff := now.Add(-a.maxWindow)
	removed := 0

	a.mu.Lock()
	defer a.mu.Unlock()
	for key, buf := range a.samples {
		kept := buf[:0]
		for _, sample := range buf {
			if sample.RecordedAt.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, sample)
		}
		if len(kept) == 0 {
			delete(a.samples, key)
			continue
		}
		a.samples[key] = kept
	}
	return removed
}

// percentile applies the index-ceil rule over ascending values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
