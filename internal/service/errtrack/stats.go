package errtrack

import (
	"sort"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

// TopError summarises one frequent failure for dashboards.
type TopError struct {
	Fingerprint string
	Type        string
	Message     string
	Severity    domain.Severity
	Occurrences int64
}

// TrendBucket counts occurrences whose last-seen falls inside one interval.
type TrendBucket struct {
	Start time.Time
	Count int64
}

// Stats is the aggregate view over all tracked records.
type Stats struct {
	TotalOccurrences int64
	UniqueErrors     int
	LastHourRate     int64
	Unresolved       int
	ByCategory       map[domain.ErrorCategory]int64
	BySeverity       map[domain.Severity]int64
	Top              []TopError
	Hourly           []TrendBucket
	Daily            []TrendBucket
}

const topErrorCount = 10

// Stats computes totals, breakdowns and trend buckets from the live records.
// Trends bucket existing records by elapsed time; no separate series is kept.
func (t *Tracker) Stats() Stats {
	now := t.now().UTC()
	stats := Stats{
		ByCategory: make(map[domain.ErrorCategory]int64),
		BySeverity: make(map[domain.Severity]int64),
		Hourly:     emptyBuckets(now.Truncate(time.Hour), time.Hour, 24),
		Daily:      emptyBuckets(now.Truncate(24*time.Hour), 24*time.Hour, 7),
	}
	hourAgo := now.Add(-time.Hour)

	t.mu.RLock()
	top := make([]TopError, 0, len(t.records))
	for _, record := range t.records {
		stats.TotalOccurrences += record.Occurrences
		stats.UniqueErrors++
		stats.ByCategory[record.Category] += record.Occurrences
		stats.BySeverity[record.Severity] += record.Occurrences
		if !record.Resolved {
			stats.Unresolved++
		}
		if record.LastSeen.After(hourAgo) {
			stats.LastHourRate += record.Occurrences
		}
		fillBucket(stats.Hourly, record.LastSeen, record.Occurrences, time.Hour)
		fillBucket(stats.Daily, record.LastSeen, record.Occurrences, 24*time.Hour)
		top = append(top, TopError{
			Fingerprint: record.Fingerprint,
			Type:        record.Type,
			Message:     record.Message,
			Severity:    record.Severity,
			Occurrences: record.Occurrences,
		})
	}
	t.mu.RUnlock()

	sort.Slice(top, func(i, j int) bool { return top[i].Occurrences > top[j].Occurrences })
	if len(top) > topErrorCount {
		top = top[:topErrorCount]
	}
	stats.Top = top
	return stats
}

func emptyBuckets(latest time.Time, span time.Duration, count int) []TrendBucket {
	buckets := make([]TrendBucket, count)
	for i := range buckets {
		buckets[i].Start = latest.Add(-time.Duration(count-1-i) * span)
	}
	return buckets
}

func fillBucket(buckets []TrendBucket, seen time.Time, occurrences int64, span time.Duration) {
	start := seen.Truncate(span)
	for i := range buckets {
		if buckets[i].Start.Equal(start) {
			buckets[i].Count += occurrences
			return
		}
	}
}
