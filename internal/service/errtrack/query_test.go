package errtrack

import (
	"testing"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

func seedTracker(t *testing.T) (*Tracker, func(time.Duration)) {
	t.Helper()
	now := time.Date(2026, time.April, 10, 12, 0, 0, 0, time.UTC)
	tracker := newTestTracker()
	tracker.now = func() time.Time { return now }
	advance := func(d time.Duration) { now = now.Add(d) }

	tracker.Track(Input{
		Type:    "DBError",
		Message: "pgx: connection refused",
		Context: domain.ErrorContext{Endpoint: "/v1/content", UserID: "u1"},
		Tags:    []string{"ingest"},
	})
	advance(time.Minute)
	tracker.Track(Input{
		Type:    "ValidationError",
		Message: "validation failed: missing title",
		Context: domain.ErrorContext{Endpoint: "/v1/content", UserID: "u2"},
	})
	advance(time.Minute)
	tracker.Track(Input{
		Type:    "TimeoutError",
		Message: "upstream timed out",
		Context: domain.ErrorContext{Endpoint: "/v1/publish", UserID: "u1"},
	})
	return tracker, advance
}

func TestQueryNewestFirst(t *testing.T) {
	tracker, _ := seedTracker(t)
	records := tracker.Query(Filter{})
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].Type != "TimeoutError" || records[2].Type != "DBError" {
		t.Fatalf("expected newest-first ordering, got %s..%s", records[0].Type, records[2].Type)
	}
}

func TestQueryFilters(t *testing.T) {
	tracker, _ := seedTracker(t)

	bySeverity := tracker.Query(Filter{Severities: []domain.Severity{domain.SeverityCritical}})
	if len(bySeverity) != 1 || bySeverity[0].Type != "DBError" {
		t.Fatalf("severity filter failed: %+v", bySeverity)
	}

	byCategory := tracker.Query(Filter{Categories: []domain.ErrorCategory{domain.CategoryValidation}})
	if len(byCategory) != 1 || byCategory[0].Type != "ValidationError" {
		t.Fatalf("category filter failed: %+v", byCategory)
	}

	byUser := tracker.Query(Filter{UserID: "u1"})
	if len(byUser) != 2 {
		t.Fatalf("expected 2 records for u1, got %d", len(byUser))
	}

	byEndpoint := tracker.Query(Filter{Endpoint: "/v1/publish"})
	if len(byEndpoint) != 1 {
		t.Fatalf("expected 1 record for endpoint, got %d", len(byEndpoint))
	}

	bySearch := tracker.Query(Filter{Search: "TITLE"})
	if len(bySearch) != 1 || bySearch[0].Type != "ValidationError" {
		t.Fatalf("free-text search failed: %+v", bySearch)
	}

	byTag := tracker.Query(Filter{Search: "ingest"})
	if len(byTag) != 1 || byTag[0].Type != "DBError" {
		t.Fatalf("tag search failed: %+v", byTag)
	}

	resolved := true
	if got := tracker.Query(Filter{Resolved: &resolved}); len(got) != 0 {
		t.Fatalf("expected no resolved records, got %d", len(got))
	}
}

func TestQueryPagination(t *testing.T) {
	tracker, _ := seedTracker(t)
	page := tracker.Query(Filter{Limit: 2})
	if len(page) != 2 {
		t.Fatalf("expected page of 2, got %d", len(page))
	}
	rest := tracker.Query(Filter{Limit: 2, Offset: 2})
	if len(rest) != 1 {
		t.Fatalf("expected 1 remaining record, got %d", len(rest))
	}
	if got := tracker.Query(Filter{Offset: 10}); got != nil {
		t.Fatalf("expected nil past the end, got %v", got)
	}
}

func TestStats(t *testing.T) {
	tracker, advance := seedTracker(t)
	tracker.Track(Input{Type: "TimeoutError", Message: "upstream timed out"})
	advance(30 * time.Minute)

	stats := tracker.Stats()
	if stats.TotalOccurrences != 4 {
		t.Fatalf("expected 4 total occurrences, got %d", stats.TotalOccurrences)
	}
	if stats.UniqueErrors != 3 {
		t.Fatalf("expected 3 unique errors, got %d", stats.UniqueErrors)
	}
	if stats.LastHourRate != 4 {
		t.Fatalf("expected all occurrences inside the last hour, got %d", stats.LastHourRate)
	}
	if stats.Top[0].Type != "TimeoutError" || stats.Top[0].Occurrences != 2 {
		t.Fatalf("expected TimeoutError on top, got %+v", stats.Top[0])
	}
	if stats.BySeverity[domain.SeverityHigh] != 2 {
		t.Fatalf("expected 2 high-severity occurrences, got %d", stats.BySeverity[domain.SeverityHigh])
	}
	if len(stats.Hourly) != 24 || len(stats.Daily) != 7 {
		t.Fatalf("expected 24 hourly and 7 daily buckets, got %d/%d", len(stats.Hourly), len(stats.Daily))
	}
	var hourTotal int64
	for _, bucket := range stats.Hourly {
		hourTotal += bucket.Count
	}
	if hourTotal != 4 {
		t.Fatalf("expected trend buckets to account for 4 occurrences, got %d", hourTotal)
	}
}
