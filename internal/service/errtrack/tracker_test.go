package errtrack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
)

func newTestTracker() *Tracker {
	return New(nil, nil, nil, 7*24*time.Hour, 100, time.Minute)
}

func TestTrackDeduplicatesByFingerprint(t *testing.T) {
	tracker := newTestTracker()
	stack := "handler()\n\t/srv/app/content.go:31\n"

	var id string
	for i := 0; i < 5; i++ {
		id = tracker.Track(Input{Type: "DBError", Message: "query failed", Stack: stack})
	}

	record, ok := tracker.Get(id)
	if !ok {
		t.Fatal("expected record to exist")
	}
	if record.Occurrences != 5 {
		t.Fatalf("expected 5 occurrences, got %d", record.Occurrences)
	}
	if len(tracker.Query(Filter{})) != 1 {
		t.Fatal("expected a single deduplicated record")
	}
}

func TestTrackMergesContextLastWriteWins(t *testing.T) {
	tracker := newTestTracker()
	id := tracker.Track(Input{
		Type:    "E",
		Message: "boom",
		Context: domain.ErrorContext{Endpoint: "/v1/items", UserID: "u1"},
	})
	tracker.Track(Input{
		Type:    "E",
		Message: "boom",
		Context: domain.ErrorContext{UserID: "u2", Environment: "prod"},
	})

	record, _ := tracker.Get(id)
	if record.Context.UserID != "u2" {
		t.Fatalf("expected last writer to win for user, got %q", record.Context.UserID)
	}
	if record.Context.Endpoint != "/v1/items" {
		t.Fatalf("expected endpoint preserved, got %q", record.Context.Endpoint)
	}
	if record.Context.Environment != "prod" {
		t.Fatalf("expected environment merged, got %q", record.Context.Environment)
	}
}

func TestTrackEmitsSignal(t *testing.T) {
	signals := bus.New(nil, 4)
	defer signals.Close()
	sub := signals.Subscribe(domain.SignalErrorTracked)

	tracker := New(signals, nil, nil, 0, 0, 0)
	id := tracker.Track(Input{Type: "NetError", Message: "dial tcp: connection refused"})

	select {
	case sig := <-sub.C:
		if sig.ErrorID != id {
			t.Fatalf("expected signal for %s, got %s", id, sig.ErrorID)
		}
		if sig.Severity != domain.SeverityCritical {
			t.Fatalf("expected critical severity for connection refused, got %s", sig.Severity)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected error-tracked signal")
	}
}

func TestResolveIsIdempotentAndReversible(t *testing.T) {
	tracker := newTestTracker()
	id := tracker.Track(Input{Type: "E", Message: "boom"})

	if !tracker.Resolve(id, "alice") {
		t.Fatal("resolve should succeed")
	}
	record, _ := tracker.Get(id)
	firstResolvedAt := record.ResolvedAt

	if !tracker.Resolve(id, "bob") {
		t.Fatal("second resolve should still report success")
	}
	record, _ = tracker.Get(id)
	if record.ResolvedBy != "alice" {
		t.Fatalf("second resolve must not overwrite resolver, got %q", record.ResolvedBy)
	}
	if !record.ResolvedAt.Equal(*firstResolvedAt) {
		t.Fatal("second resolve must not change the timestamp")
	}

	if !tracker.Unresolve(id) {
		t.Fatal("unresolve should succeed")
	}
	record, _ = tracker.Get(id)
	if record.Resolved || record.ResolvedAt != nil {
		t.Fatal("expected record reopened")
	}

	if tracker.Resolve("missing", "x") {
		t.Fatal("resolving unknown id should fail")
	}
}

func TestSweepRetentionAndCap(t *testing.T) {
	now := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	tracker := New(nil, nil, nil, 24*time.Hour, 2, time.Minute)
	tracker.now = func() time.Time { return now }

	tracker.Track(Input{Type: "Old", Message: "ancient failure"})
	old, _ := tracker.Get(tracker.Track(Input{Type: "Old", Message: "ancient failure"}))

	now = now.Add(25 * time.Hour)
	idA := tracker.Track(Input{Type: "A", Message: "first"})
	now = now.Add(time.Minute)
	idB := tracker.Track(Input{Type: "B", Message: "second"})
	now = now.Add(time.Minute)
	idC := tracker.Track(Input{Type: "C", Message: "third"})

	removed := tracker.sweep(now)
	if removed != 2 {
		t.Fatalf("expected 2 removals (1 aged, 1 cap evict), got %d", removed)
	}
	if _, ok := tracker.Get(old.Fingerprint); ok {
		t.Fatal("aged record should be swept")
	}
	if _, ok := tracker.Get(idA); ok {
		t.Fatal("oldest record should be evicted by the cap")
	}
	for _, id := range []string{idB, idC} {
		if _, ok := tracker.Get(id); !ok {
			t.Fatalf("expected record %s retained", id)
		}
	}
}

func TestTrackConcurrentSameFingerprint(t *testing.T) {
	tracker := newTestTracker()
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				tracker.Track(Input{Type: "Hot", Message: "same logical failure"})
			}
		}()
	}
	wg.Wait()

	id := tracker.Track(Input{Type: "Hot", Message: "same logical failure"})
	record, _ := tracker.Get(id)
	if record.Occurrences != workers*perWorker+1 {
		t.Fatalf("lost increments: expected %d, got %d", workers*perWorker+1, record.Occurrences)
	}
}

func TestArchiveOnResolve(t *testing.T) {
	archive := &stubArchive{}
	tracker := New(nil, archive, nil, 0, 0, 0)
	id := tracker.Track(Input{Type: "E", Message: "boom"})
	tracker.Resolve(id, "ops")

	if len(archive.errors) != 1 {
		t.Fatalf("expected 1 archived snapshot, got %d", len(archive.errors))
	}
	if archive.errors[0].Fingerprint != id {
		t.Fatalf("archived wrong record: %s", archive.errors[0].Fingerprint)
	}
}

type stubArchive struct {
	mu     sync.Mutex
	errors []domain.TrackedError
	alerts []domain.Alert
}

func (s *stubArchive) ArchiveError(_ context.Context, record domain.TrackedError) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, record)
	return nil
}

func (s *stubArchive) ArchiveAlert(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, alert)
	return nil
}

func (s *stubArchive) ListArchivedAlerts(context.Context, int) ([]domain.Alert, error) {
	return nil, nil
}
