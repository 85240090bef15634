// Package errtrack records failures, deduplicates them by fingerprint and
// keeps a bounded rolling history with severity and category classification.
package errtrack

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
	"github.com/scribehq/scribe/core/internal/fingerprint"
	"github.com/scribehq/scribe/core/internal/repository"
)

const (
	defaultRetention     = 7 * 24 * time.Hour
	defaultMaxRecords    = 10000
	defaultSweepInterval = 10 * time.Minute
	archiveTimeout       = 3 * time.Second
)

// Input describes one raw failure reported to the tracker.
type Input struct {
	Type    string
	Message string
	Stack   string
	Tags    []string
	Context domain.ErrorContext
}

// Tracker deduplicates failures by fingerprint and owns their lifecycle.
type Tracker struct {
	mu            sync.RWMutex
	records       map[string]*domain.TrackedError
	retention     time.Duration
	maxRecords    int
	sweepInterval time.Duration
	signals       *bus.Bus
	archive       repository.Archive
	logger        *slog.Logger
	now           func() time.Time
	once          sync.Once
}

// New constructs a Tracker. The archive may be nil; signals may be nil.
func New(signals *bus.Bus, archive repository.Archive, logger *slog.Logger, retention time.Duration, maxRecords int, sweepInterval time.Duration) *Tracker {
	if retention <= 0 {
		retention = defaultRetention
	}
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecords
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	if logger != nil {
		logger = logger.With("component", "error_tracker")
	}
	return &Tracker{
		records:       make(map[string]*domain.TrackedError),
		retention:     retention,
		maxRecords:    maxRecords,
		sweepInterval: sweepInterval,
		signals:       signals,
		archive:       archive,
		logger:        logger,
		now:           time.Now,
	}
}

// Track records a failure and returns its fingerprint ID. It never fails:
// classification problems degrade to unknown/low and the event is still
// recorded and logged.
func (t *Tracker) Track(input Input) string {
	if input.Type == "" {
		input.Type = "Error"
	}
	id := fingerprint.ForError(input.Type, input.Message, input.Stack)
	now := t.now().UTC()

	t.mu.Lock()
	record, exists := t.records[id]
	if exists {
		record.Occurrences++
		record.LastSeen = now
		mergeContext(&record.Context, input.Context)
		record.Tags = mergeTags(record.Tags, input.Tags)
	} else {
		record = &domain.TrackedError{
			Fingerprint:   id,
			Type:          input.Type,
			Message:       input.Message,
			StackLocation: fingerprint.TopFrame(input.Stack),
			Category:      classifyCategory(input.Type, input.Message, input.Stack, input.Context.Endpoint),
			Severity:      classifySeverity(input.Type, input.Message),
			Occurrences:   1,
			FirstSeen:     now,
			LastSeen:      now,
			Tags:          append([]string(nil), input.Tags...),
			Context:       input.Context,
		}
		t.records[id] = record
	}
	severity := record.Severity
	category := record.Category
	occurrences := record.Occurrences
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("error tracked",
			"fingerprint", id,
			"type", input.Type,
			"severity", severity,
			"occurrences", occurrences,
			"endpoint", input.Context.Endpoint,
		)
	}
	if t.signals != nil {
		t.signals.Publish(domain.Signal{
			Kind:       domain.SignalErrorTracked,
			ErrorID:    id,
			Severity:   severity,
			Message:    input.Message,
			Category:   string(category),
			OccurredAt: now,
		})
	}
	return id
}

// Get returns a copy of one record by fingerprint.
func (t *Tracker) Get(id string) (domain.TrackedError, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	record, ok := t.records[id]
	if !ok {
		return domain.TrackedError{}, false
	}
	return copyRecord(record), true
}

// Resolve marks a record resolved. Resolving an already resolved record is a
// no-op. The snapshot is archived best-effort.
func (t *Tracker) Resolve(id, by string) bool {
	now := t.now().UTC()

	t.mu.Lock()
	record, ok := t.records[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if !record.Resolved {
		record.Resolved = true
		record.ResolvedBy = by
		record.ResolvedAt = &now
	}
	snapshot := copyRecord(record)
	t.mu.Unlock()

	if t.logger != nil {
		t.logger.Info("error resolved", "fingerprint", id, "by", by)
	}
	t.archiveRecord(snapshot)
	return true
}

// Unresolve reopens a resolved record.
func (t *Tracker) Unresolve(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, ok := t.records[id]
	if !ok {
		return false
	}
	record.Resolved = false
	record.ResolvedBy = ""
	record.ResolvedAt = nil
	return true
}

// Clear removes every record. Used by operators after incident cleanup.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = make(map[string]*domain.TrackedError)
}

// Run drives the retention sweep until the context is cancelled.
func (t *Tracker) Run(ctx context.Context) {
	t.once.Do(func() {
		if t.logger != nil {
			t.logger.Info("error tracker started", "retention", t.retention, "max_records", t.maxRecords)
		}
	})
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if t.logger != nil {
				t.logger.Info("error tracker stopped")
			}
			return
		case <-ticker.C:
			removed := t.sweep(t.now().UTC())
			if removed > 0 && t.logger != nil {
				t.logger.Info("retention sweep removed records", "count", removed)
			}
		}
	}
}

// sweep deletes records past retention, then evicts oldest-first while the
// record count exceeds the hard cap.
func (t *Tracker) sweep(now time.Time) int {
	cutoff := now.Add(-t.retention)
	removed := 0

	t.mu.Lock()
	defer t.mu.Unlock()
	for id, record := range t.records {
		if record.LastSeen.Before(cutoff) {
			delete(t.records, id)
			removed++
		}
	}
	if len(t.records) > t.maxRecords {
		ordered := make([]*domain.TrackedError, 0, len(t.records))
		for _, record := range t.records {
			ordered = append(ordered, record)
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].LastSeen.Before(ordered[j].LastSeen)
		})
		for _, record := range ordered[:len(t.records)-t.maxRecords] {
			delete(t.records, record.Fingerprint)
			removed++
		}
	}
	return removed
}

func (t *Tracker) archiveRecord(record domain.TrackedError) {
	if t.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := t.archive.ArchiveError(ctx, record); err != nil && t.logger != nil {
		t.logger.Warn("failed to archive error snapshot", "fingerprint", record.Fingerprint, "error", err)
	}
}

func mergeContext(dst *domain.ErrorContext, src domain.ErrorContext) {
	if src.Endpoint != "" {
		dst.Endpoint = src.Endpoint
	}
	if src.UserID != "" {
		dst.UserID = src.UserID
	}
	if src.Environment != "" {
		dst.Environment = src.Environment
	}
	if len(src.Extra) > 0 {
		if dst.Extra == nil {
			dst.Extra = make(map[string]string, len(src.Extra))
		}
		for k, v := range src.Extra {
			dst.Extra[k] = v
		}
	}
}

func mergeTags(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]struct{}, len(existing))
	for _, tag := range existing {
		seen[tag] = struct{}{}
	}
	for _, tag := range incoming {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; !ok {
			existing = append(existing, tag)
			seen[tag] = struct{}{}
		}
	}
	return existing
}

func copyRecord(record *domain.TrackedError) domain.TrackedError {
	out := *record
	out.Tags = append([]string(nil), record.Tags...)
	if record.Context.Extra != nil {
		extra := make(map[string]string, len(record.Context.Extra))
		for k, v := range record.Context.Extra {
			extra[k] = v
		}
		out.Context.Extra = extra
	}
	if record.ResolvedAt != nil {
		at := *record.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
