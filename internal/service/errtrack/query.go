package errtrack

import (
	"sort"
	"strings"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

// Filter narrows a record listing. Zero fields match everything.
type Filter struct {
	From       time.Time
	To         time.Time
	Severities []domain.Severity
	Categories []domain.ErrorCategory
	Resolved   *bool
	UserID     string
	Endpoint   string
	Search     string
	Limit      int
	Offset     int
}

const defaultQueryLimit = 50

// Query lists records matching the filter, newest first by last-seen.
func (t *Tracker) Query(filter Filter) []domain.TrackedError {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	search := strings.ToLower(strings.TrimSpace(filter.Search))

	t.mu.RLock()
	matched := make([]domain.TrackedError, 0, len(t.records))
	for _, record := range t.records {
		if !matches(record, filter, search) {
			continue
		}
		matched = append(matched, copyRecord(record))
	}
	t.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].LastSeen.After(matched[j].LastSeen)
	})
	if filter.Offset >= len(matched) {
		return nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func matches(record *domain.TrackedError, filter Filter, search string) bool {
	if !filter.From.IsZero() && record.LastSeen.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && record.LastSeen.After(filter.To) {
		return false
	}
	if len(filter.Severities) > 0 && !containsSeverity(filter.Severities, record.Severity) {
		return false
	}
	if len(filter.Categories) > 0 && !containsCategory(filter.Categories, record.Category) {
		return false
	}
	if filter.Resolved != nil && record.Resolved != *filter.Resolved {
		return false
	}
	if filter.UserID != "" && record.Context.UserID != filter.UserID {
		return false
	}
	if filter.Endpoint != "" && record.Context.Endpoint != filter.Endpoint {
		return false
	}
	if search != "" && !searchMatches(record, search) {
		return false
	}
	return true
}

func searchMatches(record *domain.TrackedError, search string) bool {
	if strings.Contains(strings.ToLower(record.Message), search) {
		return true
	}
	if strings.Contains(strings.ToLower(record.Type), search) {
		return true
	}
	for _, tag := range record.Tags {
		if strings.Contains(strings.ToLower(tag), search) {
			return true
		}
	}
	return false
}

func containsSeverity(set []domain.Severity, severity domain.Severity) bool {
	for _, s := range set {
		if s == severity {
			return true
		}
	}
	return false
}

func containsCategory(set []domain.ErrorCategory, category domain.ErrorCategory) bool {
	for _, c := range set {
		if c == category {
			return true
		}
	}
	return false
}
