package domain

import "time"

// Severity ranks how urgent a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for comparison; higher is more urgent.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// ErrorCategory groups failures by origin.
type ErrorCategory string

const (
	CategoryRuntime    ErrorCategory = "runtime"
	CategoryValidation ErrorCategory = "validation"
	CategoryNetwork    ErrorCategory = "network"
	CategoryDatabase   ErrorCategory = "database"
	CategoryAuth       ErrorCategory = "auth"
	CategoryBusiness   ErrorCategory = "business"
	CategoryUnknown    ErrorCategory = "unknown"
)

// ErrorContext carries request-scoped details captured with a failure.
type ErrorContext struct {
	Endpoint    string
	UserID      string
	Environment string
	Extra       map[string]string
}

// TrackedError is a deduplicated failure record keyed by fingerprint.
type TrackedError struct {
	Fingerprint   string
	Type          string
	Message       string
	StackLocation string
	Category      ErrorCategory
	Severity      Severity
	Occurrences   int64
	FirstSeen     time.Time
	LastSeen      time.Time
	Resolved      bool
	ResolvedBy    string
	ResolvedAt    *time.Time
	Tags          []string
	Context       ErrorContext
}
