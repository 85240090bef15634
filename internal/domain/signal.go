package domain

import "time"

// SignalKind identifies the typed channel a signal travels on.
type SignalKind string

const (
	SignalHealthStatusChange SignalKind = "health_status_change"
	SignalCriticalFailure    SignalKind = "critical_failure"
	SignalErrorTracked       SignalKind = "error_tracked"
	SignalAlertRaised        SignalKind = "alert_raised"
)

// Signal is one event published by a core component.
type Signal struct {
	Kind       SignalKind
	CheckID    string
	Category   string
	Previous   HealthStatus
	Current    HealthStatus
	Priority   CheckPriority
	ErrorID    string
	AlertID    string
	Severity   Severity
	Message    string
	OccurredAt time.Time
}
