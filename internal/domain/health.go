package domain

import "time"

// HealthStatus describes the observed state of one dependency.
type HealthStatus string

const (
	StatusHealthy     HealthStatus = "healthy"
	StatusDegraded    HealthStatus = "degraded"
	StatusUnhealthy   HealthStatus = "unhealthy"
	StatusUnknown     HealthStatus = "unknown"
	StatusMaintenance HealthStatus = "maintenance"
)

// Score maps a status to its contribution to the aggregate health score.
func (s HealthStatus) Score() float64 {
	switch s {
	case StatusHealthy:
		return 100
	case StatusDegraded:
		return 60
	case StatusUnknown:
		return 50
	default:
		return 0
	}
}

// CheckPriority weights a dependency in the aggregate score.
type CheckPriority string

const (
	PriorityCritical CheckPriority = "critical"
	PriorityHigh     CheckPriority = "high"
	PriorityMedium   CheckPriority = "medium"
	PriorityLow      CheckPriority = "low"
)

// Weight returns the scoring weight for the priority.
func (p CheckPriority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 40
	case PriorityHigh:
		return 30
	case PriorityMedium:
		return 20
	default:
		return 10
	}
}

// CheckThresholds holds per-dependency warning and critical limits.
type CheckThresholds struct {
	ResponseTimeWarning  time.Duration
	ResponseTimeCritical time.Duration
	AvailabilityWarning  float64
	AvailabilityCritical float64
}

// HealthCheckResult is the outcome of the most recent probe of one dependency.
type HealthCheckResult struct {
	CheckID             string
	Category            string
	Status              HealthStatus
	Priority            CheckPriority
	ResponseTime        time.Duration
	ConsecutiveFailures int
	LastChecked         time.Time
	NextCheck           time.Time
	Thresholds          CheckThresholds
	Detail              map[string]string
	Error               string
}

// BreakerState is a circuit breaker phase.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerSnapshot is a read-only copy of one dependency's circuit breaker.
type BreakerSnapshot struct {
	Dependency  string
	State       BreakerState
	Failures    int
	Successes   int
	LastFailure time.Time
	RetryAfter  time.Time
}

// SystemHealth aggregates the latest results of every check.
type SystemHealth struct {
	Status      HealthStatus
	Score       float64
	Checks      []HealthCheckResult
	Breakers    []BreakerSnapshot
	Healthy     int
	Degraded    int
	Unhealthy   int
	Unknown     int
	Maintenance bool
	GeneratedAt time.Time
}
