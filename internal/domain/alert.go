package domain

import "time"

// AlertStatus is the lifecycle stage of an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// AlertDescriptor is the raw input from which an alert is created.
type AlertDescriptor struct {
	Title        string
	Category     string
	Source       string
	Severity     Severity
	Message      string
	Occurrences  int64
	CustomerTier string
	Labels       map[string]string
}

// AlertCondition compares a metric aggregate against a threshold.
type AlertCondition struct {
	Metric      string
	Operator    string
	Threshold   float64
	Aggregation string
	Window      time.Duration
}

// AlertAction names a notification channel and its configuration.
type AlertAction struct {
	Channel string
	Config  map[string]string
}

// EscalationLevel is one step of an escalation policy.
type EscalationLevel struct {
	Level   int
	Timeout time.Duration
	Actions []AlertAction
}

// EscalationPolicy orders levels an unacknowledged alert walks through.
type EscalationPolicy struct {
	Name   string
	Levels []EscalationLevel
}

// MaxLevel returns the highest defined escalation level, or 0 when empty.
func (p EscalationPolicy) MaxLevel() int {
	if len(p.Levels) == 0 {
		return 0
	}
	return p.Levels[len(p.Levels)-1].Level
}

// SuppressionRule mutes matching alerts for a duration.
type SuppressionRule struct {
	Name     string
	Category string
	Source   string
	Severity Severity
	Until    time.Time
	Reason   string
}

// AlertRule couples trigger conditions with actions and escalation.
type AlertRule struct {
	Name       string
	Conditions []AlertCondition
	Actions    []AlertAction
	Escalation EscalationPolicy
	Severity   Severity
	Category   string
	Enabled    bool
}

// EscalationEvent records one escalation step taken for an alert.
type EscalationEvent struct {
	ID        string
	Level     int
	Outcome   string
	Timestamp time.Time
}

// BusinessImpact estimates operator-facing blast radius of an alert.
type BusinessImpact struct {
	UsersAffected   int64
	RevenueEstimate float64
	SLABreach       bool
}

// Alert is a deduplicated actionable incident keyed by fingerprint.
type Alert struct {
	Fingerprint    string
	Title          string
	Category       string
	Source         string
	Message        string
	Severity       Severity
	Status         AlertStatus
	Level          int
	History        []EscalationEvent
	FirstTriggered time.Time
	LastTriggered  time.Time
	AcknowledgedBy string
	AcknowledgedAt *time.Time
	ResolvedBy     string
	ResolvedAt     *time.Time
	ResolveNote    string
	SuppressReason string
	Occurrences    int64
	Impact         BusinessImpact
	Conditions     []AlertCondition
	Actions        []AlertAction
	Escalation     EscalationPolicy
	Labels         map[string]string
}
