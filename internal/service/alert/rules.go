package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/scribehq/scribe/core/internal/domain"
)

// ErrNotFound indicates an unknown alert fingerprint.
var ErrNotFound = errors.New("alert not found")

// evaluateRules fires every enabled rule whose conditions all hold against
// the current metric aggregates and health snapshot.
func (e *Engine) evaluateRules() {
	e.mu.RLock()
	rules := make([]domain.AlertRule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.Enabled {
			rules = append(rules, rule)
		}
	}
	e.mu.RUnlock()

	var health *domain.SystemHealth
	if e.health != nil {
		snapshot := e.health.SystemHealth()
		health = &snapshot
	}
	for _, rule := range rules {
		if !e.conditionsHold(rule.Conditions, health) {
			continue
		}
		severity := rule.Severity
		if severity == "" {
			severity = domain.SeverityMedium
		}
		e.Create(CreateSpec{
			Descriptor: domain.AlertDescriptor{
				Title:    rule.Name,
				Category: rule.Category,
				Source:   "alert_rule",
				Severity: severity,
				Message:  describeConditions(rule.Conditions),
			},
			Conditions: rule.Conditions,
			Actions:    rule.Actions,
			Escalation: rule.Escalation,
		})
	}
}

func (e *Engine) conditionsHold(conditions []domain.AlertCondition, health *domain.SystemHealth) bool {
	if len(conditions) == 0 {
		return false
	}
	for _, cond := range conditions {
		value, ok := e.conditionValue(cond, health)
		if !ok || !compare(value, cond.Operator, cond.Threshold) {
			return false
		}
	}
	return true
}

// conditionValue resolves a condition metric. Names under "health." read the
// monitor snapshot; everything else reads a metric aggregate.
func (e *Engine) conditionValue(cond domain.AlertCondition, health *domain.SystemHealth) (float64, bool) {
	if name, ok := strings.CutPrefix(cond.Metric, "health."); ok {
		if health == nil {
			return 0, false
		}
		switch name {
		case "score":
			return health.Score, true
		case "unhealthy_checks":
			return float64(health.Unhealthy), true
		case "degraded_checks":
			return float64(health.Degraded), true
		default:
			return 0, false
		}
	}
	if e.metrics == nil {
		return 0, false
	}
	agg := e.metrics.Aggregate(cond.Metric, cond.Window)
	if agg.Count == 0 {
		// Missing data never fires a rule; dashboards show unknown instead.
		return 0, false
	}
	switch cond.Aggregation {
	case "", "avg", "mean":
		return agg.Mean, true
	case "p50":
		return agg.P50, true
	case "p95":
		return agg.P95, true
	case "p99":
		return agg.P99, true
	case "max":
		return agg.Max, true
	case "min":
		return agg.Min, true
	case "count":
		return float64(agg.Count), true
	case "error_rate":
		return agg.ErrorRate, true
	case "per_minute":
		return agg.PerMinute, true
	default:
		return 0, false
	}
}

func compare(value float64, operator string, threshold float64) bool {
	switch operator {
	case ">", "gt":
		return value > threshold
	case ">=", "gte":
		return value >= threshold
	case "<", "lt":
		return value < threshold
	case "<=", "lte":
		return value <= threshold
	case "==", "eq":
		return value == threshold
	default:
		return false
	}
}

func describeConditions(conditions []domain.AlertCondition) string {
	parts := make([]string, 0, len(conditions))
	for _, cond := range conditions {
		agg := cond.Aggregation
		if agg == "" {
			agg = "avg"
		}
		parts = append(parts, fmt.Sprintf("%s(%s) %s %g", agg, cond.Metric, cond.Operator, cond.Threshold))
	}
	return strings.Join(parts, " and ")
}

// matchSuppressionLocked returns the first active suppression rule matching
// the descriptor. Must be called under lock.
func (e *Engine) matchSuppressionLocked(desc domain.AlertDescriptor, now time.Time) *domain.SuppressionRule {
	for i := range e.suppressions {
		rule := &e.suppressions[i]
		if !rule.Until.IsZero() && now.After(rule.Until) {
			continue
		}
		if rule.Category != "" && rule.Category != desc.Category {
			continue
		}
		if rule.Source != "" && rule.Source != desc.Source {
			continue
		}
		if rule.Severity != "" && rule.Severity != desc.Severity {
			continue
		}
		return rule
	}
	return nil
}

// consumeSignals turns health and error signals into alerts.
func (e *Engine) consumeSignals(ctx context.Context) {
	sub := e.signals.Subscribe(
		domain.SignalCriticalFailure,
		domain.SignalHealthStatusChange,
		domain.SignalErrorTracked,
	)
	defer e.signals.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-sub.C:
			if !ok {
				return
			}
			e.handleSignal(signal)
		}
	}
}

func (e *Engine) handleSignal(signal domain.Signal) {
	switch signal.Kind {
	case domain.SignalCriticalFailure:
		e.Create(CreateSpec{Descriptor: domain.AlertDescriptor{
			Title:    "Critical dependency failure: " + signal.CheckID,
			Category: signal.Category,
			Source:   "health_monitor",
			Severity: domain.SeverityCritical,
			Message:  signal.Message,
		}})
	case domain.SignalHealthStatusChange:
		// Only raise for non-critical degradation into unhealthy; critical
		// checks already arrive through the critical-failure signal.
		if signal.Current != domain.StatusUnhealthy || signal.Priority == domain.PriorityCritical {
			return
		}
		e.Create(CreateSpec{Descriptor: domain.AlertDescriptor{
			Title:    "Dependency unhealthy: " + signal.CheckID,
			Category: signal.Category,
			Source:   "health_monitor",
			Severity: domain.SeverityHigh,
			Message:  signal.Message,
		}})
	case domain.SignalErrorTracked:
		if signal.Severity != domain.SeverityCritical {
			return
		}
		e.Create(CreateSpec{Descriptor: domain.AlertDescriptor{
			Title:    "Critical error tracked: " + signal.ErrorID,
			Category: signal.Category,
			Source:   "error_tracker",
			Severity: domain.SeverityCritical,
			Message:  signal.Message,
		}})
	}
}
