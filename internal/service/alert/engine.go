// Package alert evaluates rules, deduplicates incidents by fingerprint and
// escalates unacknowledged alerts through notification channels.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
	"github.com/scribehq/scribe/core/internal/fingerprint"
	"github.com/scribehq/scribe/core/internal/notify"
	"github.com/scribehq/scribe/core/internal/ratelimit"
	"github.com/scribehq/scribe/core/internal/repository"
)

const (
	defaultCoalesceWindow  = 5 * time.Minute
	defaultEvaluationTick  = 30 * time.Second
	defaultEscalationTick  = 30 * time.Second
	defaultRetention       = 24 * time.Hour
	defaultCleanupInterval = 10 * time.Minute
	defaultNotifyTimeout   = 5 * time.Second
	archiveTimeout         = 3 * time.Second
)

// MetricsSource exposes read-only aggregates for condition evaluation.
type MetricsSource interface {
	Aggregate(key string, window time.Duration) domain.MetricAggregate
}

// HealthSource exposes the latest system health snapshot.
type HealthSource interface {
	SystemHealth() domain.SystemHealth
}

// Options carries the engine's policy knobs.
type Options struct {
	CoalesceWindow  time.Duration
	EvaluationTick  time.Duration
	EscalationTick  time.Duration
	Retention       time.Duration
	CleanupInterval time.Duration
	NotifyTimeout   time.Duration
	DefaultActions  []domain.AlertAction
}

// CreateSpec is everything needed to raise or refresh one alert.
type CreateSpec struct {
	Descriptor domain.AlertDescriptor
	Conditions []domain.AlertCondition
	Actions    []domain.AlertAction
	Escalation domain.EscalationPolicy
}

// Engine owns the alert map and all alert lifecycle scheduling.
type Engine struct {
	mu           sync.RWMutex
	alerts       map[string]*domain.Alert
	rules        map[string]domain.AlertRule
	suppressions []domain.SuppressionRule
	limiter      ratelimit.Limiter
	channels     *notify.Registry
	metrics      MetricsSource
	health       HealthSource
	signals      *bus.Bus
	archive      repository.Archive
	logger       *slog.Logger
	opts         Options
	now          func() time.Time
	newEventID   func() string
	wg           sync.WaitGroup
}

// NewEngine constructs an Engine. Metrics, health, signals and archive are
// optional; a nil limiter gets an in-memory one.
func NewEngine(limiter ratelimit.Limiter, channels *notify.Registry, metrics MetricsSource, health HealthSource, signals *bus.Bus, archive repository.Archive, logger *slog.Logger, opts Options) *Engine {
	if opts.CoalesceWindow <= 0 {
		opts.CoalesceWindow = defaultCoalesceWindow
	}
	if opts.EvaluationTick <= 0 {
		opts.EvaluationTick = defaultEvaluationTick
	}
	if opts.EscalationTick <= 0 {
		opts.EscalationTick = defaultEscalationTick
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaultNotifyTimeout
	}
	if len(opts.DefaultActions) == 0 {
		opts.DefaultActions = []domain.AlertAction{{Channel: "log"}}
	}
	if limiter == nil {
		limiter = ratelimit.NewMemoryLimiter()
	}
	if channels == nil {
		channels = notify.NewRegistry(logger)
	}
	if logger != nil {
		logger = logger.With("component", "alert_engine")
	}
	return &Engine{
		alerts:     make(map[string]*domain.Alert),
		rules:      make(map[string]domain.AlertRule),
		limiter:    limiter,
		channels:   channels,
		metrics:    metrics,
		health:     health,
		signals:    signals,
		archive:    archive,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
		newEventID: func() string { return uuid.NewString() },
	}
}

// SetRules replaces the rule set.
func (e *Engine) SetRules(rules []domain.AlertRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = make(map[string]domain.AlertRule, len(rules))
	for _, rule := range rules {
		e.rules[rule.Name] = rule
	}
}

// SetSuppressions replaces the suppression rule set.
func (e *Engine) SetSuppressions(rules []domain.SuppressionRule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.suppressions = append([]domain.SuppressionRule(nil), rules...)
}

// Create raises a new alert or coalesces into an existing unresolved one.
// It returns the alert fingerprint and whether a new record was created.
func (e *Engine) Create(spec CreateSpec) (string, bool) {
	desc := spec.Descriptor
	if desc.Severity == "" {
		desc.Severity = domain.SeverityMedium
	}
	occurrences := desc.Occurrences
	if occurrences < 1 {
		occurrences = 1
	}
	id := fingerprint.ForAlert(desc.Title, desc.Category, desc.Source)
	now := e.now().UTC()

	e.mu.Lock()
	existing, ok := e.alerts[id]
	if ok && existing.Status != domain.AlertResolved {
		// Coalesce: refresh the record, never duplicate or re-notify here.
		existing.LastTriggered = now
		existing.Occurrences += occurrences
		existing.Message = desc.Message
		if desc.Severity.Rank() > existing.Severity.Rank() {
			existing.Severity = desc.Severity
		}
		existing.Impact = estimateImpact(existing.Severity, existing.Category, existing.Occurrences, desc.CustomerTier)
		e.mu.Unlock()
		return id, false
	}

	actions := spec.Actions
	if len(actions) == 0 {
		actions = e.opts.DefaultActions
	}
	record := &domain.Alert{
		Fingerprint:    id,
		Title:          desc.Title,
		Category:       desc.Category,
		Source:         desc.Source,
		Message:        desc.Message,
		Severity:       desc.Severity,
		Status:         domain.AlertOpen,
		FirstTriggered: now,
		LastTriggered:  now,
		Occurrences:    occurrences,
		Impact:         estimateImpact(desc.Severity, desc.Category, occurrences, desc.CustomerTier),
		Conditions:     append([]domain.AlertCondition(nil), spec.Conditions...),
		Actions:        append([]domain.AlertAction(nil), actions...),
		Escalation:     spec.Escalation,
		Labels:         desc.Labels,
	}
	if rule := e.matchSuppressionLocked(desc, now); rule != nil {
		record.Status = domain.AlertSuppressed
		record.SuppressReason = rule.Reason
	}
	e.alerts[id] = record
	snapshot := copyAlert(record)
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info("alert created",
			"fingerprint", id,
			"title", desc.Title,
			"severity", desc.Severity,
			"status", snapshot.Status,
		)
	}
	if snapshot.Status == domain.AlertSuppressed {
		return id, true
	}
	e.publishRaised(snapshot)
	// One notification burst per fingerprint per coalescing window,
	// regardless of how many underlying events arrive.
	if e.limiter.Allow("alert:"+id, 1, e.opts.CoalesceWindow).Allowed {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.dispatch(snapshot, snapshot.Actions)
		}()
	}
	return id, true
}

// Acknowledge stops escalation for an open alert.
func (e *Engine) Acknowledge(id, by string) error {
	now := e.now().UTC()
	e.mu.Lock()
	record, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if record.Status != domain.AlertOpen {
		e.mu.Unlock()
		return fmt.Errorf("alert %s is %s, only open alerts can be acknowledged", id, record.Status)
	}
	record.Status = domain.AlertAcknowledged
	record.AcknowledgedBy = by
	record.AcknowledgedAt = &now
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info("alert acknowledged", "fingerprint", id, "by", by)
	}
	return nil
}

// Resolve closes an alert from any non-resolved status.
func (e *Engine) Resolve(id, by, note string) error {
	now := e.now().UTC()
	e.mu.Lock()
	record, ok := e.alerts[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	if record.Status == domain.AlertResolved {
		e.mu.Unlock()
		return nil
	}
	record.Status = domain.AlertResolved
	record.ResolvedBy = by
	record.ResolvedAt = &now
	record.ResolveNote = note
	snapshot := copyAlert(record)
	e.mu.Unlock()

	if e.logger != nil {
		e.logger.Info("alert resolved", "fingerprint", id, "by", by)
	}
	e.archiveAlert(snapshot)
	return nil
}

// Get returns a copy of one alert.
func (e *Engine) Get(id string) (domain.Alert, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	record, ok := e.alerts[id]
	if !ok {
		return domain.Alert{}, false
	}
	return copyAlert(record), true
}

// List returns alerts, optionally filtered by status, newest first.
func (e *Engine) List(status domain.AlertStatus) []domain.Alert {
	e.mu.RLock()
	out := make([]domain.Alert, 0, len(e.alerts))
	for _, record := range e.alerts {
		if status != "" && record.Status != status {
			continue
		}
		out = append(out, copyAlert(record))
	}
	e.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastTriggered.After(out[j].LastTriggered)
	})
	return out
}

// Stats summarises alert counts by status and severity.
func (e *Engine) Stats() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := make(map[string]int)
	for _, record := range e.alerts {
		stats["total"]++
		stats[string(record.Status)]++
		stats["severity_"+string(record.Severity)]++
	}
	return stats
}

// Run drives rule evaluation, escalation, cleanup and signal consumption
// until the context is cancelled. In-flight notification sends are awaited
// best-effort on shutdown.
func (e *Engine) Run(ctx context.Context) {
	if e.logger != nil {
		e.logger.Info("alert engine started",
			"coalesce_window", e.opts.CoalesceWindow,
			"escalation_tick", e.opts.EscalationTick,
		)
	}
	var loops sync.WaitGroup
	loops.Add(3)
	go func() {
		defer loops.Done()
		e.tickLoop(ctx, e.opts.EvaluationTick, e.evaluateRules)
	}()
	go func() {
		defer loops.Done()
		e.tickLoop(ctx, e.opts.EscalationTick, e.escalate)
	}()
	go func() {
		defer loops.Done()
		e.tickLoop(ctx, e.opts.CleanupInterval, e.cleanup)
	}()
	if e.signals != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			e.consumeSignals(ctx)
		}()
	}
	loops.Wait()
	e.wg.Wait()
	if e.logger != nil {
		e.logger.Info("alert engine stopped")
	}
}

// tickLoop runs fn on a fixed interval, guarding each tick so an internal
// error cannot terminate the scheduler.
func (e *Engine) tickLoop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil && e.logger != nil {
						e.logger.Error("scheduled task panicked", "panic", fmt.Sprint(r))
					}
				}()
				fn()
			}()
		}
	}
}

// escalate walks every open alert one level forward when its current level
// timeout has elapsed unacknowledged.
func (e *Engine) escalate() {
	now := e.now().UTC()
	type pending struct {
		snapshot domain.Alert
		actions  []domain.AlertAction
	}
	var fired []pending

	e.mu.Lock()
	for _, record := range e.alerts {
		if record.Status != domain.AlertOpen {
			continue
		}
		next, ok := nextLevel(record.Escalation, record.Level)
		if !ok {
			continue
		}
		reference := record.LastTriggered
		if n := len(record.History); n > 0 && record.History[n-1].Timestamp.After(reference) {
			reference = record.History[n-1].Timestamp
		}
		if now.Sub(reference) < next.Timeout {
			continue
		}
		record.Level = next.Level
		record.History = append(record.History, domain.EscalationEvent{
			ID:        e.newEventID(),
			Level:     next.Level,
			Outcome:   "escalated",
			Timestamp: now,
		})
		fired = append(fired, pending{snapshot: copyAlert(record), actions: next.Actions})
	}
	e.mu.Unlock()

	for _, p := range fired {
		if e.logger != nil {
			e.logger.Warn("alert escalated", "fingerprint", p.snapshot.Fingerprint, "level", p.snapshot.Level)
		}
		e.publishRaised(p.snapshot)
		e.wg.Add(1)
		go func(p pending) {
			defer e.wg.Done()
			e.dispatch(p.snapshot, p.actions)
		}(p)
	}
}

// nextLevel finds the definition for the level after current, if any.
func nextLevel(policy domain.EscalationPolicy, current int) (domain.EscalationLevel, bool) {
	for _, level := range policy.Levels {
		if level.Level == current+1 {
			return level, true
		}
	}
	return domain.EscalationLevel{}, false
}

// cleanup garbage-collects resolved and suppressed alerts past retention.
func (e *Engine) cleanup() {
	now := e.now().UTC()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, record := range e.alerts {
		switch record.Status {
		case domain.AlertResolved:
			if record.ResolvedAt != nil && now.Sub(*record.ResolvedAt) > e.opts.Retention {
				delete(e.alerts, id)
			}
		case domain.AlertSuppressed:
			if now.Sub(record.LastTriggered) > e.opts.Retention {
				delete(e.alerts, id)
			}
		}
	}
}

// dispatch sends one notification burst. Each send gets its own deadline so
// a hung provider cannot stall the scheduler; failures are logged and dropped.
func (e *Engine) dispatch(alert domain.Alert, actions []domain.AlertAction) {
	for _, action := range actions {
		channel, err := e.channels.Get(action.Channel)
		if err != nil {
			if e.logger != nil {
				e.logger.Error("notification channel missing", "channel", action.Channel, "error", err)
			}
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.NotifyTimeout)
		err = channel.Send(ctx, alert, action.Config)
		cancel()
		if err != nil && e.logger != nil {
			e.logger.Error("notification send failed",
				"channel", action.Channel,
				"fingerprint", alert.Fingerprint,
				"error", err,
			)
		}
	}
}

// publishRaised announces a new or escalated alert on the signal bus so the
// streaming surface can forward it.
func (e *Engine) publishRaised(alert domain.Alert) {
	if e.signals == nil {
		return
	}
	e.signals.Publish(domain.Signal{
		Kind:       domain.SignalAlertRaised,
		AlertID:    alert.Fingerprint,
		Category:   alert.Category,
		Severity:   alert.Severity,
		Message:    alert.Title,
		OccurredAt: alert.LastTriggered,
	})
}

func (e *Engine) archiveAlert(alert domain.Alert) {
	if e.archive == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	if err := e.archive.ArchiveAlert(ctx, alert); err != nil && e.logger != nil {
		e.logger.Warn("failed to archive alert", "fingerprint", alert.Fingerprint, "error", err)
	}
}

func copyAlert(record *domain.Alert) domain.Alert {
	out := *record
	out.History = append([]domain.EscalationEvent(nil), record.History...)
	out.Conditions = append([]domain.AlertCondition(nil), record.Conditions...)
	out.Actions = append([]domain.AlertAction(nil), record.Actions...)
	if record.Labels != nil {
		labels := make(map[string]string, len(record.Labels))
		for k, v := range record.Labels {
			labels[k] = v
		}
		out.Labels = labels
	}
	if record.AcknowledgedAt != nil {
		at := *record.AcknowledgedAt
		out.AcknowledgedAt = &at
	}
	if record.ResolvedAt != nil {
		at := *record.ResolvedAt
		out.ResolvedAt = &at
	}
	return out
}
