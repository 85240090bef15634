// Package health schedules dependency probes, guards each dependency with a
// circuit breaker and aggregates the latest results into a system overview.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
)

const (
	defaultInterval = 30 * time.Second
	defaultTimeout  = 5 * time.Second
)

// Descriptor statically describes one monitored dependency.
type Descriptor struct {
	ID         string
	Category   string
	Priority   domain.CheckPriority
	Interval   time.Duration
	Timeout    time.Duration
	Retries    int
	Thresholds domain.CheckThresholds
	Prober     Prober
}

// Options carries the policy knobs of the monitor.
type Options struct {
	FailureThreshold int
	FailureWindow    time.Duration
	Cooldown         time.Duration
	UnhealthyRatio   float64
	DegradedRatio    float64
}

// Monitor owns per-dependency schedulers, breakers and latest results.
type Monitor struct {
	mu            sync.RWMutex
	descriptors   map[string]Descriptor
	results       map[string]domain.HealthCheckResult
	breakers      map[string]*breaker
	maintenance   bool
	maintenanceBy string
	opts          Options
	signals       *bus.Bus
	logger        *slog.Logger
	now           func() time.Time
}

// NewMonitor constructs a Monitor. Signals may be nil.
func NewMonitor(signals *bus.Bus, logger *slog.Logger, opts Options) *Monitor {
	if opts.UnhealthyRatio <= 0 {
		opts.UnhealthyRatio = 0.30
	}
	if opts.DegradedRatio <= 0 {
		opts.DegradedRatio = 0.50
	}
	if logger != nil {
		logger = logger.With("component", "health_monitor")
	}
	initMetrics()
	return &Monitor{
		descriptors: make(map[string]Descriptor),
		results:     make(map[string]domain.HealthCheckResult),
		breakers:    make(map[string]*breaker),
		opts:        opts,
		signals:     signals,
		logger:      logger,
		now:         time.Now,
	}
}

// Register adds a dependency before Run is called.
func (m *Monitor) Register(desc Descriptor) error {
	if desc.ID == "" {
		return fmt.Errorf("descriptor requires an id")
	}
	if desc.Prober == nil {
		return fmt.Errorf("descriptor %s requires a prober", desc.ID)
	}
	if desc.Interval <= 0 {
		desc.Interval = defaultInterval
	}
	if desc.Timeout <= 0 {
		desc.Timeout = defaultTimeout
	}
	if desc.Priority == "" {
		desc.Priority = domain.PriorityMedium
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.descriptors[desc.ID]; exists {
		return fmt.Errorf("descriptor %s already registered", desc.ID)
	}
	m.descriptors[desc.ID] = desc
	m.breakers[desc.ID] = newBreaker(desc.ID, m.opts.FailureThreshold, m.opts.FailureWindow, m.opts.Cooldown, m.now)
	m.results[desc.ID] = domain.HealthCheckResult{
		CheckID:    desc.ID,
		Category:   desc.Category,
		Status:     domain.StatusUnknown,
		Priority:   desc.Priority,
		Thresholds: desc.Thresholds,
		NextCheck:  m.now().UTC(),
	}
	return nil
}

// Run starts one scheduler per registered dependency and blocks until the
// context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	m.mu.RLock()
	descriptors := make([]Descriptor, 0, len(m.descriptors))
	for _, desc := range m.descriptors {
		descriptors = append(descriptors, desc)
	}
	m.mu.RUnlock()

	if m.logger != nil {
		m.logger.Info("health monitor started", "checks", len(descriptors))
	}
	var wg sync.WaitGroup
	for _, desc := range descriptors {
		wg.Add(1)
		go func(desc Descriptor) {
			defer wg.Done()
			m.schedule(ctx, desc)
		}(desc)
	}
	wg.Wait()
	if m.logger != nil {
		m.logger.Info("health monitor stopped")
	}
}

func (m *Monitor) schedule(ctx context.Context, desc Descriptor) {
	m.safeCheck(ctx, desc)
	ticker := time.NewTicker(desc.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.safeCheck(ctx, desc)
		}
	}
}

// safeCheck guards a scheduled probe so a programming error inside one check
// cannot terminate the scheduler.
func (m *Monitor) safeCheck(ctx context.Context, desc Descriptor) {
	defer func() {
		if r := recover(); r != nil && m.logger != nil {
			m.logger.Error("health check panicked", "check", desc.ID, "panic", fmt.Sprint(r))
		}
	}()
	m.RunCheck(ctx, desc.ID)
}

// RunCheck executes one probe cycle for a registered dependency.
func (m *Monitor) RunCheck(ctx context.Context, id string) {
	m.mu.RLock()
	desc, ok := m.descriptors[id]
	br := m.breakers[id]
	previous := m.results[id]
	m.mu.RUnlock()
	if !ok {
		return
	}

	now := m.now().UTC()
	if !br.Allow() {
		// Open breaker: the dependency is known bad, no real probe is made.
		m.mu.Lock()
		result := m.results[id]
		result.LastChecked = now
		result.NextCheck = now.Add(desc.Interval)
		m.results[id] = result
		m.mu.Unlock()
		if m.logger != nil {
			m.logger.Debug("probe skipped, breaker open", "check", id)
		}
		return
	}

	probeRes, elapsed, err := m.executeProbe(ctx, desc)
	br.Record(err == nil)

	result := domain.HealthCheckResult{
		CheckID:      id,
		Category:     desc.Category,
		Priority:     desc.Priority,
		Thresholds:   desc.Thresholds,
		ResponseTime: elapsed,
		LastChecked:  now,
		NextCheck:    now.Add(desc.Interval),
		Detail:       probeRes.Detail,
	}
	if err != nil {
		result.Status = domain.StatusUnhealthy
		result.Error = err.Error()
		result.ConsecutiveFailures = previous.ConsecutiveFailures + 1
		recordProbeFailure(id)
	} else {
		result.Status = applyResponseThresholds(probeRes.Status, elapsed, desc.Thresholds)
		result.ConsecutiveFailures = 0
	}
	recordCheckStatus(id, result.Status)

	m.mu.Lock()
	m.results[id] = result
	m.mu.Unlock()

	if previous.Status != result.Status {
		m.onTransition(previous, result)
	}
}

func (m *Monitor) executeProbe(ctx context.Context, desc Descriptor) (ProbeResult, time.Duration, error) {
	attempts := desc.Retries + 1
	var lastErr error
	var elapsed time.Duration
	for attempt := 0; attempt < attempts; attempt++ {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, desc.Timeout)

		type outcome struct {
			res ProbeResult
			err error
		}
		ch := make(chan outcome, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					ch <- outcome{err: fmt.Errorf("probe panicked: %v", r)}
				}
			}()
			res, err := desc.Prober.Probe(probeCtx)
			ch <- outcome{res: res, err: err}
		}()

		select {
		case <-probeCtx.Done():
			// Timeout counts as probe failure, not unknown.
			lastErr = fmt.Errorf("probe timed out after %s", desc.Timeout)
		case out := <-ch:
			if out.err == nil {
				cancel()
				return out.res, time.Since(start), nil
			}
			lastErr = out.err
		}
		cancel()
		elapsed = time.Since(start)
	}
	return ProbeResult{}, elapsed, lastErr
}

// applyResponseThresholds degrades a successful probe that responded slowly.
func applyResponseThresholds(status domain.HealthStatus, elapsed time.Duration, thresholds domain.CheckThresholds) domain.HealthStatus {
	if status == "" {
		status = domain.StatusHealthy
	}
	if status != domain.StatusHealthy {
		return status
	}
	if thresholds.ResponseTimeCritical > 0 && elapsed >= thresholds.ResponseTimeCritical {
		return domain.StatusUnhealthy
	}
	if thresholds.ResponseTimeWarning > 0 && elapsed >= thresholds.ResponseTimeWarning {
		return domain.StatusDegraded
	}
	return status
}

func (m *Monitor) onTransition(previous, current domain.HealthCheckResult) {
	if m.logger != nil {
		m.logger.Info("health status changed",
			"check", current.CheckID,
			"previous", previous.Status,
			"current", current.Status,
			"error", current.Error,
		)
	}
	if m.signals == nil {
		return
	}
	m.signals.Publish(domain.Signal{
		Kind:       domain.SignalHealthStatusChange,
		CheckID:    current.CheckID,
		Category:   current.Category,
		Previous:   previous.Status,
		Current:    current.Status,
		Priority:   current.Priority,
		Message:    current.Error,
		OccurredAt: current.LastChecked,
	})
	if current.Status == domain.StatusUnhealthy && current.Priority == domain.PriorityCritical {
		m.signals.Publish(domain.Signal{
			Kind:       domain.SignalCriticalFailure,
			CheckID:    current.CheckID,
			Category:   current.Category,
			Current:    current.Status,
			Priority:   current.Priority,
			Severity:   domain.SeverityCritical,
			Message:    current.Error,
			OccurredAt: current.LastChecked,
		})
	}
}

// SetMaintenance toggles the operator maintenance flag.
func (m *Monitor) SetMaintenance(on bool, by string) {
	m.mu.Lock()
	m.maintenance = on
	m.maintenanceBy = by
	m.mu.Unlock()
	if m.logger != nil {
		m.logger.Info("maintenance mode changed", "enabled", on, "by", by)
	}
}

// SystemHealth aggregates the latest check results into an overview snapshot.
func (m *Monitor) SystemHealth() domain.SystemHealth {
	m.mu.RLock()
	checks := make([]domain.HealthCheckResult, 0, len(m.results))
	for _, result := range m.results {
		checks = append(checks, result)
	}
	breakers := make([]domain.BreakerSnapshot, 0, len(m.breakers))
	for _, br := range m.breakers {
		breakers = append(breakers, br.Snapshot())
	}
	maintenance := m.maintenance
	m.mu.RUnlock()

	sort.Slice(checks, func(i, j int) bool { return checks[i].CheckID < checks[j].CheckID })
	sort.Slice(breakers, func(i, j int) bool { return breakers[i].Dependency < breakers[j].Dependency })

	overview := domain.SystemHealth{
		Checks:      checks,
		Breakers:    breakers,
		Maintenance: maintenance,
		GeneratedAt: m.now().UTC(),
	}
	if len(checks) == 0 {
		overview.Status = domain.StatusUnknown
		if maintenance {
			overview.Status = domain.StatusMaintenance
		}
		return overview
	}

	var weighted, totalWeight float64
	criticalUnhealthy := false
	criticalDegraded := false
	for _, check := range checks {
		weight := check.Priority.Weight()
		weighted += check.Status.Score() * weight
		totalWeight += weight
		switch check.Status {
		case domain.StatusHealthy:
			overview.Healthy++
		case domain.StatusDegraded:
			overview.Degraded++
			if check.Priority == domain.PriorityCritical {
				criticalDegraded = true
			}
		case domain.StatusUnhealthy:
			overview.Unhealthy++
			if check.Priority == domain.PriorityCritical {
				criticalUnhealthy = true
			}
		default:
			overview.Unknown++
		}
	}
	if totalWeight > 0 {
		overview.Score = weighted / totalWeight
	}

	total := float64(len(checks))
	switch {
	case criticalUnhealthy:
		overview.Status = domain.StatusUnhealthy
	case criticalDegraded:
		overview.Status = domain.StatusDegraded
	case float64(overview.Unhealthy)/total > m.opts.UnhealthyRatio:
		overview.Status = domain.StatusUnhealthy
	case float64(overview.Degraded)/total > m.opts.DegradedRatio:
		overview.Status = domain.StatusDegraded
	default:
		overview.Status = domain.StatusHealthy
	}
	if maintenance {
		overview.Status = domain.StatusMaintenance
	}
	return overview
}

// Breaker returns the snapshot for one dependency.
func (m *Monitor) Breaker(id string) (domain.BreakerSnapshot, bool) {
	m.mu.RLock()
	br, ok := m.breakers[id]
	m.mu.RUnlock()
	if !ok {
		return domain.BreakerSnapshot{}, false
	}
	return br.Snapshot(), true
}
