package alert

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
	"github.com/scribehq/scribe/core/internal/notify"
)

type recordingChannel struct {
	mu    sync.Mutex
	sends []domain.Alert
}

func (c *recordingChannel) Send(_ context.Context, alert domain.Alert, _ map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sends = append(c.sends, alert)
	return nil
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sends)
}

type stubArchive struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func (a *stubArchive) ArchiveError(_ context.Context, _ domain.TrackedError) error { return nil }

func (a *stubArchive) ArchiveAlert(_ context.Context, alert domain.Alert) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
	return nil
}

func (a *stubArchive) ListArchivedAlerts(_ context.Context, _ int) ([]domain.Alert, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Alert(nil), a.alerts...), nil
}

type stubMetrics struct {
	aggregates map[string]domain.MetricAggregate
}

func (m *stubMetrics) Aggregate(key string, window time.Duration) domain.MetricAggregate {
	agg, ok := m.aggregates[key]
	if !ok {
		return domain.MetricAggregate{Key: key, Window: window}
	}
	return agg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts Options) (*Engine, *recordingChannel, *time.Time) {
	t.Helper()
	channel := &recordingChannel{}
	registry := notify.NewRegistry(discardLogger())
	registry.Register("test", channel)
	if len(opts.DefaultActions) == 0 {
		opts.DefaultActions = []domain.AlertAction{{Channel: "test"}}
	}
	engine := NewEngine(nil, registry, nil, nil, nil, nil, discardLogger(), opts)
	t.Cleanup(engine.limiter.Close)

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return clock }
	engine.newEventID = func() string { return "event-1" }
	return engine, channel, &clock
}

func testDescriptor() domain.AlertDescriptor {
	return domain.AlertDescriptor{
		Title:    "database slow",
		Category: "database",
		Source:   "health_monitor",
		Severity: domain.SeverityHigh,
		Message:  "p95 above threshold",
	}
}

func TestCreateCoalescesByFingerprint(t *testing.T) {
	engine, channel, _ := newTestEngine(t, Options{})

	id, created := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	if !created {
		t.Fatalf("first create should report a new alert")
	}
	id2, created := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	if created {
		t.Fatalf("second create within the window should coalesce")
	}
	if id != id2 {
		t.Fatalf("expected same fingerprint, got %s and %s", id, id2)
	}

	alert, ok := engine.Get(id)
	if !ok {
		t.Fatalf("alert %s not found", id)
	}
	if alert.Occurrences != 2 {
		t.Fatalf("expected 2 occurrences, got %d", alert.Occurrences)
	}

	engine.wg.Wait()
	if got := channel.count(); got != 1 {
		t.Fatalf("expected exactly one notification for coalesced alerts, got %d", got)
	}
}

func TestCreateUpgradesSeverityOnCoalesce(t *testing.T) {
	engine, _, _ := newTestEngine(t, Options{})

	desc := testDescriptor()
	desc.Severity = domain.SeverityMedium
	id, _ := engine.Create(CreateSpec{Descriptor: desc})

	desc.Severity = domain.SeverityCritical
	engine.Create(CreateSpec{Descriptor: desc})

	alert, _ := engine.Get(id)
	if alert.Severity != domain.SeverityCritical {
		t.Fatalf("expected severity upgrade to critical, got %s", alert.Severity)
	}
	engine.wg.Wait()
}

func TestCreateSuppressed(t *testing.T) {
	engine, channel, clock := newTestEngine(t, Options{})
	engine.SetSuppressions([]domain.SuppressionRule{{
		Name:     "db maintenance",
		Category: "database",
		Until:    clock.Add(time.Hour),
		Reason:   "planned maintenance",
	}})

	id, created := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	if !created {
		t.Fatalf("suppressed alerts are still recorded")
	}
	alert, _ := engine.Get(id)
	if alert.Status != domain.AlertSuppressed {
		t.Fatalf("expected suppressed status, got %s", alert.Status)
	}
	if alert.SuppressReason != "planned maintenance" {
		t.Fatalf("unexpected suppress reason %q", alert.SuppressReason)
	}

	engine.wg.Wait()
	if got := channel.count(); got != 0 {
		t.Fatalf("suppressed alert must not notify, got %d sends", got)
	}
}

func TestExpiredSuppressionDoesNotMatch(t *testing.T) {
	engine, _, clock := newTestEngine(t, Options{})
	engine.SetSuppressions([]domain.SuppressionRule{{
		Name:     "stale",
		Category: "database",
		Until:    clock.Add(-time.Minute),
	}})

	id, _ := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	alert, _ := engine.Get(id)
	if alert.Status != domain.AlertOpen {
		t.Fatalf("expired suppression should not apply, got %s", alert.Status)
	}
	engine.wg.Wait()
}

func TestAcknowledge(t *testing.T) {
	engine, _, _ := newTestEngine(t, Options{})
	id, _ := engine.Create(CreateSpec{Descriptor: testDescriptor()})

	if err := engine.Acknowledge(id, "oncall"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	alert, _ := engine.Get(id)
	if alert.Status != domain.AlertAcknowledged {
		t.Fatalf("expected acknowledged, got %s", alert.Status)
	}
	if alert.AcknowledgedBy != "oncall" || alert.AcknowledgedAt == nil {
		t.Fatalf("acknowledgement metadata not recorded")
	}

	if err := engine.Acknowledge(id, "oncall"); err == nil {
		t.Fatalf("acknowledging a non-open alert should fail")
	}
	if err := engine.Acknowledge("missing", "oncall"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	engine.wg.Wait()
}

func TestResolveIdempotentAndArchived(t *testing.T) {
	engine, _, _ := newTestEngine(t, Options{})
	archive := &stubArchive{}
	engine.archive = archive

	id, _ := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	if err := engine.Resolve(id, "oncall", "restarted pool"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := engine.Resolve(id, "oncall", "again"); err != nil {
		t.Fatalf("second resolve should be a no-op, got %v", err)
	}
	if err := engine.Resolve("missing", "oncall", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	alert, _ := engine.Get(id)
	if alert.Status != domain.AlertResolved || alert.ResolveNote != "restarted pool" {
		t.Fatalf("resolution not recorded: %+v", alert)
	}

	archived, err := archive.ListArchivedAlerts(context.Background(), 10)
	if err != nil {
		t.Fatalf("list archived: %v", err)
	}
	if len(archived) != 1 {
		t.Fatalf("expected one archived alert, got %d", len(archived))
	}
	engine.wg.Wait()
}

func TestEscalateWalksLevels(t *testing.T) {
	engine, channel, clock := newTestEngine(t, Options{})
	policy := domain.EscalationPolicy{
		Name: "standard",
		Levels: []domain.EscalationLevel{
			{Level: 1, Timeout: 5 * time.Minute, Actions: []domain.AlertAction{{Channel: "test"}}},
			{Level: 2, Timeout: 10 * time.Minute, Actions: []domain.AlertAction{{Channel: "test"}}},
		},
	}
	id, _ := engine.Create(CreateSpec{Descriptor: testDescriptor(), Escalation: policy})
	engine.wg.Wait()
	base := channel.count()

	engine.escalate()
	if alert, _ := engine.Get(id); alert.Level != 0 {
		t.Fatalf("escalation before the timeout, level %d", alert.Level)
	}

	*clock = clock.Add(6 * time.Minute)
	engine.escalate()
	engine.wg.Wait()
	alert, _ := engine.Get(id)
	if alert.Level != 1 {
		t.Fatalf("expected level 1, got %d", alert.Level)
	}
	if len(alert.History) != 1 {
		t.Fatalf("expected one escalation event, got %d", len(alert.History))
	}
	if got := channel.count(); got != base+1 {
		t.Fatalf("expected one escalation notification, got %d", got-base)
	}

	// The level 2 timeout restarts from the level 1 escalation.
	*clock = clock.Add(5 * time.Minute)
	engine.escalate()
	if alert, _ := engine.Get(id); alert.Level != 1 {
		t.Fatalf("level 2 fired early, level %d", alert.Level)
	}
	*clock = clock.Add(6 * time.Minute)
	engine.escalate()
	engine.wg.Wait()
	alert, _ = engine.Get(id)
	if alert.Level != 2 {
		t.Fatalf("expected level 2, got %d", alert.Level)
	}

	// Top of the policy: no further levels to walk.
	*clock = clock.Add(time.Hour)
	engine.escalate()
	if alert, _ := engine.Get(id); alert.Level != 2 {
		t.Fatalf("escalated past the policy, level %d", alert.Level)
	}
}

func TestAcknowledgeStopsEscalation(t *testing.T) {
	engine, _, clock := newTestEngine(t, Options{})
	policy := domain.EscalationPolicy{Levels: []domain.EscalationLevel{
		{Level: 1, Timeout: time.Minute, Actions: []domain.AlertAction{{Channel: "test"}}},
	}}
	id, _ := engine.Create(CreateSpec{Descriptor: testDescriptor(), Escalation: policy})
	if err := engine.Acknowledge(id, "oncall"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	*clock = clock.Add(time.Hour)
	engine.escalate()
	engine.wg.Wait()
	if alert, _ := engine.Get(id); alert.Level != 0 {
		t.Fatalf("acknowledged alert escalated to level %d", alert.Level)
	}
}

func TestCleanupHonorsRetention(t *testing.T) {
	engine, _, clock := newTestEngine(t, Options{Retention: time.Hour})

	resolved, _ := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	if err := engine.Resolve(resolved, "oncall", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	openDesc := testDescriptor()
	openDesc.Title = "still firing"
	open, _ := engine.Create(CreateSpec{Descriptor: openDesc})
	engine.wg.Wait()

	*clock = clock.Add(30 * time.Minute)
	engine.cleanup()
	if _, ok := engine.Get(resolved); !ok {
		t.Fatalf("resolved alert removed before retention elapsed")
	}

	*clock = clock.Add(time.Hour)
	engine.cleanup()
	if _, ok := engine.Get(resolved); ok {
		t.Fatalf("resolved alert survived past retention")
	}
	if _, ok := engine.Get(open); !ok {
		t.Fatalf("open alert must never be garbage collected")
	}
}

func TestListFiltersAndOrders(t *testing.T) {
	engine, _, clock := newTestEngine(t, Options{})

	first := testDescriptor()
	first.Title = "first"
	engine.Create(CreateSpec{Descriptor: first})

	*clock = clock.Add(time.Minute)
	second := testDescriptor()
	second.Title = "second"
	id2, _ := engine.Create(CreateSpec{Descriptor: second})
	engine.wg.Wait()

	all := engine.List("")
	if len(all) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(all))
	}
	if all[0].Fingerprint != id2 {
		t.Fatalf("expected newest first, got %s", all[0].Title)
	}

	if err := engine.Resolve(id2, "oncall", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	open := engine.List(domain.AlertOpen)
	if len(open) != 1 || open[0].Title != "first" {
		t.Fatalf("status filter broken: %+v", open)
	}
}

func TestStats(t *testing.T) {
	engine, _, _ := newTestEngine(t, Options{})
	id, _ := engine.Create(CreateSpec{Descriptor: testDescriptor()})
	critical := testDescriptor()
	critical.Title = "disk full"
	critical.Severity = domain.SeverityCritical
	engine.Create(CreateSpec{Descriptor: critical})
	if err := engine.Resolve(id, "oncall", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	engine.wg.Wait()

	stats := engine.Stats()
	if stats["total"] != 2 {
		t.Fatalf("expected total 2, got %d", stats["total"])
	}
	if stats["resolved"] != 1 || stats["open"] != 1 {
		t.Fatalf("unexpected status counts: %v", stats)
	}
	if stats["severity_critical"] != 1 {
		t.Fatalf("unexpected severity counts: %v", stats)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	engine, _, _ := newTestEngine(t, Options{
		EvaluationTick:  10 * time.Millisecond,
		EscalationTick:  10 * time.Millisecond,
		CleanupInterval: 10 * time.Millisecond,
	})
	engine.signals = bus.New(discardLogger(), 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		engine.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("engine did not stop after cancellation")
	}
}
