package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/scribehq/scribe/core/internal/bus"
	"github.com/scribehq/scribe/core/internal/domain"
)

// Bridge forwards signal bus events to hub subscribers as JSON frames.
type Bridge struct {
	hub     *Hub
	signals *bus.Bus
	log     *slog.Logger
}

// event is the wire frame pushed to streaming clients.
type event struct {
	Kind       string    `json:"kind"`
	CheckID    string    `json:"check_id,omitempty"`
	ErrorID    string    `json:"error_id,omitempty"`
	AlertID    string    `json:"alert_id,omitempty"`
	Category   string    `json:"category,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	Previous   string    `json:"previous,omitempty"`
	Current    string    `json:"current,omitempty"`
	Message    string    `json:"message,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBridge wires a signal bus to a hub.
func NewBridge(hub *Hub, signals *bus.Bus, logger *slog.Logger) *Bridge {
	return &Bridge{hub: hub, signals: signals, log: logger}
}

// Run pumps signals into the hub until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	sub := b.signals.Subscribe(
		domain.SignalErrorTracked,
		domain.SignalHealthStatusChange,
		domain.SignalCriticalFailure,
		domain.SignalAlertRaised,
	)
	defer b.signals.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case signal, ok := <-sub.C:
			if !ok {
				return
			}
			b.forward(signal)
		}
	}
}

func (b *Bridge) forward(signal domain.Signal) {
	payload, err := json.Marshal(event{
		Kind:       string(signal.Kind),
		CheckID:    signal.CheckID,
		ErrorID:    signal.ErrorID,
		AlertID:    signal.AlertID,
		Category:   signal.Category,
		Severity:   string(signal.Severity),
		Previous:   string(signal.Previous),
		Current:    string(signal.Current),
		Message:    signal.Message,
		OccurredAt: signal.OccurredAt,
	})
	if err != nil {
		b.log.Error("failed to encode stream event", "error", err)
		return
	}
	b.hub.Broadcast(topicFor(signal.Kind), payload)
}

func topicFor(kind domain.SignalKind) string {
	switch kind {
	case domain.SignalErrorTracked:
		return TopicErrors
	case domain.SignalAlertRaised:
		return TopicAlerts
	default:
		return TopicHealth
	}
}
