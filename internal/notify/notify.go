// Package notify delivers alerts through pluggable channels. Concrete
// providers are reached over generic HTTP webhooks; the engine only depends
// on the Channel interface.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/scribehq/scribe/core/internal/domain"
)

// Channel sends one alert using the action's channel configuration.
type Channel interface {
	Send(ctx context.Context, alert domain.Alert, config map[string]string) error
}

// Registry resolves channel names to implementations.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

// NewRegistry returns a Registry pre-populated with the built-in channels.
func NewRegistry(logger *slog.Logger) *Registry {
	initMetrics()
	r := &Registry{channels: make(map[string]Channel)}
	webhook := NewWebhookChannel(nil)
	r.Register("webhook", webhook)
	r.Register("chat", NewChatChannel(nil))
	r.Register("email", NewEmailChannel(nil))
	r.Register("pager", webhook)
	r.Register("log", NewLogChannel(logger))
	return r
}

// Register adds or replaces a channel implementation. Sends through the
// registry are counted per channel name.
func (r *Registry) Register(name string, channel Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[name] = &countingChannel{name: name, inner: channel}
}

// Get resolves a channel by name.
func (r *Registry) Get(name string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channel, ok := r.channels[name]
	if !ok {
		return nil, fmt.Errorf("unknown notification channel %q", name)
	}
	return channel, nil
}

// LogChannel writes the alert to the structured log. Used as a safe default
// and in development environments.
type LogChannel struct {
	logger *slog.Logger
}

// NewLogChannel constructs a LogChannel.
func NewLogChannel(logger *slog.Logger) *LogChannel {
	return &LogChannel{logger: logger}
}

// Send implements Channel.
func (c *LogChannel) Send(_ context.Context, alert domain.Alert, _ map[string]string) error {
	if c.logger == nil {
		return nil
	}
	c.logger.Warn("alert notification",
		"fingerprint", alert.Fingerprint,
		"title", alert.Title,
		"severity", alert.Severity,
		"status", alert.Status,
		"level", alert.Level,
		"occurrences", alert.Occurrences,
	)
	return nil
}
