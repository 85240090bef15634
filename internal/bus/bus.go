// Package bus fans signals out from core components to in-process
// subscribers over typed, bounded channels.
package bus

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/scribehq/scribe/core/internal/domain"
)

const defaultBuffer = 64

// Subscription receives signals for the kinds it registered for.
type Subscription struct {
	C      <-chan domain.Signal
	ch     chan domain.Signal
	kinds  map[domain.SignalKind]struct{}
	closed bool
}

// Bus routes signals by kind with non-blocking delivery. A subscriber that
// cannot keep up loses signals instead of stalling publishers.
type Bus struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	dropped atomic.Int64
	buffer  int
	logger  *slog.Logger
}

// New constructs a Bus. A nil logger disables drop warnings.
func New(logger *slog.Logger, buffer int) *Bus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if logger != nil {
		logger = logger.With("component", "signal_bus")
	}
	initMetrics()
	return &Bus{
		subs:   make(map[*Subscription]struct{}),
		buffer: buffer,
		logger: logger,
	}
}

// Subscribe registers interest in the given signal kinds. Subscribing to no
// kinds means every kind.
func (b *Bus) Subscribe(kinds ...domain.SignalKind) *Subscription {
	sub := &Subscription{
		ch:    make(chan domain.Signal, b.buffer),
		kinds: make(map[domain.SignalKind]struct{}, len(kinds)),
	}
	sub.C = sub.ch
	for _, kind := range kinds {
		sub.kinds[kind] = struct{}{}
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	sub.closed = true
	close(sub.ch)
}

// Publish delivers the signal to every matching subscriber without blocking.
func (b *Bus) Publish(signal domain.Signal) {
	recordPublished(string(signal.Kind))
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if len(sub.kinds) > 0 {
			if _, ok := sub.kinds[signal.Kind]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- signal:
		default:
			total := b.dropped.Add(1)
			recordDropped()
			if b.logger != nil {
				b.logger.Warn("signal dropped for slow subscriber", "kind", signal.Kind, "dropped_total", total)
			}
		}
	}
}

// Dropped reports how many signals were discarded for slow subscribers.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// Close unsubscribes everything.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		delete(b.subs, sub)
		sub.closed = true
		close(sub.ch)
	}
}
