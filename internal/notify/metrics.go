package notify

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribehq/scribe/core/internal/domain"
)

var (
	metricsOnce  sync.Once
	sendsTotal   *prometheus.CounterVec
	metricsReady bool
)

func initMetrics() {
	metricsOnce.Do(func() {
		sendsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "core",
			Name:      "notifications_sent_total",
			Help:      "Notification sends by channel and outcome",
		}, []string{"channel", "outcome"})
		if err := prometheus.Register(sendsTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				sendsTotal = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				return
			}
		}
		metricsReady = true
	})
}

// countingChannel decorates a Channel with send accounting.
type countingChannel struct {
	name  string
	inner Channel
}

func (c *countingChannel) Send(ctx context.Context, alert domain.Alert, config map[string]string) error {
	err := c.inner.Send(ctx, alert, config)
	recordSend(c.name, err)
	return err
}

func recordSend(channel string, err error) {
	if !metricsReady {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sendsTotal.With(prometheus.Labels{"channel": channel, "outcome": outcome}).Inc()
}
