package bus

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricsOnce    sync.Once
	signalsTotal   *prometheus.CounterVec
	signalsDropped prometheus.Counter
	metricsReady   bool
)

func initMetrics() {
	metricsOnce.Do(func() {
		signalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "core",
			Name:      "signals_published_total",
			Help:      "Signals published on the internal bus by kind",
		}, []string{"kind"})
		signalsDropped = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "core",
			Name:      "signals_dropped_total",
			Help:      "Signals discarded because a subscriber could not keep up",
		})

		if err := prometheus.Register(signalsTotal); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				signalsTotal = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				return
			}
		}
		if err := prometheus.Register(signalsDropped); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				signalsDropped = are.ExistingCollector.(prometheus.Counter)
			} else {
				return
			}
		}
		metricsReady = true
	})
}

func recordPublished(kind string) {
	if !metricsReady {
		return
	}
	signalsTotal.With(prometheus.Labels{"kind": kind}).Inc()
}

func recordDropped() {
	if !metricsReady {
		return
	}
	signalsDropped.Inc()
}
