package health

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/scribehq/scribe/core/internal/domain"
)

var (
	metricsOnce   sync.Once
	probeFailures *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
	metricsReady  bool
)

func initMetrics() {
	metricsOnce.Do(func() {
		probeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scribe",
			Subsystem: "core",
			Name:      "probe_failures_total",
			Help:      "Failed dependency probes by check",
		}, []string{"check"})
		checkStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scribe",
			Subsystem: "core",
			Name:      "check_status_score",
			Help:      "Latest status score per health check (100 healthy, 0 unhealthy)",
		}, []string{"check"})

		if err := prometheus.Register(probeFailures); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				probeFailures = are.ExistingCollector.(*prometheus.CounterVec)
			} else {
				return
			}
		}
		if err := prometheus.Register(checkStatus); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				checkStatus = are.ExistingCollector.(*prometheus.GaugeVec)
			} else {
				return
			}
		}
		metricsReady = true
	})
}

func recordProbeFailure(check string) {
	if !metricsReady {
		return
	}
	probeFailures.With(prometheus.Labels{"check": check}).Inc()
}

func recordCheckStatus(check string, status domain.HealthStatus) {
	if !metricsReady {
		return
	}
	checkStatus.With(prometheus.Labels{"check": check}).Set(status.Score())
}
