package telegrampoller

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "telegrampoller"

// Metrics holds the Prometheus collectors of one Poller.
type Metrics struct {
	updatesFetched    prometheus.Counter
	updatesStale      prometheus.Counter
	updatesDispatched prometheus.Counter
	updatesDiscarded  prometheus.Counter
	fetchErrors       prometheus.Counter
	handlerErrors     prometheus.Counter
	bufferDepth       prometheus.Gauge
	fetchDuration     prometheus.Histogram
}

// NewMetrics creates the poller collectors and registers them on reg.
// A nil reg leaves them unregistered; they still count and can be read in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		updatesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_fetched_total",
			Help:      "Updates accepted into the buffer",
		}),
		updatesStale: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_stale_total",
			Help:      "Updates dropped because their id was not above the cursor",
		}),
		updatesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_dispatched_total",
			Help:      "Updates handed to the update handler",
		}),
		updatesDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "updates_discarded_total",
			Help:      "Buffered updates discarded when a session stopped",
		}),
		fetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_errors_total",
			Help:      "Failed getUpdates calls",
		}),
		handlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handler_errors_total",
			Help:      "Update handler invocations that returned an error or panicked",
		}),
		bufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "buffer_depth",
			Help:      "Updates waiting in the buffer",
		}),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "fetch_duration_seconds",
			Help:      "getUpdates round-trip time, long-poll wait included",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.updatesFetched,
			m.updatesStale,
			m.updatesDispatched,
			m.updatesDiscarded,
			m.fetchErrors,
			m.handlerErrors,
			m.bufferDepth,
			m.fetchDuration,
		)
	}

	return m
}
