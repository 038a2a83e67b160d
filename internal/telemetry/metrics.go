// Package telemetry provides the Prometheus metrics and OpenTelemetry
// tracing the core emits per spec §6 ("Observability outputs"),
// grounded on the counter/histogram set datum-cloud-milo's watch
// manager registers for itself.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WatchMetrics instruments one Resource Watcher instance.
type WatchMetrics struct {
	Reconnects      *prometheus.CounterVec // labeled by reason (410, 504, transport, clean, empty)
	EventsReceived  *prometheus.CounterVec // labeled by event type
	StreamConnected prometheus.Gauge
	BookmarkAge     prometheus.Gauge
}

// NewWatchMetrics registers a WatchMetrics set for kind under reg. kind
// is used as a constant label so multiple controllers can share a
// registry.
func NewWatchMetrics(reg prometheus.Registerer, kind string) *WatchMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"kind": kind}
	return &WatchMetrics{
		Reconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "operatorcore_watch_reconnects_total",
			Help:        "Count of watch stream reconnects, labeled by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		EventsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "operatorcore_watch_events_received_total",
			Help:        "Count of watch events received, labeled by event type.",
			ConstLabels: labels,
		}, []string{"event_type"}),
		StreamConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "operatorcore_watch_stream_connected",
			Help:        "1 if the watch stream is currently connected, else 0.",
			ConstLabels: labels,
		}),
		BookmarkAge: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "operatorcore_watch_bookmark_age_seconds",
			Help:        "Age of the last received bookmark resourceVersion.",
			ConstLabels: labels,
		}),
	}
}

// QueueMetrics instruments one Event Queue instance.
type QueueMetrics struct {
	Depth  prometheus.Gauge
	Adds   prometheus.Counter
	Latency prometheus.Histogram
}

// NewQueueMetrics registers a QueueMetrics set for kind under reg.
func NewQueueMetrics(reg prometheus.Registerer, kind string) *QueueMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"kind": kind}
	return &QueueMetrics{
		Depth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "operatorcore_queue_depth",
			Help:        "Number of distinct keys currently pending or in flight.",
			ConstLabels: labels,
		}),
		Adds: factory.NewCounter(prometheus.CounterOpts{
			Name:        "operatorcore_queue_adds_total",
			Help:        "Count of Add calls, including coalesced replacements.",
			ConstLabels: labels,
		}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "operatorcore_queue_latency_seconds",
			Help:        "Time a key spent queued before being picked up by a worker.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// DispatchMetrics instruments one Reconciler Dispatcher instance.
type DispatchMetrics struct {
	Reconciles *prometheus.CounterVec   // labeled by outcome
	Duration   *prometheus.HistogramVec // labeled by outcome
}

// NewDispatchMetrics registers a DispatchMetrics set for kind under reg.
func NewDispatchMetrics(reg prometheus.Registerer, kind string) *DispatchMetrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{"kind": kind}
	return &DispatchMetrics{
		Reconciles: factory.NewCounterVec(prometheus.CounterOpts{
			Name:        "operatorcore_reconciles_total",
			Help:        "Count of dispatched queue items, labeled by outcome (including finalizer-only outcomes that do not invoke Reconcile).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "operatorcore_reconcile_duration_seconds",
			Help:        "Duration of each dispatch pipeline run, labeled by outcome.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"outcome"}),
	}
}
