// Package metrics exposes pipeline counters and gauges to Prometheus.
//
// Every recording method is safe to call on a nil *Metrics, so components
// built without metrics (tests, --validate) need no guards.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gridrelay"

// Metrics holds every collector of the daemon.
type Metrics struct {
	SnapshotsRead    prometheus.Counter
	ReadErrors       prometheus.Counter
	RawDropped       prometheus.Counter
	BatchesBuilt     prometheus.Counter
	BatchesReaped    prometheus.Counter
	StoreWrites      *prometheus.CounterVec
	APIAttempts      *prometheus.CounterVec
	RestartRequests  *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	PendingBatches   prometheus.Gauge
	PressureLevel    prometheus.Gauge
	LivenessAge      *prometheus.GaugeVec
	CompletionTime   prometheus.Histogram
	APIRequestTime   prometheus.Histogram
	SamplesPerWindow prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SnapshotsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_read_total",
			Help:      "Snapshots acquired from the controller.",
		}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "read_errors_total",
			Help:      "Failed snapshot acquisitions.",
		}),
		RawDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "raw_dropped_total",
			Help:      "Snapshots discarded because the raw ring was full.",
		}),
		BatchesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_built_total",
			Help:      "Second batches produced by the grid aggregator.",
		}),
		BatchesReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_reaped_total",
			Help:      "Second batches acknowledged by both sinks and removed.",
		}),
		StoreWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_writes_total",
			Help:      "Storage sink write attempts by result.",
		}, []string{"result"}),
		APIAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_attempts_total",
			Help:      "API sink delivery attempts by result.",
		}, []string{"result"}),
		RestartRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restart_requests_total",
			Help:      "Fatal restart requests by component.",
		}, []string{"component"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of items per queue.",
		}, []string{"queue"}),
		PendingBatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_batches",
			Help:      "Batches awaiting at least one sink.",
		}),
		PressureLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "raw_pressure_level",
			Help:      "Raw ring pressure level (0 normal, 1 warning, 2 critical, 3 emergency).",
		}),
		LivenessAge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liveness_age_seconds",
			Help:      "Seconds since the last successful read or delivery.",
		}, []string{"signal"}),
		CompletionTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_completion_seconds",
			Help:      "Time from batch creation to acknowledgement by both sinks.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		APIRequestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_seconds",
			Help:      "Duration of single API POST requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		SamplesPerWindow: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "window_snapshots",
			Help:      "Raw snapshots consumed per one-second window.",
			Buckets:   prometheus.LinearBuckets(0, 25, 12),
		}),
	}

	reg.MustRegister(
		m.SnapshotsRead, m.ReadErrors, m.RawDropped,
		m.BatchesBuilt, m.BatchesReaped,
		m.StoreWrites, m.APIAttempts, m.RestartRequests,
		m.QueueDepth, m.PendingBatches, m.PressureLevel, m.LivenessAge,
		m.CompletionTime, m.APIRequestTime, m.SamplesPerWindow,
	)

	return m
}

// SnapshotRead records one acquisition; dropped reports a raw ring overwrite.
func (m *Metrics) SnapshotRead(dropped bool) {
	if m == nil {
		return
	}
	m.SnapshotsRead.Inc()
	if dropped {
		m.RawDropped.Inc()
	}
}

// ReadFailed records a failed acquisition.
func (m *Metrics) ReadFailed() {
	if m == nil {
		return
	}
	m.ReadErrors.Inc()
}

// BatchBuilt records a new second batch built from n raw snapshots.
func (m *Metrics) BatchBuilt(n int) {
	if m == nil {
		return
	}
	m.BatchesBuilt.Inc()
	m.SamplesPerWindow.Observe(float64(n))
}

// StoreWrite records a storage write attempt.
func (m *Metrics) StoreWrite(ok bool) {
	if m == nil {
		return
	}
	m.StoreWrites.WithLabelValues(result(ok)).Inc()
}

// APIAttempt records one POST attempt and its duration.
func (m *Metrics) APIAttempt(ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.APIAttempts.WithLabelValues(result(ok)).Inc()
	m.APIRequestTime.Observe(d.Seconds())
}

// Reaped records a completed batch and its end-to-end latency.
func (m *Metrics) Reaped(age time.Duration) {
	if m == nil {
		return
	}
	m.BatchesReaped.Inc()
	m.CompletionTime.Observe(age.Seconds())
}

// RestartRequested records a fatal restart request.
func (m *Metrics) RestartRequested(component string) {
	if m == nil {
		return
	}
	m.RestartRequests.WithLabelValues(component).Inc()
}

// SetQueueDepth sets the depth gauge of a queue.
func (m *Metrics) SetQueueDepth(queue string, n int) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(float64(n))
}

// SetPending sets the pending batch gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.PendingBatches.Set(float64(n))
}

// SetPressure sets the raw ring pressure gauge.
func (m *Metrics) SetPressure(level int) {
	if m == nil {
		return
	}
	m.PressureLevel.Set(float64(level))
}

// SetLivenessAge sets the staleness gauge of a liveness signal.
func (m *Metrics) SetLivenessAge(signal string, age time.Duration) {
	if m == nil {
		return
	}
	m.LivenessAge.WithLabelValues(signal).Set(age.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
