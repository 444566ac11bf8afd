package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/e7canasta/orion-gaze/internal/types"
)

// Engine, recorder, emitter and bus collectors. Registered on the default
// registry and served by /metrics.

var (
	// Engine
	EngineTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "engine",
		Name:      "ticks_total",
		Help:      "Total engine ticks processed",
	})

	EngineSuppressedTicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "engine",
		Name:      "suppressed_ticks_total",
		Help:      "Ticks skipped by the blink cooldown",
	})

	EngineEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "engine",
		Name:      "events_total",
		Help:      "Classified events emitted",
	}, []string{"axis", "kind"})

	EngineTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gaze",
		Subsystem: "engine",
		Name:      "tick_duration_seconds",
		Help:      "Per-tick processing duration including estimator refresh",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	})

	// Estimator
	EstimatorErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "estimator",
		Name:      "errors_total",
		Help:      "Estimator refresh failures (no tick consumed)",
	})

	// Recorder
	RecorderBufferedRows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "gaze",
		Subsystem: "recorder",
		Name:      "buffered_rows",
		Help:      "Rows held in memory awaiting export",
	})

	RecorderExportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "recorder",
		Name:      "export_rows_total",
		Help:      "Rows written by exports",
	}, []string{"destination"})

	RecorderExportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "recorder",
		Name:      "export_errors_total",
		Help:      "Failed exports",
	}, []string{"destination"})

	// Emitter
	EmitterPublishErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "emitter",
		Name:      "publish_errors_total",
		Help:      "Failed publishes",
	}, []string{"publisher"})

	// Bus
	BusDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gaze",
		Subsystem: "bus",
		Name:      "dropped_total",
		Help:      "Snapshots dropped because a subscriber was full",
	}, []string{"subscriber"})
)

// ObserveSnapshot updates the engine collectors for one tick.
func ObserveSnapshot(snap types.Snapshot) {
	EngineTicksTotal.Inc()
	if snap.Suppressed {
		EngineSuppressedTicksTotal.Inc()
	}
	for _, e := range snap.Emitted {
		EngineEventsTotal.WithLabelValues(e.OnAxis().String(), e.Kind().String()).Inc()
	}
}
