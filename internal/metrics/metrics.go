// Package metrics instruments the undo/redo engine with Prometheus collectors.
//
// A nil *Metrics is valid and records nothing, so engine components can take
// one unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tabletop"

// Metrics holds the collectors for history and replay activity.
type Metrics struct {
	records        *prometheus.CounterVec
	ignoredRecords prometheus.Counter
	evictions      prometheus.Counter
	replays        *prometheus.CounterVec
	replayErrors   *prometheus.CounterVec
	dangling       *prometheus.CounterVec
	undoDepth      prometheus.Gauge
	redoDepth      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "records_total",
			Help:      "Operations recorded onto the undo stack, by kind.",
		}, []string{"kind"}),
		ignoredRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "ignored_records_total",
			Help:      "Record calls ignored because a replay was in progress.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Operations dropped from the bottom of the undo stack.",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "total",
			Help:      "Replayed operations, by kind and direction.",
		}, []string{"kind", "direction"}),
		replayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "errors_total",
			Help:      "Replays that returned an error, by kind and direction.",
		}, []string{"kind", "direction"}),
		dangling: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "dangling_references_total",
			Help:      "Shape ids that could not be resolved during replay, by kind.",
		}, []string{"kind"}),
		undoDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "undo_depth",
			Help:      "Current number of entries on the undo stack.",
		}),
		redoDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "history",
			Name:      "redo_depth",
			Help:      "Current number of entries on the redo stack.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Collectors()...)
	}
	return m
}

// Collectors returns every collector owned by m.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.records,
		m.ignoredRecords,
		m.evictions,
		m.replays,
		m.replayErrors,
		m.dangling,
		m.undoDepth,
		m.redoDepth,
	}
}

// Recorded counts an operation pushed onto the undo stack.
func (m *Metrics) Recorded(kind string) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(kind).Inc()
}

// RecordIgnored counts a record call swallowed during replay.
func (m *Metrics) RecordIgnored() {
	if m == nil {
		return
	}
	m.ignoredRecords.Inc()
}

// Evicted counts n operations dropped by the history cap.
func (m *Metrics) Evicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.Add(float64(n))
}

// Replayed counts a replay and, when err is non-nil, a replay error.
func (m *Metrics) Replayed(kind, direction string, err error) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(kind, direction).Inc()
	if err != nil {
		m.replayErrors.WithLabelValues(kind, direction).Inc()
	}
}

// Dangling counts a shape id that could not be resolved.
func (m *Metrics) Dangling(kind string) {
	if m == nil {
		return
	}
	m.dangling.WithLabelValues(kind).Inc()
}

// Depth publishes the current stack sizes.
func (m *Metrics) Depth(undo, redo int) {
	if m == nil {
		return
	}
	m.undoDepth.Set(float64(undo))
	m.redoDepth.Set(float64(redo))
}
