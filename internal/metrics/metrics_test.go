package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Recorded("movement")
	m.RecordIgnored()
	m.Evicted(3)
	m.Replayed("movement", "undo", errors.New("boom"))
	m.Dangling("movement")
	m.Depth(1, 2)
}

func TestCounters(t *testing.T) {
	m := New(nil)

	m.Recorded("movement")
	m.Recorded("movement")
	m.Recorded("rotation")
	m.Evicted(2)
	m.Evicted(0)
	m.Replayed("resize", "undo", nil)
	m.Replayed("resize", "undo", errors.New("boom"))
	m.Dangling("layermovement")
	m.Depth(7, 3)

	if got := testutil.ToFloat64(m.records.WithLabelValues("movement")); got != 2 {
		t.Errorf("movement records = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.evictions); got != 2 {
		t.Errorf("evictions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.replays.WithLabelValues("resize", "undo")); got != 2 {
		t.Errorf("replays = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.replayErrors.WithLabelValues("resize", "undo")); got != 1 {
		t.Errorf("replay errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.dangling.WithLabelValues("layermovement")); got != 1 {
		t.Errorf("dangling = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.undoDepth); got != 7 {
		t.Errorf("undo depth = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.redoDepth); got != 3 {
		t.Errorf("redo depth = %v, want 3", got)
	}
}

func TestRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Recorded("shapeadd")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if f.GetName() == "tabletop_history_records_total" {
			found = true
		}
	}
	if !found {
		t.Error("records counter not registered")
	}
}
