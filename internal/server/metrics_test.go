package server

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"voxelsync.dev/internal/transport"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := map[string]float64{}
	for _, mf := range mfs {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				out[mf.GetName()] += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[mf.GetName()] += m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[mf.GetName()] += float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestMetrics_CountJoinLoadAndDispatch(t *testing.T) {
	w := newWorld(t, nil, map[transport.Addr]float32{"a": 8, "b": 24}, "a", "b")
	reg := prometheus.NewRegistry()
	w.srv.metrics = NewMetrics(reg)
	w.untilReady()
	w.step(nil)

	got := gathered(t, reg)
	if got["voxelsync_sessions"] != 2 {
		t.Fatalf("sessions=%v want=2", got["voxelsync_sessions"])
	}
	if got["voxelsync_packets_in_total"] < 2 {
		t.Fatalf("packets_in=%v want>=2", got["voxelsync_packets_in_total"])
	}
	if got["voxelsync_hard_update_packets_total"] == 0 {
		t.Fatalf("no hard update packets counted")
	}
	if got["voxelsync_snapshot_bytes_total"] == 0 {
		t.Fatalf("no snapshot bytes counted")
	}
	if got["voxelsync_tick_seconds"] == 0 {
		t.Fatalf("no ticks observed")
	}
}

func TestMetrics_NilRecordsNothing(t *testing.T) {
	var m *Metrics
	m.packet("join")
	m.drop("stale")
	m.correction()
	m.overflow(3)
	m.snapshot(10)
	m.hardUpdate()
	m.setSessions(1)
	m.observeTick(0.01)
}
