package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the server counters. A nil *Metrics records nothing.
type Metrics struct {
	packetsIn     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	corrections   prometheus.Counter
	overflows     prometheus.Counter
	snapshotBytes prometheus.Counter
	hardUpdates   prometheus.Counter
	sessions      prometheus.Gauge
	tickSeconds   prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		packetsIn: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_packets_in_total",
			Help: "Accepted client packets by type",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "voxelsync_packets_dropped_total",
			Help: "Dropped client packets by reason code",
		}, []string{"code"}),
		corrections: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_corrections_total",
			Help: "Sessions put into correction after a divergence",
		}),
		overflows: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_history_overflows_total",
			Help: "Chunks resent in full because their history overflowed",
		}),
		snapshotBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_snapshot_bytes_total",
			Help: "Bytes of SNAPSHOT packets sent",
		}),
		hardUpdates: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelsync_hard_update_packets_total",
			Help: "CHUNK_HARD_UPDATE packets sent",
		}),
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxelsync_sessions",
			Help: "Connected sessions",
		}),
		tickSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "voxelsync_tick_seconds",
			Help:    "Wall time of one server tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}
}

func (m *Metrics) packet(kind string) {
	if m != nil {
		m.packetsIn.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) drop(code string) {
	if m != nil {
		m.dropped.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) correction() {
	if m != nil {
		m.corrections.Inc()
	}
}

func (m *Metrics) overflow(n int) {
	if m != nil && n > 0 {
		m.overflows.Add(float64(n))
	}
}

func (m *Metrics) snapshot(bytes int) {
	if m != nil {
		m.snapshotBytes.Add(float64(bytes))
	}
}

func (m *Metrics) hardUpdate() {
	if m != nil {
		m.hardUpdates.Inc()
	}
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

func (m *Metrics) observeTick(seconds float64) {
	if m != nil {
		m.tickSeconds.Observe(seconds)
	}
}
