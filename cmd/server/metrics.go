package main

import (
	"github.com/prometheus/client_golang/prometheus"

	"voxelsync.dev/internal/transport"
)

// registerRuntimeGauges exposes counters kept outside the server loop:
// transport ingress drops, index backlog and mirror progress.
func registerRuntimeGauges(reg prometheus.Registerer, conn transport.Stats, p *persister) {
	reg.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "voxelsync_ingress_queue_dropped_total",
			Help: "Datagrams dropped because the ingress queue was full",
		}, func() float64 { return float64(conn.Dropped()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "voxelsync_ingress_rate_limited_total",
			Help: "Datagrams dropped by the per-address rate limit",
		}, func() float64 { return float64(conn.Limited()) }),
	)

	if p.idx != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "voxelsync_index_queue_depth",
				Help: "Pending sqlite index writes",
			}, func() float64 { return float64(p.idx.Stats().QueueDepth) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "voxelsync_index_dropped_total",
				Help: "Index rows dropped because the queue was full",
			}, func() float64 {
				s := p.idx.Stats()
				return float64(s.DropTickTotal + s.DropAuditTotal + s.DropSnapshotTotal)
			}),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "voxelsync_index_write_errors_total",
				Help: "Failed sqlite index writes",
			}, func() float64 { return float64(p.idx.Stats().WriteErrorTotal) }),
		)
	}

	if p.mirror != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "voxelsync_mirror_queue_depth",
				Help: "Snapshots waiting for upload",
			}, func() float64 { return float64(p.mirror.Stats().QueueDepth) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "voxelsync_mirror_uploaded_total",
				Help: "Snapshots uploaded to the object store",
			}, func() float64 { return float64(p.mirror.Stats().Uploaded) }),
			prometheus.NewCounterFunc(prometheus.CounterOpts{
				Name: "voxelsync_mirror_failed_total",
				Help: "Snapshot uploads that failed after retries",
			}, func() float64 { return float64(p.mirror.Stats().Failed) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: "voxelsync_mirror_last_success_unix",
				Help: "Unix time of the last successful upload",
			}, func() float64 {
				if ts := p.mirror.Stats().LastSuccess; !ts.IsZero() {
					return float64(ts.Unix())
				}
				return 0
			}),
		)
	}
}
