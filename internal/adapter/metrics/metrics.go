package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PipelineMetrics holds all Prometheus metrics for the telemetry pipeline.
type PipelineMetrics struct {
	RecordsTotal        *prometheus.CounterVec
	BroadcastSendsTotal *prometheus.CounterVec
	FanoutQueueDrops    prometheus.Counter
	ActiveSubscribers   prometheus.Gauge
	WALActive           prometheus.Gauge
}

// NewPipelineMetrics initializes and registers the Prometheus metrics.
func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		RecordsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traffic_core",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of processed flows by outcome.",
		}, []string{"status"}), // status: stored, store_error, dropped_normalize
		BroadcastSendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "traffic_core",
			Subsystem: "fanout",
			Name:      "sends_total",
			Help:      "Total number of per-subscriber delivery attempts by outcome.",
		}, []string{"status"}), // status: ok, error
		FanoutQueueDrops: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "traffic_core",
			Subsystem: "fanout",
			Name:      "queue_drops_total",
			Help:      "Total number of records whose live push was dropped because the fanout queue was full.",
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "traffic_core",
			Subsystem: "fanout",
			Name:      "active_subscribers",
			Help:      "Current number of registered push subscribers.",
		}),
		WALActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "traffic_core",
			Subsystem: "store",
			Name:      "wal_pending",
			Help:      "Indicates whether records are parked in the write-ahead fallback log (1 for pending, 0 for drained).",
		}),
	}
}
