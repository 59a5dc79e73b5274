// Package metrics exposes Prometheus instrumentation for the sync hub, in
// the shape of the teacher's internal/metrics package, generalized from a
// single trading feed to rooms, sessions, batches, and the KV port.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the hub registers.
type Metrics struct {
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	ConnectionDuration prometheus.Histogram

	MessagesReceived prometheus.Counter
	MessagesSent     prometheus.Counter
	MessageLatency   prometheus.Histogram

	RateLimitDenials *prometheus.CounterVec

	RoomsActive  prometheus.Gauge
	RoomsReaped  prometheus.Counter
	RoomsCreated prometheus.Counter

	CursorBatchSize   prometheus.Histogram
	ReactionBatchSize prometheus.Histogram
	BatchFlushes      *prometheus.CounterVec

	KVPortConnected prometheus.Gauge
	KVPortErrors    *prometheus.CounterVec

	SystemGoroutines prometheus.Gauge
	SystemMemoryRSS  prometheus.Gauge
	SystemCPUPercent prometheus.Gauge

	startTime time.Time
}

// New registers and returns a fresh Metrics instance against the default
// Prometheus registry, matching the teacher's promauto-based NewMetrics.
func New() *Metrics {
	return &Metrics{
		startTime: time.Now(),

		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synchub_connections_total",
			Help: "Total number of sessions accepted.",
		}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_connections_active",
			Help: "Number of currently active sessions.",
		}),
		ConnectionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synchub_connection_duration_seconds",
			Help:    "Duration of sessions from connect to close.",
			Buckets: prometheus.DefBuckets,
		}),

		MessagesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synchub_messages_received_total",
			Help: "Total inbound messages processed.",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synchub_messages_sent_total",
			Help: "Total outbound messages delivered.",
		}),
		MessageLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synchub_message_handling_seconds",
			Help:    "Time spent handling one inbound message.",
			Buckets: prometheus.DefBuckets,
		}),

		RateLimitDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synchub_rate_limit_denials_total",
			Help: "Rate-limited inbound messages by action.",
		}, []string{"action"}),

		RoomsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_rooms_active",
			Help: "Number of rooms known to this instance.",
		}),
		RoomsReaped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synchub_rooms_reaped_total",
			Help: "Total empty rooms removed by the reaper.",
		}),
		RoomsCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synchub_rooms_created_total",
			Help: "Total rooms created.",
		}),

		CursorBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synchub_cursor_batch_size",
			Help:    "Number of cursors in one flushed batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		ReactionBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synchub_reaction_batch_size",
			Help:    "Number of reactions in one flushed batch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),
		BatchFlushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synchub_batch_flushes_total",
			Help: "Total batch flushes by kind.",
		}, []string{"kind"}),

		KVPortConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_kv_port_connected",
			Help: "1 if the KV/PubSub port is connected, 0 otherwise.",
		}),
		KVPortErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synchub_kv_port_errors_total",
			Help: "KV/PubSub port errors by operation.",
		}, []string{"op"}),

		SystemGoroutines: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_system_goroutines",
			Help: "Current goroutine count.",
		}),
		SystemMemoryRSS: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_system_memory_rss_bytes",
			Help: "Resident set size of this process.",
		}),
		SystemCPUPercent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synchub_system_cpu_percent",
			Help: "Process CPU utilization percentage.",
		}),
	}
}

// Uptime reports how long this Metrics instance (and by extension, the
// hub process) has been running.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
