package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the hub module.
// Tracks connection lifecycle, auth rejections and fan-out delivery.
type Metrics struct {
	ConnectionsActive      prometheus.Gauge
	ConnectionsTotal       prometheus.Counter
	AuthRejections         prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationFailures   prometheus.Counter
	SnapshotDuration       prometheus.Histogram
}

// New creates a new Metrics instance with all hub module metrics registered.
func New() *Metrics {
	return &Metrics{
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vanscontrol_hub_connections_active",
			Help: "Number of live websocket connections",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanscontrol_hub_connections_total",
			Help: "Total number of accepted websocket connections",
		}),
		AuthRejections: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanscontrol_hub_auth_rejections_total",
			Help: "Total number of connections closed for a missing or invalid token",
		}),
		NotificationsDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanscontrol_hub_notifications_delivered_total",
			Help: "Total number of entry/exit notifications delivered to a recipient",
		}),
		NotificationFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanscontrol_hub_notification_failures_total",
			Help: "Total number of notification sends that failed against a live transport",
		}),
		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vanscontrol_hub_snapshot_duration_seconds",
			Help:    "Duration of snapshot assembly (pending presence plus history)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// ConnectionOpened records an accepted connection entering the registry.
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsTotal.Inc()
	m.ConnectionsActive.Inc()
}

// ConnectionClosed records a connection leaving the registry.
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// ObserveSnapshot records the duration of a snapshot assembly.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveSnapshot(start time.Time) {
	m.SnapshotDuration.Observe(time.Since(start).Seconds())
}
