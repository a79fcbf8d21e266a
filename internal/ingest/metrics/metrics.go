package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the ingest module.
type Metrics struct {
	EventsRecorded  *prometheus.CounterVec
	ManualExits     prometheus.Counter
	RecordDuration  prometheus.Histogram
	PublishFailures prometheus.Counter
}

// New creates a new Metrics instance with all ingest module metrics registered.
func New() *Metrics {
	return &Metrics{
		EventsRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vanscontrol_ingest_events_recorded_total",
			Help: "Total number of boarding events durably recorded",
		}, []string{"kind"}),
		ManualExits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanscontrol_ingest_manual_exits_total",
			Help: "Total number of driver-initiated manual exits recorded",
		}),
		RecordDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vanscontrol_ingest_record_duration_seconds",
			Help:    "Duration of the append-then-fan-out sequence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		PublishFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vanscontrol_ingest_publish_failures_total",
			Help: "Total number of ride-event stream publishes that failed",
		}),
	}
}

// IncrementRecorded counts one durably recorded event of the given kind.
func (m *Metrics) IncrementRecorded(kind string) {
	m.EventsRecorded.WithLabelValues(kind).Inc()
}

// ObserveRecord records the duration of one ingestion.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRecord(start time.Time) {
	m.RecordDuration.Observe(time.Since(start).Seconds())
}
