package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay service
type Metrics struct {
	// Session metrics
	ConnectedSessions prometheus.Gauge
	TotalSessions     prometheus.Gauge
	SessionRestores   prometheus.Counter
	RestoreErrors     prometheus.Counter

	// Redirection metrics
	ActiveRedirections prometheus.Gauge
	MessagesForwarded  prometheus.Counter
	ForwardErrors      *prometheus.CounterVec
	EditsObserved      prometheus.Counter
	ForwardDuration    prometheus.Histogram

	// Heartbeat metrics
	Heartbeats prometheus.Counter

	// Kafka metrics
	KafkaMessagesProduced prometheus.Counter
	KafkaProduceErrors    prometheus.Counter
}

var (
	// DefaultMetrics is the default metrics instance
	DefaultMetrics *Metrics
	once           sync.Once
)

// GetDefaultMetrics returns the singleton metrics instance
func GetDefaultMetrics() *Metrics {
	once.Do(func() {
		DefaultMetrics = NewMetrics()
	})
	return DefaultMetrics
}

func init() {
	GetDefaultMetrics()
}

// NewMetrics creates a new Metrics instance with all counters and gauges
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectedSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_service_connected_sessions",
			Help: "Current number of live account connections",
		}),
		TotalSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_service_total_sessions",
			Help: "Total number of persisted account sessions",
		}),
		SessionRestores: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_session_restores_total",
			Help: "Total number of successful session restores",
		}),
		RestoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_restore_errors_total",
			Help: "Total number of failed session restores",
		}),

		ActiveRedirections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "relay_service_active_redirections",
			Help: "Current number of active redirection rules",
		}),
		MessagesForwarded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_messages_forwarded_total",
			Help: "Total number of messages forwarded to destinations",
		}),
		ForwardErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_service_forward_errors_total",
				Help: "Total number of forwarding errors",
			},
			[]string{"error_type"},
		),
		EditsObserved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_edits_observed_total",
			Help: "Total number of edited messages observed on matched sources",
		}),
		ForwardDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_service_forward_duration_seconds",
			Help:    "Duration of individual forward operations in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		Heartbeats: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_heartbeats_total",
			Help: "Total number of heartbeat ticks",
		}),

		KafkaMessagesProduced: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_kafka_messages_produced_total",
			Help: "Total number of audit events produced to Kafka",
		}),
		KafkaProduceErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "relay_service_kafka_produce_errors_total",
			Help: "Total number of Kafka produce errors",
		}),
	}
}

// RecordForward records a successful forward with its duration
func (m *Metrics) RecordForward(duration float64) {
	m.MessagesForwarded.Inc()
	m.ForwardDuration.Observe(duration)
}

// RecordForwardError records a forwarding error with error type
func (m *Metrics) RecordForwardError(errorType string) {
	if errorType == "" {
		errorType = "unknown"
	}
	m.ForwardErrors.WithLabelValues(errorType).Inc()
}

// RecordEdit records an edited message observed on a matched source
func (m *Metrics) RecordEdit() {
	m.EditsObserved.Inc()
}

// UpdateSessions updates session gauges
func (m *Metrics) UpdateSessions(connected, total int) {
	m.ConnectedSessions.Set(float64(connected))
	m.TotalSessions.Set(float64(total))
}

// UpdateActiveRedirections updates the active redirections gauge
func (m *Metrics) UpdateActiveRedirections(count int) {
	m.ActiveRedirections.Set(float64(count))
}

// RecordRestore records one session restore outcome
func (m *Metrics) RecordRestore(success bool) {
	if success {
		m.SessionRestores.Inc()
	} else {
		m.RestoreErrors.Inc()
	}
}

// RecordHeartbeat records one heartbeat tick
func (m *Metrics) RecordHeartbeat() {
	m.Heartbeats.Inc()
}

// RecordKafkaMessage records one audit event handed to the producer
func (m *Metrics) RecordKafkaMessage() {
	m.KafkaMessagesProduced.Inc()
}

// RecordKafkaError records one audit publish failure
func (m *Metrics) RecordKafkaError() {
	m.KafkaProduceErrors.Inc()
}
