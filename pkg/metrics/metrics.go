package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	HandoffEvaluations       *prometheus.CounterVec
	HandoffTriggers          *prometheus.CounterVec
	AlertsCreated            *prometheus.CounterVec
	NotificationsSent        *prometheus.CounterVec
	SignalOperationDuration  *prometheus.HistogramVec
	EmailSendDuration        prometheus.Histogram
	StreamProcessingDuration prometheus.Histogram
	StreamMessagesProcessed  *prometheus.CounterVec
}

// NewMetrics registers collectors with reg; pass prometheus.NewRegistry() in tests
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HandoffEvaluations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_evaluations_total",
			Help: "Total number of handoff evaluations by outcome",
		}, []string{"outcome"}),
		HandoffTriggers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_triggers_total",
			Help: "Total number of triggered handoffs by reason",
		}, []string{"reason"}),
		AlertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_alerts_created_total",
			Help: "Total number of persisted handoff alerts by urgency",
		}, []string{"urgency"}),
		NotificationsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "handoff_notifications_total",
			Help: "Notification channel outcomes",
		}, []string{"channel", "status"}),
		SignalOperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "signal_store_operation_duration_seconds",
			Help:    "Time taken for signal store operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		EmailSendDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "handoff_email_send_duration_seconds",
			Help:    "Time taken by the email sender",
			Buckets: prometheus.DefBuckets,
		}),
		StreamProcessingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stream_processing_duration_seconds",
			Help:    "Time taken to process a batch of message events",
			Buckets: prometheus.DefBuckets,
		}),
		StreamMessagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_messages_processed_total",
			Help: "Total number of message events processed",
		}, []string{"status"}),
	}
}
