package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	MessagesSaved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thank_you_messages_saved_total",
			Help: "Total number of thank you messages saved by action",
		},
		[]string{"action"},
	)
	SlackDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slack_deliveries_total",
			Help: "Total number of Slack delivery attempts by kind and status",
		},
		[]string{"kind", "status"},
	)
	DeliveryDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "slack_delivery_duration_seconds",
			Help:    "Duration of delivering one thank you message to Slack in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 8),
		},
	)
)

// delivery kinds
const (
	KindChannel   = "channel"
	KindEphemeral = "ephemeral"
	KindDirect    = "direct"
	KindUpdate    = "update"
	KindRetract   = "retract"
)

// delivery statuses
const (
	StatusOK       = "ok"
	StatusFallback = "fallback"
	StatusFailed   = "failed"
)

func InitMetrics() {
	collectors := map[string]prometheus.Collector{
		"MessagesSaved":    MessagesSaved,
		"SlackDeliveries":  SlackDeliveries,
		"DeliveryDuration": DeliveryDuration,
	}
	for name, c := range collectors {
		if err := prometheus.Register(c); err != nil {
			log.Error().Err(err).Msgf("Failed to register %s metric", name)
		}
	}
}

// ObserveDelivery は配信1回分の結果を記録する
func ObserveDelivery(kind, status string) {
	SlackDeliveries.WithLabelValues(kind, status).Inc()
}
