// Package metrics содержит метрики Prometheus сервиса накоплений.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы проведения платежа.
const (
	OutcomeSettled   = "settled"
	OutcomeCompleted = "completed"
	OutcomeReplay    = "replay"
	OutcomeRejected  = "rejected"
	OutcomeFailed    = "failed"
)

// Metrics объединяет счётчики и гистограммы сервиса.
type Metrics struct {
	Settlements            *prometheus.CounterVec
	SettlementDuration     prometheus.Histogram
	DraftsExpired          prometheus.Counter
	NotificationsPublished prometheus.Counter
	WebhookEvents          *prometheus.CounterVec
}

// New регистрирует метрики в reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Settlements: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dreamsaver",
			Name:      "settlements_total",
			Help:      "Payment settlements by outcome.",
		}, []string{"outcome"}),
		SettlementDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dreamsaver",
			Name:      "settlement_duration_seconds",
			Help:      "Time spent settling one payment into the ledger.",
			Buckets:   prometheus.DefBuckets,
		}),
		DraftsExpired: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dreamsaver",
			Name:      "drafts_expired_total",
			Help:      "Draft goals removed by the expiry sweep.",
		}),
		NotificationsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: "dreamsaver",
			Name:      "notifications_published_total",
			Help:      "Notifications delivered to the event bus.",
		}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dreamsaver",
			Name:      "webhook_events_total",
			Help:      "Payment gateway webhook events by result.",
		}, []string{"result"}),
	}
}

// NewNop возвращает метрики, не привязанные к глобальному реестру. Удобно в тестах.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
