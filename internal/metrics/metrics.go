package metrics

import (
	"context"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eci-platform/notifyd/internal/domain"
	"github.com/eci-platform/notifyd/internal/events"
)

// Metrics holds the delivery counters exposed on /metrics.
type Metrics struct {
	Delivered *prometheus.CounterVec
	Failed    *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	Submitted *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_jobs_delivered_total",
			Help: "Notification jobs that reached DELIVERED.",
		}, []string{"channel"}),
		Failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_jobs_failed_total",
			Help: "Notification jobs that reached FAILED, by error kind.",
		}, []string{"channel", "kind"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_job_retries_total",
			Help: "Retry schedules after a retryable provider failure.",
		}, []string{"channel"}),
		Submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifyd_jobs_submitted_total",
			Help: "Notification jobs accepted by the dispatch engine.",
		}, []string{"channel"}),
	}
	reg.MustRegister(m.Delivered, m.Failed, m.Retries, m.Submitted)
	return m
}

// Record subscribes to the delivery event hub and updates the counters
// until ctx is cancelled.
func (m *Metrics) Record(ctx context.Context, hub *events.Hub) {
	sub := &events.Subscriber{
		ID:     "metrics-" + uuid.New().String(),
		Events: make(chan events.DeliveryEvent, 256),
	}
	hub.Subscribe(sub)
	defer hub.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-sub.Events:
			m.observe(ev)
		}
	}
}

func (m *Metrics) observe(ev events.DeliveryEvent) {
	channel := string(ev.Channel)
	switch ev.State {
	case domain.StatePending:
		m.Submitted.WithLabelValues(channel).Inc()
	case domain.StateDelivered:
		m.Delivered.WithLabelValues(channel).Inc()
	case domain.StateRetrying:
		m.Retries.WithLabelValues(channel).Inc()
	case domain.StateFailed:
		m.Failed.WithLabelValues(channel, string(ev.ErrorKind)).Inc()
	}
}
