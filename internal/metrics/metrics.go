package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "maf"

// Metrics holds the collectors for access lifecycle operations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Reviews       *prometheus.CounterVec
	Webhooks      *prometheus.CounterVec
	Notifications *prometheus.CounterVec
	Transitions   *prometheus.CounterVec
	Requests      *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// New registers the collectors with reg, reusing collectors that were
// already registered.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error

	if m.Reviews, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "review",
		Name:      "decisions_total",
		Help:      "Certificate review decisions partitioned by decision and result.",
	}, []string{"decision", "result"})); err != nil {
		return nil, err
	}

	if m.Webhooks, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "hotmart",
		Name:      "webhook_events_total",
		Help:      "Hotmart webhook events partitioned by event and outcome.",
	}, []string{"event", "outcome"})); err != nil {
		return nil, err
	}

	if m.Notifications, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notify",
		Name:      "notifications_total",
		Help:      "Access notifications partitioned by kind and result.",
	}, []string{"kind", "result"})); err != nil {
		return nil, err
	}

	if m.Transitions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "access",
		Name:      "transitions_total",
		Help:      "Access status changes partitioned by trigger and target status.",
	}, []string{"trigger", "status"})); err != nil {
		return nil, err
	}

	if m.Requests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests partitioned by method, route and status code.",
	}, []string{"method", "route", "status"})); err != nil {
		return nil, err
	}

	if m.Duration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			return c, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		return c, fmt.Errorf("register collector: %w", err)
	}
	return c, nil
}

func (m *Metrics) ObserveReview(decision, result string) {
	if m == nil {
		return
	}
	m.Reviews.WithLabelValues(decision, result).Inc()
}

func (m *Metrics) ObserveWebhook(event, outcome string) {
	if m == nil {
		return
	}
	m.Webhooks.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) ObserveNotification(kind, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) ObserveTransition(trigger, status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(trigger, status).Inc()
}
