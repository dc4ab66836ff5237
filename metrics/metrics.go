// Package metrics exposes the service's Prometheus instruments.
//
// All instruments live on a private registry so tests can build a fresh
// Metrics without colliding with the global default registry. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "restobot"

// Metrics groups every instrument the service records.
type Metrics struct {
	registry *prometheus.Registry

	WebhookRequests  *prometheus.CounterVec
	InboundMessages  *prometheus.CounterVec
	StatusUpdates    *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	BotFailures      *prometheus.CounterVec
	OutboundMessages *prometheus.CounterVec
	Escalations      prometheus.Counter
	StaffActions     *prometheus.CounterVec
	JobDuration      prometheus.Histogram
	JobResults       *prometheus.CounterVec
	QueueDepth       prometheus.Gauge
	DeadLetters      prometheus.Gauge
	BreakerState     *prometheus.GaugeVec
	MessageCost      *prometheus.CounterVec
}

// New registers all instruments on a new registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WebhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_requests_total",
			Help: "Webhook HTTP requests by method and response code.",
		}, []string{"method", "code"}),
		InboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_messages_total",
			Help: "Inbound customer messages by provider type and outcome.",
		}, []string{"type", "outcome"}),
		StatusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "status_updates_total",
			Help: "Delivery status callbacks by status and outcome.",
		}, []string{"status", "outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bot_transitions_total",
			Help: "Completed bot transitions by source and target state.",
		}, []string{"from", "to"}),
		BotFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bot_failures_total",
			Help: "Bot transitions that ended in the apology path, by stage.",
		}, []string{"stage"}),
		OutboundMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "outbound_messages_total",
			Help: "Outbound sends by message kind, sender and result.",
		}, []string{"kind", "sender", "result"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "escalations_total",
			Help: "Conversations handed from the bot to staff.",
		}),
		StaffActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "staff_actions_total",
			Help: "Staff control surface actions by action and result.",
		}, []string{"action", "result"}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "webhook_job_duration_seconds",
			Help:    "Time spent processing one queued webhook batch.",
			Buckets: prometheus.DefBuckets,
		}),
		JobResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "webhook_jobs_total",
			Help: "Queued webhook batches by result.",
		}, []string{"result"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth",
			Help: "Webhook batches waiting in the queue.",
		}),
		DeadLetters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dead_letters",
			Help: "Webhook batches parked in the dead-letter table.",
		}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuit_breaker_state",
			Help: "Circuit breaker state per service (0 closed, 1 open, 2 half-open).",
		}, []string{"service"}),
		MessageCost: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "message_cost_total",
			Help: "Accumulated provider cost by pricing category.",
		}, []string{"category"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.WebhookRequests, m.InboundMessages, m.StatusUpdates,
		m.Transitions, m.BotFailures, m.OutboundMessages, m.Escalations,
		m.StaffActions, m.JobDuration, m.JobResults, m.QueueDepth,
		m.DeadLetters, m.BreakerState, m.MessageCost,
	)
	return m
}

// Registry returns the registry the instruments are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Webhook(method string, code int) {
	if m == nil {
		return
	}
	m.WebhookRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
}

func (m *Metrics) Inbound(msgType, outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(msgType, outcome).Inc()
}

func (m *Metrics) Status(status, outcome string) {
	if m == nil {
		return
	}
	m.StatusUpdates.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) BotFailure(stage string) {
	if m == nil {
		return
	}
	m.BotFailures.WithLabelValues(stage).Inc()
}

// Outbound records one send attempt; result is "ok" or the error kind.
func (m *Metrics) Outbound(kind, sender, result string) {
	if m == nil {
		return
	}
	m.OutboundMessages.WithLabelValues(kind, sender, result).Inc()
}

func (m *Metrics) Escalation() {
	if m == nil {
		return
	}
	m.Escalations.Inc()
}

func (m *Metrics) Staff(action, result string) {
	if m == nil {
		return
	}
	m.StaffActions.WithLabelValues(action, result).Inc()
}

// Job records a processed queue job.
func (m *Metrics) Job(d time.Duration, result string) {
	if m == nil {
		return
	}
	m.JobDuration.Observe(d.Seconds())
	m.JobResults.WithLabelValues(result).Inc()
}

func (m *Metrics) Queue(depth, dead int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
	m.DeadLetters.Set(float64(dead))
}

// Breaker records the state of a circuit breaker. It matches the
// connectivity.WithBreakerOnChange callback once the state is converted.
func (m *Metrics) Breaker(service string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(service).Set(float64(state))
}

func (m *Metrics) Cost(category string, cost float64) {
	if m == nil || cost <= 0 {
		return
	}
	m.MessageCost.WithLabelValues(category).Add(cost)
}
