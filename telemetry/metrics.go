package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	berr "github.com/next-trace/scg-service-runtime/contract/errors"
	"github.com/next-trace/scg-service-runtime/saga"
	"github.com/next-trace/scg-service-runtime/servicebus"
)

const namespace = "scg"

const (
	outcomeOK      = "ok"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Metrics records dispatcher and saga outcomes on its own Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	handled       *prometheus.CounterVec
	handleSeconds *prometheus.HistogramVec
	calls         *prometheus.CounterVec
	callSeconds   *prometheus.HistogramVec

	steps         *prometheus.CounterVec
	stepSeconds   *prometheus.HistogramVec
	compensations *prometheus.CounterVec
	sagas         *prometheus.CounterVec
	sagaSeconds   *prometheus.HistogramVec
}

var (
	_ servicebus.Observer = (*Metrics)(nil)
	_ saga.Observer       = (*Metrics)(nil)
)

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_handled_total",
			Help:      "Inbound messages handled, by kind, method and outcome.",
		}, []string{"kind", "method", "outcome"}),
		handleSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_handle_seconds",
			Help:      "Handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "method"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Outbound calls and publishes, by kind, target and outcome.",
		}, []string{"kind", "target", "outcome"}),
		callSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_seconds",
			Help:      "Outbound call latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "target"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_step_attempts_total",
			Help:      "Saga step attempts, by saga type, step and outcome.",
		}, []string{"saga_type", "step", "outcome"}),
		stepSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "saga_step_seconds",
			Help:      "Saga step attempt latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"saga_type", "step"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saga_compensations_total",
			Help:      "Compensation calls, by saga type, step and outcome.",
		}, []string{"saga_type", "step", "outcome"}),
		sagas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sagas_finished_total",
			Help:      "Finished saga executions, by saga type and terminal state.",
		}, []string{"saga_type", "state"}),
		sagaSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "saga_duration_seconds",
			Help:      "Time from saga start to terminal state.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"saga_type"}),
	}

	m.registry.MustRegister(
		m.handled, m.handleSeconds, m.calls, m.callSeconds,
		m.steps, m.stepSeconds, m.compensations, m.sagas, m.sagaSeconds,
	)

	return m
}

// Registry exposes the underlying registry, e.g. to add process collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveHandled(kind servicebus.Kind, method string, elapsed time.Duration, err error) {
	m.handled.WithLabelValues(string(kind), method, outcome(err)).Inc()
	m.handleSeconds.WithLabelValues(string(kind), method).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCall(kind servicebus.Kind, target string, elapsed time.Duration, err error) {
	m.calls.WithLabelValues(string(kind), target, outcome(err)).Inc()
	m.callSeconds.WithLabelValues(string(kind), target).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveStep(sagaType, step string, elapsed time.Duration, err error) {
	m.steps.WithLabelValues(sagaType, step, outcome(err)).Inc()
	m.stepSeconds.WithLabelValues(sagaType, step).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveCompensation(sagaType, step string, err error) {
	m.compensations.WithLabelValues(sagaType, step, outcome(err)).Inc()
}

func (m *Metrics) ObserveSaga(sagaType string, state saga.State, elapsed time.Duration) {
	m.sagas.WithLabelValues(sagaType, string(state)).Inc()
	m.sagaSeconds.WithLabelValues(sagaType).Observe(elapsed.Seconds())
}

func outcome(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case errors.Is(err, berr.ErrRemoteTimeout), errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
