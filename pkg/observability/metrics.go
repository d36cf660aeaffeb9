package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry   *prometheus.Registry
	guardrails *prometheus.CounterVec
	llmCalls   *prometheus.CounterVec
	fallbacks  *prometheus.CounterVec
	chats      *prometheus.CounterVec
	httpReqs   *prometheus.CounterVec
}

// NewMetrics creates a registry with the service collectors plus the Go and
// process collectors.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		guardrails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guardrail_decisions_total",
			Help:      "Guardrail decisions by stage and outcome.",
		}, []string{"stage", "outcome"}),
		llmCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_calls_total",
			Help:      "Provider calls by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_responses_total",
			Help:      "Fallback replies by reason.",
		}, []string{"reason"}),
		chats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by endpoint and result.",
		}, []string{"endpoint", "result"}),
		httpReqs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(
		m.guardrails, m.llmCalls, m.fallbacks, m.chats, m.httpReqs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry, e.g. for the otel exporter
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveGuardrail(stage, outcome string) {
	if m == nil {
		return
	}
	m.guardrails.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) ObserveLLMCall(outcome string) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveChat(endpoint, result string) {
	if m == nil {
		return
	}
	m.chats.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) ObserveHTTP(route, status string) {
	if m == nil {
		return
	}
	m.httpReqs.WithLabelValues(route, status).Inc()
}
