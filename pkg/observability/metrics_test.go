package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsCountersAndHandler(t *testing.T) {
	m := NewMetrics("loopsync")
	m.ObserveGuardrail("content_filter", "blocked")
	m.ObserveGuardrail("content_filter", "blocked")
	m.ObserveFallback("no_provider")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `loopsync_guardrail_decisions_total{outcome="blocked",stage="content_filter"} 2`)
	assert.Contains(t, body, `loopsync_fallback_responses_total{reason="no_provider"} 1`)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveGuardrail("x", "y")
		m.ObserveLLMCall("ok")
		m.ObserveFallback("x")
		m.ObserveChat("coro", "ok")
		m.ObserveHTTP("/x", "2xx")
	})
	assert.Nil(t, m.Registry())
}

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(TracingOptions{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupTracingEnabled(t *testing.T) {
	shutdown, err := SetupTracing(TracingOptions{ServiceName: "test", Enabled: true, Writer: io.Discard})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupMeterProvider(t *testing.T) {
	m := NewMetrics("loopsync")
	shutdown, err := SetupMeterProvider("test", m.Registry())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
