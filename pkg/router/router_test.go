package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/pkg/config"
	"loopsync/backend/pkg/di"
	"loopsync/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type cannedProvider struct{ reply string }

func (p cannedProvider) Complete(context.Context, assistant.CompletionRequest) (assistant.Completion, error) {
	return assistant.Completion{Content: p.reply, Model: "canned-model"}, nil
}

func newRouter(t *testing.T, mutate func(*config.Config), provider assistant.Provider) *Router {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Load()
	cfg.RateLimit.Backend = "memory"
	cfg.Dashboard.SnapshotPath = ""
	cfg.Vault.Enabled = false
	cfg.Observability.TracingEnabled = false
	cfg.Security.OpenAPISchemaPath = ""
	cfg.LLM.APIKey = ""
	if mutate != nil {
		mutate(cfg)
	}

	container, err := di.New(context.Background(), cfg, logger.Nop(), di.Overrides{Provider: provider})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Stop(context.Background()) })
	container.Health.RunChecks(context.Background())

	r := New(container)
	r.SetupRoutes()
	return r
}

func send(r http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCoroRouteUsesProvider(t *testing.T) {
	r := newRouter(t, nil, cannedProvider{reply: "Engineering scores 64/100; consider rebalancing workload this sprint."})

	w := send(r.Engine, http.MethodPost, "/api/coro", `{"messages":[{"role":"user","content":"How is engineering?"}]}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp assistant.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Metadata.Mock)
	assert.Equal(t, "canned-model", resp.Metadata.Model)
	assert.InDelta(t, 0.9, resp.Metadata.Confidence, 1e-9)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestLegacyRouteWithoutKey(t *testing.T) {
	r := newRouter(t, nil, nil)

	w := send(r.Engine, http.MethodPost, "/api/chat", `{"messages":[{"role":"user","content":"hi there"}],"userId":"u1"}`, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "OpenAI API key not configured")
}

func TestHealthRoutes(t *testing.T) {
	r := newRouter(t, nil, nil)

	for _, path := range []string{"/health", "/api/health"} {
		w := send(r.Engine, http.MethodGet, path, "", nil)
		require.Equal(t, http.StatusOK, w.Code, path)

		var body struct {
			Status     string `json:"status"`
			Components []struct {
				Name   string `json:"name"`
				Status string `json:"status"`
			} `json:"components"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "ok", body.Status)

		statuses := map[string]string{}
		for _, c := range body.Components {
			statuses[c.Name] = c.Status
		}
		assert.Equal(t, "degraded", statuses["llm_provider"])
		assert.Equal(t, "up", statuses["dashboard_source"])
		assert.Equal(t, "up", statuses["knowledge"])
		assert.Equal(t, "up", statuses["rate_limit_store"])
	}
}

func TestMetricsRoute(t *testing.T) {
	r := newRouter(t, nil, nil)

	send(r.Engine, http.MethodPost, "/api/coro", `{"messages":[{"role":"user","content":"Any feedback trends?"}]}`, nil)

	w := send(r.Engine, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `loopsync_chat_requests_total{endpoint="coro",result="fallback"} 1`)
	assert.Contains(t, body, `loopsync_fallback_responses_total{reason="no_provider"} 1`)
	assert.Contains(t, body, `route="/api/coro"`)
}

func TestMetricsDisabled(t *testing.T) {
	r := newRouter(t, func(c *config.Config) { c.Observability.MetricsEnabled = false }, nil)
	w := send(r.Engine, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalyticsRouteIsThrottled(t *testing.T) {
	r := newRouter(t, func(c *config.Config) {
		c.Security.APIRateLimit = 0.001
		c.Security.APIRateLimitBurst = 2
	}, nil)

	headers := map[string]string{"X-Forwarded-For": "198.51.100.4"}
	for i := 0; i < 2; i++ {
		w := send(r.Engine, http.MethodGet, "/api/analytics", "", headers)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := send(r.Engine, http.MethodGet, "/api/analytics", "", headers)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	// Chat is not subject to the HTTP limiter
	w = send(r.Engine, http.MethodPost, "/api/coro", `{"messages":[{"role":"user","content":"How is morale?"}]}`, headers)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestOpenAPIValidation(t *testing.T) {
	r := newRouter(t, func(c *config.Config) { c.Security.OpenAPISchemaPath = "../../api/openapi.yaml" }, nil)

	w := send(r.Engine, http.MethodPost, "/api/coro", `{"messages":[{"role":"robot","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = send(r.Engine, http.MethodPost, "/api/coro", `{"messages":[{"role":"user","content":"Tell me about action plans"}]}`, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = send(r.Engine, http.MethodGet, "/api/docs/openapi.yaml", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("LoopSync Coro API")))
}

func TestCORS(t *testing.T) {
	r := newRouter(t, func(c *config.Config) { c.Security.AllowedOrigins = []string{"https://app.loopsync.io"} }, nil)

	w := send(r.Engine, http.MethodOptions, "/api/coro", "", map[string]string{"Origin": "https://app.loopsync.io"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.loopsync.io", w.Header().Get("Access-Control-Allow-Origin"))

	w = send(r.Engine, http.MethodOptions, "/api/coro", "", map[string]string{"Origin": "https://evil.example"})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
