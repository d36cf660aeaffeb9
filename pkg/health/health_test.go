package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"loopsync/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

func grpcStatus(t *testing.T, c *Checker) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.GRPCServer().Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	return resp.Status
}

func TestCriticalFailureMakesSystemUnhealthy(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	storeErr := errors.New("dial tcp: connection refused")
	c.RegisterCheck("rate_limit_store", true, Ping("Redis reachable", StatusDown, func(context.Context) error {
		return storeErr
	}))

	c.RunChecks(context.Background())

	assert.False(t, c.IsSystemHealthy())
	status := c.GetStatus()
	assert.Equal(t, StatusDown, status["rate_limit_store"].Status)
	assert.Equal(t, storeErr.Error(), status["rate_limit_store"].Error)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, grpcStatus(t, c))
}

func TestDegradedNonCriticalStaysHealthy(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RegisterCheck("llm_provider", false, Configured(func() bool { return false },
		"Provider configured", "No API key, answering with fallback responder"))

	c.RunChecks(context.Background())

	assert.True(t, c.IsSystemHealthy())
	assert.Equal(t, StatusDegraded, c.GetStatus()["llm_provider"].Status)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, grpcStatus(t, c))
}

func TestGetStatusReturnsCopies(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	c.RunChecks(context.Background())

	status := c.GetStatus()
	status["self"].Status = StatusDown
	assert.Equal(t, StatusUp, c.GetStatus()["self"].Status)
}

func TestHandler(t *testing.T) {
	c := NewChecker(logger.Nop(), time.Minute)
	healthy := true
	c.RegisterCheck("dashboard_source", true, func(context.Context) (Status, string, error) {
		if healthy {
			return StatusUp, "Snapshot loaded", nil
		}
		return StatusDown, "Snapshot missing", nil
	})
	c.RunChecks(context.Background())

	r := gin.New()
	r.GET("/health", c.Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status     string      `json:"status"`
		Components []Component `json:"components"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Components, 2)
	assert.Equal(t, "dashboard_source", body.Components[0].Name)
	assert.Equal(t, "self", body.Components[1].Name)

	healthy = false
	c.RunChecks(context.Background())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestStartStop(t *testing.T) {
	c := NewChecker(logger.Nop(), 10*time.Millisecond)
	runs := make(chan struct{}, 16)
	c.RegisterCheck("probe", false, func(context.Context) (Status, string, error) {
		select {
		case runs <- struct{}{}:
		default:
		}
		return StatusUp, "ok", nil
	})

	c.Start(context.Background())
	c.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(2 * time.Second):
			t.Fatal("checks did not run")
		}
	}

	c.Stop()
	c.Stop()
	assert.Equal(t, StatusUp, c.GetStatus()["probe"].Status)
}
