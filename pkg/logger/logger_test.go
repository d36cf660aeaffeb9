package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", JSON: true, Output: &buf})

	l.WithIdentity("10.0.0.1").LogError(errors.New("boom"), "provider failed", "attempt", 2)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "provider failed", entry["msg"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "10.0.0.1", entry["identity"])
	assert.EqualValues(t, 2, entry["attempt"])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "warn", JSON: false, Output: &buf})

	l.Info("hidden")
	assert.Empty(t, buf.String())

	l.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestMiddlewareSetsRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := New(Config{Level: "info", JSON: true, Output: &buf})

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/ping", func(c *gin.Context) {
		assert.NotNil(t, FromContext(c))
		c.String(http.StatusOK, "pong")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	assert.Contains(t, buf.String(), "request completed")
}
