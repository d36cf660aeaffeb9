package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/internal/models"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestAskLocalUsesFallback(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")
	t.Setenv("VAULT_ENABLED", "false")
	t.Setenv("DASHBOARD_SNAPSHOT_PATH", "")

	out, err := run(t, "ask", "How", "is", "team", "morale?")
	require.NoError(t, err)
	assert.Contains(t, out, "[fallback")
}

func TestAskRemote(t *testing.T) {
	var gotIdentity string
	var gotReq assistant.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/coro", r.URL.Path)
		gotIdentity = r.Header.Get("X-Forwarded-For")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(assistant.ChatResponse{
			Message:  "Engineering is at 64/100.",
			Metadata: assistant.ResponseMetadata{Confidence: 0.9, Model: "gpt-4o-mini"},
		})
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "--user", "198.51.100.9", "ask", "engineering", "health")
	require.NoError(t, err)

	assert.Equal(t, "198.51.100.9", gotIdentity)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "engineering health", gotReq.Messages[0].Content)
	assert.Contains(t, out, "Engineering is at 64/100.")
	assert.Contains(t, out, "[gpt-4o-mini, confidence 0.9]")
}

func TestAskRemoteErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Invalid request body"}`))
	}))
	defer srv.Close()

	_, err := run(t, "--server", srv.URL, "ask", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400 Invalid request body")
}

func TestKnowledgeSearch(t *testing.T) {
	out, err := run(t, "knowledge", "--limit", "2", "burnout")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.LessOrEqual(t, len(lines), 2)
	assert.NotContains(t, out, "No matching articles.")
}

func TestKnowledgeNoMatch(t *testing.T) {
	out, err := run(t, "knowledge", "zzqx")
	require.NoError(t, err)
	assert.Equal(t, "No matching articles.\n", out)
}

func TestContextCommand(t *testing.T) {
	full, err := run(t, "context")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(full))

	focused, err := run(t, "context", "who", "is", "at", "risk", "of", "burnout?")
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(focused))
	assert.NotEqual(t, full, focused)
}

func TestContextMissingSnapshot(t *testing.T) {
	_, err := run(t, "context", "--snapshot", t.TempDir()+"/missing.yaml")
	assert.Error(t, err)
}

func TestAnalyticsNeedsServer(t *testing.T) {
	_, err := run(t, "analytics")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--server")
}

func TestAnalyticsRemote(t *testing.T) {
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(models.AnalyticsMetrics{TotalMessages: 4})
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "analytics", "--from", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "from=2026-01-01T00%3A00%3A00Z", query)
	assert.Contains(t, out, `"totalMessages": 4`)
}

func TestHistoryRemote(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{"messages": []models.ChatMessage{
			{Role: models.RoleUser, Content: "hello", Timestamp: ts},
			{Role: models.RoleAssistant, Content: "hi there", Timestamp: ts.Add(time.Second)},
		}})
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "history", "-n", "5")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "2026-03-01T09:30:00Z  user"))
	assert.Contains(t, lines[1], "hi there")
}
