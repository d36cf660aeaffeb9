package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	cfg := Load()

	assert.Equal(t, "8081", cfg.Server.Port)
	assert.Equal(t, 10, cfg.Guardrails.Coro.Limits.MaxPerMinute)
	assert.Equal(t, 100, cfg.Guardrails.Coro.Limits.MaxPerHour)
	assert.Equal(t, 10, cfg.Guardrails.MinResponseLength)
	assert.Equal(t, 5000, cfg.Guardrails.MaxResponseLength)
	assert.Equal(t, time.Hour, cfg.Conversation.SessionWindow)
	assert.Equal(t, 30, cfg.Conversation.RetentionDays)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Empty(t, cfg.LLM.APIKey)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_MAX_PER_MINUTE", "3")
	t.Setenv("CORO_SENSITIVE_CHECK", "false")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg := Load()

	assert.Equal(t, 3, cfg.Guardrails.Legacy.Limits.MaxPerMinute)
	assert.Equal(t, 10, cfg.Guardrails.Coro.Limits.MaxPerMinute)
	assert.False(t, cfg.Guardrails.Coro.EnableSensitiveCheck)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Security.AllowedOrigins)
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("CONVERSATION_RETENTION_DAYS", "lots")
	t.Setenv("LLM_TEMPERATURE", "warm")

	cfg := Load()

	assert.Equal(t, 30, cfg.Conversation.RetentionDays)
	assert.InDelta(t, 0.7, cfg.LLM.Temperature, 0.0001)
}
