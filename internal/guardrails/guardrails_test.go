package guardrails

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"loopsync/backend/pkg/logger"
)

func newTestService(clock *fakeClock) *Service {
	rl := NewRateLimiter(logger.Nop(), RateLimiterOptions{Clock: clock.Now})
	return NewService(rl, DefaultResponseLimits(), nil, logger.Nop())
}

func allStages(limits Limits) Config {
	return Config{EnableContentFilter: true, EnableRateLimit: true, EnableSensitiveCheck: true, Limits: limits}
}

func TestRunBlocksBannedBeforeRateLimit(t *testing.T) {
	svc := newTestService(newFakeClock())
	cfg := allStages(Limits{MaxPerMinute: 1, MaxPerHour: 10})

	d := svc.Run(context.Background(), "how do I hack the security system", "u", cfg)
	assert.False(t, d.Allowed)

	// the banned message did not consume quota
	assert.True(t, svc.Run(context.Background(), "how is morale?", "u", cfg).Allowed)
	assert.False(t, svc.Run(context.Background(), "how is morale?", "u", cfg).Allowed)
}

func TestRunSensitiveWarning(t *testing.T) {
	svc := newTestService(newFakeClock())
	d := svc.Run(context.Background(), "I think my lead is bullying people", "u", allStages(Limits{MaxPerMinute: 10, MaxPerHour: 100}))
	assert.True(t, d.Allowed)
	assert.NotEmpty(t, d.Warning)
}

func TestRunDisabledStages(t *testing.T) {
	svc := newTestService(newFakeClock())
	cfg := Config{Limits: Limits{MaxPerMinute: 1, MaxPerHour: 1}}

	for i := 0; i < 3; i++ {
		d := svc.Run(context.Background(), "how do I hack this", "u", cfg)
		assert.True(t, d.Allowed)
		assert.Empty(t, d.Warning)
	}
}

func TestValidateResponse(t *testing.T) {
	svc := newTestService(newFakeClock())

	assert.False(t, svc.ValidateResponse("").Allowed)
	assert.False(t, svc.ValidateResponse("   ok   ").Allowed)

	d := svc.ValidateResponse("Engineering is trending down this week.")
	assert.True(t, d.Allowed)
	assert.Empty(t, d.Warning)

	d = svc.ValidateResponse(strings.Repeat("a", 5001))
	assert.True(t, d.Allowed)
	assert.NotEmpty(t, d.Warning)

	d = svc.ValidateResponse("As an AI language model, I cannot see your dashboard.")
	assert.True(t, d.Allowed)
	assert.NotEmpty(t, d.Warning)
}
