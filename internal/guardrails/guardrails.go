package guardrails

import (
	"context"
	"strings"

	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/observability"
)

// Config toggles the pre-call stages; a disabled stage always allows
type Config struct {
	EnableContentFilter  bool
	EnableRateLimit      bool
	EnableSensitiveCheck bool
	Limits               Limits
}

// ResponseLimits bounds the accepted model reply length
type ResponseLimits struct {
	MinLength int
	MaxLength int
}

// DefaultResponseLimits mirrors the production thresholds
func DefaultResponseLimits() ResponseLimits {
	return ResponseLimits{MinLength: 10, MaxLength: 5000}
}

var limitationPhrases = []string{
	"as an ai language model",
	"as an ai model",
	"i don't have access to the internet",
	"i do not have access to the internet",
	"i cannot browse the internet",
	"i can't browse the internet",
	"i don't have real-time",
	"i do not have real-time",
	"my knowledge cutoff",
	"i'm unable to access external",
}

// Service runs the pre-call guardrails and the post-call response check
type Service struct {
	limiter  *RateLimiter
	response ResponseLimits
	metrics  *observability.Metrics
	log      *logger.Logger
}

// NewService creates the guardrails orchestrator
func NewService(limiter *RateLimiter, response ResponseLimits, metrics *observability.Metrics, log *logger.Logger) *Service {
	if response.MinLength <= 0 {
		response.MinLength = DefaultResponseLimits().MinLength
	}
	if response.MaxLength <= 0 {
		response.MaxLength = DefaultResponseLimits().MaxLength
	}
	return &Service{
		limiter:  limiter,
		response: response,
		metrics:  metrics,
		log:      log.WithComponent("guardrails"),
	}
}

// Run applies banned content, rate limit and sensitive content checks in that
// order. The first two can block; the sensitive result is always final.
func (s *Service) Run(ctx context.Context, content, userID string, cfg Config) models.GuardrailDecision {
	if cfg.EnableContentFilter {
		if d := CheckBannedContent(content); !d.Allowed {
			s.log.Warn("Message blocked by content filter", "identity", userID, "category", bannedCategory(content))
			s.metrics.ObserveGuardrail("content_filter", "blocked")
			return d
		}
	}

	if cfg.EnableRateLimit && s.limiter != nil {
		if d := s.limiter.Check(ctx, userID, cfg.Limits); !d.Allowed {
			s.metrics.ObserveGuardrail("rate_limit", "blocked")
			return d
		}
	}

	if cfg.EnableSensitiveCheck {
		d := CheckSensitiveContent(content)
		if d.Warning != "" {
			s.log.Info("Sensitive topic detected", "identity", userID)
			s.metrics.ObserveGuardrail("sensitive", "warned")
		} else {
			s.metrics.ObserveGuardrail("sensitive", "passed")
		}
		return d
	}

	return models.Allow()
}

// ValidateResponse rejects empty or degenerate replies and flags suspicious ones
func (s *Service) ValidateResponse(text string) models.GuardrailDecision {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || len([]rune(trimmed)) < s.response.MinLength {
		s.metrics.ObserveGuardrail("response", "rejected")
		return models.GuardrailDecision{
			Allowed:  false,
			Reason:   "Response too short or empty",
			Severity: models.SeverityMedium,
		}
	}

	if len([]rune(trimmed)) > s.response.MaxLength {
		s.metrics.ObserveGuardrail("response", "flagged")
		return models.GuardrailDecision{
			Allowed:  true,
			Warning:  "Response exceeds the maximum expected length",
			Severity: models.SeverityLow,
		}
	}

	lower := strings.ToLower(trimmed)
	for _, phrase := range limitationPhrases {
		if strings.Contains(lower, phrase) {
			s.metrics.ObserveGuardrail("response", "flagged")
			return models.GuardrailDecision{
				Allowed:  true,
				Warning:  "Response contains generic AI limitation language",
				Severity: models.SeverityLow,
			}
		}
	}

	s.metrics.ObserveGuardrail("response", "passed")
	return models.Allow()
}
