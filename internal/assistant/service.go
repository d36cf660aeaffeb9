// Package assistant runs a chat turn end to end: guardrails, context
// assembly, the model call with fallback, response validation and recording.
package assistant

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"loopsync/backend/internal/conversation"
	"loopsync/backend/internal/dashboard"
	"loopsync/backend/internal/guardrails"
	"loopsync/backend/internal/knowledge"
	"loopsync/backend/internal/models"
	apperrors "loopsync/backend/pkg/errors"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/observability"
	"loopsync/backend/pkg/resilience"
)

const instrumentationName = "loopsync/backend/internal/assistant"

const (
	confidenceModel    = 0.9
	confidenceFallback = 0.6
)

// ErrorMessage is shown when a turn fails unexpectedly
const ErrorMessage = "I'm having trouble responding right now. Please try again in a moment."

// Profile configures one chat endpoint
type Profile struct {
	Name               string
	SystemPrompt       string
	Guardrails         guardrails.Config
	MaxContextMessages int
	InjectDashboard    bool
	InjectKnowledge    bool
}

// Options holds the tunables of the pipeline
type Options struct {
	// Model is reported when the provider reply does not name one
	Model string
	// Timeout bounds each provider call
	Timeout time.Duration
	Coro    Profile
	Legacy  Profile
	Clock   func() time.Time
}

// Deps are the collaborators of the pipeline. Provider may be nil, in which
// case every turn is answered by the fallback responder.
type Deps struct {
	Guardrails *guardrails.Service
	Dashboard  *dashboard.Injector
	Knowledge  *knowledge.Retriever
	Store      *conversation.Store
	Provider   Provider
	Breaker    *resilience.CircuitBreaker
	Metrics    *observability.Metrics
	Log        *logger.Logger
}

// ChatRequest is the body of the primary chat endpoint
type ChatRequest struct {
	Messages []models.ChatMessage `json:"messages"`
}

// ResponseMetadata annotates a primary chat reply
type ResponseMetadata struct {
	Confidence       float64 `json:"confidence"`
	Model            string  `json:"model,omitempty"`
	Actionable       bool    `json:"actionable,omitempty"`
	SensitiveWarning string  `json:"sensitiveWarning,omitempty"`
	Mock             bool    `json:"mock,omitempty"`
	Blocked          bool    `json:"blocked,omitempty"`
	Error            bool    `json:"error,omitempty"`
	Reason           string  `json:"reason,omitempty"`
	Suggestion       string  `json:"suggestion,omitempty"`
	ResponseTime     int64   `json:"responseTime,omitempty"`
}

// ChatResponse is the reply of the primary chat endpoint
type ChatResponse struct {
	Message  string           `json:"message"`
	Metadata ResponseMetadata `json:"metadata"`
}

// ErrorResponse is the generic reply used when a turn fails unexpectedly
func ErrorResponse() ChatResponse {
	return ChatResponse{
		Message:  ErrorMessage,
		Metadata: ResponseMetadata{Confidence: 0, Error: true},
	}
}

// LegacyRequest is the body of the legacy chat endpoint
type LegacyRequest struct {
	Messages []models.ChatMessage `json:"messages"`
	UserID   string               `json:"userId"`
}

// LegacyResponse is the reply of the legacy chat endpoint
type LegacyResponse struct {
	Role         models.Role `json:"role"`
	Content      string      `json:"content"`
	Warning      string      `json:"warning,omitempty"`
	ResponseTime int64       `json:"responseTime,omitempty"`
}

// Service is the assistant pipeline
type Service struct {
	guard     *guardrails.Service
	injector  *dashboard.Injector
	knowledge *knowledge.Retriever
	store     *conversation.Store
	provider  Provider
	breaker   *resilience.CircuitBreaker
	metrics   *observability.Metrics
	log       *logger.Logger

	opts    Options
	now     func() time.Time
	tracer  trace.Tracer
	latency metric.Float64Histogram
}

// NewService wires the pipeline
func NewService(deps Deps, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	s := &Service{
		guard:     deps.Guardrails,
		injector:  deps.Dashboard,
		knowledge: deps.Knowledge,
		store:     deps.Store,
		provider:  deps.Provider,
		breaker:   deps.Breaker,
		metrics:   deps.Metrics,
		log:       deps.Log.WithComponent("assistant"),
		opts:      opts,
		now:       opts.Clock,
		tracer:    otel.Tracer(instrumentationName),
	}

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"assistant.llm.latency",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency of provider calls"),
	)
	if err != nil {
		s.log.LogError(err, "Failed to create latency histogram")
	} else {
		s.latency = latency
	}
	return s
}

// HasProvider reports whether a model provider is configured
func (s *Service) HasProvider() bool {
	return s.provider != nil
}

// Chat runs one turn of the primary endpoint. The only error it returns is an
// input validation error; every other failure is absorbed into the reply.
func (s *Service) Chat(ctx context.Context, identity string, req ChatRequest) (ChatResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.chat", trace.WithAttributes(attribute.String("profile", s.opts.Coro.Name)))
	defer span.End()

	content, err := validateMessages(req.Messages)
	if err != nil {
		s.metrics.ObserveChat("coro", "invalid")
		return ChatResponse{}, err
	}

	decision := s.runGuardrails(ctx, content, identity, s.opts.Coro)
	if !decision.Allowed {
		s.recordBlocked(identity, content, decision)
		s.metrics.ObserveChat("coro", "blocked")
		span.SetAttributes(attribute.Bool("blocked", true))
		return ChatResponse{
			Message: blockedMessage(decision),
			Metadata: ResponseMetadata{
				Confidence: 0,
				Blocked:    true,
				Reason:     decision.Reason,
				Suggestion: decision.Suggestion,
			},
		}, nil
	}

	t := s.turn(ctx, identity, content, req.Messages, s.opts.Coro, decision)

	resp := ChatResponse{
		Message: t.reply,
		Metadata: ResponseMetadata{
			Confidence:       t.confidence(),
			Model:            t.model,
			Actionable:       isActionable(t.reply),
			SensitiveWarning: decision.Warning,
			Mock:             t.mock,
			ResponseTime:     t.responseTime,
		},
	}
	s.metrics.ObserveChat("coro", t.result())
	return resp, nil
}

// LegacyChat runs one turn of the legacy endpoint. Unlike Chat it reports a
// missing provider as an error.
func (s *Service) LegacyChat(ctx context.Context, identity string, req LegacyRequest) (LegacyResponse, error) {
	ctx, span := s.tracer.Start(ctx, "assistant.legacy_chat", trace.WithAttributes(attribute.String("profile", s.opts.Legacy.Name)))
	defer span.End()

	content, err := validateMessages(req.Messages)
	if err != nil {
		s.metrics.ObserveChat("legacy", "invalid")
		return LegacyResponse{}, err
	}
	if s.provider == nil {
		s.metrics.ObserveChat("legacy", "unavailable")
		return LegacyResponse{}, apperrors.NewServiceUnavailableError(apperrors.CodeProviderMissing, "OpenAI API key not configured")
	}

	if req.UserID != "" {
		identity = req.UserID
	}

	decision := s.runGuardrails(ctx, content, identity, s.opts.Legacy)
	if !decision.Allowed {
		s.recordBlocked(identity, content, decision)
		s.metrics.ObserveChat("legacy", "blocked")
		return LegacyResponse{Role: models.RoleAssistant, Content: blockedMessage(decision)}, nil
	}

	t := s.turn(ctx, identity, content, req.Messages, s.opts.Legacy, decision)
	s.metrics.ObserveChat("legacy", t.result())

	warning := decision.Warning
	if warning == "" {
		warning = t.validationWarning
	}
	return LegacyResponse{
		Role:         models.RoleAssistant,
		Content:      t.reply,
		Warning:      warning,
		ResponseTime: t.responseTime,
	}, nil
}

// validateMessages checks the request shape and returns the user text to answer
func validateMessages(messages []models.ChatMessage) (string, error) {
	if len(messages) == 0 {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Messages array is required")
	}
	for _, m := range messages {
		if !m.Role.Valid() {
			return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Invalid message role").
				WithDetails(map[string]string{"role": string(m.Role)})
		}
	}
	last := messages[len(messages)-1]
	if last.Role != models.RoleUser {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Last message must be from user")
	}
	content := strings.TrimSpace(last.Content)
	if content == "" {
		return "", apperrors.NewBadRequestError(apperrors.CodeInvalidRequest, "Message content is required")
	}
	return content, nil
}

func (s *Service) runGuardrails(ctx context.Context, content, identity string, p Profile) models.GuardrailDecision {
	ctx, span := s.tracer.Start(ctx, "assistant.guardrails")
	defer span.End()

	d := s.guard.Run(ctx, content, identity, p.Guardrails)
	span.SetAttributes(attribute.Bool("allowed", d.Allowed), attribute.Bool("warning", d.Warning != ""))
	return d
}

// recordBlocked logs a blocked turn. Content filter blocks store the
// sanitized placeholder, never the text that tripped the filter.
func (s *Service) recordBlocked(identity, content string, d models.GuardrailDecision) {
	s.log.Warn("Chat message blocked", "identity", identity, "severity", string(d.Severity))
	if d.SanitizedInput != "" {
		content = d.SanitizedInput
	}
	s.store.Save(identity, models.RoleUser, content, &models.Metadata{Blocked: true, Reason: d.Reason})
}

func blockedMessage(d models.GuardrailDecision) string {
	if d.Suggestion == "" {
		return d.Reason
	}
	return d.Reason + " " + d.Suggestion
}

type turnResult struct {
	reply             string
	model             string
	mock              bool
	fallbackReason    string
	validationWarning string
	responseTime      int64
}

func (t turnResult) confidence() float64 {
	if t.mock {
		return confidenceFallback
	}
	return confidenceModel
}

func (t turnResult) result() string {
	if t.mock {
		return "fallback"
	}
	return "ok"
}

// turn records the user message, calls the model (or the fallback), validates
// the reply and records the assistant message.
func (s *Service) turn(ctx context.Context, identity, content string, history []models.ChatMessage, p Profile, d models.GuardrailDecision) turnResult {
	s.store.Save(identity, models.RoleUser, content, nil)
	start := s.now()

	prompt := s.buildPrompt(ctx, content, history, p)

	var t turnResult
	completion, err := s.callModel(ctx, prompt)
	switch {
	case err != nil:
		t = s.fallback(identity, content, fallbackReason(err), err)
	default:
		v := s.guard.ValidateResponse(completion.Content)
		if !v.Allowed {
			t = s.fallback(identity, content, "validation_failed", errors.New(v.Reason))
		} else {
			t = turnResult{reply: completion.Content, model: completion.Model, validationWarning: v.Warning}
			if v.Warning != "" {
				s.log.Info("Model reply flagged by validation", "identity", identity, "warning", v.Warning)
			}
		}
	}
	t.responseTime = s.now().Sub(start).Milliseconds()

	meta := &models.Metadata{
		ResponseTime:     t.responseTime,
		Model:            t.model,
		Mock:             t.mock,
		Confidence:       t.confidence(),
		SensitiveWarning: d.Warning,
		Warning:          t.validationWarning,
	}
	s.store.Save(identity, models.RoleAssistant, t.reply, meta)
	return t
}

// buildPrompt assembles system prompt, dashboard context, knowledge and the
// truncated history. Client supplied system messages are dropped.
func (s *Service) buildPrompt(ctx context.Context, content string, history []models.ChatMessage, p Profile) CompletionRequest {
	_, span := s.tracer.Start(ctx, "assistant.context")
	defer span.End()

	var sys strings.Builder
	sys.WriteString(p.SystemPrompt)
	if p.InjectDashboard && s.injector != nil {
		sys.WriteString("\n\n")
		sys.WriteString(s.injector.ContextForQuery(content))
	}
	if p.InjectKnowledge && s.knowledge != nil {
		if kb := s.knowledge.RelevantKnowledge(content); kb != "" {
			sys.WriteString("\n\n")
			sys.WriteString(kb)
			span.SetAttributes(attribute.Bool("knowledge", true))
		}
	}

	messages := make([]models.ChatMessage, 0, len(history)+1)
	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: sys.String()})
	for _, m := range history {
		if m.Role != models.RoleSystem {
			messages = append(messages, m)
		}
	}
	messages = guardrails.ManageContext(messages, p.MaxContextMessages)
	span.SetAttributes(attribute.Int("messages", len(messages)))

	return CompletionRequest{Messages: messages}
}

var errNoProvider = errors.New("no provider configured")

func (s *Service) callModel(ctx context.Context, req CompletionRequest) (Completion, error) {
	if s.provider == nil {
		return Completion{}, errNoProvider
	}

	ctx, span := s.tracer.Start(ctx, "assistant.model")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	start := s.now()
	var completion Completion
	call := func(ctx context.Context) error {
		var err error
		completion, err = s.provider.Complete(ctx, req)
		return err
	}

	var err error
	if s.breaker != nil {
		err = s.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	elapsed := float64(s.now().Sub(start).Milliseconds())
	if s.latency != nil {
		s.latency.Record(ctx, elapsed, metric.WithAttributes(attribute.Bool("success", err == nil)))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ObserveLLMCall("error")
		return Completion{}, err
	}
	if completion.Model == "" {
		completion.Model = s.opts.Model
	}
	s.metrics.ObserveLLMCall("ok")
	return completion, nil
}

func fallbackReason(err error) string {
	switch {
	case errors.Is(err, errNoProvider):
		return "no_provider"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "provider_error"
	}
}

func (s *Service) fallback(identity, content, reason string, cause error) turnResult {
	if reason == "no_provider" {
		s.log.Debug("Answering with fallback responder", "identity", identity, "reason", reason)
	} else {
		s.log.Warn("Model call failed, answering with fallback responder", "identity", identity, "reason", reason, "error", cause.Error())
	}
	s.metrics.ObserveFallback(reason)
	return turnResult{reply: FallbackReply(content), mock: true, fallbackReason: reason}
}
