package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"loopsync/backend/internal/models"
)

// ErrNoAPIKey is returned when the provider is configured without credentials
var ErrNoAPIKey = errors.New("llm api key not configured")

// CompletionRequest is a chat completion call; Messages already include the system prompt
type CompletionRequest struct {
	Messages []models.ChatMessage
}

// Completion is the provider's reply
type Completion struct {
	Content string
	Model   string
}

// Provider produces chat completions
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// ProviderConfig configures an OpenAI-compatible provider
type ProviderConfig struct {
	APIKey string
	// BaseURL overrides the API root, e.g. for Azure-style gateways or local models
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	HTTPClient  *http.Client
}

// OpenAIProvider calls any OpenAI-compatible chat completion endpoint
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates a provider; it fails with ErrNoAPIKey when no key is set
func NewOpenAIProvider(cfg ProviderConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the configured model name
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Complete implements Provider
func (p *OpenAIProvider) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    toOpenAIRole(m.Role),
			Content: m.Content,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Completion{}, fmt.Errorf("chat completion failed with status %d: %w", apiErr.HTTPStatusCode, err)
		}
		return Completion{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, errors.New("chat completion returned no choices")
	}

	model := resp.Model
	if model == "" {
		model = p.model
	}
	return Completion{Content: resp.Choices[0].Message.Content, Model: model}, nil
}

func toOpenAIRole(r models.Role) string {
	switch r {
	case models.RoleSystem:
		return openai.ChatMessageRoleSystem
	case models.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
