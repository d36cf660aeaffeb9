package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/internal/conversation"
	"loopsync/backend/internal/dashboard"
	"loopsync/backend/internal/guardrails"
	"loopsync/backend/internal/knowledge"
	"loopsync/backend/internal/ws"
	"loopsync/backend/pkg/cache"
	"loopsync/backend/pkg/config"
	"loopsync/backend/pkg/health"
	"loopsync/backend/pkg/logger"
	"loopsync/backend/pkg/middleware"
	"loopsync/backend/pkg/observability"
	"loopsync/backend/pkg/redis"
	"loopsync/backend/pkg/resilience"
	"loopsync/backend/pkg/secrets"
)

// APIKeySecret is the secret holding the LLM provider key
const APIKeySecret = "openai-api-key"

// Container holds all the dependencies for the application
type Container struct {
	Config  *config.Config
	Logger  *logger.Logger
	Metrics *observability.Metrics
	Secrets secrets.Manager

	Redis       *goredis.Client
	RateLimiter *guardrails.RateLimiter
	Guardrails  *guardrails.Service

	Dashboard      dashboard.Source
	Injector       *dashboard.Injector
	KnowledgeCache *cache.Cache[string]
	Knowledge      *knowledge.Retriever
	Store          *conversation.Store

	Provider  assistant.Provider
	Breaker   *resilience.CircuitBreaker
	Assistant *assistant.Service

	Hub        *ws.Hub
	APILimiter *middleware.RateLimiter
	Health     *health.Checker

	fileSource *dashboard.FileSource
	shutdowns  []observability.ShutdownFunc
}

// Overrides replaces collaborators, mainly for tests
type Overrides struct {
	Provider assistant.Provider
	Clock    func() time.Time
}

// New builds the container from configuration. Nothing runs in the
// background until Start is called.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, overrides ...Overrides) (*Container, error) {
	var ov Overrides
	if len(overrides) > 0 {
		ov = overrides[0]
	}

	c := &Container{Config: cfg, Logger: log}

	if err := c.initObservability(); err != nil {
		return nil, err
	}
	c.initSecrets()
	c.initRateLimiting(ctx, ov.Clock)

	if err := c.initDashboard(); err != nil {
		return nil, err
	}
	if err := c.initKnowledge(); err != nil {
		return nil, err
	}

	convOpts := conversation.Options{
		SessionWindow: cfg.Conversation.SessionWindow,
		Retention:     time.Duration(cfg.Conversation.RetentionDays) * 24 * time.Hour,
		SweepInterval: cfg.Conversation.SweepInterval,
		Clock:         ov.Clock,
	}
	c.Store = conversation.NewStore(convOpts, log)

	c.initAssistant(ctx, ov)

	c.Hub = ws.NewHub(c.Assistant, log, ws.Options{AllowedOrigins: cfg.Security.AllowedOrigins})

	apiOpts := middleware.DefaultRateLimiterOptions()
	if cfg.Security.APIRateLimit > 0 {
		apiOpts.Limit = rate.Limit(cfg.Security.APIRateLimit)
	}
	if cfg.Security.APIRateLimitBurst > 0 {
		apiOpts.Burst = cfg.Security.APIRateLimitBurst
	}
	c.APILimiter = middleware.NewRateLimiter(log, apiOpts)

	c.initHealth()
	return c, nil
}

func (c *Container) initObservability() error {
	cfg := c.Config
	shutdown, err := observability.SetupTracing(observability.TracingOptions{
		ServiceName: cfg.Observability.ServiceName,
		Enabled:     cfg.Observability.TracingEnabled,
	})
	if err != nil {
		return err
	}
	c.shutdowns = append(c.shutdowns, shutdown)

	if !cfg.Observability.MetricsEnabled {
		return nil
	}
	c.Metrics = observability.NewMetrics("loopsync")
	shutdown, err = observability.SetupMeterProvider(cfg.Observability.ServiceName, c.Metrics.Registry())
	if err != nil {
		return err
	}
	c.shutdowns = append(c.shutdowns, shutdown)
	return nil
}

func (c *Container) initSecrets() {
	cfg := c.Config
	c.Secrets = secrets.NewEnvManager()
	if !cfg.Vault.Enabled {
		return
	}
	vm, err := secrets.NewVaultManager(secrets.VaultConfig{
		Address:     cfg.Vault.Address,
		Token:       cfg.Vault.Token,
		Namespace:   cfg.Vault.Namespace,
		SecretsPath: cfg.Vault.SecretsPath,
		Timeout:     cfg.Vault.Timeout,
	}, c.Logger)
	if err != nil {
		c.Logger.LogError(err, "Vault unavailable, reading secrets from the environment")
		return
	}
	c.Secrets = vm
}

func (c *Container) initRateLimiting(ctx context.Context, clock func() time.Time) {
	cfg := c.Config
	opts := guardrails.RateLimiterOptions{
		SweepInterval: cfg.RateLimit.SweepInterval,
		SweepGrace:    cfg.RateLimit.SweepGrace,
		Clock:         clock,
	}

	if cfg.RateLimit.Backend == "redis" {
		client, err := redis.NewClient(ctx, redis.Options{
			Addr:     cfg.RateLimit.RedisAddr,
			Password: cfg.RateLimit.RedisPassword,
			DB:       cfg.RateLimit.RedisDB,
		})
		if err != nil {
			c.Logger.LogError(err, "Redis unavailable, using in-memory rate limit counters")
		} else {
			c.Redis = client
			opts.Store = guardrails.NewRedisStore(client, "loopsync:ratelimit:")
		}
	}

	c.RateLimiter = guardrails.NewRateLimiter(c.Logger, opts)
	c.Guardrails = guardrails.NewService(c.RateLimiter, guardrails.ResponseLimits{
		MinLength: cfg.Guardrails.MinResponseLength,
		MaxLength: cfg.Guardrails.MaxResponseLength,
	}, c.Metrics, c.Logger)
}

func (c *Container) initDashboard() error {
	path := c.Config.Dashboard.SnapshotPath
	if path == "" {
		src, err := dashboard.DefaultSource()
		if err != nil {
			return fmt.Errorf("failed to load dashboard snapshot: %w", err)
		}
		c.Dashboard = src
	} else {
		src, err := dashboard.NewFileSource(path, c.Logger)
		if err != nil {
			return fmt.Errorf("failed to load dashboard snapshot: %w", err)
		}
		c.Dashboard = src
		if c.Config.Dashboard.Watch {
			c.fileSource = src
		}
	}
	c.Injector = dashboard.NewInjector(c.Dashboard)
	return nil
}

func (c *Container) initKnowledge() error {
	docs, err := knowledge.DefaultCorpus()
	if err != nil {
		return fmt.Errorf("failed to load knowledge corpus: %w", err)
	}
	if c.Config.Knowledge.CacheTTL > 0 {
		c.KnowledgeCache = cache.New[string](cache.Options{
			TTL:      c.Config.Knowledge.CacheTTL,
			MaxItems: c.Config.Knowledge.CacheMaxSize,
		})
	}
	c.Knowledge = knowledge.NewRetriever(docs, c.KnowledgeCache, c.Logger)
	return nil
}

func (c *Container) initAssistant(ctx context.Context, ov Overrides) {
	cfg := c.Config

	c.Provider = ov.Provider
	if c.Provider == nil {
		key := c.Secrets.GetSecretWithDefault(ctx, APIKeySecret, cfg.LLM.APIKey)
		p, err := assistant.NewOpenAIProvider(assistant.ProviderConfig{
			APIKey:      key,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		switch {
		case errors.Is(err, assistant.ErrNoAPIKey):
			c.Logger.Warn("No LLM API key configured, answering with the fallback responder")
		case err != nil:
			c.Logger.LogError(err, "Failed to create LLM provider")
		default:
			c.Provider = p
		}
	}

	breakerCfg := resilience.DefaultConfig("llm")
	if cfg.LLM.BreakerFailures > 0 {
		breakerCfg.FailureThreshold = cfg.LLM.BreakerFailures
	}
	if cfg.LLM.BreakerCooldown > 0 {
		breakerCfg.Cooldown = cfg.LLM.BreakerCooldown
	}
	breakerCfg.Clock = ov.Clock
	c.Breaker = resilience.NewCircuitBreaker(breakerCfg, c.Logger)

	c.Assistant = assistant.NewService(assistant.Deps{
		Guardrails: c.Guardrails,
		Dashboard:  c.Injector,
		Knowledge:  c.Knowledge,
		Store:      c.Store,
		Provider:   c.Provider,
		Breaker:    c.Breaker,
		Metrics:    c.Metrics,
		Log:        c.Logger,
	}, assistant.Options{
		Model:   cfg.LLM.Model,
		Timeout: cfg.LLM.Timeout,
		Coro:    profile("coro", assistant.CoroSystemPrompt, cfg.Guardrails.Coro, true),
		Legacy:  profile("legacy", assistant.LegacySystemPrompt, cfg.Guardrails.Legacy, false),
		Clock:   ov.Clock,
	})
}

func profile(name, prompt string, p config.GuardrailProfile, inject bool) assistant.Profile {
	return assistant.Profile{
		Name:         name,
		SystemPrompt: prompt,
		Guardrails: guardrails.Config{
			EnableContentFilter:  p.EnableContentFilter,
			EnableRateLimit:      p.EnableRateLimit,
			EnableSensitiveCheck: p.EnableSensitiveCheck,
			Limits: guardrails.Limits{
				MaxPerMinute: p.Limits.MaxPerMinute,
				MaxPerHour:   p.Limits.MaxPerHour,
			},
		},
		MaxContextMessages: p.MaxContextMessages,
		InjectDashboard:    inject,
		InjectKnowledge:    inject,
	}
}

func (c *Container) initHealth() {
	c.Health = health.NewChecker(c.Logger, 30*time.Second)

	c.Health.RegisterCheck("llm_provider", false, health.Configured(c.Assistant.HasProvider,
		"Provider configured", "No API key, answering with the fallback responder"))

	c.Health.RegisterCheck("llm_circuit", false, func(context.Context) (health.Status, string, error) {
		if c.Breaker.State() == resilience.StateOpen {
			return health.StatusDegraded, "Circuit open, answering with the fallback responder", nil
		}
		return health.StatusUp, "Circuit " + string(c.Breaker.State()), nil
	})

	if c.Redis != nil {
		c.Health.RegisterCheck("rate_limit_store", false, health.Ping("Redis reachable", health.StatusDegraded,
			func(ctx context.Context) error { return c.Redis.Ping(ctx).Err() }))
	} else {
		c.Health.RegisterCheck("rate_limit_store", false, health.Configured(func() bool { return true },
			"In-memory counters", ""))
	}

	c.Health.RegisterCheck("dashboard_source", true, func(context.Context) (health.Status, string, error) {
		snap := c.Dashboard.Snapshot()
		if len(snap.Departments) == 0 {
			return health.StatusDown, "Snapshot has no departments", nil
		}
		return health.StatusUp, fmt.Sprintf("Snapshot loaded (%d departments)", len(snap.Departments)), nil
	})

	c.Health.RegisterCheck("knowledge", true, func(context.Context) (health.Status, string, error) {
		n := len(c.Knowledge.Docs())
		if n == 0 {
			return health.StatusDown, "Corpus is empty", nil
		}
		return health.StatusUp, fmt.Sprintf("%d articles", n), nil
	})
}

// Start launches the background tasks: sweeps, janitors, file watching and health checks
func (c *Container) Start(ctx context.Context) error {
	c.RateLimiter.Start(ctx)
	c.Store.Start(ctx)
	c.APILimiter.Start(ctx)
	if c.KnowledgeCache != nil {
		c.KnowledgeCache.Start(ctx)
	}
	if c.fileSource != nil {
		if err := c.fileSource.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch dashboard snapshot: %w", err)
		}
	}
	c.Health.Start(ctx)
	return nil
}

// Stop halts background tasks, closes connections and flushes telemetry
func (c *Container) Stop(ctx context.Context) error {
	c.Health.Stop()
	c.Hub.Close()
	if c.fileSource != nil {
		c.fileSource.Stop()
	}
	if c.KnowledgeCache != nil {
		c.KnowledgeCache.Stop()
	}
	c.APILimiter.Stop()
	c.Store.Stop()
	c.RateLimiter.Stop()

	var errs []error
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	for i := len(c.shutdowns) - 1; i >= 0; i-- {
		if err := c.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
