package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// RateLimits caps the number of chat messages per identity
type RateLimits struct {
	MaxPerMinute int
	MaxPerHour   int
}

// GuardrailProfile configures the guardrails for one chat endpoint
type GuardrailProfile struct {
	EnableContentFilter  bool
	EnableRateLimit      bool
	EnableSensitiveCheck bool
	Limits               RateLimits
	MaxContextMessages   int
}

// Config holds all application configuration
type Config struct {
	Server struct {
		Port            string
		GRPCPort        string
		Env             string
		ShutdownTimeout time.Duration
	}

	Logging struct {
		Level  string
		Format string
	}

	// LLM provider (any OpenAI-compatible chat completion API)
	LLM struct {
		APIKey      string
		BaseURL     string
		Model       string
		Timeout     time.Duration
		MaxTokens   int
		Temperature float32
		// Circuit breaker around the provider
		BreakerFailures uint
		BreakerCooldown time.Duration
	}

	Guardrails struct {
		Coro              GuardrailProfile
		Legacy            GuardrailProfile
		MinResponseLength int
		MaxResponseLength int
	}

	RateLimit struct {
		// Backend is "memory" or "redis"
		Backend       string
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		SweepInterval time.Duration
		SweepGrace    time.Duration
	}

	Conversation struct {
		SessionWindow  time.Duration
		RetentionDays  int
		SweepInterval  time.Duration
		HistoryDefault int
	}

	Dashboard struct {
		// SnapshotPath points at a YAML snapshot; empty uses the embedded fixture
		SnapshotPath string
		Watch        bool
	}

	Knowledge struct {
		CacheTTL     time.Duration
		CacheMaxSize int
	}

	Security struct {
		APIRateLimit      float64
		APIRateLimitBurst int
		AllowedOrigins    []string
		OpenAPISchemaPath string
	}

	Observability struct {
		MetricsEnabled bool
		TracingEnabled bool
		ServiceName    string
	}

	Vault struct {
		Enabled     bool
		Address     string
		Token       string
		Namespace   string
		SecretsPath string
		Timeout     time.Duration
	}
}

// Load builds a Config from the environment, reading a .env file if present
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.Server.Port = getEnvString("PORT", "8081")
	cfg.Server.GRPCPort = getEnvString("GRPC_PORT", "")
	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.LLM.APIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.LLM.BaseURL = getEnvString("LLM_BASE_URL", "")
	cfg.LLM.Model = getEnvString("LLM_MODEL", "gpt-4o-mini")
	cfg.LLM.Timeout = getEnvDuration("LLM_TIMEOUT", 30*time.Second)
	cfg.LLM.MaxTokens = getEnvInt("LLM_MAX_TOKENS", 800)
	cfg.LLM.Temperature = float32(getEnvFloat("LLM_TEMPERATURE", 0.7))
	cfg.LLM.BreakerFailures = uint(getEnvInt("LLM_BREAKER_FAILURES", 5))
	cfg.LLM.BreakerCooldown = getEnvDuration("LLM_BREAKER_COOLDOWN", 60*time.Second)

	cfg.Guardrails.Coro = loadProfile("CORO", DefaultProfile())
	cfg.Guardrails.Legacy = loadProfile("CHAT", DefaultProfile())
	cfg.Guardrails.MinResponseLength = getEnvInt("GUARDRAIL_MIN_RESPONSE_LENGTH", 10)
	cfg.Guardrails.MaxResponseLength = getEnvInt("GUARDRAIL_MAX_RESPONSE_LENGTH", 5000)

	cfg.RateLimit.Backend = getEnvString("RATE_LIMIT_BACKEND", "memory")
	cfg.RateLimit.RedisAddr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.RateLimit.RedisPassword = getEnvString("REDIS_PASSWORD", "")
	cfg.RateLimit.RedisDB = getEnvInt("REDIS_DB", 0)
	cfg.RateLimit.SweepInterval = getEnvDuration("RATE_LIMIT_SWEEP_INTERVAL", 5*time.Minute)
	cfg.RateLimit.SweepGrace = getEnvDuration("RATE_LIMIT_SWEEP_GRACE", time.Minute)

	cfg.Conversation.SessionWindow = getEnvDuration("CONVERSATION_SESSION_WINDOW", time.Hour)
	cfg.Conversation.RetentionDays = getEnvInt("CONVERSATION_RETENTION_DAYS", 30)
	cfg.Conversation.SweepInterval = getEnvDuration("CONVERSATION_SWEEP_INTERVAL", time.Hour)
	cfg.Conversation.HistoryDefault = getEnvInt("CONVERSATION_HISTORY_LIMIT", 20)

	cfg.Dashboard.SnapshotPath = getEnvString("DASHBOARD_SNAPSHOT_PATH", "")
	cfg.Dashboard.Watch = getEnvBool("DASHBOARD_WATCH", true)

	cfg.Knowledge.CacheTTL = getEnvDuration("KNOWLEDGE_CACHE_TTL", 10*time.Minute)
	cfg.Knowledge.CacheMaxSize = getEnvInt("KNOWLEDGE_CACHE_MAX_SIZE", 500)

	cfg.Security.APIRateLimit = getEnvFloat("API_RATE_LIMIT", 5)
	cfg.Security.APIRateLimitBurst = getEnvInt("API_RATE_LIMIT_BURST", 10)
	cfg.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Security.OpenAPISchemaPath = getEnvString("OPENAPI_SCHEMA_PATH", "")

	cfg.Observability.MetricsEnabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Observability.TracingEnabled = getEnvBool("TRACING_ENABLED", false)
	cfg.Observability.ServiceName = getEnvString("SERVICE_NAME", "loopsync-coro")

	cfg.Vault.Enabled = getEnvBool("VAULT_ENABLED", false)
	cfg.Vault.Address = getEnvString("VAULT_ADDR", "")
	cfg.Vault.Token = getEnvString("VAULT_TOKEN", "")
	cfg.Vault.Namespace = getEnvString("VAULT_NAMESPACE", "")
	cfg.Vault.SecretsPath = getEnvString("VAULT_SECRETS_PATH", "loopsync")
	cfg.Vault.Timeout = getEnvDuration("VAULT_TIMEOUT", 10*time.Second)

	return cfg
}

// DefaultProfile returns the guardrail defaults shared by both chat endpoints
func DefaultProfile() GuardrailProfile {
	return GuardrailProfile{
		EnableContentFilter:  true,
		EnableRateLimit:      true,
		EnableSensitiveCheck: true,
		Limits: RateLimits{
			MaxPerMinute: 10,
			MaxPerHour:   100,
		},
		MaxContextMessages: 10,
	}
}

// loadProfile reads <PREFIX>_* overrides on top of def
func loadProfile(prefix string, def GuardrailProfile) GuardrailProfile {
	return GuardrailProfile{
		EnableContentFilter:  getEnvBool(prefix+"_CONTENT_FILTER", def.EnableContentFilter),
		EnableRateLimit:      getEnvBool(prefix+"_RATE_LIMIT", def.EnableRateLimit),
		EnableSensitiveCheck: getEnvBool(prefix+"_SENSITIVE_CHECK", def.EnableSensitiveCheck),
		Limits: RateLimits{
			MaxPerMinute: getEnvInt(prefix+"_MAX_PER_MINUTE", def.Limits.MaxPerMinute),
			MaxPerHour:   getEnvInt(prefix+"_MAX_PER_HOUR", def.Limits.MaxPerHour),
		},
		MaxContextMessages: getEnvInt(prefix+"_MAX_CONTEXT_MESSAGES", def.MaxContextMessages),
	}
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
