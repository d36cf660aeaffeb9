package secrets

import (
	"context"
	"errors"
	"os"
	"strings"
)

// Common errors
var (
	ErrSecretNotFound = errors.New("secret not found")
	ErrNoVaultToken   = errors.New("no vault token provided")
	ErrNoVaultAddress = errors.New("no vault address provided")
)

// Manager provides access to secrets from various sources
type Manager interface {
	// GetSecret retrieves a secret by key
	GetSecret(ctx context.Context, key string) (string, error)

	// GetSecretWithDefault retrieves a secret with a default value if not found
	GetSecretWithDefault(ctx context.Context, key, defaultValue string) string
}

// EnvManager resolves secrets from the process environment only
type EnvManager struct {
	lookup func(string) (string, bool)
}

// NewEnvManager creates an environment-backed manager
func NewEnvManager() *EnvManager {
	return &EnvManager{lookup: os.LookupEnv}
}

// GetSecret implements Manager
func (m *EnvManager) GetSecret(_ context.Context, key string) (string, error) {
	value, ok := m.lookup(EnvKey(key))
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}

// GetSecretWithDefault implements Manager
func (m *EnvManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		return defaultValue
	}
	return value
}

// EnvKey maps a secret key such as "openai-api.key" to OPENAI_API_KEY
func EnvKey(key string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(key))
}
