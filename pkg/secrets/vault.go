package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	vault "github.com/hashicorp/vault/api"

	"loopsync/backend/pkg/cache"
	"loopsync/backend/pkg/logger"
)

// VaultConfig holds configuration for the Vault client
type VaultConfig struct {
	Address     string
	Token       string
	Namespace   string
	Timeout     time.Duration
	MaxRetries  int
	MountPath   string
	SecretsPath string
	CacheTTL    time.Duration
}

// VaultManager reads secrets from a KV v2 engine and falls back to the
// environment when a key is missing there.
type VaultManager struct {
	client *vault.Client
	config VaultConfig
	cache  *cache.Cache[string]
	env    *EnvManager
	log    *logger.Logger
}

// NewVaultManager creates a Vault-backed manager
func NewVaultManager(config VaultConfig, log *logger.Logger) (*VaultManager, error) {
	if config.Address == "" {
		return nil, ErrNoVaultAddress
	}
	if config.Token == "" {
		return nil, ErrNoVaultToken
	}
	if config.MountPath == "" {
		config.MountPath = "secret"
	}
	if config.SecretsPath == "" {
		config.SecretsPath = "loopsync"
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.CacheTTL <= 0 {
		config.CacheTTL = 5 * time.Minute
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = config.Address
	vaultConfig.Timeout = config.Timeout
	vaultConfig.MaxRetries = config.MaxRetries

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	client.SetToken(config.Token)
	if config.Namespace != "" {
		client.SetNamespace(config.Namespace)
	}

	return &VaultManager{
		client: client,
		config: config,
		cache:  cache.New[string](cache.Options{TTL: config.CacheTTL}),
		env:    &EnvManager{lookup: os.LookupEnv},
		log:    log.WithComponent("secrets"),
	}, nil
}

// GetSecret implements Manager
func (m *VaultManager) GetSecret(ctx context.Context, key string) (string, error) {
	if v, ok := m.cache.Get(key); ok {
		return v, nil
	}

	value, err := m.getFromVault(ctx, key)
	if errors.Is(err, ErrSecretNotFound) {
		m.log.Warn("Secret not found in Vault, falling back to environment", "key", key)
		value, err = m.env.GetSecret(ctx, key)
	}
	if err != nil {
		return "", err
	}

	m.cache.Set(key, value)
	return value, nil
}

// GetSecretWithDefault implements Manager
func (m *VaultManager) GetSecretWithDefault(ctx context.Context, key, defaultValue string) string {
	value, err := m.GetSecret(ctx, key)
	if err != nil {
		m.log.Warn("Failed to get secret, using default value", "key", key, "error", err.Error())
		return defaultValue
	}
	return value
}

func (m *VaultManager) getFromVault(ctx context.Context, key string) (string, error) {
	secret, err := m.client.KVv2(m.config.MountPath).Get(ctx, m.config.SecretsPath)
	if err != nil {
		if errors.Is(err, vault.ErrSecretNotFound) {
			return "", ErrSecretNotFound
		}
		return "", fmt.Errorf("failed to read secret %s/%s: %w", m.config.MountPath, m.config.SecretsPath, err)
	}
	if secret == nil || secret.Data == nil {
		return "", ErrSecretNotFound
	}

	value, ok := secret.Data[key].(string)
	if !ok || value == "" {
		return "", ErrSecretNotFound
	}
	return value, nil
}
