package di

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"loopsync/backend/internal/assistant"
	"loopsync/backend/pkg/config"
	"loopsync/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go-redis keeps a pool reaper for closed clients briefly
		goleak.IgnoreTopFunction("github.com/redis/go-redis/v9/internal/pool.(*ConnPool).reaper"),
	)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "")
	cfg := config.Load()
	cfg.RateLimit.Backend = "memory"
	cfg.Dashboard.SnapshotPath = ""
	cfg.Vault.Enabled = false
	cfg.Observability.TracingEnabled = false
	cfg.LLM.APIKey = ""
	return cfg
}

func TestNewWithoutKeyUsesFallback(t *testing.T) {
	c, err := New(context.Background(), testConfig(t), logger.Nop())
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Stop(context.Background())) }()

	assert.Nil(t, c.Provider)
	assert.False(t, c.Assistant.HasProvider())
	assert.Nil(t, c.Redis)
	assert.NotNil(t, c.Metrics)
	assert.NotNil(t, c.KnowledgeCache)
}

func TestNewWithKeyBuildsProvider(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIKey = "sk-test"

	c, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Stop(context.Background())) }()

	p, ok := c.Provider.(*assistant.OpenAIProvider)
	require.True(t, ok)
	assert.Equal(t, cfg.LLM.Model, p.Model())
	assert.True(t, c.Assistant.HasProvider())
}

func TestUnreachableRedisFallsBackToMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Backend = "redis"
	cfg.RateLimit.RedisAddr = "127.0.0.1:1"

	c, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Stop(context.Background())) }()

	assert.Nil(t, c.Redis)
}

func TestStartStopWithSnapshotFile(t *testing.T) {
	data, err := os.ReadFile("../../internal/dashboard/snapshot.yaml")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := testConfig(t)
	cfg.Dashboard.SnapshotPath = path
	cfg.Dashboard.Watch = true

	c, err := New(context.Background(), cfg, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Health.IsSystemHealthy())
	assert.NotEmpty(t, c.Dashboard.Snapshot().Departments)

	require.NoError(t, c.Stop(context.Background()))
}

func TestMissingSnapshotFileFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.Dashboard.SnapshotPath = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := New(context.Background(), cfg, logger.Nop())
	assert.Error(t, err)
}
