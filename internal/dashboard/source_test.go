package dashboard

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"loopsync/backend/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const minimalSnapshot = `
culturePulse: {score: 80, trend: 1, history: [80]}
departments:
  - {name: Engineering, score: 75, change: 0}
`

func TestFileSourceReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalSnapshot), 0o644))

	src, err := NewFileSource(path, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 80, src.Snapshot().CulturePulse.Score)

	require.NoError(t, os.WriteFile(path, []byte("culturePulse: {score: 55}\n"), 0o644))
	require.NoError(t, src.Reload())
	assert.Equal(t, 55, src.Snapshot().CulturePulse.Score)

	require.NoError(t, os.WriteFile(path, []byte("culturePulse: [not, a, map"), 0o644))
	assert.Error(t, src.Reload())
	assert.Equal(t, 55, src.Snapshot().CulturePulse.Score, "previous snapshot is kept")
}

func TestFileSourceWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalSnapshot), 0o644))

	src, err := NewFileSource(path, logger.Nop())
	require.NoError(t, err)
	require.NoError(t, src.Start(context.Background()))
	defer src.Stop()

	require.NoError(t, os.WriteFile(path, []byte("culturePulse: {score: 91}\n"), 0o644))
	assert.Eventually(t, func() bool {
		return src.Snapshot().CulturePulse.Score == 91
	}, 2*time.Second, 10*time.Millisecond)
}

func TestNewFileSourceMissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.yaml"), logger.Nop())
	assert.Error(t, err)
}
