package dashboard

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"loopsync/backend/internal/models"
	"loopsync/backend/pkg/logger"
)

//go:embed snapshot.yaml
var snapshotYAML []byte

// Source provides the current dashboard snapshot. Implementations must be
// safe for concurrent use; callers treat the result as read-only.
type Source interface {
	Snapshot() models.DashboardSnapshot
}

// LoadSnapshot parses a YAML dashboard snapshot
func LoadSnapshot(data []byte) (models.DashboardSnapshot, error) {
	var snap models.DashboardSnapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return models.DashboardSnapshot{}, fmt.Errorf("parse dashboard snapshot: %w", err)
	}
	return snap, nil
}

// StaticSource serves a fixed snapshot
type StaticSource struct {
	snap models.DashboardSnapshot
}

// NewStaticSource wraps snap
func NewStaticSource(snap models.DashboardSnapshot) *StaticSource {
	return &StaticSource{snap: snap}
}

// DefaultSource serves the built-in demo snapshot
func DefaultSource() (*StaticSource, error) {
	snap, err := LoadSnapshot(snapshotYAML)
	if err != nil {
		return nil, err
	}
	return NewStaticSource(snap), nil
}

// Snapshot implements Source
func (s *StaticSource) Snapshot() models.DashboardSnapshot {
	return s.snap
}

// FileSource serves a snapshot read from disk and reloads it when the file changes
type FileSource struct {
	path string
	log  *logger.Logger

	mu   sync.RWMutex
	snap models.DashboardSnapshot

	runMu   sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileSource reads path once; call Start to follow changes
func NewFileSource(path string, log *logger.Logger) (*FileSource, error) {
	s := &FileSource{path: path, log: log.WithComponent("dashboard_source")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot implements Source
func (s *FileSource) Snapshot() models.DashboardSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Reload re-reads the file. On error the previous snapshot is kept.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read dashboard snapshot %s: %w", s.path, err)
	}
	snap, err := LoadSnapshot(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Start watches the snapshot's directory so editors that replace the file
// by rename are picked up too.
func (s *FileSource) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.watcher != nil {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(s.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", s.path, err)
	}

	s.watcher = w
	s.done = make(chan struct{})
	go s.watch(ctx, w, s.done)
	return nil
}

// Stop ends the watch loop and waits for it to exit
func (s *FileSource) Stop() {
	s.runMu.Lock()
	w, done := s.watcher, s.done
	s.watcher, s.done = nil, nil
	s.runMu.Unlock()

	if w == nil {
		return
	}
	w.Close()
	<-done
}

func (s *FileSource) watch(ctx context.Context, w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.log.LogError(err, "Failed to reload dashboard snapshot")
				continue
			}
			s.log.Info("Dashboard snapshot reloaded", "path", s.path)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.log.LogError(err, "Dashboard snapshot watcher error")
		}
	}
}
