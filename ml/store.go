package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Store owns the on-disk model artifact.
type Store struct {
	path   string
	logger *zap.Logger

	mu          sync.RWMutex
	cached      *ModelArtifact
	onBootstrap func(reason string)
}

// NewStore returns a store for the artifact at path. Nothing is read until Load.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Path returns the canonical artifact location.
func (s *Store) Path() string {
	return s.path
}

// SetBootstrapHook registers fn to run whenever Load has to bootstrap.
func (s *Store) SetBootstrapHook(fn func(reason string)) {
	s.mu.Lock()
	s.onBootstrap = fn
	s.mu.Unlock()
}

// Load returns a copy of the active artifact. A missing or unusable file is replaced by the baseline.
func (s *Store) Load() *ModelArtifact {
	s.mu.RLock()
	if s.cached != nil {
		c := s.cached.Clone()
		s.mu.RUnlock()
		return c
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached != nil {
		return s.cached.Clone()
	}

	artifact, err := ReadArtifact(s.path)
	if err == nil {
		s.cached = artifact
		return artifact.Clone()
	}

	reason := "missing"
	if !errors.Is(err, fs.ErrNotExist) {
		reason = "corrupt"
		s.logger.Warn("model artifact unusable, bootstrapping", zap.String("path", s.path), zap.Error(err))
	} else {
		s.logger.Info("no model artifact, bootstrapping", zap.String("path", s.path))
	}

	artifact = Bootstrap()
	if err := writeArtifact(s.path, artifact); err != nil {
		s.logger.Error("persist bootstrap artifact", zap.Error(err))
	}
	s.cached = artifact
	if s.onBootstrap != nil {
		s.onBootstrap(reason)
	}
	return artifact.Clone()
}

// Save atomically replaces the persisted artifact. Readers see the old or the new file, never a mix.
func (s *Store) Save(artifact *ModelArtifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeArtifact(s.path, artifact); err != nil {
		return err
	}
	s.cached = artifact.Clone()
	return nil
}

// Reset removes the persisted artifact. The next Load bootstraps.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked()
}

// Replace removes the persisted artifact and writes artifact in its place under one lock, so a
// concurrent Load never observes the missing file.
func (s *Store) Replace(artifact *ModelArtifact) error {
	if err := artifact.Validate(); err != nil {
		return fmt.Errorf("refusing to save: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.removeLocked(); err != nil {
		return err
	}
	if err := writeArtifact(s.path, artifact); err != nil {
		return err
	}
	s.cached = artifact.Clone()
	return nil
}

func (s *Store) removeLocked() error {
	s.cached = nil
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &PersistenceError{Op: "remove", Path: s.path, Err: err}
	}
	return nil
}

// Invalidate drops the in-memory copy so the next Load rereads the file.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Watch drops the cached artifact whenever another process replaces or removes the file.
// It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		return err
	}
	name := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				s.logger.Debug("model artifact changed on disk", zap.String("op", event.Op.String()))
				s.Invalidate()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("model watcher error", zap.Error(err))
		}
	}
}

// ReadArtifact decodes and validates the artifact at path without touching any cache.
func ReadArtifact(path string) (*ModelArtifact, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var artifact ModelArtifact
	if err := json.Unmarshal(payload, &artifact); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArtifact, err)
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

func writeArtifact(path string, artifact *ModelArtifact) error {
	payload, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: path, Err: err}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &PersistenceError{Op: "mkdir", Path: dir, Err: err}
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return &PersistenceError{Op: "create", Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		cleanup()
		return &PersistenceError{Op: "write", Path: tmpName, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return &PersistenceError{Op: "sync", Path: tmpName, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &PersistenceError{Op: "close", Path: tmpName, Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return &PersistenceError{Op: "rename", Path: path, Err: err}
	}
	return nil
}
