package ml

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "model", "score_model.json"), nil)
}

func TestStoreLoadBootstrapsMissing(t *testing.T) {
	store := newTestStore(t)
	var reasons []string
	store.SetBootstrapHook(func(reason string) { reasons = append(reasons, reason) })

	artifact := store.Load()
	require.NoError(t, artifact.Validate())
	assert.Equal(t, int64(0), artifact.Version)
	assert.True(t, artifact.SameParameters(Bootstrap()))
	assert.Equal(t, []string{"missing"}, reasons)

	persisted, err := ReadArtifact(store.Path())
	require.NoError(t, err)
	assert.True(t, persisted.SameParameters(artifact))
}

func TestStoreLoadRecoversFromCorruption(t *testing.T) {
	cases := map[string][]byte{
		"garbage":   []byte("not json at all"),
		"truncated": []byte(`{"schema_version":1,"weights":[1,2`),
		"wrong dim": []byte(`{"schema_version":1,"feature_names":["a"],"weights":[1]}`),
		"schema":    []byte(`{"schema_version":99}`),
		"empty":     {},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			store := newTestStore(t)
			require.NoError(t, os.MkdirAll(filepath.Dir(store.Path()), 0o755))
			require.NoError(t, os.WriteFile(store.Path(), payload, 0o600))

			var reason string
			store.SetBootstrapHook(func(r string) { reason = r })
			artifact := store.Load()
			require.NoError(t, artifact.Validate())
			assert.Equal(t, "corrupt", reason)

			_, err := ReadArtifact(store.Path())
			assert.NoError(t, err, "corrupt file replaced by baseline")
		})
	}
}

func TestReadArtifactCorruptSentinel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))
	_, err := ReadArtifact(path)
	assert.ErrorIs(t, err, ErrCorruptArtifact)
}

func TestStoreSaveAndReset(t *testing.T) {
	store := newTestStore(t)
	artifact := store.Load()
	artifact.Bias = 33
	artifact.Version = 7
	require.NoError(t, store.Save(artifact))

	loaded := store.Load()
	assert.Equal(t, 33.0, loaded.Bias)
	assert.Equal(t, int64(7), loaded.Version)

	fresh := NewStore(store.Path(), nil).Load()
	assert.Equal(t, int64(7), fresh.Version)

	require.NoError(t, store.Reset())
	_, err := os.Stat(store.Path())
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, int64(0), store.Load().Version)

	require.NoError(t, store.Reset())
	require.NoError(t, store.Reset(), "reset of a missing file is fine")
}

func TestStoreReplace(t *testing.T) {
	store := newTestStore(t)
	var bootstraps int
	store.SetBootstrapHook(func(string) { bootstraps++ })

	trained := store.Load()
	trained.Version = 9
	trained.Bias = 12
	require.NoError(t, store.Save(trained))
	bootstraps = 0

	require.NoError(t, store.Replace(Bootstrap()))
	assert.Equal(t, int64(0), store.Load().Version)
	persisted, err := ReadArtifact(store.Path())
	require.NoError(t, err)
	assert.True(t, persisted.SameParameters(Bootstrap()))
	assert.Zero(t, bootstraps)

	bad := Bootstrap()
	bad.Weights = bad.Weights[:2]
	require.Error(t, store.Replace(bad))
	assert.Equal(t, int64(0), store.Load().Version, "rejected artifact leaves the store untouched")
}

func TestStoreLoadReturnsCopies(t *testing.T) {
	store := newTestStore(t)
	a := store.Load()
	a.Weights[0] = 1e6
	a.Bias = -1
	b := store.Load()
	assert.NotEqual(t, 1e6, b.Weights[0])
	assert.NotEqual(t, -1.0, b.Bias)
}

func TestStoreSaveRejectsInvalid(t *testing.T) {
	store := newTestStore(t)
	artifact := store.Load()
	artifact.Weights = artifact.Weights[:3]
	err := store.Save(artifact)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Len(t, store.Load().Weights, FeatureDim)
}

func TestStoreSavePersistenceError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	store := NewStore(filepath.Join(blocker, "model.json"), nil)
	err := store.Save(Bootstrap())
	require.Error(t, err)
	assert.True(t, IsPersistenceError(err))

	artifact := store.Load()
	assert.NoError(t, artifact.Validate(), "load still produces a usable artifact")
}

func TestStoreConcurrentReadsNeverSeePartialArtifact(t *testing.T) {
	store := newTestStore(t)
	store.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var reads, failures atomic.Int64

	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := int64(1); ctx.Err() == nil; v++ {
			a := Bootstrap()
			a.Version = v
			a.Bias = float64(v)
			for i := range a.Weights {
				a.Weights[i] = float64(v)
			}
			if err := store.Save(a); err != nil {
				failures.Add(1)
				return
			}
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				a, err := ReadArtifact(store.Path())
				if err != nil {
					failures.Add(1)
					continue
				}
				reads.Add(1)
				if a.Version == 0 {
					continue
				}
				for _, w := range a.Weights {
					if w != float64(a.Version) || a.Bias != float64(a.Version) {
						failures.Add(1)
						break
					}
				}
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Positive(t, reads.Load())
}

func TestStoreWatchInvalidatesOnExternalWrite(t *testing.T) {
	store := newTestStore(t)
	store.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- store.Watch(ctx) }()
	time.Sleep(50 * time.Millisecond)

	external := Bootstrap()
	external.Version = 42
	require.NoError(t, writeArtifact(store.Path(), external))

	assert.Eventually(t, func() bool {
		return store.Load().Version == 42
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
