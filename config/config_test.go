package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.True(t, cfg.Model.ResetOnStart)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
  request_timeout: 5s
model:
  path: /tmp/m.json
  reset_on_start: false
  max_step: 10
log:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "/tmp/m.json", cfg.Model.Path)
	assert.False(t, cfg.Model.ResetOnStart)
	assert.Equal(t, 10.0, cfg.Model.MaxStep)
	assert.Equal(t, 0.5, cfg.Model.LearningRate, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "data/scorer.db", cfg.Database.Path)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8080\n")
	t.Setenv("PORT", "9090")
	t.Setenv("MODEL_PATH", "/var/lib/scorer/model.json")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("MODEL_RESET_ON_START", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/var/lib/scorer/model.json", cfg.Model.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.False(t, cfg.Model.ResetOnStart)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"bad yaml":      "server: [",
		"port":          "server:\n  port: 70000\n",
		"learning rate": "model:\n  learning_rate: 2\n",
		"empty model":   "model:\n  path: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}
