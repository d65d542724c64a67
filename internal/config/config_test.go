package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("HOST", "")
	t.Setenv("PORT", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("LOG_LEVEL", "")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", c.Addr())
	assert.Equal(t, "redis://localhost:6379/0", c.RedisURL)
	assert.Equal(t, "config/personas.yaml", c.PersonasPath)
	assert.Equal(t, 30*time.Second, c.Streaming.IdleTimeout)
	assert.Equal(t, 3000, c.Summarizer.ContextLimit)
	assert.Equal(t, 10, c.Summarizer.KeepRecent)
	assert.Equal(t, "text-embedding-3-small", c.Embeddings.Model)
	assert.Equal(t, 9090, c.Observability.MetricsPort)
	assert.Equal(t, "info", c.Observability.LogLevel)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9001
streaming:
  idle_timeout: 45s
summarizer:
  keep_recent: 5
`), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "")
	t.Setenv("STREAM_IDLE_TIMEOUT", "")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9001, c.Port)
	assert.Equal(t, 45*time.Second, c.Streaming.IdleTimeout)
	assert.Equal(t, 5, c.Summarizer.KeepRecent)
}

func TestEnvOverridesWin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestrator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9001\n"), 0o644))
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("PORT", "9002")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("STREAM_IDLE_TIMEOUT", "10s")
	t.Setenv("LOG_LEVEL", "debug")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9002", c.Addr())
	assert.Equal(t, 10*time.Second, c.Streaming.IdleTimeout)
	assert.Equal(t, "debug", c.Observability.LogLevel)
}

func TestLoadMissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := Load()
	assert.Error(t, err)
}

func TestBadEnvValuesIgnored(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("PORT", "not-a-number")
	t.Setenv("STREAM_IDLE_TIMEOUT", "soon")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8000, c.Port)
	assert.Equal(t, 30*time.Second, c.Streaming.IdleTimeout)
}
