package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigAndDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worldcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
snapshot:
  path: /tmp/world.json
execution:
  backend: sqlite
loop:
  enabled: true
  tick_ms: 500
`), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.applyEnvOverrides()

	assert.Equal(t, "/tmp/world.json", cfg.Snapshot.Path)
	assert.Equal(t, "sqlite", cfg.Execution.Backend)
	assert.Equal(t, 500, cfg.Loop.TickMs)
	// Untouched fields take defaults.
	assert.Equal(t, 10, cfg.Loop.MaxEventsPerAgentPerMin)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Dialogue.MaxConcurrent)
	assert.Equal(t, "worldcore.events", cfg.Events.RedisChannel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORLDCORE_SNAPSHOT_PATH", "/data/world.json")
	t.Setenv("WORLDCORE_TICK_MS", "250")
	t.Setenv("WORLDCORE_EXECUTION_BACKEND", "memory")

	cfg := &Config{}
	cfg.applyEnvOverrides()
	assert.Equal(t, "/data/world.json", cfg.Snapshot.Path)
	assert.Equal(t, 250, cfg.Loop.TickMs)
	assert.Equal(t, "memory", cfg.Execution.Backend)
}

func TestMissingFileIsAnError(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
