package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polisim/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "polisim.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
[server]
port = 9090
db_path = "/tmp/sim.db"

[engine]
concurrency = 4
belief_dim = 3

[seed]
population_size = 250
belief_dim = 3
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/tmp/sim.db", cfg.Server.DBPath)
	assert.Equal(t, 4, cfg.Engine.Concurrency)
	assert.Equal(t, 3, cfg.Engine.BeliefDim)
	assert.Equal(t, 250, cfg.Seed.PopulationSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, config.Default().Engine.MaxRetries, cfg.Engine.MaxRetries)
	assert.Equal(t, path, cfg.Path)
}

func TestLoadRejectsInvalidEngineConfig(t *testing.T) {
	path := writeConfig(t, `
[engine]
concurrency = -1
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidSeedConfig(t *testing.T) {
	path := writeConfig(t, `
[seed]
population_size = 0
`)
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}
