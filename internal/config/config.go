// Package config loads server configuration from a TOML file.
// Secrets (API keys) come from the environment, never from the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"polisim/internal/agents"
	"polisim/internal/engine"
)

type Config struct {
	Server ServerConfig      `toml:"server"`
	Engine engine.Config     `toml:"engine"`
	Seed   agents.SeedConfig `toml:"seed"`
	Path   string            `toml:"-"`
}

type ServerConfig struct {
	Port   int    `toml:"port"`
	DBPath string `toml:"db_path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:   8080,
			DBPath: "polisim.db",
		},
		Engine: engine.DefaultConfig(),
		Seed:   agents.DefaultSeedConfig(),
	}
}

// Load reads a TOML config file, filling unset sections with defaults.
// An empty path returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	resolved := filepath.Clean(path)
	bytes, err := os.ReadFile(resolved)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}
	if _, err := toml.Decode(string(bytes), &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config file: %w", err)
	}
	cfg.Path = resolved

	if err := cfg.Engine.Validate(); err != nil {
		return Config{}, fmt.Errorf("engine config: %w", err)
	}
	if err := cfg.Seed.Validate(); err != nil {
		return Config{}, fmt.Errorf("seed config: %w", err)
	}
	return cfg, nil
}
