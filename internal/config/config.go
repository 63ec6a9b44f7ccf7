package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Agents     int              `toml:"agents" env:"AGENTS"`
	Attempts   int              `toml:"attempts" env:"ATTEMPTS"`
	Seed       uint64           `toml:"seed" env:"SEED"`
	LogLevel   string           `toml:"log_level" env:"LOG_LEVEL"`
	DBPath     string           `toml:"db_path" env:"DB_PATH"`
	Relay      RelayConfig      `toml:"relay" envPrefix:"RELAY_"`
	Visualizer VisualizerConfig `toml:"visualizer" envPrefix:"VISUALIZER_"`
	Raw        map[string]any   `toml:"-"`
	Path       string           `toml:"-"`
}

type RelayConfig struct {
	Addr          string `toml:"addr" env:"ADDR"`
	StepDelayMS   int    `toml:"step_delay_ms" env:"STEP_DELAY_MS"`
	SessionAgents int    `toml:"session_agents" env:"SESSION_AGENTS"`
	EventBuffer   int    `toml:"event_buffer" env:"EVENT_BUFFER"`
}

type VisualizerConfig struct {
	StepDelayMS  int `toml:"step_delay_ms" env:"STEP_DELAY_MS"`
	TrialPauseMS int `toml:"trial_pause_ms" env:"TRIAL_PAUSE_MS"`
}

const envPrefix = "PRISONERS_"

// Load reads the TOML file at path and then applies PRISONERS_* environment
// overrides. An empty path means the default location, which may be absent.
func Load(path string) (Config, error) {
	explicit := path != ""
	resolved := path
	if !explicit {
		resolved = defaultConfigPath()
	}
	if strings.HasPrefix(resolved, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed := strings.TrimPrefix(resolved, "~")
		trimmed = strings.TrimPrefix(trimmed, "\\")
		trimmed = strings.TrimPrefix(trimmed, "/")
		resolved = filepath.Join(home, trimmed)
	}
	resolved = filepath.Clean(resolved)

	var cfg Config
	bytes, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if _, err := toml.Decode(string(bytes), &cfg); err != nil {
			return Config{}, fmt.Errorf("decode config file: %w", err)
		}
		var raw map[string]any
		if _, err := toml.Decode(string(bytes), &raw); err != nil {
			return Config{}, fmt.Errorf("decode raw config: %w", err)
		}
		cfg.Raw = raw
		cfg.Path = resolved
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config file %s: %w", resolved, err)
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg.withDefaults(), nil
}

func (c Config) withDefaults() Config {
	if c.Agents == 0 {
		c.Agents = 100
	}
	if c.Attempts == 0 {
		c.Attempts = 1000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DBPath == "" {
		c.DBPath = "data/prisoners.db"
	}
	if c.Relay.Addr == "" {
		c.Relay.Addr = ":8081"
	}
	if c.Relay.StepDelayMS == 0 {
		c.Relay.StepDelayMS = 500
	}
	if c.Relay.SessionAgents == 0 {
		c.Relay.SessionAgents = 100
	}
	if c.Relay.EventBuffer == 0 {
		c.Relay.EventBuffer = 256
	}
	if c.Visualizer.StepDelayMS == 0 {
		c.Visualizer.StepDelayMS = 200
	}
	if c.Visualizer.TrialPauseMS == 0 {
		c.Visualizer.TrialPauseMS = 3000
	}
	return c
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".prisoners/config.toml"
	}
	return filepath.Join(home, ".prisoners", "config.toml")
}
