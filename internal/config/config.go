// Package config loads runtime configuration from .archhive.yaml,
// ARCHHIVE_* environment variables, and CLI flags, in that order of
// increasing precedence.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig holds settings for the HTTP API server.
type ServerConfig struct {
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
}

// AgentConfig holds settings for the periodic snapshot agent.
type AgentConfig struct {
	Server   string        `mapstructure:"server"`
	Interval time.Duration `mapstructure:"interval"`
}

// PacmanConfig holds package manager settings.
type PacmanConfig struct {
	Command   string `mapstructure:"command"`
	NoConfirm bool   `mapstructure:"no_confirm"`
}

// Config holds all runtime configuration.
type Config struct {
	SnapshotDir string       `mapstructure:"snapshot_dir"`
	SpecFile    string       `mapstructure:"spec_file"`
	RulesFile   string       `mapstructure:"rules_file"`
	Server      ServerConfig `mapstructure:"server"`
	Agent       AgentConfig  `mapstructure:"agent"`
	Pacman      PacmanConfig `mapstructure:"pacman"`
	Verbose     bool         `mapstructure:"verbose"`
}

// setDefaults registers every built-in default with viper. Keeping the
// defaults in one function, rather than scattered package state, makes them
// trivial to inspect and test.
func setDefaults() {
	viper.SetDefault("snapshot_dir", defaultSnapshotDir())
	viper.SetDefault("spec_file", "")
	viper.SetDefault("rules_file", "")
	viper.SetDefault("server.port", 8392)
	viper.SetDefault("server.api_key", "")
	viper.SetDefault("agent.server", "")
	viper.SetDefault("agent.interval", 5*time.Minute)
	viper.SetDefault("pacman.command", "pacman")
	viper.SetDefault("pacman.no_confirm", false)
	viper.SetDefault("verbose", false)
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() Config {
	setDefaults()

	var cfg Config
	_ = viper.Unmarshal(&cfg)
	return cfg
}

// defaultSnapshotDir places snapshots under the user's local data directory.
func defaultSnapshotDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "snapshots"
	}
	return filepath.Join(home, ".local", "share", "archhive", "snapshots")
}
