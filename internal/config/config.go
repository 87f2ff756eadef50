package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackway/stackrank/pkg/ranking"
)

// Config is the root configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Feed     FeedConfig     `yaml:"feed"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ScheduleConfig configures the periodic recompute.
type ScheduleConfig struct {
	RecomputeInterval string `yaml:"recompute_interval"`
}

// ParseRecomputeInterval returns the recompute interval as time.Duration.
func (s ScheduleConfig) ParseRecomputeInterval() time.Duration {
	d, err := time.ParseDuration(s.RecomputeInterval)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

// RankingConfig holds the weight profiles and batch tuning. Profiles are
// read once at startup into immutable values; nothing mutates them at
// runtime.
type RankingConfig struct {
	SnapshotLimit int                   `yaml:"snapshot_limit"`
	Card          ranking.WeightProfile `yaml:"card"`
	Collection    ranking.WeightProfile `yaml:"collection"`
}

// Profiles returns the configured weight profile per item type.
func (r RankingConfig) Profiles() map[ranking.ItemType]ranking.WeightProfile {
	return map[ranking.ItemType]ranking.WeightProfile{
		ranking.TypeCard:       r.Card,
		ranking.TypeCollection: r.Collection,
	}
}

// FeedConfig configures feed request defaults.
type FeedConfig struct {
	DefaultMix   string `yaml:"default_mix"`
	DefaultLimit int    `yaml:"default_limit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./stackrank.db"},
		Schedule: ScheduleConfig{RecomputeInterval: "30m"},
		Ranking: RankingConfig{
			SnapshotLimit: 5000,
			Card:          ranking.DefaultCardProfile(),
			Collection:    ranking.DefaultCollectionProfile(),
		},
		Feed: FeedConfig{
			DefaultMix:   "cards:0.6,stacks:0.4",
			DefaultLimit: 50,
		},
		Server: ServerConfig{Port: 8080},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.Ranking.Card.HalfLifeHours <= 0 || cfg.Ranking.Collection.HalfLifeHours <= 0 {
		return nil, fmt.Errorf("half_life_hours must be positive")
	}
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STACKRANK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("STACKRANK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("STACKRANK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}
