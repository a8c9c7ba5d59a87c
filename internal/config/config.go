// Package config loads evreplay settings from a YAML file and EVREPLAY_*
// environment variables. Environment values win over the file; CLI flags
// win over both.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/evreplay/internal/engine"
	"github.com/roach88/evreplay/internal/snapshot"
	"github.com/roach88/evreplay/internal/upgrade"
)

// Config is the evreplay configuration.
type Config struct {
	ServiceID string `yaml:"service_id" env:"EVREPLAY_SERVICE_ID"`
	DB        string `yaml:"db" env:"EVREPLAY_DB"`
	LogLevel  string `yaml:"log_level" env:"EVREPLAY_LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"EVREPLAY_LOG_FORMAT"`

	Replay   Replay   `yaml:"replay"`
	Snapshot Snapshot `yaml:"snapshot"`

	AllowDowngrade bool `yaml:"allow_downgrade" env:"EVREPLAY_ALLOW_DOWNGRADE"`
}

// Replay bounds replay work, in work units.
type Replay struct {
	SliceBudget uint64 `yaml:"slice_budget" env:"EVREPLAY_SLICE_BUDGET"`
	TotalBudget uint64 `yaml:"total_budget" env:"EVREPLAY_TOTAL_BUDGET"`
	ChunkSize   int    `yaml:"chunk_size" env:"EVREPLAY_CHUNK_SIZE"`
}

// Snapshot is the snapshot policy.
type Snapshot struct {
	Every uint64 `yaml:"every" env:"EVREPLAY_SNAPSHOT_EVERY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServiceID: "ckbtc-minter",
		DB:        "evreplay.db",
		LogLevel:  "info",
		LogFormat: "text",
		Replay: Replay{
			SliceBudget: upgrade.DefaultSliceBudget,
			TotalBudget: upgrade.DefaultTotalBudget,
			ChunkSize:   engine.DefaultChunkSize,
		},
		Snapshot: Snapshot{Every: 1000},
	}
}

// Load returns the defaults overlaid with the file at path (if path is not
// empty) and then with the environment.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch {
	case c.ServiceID == "":
		return fmt.Errorf("config: service_id is required")
	case c.DB == "":
		return fmt.Errorf("config: db is required")
	case c.Replay.SliceBudget == 0:
		return fmt.Errorf("config: replay.slice_budget must be positive")
	case c.Replay.TotalBudget < c.Replay.SliceBudget:
		return fmt.Errorf("config: replay.total_budget %d is below slice_budget %d",
			c.Replay.TotalBudget, c.Replay.SliceBudget)
	case c.Replay.ChunkSize <= 0:
		return fmt.Errorf("config: replay.chunk_size must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Upgrade returns the controller configuration.
func (c Config) Upgrade(logger *slog.Logger) upgrade.Config {
	return upgrade.Config{
		ServiceID:      c.ServiceID,
		SliceBudget:    engine.Budget{Limit: c.Replay.SliceBudget},
		TotalBudget:    engine.Budget{Limit: c.Replay.TotalBudget},
		ChunkSize:      c.Replay.ChunkSize,
		Snapshot:       snapshot.Policy{Every: c.Snapshot.Every},
		AllowDowngrade: c.AllowDowngrade,
		Logger:         logger,
	}
}

// Logger builds the slog logger described by the configuration.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("config: unknown log_level %q", s)
	}
	return level, nil
}
