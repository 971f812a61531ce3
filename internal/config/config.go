package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full clearinghouse service configuration. Values come from
// the YAML file; connection strings may be overridden by environment
// variables so secrets stay out of the file.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	NATS     NATSConfig     `yaml:"nats"`
	Core     CoreConfig     `yaml:"core"`
	Persist  PersistConfig  `yaml:"persist"`
	Channels ChannelsConfig `yaml:"channels"`
}

type ServiceConfig struct {
	Name    string `yaml:"name" validate:"required"`
	Version string `yaml:"version"`
}

type ServerConfig struct {
	ListenAddr  string `yaml:"listen_addr" validate:"required"`
	MetricsAddr string `yaml:"metrics_addr" validate:"required"`
}

type PostgresConfig struct {
	DSN           string `yaml:"dsn" validate:"required"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type NATSConfig struct {
	URL     string `yaml:"url" validate:"required"`
	Enabled bool   `yaml:"enabled"`
}

type CoreConfig struct {
	// MaxOracleAgeTicks bounds how stale a price may be before operations
	// that depend on it fail.
	MaxOracleAgeTicks int64 `yaml:"max_oracle_age_ticks" validate:"gt=0"`
}

type PersistConfig struct {
	BatchSize    int           `yaml:"batch_size" validate:"gt=0"`
	FlushTimeout time.Duration `yaml:"flush_timeout" validate:"gt=0"`
}

type ChannelsConfig struct {
	PersistBuffer    int `yaml:"persist_buffer" validate:"gt=0"`
	ProjectionBuffer int `yaml:"projection_buffer" validate:"gt=0"`
	PublishBuffer    int `yaml:"publish_buffer" validate:"gt=0"`
	PriceBuffer      int `yaml:"price_buffer" validate:"gt=0"`
}

// Load reads, env-overrides and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Config{
		Server: ServerConfig{
			ListenAddr:  ":8080",
			MetricsAddr: ":9090",
		},
		Core: CoreConfig{
			MaxOracleAgeTicks: 150,
		},
		Persist: PersistConfig{
			BatchSize:    100,
			FlushTimeout: 50 * time.Millisecond,
		},
		Channels: ChannelsConfig{
			PersistBuffer:    1024,
			ProjectionBuffer: 1024,
			PublishBuffer:    1024,
			PriceBuffer:      256,
		},
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if v := os.Getenv("CLEARING_POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = strings.TrimSpace(v)
	}
	if v := os.Getenv("CLEARING_NATS_URL"); v != "" {
		cfg.NATS.URL = strings.TrimSpace(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
