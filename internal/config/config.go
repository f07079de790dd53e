// Package config loads the service configuration from an HCL file with
// environment variable overrides. Resolution order: environment, then config
// file, then default.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/simply-migrate/simply-migrate/pkg/callback"
)

// Config is the root service configuration.
type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string `hcl:"listen_addr,optional"`

	// BaseURL prefixes the status_url returned by the start endpoint.
	BaseURL string `hcl:"base_url,optional"`

	// RedisURL is the state store connection URL (redis:// form). Empty
	// selects the in-memory store.
	RedisURL string `hcl:"redis_url,optional"`

	// MigrationsDir is the default scripts directory when a request does
	// not name one.
	MigrationsDir string `hcl:"migrations_dir,optional"`

	// CallbackFile is a plugin artifact with lifecycle hooks; optional.
	CallbackFile string `hcl:"callback_file,optional"`

	// LogLevel is an hclog level name.
	LogLevel string `hcl:"log_level,optional"`

	// Workers bounds concurrent tenant migrations.
	Workers int `hcl:"workers,optional"`

	// SoftTimeLimitSeconds interrupts a tenant migration so it can record
	// a timeout result. HardTimeLimitSeconds abandons it outright.
	SoftTimeLimitSeconds int `hcl:"soft_time_limit_seconds,optional"`
	HardTimeLimitSeconds int `hcl:"hard_time_limit_seconds,optional"`

	Kafka *KafkaConfig `hcl:"kafka,block"`
}

// KafkaConfig enables progress event publishing when brokers are set.
type KafkaConfig struct {
	Brokers       []string `hcl:"brokers,optional"`
	ProgressTopic string   `hcl:"progress_topic,optional"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:           "0.0.0.0:8000",
		MigrationsDir:        "migrations",
		LogLevel:             "info",
		Workers:              4,
		SoftTimeLimitSeconds: 3600,
		HardTimeLimitSeconds: 3900,
	}
}

// Load reads the config file at path (skipped when empty), applies
// environment overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := hclsimple.DecodeFile(path, nil, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.RedisURL = v
	}
	if v := os.Getenv(callback.CallbackFileEnvVar); v != "" {
		c.CallbackFile = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		if c.Kafka == nil {
			c.Kafka = &KafkaConfig{}
		}
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PROGRESS_TOPIC"); v != "" {
		if c.Kafka == nil {
			c.Kafka = &KafkaConfig{}
		}
		c.Kafka.ProgressTopic = v
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.ListenAddr == "" {
		c.ListenAddr = d.ListenAddr
	}
	if c.MigrationsDir == "" {
		c.MigrationsDir = d.MigrationsDir
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.Workers == 0 {
		c.Workers = d.Workers
	}
	if c.SoftTimeLimitSeconds == 0 {
		c.SoftTimeLimitSeconds = d.SoftTimeLimitSeconds
	}
	if c.HardTimeLimitSeconds == 0 {
		c.HardTimeLimitSeconds = d.HardTimeLimitSeconds
	}
	if c.Kafka != nil && c.Kafka.ProgressTopic == "" {
		c.Kafka.ProgressTopic = "simply-migrate.progress"
	}
}

// Validate accumulates every configuration problem.
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Workers < 1 {
		result = multierror.Append(result, fmt.Errorf("workers must be at least 1"))
	}
	if c.SoftTimeLimitSeconds < 1 {
		result = multierror.Append(result, fmt.Errorf("soft_time_limit_seconds must be positive"))
	}
	if c.HardTimeLimitSeconds <= c.SoftTimeLimitSeconds {
		result = multierror.Append(result, fmt.Errorf(
			"hard_time_limit_seconds (%d) must exceed soft_time_limit_seconds (%d)",
			c.HardTimeLimitSeconds, c.SoftTimeLimitSeconds))
	}
	if c.Kafka != nil && len(c.Kafka.Brokers) == 0 {
		result = multierror.Append(result, fmt.Errorf("kafka block requires at least one broker"))
	}

	return result.ErrorOrNil()
}
