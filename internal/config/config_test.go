package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simply-migrate/simply-migrate/pkg/callback"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "0.0.0.0:8000", cfg.ListenAddr)
		assert.Equal(t, "migrations", cfg.MigrationsDir)
		assert.Equal(t, 4, cfg.Workers)
		assert.Equal(t, 3600, cfg.SoftTimeLimitSeconds)
		assert.Equal(t, 3900, cfg.HardTimeLimitSeconds)
		assert.Nil(t, cfg.Kafka)
	})

	t.Run("reads hcl file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`
listen_addr    = "127.0.0.1:9000"
redis_url      = "redis://redis:6379/1"
migrations_dir = "/srv/migrations"
workers        = 8

kafka {
  brokers        = ["broker:9092"]
  progress_topic = "migrations.progress"
}
`), 0o644))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
		assert.Equal(t, "redis://redis:6379/1", cfg.RedisURL)
		assert.Equal(t, 8, cfg.Workers)
		require.NotNil(t, cfg.Kafka)
		assert.Equal(t, []string{"broker:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, "migrations.progress", cfg.Kafka.ProgressTopic)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`redis_url = "redis://file:6379/0"`+"\n"), 0o644))
		t.Setenv("REDIS_URL", "redis://env:6379/0")
		t.Setenv("KAFKA_BROKERS", "b1:9092,b2:9092")
		t.Setenv(callback.CallbackFileEnvVar, "/opt/hooks.so")

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "redis://env:6379/0", cfg.RedisURL)
		assert.Equal(t, "/opt/hooks.so", cfg.CallbackFile)
		require.NotNil(t, cfg.Kafka)
		assert.Equal(t, []string{"b1:9092", "b2:9092"}, cfg.Kafka.Brokers)
		assert.Equal(t, "simply-migrate.progress", cfg.Kafka.ProgressTopic)
	})

	t.Run("missing file is an error", func(t *testing.T) {
		_, err := Load("/does/not/exist.hcl")
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	t.Run("hard limit must exceed soft limit", func(t *testing.T) {
		cfg := Default()
		cfg.HardTimeLimitSeconds = cfg.SoftTimeLimitSeconds
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "hard_time_limit_seconds")
	})

	t.Run("kafka block requires brokers", func(t *testing.T) {
		cfg := Default()
		cfg.Kafka = &KafkaConfig{}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one broker")
	})

	t.Run("accumulates multiple problems", func(t *testing.T) {
		cfg := Default()
		cfg.Workers = 0
		cfg.SoftTimeLimitSeconds = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "workers")
		assert.Contains(t, err.Error(), "soft_time_limit_seconds")
	})
}
