package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Input.Path = "records.txt"
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "jaccard", cfg.Join.Similarity)
	assert.Equal(t, 0.8, cfg.Join.Threshold)
	assert.Empty(t, cfg.Join.Strategy, "strategy follows the input by default")
	assert.Equal(t, 1, cfg.Join.Shards)
	assert.Equal(t, "stdout", cfg.Output.Sink)
	assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)
}

func TestLoadYAMLOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssjoin.yaml")
	body := `
join:
  similarity: cosine
  threshold: 0.7
  strategy: prebuilt
  shards: 4
input:
  format: text
  path: left.txt
  foreignPath: right.txt
output:
  sink: topk
  topK: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cosine", cfg.Join.Similarity)
	assert.Equal(t, 0.7, cfg.Join.Threshold)
	assert.Equal(t, 4, cfg.Join.Shards)
	assert.Equal(t, "default", cfg.Join.LengthFilter, "unset keys keep defaults")
	assert.True(t, cfg.ForeignJoin())
	require.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SSJ_JOIN_THRESHOLD", "0.55")
	t.Setenv("SSJ_JOIN_SIMILARITY", "dice")
	t.Setenv("SSJ_JOIN_SHARDS", "not-a-number")
	t.Setenv("SSJ_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("SSJ_REDIS_ENABLED", "true")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.55, cfg.Join.Threshold)
	assert.Equal(t, "dice", cfg.Join.Similarity)
	assert.Equal(t, 1, cfg.Join.Shards)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		target error
	}{
		{"threshold zero", func(c *Config) { c.Join.Threshold = 0 }, apperrors.ErrInvalidThreshold},
		{"threshold above one", func(c *Config) { c.Join.Threshold = 1.2 }, apperrors.ErrInvalidThreshold},
		{"unknown similarity", func(c *Config) { c.Join.Similarity = "hamming" }, apperrors.ErrUnknownSimilarity},
		{"unknown strategy", func(c *Config) { c.Join.Strategy = "lsh" }, apperrors.ErrUnknownStrategy},
		{"unknown length filter", func(c *Config) { c.Join.LengthFilter = "loose" }, apperrors.ErrUnknownLengthFilter},
		{"zero shards", func(c *Config) { c.Join.Shards = 0 }, apperrors.ErrInvalidInput},
		{"missing path", func(c *Config) { c.Input.Path = "" }, apperrors.ErrInvalidInput},
		{"postgres without query", func(c *Config) { c.Input.Format = "postgres" }, apperrors.ErrInvalidInput},
		{"file sink without path", func(c *Config) { c.Output.Sink = "file" }, apperrors.ErrInvalidInput},
		{"unknown sink", func(c *Config) { c.Output.Sink = "s3" }, apperrors.ErrInvalidInput},
		{"bad format", func(c *Config) { c.Output.Format = "csv" }, apperrors.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.Equal(t, apperrors.ExitConfig, apperrors.ExitCode(err))
		})
	}
	assert.NoError(t, validConfig().Validate())
}

func TestDSN(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5433, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=d sslmode=disable", p.DSN())
}
