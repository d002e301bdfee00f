// Package config loads and validates ssjoin configuration from YAML files with
// environment-variable overrides. It provides typed structs for the join
// itself and for every input, output and infrastructure subsystem.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/index"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/lengthfilter"
	"github.com/Adithya-Monish-Kumar-K/set-similarity-join/internal/join/similarity"
	apperrors "github.com/Adithya-Monish-Kumar-K/set-similarity-join/pkg/errors"
)

// Config is the top-level configuration.
type Config struct {
	Join     JoinConfig     `yaml:"join"`
	Input    InputConfig    `yaml:"input"`
	Output   OutputConfig   `yaml:"output"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Logging  LoggingConfig  `yaml:"logging"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// JoinConfig selects the similarity measure, threshold and engine variant.
type JoinConfig struct {
	Similarity string  `yaml:"similarity"`
	Threshold  float64 `yaml:"threshold"`
	// Strategy is "onthefly" or "prebuilt"; empty picks by input, prebuilt
	// when a foreign collection is present.
	Strategy     string `yaml:"strategy"`
	LengthFilter string `yaml:"lengthFilter"`
	// Shards partitions the probe records of a foreign join; each shard
	// builds its own index. Ignored for self joins.
	Shards      int `yaml:"shards"`
	Parallelism int `yaml:"parallelism"`
}

// InputConfig describes where records come from.
type InputConfig struct {
	// Format is "int" (whitespace separated token ids), "text" (tokenized
	// words), "snapshot" (a prepared .ssjd file) or "postgres".
	Format      string `yaml:"format"`
	Path        string `yaml:"path"`
	ForeignPath string `yaml:"foreignPath"`
	// Query and ForeignQuery return (id bigint, tokens int[]) rows.
	Query        string `yaml:"query"`
	ForeignQuery string `yaml:"foreignQuery"`
	// PreRanked skips frequency ranking; ids must already be ranked.
	PreRanked bool `yaml:"preRanked"`
}

// OutputConfig describes where pairs go.
type OutputConfig struct {
	Sink      string        `yaml:"sink"`
	Path      string        `yaml:"path"`
	Format    string        `yaml:"format"`
	TopK      int           `yaml:"topK"`
	Topic     string        `yaml:"topic"`
	Table     string        `yaml:"table"`
	BatchSize int           `yaml:"batchSize"`
	Retries   int           `yaml:"retries"`
	RetryWait time.Duration `yaml:"retryWait"`
}

// SnapshotConfig controls writing the prepared dataset to disk.
type SnapshotConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
}

// RedisConfig holds Redis connection and result-cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Join: JoinConfig{
			Similarity:   "jaccard",
			Threshold:    0.8,
			Strategy:     "",
			LengthFilter: "default",
			Shards:       1,
			Parallelism:  4,
		},
		Input: InputConfig{
			Format: "int",
		},
		Output: OutputConfig{
			Sink:      "stdout",
			Format:    "text",
			TopK:      100,
			Topic:     "ssjoin-pairs",
			Table:     "ssjoin_pairs",
			BatchSize: 500,
			Retries:   3,
			RetryWait: 200 * time.Millisecond,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "ssjoin",
			User:            "ssjoin",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers: []string{"localhost:9092"},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Port: 9090,
		},
	}
}

// applyEnvOverrides reads SSJ_* environment variables and overrides the
// corresponding config fields. Unparseable numbers are ignored.
func applyEnvOverrides(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("SSJ_JOIN_SIMILARITY", &cfg.Join.Similarity)
	if v := os.Getenv("SSJ_JOIN_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Join.Threshold = t
		}
	}
	setString("SSJ_JOIN_STRATEGY", &cfg.Join.Strategy)
	setString("SSJ_JOIN_LENGTH_FILTER", &cfg.Join.LengthFilter)
	setInt("SSJ_JOIN_SHARDS", &cfg.Join.Shards)
	setInt("SSJ_JOIN_PARALLELISM", &cfg.Join.Parallelism)

	setString("SSJ_INPUT_FORMAT", &cfg.Input.Format)
	setString("SSJ_INPUT_PATH", &cfg.Input.Path)
	setString("SSJ_INPUT_FOREIGN_PATH", &cfg.Input.ForeignPath)

	setString("SSJ_OUTPUT_SINK", &cfg.Output.Sink)
	setString("SSJ_OUTPUT_PATH", &cfg.Output.Path)
	setString("SSJ_OUTPUT_FORMAT", &cfg.Output.Format)
	setInt("SSJ_OUTPUT_TOPK", &cfg.Output.TopK)

	setString("SSJ_SNAPSHOT_PATH", &cfg.Snapshot.Path)

	setString("SSJ_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("SSJ_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("SSJ_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("SSJ_POSTGRES_USER", &cfg.Postgres.User)
	setString("SSJ_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("SSJ_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)

	if v := os.Getenv("SSJ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	setBool("SSJ_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("SSJ_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SSJ_REDIS_PASSWORD", &cfg.Redis.Password)

	setString("SSJ_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("SSJ_LOGGING_FORMAT", &cfg.Logging.Format)

	setBool("SSJ_TRACING_ENABLED", &cfg.Tracing.Enabled)
	setBool("SSJ_METRICS_ENABLED", &cfg.Metrics.Enabled)
	setInt("SSJ_METRICS_PORT", &cfg.Metrics.Port)
}

// Validate fails fast on settings the join would reject later, so a bad
// config never gets as far as loading input.
func (c *Config) Validate() error {
	sim, err := similarity.Parse(c.Join.Similarity)
	if err != nil {
		return apperrors.Newf(apperrors.ErrUnknownSimilarity, apperrors.ExitConfig,
			"join.similarity %q", c.Join.Similarity)
	}
	if err := sim.Validate(c.Join.Threshold); err != nil {
		return err
	}
	if _, err := index.ParseStrategy(c.Join.Strategy); c.Join.Strategy != "" && err != nil {
		return apperrors.Newf(apperrors.ErrUnknownStrategy, apperrors.ExitConfig,
			"join.strategy %q", c.Join.Strategy)
	}
	if _, err := lengthfilter.Parse(c.Join.LengthFilter); err != nil {
		return apperrors.Newf(apperrors.ErrUnknownLengthFilter, apperrors.ExitConfig,
			"join.lengthFilter %q", c.Join.LengthFilter)
	}
	if c.Join.Shards < 1 || c.Join.Parallelism < 1 {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig,
			"join.shards and join.parallelism must be positive, got %d and %d",
			c.Join.Shards, c.Join.Parallelism)
	}

	switch c.Input.Format {
	case "int", "text", "snapshot":
		if c.Input.Path == "" {
			return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "input.path is required")
		}
	case "postgres":
		if c.Input.Query == "" {
			return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "input.query is required")
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig,
			"input.format %q, want int, text, snapshot or postgres", c.Input.Format)
	}

	switch c.Output.Sink {
	case "stdout", "count", "kafka", "postgres":
	case "file":
		if c.Output.Path == "" {
			return apperrors.New(apperrors.ErrInvalidInput, apperrors.ExitConfig, "output.path is required for the file sink")
		}
	case "topk":
		if c.Output.TopK < 1 {
			return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig,
				"output.topK must be positive, got %d", c.Output.TopK)
		}
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig,
			"output.sink %q, want stdout, file, count, topk, kafka or postgres", c.Output.Sink)
	}
	if c.Output.Format != "text" && c.Output.Format != "json" {
		return apperrors.Newf(apperrors.ErrInvalidInput, apperrors.ExitConfig,
			"output.format %q, want text or json", c.Output.Format)
	}
	return nil
}

// ForeignJoin reports whether a second collection is configured.
func (c *Config) ForeignJoin() bool {
	return c.Input.ForeignPath != "" || c.Input.ForeignQuery != ""
}
