// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Index, Consumer, Reindex, Search).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Index    IndexConfig    `yaml:"index"`
	Consumer ConsumerConfig `yaml:"consumer"`
	Reindex  ReindexConfig  `yaml:"reindex"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`

	// RateLimit is the per-client request rate; zero disables limiting.
	RateLimit      float64 `yaml:"rateLimit"`
	RateLimitBurst int     `yaml:"rateLimitBurst"`
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

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Mutations     string `yaml:"mutations"`
	IndexComplete string `yaml:"indexComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexConfig controls where and how each shard's index is stored and how
// writes reach it.
type IndexConfig struct {
	DataDir      string        `yaml:"dataDir"`
	Backend      string        `yaml:"backend"`
	Analyzer     string        `yaml:"analyzer"`
	IDField      string        `yaml:"idField"`
	TextFields   []string      `yaml:"textFields"`
	FlushPolicy  string        `yaml:"flushPolicy"`
	MaxQueueSize int           `yaml:"maxQueueSize"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	NumShards    int           `yaml:"numShards"`
	Interactive  ProfileConfig `yaml:"interactive"`
	Batch        ProfileConfig `yaml:"batch"`
}

// ProfileConfig tunes a writer for one update mode.
type ProfileConfig struct {
	MergeFactor     int `yaml:"mergeFactor"`
	MaxBufferedDocs int `yaml:"maxBufferedDocs"`
	MaxMergeDocs    int `yaml:"maxMergeDocs"`
	MaxFieldLength  int `yaml:"maxFieldLength"`
}

// ConsumerConfig controls how mutation events are fetched from Kafka.
type ConsumerConfig struct {
	MaxBatch     int           `yaml:"maxBatch"`
	Linger       time.Duration `yaml:"linger"`
	AwaitTimeout time.Duration `yaml:"awaitTimeout"`
}

// ReindexConfig controls bulk rebuilds from PostgreSQL.
type ReindexConfig struct {
	PageSize      int           `yaml:"pageSize"`
	RatePerSecond float64       `yaml:"ratePerSecond"`
	Burst         int           `yaml:"burst"`
	AwaitTimeout  time.Duration `yaml:"awaitTimeout"`
}

// SearchConfig controls query execution limits and timeouts.
type SearchConfig struct {
	MaxResults      int           `yaml:"maxResults"`
	DefaultLimit    int           `yaml:"defaultLimit"`
	TimeoutPerShard time.Duration `yaml:"timeoutPerShard"`
	Fields          []string      `yaml:"fields"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the index layer cannot run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Index.Backend) {
	case "segment", "bleve":
	default:
		return fmt.Errorf("index.backend: unknown backend %q", c.Index.Backend)
	}
	switch strings.ToLower(c.Index.FlushPolicy) {
	case "none", "flush", "close":
	default:
		return fmt.Errorf("index.flushPolicy: unknown policy %q", c.Index.FlushPolicy)
	}
	if c.Index.NumShards < 1 {
		return fmt.Errorf("index.numShards must be at least 1, got %d", c.Index.NumShards)
	}
	if c.Index.MaxQueueSize < 1 {
		return fmt.Errorf("index.maxQueueSize must be at least 1, got %d", c.Index.MaxQueueSize)
	}
	if c.Index.DataDir == "" {
		return fmt.Errorf("index.dataDir is required")
	}
	return nil
}

// defaultConfig returns a Config with defaults for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimit:       50,
			RateLimitBurst:  100,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "searchindex",
			User:            "searchindex",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "searchindex-group",
			Topics: KafkaTopics{
				Mutations:     "index.mutations",
				IndexComplete: "index.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Index: IndexConfig{
			DataDir:      "data/index",
			Backend:      "segment",
			Analyzer:     "standard",
			IDField:      "id",
			TextFields:   []string{"title", "body"},
			FlushPolicy:  "flush",
			MaxQueueSize: 1000,
			IdleTimeout:  30 * time.Second,
			NumShards:    4,
			Interactive: ProfileConfig{
				MergeFactor:     4,
				MaxBufferedDocs: 300,
				MaxMergeDocs:    5000,
				MaxFieldLength:  1000000,
			},
			Batch: ProfileConfig{
				MergeFactor:     50,
				MaxBufferedDocs: 10000,
				MaxMergeDocs:    1000000,
				MaxFieldLength:  1000000,
			},
		},
		Consumer: ConsumerConfig{
			MaxBatch:     500,
			Linger:       200 * time.Millisecond,
			AwaitTimeout: 2 * time.Minute,
		},
		Reindex: ReindexConfig{
			PageSize:      500,
			RatePerSecond: 2000,
			Burst:         500,
			AwaitTimeout:  30 * time.Minute,
		},
		Search: SearchConfig{
			MaxResults:      100,
			DefaultLimit:    10,
			TimeoutPerShard: 2 * time.Second,
			Fields:          []string{"title", "body"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("SP_SERVER_PORT", &cfg.Server.Port)
	if v := os.Getenv("SP_SERVER_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = f
		}
	}
	setString("SP_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("SP_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("SP_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("SP_POSTGRES_USER", &cfg.Postgres.User)
	setString("SP_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("SP_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setString("SP_REDIS_ADDR", &cfg.Redis.Addr)
	setString("SP_REDIS_PASSWORD", &cfg.Redis.Password)
	setString("SP_INDEX_DATA_DIR", &cfg.Index.DataDir)
	setString("SP_INDEX_BACKEND", &cfg.Index.Backend)
	setString("SP_INDEX_FLUSH_POLICY", &cfg.Index.FlushPolicy)
	setInt("SP_INDEX_MAX_QUEUE_SIZE", &cfg.Index.MaxQueueSize)
	setInt("SP_INDEX_NUM_SHARDS", &cfg.Index.NumShards)
	setString("SP_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("SP_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("SP_METRICS_PORT", &cfg.Metrics.Port)
}
