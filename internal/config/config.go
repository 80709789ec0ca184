// Package config defines all configuration structures for the LexNER
// service. No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sub-configuration structs
// ─────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxBodySize     int64         `mapstructure:"max_body_size"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationPath   string        `mapstructure:"migration_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig holds Apache Kafka producer/consumer parameters.
type KafkaConfig struct {
	Enabled         bool     `mapstructure:"enabled"`
	Brokers         []string `mapstructure:"brokers"`
	GroupID         string   `mapstructure:"group_id"`
	AutoOffsetReset string   `mapstructure:"auto_offset_reset"` // "earliest" | "latest"
	RequestTopic    string   `mapstructure:"request_topic"`
	CompletedTopic  string   `mapstructure:"completed_topic"`
	DLQTopic        string   `mapstructure:"dlq_topic"`
	TimeoutMS       int      `mapstructure:"timeout_ms"`
	ProducerRetries int      `mapstructure:"producer_retries"`
	BatchSize       int      `mapstructure:"batch_size"`
}

// MinIOConfig holds MinIO / S3-compatible object-storage parameters.
type MinIOConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Endpoint      string        `mapstructure:"endpoint"`
	AccessKey     string        `mapstructure:"access_key"`
	SecretKey     string        `mapstructure:"secret_key"`
	Bucket        string        `mapstructure:"bucket"`
	Region        string        `mapstructure:"region"`
	UseSSL        bool          `mapstructure:"use_ssl"`
	PresignExpiry time.Duration `mapstructure:"presign_expiry"`
}

// OpenSearchConfig holds OpenSearch cluster connection parameters.
type OpenSearchConfig struct {
	Enabled            bool     `mapstructure:"enabled"`
	Addresses          []string `mapstructure:"addresses"`
	User               string   `mapstructure:"user"`
	Password           string   `mapstructure:"password"`
	InsecureSkipVerify bool     `mapstructure:"insecure_skip_verify"`
	Index              string   `mapstructure:"index"`
	BulkBatchSize      int      `mapstructure:"bulk_batch_size"`
}

// NERConfig selects and tunes the tagging backend and the pipeline.
type NERConfig struct {
	Backend         string        `mapstructure:"backend"` // "serving" | "sidecar" | "onnx"
	ServingURL      string        `mapstructure:"serving_url"`
	SidecarURL      string        `mapstructure:"sidecar_url"`
	ModelName       string        `mapstructure:"model_name"`
	ModelVersion    string        `mapstructure:"model_version"`
	ModelDir        string        `mapstructure:"model_dir"`
	LabelsPath      string        `mapstructure:"labels_path"`
	TransitionsPath string        `mapstructure:"transitions_path"`
	OnnxLibrary     string        `mapstructure:"onnx_library"`
	MaxLength       int           `mapstructure:"max_length"`
	Timeout         time.Duration `mapstructure:"timeout"`
	SpacedVariant   bool          `mapstructure:"spaced_variant"`
	LexiconPath     string        `mapstructure:"lexicon_path"`
	WatchLexicon    bool          `mapstructure:"watch_lexicon"`
	MaxTextLength   int           `mapstructure:"max_text_length"`
}

// CacheConfig controls result caching in front of the pipeline.
type CacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	TTL       time.Duration `mapstructure:"ttl"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// WorkerConfig holds background-worker execution parameters.
type WorkerConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `mapstructure:"format"` // "json" | "console"
	Output string `mapstructure:"output"`
}

// AuthConfig enables Keycloak bearer-token authentication on /api/v1.
type AuthConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	KeycloakURL string        `mapstructure:"keycloak_url"`
	Realm       string        `mapstructure:"realm"`
	ClientID    string        `mapstructure:"client_id"`
	KeyRefresh  time.Duration `mapstructure:"key_refresh"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	Namespace string `mapstructure:"namespace"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Root Config
// ─────────────────────────────────────────────────────────────────────────────

// Config is the root configuration structure for the service.
// Every infrastructure component reads its settings from the relevant
// sub-struct. Optional backends are switched on by their Enabled flag.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
	NER        NERConfig        `mapstructure:"ner"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Log        LogConfig        `mapstructure:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Auth       AuthConfig       `mapstructure:"auth"`

	// File is the path Load read; empty for environment-only configs.
	File string `mapstructure:"-"`
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation
// ─────────────────────────────────────────────────────────────────────────────

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.
func (c *Config) Validate() error {
	// Server
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	// Database
	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("config: database.host is required")
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("config: database.port %d is out of range [1, 65535]", c.Database.Port)
		}
		if c.Database.User == "" {
			return fmt.Errorf("config: database.user is required")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("config: database.db_name is required")
		}
		if c.Database.MaxConns < 1 {
			return fmt.Errorf("config: database.max_conns must be ≥ 1, got %d", c.Database.MaxConns)
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			return fmt.Errorf("config: redis.addr is required")
		}
		if c.Redis.DB < 0 {
			return fmt.Errorf("config: redis.db must be ≥ 0, got %d", c.Redis.DB)
		}
	}
	if c.Cache.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("config: cache.enabled requires redis.enabled")
	}

	// Kafka
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config: kafka.brokers must contain at least one broker address")
		}
		if c.Kafka.GroupID == "" {
			return fmt.Errorf("config: kafka.group_id is required")
		}
	}

	// MinIO
	if c.MinIO.Enabled && (c.MinIO.Endpoint == "" || c.MinIO.Bucket == "") {
		return fmt.Errorf("config: minio.endpoint and minio.bucket are required")
	}

	// OpenSearch
	if c.OpenSearch.Enabled && len(c.OpenSearch.Addresses) == 0 {
		return fmt.Errorf("config: opensearch.addresses must contain at least one address")
	}

	// NER
	switch c.NER.Backend {
	case "serving":
		if c.NER.ServingURL == "" {
			return fmt.Errorf("config: ner.serving_url is required for the serving backend")
		}
	case "sidecar":
		if c.NER.SidecarURL == "" {
			return fmt.Errorf("config: ner.sidecar_url is required for the sidecar backend")
		}
	case "onnx":
		if c.NER.ModelDir == "" {
			return fmt.Errorf("config: ner.model_dir is required for the onnx backend")
		}
	default:
		return fmt.Errorf("config: ner.backend %q is invalid; expected serving|sidecar|onnx", c.NER.Backend)
	}
	if c.NER.MaxLength < 8 {
		return fmt.Errorf("config: ner.max_length must be ≥ 8, got %d", c.NER.MaxLength)
	}
	if c.NER.MaxTextLength < 1 {
		return fmt.Errorf("config: ner.max_text_length must be ≥ 1, got %d", c.NER.MaxTextLength)
	}
	if c.NER.WatchLexicon && c.NER.LexiconPath == "" {
		return fmt.Errorf("config: ner.watch_lexicon requires ner.lexicon_path")
	}

	// Auth
	if c.Auth.Enabled && (c.Auth.KeycloakURL == "" || c.Auth.Realm == "" || c.Auth.ClientID == "") {
		return fmt.Errorf("config: auth.keycloak_url, auth.realm and auth.client_id are required")
	}

	// Worker
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("config: worker.concurrency must be ≥ 1, got %d", c.Worker.Concurrency)
	}

	// Log
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level %q is invalid; expected debug|info|warn|error", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format %q is invalid; expected json|console", c.Log.Format)
	}

	return nil
}
