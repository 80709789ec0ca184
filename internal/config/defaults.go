// Package config provides configuration loading, defaults, and validation for
// the LexNER service.
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ─────────────────────────────────────────────────────────────────────────────
// Default value constants
// ─────────────────────────────────────────────────────────────────────────────

const (
	DefaultServerHost = "0.0.0.0"
	DefaultServerPort = 8080
	DefaultServerMode = "release"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBUser     = "lexner"
	DefaultDBName     = "lexner"
	DefaultDBMaxConns = 10

	DefaultRedisAddr = "localhost:6379"

	DefaultKafkaBroker         = "localhost:9092"
	DefaultKafkaGroupID        = "lexner-worker"
	DefaultKafkaRequestTopic   = "ner.analyze.request"
	DefaultKafkaCompletedTopic = "ner.analyze.completed"
	DefaultKafkaDLQTopic       = "ner.analyze.request.dlq"

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "ner-results"

	DefaultOpenSearchAddress = "http://localhost:9200"
	DefaultOpenSearchIndex   = "legal-entities"

	DefaultNERBackend       = "serving"
	DefaultNERModelName     = "legal-ner"
	DefaultNERMaxLength     = 320
	DefaultNERMaxTextLength = 100_000

	DefaultCacheKeyPrefix = "lexner:ner:"

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultWorkerConcurrency = 4

	DefaultMetricsPath = "/metrics"
)

// ApplyDefaults fills every zero-value field in cfg with the service default.
// Fields that have already been set by the caller (non-zero values) are left
// unchanged so that explicit configuration always wins. Enabled flags are
// never touched.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	// ── Server ────────────────────────────────────────────────────────────────
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultServerHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 30 * time.Second
	}
	if cfg.Server.MaxBodySize == 0 {
		cfg.Server.MaxBodySize = 4 << 20
	}

	// ── Database ──────────────────────────────────────────────────────────────
	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = DefaultDBUser
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	// DB is an int; 0 is a valid explicit value so we cannot distinguish "not
	// set" from "set to 0". 0 is also the default.

	// ── Kafka ─────────────────────────────────────────────────────────────────
	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.AutoOffsetReset == "" {
		cfg.Kafka.AutoOffsetReset = "earliest"
	}
	if cfg.Kafka.RequestTopic == "" {
		cfg.Kafka.RequestTopic = DefaultKafkaRequestTopic
	}
	if cfg.Kafka.CompletedTopic == "" {
		cfg.Kafka.CompletedTopic = DefaultKafkaCompletedTopic
	}
	if cfg.Kafka.DLQTopic == "" {
		cfg.Kafka.DLQTopic = DefaultKafkaDLQTopic
	}

	// ── MinIO ─────────────────────────────────────────────────────────────────
	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = time.Hour
	}

	// ── OpenSearch ────────────────────────────────────────────────────────────
	if len(cfg.OpenSearch.Addresses) == 0 {
		cfg.OpenSearch.Addresses = []string{DefaultOpenSearchAddress}
	}
	if cfg.OpenSearch.Index == "" {
		cfg.OpenSearch.Index = DefaultOpenSearchIndex
	}
	if cfg.OpenSearch.BulkBatchSize == 0 {
		cfg.OpenSearch.BulkBatchSize = 500
	}

	// ── NER ───────────────────────────────────────────────────────────────────
	if cfg.NER.Backend == "" {
		cfg.NER.Backend = DefaultNERBackend
	}
	if cfg.NER.ModelName == "" {
		cfg.NER.ModelName = DefaultNERModelName
	}
	if cfg.NER.MaxLength == 0 {
		cfg.NER.MaxLength = DefaultNERMaxLength
	}
	if cfg.NER.MaxTextLength == 0 {
		cfg.NER.MaxTextLength = DefaultNERMaxTextLength
	}
	if cfg.NER.Timeout == 0 {
		cfg.NER.Timeout = 30 * time.Second
	}

	// ── Cache ─────────────────────────────────────────────────────────────────
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = 24 * time.Hour
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = DefaultCacheKeyPrefix
	}

	// ── Worker ────────────────────────────────────────────────────────────────
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = DefaultWorkerConcurrency
	}
	if cfg.Worker.MaxRetries == 0 {
		cfg.Worker.MaxRetries = 3
	}
	if cfg.Worker.RetryBackoff == 0 {
		cfg.Worker.RetryBackoff = 500 * time.Millisecond
	}

	// ── Log ───────────────────────────────────────────────────────────────────
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	// ── Metrics ───────────────────────────────────────────────────────────────
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "lexner"
	}

	// ── Auth ──────────────────────────────────────────────────────────────────
	if cfg.Auth.KeyRefresh == 0 {
		cfg.Auth.KeyRefresh = 5 * time.Minute
	}
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// registerDefaults declares every key of Config on v. AutomaticEnv only
// resolves keys viper already knows about, so without this an environment
// variable for a key absent from the file would be ignored by Unmarshal.
func registerDefaults(v *viper.Viper) {
	registerStruct(v, "", reflect.ValueOf(*Default()))
}

func registerStruct(v *viper.Viper, prefix string, rv reflect.Value) {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		tag := rt.Field(i).Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		fv := rv.Field(i)
		if fv.Kind() == reflect.Struct && fv.Type() != reflect.TypeOf(time.Duration(0)) {
			registerStruct(v, key, fv)
			continue
		}
		v.SetDefault(strings.ToLower(key), fv.Interface())
	}
}
