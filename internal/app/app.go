// Package app wires configuration into a running analysis service: the
// tagging pipeline, the optional storage, cache, messaging and search
// backends, metrics and health checks. The CLI and the cmd entry points
// share it.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/turtacn/LexNER/internal/application/analysis"
	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/LexNER/internal/infrastructure/database/postgres"
	"github.com/turtacn/LexNER/internal/infrastructure/database/postgres/repositories"
	"github.com/turtacn/LexNER/internal/infrastructure/database/redis"
	"github.com/turtacn/LexNER/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexNER/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexNER/internal/infrastructure/storage/minio"
	"github.com/turtacn/LexNER/internal/intelligence/common"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/internal/interfaces/http/handlers"
	"github.com/turtacn/LexNER/pkg/errors"
)

// Version is the application version reported by probes and the CLI.
// It is overridden at link time.
var Version = "dev"

// App holds the wired components of one process.
type App struct {
	Config    *config.Config
	Logger    logging.Logger
	Collector prometheus.MetricsCollector
	Metrics   *prometheus.NERMetrics
	Pipeline  *legal_ner.Pipeline
	Service   analysis.Service
	// Producer is nil unless Kafka is enabled.
	Producer *kafka.Producer
	Checkers []handlers.HealthChecker

	redis *redis.Client
	// verifier is set by RunHTTP when auth is enabled.
	verifier *keycloak.JWKSVerifier
	closers  []closer
}

type closer struct {
	name string
	fn   func() error
}

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	tagger legal_ner.Tagger
}

// WithTagger replaces the configured model backend.
func WithTagger(t legal_ner.Tagger) Option {
	return func(o *buildOptions) { o.tagger = t }
}

// Build creates every component enabled in cfg. On error, whatever was
// already opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger logging.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	var bo buildOptions
	for _, opt := range opts {
		opt(&bo)
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.build(ctx, bo); err != nil {
		a.Close()
		return nil, err
	}
	logger.Info("application initialized",
		logging.String("version", Version),
		logging.String("backend", cfg.NER.Backend),
		logging.Bool("spaced_variant", cfg.NER.SpacedVariant),
		logging.Bool("postgres", cfg.Database.Enabled),
		logging.Bool("redis", cfg.Redis.Enabled),
		logging.Bool("kafka", cfg.Kafka.Enabled),
		logging.Bool("minio", cfg.MinIO.Enabled),
		logging.Bool("opensearch", cfg.OpenSearch.Enabled))
	return a, nil
}

func (a *App) build(ctx context.Context, bo buildOptions) error {
	cfg := a.Config

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            cfg.Metrics.Namespace,
		EnableProcessMetrics: cfg.Metrics.Enabled,
		EnableGoMetrics:      cfg.Metrics.Enabled,
	}, a.Logger)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	a.Collector = collector
	a.Metrics = prometheus.NewNERMetrics(collector)
	inference, err := common.NewPrometheusInferenceMetrics(collector.Registerer())
	if err != nil {
		return fmt.Errorf("inference metrics: %w", err)
	}

	tagger := bo.tagger
	if tagger == nil {
		lazy, err := NewTagger(cfg.NER, a.Logger.Named("tagger"))
		if err != nil {
			return err
		}
		a.addCloser("tagger", lazy.Close)
		tagger = lazy
	}

	var lex *legal_ner.Lexicon
	if cfg.NER.LexiconPath != "" {
		if lex, err = legal_ner.LoadLexicon(cfg.NER.LexiconPath); err != nil {
			return err
		}
	}
	pipelineOpts := func(spaced bool) []legal_ner.Option {
		opts := []legal_ner.Option{
			legal_ner.WithSpacedVariant(spaced),
			legal_ner.WithLogger(a.Logger.Named("pipeline")),
			legal_ner.WithInferenceMetrics(inference, cfg.NER.ModelName),
		}
		if lex != nil {
			opts = append(opts, legal_ner.WithLexicon(lex))
		}
		return opts
	}
	a.Pipeline = legal_ner.NewPipeline(tagger, pipelineOpts(cfg.NER.SpacedVariant)...)
	deps := analysis.Dependencies{
		Pipeline:  a.Pipeline,
		Alternate: legal_ner.NewPipeline(tagger, pipelineOpts(!cfg.NER.SpacedVariant)...),
		Metrics:   a.Metrics,
	}

	if err := a.buildStorage(ctx, &deps); err != nil {
		return err
	}
	if err := a.buildSearch(ctx, &deps); err != nil {
		return err
	}
	if cfg.Kafka.Enabled {
		producer, err := kafka.NewProducer(kafka.ProducerConfigFrom(cfg.Kafka), a.Logger.Named("kafka"))
		if err != nil {
			return fmt.Errorf("kafka producer: %w", err)
		}
		a.Producer = producer
		a.addCloser("kafka producer", producer.Close)
	}

	svc, err := analysis.NewService(deps, analysis.Config{MaxTextLength: cfg.NER.MaxTextLength}, a.Logger.Named("analysis"))
	if err != nil {
		return err
	}
	a.Service = svc
	a.Checkers = append(a.Checkers, handlers.Optional("model", func(ctx context.Context) error {
		if !svc.ModelReady() {
			return errors.ModelNotAvailable()
		}
		return nil
	}))
	return nil
}

func (a *App) buildStorage(ctx context.Context, deps *analysis.Dependencies) error {
	cfg := a.Config

	if cfg.Database.Enabled {
		if cfg.Database.AutoMigrate {
			if err := a.migrate(); err != nil {
				return err
			}
		}
		conn, err := postgres.NewConnection(ctx, cfg.Database, a.Logger.Named("postgres"))
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		a.addCloser("postgres", conn.Close)
		a.Checkers = append(a.Checkers, handlers.NewChecker("postgres", conn.HealthCheck))
		deps.Repo = repositories.NewPostgresAnalysisRepo(conn, a.Logger.Named("repo"))
	}

	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, cfg.Redis, a.Logger.Named("redis"))
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		a.redis = client
		a.addCloser("redis", client.Close)
		a.Checkers = append(a.Checkers, handlers.NewChecker("redis", client.Ping))
		if cfg.Cache.Enabled {
			deps.Cache = redis.NewResultCache(client, a.Logger.Named("cache"),
				redis.WithPrefix(cfg.Cache.KeyPrefix),
				redis.WithTTL(cfg.Cache.TTL))
		}
	}

	if cfg.MinIO.Enabled {
		client, err := minio.NewClient(ctx, cfg.MinIO, a.Logger.Named("minio"))
		if err != nil {
			return fmt.Errorf("minio: %w", err)
		}
		a.addCloser("minio", client.Close)
		a.Checkers = append(a.Checkers, handlers.NewChecker("minio", client.HealthCheck))
		deps.Exporter = minio.NewResultExporter(client, a.Logger.Named("export"))
	}
	return nil
}

func (a *App) buildSearch(ctx context.Context, deps *analysis.Dependencies) error {
	cfg := a.Config
	if !cfg.OpenSearch.Enabled {
		return nil
	}
	client, err := opensearch.NewClient(ctx, opensearch.ClientConfigFrom(cfg.OpenSearch), a.Logger.Named("opensearch"))
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	a.addCloser("opensearch", client.Close)
	a.Checkers = append(a.Checkers, handlers.NewChecker("opensearch", client.Ping))

	indexer := opensearch.NewIndexer(client, a.Pipeline, a.Logger.Named("indexer"))
	if err := indexer.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("opensearch index: %w", err)
	}
	deps.Indexer = indexer
	deps.Searcher = opensearch.NewSearcher(client, a.Logger.Named("searcher"))
	return nil
}

// migrate applies pending schema migrations before the pool is opened.
func (a *App) migrate() error {
	m, err := postgres.NewMigrator(postgres.BuildDSN(a.Config.Database), MigrationSource(a.Config.Database), a.Logger.Named("migrate"))
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	defer m.Close()
	return m.Up()
}

// MigrationSource returns a file:// URL for cfg.MigrationPath when that
// directory exists, and "" to select the embedded schema otherwise.
func MigrationSource(cfg config.DatabaseConfig) string {
	if cfg.MigrationPath == "" {
		return ""
	}
	if strings.Contains(cfg.MigrationPath, "://") {
		return cfg.MigrationPath
	}
	info, err := os.Stat(cfg.MigrationPath)
	if err != nil || !info.IsDir() {
		return ""
	}
	abs, err := filepath.Abs(cfg.MigrationPath)
	if err != nil {
		return ""
	}
	return "file://" + filepath.ToSlash(abs)
}

// LockFactory returns per-request Redis locks, or nil without Redis.
func (a *App) LockFactory() analysis.LockFactory {
	if a.redis == nil {
		return nil
	}
	client, logger := a.redis, a.Logger.Named("lock")
	return func(name string) analysis.Locker {
		return redis.NewMutex(client, name, logger)
	}
}

// Submitter returns a Submitter for the request topic, or an error when
// Kafka is disabled.
func (a *App) Submitter() (*analysis.Submitter, error) {
	if a.Producer == nil {
		return nil, errors.New(errors.ErrCodeMessagingError, "kafka is not enabled")
	}
	return analysis.NewSubmitter(a.Producer, a.Config.Kafka.RequestTopic), nil
}

func (a *App) addCloser(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases components in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.Logger.Warn("failed to close component", logging.String("component", c.name), logging.Err(err))
		}
	}
	a.closers = nil
}
