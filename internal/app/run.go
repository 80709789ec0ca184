package app

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/turtacn/LexNER/internal/application/analysis"
	"github.com/turtacn/LexNER/internal/config"
	"github.com/turtacn/LexNER/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/LexNER/internal/infrastructure/messaging/kafka"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	httpserver "github.com/turtacn/LexNER/internal/interfaces/http"
	"github.com/turtacn/LexNER/internal/interfaces/http/handlers"
	"github.com/turtacn/LexNER/internal/interfaces/http/middleware"
	"github.com/turtacn/LexNER/pkg/errors"
)

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (logging.Logger, error) {
	lc := logging.LogConfig{Level: cfg.Level, Format: cfg.Format}
	for _, p := range strings.Split(cfg.Output, ",") {
		if p = strings.TrimSpace(p); p != "" {
			lc.OutputPaths = append(lc.OutputPaths, p)
		}
	}
	return logging.NewLogger(lc)
}

// RouterConfig returns the HTTP router settings for the service.
func (a *App) RouterConfig() httpserver.RouterConfig {
	cfg := a.Config
	rc := httpserver.RouterConfig{
		Mode:           cfg.Server.Mode,
		NERHandler:     handlers.NewNERHandler(a.Service, a.Logger.Named("handler")),
		HealthHandler:  handlers.NewHealthHandler(Version, a.Checkers...),
		Metrics:        a.Metrics,
		CORS:           middleware.DefaultCORSConfig(),
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodySize:    cfg.Server.MaxBodySize,
		Logger:         a.Logger.Named("http"),
	}
	if len(cfg.Server.CORSOrigins) > 0 {
		rc.CORS.AllowedOrigins = cfg.Server.CORSOrigins
	}
	if cfg.Metrics.Enabled {
		rc.MetricsHandler = a.Collector.Handler()
		rc.MetricsPath = cfg.Metrics.Path
	}
	if cfg.Server.RateLimitRPS > 0 {
		rl := middleware.DefaultRateLimitConfig()
		rl.RequestsPerSecond = cfg.Server.RateLimitRPS
		if cfg.Server.RateLimitBurst > 0 {
			rl.BurstSize = cfg.Server.RateLimitBurst
		}
		rc.RateLimit = &rl
	}
	if a.verifier != nil {
		rc.Auth = &middleware.AuthConfig{Verifier: a.verifier, Enforcer: keycloak.NewEnforcer(nil)}
	}
	return rc
}

// RunHTTP serves the API until ctx is cancelled.
func (a *App) RunHTTP(ctx context.Context) error {
	if err := a.setupAuth(ctx); err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startLexiconWatcher(ctx, g)
	if a.verifier != nil {
		g.Go(func() error { return a.verifier.Run(ctx) })
	}

	srv := httpserver.NewServer(a.Config.Server, httpserver.NewRouter(a.RouterConfig()), a.Logger.Named("http"))
	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}

// setupAuth fetches the realm keys when auth is enabled. An unreachable
// realm fails startup; afterwards it only degrades readiness.
func (a *App) setupAuth(ctx context.Context) error {
	ac := a.Config.Auth
	if !ac.Enabled || a.verifier != nil {
		return nil
	}
	v, err := keycloak.NewVerifier(ctx, keycloak.Config{
		BaseURL:         ac.KeycloakURL,
		Realm:           ac.Realm,
		ClientID:        ac.ClientID,
		RefreshInterval: ac.KeyRefresh,
	}, a.Logger.Named("auth"))
	if err != nil {
		return err
	}
	a.verifier = v
	a.Checkers = append(a.Checkers, handlers.Optional("keycloak", v.Health))
	return nil
}

// RunWorker consumes analyze requests until ctx is cancelled. Failed
// messages go to the dead-letter topic after the configured retries.
func (a *App) RunWorker(ctx context.Context) error {
	if a.Producer == nil {
		return errors.New(errors.ErrCodeMessagingError, "the worker requires kafka.enabled")
	}
	cfg := a.Config
	logger := a.Logger.Named("worker")

	topics, err := kafka.NewTopicManager(cfg.Kafka.Brokers, logger)
	if err != nil {
		logger.Warn("topic manager unavailable, assuming topics exist", logging.Err(err))
	} else {
		if err := topics.EnsureTopics(ctx, kafka.ServiceTopics(cfg.Kafka)); err != nil {
			logger.Warn("failed to ensure topics", logging.Err(err))
		}
		_ = topics.Close()
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfigFrom(cfg.Kafka, cfg.Worker), a.Producer, logger)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeMessagingError, "create consumer")
	}
	defer consumer.Close()
	consumer.SetObserver(a.Metrics.RecordMessage)

	worker := analysis.NewWorker(a.Service, a.Producer, cfg.Kafka.CompletedTopic, a.LockFactory(), logger)
	consumer.Subscribe(cfg.Kafka.RequestTopic, worker.HandleMessage)

	g, ctx := errgroup.WithContext(ctx)
	a.startLexiconWatcher(ctx, g)
	g.Go(func() error {
		if err := consumer.Start(ctx); err != nil {
			return err
		}
		logger.Info("worker started", logging.String("topic", cfg.Kafka.RequestTopic))
		<-ctx.Done()
		logger.Info("worker stopping")
		return nil
	})
	return g.Wait()
}

// startLexiconWatcher reloads the lexicon file into the service while ctx
// is live. A watcher that cannot start is logged and skipped.
func (a *App) startLexiconWatcher(ctx context.Context, g *errgroup.Group) {
	path := a.Config.NER.LexiconPath
	if !a.Config.NER.WatchLexicon || path == "" {
		return
	}
	w, err := legal_ner.NewLexiconWatcher(path, a.Service, a.Logger.Named("lexicon"))
	if err != nil {
		a.Logger.Warn("lexicon watcher disabled", logging.String("path", path), logging.Err(err))
		return
	}
	g.Go(func() error {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			a.Logger.Warn("lexicon watcher stopped", logging.Err(err))
		}
		return nil
	})
}

// Runner is the long-running part of a process: RunHTTP or RunWorker.
type Runner func(a *App, ctx context.Context) error

// RunService builds the process logger and the application from cfg, runs
// fn until ctx is cancelled and closes everything on the way out.
func RunService(ctx context.Context, cfg *config.Config, role string, fn Runner) error {
	logger, err := NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(logging.String("role", role), logging.String("version", Version))

	a, err := Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", logging.Err(err))
		return err
	}
	defer a.Close()
	watchLogLevel(cfg, logger)

	logger.Info("starting")
	if err := fn(a, ctx); err != nil {
		logger.Error("stopped with error", logging.Err(err))
		return err
	}
	logger.Info("stopped")
	return nil
}

// watchLogLevel applies log.level edits in the config file while running.
// Other settings need a restart.
func watchLogLevel(cfg *config.Config, logger logging.Logger) {
	if cfg.File == "" {
		return
	}
	current := cfg.Log.Level
	err := config.Watch(cfg.File, func(c *config.Config) {
		if c.Log.Level == current || !logging.SetLevel(logger, c.Log.Level) {
			return
		}
		logger.Info("log level changed", logging.String("from", current), logging.String("to", c.Log.Level))
		current = c.Log.Level
	}, func(err error) {
		logger.Warn("ignoring invalid config change", logging.Err(err))
	})
	if err != nil {
		logger.Warn("config watch disabled", logging.Err(err))
	}
}
