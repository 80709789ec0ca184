package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexNER/internal/interfaces/http/handlers"
	"github.com/turtacn/LexNER/internal/interfaces/http/middleware"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

// RouterConfig holds everything the router mounts.
type RouterConfig struct {
	// Mode is the gin mode: debug, release or test.
	Mode string

	NERHandler    *handlers.NERHandler
	HealthHandler *handlers.HealthHandler

	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	MetricsPath    string
	Metrics        *prometheus.NERMetrics

	CORS      middleware.CORSConfig
	RateLimit *middleware.RateLimitConfig
	// Limiter overrides the in-memory limiter built from RateLimit.
	Limiter middleware.RateLimiter

	// Auth protects /api/v1 when set. Permissions default to the NER
	// handler's route table.
	Auth *middleware.AuthConfig

	RequestTimeout time.Duration
	MaxBodySize    int64

	Logger logging.Logger
}

// NewRouter builds the gin engine. The middleware order is: recovery,
// request ID, logging, metrics, CORS, rate limit, body limit, timeout,
// then bearer auth on the API group.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(
		middleware.Recovery(logger),
		middleware.RequestID(),
		middleware.RequestLogging(logger, middleware.DefaultLoggingConfig()),
		middleware.Metrics(cfg.Metrics),
		middleware.CORS(cfg.CORS),
	)
	if cfg.RateLimit != nil {
		limiter := cfg.Limiter
		if limiter == nil {
			limiter = middleware.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize, cfg.RateLimit.CleanupInterval)
		}
		r.Use(middleware.RateLimit(limiter, *cfg.RateLimit))
	}
	r.Use(middleware.BodyLimit(cfg.MaxBodySize), middleware.Timeout(cfg.RequestTimeout))

	r.NoRoute(func(c *gin.Context) {
		resp := common.NewErrorResponse(errors.ErrCodeNotFound.String(), "route not found")
		resp.RequestID = middleware.GetRequestID(c)
		c.JSON(http.StatusNotFound, resp)
	})
	r.NoMethod(func(c *gin.Context) {
		resp := common.NewErrorResponse(errors.CodeInvalidParam.String(), "method not allowed")
		resp.RequestID = middleware.GetRequestID(c)
		c.JSON(http.StatusMethodNotAllowed, resp)
	})

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.MetricsHandler != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(cfg.MetricsHandler))
	}

	const apiPrefix = "/api/v1"
	v1 := r.Group(apiPrefix)
	if cfg.Auth != nil {
		auth := *cfg.Auth
		if auth.Permissions == nil && cfg.NERHandler != nil {
			auth.Permissions = cfg.NERHandler.RoutePermissions(apiPrefix)
		}
		v1.Use(middleware.Auth(auth, logger.Named("auth")))
	}
	if cfg.NERHandler != nil {
		cfg.NERHandler.RegisterRoutes(v1)
	}
	return r
}
