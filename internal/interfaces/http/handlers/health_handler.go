package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/LexNER/pkg/types/common"
)

// HealthChecker is a component that can report its health.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) error
}

type checkerFunc struct {
	name     string
	fn       func(ctx context.Context) error
	optional bool
}

func (c checkerFunc) Name() string                    { return c.name }
func (c checkerFunc) Check(ctx context.Context) error { return c.fn(ctx) }

// NewChecker adapts fn into a HealthChecker.
func NewChecker(name string, fn func(ctx context.Context) error) HealthChecker {
	return checkerFunc{name: name, fn: fn}
}

// Optional returns a checker whose failure is reported as degraded but does
// not fail readiness. The lazily loaded model is registered this way.
func Optional(name string, fn func(ctx context.Context) error) HealthChecker {
	return checkerFunc{name: name, fn: fn, optional: true}
}

func isOptional(c HealthChecker) bool {
	cf, ok := c.(checkerFunc)
	return ok && cf.optional
}

// HealthHandler serves liveness and readiness probes.
type HealthHandler struct {
	checkers []HealthChecker
	version  string
	startAt  time.Time
	timeout  time.Duration
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(version string, checkers ...HealthChecker) *HealthHandler {
	return &HealthHandler{
		checkers: checkers,
		version:  version,
		startAt:  time.Now(),
		timeout:  5 * time.Second,
	}
}

// RegisterRoutes registers the probe routes on r.
func (h *HealthHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/healthz", h.Liveness)
	r.GET("/readyz", h.Readiness)
}

// LivenessResponse is the response for the liveness probe.
type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadinessResponse is the response for the readiness probe.
type ReadinessResponse struct {
	Status     common.HealthStatus               `json:"status"`
	Version    string                            `json:"version"`
	Components map[string]common.ComponentHealth `json:"components,omitempty"`
}

// Liveness handles GET /healthz. It always returns 200 while the process runs.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{
		Status:  "alive",
		Version: h.version,
		Uptime:  time.Since(h.startAt).Truncate(time.Second).String(),
	})
}

// Readiness handles GET /readyz. It returns 503 when a required component
// is down and 200 otherwise, reporting "degraded" for optional failures.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	components, requiredDown, optionalDown := h.checkAll(ctx)
	resp := ReadinessResponse{Status: common.HealthUp, Version: h.version, Components: components}
	switch {
	case requiredDown:
		resp.Status = common.HealthDown
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	case optionalDown:
		resp.Status = common.HealthDegraded
	}
	c.JSON(http.StatusOK, resp)
}

// checkAll runs all checkers concurrently.
func (h *HealthHandler) checkAll(ctx context.Context) (map[string]common.ComponentHealth, bool, bool) {
	results := make(map[string]common.ComponentHealth, len(h.checkers))
	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		requiredDown bool
		optionalDown bool
	)
	for _, checker := range h.checkers {
		wg.Add(1)
		go func(ch HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := ch.Check(ctx)
			health := common.ComponentHealth{
				Name:    ch.Name(),
				Status:  common.HealthUp,
				Latency: time.Since(start).Truncate(time.Microsecond).String(),
			}
			if err != nil {
				health.Status = common.HealthDown
				health.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			results[ch.Name()] = health
			if err != nil {
				if isOptional(ch) {
					optionalDown = true
				} else {
					requiredDown = true
				}
			}
		}(checker)
	}
	wg.Wait()
	return results, requiredDown, optionalDown
}
