package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/LexNER/internal/application/analysis"
	domain "github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/auth/keycloak"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/internal/interfaces/http/middleware"
	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

// AnalyzeRequest is the body of POST /api/v1/ner/analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
	// SpacedVariant overrides the server default when set.
	SpacedVariant *bool  `json:"spaced_variant,omitempty"`
	SourceName    string `json:"source_name,omitempty"`
	// Persist defaults to true; false runs the pipeline only.
	Persist *bool `json:"persist,omitempty"`
}

// AnalyzeResponse is the pipeline result plus the stored analysis ID.
type AnalyzeResponse struct {
	*legal_ner.Result
	AnalysisID string `json:"analysis_id,omitempty"`
	Cached     bool   `json:"cached"`
	DurationMs int64  `json:"duration_ms"`
}

// SearchResponse wraps entity hits for GET /api/v1/ner/entities/search.
type SearchResponse struct {
	Hits       []opensearch.EntityHit `json:"hits"`
	TypeCounts map[string]int64       `json:"type_counts,omitempty"`
	TookMs     int64                  `json:"took_ms"`
}

// NERHandler serves the analysis API.
type NERHandler struct {
	svc    analysis.Service
	logger logging.Logger
}

// NewNERHandler creates a NERHandler.
func NewNERHandler(svc analysis.Service, logger logging.Logger) *NERHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &NERHandler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the handler under rg.
func (h *NERHandler) RegisterRoutes(rg *gin.RouterGroup) {
	ner := rg.Group("/ner")
	ner.POST("/analyze", h.Analyze)
	ner.GET("/analyses", h.ListAnalyses)
	ner.GET("/analyses/:id", h.GetAnalysis)
	ner.DELETE("/analyses/:id", h.DeleteAnalysis)
	ner.GET("/analyses/:id/report", h.Report)
	ner.GET("/entities/search", h.SearchEntities)
	ner.GET("/entity-types", h.EntityTypes)
}

// RoutePermissions returns the permission each route needs, keyed as
// "METHOD pattern" for middleware.Auth. prefix is the group RegisterRoutes
// was given.
func (h *NERHandler) RoutePermissions(prefix string) map[string]keycloak.Permission {
	ner := prefix + "/ner"
	return map[string]keycloak.Permission{
		"POST " + ner + "/analyze":            keycloak.PermAnalyze,
		"GET " + ner + "/analyses":            keycloak.PermRead,
		"GET " + ner + "/analyses/:id":        keycloak.PermRead,
		"DELETE " + ner + "/analyses/:id":     keycloak.PermDelete,
		"GET " + ner + "/analyses/:id/report": keycloak.PermRead,
		"GET " + ner + "/entities/search":     keycloak.PermSearch,
		"GET " + ner + "/entity-types":        keycloak.PermRead,
	}
}

// Analyze handles POST /api/v1/ner/analyze. A pipeline failure still
// returns the result body: 503 when no model is available, 500 otherwise.
func (h *NERHandler) Analyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, errors.CodeInvalidParam, "invalid request body: "+err.Error())
		return
	}

	out, err := h.svc.Analyze(c.Request.Context(), &analysis.AnalyzeInput{
		Text:          req.Text,
		SpacedVariant: req.SpacedVariant,
		Origin:        domain.OriginHTTP,
		SourceName:    req.SourceName,
		SkipPersist:   req.Persist != nil && !*req.Persist,
	})
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}

	body := AnalyzeResponse{
		Result:     out.Result,
		Cached:     out.Cached,
		DurationMs: out.Analysis.DurationMs,
	}
	if req.Persist == nil || *req.Persist {
		body.AnalysisID = out.Analysis.ID.String()
	}
	if out.Result.Success {
		writeData(c, http.StatusOK, body)
		return
	}

	code := errors.ErrCodeNERTaggerFailed
	if out.Result.Error != nil && *out.Result.Error == legal_ner.ErrModelNotAvailable {
		code = errors.ErrCodeNERModelNotAvailable
	}
	msg := errors.DefaultMessageForCode(code)
	if out.Result.Error != nil {
		msg = *out.Result.Error
	}
	c.JSON(errors.HTTPStatusForCode(code), common.APIResponse[AnalyzeResponse]{
		Success:   false,
		Data:      body,
		Error:     &common.ErrorDetail{Code: code.String(), Message: msg},
		RequestID: middleware.GetRequestID(c),
		Timestamp: common.NewTimestamp(),
	})
}

// GetAnalysis handles GET /api/v1/ner/analyses/:id.
func (h *NERHandler) GetAnalysis(c *gin.Context) {
	a, err := h.svc.GetAnalysis(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	writeData(c, http.StatusOK, a)
}

// ListAnalyses handles GET /api/v1/ner/analyses.
func (h *NERHandler) ListAnalyses(c *gin.Context) {
	page, pageSize := parsePagination(c)
	failed, _ := strconv.ParseBool(c.Query("failed"))
	res, err := h.svc.ListAnalyses(c.Request.Context(), &analysis.ListInput{
		Page:       page,
		PageSize:   pageSize,
		Origin:     c.Query("origin"),
		EntityType: c.Query("type"),
		OnlyFailed: failed,
	})
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	writePaginated(c, res.Analyses, res.Page, res.PageSize, res.Total)
}

// DeleteAnalysis handles DELETE /api/v1/ner/analyses/:id.
func (h *NERHandler) DeleteAnalysis(c *gin.Context) {
	if err := h.svc.DeleteAnalysis(c.Request.Context(), c.Param("id")); err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Report handles GET /api/v1/ner/analyses/:id/report. With format=url it
// returns a presigned link to the exported report instead of the text.
func (h *NERHandler) Report(c *gin.Context) {
	id := c.Param("id")
	if c.Query("format") == "url" {
		url, err := h.svc.ReportURL(c.Request.Context(), id)
		if err != nil {
			writeAppError(c, h.logger, err)
			return
		}
		writeData(c, http.StatusOK, gin.H{"url": url})
		return
	}
	report, err := h.svc.Report(c.Request.Context(), id)
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(report))
}

// SearchEntities handles GET /api/v1/ner/entities/search.
func (h *NERHandler) SearchEntities(c *gin.Context) {
	page, pageSize := parsePagination(c)
	res, err := h.svc.SearchEntities(c.Request.Context(), &analysis.SearchInput{
		Query:      c.Query("q"),
		Type:       c.Query("type"),
		Origin:     c.Query("origin"),
		AnalysisID: c.Query("analysis_id"),
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		writeAppError(c, h.logger, err)
		return
	}
	writePaginated(c, SearchResponse{
		Hits:       res.Hits,
		TypeCounts: res.TypeCounts,
		TookMs:     res.TookMs,
	}, page, pageSize, res.Total)
}

// EntityTypes handles GET /api/v1/ner/entity-types.
func (h *NERHandler) EntityTypes(c *gin.Context) {
	writeData(c, http.StatusOK, h.svc.EntityTypes())
}
