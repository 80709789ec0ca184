package client

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/turtacn/LexNER/pkg/errors"
	"github.com/turtacn/LexNER/pkg/types/common"
)

// Entity is one recognised span. Start and End are rune offsets into the
// analysed text, End exclusive.
type Entity struct {
	Text       string   `json:"text"`
	Type       string   `json:"type"`
	Start      int      `json:"start"`
	End        int      `json:"end"`
	Source     string   `json:"source"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// AnalyzeRequest is the input of Analyze.
type AnalyzeRequest struct {
	Text string `json:"text"`
	// SpacedVariant overrides the server default when set.
	SpacedVariant *bool  `json:"spaced_variant,omitempty"`
	SourceName    string `json:"source_name,omitempty"`
	// Persist defaults to true on the server.
	Persist *bool `json:"persist,omitempty"`
}

// AnalyzeResult is the pipeline outcome for one text.
type AnalyzeResult struct {
	Success     bool           `json:"success"`
	Entities    []Entity       `json:"entities"`
	EntityCount int            `json:"entity_count"`
	Error       *string        `json:"error"`
	Summary     map[string]int `json:"summary,omitempty"`
	AnalysisID  string         `json:"analysis_id,omitempty"`
	Cached      bool           `json:"cached"`
	DurationMs  int64          `json:"duration_ms"`
}

// Analysis is a stored analysis.
type Analysis struct {
	ID            string         `json:"id"`
	TextHash      string         `json:"text_hash"`
	Text          string         `json:"text,omitempty"`
	SpacedVariant bool           `json:"spaced_variant"`
	Origin        string         `json:"origin"`
	Success       bool           `json:"success"`
	Error         string         `json:"error,omitempty"`
	Entities      []Entity       `json:"entities"`
	EntityCount   int            `json:"entity_count"`
	Summary       map[string]int `json:"summary,omitempty"`
	DurationMs    int64          `json:"duration_ms"`
	ModelName     string         `json:"model_name,omitempty"`
	ObjectKey     string         `json:"object_key,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ListOptions filters ListAnalyses.
type ListOptions struct {
	Page       int
	PageSize   int
	Origin     string
	EntityType string
	OnlyFailed bool
}

// AnalysisPage is one page of stored analyses.
type AnalysisPage struct {
	Analyses []*Analysis
	Total    int64
	Page     int
	PageSize int
}

// SearchOptions is an entity search query.
type SearchOptions struct {
	Query      string
	Type       string
	Origin     string
	AnalysisID string
	Page       int
	PageSize   int
}

// EntityDocument is an indexed entity.
type EntityDocument struct {
	AnalysisID string    `json:"analysis_id"`
	Text       string    `json:"text"`
	Stem       string    `json:"stem"`
	Type       string    `json:"type"`
	Source     string    `json:"source"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	Confidence *float64  `json:"confidence,omitempty"`
	Origin     string    `json:"origin"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntityHit is one search match.
type EntityHit struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Document   EntityDocument      `json:"document"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

// SearchResult is a page of entity hits.
type SearchResult struct {
	Hits       []EntityHit      `json:"hits"`
	TypeCounts map[string]int64 `json:"type_counts,omitempty"`
	TookMs     int64            `json:"took_ms"`
	Total      int64            `json:"-"`
}

// EntityType describes one entity type for display.
type EntityType struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Icon string `json:"icon"`
}

// Analyze runs the pipeline on req.Text. When the server reports a failed
// analysis the result body is returned together with the *APIError.
func (c *Client) Analyze(ctx context.Context, req *AnalyzeRequest) (*AnalyzeResult, error) {
	if req == nil || req.Text == "" {
		return nil, errors.InvalidParam("text is required")
	}
	var env common.APIResponse[*AnalyzeResult]
	err := c.post(ctx, apiPrefix+"/ner/analyze", req, &env)
	if err != nil {
		return env.Data, err
	}
	if env.Data == nil {
		return nil, errors.New(errors.ErrCodeSerialization, "empty analyze response")
	}
	return env.Data, nil
}

// GetAnalysis fetches a stored analysis.
func (c *Client) GetAnalysis(ctx context.Context, id string) (*Analysis, error) {
	if id == "" {
		return nil, errors.InvalidParam("analysis id is required")
	}
	var env common.APIResponse[*Analysis]
	if err := c.get(ctx, apiPrefix+"/ner/analyses/"+url.PathEscape(id), &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// ListAnalyses returns a page of stored analyses, newest first.
func (c *Client) ListAnalyses(ctx context.Context, opts *ListOptions) (*AnalysisPage, error) {
	if opts == nil {
		opts = &ListOptions{}
	}
	q := url.Values{}
	setPage(q, opts.Page, opts.PageSize)
	setNonEmpty(q, "origin", opts.Origin)
	setNonEmpty(q, "type", opts.EntityType)
	if opts.OnlyFailed {
		q.Set("failed", "true")
	}

	var env common.APIResponse[[]*Analysis]
	if err := c.get(ctx, withQuery(apiPrefix+"/ner/analyses", q), &env); err != nil {
		return nil, err
	}
	page := &AnalysisPage{Analyses: env.Data}
	if env.Pagination != nil {
		page.Total = env.Pagination.Total
		page.Page = env.Pagination.Page
		page.PageSize = env.Pagination.PageSize
	}
	return page, nil
}

// DeleteAnalysis removes a stored analysis with its export and index
// entries.
func (c *Client) DeleteAnalysis(ctx context.Context, id string) error {
	if id == "" {
		return errors.InvalidParam("analysis id is required")
	}
	return c.delete(ctx, apiPrefix+"/ner/analyses/"+url.PathEscape(id))
}

// ReportURL returns a presigned link to the exported report.
func (c *Client) ReportURL(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", errors.InvalidParam("analysis id is required")
	}
	var env common.APIResponse[struct {
		URL string `json:"url"`
	}]
	path := apiPrefix + "/ner/analyses/" + url.PathEscape(id) + "/report?format=url"
	if err := c.get(ctx, path, &env); err != nil {
		return "", err
	}
	return env.Data.URL, nil
}

// SearchEntities queries the entity index.
func (c *Client) SearchEntities(ctx context.Context, opts *SearchOptions) (*SearchResult, error) {
	if opts == nil {
		opts = &SearchOptions{}
	}
	q := url.Values{}
	setNonEmpty(q, "q", opts.Query)
	setNonEmpty(q, "type", opts.Type)
	setNonEmpty(q, "origin", opts.Origin)
	setNonEmpty(q, "analysis_id", opts.AnalysisID)
	setPage(q, opts.Page, opts.PageSize)

	var env common.APIResponse[*SearchResult]
	if err := c.get(ctx, withQuery(apiPrefix+"/ner/entities/search", q), &env); err != nil {
		return nil, err
	}
	res := env.Data
	if res == nil {
		res = &SearchResult{}
	}
	if env.Pagination != nil {
		res.Total = env.Pagination.Total
	}
	return res, nil
}

// EntityTypes lists the entity types with their display names.
func (c *Client) EntityTypes(ctx context.Context) ([]EntityType, error) {
	var env common.APIResponse[[]EntityType]
	if err := c.get(ctx, apiPrefix+"/ner/entity-types", &env); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Ready reports the server's readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	return c.get(ctx, "/readyz", nil)
}

func setPage(q url.Values, page, pageSize int) {
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
}

func setNonEmpty(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
