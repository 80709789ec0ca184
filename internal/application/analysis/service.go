// Package analysis provides the application service in front of the NER
// pipeline. HTTP handlers, the Kafka worker and the CLI all go through it;
// it adds input validation, result caching, persistence, export, search
// indexing and metrics around legal_ner.Pipeline.
package analysis

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	domain "github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/database/redis"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LexNER/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/errors"
)

// Analyzer is the part of legal_ner.Pipeline the service uses.
type Analyzer interface {
	Analyze(ctx context.Context, text string) *legal_ner.Result
	Ready() bool
	SpacedVariant() bool
	Lexicon() *legal_ner.Lexicon
	SetLexicon(lex *legal_ner.Lexicon) error
}

// ResultCache caches successful pipeline results.
type ResultCache interface {
	Key(text string, spaced bool) string
	GetOrAnalyze(ctx context.Context, key string, fn redis.AnalyzeFunc) (*legal_ner.Result, bool, error)
	Invalidate(ctx context.Context) (int64, error)
}

// Exporter writes analyses to object storage.
type Exporter interface {
	Export(ctx context.Context, a *domain.Analysis, sourceName string) (string, error)
	FetchReport(ctx context.Context, key string) ([]byte, error)
	ReportURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// EntityIndexer maintains the entity search index.
type EntityIndexer interface {
	IndexAnalysis(ctx context.Context, a *domain.Analysis) (*opensearch.BulkResult, error)
	DeleteAnalysis(ctx context.Context, analysisID string) (int64, error)
}

// EntitySearcher queries the entity search index.
type EntitySearcher interface {
	SearchEntities(ctx context.Context, q opensearch.EntityQuery) (*opensearch.EntitySearchResult, error)
}

// Service defines the application operations on analyses.
type Service interface {
	Analyze(ctx context.Context, input *AnalyzeInput) (*AnalyzeOutput, error)
	GetAnalysis(ctx context.Context, id string) (*domain.Analysis, error)
	ListAnalyses(ctx context.Context, input *ListInput) (*ListResult, error)
	DeleteAnalysis(ctx context.Context, id string) error
	Report(ctx context.Context, id string) (string, error)
	ReportURL(ctx context.Context, id string) (string, error)
	SearchEntities(ctx context.Context, input *SearchInput) (*opensearch.EntitySearchResult, error)
	EntityTypes() []legal_ner.EntityTypeInfo
	ModelReady() bool
	SetLexicon(lex *legal_ner.Lexicon) error
}

// AnalyzeInput is one analysis request.
type AnalyzeInput struct {
	Text string
	// SpacedVariant overrides the configured default when non-nil.
	SpacedVariant *bool
	Origin        domain.Origin
	// SourceName labels the exported report, e.g. an input file name.
	SourceName string
	// SkipPersist runs the pipeline without storing, exporting or indexing.
	SkipPersist bool
}

// AnalyzeOutput carries the pipeline result and the stored record.
type AnalyzeOutput struct {
	Analysis *domain.Analysis  `json:"analysis"`
	Result   *legal_ner.Result `json:"result"`
	Cached   bool              `json:"cached"`
}

// ListInput selects a page of stored analyses.
type ListInput struct {
	Page       int
	PageSize   int
	Origin     string
	EntityType string
	OnlyFailed bool
}

// ListResult is a page of analyses.
type ListResult struct {
	Analyses   []*domain.Analysis `json:"analyses"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}

// SearchInput is an entity search request.
type SearchInput struct {
	Query      string
	Type       string
	Origin     string
	AnalysisID string
	Page       int
	PageSize   int
}

// Config tunes the service.
type Config struct {
	MaxTextLength int
}

// Dependencies lists the collaborators of the service. Only Pipeline is
// required; every other backend is skipped when nil.
type Dependencies struct {
	Pipeline Analyzer
	// Alternate is a pipeline with the opposite spaced-variant setting,
	// used when a request overrides the default.
	Alternate Analyzer
	Cache     ResultCache
	Repo      domain.Repository
	Exporter  Exporter
	Indexer   EntityIndexer
	Searcher  EntitySearcher
	Metrics   *prometheus.NERMetrics
}

type serviceImpl struct {
	deps   Dependencies
	cfg    Config
	logger logging.Logger
}

// NewService creates the analysis application service.
func NewService(deps Dependencies, cfg Config, logger logging.Logger) (Service, error) {
	if deps.Pipeline == nil {
		return nil, errors.InvalidParam("pipeline is required")
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = 100_000
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &serviceImpl{deps: deps, cfg: cfg, logger: logger}, nil
}

func (s *serviceImpl) validateText(text string) error {
	if !utf8.ValidString(text) {
		return errors.New(errors.ErrCodeNERInputInvalid, "text is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(text); n > s.cfg.MaxTextLength {
		return errors.Newf(errors.ErrCodeNERInputInvalid,
			"text has %d characters, the limit is %d", n, s.cfg.MaxTextLength)
	}
	return nil
}

func (s *serviceImpl) pipelineFor(spaced *bool) (Analyzer, error) {
	p := s.deps.Pipeline
	if spaced == nil || *spaced == p.SpacedVariant() {
		return p, nil
	}
	if s.deps.Alternate == nil || s.deps.Alternate.SpacedVariant() != *spaced {
		return nil, errors.New(errors.ErrCodeNERInputInvalid, "spaced variant override is not available")
	}
	return s.deps.Alternate, nil
}

func (s *serviceImpl) Analyze(ctx context.Context, input *AnalyzeInput) (*AnalyzeOutput, error) {
	if input == nil {
		return nil, errors.InvalidParam("input is required")
	}
	if err := s.validateText(input.Text); err != nil {
		return nil, err
	}
	p, err := s.pipelineFor(input.SpacedVariant)
	if err != nil {
		return nil, err
	}
	origin := input.Origin
	if origin == "" {
		origin = domain.OriginHTTP
	}
	spaced := p.SpacedVariant()

	analyze := func(ctx context.Context) *legal_ner.Result { return p.Analyze(ctx, input.Text) }

	var (
		res    *legal_ner.Result
		cached bool
	)
	if s.deps.Cache != nil {
		res, cached, err = s.deps.Cache.GetOrAnalyze(ctx, s.deps.Cache.Key(input.Text, spaced), analyze)
		if err != nil && ctx.Err() != nil {
			return nil, err
		}
		if err != nil {
			s.logger.Warn("result cache failed, analysing directly", logging.Err(err))
			res, cached = analyze(ctx), false
		}
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordCacheAccess("ner_result", cached)
		}
	} else {
		res = analyze(ctx)
	}
	s.recordAnalysis(origin, res, cached)

	a := domain.New(uuid.Nil, input.Text, spaced, origin, res)
	out := &AnalyzeOutput{Analysis: a, Result: res, Cached: cached}
	if input.SkipPersist {
		return out, nil
	}

	if a.Success && s.deps.Exporter != nil {
		key, err := s.deps.Exporter.Export(ctx, a, input.SourceName)
		if err != nil {
			s.logger.Warn("analysis export failed", logging.String("analysis_id", a.ID.String()), logging.Err(err))
			s.recordError("storage", "export_failed")
		} else {
			a.ObjectKey = key
		}
	}

	if s.deps.Repo != nil {
		started := time.Now()
		err := s.deps.Repo.Save(ctx, a)
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordDBQuery("analysis_save", time.Since(started), err)
		}
		if err != nil {
			return nil, err
		}
	}

	if a.Success && s.deps.Indexer != nil {
		if _, err := s.deps.Indexer.IndexAnalysis(ctx, a); err != nil {
			s.logger.Warn("entity indexing failed", logging.String("analysis_id", a.ID.String()), logging.Err(err))
			s.recordError("search", "index_failed")
		}
	}

	s.logger.Info("analysis completed",
		logging.String("analysis_id", a.ID.String()),
		logging.String("origin", string(origin)),
		logging.Bool("success", a.Success),
		logging.Bool("cached", cached),
		logging.Int("entities", a.EntityCount))
	return out, nil
}

func (s *serviceImpl) recordAnalysis(origin domain.Origin, res *legal_ner.Result, cached bool) {
	if s.deps.Metrics == nil || cached {
		return
	}
	counts := make([]prometheus.EntityCount, 0, len(res.Entities))
	for _, e := range res.Entities {
		counts = append(counts, prometheus.EntityCount{Type: string(e.Type), Source: string(e.Source)})
	}
	s.deps.Metrics.RecordAnalysis(string(origin), res.Success, res.Duration, counts)
	if !res.Success {
		code := errors.ErrCodeNERTaggerFailed
		if res.Error != nil && *res.Error == legal_ner.ErrModelNotAvailable {
			code = errors.ErrCodeNERModelNotAvailable
		}
		s.deps.Metrics.RecordTaggerError(code.String())
	}
	s.deps.Metrics.SetModelReady(s.deps.Pipeline.Ready())
}

func (s *serviceImpl) recordError(component, kind string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordError(component, kind)
	}
}

func (s *serviceImpl) repo() (domain.Repository, error) {
	if s.deps.Repo == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "analysis storage is not configured")
	}
	return s.deps.Repo, nil
}

func parseID(id string) (uuid.UUID, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, errors.InvalidParam("invalid analysis id")
	}
	return uid, nil
}

func (s *serviceImpl) GetAnalysis(ctx context.Context, id string) (*domain.Analysis, error) {
	repo, err := s.repo()
	if err != nil {
		return nil, err
	}
	uid, err := parseID(id)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	a, err := repo.FindByID(ctx, uid)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordDBQuery("analysis_find", time.Since(started), err)
	}
	return a, err
}

func (s *serviceImpl) ListAnalyses(ctx context.Context, input *ListInput) (*ListResult, error) {
	repo, err := s.repo()
	if err != nil {
		return nil, err
	}
	if input == nil {
		input = &ListInput{}
	}
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.PageSize <= 0 {
		input.PageSize = 20
	}
	if input.PageSize > 100 {
		input.PageSize = 100
	}

	opts := []domain.QueryOption{domain.WithPagination((input.Page-1)*input.PageSize, input.PageSize)}
	if input.Origin != "" {
		opts = append(opts, domain.WithOrigin(domain.Origin(input.Origin)))
	}
	if input.EntityType != "" {
		t := legal_ner.ParseEntityType(input.EntityType)
		if !t.Known() {
			return nil, errors.InvalidParam("unknown entity type " + input.EntityType)
		}
		opts = append(opts, domain.WithEntityType(t))
	}
	if input.OnlyFailed {
		opts = append(opts, domain.OnlyFailed())
	}

	started := time.Now()
	items, total, err := repo.List(ctx, opts...)
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordDBQuery("analysis_list", time.Since(started), err)
	}
	if err != nil {
		return nil, err
	}

	totalPages := int(total) / input.PageSize
	if int(total)%input.PageSize > 0 {
		totalPages++
	}
	return &ListResult{
		Analyses:   items,
		Total:      total,
		Page:       input.Page,
		PageSize:   input.PageSize,
		TotalPages: totalPages,
	}, nil
}

func (s *serviceImpl) DeleteAnalysis(ctx context.Context, id string) error {
	a, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return err
	}
	if err := s.deps.Repo.Delete(ctx, a.ID); err != nil {
		return err
	}
	if s.deps.Indexer != nil {
		if _, err := s.deps.Indexer.DeleteAnalysis(ctx, a.ID.String()); err != nil {
			s.logger.Warn("failed to remove entities from index", logging.String("analysis_id", id), logging.Err(err))
		}
	}
	if s.deps.Exporter != nil && a.ObjectKey != "" {
		if err := s.deps.Exporter.Delete(ctx, a.ObjectKey); err != nil {
			s.logger.Warn("failed to remove exported objects", logging.String("analysis_id", id), logging.Err(err))
		}
	}
	s.logger.Info("analysis deleted", logging.String("analysis_id", id))
	return nil
}

// Report prefers the exported report and renders one from the stored
// record when no export exists.
func (s *serviceImpl) Report(ctx context.Context, id string) (string, error) {
	a, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return "", err
	}
	if s.deps.Exporter != nil && a.ObjectKey != "" {
		data, err := s.deps.Exporter.FetchReport(ctx, a.ObjectKey)
		if err == nil {
			return string(data), nil
		}
		s.logger.Warn("exported report unavailable, rendering", logging.String("analysis_id", id), logging.Err(err))
	}
	return domain.RenderReport(a, ""), nil
}

func (s *serviceImpl) ReportURL(ctx context.Context, id string) (string, error) {
	a, err := s.GetAnalysis(ctx, id)
	if err != nil {
		return "", err
	}
	if s.deps.Exporter == nil || a.ObjectKey == "" {
		return "", errors.New(errors.ErrCodeNotFound, "analysis has no exported report")
	}
	return s.deps.Exporter.ReportURL(ctx, a.ObjectKey)
}

func (s *serviceImpl) SearchEntities(ctx context.Context, input *SearchInput) (*opensearch.EntitySearchResult, error) {
	if s.deps.Searcher == nil {
		return nil, errors.New(errors.ErrCodeServiceUnavailable, "entity search is not configured")
	}
	if input == nil {
		input = &SearchInput{}
	}
	var typ string
	if input.Type != "" {
		t := legal_ner.ParseEntityType(input.Type)
		if !t.Known() {
			return nil, errors.InvalidParam("unknown entity type " + input.Type)
		}
		typ = string(t)
	}
	if input.Page <= 0 {
		input.Page = 1
	}
	if input.PageSize <= 0 {
		input.PageSize = opensearch.DefaultPageSize
	}
	if input.PageSize > opensearch.MaxPageSize {
		input.PageSize = opensearch.MaxPageSize
	}
	return s.deps.Searcher.SearchEntities(ctx, opensearch.EntityQuery{
		Text:       input.Query,
		Type:       typ,
		Origin:     input.Origin,
		AnalysisID: input.AnalysisID,
		From:       (input.Page - 1) * input.PageSize,
		Size:       input.PageSize,
	})
}

func (s *serviceImpl) EntityTypes() []legal_ner.EntityTypeInfo {
	return legal_ner.AllDisplayInfo()
}

func (s *serviceImpl) ModelReady() bool {
	ready := s.deps.Pipeline.Ready()
	if s.deps.Metrics != nil {
		s.deps.Metrics.SetModelReady(ready)
	}
	return ready
}

// SetLexicon swaps lex into every pipeline and drops cached results, which
// were computed with the previous tables. It satisfies
// legal_ner.LexiconTarget so a LexiconWatcher can drive it.
func (s *serviceImpl) SetLexicon(lex *legal_ner.Lexicon) error {
	err := s.deps.Pipeline.SetLexicon(lex)
	if err == nil && s.deps.Alternate != nil {
		err = s.deps.Alternate.SetLexicon(lex)
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordLexiconReload(err)
	}
	if err != nil {
		return err
	}
	if s.deps.Cache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		n, err := s.deps.Cache.Invalidate(ctx)
		if err != nil {
			s.logger.Warn("failed to invalidate result cache after lexicon change", logging.Err(err))
		} else {
			s.logger.Info("result cache invalidated", logging.Int64("keys", n))
		}
	}
	return nil
}
