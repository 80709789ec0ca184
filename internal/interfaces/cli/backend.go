package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/turtacn/LexNER/internal/app"
	"github.com/turtacn/LexNER/internal/application/analysis"
	domain "github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/client"
)

// nerBackend is what the data commands run against: the in-process
// service, or a LexNER server through the SDK.
type nerBackend interface {
	Analyze(ctx context.Context, req *client.AnalyzeRequest) (*client.AnalyzeResult, error)
	SearchEntities(ctx context.Context, opts *client.SearchOptions) (*client.SearchResult, error)
	EntityTypes(ctx context.Context) ([]client.EntityType, error)
	Close()
}

// newBackend is swapped in tests.
var newBackend = func(cmd *cobra.Command, cc *CLIContext) (nerBackend, error) {
	if cc.Client != nil {
		return remoteBackend{c: cc.Client}, nil
	}
	a, err := app.Build(cmd.Context(), cc.Config, cc.Logger)
	if err != nil {
		return nil, err
	}
	return &localBackend{app: a}, nil
}

type remoteBackend struct {
	c *client.Client
}

func (r remoteBackend) Analyze(ctx context.Context, req *client.AnalyzeRequest) (*client.AnalyzeResult, error) {
	return r.c.Analyze(ctx, req)
}

func (r remoteBackend) SearchEntities(ctx context.Context, opts *client.SearchOptions) (*client.SearchResult, error) {
	return r.c.SearchEntities(ctx, opts)
}

func (r remoteBackend) EntityTypes(ctx context.Context) ([]client.EntityType, error) {
	return r.c.EntityTypes(ctx)
}

func (remoteBackend) Close() {}

type localBackend struct {
	app *app.App
}

// Analyze runs the in-process pipeline. Nothing is stored unless Persist
// is set.
func (l *localBackend) Analyze(ctx context.Context, req *client.AnalyzeRequest) (*client.AnalyzeResult, error) {
	persist := req.Persist != nil && *req.Persist
	out, err := l.app.Service.Analyze(ctx, &analysis.AnalyzeInput{
		Text:          req.Text,
		SpacedVariant: req.SpacedVariant,
		Origin:        domain.OriginCLI,
		SourceName:    req.SourceName,
		SkipPersist:   !persist,
	})
	if err != nil {
		return nil, err
	}
	res := fromResult(out.Result)
	res.Cached = out.Cached
	res.DurationMs = out.Analysis.DurationMs
	if persist {
		res.AnalysisID = out.Analysis.ID.String()
	}
	return res, nil
}

func (l *localBackend) SearchEntities(ctx context.Context, opts *client.SearchOptions) (*client.SearchResult, error) {
	res, err := l.app.Service.SearchEntities(ctx, &analysis.SearchInput{
		Query:      opts.Query,
		Type:       opts.Type,
		Origin:     opts.Origin,
		AnalysisID: opts.AnalysisID,
		Page:       opts.Page,
		PageSize:   opts.PageSize,
	})
	if err != nil {
		return nil, err
	}
	return fromSearchResult(res), nil
}

func (l *localBackend) EntityTypes(ctx context.Context) ([]client.EntityType, error) {
	return fromTypeInfo(l.app.Service.EntityTypes()), nil
}

func (l *localBackend) Close() { l.app.Close() }

func fromResult(r *legal_ner.Result) *client.AnalyzeResult {
	out := &client.AnalyzeResult{
		Success:     r.Success,
		Entities:    make([]client.Entity, 0, len(r.Entities)),
		EntityCount: r.EntityCount,
		Error:       r.Error,
	}
	for _, e := range r.Entities {
		out.Entities = append(out.Entities, client.Entity{
			Text:       e.Text,
			Type:       string(e.Type),
			Start:      e.Start,
			End:        e.End,
			Source:     string(e.Source),
			Confidence: e.Confidence,
		})
	}
	if len(r.Summary) > 0 {
		out.Summary = make(map[string]int, len(r.Summary))
		for t, n := range r.Summary {
			out.Summary[string(t)] = n
		}
	}
	return out
}

func fromSearchResult(r *opensearch.EntitySearchResult) *client.SearchResult {
	out := &client.SearchResult{
		Hits:       make([]client.EntityHit, 0, len(r.Hits)),
		TypeCounts: r.TypeCounts,
		TookMs:     r.TookMs,
		Total:      r.Total,
	}
	for _, h := range r.Hits {
		d := h.Document
		out.Hits = append(out.Hits, client.EntityHit{
			ID:    h.ID,
			Score: h.Score,
			Document: client.EntityDocument{
				AnalysisID: d.AnalysisID,
				Text:       d.Text,
				Stem:       d.Stem,
				Type:       d.Type,
				Source:     d.Source,
				Start:      d.Start,
				End:        d.End,
				Confidence: d.Confidence,
				Origin:     d.Origin,
				CreatedAt:  d.CreatedAt,
			},
			Highlights: h.Highlights,
		})
	}
	return out
}

func fromTypeInfo(infos []legal_ner.EntityTypeInfo) []client.EntityType {
	out := make([]client.EntityType, 0, len(infos))
	for _, i := range infos {
		out = append(out, client.EntityType{Type: string(i.Type), Name: i.Name, Icon: i.Icon})
	}
	return out
}
