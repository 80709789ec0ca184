package legal_ner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/common"
	"github.com/turtacn/LexNER/pkg/errors"
)

// ErrModelNotAvailable is the Result.Error text when no tagger can be used.
const ErrModelNotAvailable = "NER model not available"

// Result is the outcome of one Analyze call.
type Result struct {
	Success     bool               `json:"success"`
	Entities    []Entity           `json:"entities"`
	EntityCount int                `json:"entity_count"`
	Error       *string            `json:"error"`
	Summary     map[EntityType]int `json:"summary,omitempty"`
	Duration    time.Duration      `json:"-"`
}

func successResult(entities []Entity) *Result {
	if entities == nil {
		entities = []Entity{}
	}
	return &Result{
		Success:     true,
		Entities:    entities,
		EntityCount: len(entities),
		Summary:     Summarize(entities),
	}
}

func failureResult(msg string) *Result {
	return &Result{Success: false, Entities: []Entity{}, Error: &msg}
}

// Loader is implemented by taggers that must load weights before first use.
type Loader interface {
	Load(ctx context.Context) error
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithSpacedVariant enables the second "Ankara 'dan" inference pass.
func WithSpacedVariant(enabled bool) Option {
	return func(p *Pipeline) { p.spaced = enabled }
}

// WithLexicon replaces the built-in lexicon.
func WithLexicon(lex *Lexicon) Option {
	return func(p *Pipeline) {
		if lex != nil {
			p.lex.Store(lex)
		}
	}
}

// WithMatchers replaces the default pattern matchers.  Passing none disables
// pattern injection.
func WithMatchers(matchers ...Matcher) Option {
	return func(p *Pipeline) { p.matchers = matchers }
}

// WithLogger sets the pipeline logger.
func WithLogger(l logging.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithInferenceMetrics records every tagger call under modelName.
func WithInferenceMetrics(m common.InferenceMetrics, modelName string) Option {
	return func(p *Pipeline) {
		p.metrics = m
		p.modelName = modelName
	}
}

// Pipeline runs variant generation, tagging, decoding, remapping, the rule
// cascade and deduplication for one text at a time.  A Pipeline is safe for
// concurrent use when its tagger is.
type Pipeline struct {
	tagger    Tagger
	lex       atomic.Pointer[Lexicon]
	matchers  []Matcher
	spaced    bool
	logger    logging.Logger
	metrics   common.InferenceMetrics
	modelName string
}

// NewPipeline builds a pipeline around tagger.  A nil tagger is allowed; every
// Analyze then reports the model as unavailable.
func NewPipeline(tagger Tagger, opts ...Option) *Pipeline {
	p := &Pipeline{
		tagger:    tagger,
		matchers:  DefaultMatchers(),
		logger:    logging.NewNopLogger(),
		metrics:   common.NewNoopInferenceMetrics(),
		modelName: "legal-ner",
	}
	p.lex.Store(DefaultLexicon())
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Lexicon returns the lexicon currently in use.
func (p *Pipeline) Lexicon() *Lexicon { return p.lex.Load() }

// SetLexicon validates lex and swaps it in.  In-flight calls keep the
// lexicon they started with.
func (p *Pipeline) SetLexicon(lex *Lexicon) error {
	if err := lex.Validate(); err != nil {
		return err
	}
	p.lex.Store(lex)
	p.logger.Info("NER lexicon replaced",
		logging.Int("suffixes", len(lex.Suffixes)),
		logging.Int("acronyms", len(lex.Acronyms)))
	return nil
}

// SpacedVariant reports whether the spaced variant is enabled.
func (p *Pipeline) SpacedVariant() bool { return p.spaced }

// Ready reports whether the tagger is loaded.  A tagger that does not load
// lazily is always ready.
func (p *Pipeline) Ready() bool {
	if p.tagger == nil {
		return false
	}
	if rc, ok := p.tagger.(ReadyChecker); ok {
		return rc.Ready()
	}
	return true
}

// Analyze extracts entities from text.  It never panics and never returns an
// error: failures are reported in Result.Error.
func (p *Pipeline) Analyze(ctx context.Context, text string) (res *Result) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("NER analysis panicked", logging.Any("panic", r))
			res = failureResult(fmt.Sprint(r))
		}
		res.Duration = time.Since(started)
	}()

	if p.tagger == nil {
		return failureResult(ErrModelNotAvailable)
	}
	if l, ok := p.tagger.(Loader); ok {
		if err := l.Load(ctx); err != nil {
			p.logger.Error("NER model load failed", logging.Err(err))
			return failureResult(ErrModelNotAvailable)
		}
	}

	if strings.TrimSpace(text) == "" {
		return successResult(nil)
	}

	lex := p.lex.Load()
	var merged []Entity
	for _, v := range GenerateVariants(text, p.spaced, lex.Apostrophes) {
		ents, err := p.infer(ctx, v)
		if err != nil {
			p.logger.Error("NER analysis failed",
				logging.String("variant", v.Name), logging.Err(err))
			if errors.IsCode(err, errors.ErrCodeNERModelNotAvailable) {
				return failureResult(ErrModelNotAvailable)
			}
			return failureResult(err.Error())
		}
		merged = append(merged, Remap(ents, v.IndexMap, text)...)
	}
	// Variants are decoded one after another; the rule cascade expects a
	// single left-to-right sequence.
	sortSpans(merged)

	entities := NewRuleEngine(lex, p.matchers).Apply(text, merged)
	entities = Deduplicate(entities)

	p.logger.Debug("NER analysis completed",
		logging.Int("text_runes", len([]rune(text))),
		logging.Int("raw_entities", len(merged)),
		logging.Int("entities", len(entities)))
	return successResult(entities)
}

func (p *Pipeline) infer(ctx context.Context, v Variant) ([]Entity, error) {
	started := time.Now()
	out, err := p.tagger.Tag(ctx, v.Text)

	params := &common.InferenceMetricParams{
		ModelName:  p.modelName,
		Backend:    fmt.Sprintf("%T", p.tagger),
		DurationMs: float64(time.Since(started).Microseconds()) / 1000,
		Success:    err == nil,
	}
	if out != nil {
		params.InputTokens = len(out.LabelIDs)
	}
	p.metrics.RecordInference(ctx, params)

	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}
	return DecodeBIO(v.Text, out.LabelIDs, out.Offsets, out.Scores, p.tagger.Labels()), nil
}
