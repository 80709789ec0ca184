package legal_ner

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/common"
	"github.com/turtacn/LexNER/pkg/errors"
)

const legalText = "5237 sayılı TCK uyarınca Ahmet Yılmaz Ankara'dan 1.250,50 TL ödedi. İletişim: info@hukuk.com.tr"

func legalDict() map[string]int {
	return map[string]int{
		"TCK":    idBOrg,
		"Ahmet":  idBPerson,
		"Yılmaz": idIPerson,
		"Ankara": idBLoc,
	}
}

type wantEnt struct {
	text string
	typ  EntityType
	src  Source
}

func summarizeEnts(ents []Entity) []wantEnt {
	out := make([]wantEnt, 0, len(ents))
	for _, e := range ents {
		out = append(out, wantEnt{e.Text, e.Type, e.Source})
	}
	return out
}

var legalWant = []wantEnt{
	{"TCK", TypeLegalRef, SourceModel},
	{"Ahmet Yılmaz", TypePerson, SourceModel},
	{"Ankara'dan", TypeLocation, SourceModel},
	{"1.250,50 TL", TypeMoney, SourcePattern},
	{"info@hukuk.com.tr", TypePhoneEmail, SourcePattern},
}

func TestPipeline_Analyze_EndToEnd(t *testing.T) {
	tagger := newDictTagger(legalDict())
	p := NewPipeline(tagger)

	res := p.Analyze(context.Background(), legalText)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Nil(t, res.Error)
	assert.Equal(t, legalWant, summarizeEnts(res.Entities))
	assert.Equal(t, len(res.Entities), res.EntityCount)
	assert.Equal(t, int32(1), tagger.calls.Load())
	requireValidSpans(t, legalText, res.Entities)

	require.NotNil(t, res.Entities[1].Confidence)
	assert.InDelta(t, 0.9, *res.Entities[1].Confidence, 1e-9)
	assert.Nil(t, res.Entities[3].Confidence)

	assert.Equal(t, 1, res.Summary[TypeLegalRef])
	assert.Equal(t, 1, res.Summary[TypePhoneEmail])
	assert.Positive(t, res.Duration)
}

func TestPipeline_Analyze_SpacedVariantMerges(t *testing.T) {
	tagger := newDictTagger(legalDict())
	p := NewPipeline(tagger, WithSpacedVariant(true))
	assert.True(t, p.SpacedVariant())

	res := p.Analyze(context.Background(), legalText)
	require.True(t, res.Success)
	assert.Equal(t, int32(2), tagger.calls.Load())
	assert.Equal(t, legalWant, summarizeEnts(res.Entities))
	requireValidSpans(t, legalText, res.Entities)
}

func TestPipeline_Analyze_SpacedVariantAddsRecall(t *testing.T) {
	// Only the spaced form exposes the bare word "Ankara" followed by a
	// separate apostrophe token to this tagger.
	tagger := &variantTagger{}
	text := "Ankara’da"

	identity := NewPipeline(tagger).Analyze(context.Background(), text)
	require.True(t, identity.Success)
	assert.Empty(t, identity.Entities)

	spaced := NewPipeline(tagger, WithSpacedVariant(true)).Analyze(context.Background(), text)
	require.True(t, spaced.Success)
	require.Len(t, spaced.Entities, 1)
	assert.Equal(t, "Ankara’da", spaced.Entities[0].Text)
	assert.Equal(t, TypeLocation, spaced.Entities[0].Type)
}

// variantTagger tags "Ankara" only when it is followed by a space.
type variantTagger struct{}

func (variantTagger) Tag(_ context.Context, text string) (*TagOutput, error) {
	if text == "Ankara 'da" {
		return &TagOutput{
			LabelIDs: []int{idO, idBLoc, idO, idO, idO},
			Offsets:  [][2]int{{0, 0}, {0, 6}, {7, 8}, {8, 10}, {0, 0}},
		}, nil
	}
	return &TagOutput{LabelIDs: []int{idO}, Offsets: [][2]int{{0, 0}}}, nil
}

func (variantTagger) Labels() LabelMap { return DefaultLabelMap() }

// splitVariantTagger labels words through one table for the identity variant
// and another for the spaced variant.
type splitVariantTagger struct {
	identity, spaced map[string]int
}

func (s splitVariantTagger) Tag(ctx context.Context, text string) (*TagOutput, error) {
	dict := s.identity
	if strings.Contains(text, " '") {
		dict = s.spaced
	}
	return newDictTagger(dict).Tag(ctx, text)
}

func (splitVariantTagger) Labels() LabelMap { return DefaultLabelMap() }

func TestPipeline_Analyze_SpacedVariantKeepsEarlierLegalRef(t *testing.T) {
	tagger := splitVariantTagger{
		identity: map[string]int{"HMK": idBLegal},
		spaced:   map[string]int{"Kanun": idBLegal},
	}
	text := "Kanun'da yazar ve HMK geçerli"

	res := NewPipeline(tagger, WithSpacedVariant(true)).Analyze(context.Background(), text)
	require.True(t, res.Success, "error: %v", res.Error)
	assert.Equal(t, []wantEnt{
		{"Kanun'da", TypeLegalRef, SourceModel},
		{"HMK", TypeLegalRef, SourceModel},
	}, summarizeEnts(res.Entities))
	requireValidSpans(t, text, res.Entities)
}

// overrunTagger reports one token whose end runs one past the text, as a
// truncating tokenizer can at the input boundary.
type overrunTagger struct{}

func (overrunTagger) Tag(_ context.Context, text string) (*TagOutput, error) {
	n := len([]rune(text))
	return &TagOutput{
		LabelIDs: []int{idO, idBLoc, idO},
		Offsets:  [][2]int{{0, 0}, {0, n + 1}, {0, 0}},
	}, nil
}

func (overrunTagger) Labels() LabelMap { return DefaultLabelMap() }

func TestPipeline_Analyze_ClampsSpanAtTextEnd(t *testing.T) {
	res := NewPipeline(overrunTagger{}, WithMatchers()).Analyze(context.Background(), "Ankara")
	require.True(t, res.Success)
	require.Len(t, res.Entities, 1)
	e := res.Entities[0]
	assert.Equal(t, "Ankara", e.Text)
	assert.Equal(t, TypeLocation, e.Type)
	assert.Equal(t, 0, e.Start)
	assert.Equal(t, 6, e.End)
}

func TestPipeline_Analyze_EmptyInput(t *testing.T) {
	tagger := newDictTagger(nil)
	p := NewPipeline(tagger)

	for _, text := range []string{"", "   ", "\n\t"} {
		res := p.Analyze(context.Background(), text)
		assert.True(t, res.Success)
		assert.Empty(t, res.Entities)
		assert.NotNil(t, res.Entities)
		assert.Zero(t, res.EntityCount)
		assert.Nil(t, res.Error)
	}
	assert.Zero(t, tagger.calls.Load())
}

func TestPipeline_Analyze_ModelNotAvailable(t *testing.T) {
	p := NewPipeline(nil)
	assert.False(t, p.Ready())

	res := p.Analyze(context.Background(), "Ankara")
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrModelNotAvailable, *res.Error)
	assert.Zero(t, res.EntityCount)
}

func TestPipeline_Analyze_LazyLoad(t *testing.T) {
	fail := NewLazyTagger(func(context.Context) (Tagger, error) {
		return nil, stderrors.New("weights missing")
	})
	res := NewPipeline(fail).Analyze(context.Background(), "Ankara")
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrModelNotAvailable, *res.Error)

	ok := NewLazyTagger(func(context.Context) (Tagger, error) {
		return newDictTagger(legalDict()), nil
	})
	p := NewPipeline(ok)
	assert.False(t, p.Ready())
	res = p.Analyze(context.Background(), "Ahmet geldi")
	assert.True(t, res.Success)
	assert.True(t, p.Ready())
}

func TestPipeline_Analyze_TaggerError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	tagger := newDictTagger(nil)
	tagger.err = stderrors.New("backend exploded")

	p := NewPipeline(tagger, WithLogger(logging.NewLoggerFromCore(core)))
	res := p.Analyze(context.Background(), "Ankara")

	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "backend exploded", *res.Error)
	assert.Equal(t, 1, logs.FilterMessage("NER analysis failed").Len())
}

func TestPipeline_Analyze_UnavailableTaggerError(t *testing.T) {
	tagger := newDictTagger(nil)
	tagger.err = errors.ModelNotAvailable()

	res := NewPipeline(tagger).Analyze(context.Background(), "Ankara")
	require.NotNil(t, res.Error)
	assert.Equal(t, ErrModelNotAvailable, *res.Error)
}

func TestPipeline_Analyze_RecoversPanic(t *testing.T) {
	tagger := newDictTagger(nil)
	tagger.panic = true

	var res *Result
	assert.NotPanics(t, func() { res = NewPipeline(tagger).Analyze(context.Background(), "Ankara") })
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, "tagger exploded", *res.Error)
}

func TestPipeline_WithMatchersNone(t *testing.T) {
	p := NewPipeline(newDictTagger(nil), WithMatchers())
	res := p.Analyze(context.Background(), "mail: info@hukuk.com.tr")
	require.True(t, res.Success)
	assert.Empty(t, res.Entities)
}

func TestPipeline_EmailWithoutModelEntities(t *testing.T) {
	res := NewPipeline(newDictTagger(nil)).Analyze(context.Background(), "Yazışma: av.ali@baro.org.tr")
	require.True(t, res.Success)
	require.Len(t, res.Entities, 1)
	assert.Equal(t, TypePhoneEmail, res.Entities[0].Type)
	assert.Equal(t, SourcePattern, res.Entities[0].Source)
}

func TestPipeline_SetLexicon(t *testing.T) {
	p := NewPipeline(newDictTagger(legalDict()))
	before := p.Lexicon()

	bad := DefaultLexicon()
	bad.MergeGap = -1
	require.Error(t, p.SetLexicon(bad))
	assert.Same(t, before, p.Lexicon())

	custom := DefaultLexicon()
	custom.Acronyms = map[string]bool{"XYZ": true}
	require.NoError(t, p.SetLexicon(custom))
	assert.Same(t, custom, p.Lexicon())

	res := p.Analyze(context.Background(), legalText)
	require.True(t, res.Success)
	assert.Equal(t, TypeOrganization, res.Entities[0].Type)
}

func TestPipeline_WithLexiconOption(t *testing.T) {
	lex := DefaultLexicon()
	p := NewPipeline(nil, WithLexicon(lex), WithLexicon(nil))
	assert.Same(t, lex, p.Lexicon())
}

func TestPipeline_RecordsInferenceMetrics(t *testing.T) {
	m := common.NewInMemoryInferenceMetrics()
	p := NewPipeline(newDictTagger(legalDict()), WithInferenceMetrics(m, "legal-ner-test"))

	p.Analyze(context.Background(), "Ahmet geldi")
	recs := m.GetRecordedInferences()
	require.Len(t, recs, 1)
	assert.Equal(t, "legal-ner-test", recs[0].ModelName)
	assert.True(t, recs[0].Success)
	assert.Equal(t, 4, recs[0].InputTokens)
}

func TestPipeline_ConcurrentAnalyze(t *testing.T) {
	p := NewPipeline(newDictTagger(legalDict()), WithSpacedVariant(true))
	want := p.Analyze(context.Background(), legalText).Entities

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := p.Analyze(context.Background(), legalText)
			assert.Equal(t, want, res.Entities)
		}()
	}
	wg.Wait()
}

func TestPipeline_OutputIsDedupFixpoint(t *testing.T) {
	res := NewPipeline(newDictTagger(legalDict()), WithSpacedVariant(true)).
		Analyze(context.Background(), legalText+" "+legalText)
	require.True(t, res.Success)
	assert.Equal(t, res.Entities, Deduplicate(res.Entities))
	requireValidSpans(t, legalText+" "+legalText, res.Entities)
}
