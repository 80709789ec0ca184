package legal_ner

import (
	"context"
	"sync/atomic"
	"testing"
	"unicode"

	"github.com/stretchr/testify/require"
)

// Label ids of DefaultLabelMap.
const (
	idO = iota
	idBPerson
	idIPerson
	idBOrg
	idIOrg
	idBLoc
	idILoc
	idBMoney
	idIMoney
	idBDate
	idIDate
	idBLegal
	idILegal
	idBPhone
	idIPhone
)

// wordTokens splits text into letter/digit runs and single symbols, framed
// by zero-width special tokens the way a subword tokenizer reports them.
func wordTokens(text string) ([]string, [][2]int) {
	src := []rune(text)
	toks := []string{"<s>"}
	offs := [][2]int{{0, 0}}
	for i := 0; i < len(src); {
		r := src[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			j := i
			for j < len(src) && (unicode.IsLetter(src[j]) || unicode.IsDigit(src[j])) {
				j++
			}
			toks = append(toks, string(src[i:j]))
			offs = append(offs, [2]int{i, j})
			i = j
		default:
			toks = append(toks, string(r))
			offs = append(offs, [2]int{i, i + 1})
			i++
		}
	}
	toks = append(toks, "</s>")
	offs = append(offs, [2]int{0, 0})
	return toks, offs
}

// dictTagger labels tokens through a lookup table; everything else is O.
type dictTagger struct {
	dict  map[string]int
	calls atomic.Int32
	err   error
	panic bool
}

func newDictTagger(dict map[string]int) *dictTagger { return &dictTagger{dict: dict} }

func (d *dictTagger) Tag(_ context.Context, text string) (*TagOutput, error) {
	d.calls.Add(1)
	if d.panic {
		panic("tagger exploded")
	}
	if d.err != nil {
		return nil, d.err
	}
	toks, offs := wordTokens(text)
	out := &TagOutput{Offsets: offs}
	for _, tok := range toks {
		out.LabelIDs = append(out.LabelIDs, d.dict[tok])
		out.Scores = append(out.Scores, 0.9)
	}
	return out, nil
}

func (d *dictTagger) Labels() LabelMap { return DefaultLabelMap() }

// requireValidSpans checks the output invariants every pipeline result
// must satisfy.
func requireValidSpans(t *testing.T, text string, ents []Entity) {
	t.Helper()
	src := []rune(text)
	for i, e := range ents {
		require.True(t, e.Valid(len(src)), "entity %d out of range: %+v", i, e)
		require.Equal(t, string(src[e.Start:e.End]), e.Text, "entity %d text", i)
		if i > 0 {
			require.LessOrEqual(t, ents[i-1].Start, e.Start, "not sorted at %d", i)
			require.LessOrEqual(t, ents[i-1].End, e.Start, "overlap at %d", i)
		}
	}
}

func ent(text string, typ EntityType, start, end int) Entity {
	return Entity{Text: text, Type: typ, Start: start, End: end, Source: SourceModel}
}

func spanOf(text string, start, end int) string {
	return string([]rune(text)[start:end])
}
