package legal_ner

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RuleEngine applies the fixed-order correction cascade to entities that are
// already in original-text coordinates.
type RuleEngine struct {
	lex      *Lexicon
	matchers []Matcher
}

// NewRuleEngine binds a lexicon and the pattern matchers.  A nil lexicon
// selects DefaultLexicon.
func NewRuleEngine(lex *Lexicon, matchers []Matcher) *RuleEngine {
	if lex == nil {
		lex = DefaultLexicon()
	}
	return &RuleEngine{lex: lex, matchers: matchers}
}

// Lexicon returns the bound lexicon.
func (r *RuleEngine) Lexicon() *Lexicon { return r.lex }

// Apply runs trim, suffix attachment, legal merge, acronym promotion and
// pattern injection in that order.
func (r *RuleEngine) Apply(original string, entities []Entity) []Entity {
	src := []rune(original)
	out := TrimBoundaries(entities, src, r.lex)
	out = AttachSuffixes(out, src, r.lex)
	out = MergeLegalRefs(out, src, r.lex.MergeGap)
	out = PromoteAcronyms(out, src, r.lex)
	return InjectPatterns(out, original, r.matchers)
}

// TrimBoundaries strips whitespace and punctuation from both ends of every
// span.  Spans that become empty are dropped.
func TrimBoundaries(entities []Entity, src []rune, lex *Lexicon) []Entity {
	out := make([]Entity, 0, len(entities))
	n := len(src)
	for _, e := range entities {
		s, end := clamp(e.Start, 0, n), clamp(e.End, 0, n)
		for s < end && lex.IsTrimmable(src[s]) {
			s++
		}
		for end > s && lex.IsTrimmable(src[end-1]) {
			end--
		}
		if end > s {
			out = append(out, e.WithSpan(src, s, end))
		}
	}
	return out
}

// AttachSuffixes extends entities of a suffix-bearing type by the longest
// lexicon suffix that immediately follows them.  Matching is done against
// apostrophe-normalized text so "Ankara’dan" and "Ankara'dan" behave alike.
func AttachSuffixes(entities []Entity, src []rune, lex *Lexicon) []Entity {
	norm := NormalizeApostrophes(src, lex.Apostrophes)
	suffixes := make([][]rune, len(lex.Suffixes))
	for i, s := range lex.Suffixes {
		suffixes[i] = []rune(s)
	}

	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if !lex.SuffixTypes[e.Type] {
			out = append(out, e)
			continue
		}
		for _, suf := range suffixes {
			if hasRunesAt(norm, e.End, suf) {
				e = e.WithSpan(src, e.Start, e.End+len(suf))
				break
			}
		}
		out = append(out, e)
	}
	return out
}

func hasRunesAt(src []rune, at int, want []rune) bool {
	if at < 0 || at+len(want) > len(src) {
		return false
	}
	for i, r := range want {
		if src[at+i] != r {
			return false
		}
	}
	return true
}

// MergeLegalRefs collapses runs of consecutive LEGAL_REF entities whose next
// start is within gap runes of the running end.  A run only grows rightwards:
// an entity starting before the run's start ends it.  The merged confidence
// is the minimum of the confidences that are present.
func MergeLegalRefs(entities []Entity, src []rune, gap int) []Entity {
	out := make([]Entity, 0, len(entities))
	for i := 0; i < len(entities); {
		cur := entities[i]
		if cur.Type != TypeLegalRef {
			out = append(out, cur)
			i++
			continue
		}

		end := cur.End
		conf := cur.Confidence
		j := i + 1
		for j < len(entities) && entities[j].Type == TypeLegalRef &&
			entities[j].Start >= cur.Start && entities[j].Start <= end+gap {
			if entities[j].End > end {
				end = entities[j].End
			}
			conf = minConfidence(conf, entities[j].Confidence)
			j++
		}
		if j == i+1 {
			out = append(out, cur)
			i++
			continue
		}

		merged := cur.WithSpan(src, cur.Start, clamp(end, cur.Start, len(src)))
		merged.Source = SourceModel
		merged.Confidence = conf
		out = append(out, merged)
		i = j
	}
	return out
}

func minConfidence(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *b < *a:
		return b
	default:
		return a
	}
}

// PromoteAcronyms retypes ORGANIZATION and MISC entities that are legal code
// acronyms (TCK, HMK...) to LEGAL_REF when a trigger word appears within the
// lexicon window around them.
func PromoteAcronyms(entities []Entity, src []rune, lex *Lexicon) []Entity {
	upper := cases.Upper(language.Turkish)
	lower := cases.Lower(language.Turkish)

	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if e.Type != TypeOrganization && e.Type != TypeMisc {
			out = append(out, e)
			continue
		}
		token := upper.String(strings.TrimSpace(e.Text))
		if !lex.Acronyms[token] {
			out = append(out, e)
			continue
		}
		left := clamp(e.Start-lex.AcronymWindow, 0, len(src))
		right := clamp(e.End+lex.AcronymWindow, left, len(src))
		ctx := lower.String(string(src[left:right]))
		for _, trig := range lex.AcronymTriggers {
			if strings.Contains(ctx, trig) {
				e = e.withType(TypeLegalRef)
				break
			}
		}
		out = append(out, e)
	}
	return out
}

// InjectPatterns appends every matcher's hits on the original text.
func InjectPatterns(entities []Entity, original string, matchers []Matcher) []Entity {
	out := cloneEntities(entities)
	for _, m := range matchers {
		out = append(out, m.Match(original)...)
	}
	return out
}

// TrimApostropheSuffixes is the inverse of AttachSuffixes: for the lexicon's
// stem types it cuts a trailing "'ek" when the ek is a known suffix, leaving
// the bare stem.  It is not part of Apply.
func TrimApostropheSuffixes(entities []Entity, src []rune, lex *Lexicon) []Entity {
	lower := cases.Lower(language.Turkish)
	known := make(map[string]bool, len(lex.Suffixes))
	for _, s := range lex.Suffixes {
		known[s] = true
	}
	norm := NormalizeApostrophes(src, lex.Apostrophes)

	out := make([]Entity, 0, len(entities))
	for _, e := range entities {
		if !lex.StemTypes[e.Type] || !e.Valid(len(src)) {
			out = append(out, e)
			continue
		}
		frag := norm[e.Start:e.End]
		cut := -1
		for i := len(frag) - 1; i >= 0; i-- {
			if frag[i] == '\'' {
				cut = i
				break
			}
		}
		if cut > 0 && cut < len(frag)-1 && allTurkishLetters(frag[cut+1:]) &&
			known["'"+lower.String(string(frag[cut+1:]))] {
			e = e.WithSpan(src, e.Start, e.Start+cut)
		}
		out = append(out, e)
	}
	return out
}

func allTurkishLetters(rs []rune) bool {
	for _, r := range rs {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || strings.ContainsRune("çğıöşüÇĞİÖŞÜ", r)) {
			return false
		}
	}
	return true
}
