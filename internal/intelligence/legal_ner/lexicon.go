package legal_ner

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/LexNER/pkg/errors"
)

const (
	// DefaultAcronymWindow is the number of runes inspected on each side of an
	// acronym candidate.
	DefaultAcronymWindow = 20

	// DefaultMergeGap is the largest number of runes allowed between two
	// LEGAL_REF entities for them to merge.
	DefaultMergeGap = 2
)

// Lexicon holds the static tables consulted by the rule engine.  A Lexicon is
// immutable once built: the pipeline swaps whole values on reload and never
// edits one in place.
type Lexicon struct {
	// Suffixes is sorted longest first (by rune count), ties broken lexically.
	Suffixes        []string
	SuffixTypes     map[EntityType]bool
	Acronyms        map[string]bool
	AcronymTriggers []string
	AcronymWindow   int
	Punctuation     map[rune]bool
	Apostrophes     map[rune]bool
	MergeGap        int

	// StemTypes selects the types TrimApostropheSuffixes strips.
	StemTypes map[EntityType]bool
}

var (
	defaultSuffixes = []string{
		"'da", "'de", "'ta", "'te", "'ya", "'ye",
		"'nın", "'nin", "'nun", "'nün",
		"'dır", "'dir", "'dur", "'dür",
		"'dan", "'den", "'tan", "'ten",
	}
	defaultSuffixTypes = []EntityType{
		TypePerson, TypeOrganization, TypeLocation, TypeLegalRef,
		TypePhoneEmail, TypeDateTime, TypeMoney,
	}
	defaultAcronyms = []string{
		"TTK", "TCK", "TMK", "CMK", "İİK", "İIK", "HMK", "YYK", "KVKK", "VUK", "SGK",
	}
	defaultTriggers    = []string{"sayılı", "madde", "maddesi", "md."}
	extraPunctuation   = "’“”…–—«»‹›"
	defaultApostrophes = "’‘ʼ"
	defaultStemTypes   = []EntityType{TypePerson, TypeOrganization, TypeLocation, TypeLegalRef}
)

// DefaultLexicon returns the built-in Turkish legal tables.
func DefaultLexicon() *Lexicon {
	lex := &Lexicon{
		AcronymTriggers: append([]string(nil), defaultTriggers...),
		AcronymWindow:   DefaultAcronymWindow,
		MergeGap:        DefaultMergeGap,
		SuffixTypes:     typeSet(defaultSuffixTypes),
		Acronyms:        stringSet(defaultAcronyms),
		Punctuation:     defaultPunctuation(),
		Apostrophes:     runeSet(defaultApostrophes),
		StemTypes:       typeSet(defaultStemTypes),
	}
	lex.Suffixes = sortSuffixes(defaultSuffixes)
	return lex
}

// IsPunct reports whether r is in the boundary punctuation set.
func (l *Lexicon) IsPunct(r rune) bool { return l.Punctuation[r] }

// IsTrimmable reports whether r is stripped by boundary trimming.
func (l *Lexicon) IsTrimmable(r rune) bool {
	return unicode.IsSpace(r) || l.Punctuation[r]
}

// Validate checks the invariants the rule engine relies on.
func (l *Lexicon) Validate() error {
	if l == nil {
		return errors.New(errors.ErrCodeNERLexiconInvalid, "lexicon is nil")
	}
	for i, s := range l.Suffixes {
		if s == "" {
			return errors.New(errors.ErrCodeNERLexiconInvalid, "empty suffix").
				WithDetail(fmt.Sprintf("index %d", i))
		}
		if i > 0 && utf8.RuneCountInString(l.Suffixes[i-1]) < utf8.RuneCountInString(s) {
			return errors.New(errors.ErrCodeNERLexiconInvalid, "suffixes not sorted longest first")
		}
	}
	for _, t := range l.AcronymTriggers {
		if t == "" {
			return errors.New(errors.ErrCodeNERLexiconInvalid, "empty acronym trigger")
		}
	}
	if l.AcronymWindow < 0 {
		return errors.New(errors.ErrCodeNERLexiconInvalid, "acronym window must be >= 0")
	}
	if l.MergeGap < 0 {
		return errors.New(errors.ErrCodeNERLexiconInvalid, "merge gap must be >= 0")
	}
	for t := range l.SuffixTypes {
		if !t.Known() {
			return errors.New(errors.ErrCodeNERLexiconInvalid, "unknown suffix type").
				WithDetail(string(t))
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// YAML overrides
// ---------------------------------------------------------------------------

// lexiconFile is the on-disk shape.  Absent keys keep the default table.
type lexiconFile struct {
	Suffixes        []string `yaml:"suffixes"`
	SuffixTypes     []string `yaml:"suffix_types"`
	Acronyms        []string `yaml:"acronyms"`
	AcronymTriggers []string `yaml:"acronym_triggers"`
	AcronymWindow   *int     `yaml:"acronym_window"`
	ExtraPunct      string   `yaml:"extra_punctuation"`
	Apostrophes     string   `yaml:"apostrophes"`
	MergeGap        *int     `yaml:"merge_gap"`
	StemTypes       []string `yaml:"stem_types"`
}

// LoadLexicon reads a YAML lexicon file and overlays it on DefaultLexicon.
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLexiconInvalid, "read lexicon file").WithDetail(path)
	}
	return ParseLexicon(data)
}

// ParseLexicon decodes YAML lexicon overrides.
func ParseLexicon(data []byte) (*Lexicon, error) {
	var f lexiconFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNERLexiconInvalid, "decode lexicon yaml")
	}

	lex := DefaultLexicon()
	if f.Suffixes != nil {
		lex.Suffixes = sortSuffixes(normalizeSuffixes(f.Suffixes, lex.Apostrophes))
	}
	if f.SuffixTypes != nil {
		lex.SuffixTypes = typeSet(parseTypes(f.SuffixTypes))
	}
	if f.Acronyms != nil {
		lex.Acronyms = stringSet(f.Acronyms)
	}
	if f.AcronymTriggers != nil {
		lex.AcronymTriggers = append([]string(nil), f.AcronymTriggers...)
	}
	if f.AcronymWindow != nil {
		lex.AcronymWindow = *f.AcronymWindow
	}
	if f.ExtraPunct != "" {
		for _, r := range f.ExtraPunct {
			lex.Punctuation[r] = true
		}
	}
	if f.Apostrophes != "" {
		lex.Apostrophes = runeSet(f.Apostrophes)
	}
	if f.MergeGap != nil {
		lex.MergeGap = *f.MergeGap
	}
	if f.StemTypes != nil {
		lex.StemTypes = typeSet(parseTypes(f.StemTypes))
	}

	if err := lex.Validate(); err != nil {
		return nil, err
	}
	return lex, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func defaultPunctuation() map[rune]bool {
	set := make(map[rune]bool, 48)
	for r := rune(0x21); r <= 0x7e; r++ {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			set[r] = true
		}
	}
	for _, r := range extraPunctuation {
		set[r] = true
	}
	return set
}

// sortSuffixes orders longest first so the first match is the longest.
func sortSuffixes(in []string) []string {
	out := append([]string(nil), in...)
	sort.SliceStable(out, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(out[i]), utf8.RuneCountInString(out[j])
		if li != lj {
			return li > lj
		}
		return out[i] < out[j]
	})
	return out
}

// normalizeSuffixes maps typographic apostrophes in configured suffixes to
// ASCII so they compare against normalized text.
func normalizeSuffixes(in []string, apostrophes map[rune]bool) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.Map(func(r rune) rune {
			if apostrophes[r] {
				return '\''
			}
			return r
		}, strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTypes(in []string) []EntityType {
	out := make([]EntityType, 0, len(in))
	for _, s := range in {
		out = append(out, ParseEntityType(s))
	}
	return out
}

func typeSet(in []EntityType) map[EntityType]bool {
	set := make(map[EntityType]bool, len(in))
	for _, t := range in {
		set[t] = true
	}
	return set
}

func stringSet(in []string) map[string]bool {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[strings.TrimSpace(s)] = true
	}
	return set
}

func runeSet(s string) map[rune]bool {
	set := make(map[rune]bool, utf8.RuneCountInString(s))
	for _, r := range s {
		set[r] = true
	}
	return set
}
