package legal_ner

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Matcher finds entities directly in the original text.  Offsets in the
// returned entities are rune indices; Source is always SourcePattern.
type Matcher interface {
	Name() string
	Match(text string) []Entity
}

// DefaultMatchers returns the stock matchers in injection order.
func DefaultMatchers() []Matcher {
	return []Matcher{
		NewDateMatcher(),
		NewMoneyMatcher(),
		NewEmailMatcher(),
		NewPhoneMatcher(),
	}
}

// boundary describes which edges of a match must sit on a word boundary.
type boundary struct {
	// left: a match starting with a word rune must not follow a word rune.
	left bool
	// right: a match ending with a word rune must not precede a word rune.
	right bool
	// notAfter lists extra runes that may not precede the match.
	notAfter string
}

// regexMatcher runs a list of patterns and validates boundaries by hand,
// retrying one rune further on rejection the way a backtracking engine would.
type regexMatcher struct {
	name     string
	typ      EntityType
	patterns []*regexp.Regexp
	bound    boundary
	// guard short-circuits the scan when it returns false.
	guard func(string) bool
}

func (m *regexMatcher) Name() string { return m.name }

func (m *regexMatcher) Match(text string) []Entity {
	if text == "" || (m.guard != nil && !m.guard(text)) {
		return nil
	}
	idx := newRuneIndex(text)
	var out []Entity
	for _, re := range m.patterns {
		pos := 0
		for pos <= len(text) {
			loc := re.FindStringIndex(text[pos:])
			if loc == nil {
				break
			}
			s, e := pos+loc[0], pos+loc[1]
			if e == s {
				pos = advance(text, s)
				continue
			}
			if !m.bound.accepts(text, s, e) {
				pos = advance(text, s)
				continue
			}
			out = append(out, Entity{
				Text:   text[s:e],
				Type:   m.typ,
				Start:  idx.runeAt(s),
				End:    idx.runeAt(e),
				Source: SourcePattern,
			})
			pos = e
		}
	}
	return out
}

func (b boundary) accepts(text string, s, e int) bool {
	first, _ := utf8.DecodeRuneInString(text[s:])
	last, _ := utf8.DecodeLastRuneInString(text[:e])

	if s > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:s])
		if b.left && isBoundaryWord(first) && isBoundaryWord(prev) {
			return false
		}
		if b.notAfter != "" && (isBoundaryWord(prev) || strings.ContainsRune(b.notAfter, prev)) {
			return false
		}
	}
	if e < len(text) {
		next, _ := utf8.DecodeRuneInString(text[e:])
		if b.right && isBoundaryWord(last) && isBoundaryWord(next) {
			return false
		}
	}
	return true
}

// isBoundaryWord matches a Unicode word character: letter, digit or '_'.
func isBoundaryWord(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func advance(text string, b int) int {
	if b >= len(text) {
		return len(text) + 1
	}
	_, size := utf8.DecodeRuneInString(text[b:])
	return b + size
}

// runeIndex converts byte offsets to rune offsets in ascending-ish order
// without rescanning from the start every time.
type runeIndex struct {
	text  string
	bytes int
	runes int
}

func newRuneIndex(text string) *runeIndex { return &runeIndex{text: text} }

func (x *runeIndex) runeAt(b int) int {
	if b < x.bytes {
		x.bytes, x.runes = 0, 0
	}
	x.runes += utf8.RuneCountInString(x.text[x.bytes:b])
	x.bytes = b
	return x.runes
}

// ---------------------------------------------------------------------------
// Stock matchers
// ---------------------------------------------------------------------------

const turkishMonths = `Ocak|Şubat|Mart|Nisan|Mayıs|Haziran|Temmuz|Ağustos|Eylül|Ekim|Kasım|Aralık`

const currencies = `TL|lira|EUR|USD|₺|\$|€`

// NewDateMatcher matches numeric dates in either order and "15 Mart 2024".
func NewDateMatcher() Matcher {
	return &regexMatcher{
		name: "date",
		typ:  TypeDateTime,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`\d{1,2}[./]\d{1,2}[./]\d{4}`),
			regexp.MustCompile(`\d{4}[./]\d{1,2}[./]\d{1,2}`),
			regexp.MustCompile(`(?i)\d{1,2}\s+(?:` + turkishMonths + `)\s+\d{4}`),
		},
		bound: boundary{left: true, right: true},
	}
}

// NewMoneyMatcher matches "1.250,50 TL" and currency-first "₺100".
func NewMoneyMatcher() Matcher {
	return &regexMatcher{
		name: "money",
		typ:  TypeMoney,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\d{1,3}(?:[.\s]\d{3})(?:[.,]\d+)?\s(?:` + currencies + `)`),
			regexp.MustCompile(`(?i)(?:` + currencies + `)\s*\d+(?:[.,]\d+)?`),
		},
		bound: boundary{left: true, right: true},
	}
}

// NewEmailMatcher matches addresses not glued to a preceding word, '.', '-'
// or '+'.  It only scans text containing '@'.
func NewEmailMatcher() Matcher {
	return &regexMatcher{
		name: "email",
		typ:  TypePhoneEmail,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}(?:\.[A-Za-z]{2,})*`),
		},
		bound: boundary{notAfter: ".-+"},
		guard: func(s string) bool { return strings.Contains(s, "@") },
	}
}

// NewPhoneMatcher matches Turkish numbers such as "0532 123 45 67".
func NewPhoneMatcher() Matcher {
	return &regexMatcher{
		name: "phone",
		typ:  TypePhoneEmail,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`0\d{3}\s?\d{3}\s?\d{2}\s?\d{2}`),
		},
		bound: boundary{left: true, right: true},
	}
}

// NewRegexMatcher builds a custom matcher with word-boundary checks on both
// edges.  Patterns use Go RE2 syntax.
func NewRegexMatcher(name string, typ EntityType, patterns ...string) (Matcher, error) {
	m := &regexMatcher{name: name, typ: typ, bound: boundary{left: true, right: true}}
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}
