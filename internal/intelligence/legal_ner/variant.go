package legal_ner

import "unicode"

const (
	VariantIdentity = "identity"
	VariantSpaced   = "spaced"
)

// Variant is a rewritten form of the input fed to the tagger, together with
// the map from each of its runes back to a rune index in the original.
type Variant struct {
	Name     string
	Text     string
	IndexMap []int
}

// NormalizeApostrophes maps every typographic apostrophe in apostrophes to
// ASCII '.  The rune length is unchanged.
func NormalizeApostrophes(src []rune, apostrophes map[rune]bool) []rune {
	out := make([]rune, len(src))
	for i, r := range src {
		if apostrophes[r] {
			r = '\''
		}
		out[i] = r
	}
	return out
}

// IdentityVariant returns the apostrophe-normalized text with a 1:1 map.
func IdentityVariant(src []rune, apostrophes map[rune]bool) Variant {
	norm := NormalizeApostrophes(src, apostrophes)
	idx := make([]int, len(norm))
	for i := range idx {
		idx[i] = i
	}
	return Variant{Name: VariantIdentity, Text: string(norm), IndexMap: idx}
}

// SpacedVariant inserts a space before every apostrophe that directly follows
// a letter or digit ("Ankara'dan" -> "Ankara 'dan").  The inserted space maps
// to the index of that preceding character.
func SpacedVariant(src []rune, apostrophes map[rune]bool) Variant {
	norm := NormalizeApostrophes(src, apostrophes)
	out := make([]rune, 0, len(norm)+len(norm)/8)
	idx := make([]int, 0, cap(out))
	for i, r := range norm {
		if r == '\'' && i > 0 && isWordRune(norm[i-1]) {
			out = append(out, ' ')
			idx = append(idx, i-1)
		}
		out = append(out, r)
		idx = append(idx, i)
	}
	return Variant{Name: VariantSpaced, Text: string(out), IndexMap: idx}
}

// GenerateVariants returns the identity variant and, when spaced is set, the
// spaced variant.  Empty input yields no variants.
func GenerateVariants(original string, spaced bool, apostrophes map[rune]bool) []Variant {
	if original == "" {
		return nil
	}
	src := []rune(original)
	variants := []Variant{IdentityVariant(src, apostrophes)}
	if spaced {
		variants = append(variants, SpacedVariant(src, apostrophes))
	}
	return variants
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
