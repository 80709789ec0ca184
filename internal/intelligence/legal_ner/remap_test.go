package legal_ner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemap_IdentityRoundTrip(t *testing.T) {
	text := "Ahmet Ankara’da"
	v := IdentityVariant([]rune(text), DefaultLexicon().Apostrophes)
	in := []Entity{ent("Ahmet", TypePerson, 0, 5), ent("Ankara'da", TypeLocation, 6, 15)}

	got := Remap(in, v.IndexMap, text)
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Start)
	assert.Equal(t, 5, got[0].End)
	assert.Equal(t, 6, got[1].Start)
	assert.Equal(t, 15, got[1].End)
	// Text comes from the original, typographic apostrophe included.
	assert.Equal(t, "Ankara’da", got[1].Text)
}

func TestRemap_SpacedVariantBackToOriginal(t *testing.T) {
	text := "Ankara'dan geldi"
	v := SpacedVariant([]rune(text), DefaultLexicon().Apostrophes)
	require.Equal(t, "Ankara 'dan geldi", v.Text)

	got := Remap([]Entity{
		ent("Ankara", TypeLocation, 0, 6),
		ent("'dan", TypeLocation, 7, 11),
		ent("geldi", TypeMisc, 12, 17),
	}, v.IndexMap, text)
	require.Len(t, got, 3)
	assert.Equal(t, "Ankara", got[0].Text)
	assert.Equal(t, "'dan", got[1].Text)
	assert.Equal(t, 6, got[1].Start)
	assert.Equal(t, "geldi", got[2].Text)
	assert.Equal(t, 11, got[2].Start)
}

func TestRemap_ClampsOnePastEnd(t *testing.T) {
	text := "0123456789"
	idx := IdentityVariant([]rune(text), nil).IndexMap

	got := Remap([]Entity{ent("", TypeMisc, 5, 11)}, idx, text)
	require.Len(t, got, 1)
	assert.Equal(t, 5, got[0].Start)
	assert.Equal(t, 10, got[0].End)
	assert.Equal(t, "56789", got[0].Text)
}

func TestRemap_OutOfRangeNeverPanics(t *testing.T) {
	text := "abc"
	idx := []int{0, 1, 2}
	assert.NotPanics(t, func() {
		got := Remap([]Entity{
			ent("", TypeMisc, -5, 2),
			ent("", TypeMisc, 50, 100),
			ent("", TypeMisc, 2, 2),
		}, idx, text)
		require.Len(t, got, 2)
		assert.Equal(t, "ab", got[0].Text)
		assert.Equal(t, "c", got[1].Text)
	})
}

func TestRemap_EmptyMapDropsEverything(t *testing.T) {
	assert.Empty(t, Remap([]Entity{ent("a", TypeMisc, 0, 1)}, nil, "a"))
}
