package legal_ner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func matchTexts(m Matcher, text string) []string {
	var out []string
	for _, e := range m.Match(text) {
		out = append(out, e.Text)
	}
	return out
}

func TestDateMatcher(t *testing.T) {
	m := NewDateMatcher()
	tests := []struct {
		text string
		want []string
	}{
		{"Karar 12.05.2023 tarihinde", []string{"12.05.2023"}},
		{"Karar 1/5/2023 tarihinde", []string{"1/5/2023"}},
		{"Tarih: 2023/01/15", []string{"2023/01/15"}},
		{"15 Mart 2024 günü", []string{"15 Mart 2024"}},
		{"15 mart 2024 günü", []string{"15 mart 2024"}},
		{"3 Şubat 2021", []string{"3 Şubat 2021"}},
		{"12  Ağustos  1999", []string{"12  Ağustos  1999"}},
		{"112.05.20234", nil},
		{"a12.05.2023", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, matchTexts(m, tt.text))
		})
	}
}

func TestDateMatcher_RuneOffsets(t *testing.T) {
	text := "Şöyle ki 3 Şubat 2021 günü"
	got := NewDateMatcher().Match(text)
	require.Len(t, got, 1)
	assert.Equal(t, 9, got[0].Start)
	assert.Equal(t, 21, got[0].End)
	assert.Equal(t, "3 Şubat 2021", spanOf(text, got[0].Start, got[0].End))
	assert.Equal(t, TypeDateTime, got[0].Type)
	assert.Equal(t, SourcePattern, got[0].Source)
}

func TestMoneyMatcher(t *testing.T) {
	m := NewMoneyMatcher()
	tests := []struct {
		text string
		want []string
	}{
		{"Toplam 1.250,50 TL ödendi", []string{"1.250,50 TL"}},
		{"Bedel 25 000 EUR olarak", []string{"25 000 EUR"}},
		{"₺100 ödendi", []string{"₺100"}},
		{"$ 5,5 fark", []string{"$ 5,5"}},
		{"USD 300", []string{"USD 300"}},
		{"1.000 tl", []string{"1.000 tl"}},
		{"1.250 TLX", nil},
		{"ATL 100", nil},
		{"para yok", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, matchTexts(m, tt.text))
		})
	}
}

func TestEmailMatcher(t *testing.T) {
	m := NewEmailMatcher()
	assert.Nil(t, m.Match("e-posta adresi yok"))
	assert.Equal(t, []string{"av.ali@baro.org.tr"}, matchTexts(m, "Yazışma: av.ali@baro.org.tr"))
	assert.Equal(t, []string{"a@b.co", "c@d.io"}, matchTexts(m, "a@b.co ve c@d.io"))
	// Preceded by a non-ASCII word character: every start position is
	// glued to a word rune, '.', '-' or '+'.
	assert.Nil(t, m.Match("ş.info@x.com"))
}

func TestPhoneMatcher(t *testing.T) {
	m := NewPhoneMatcher()
	assert.Equal(t, []string{"0532 123 45 67"}, matchTexts(m, "Tel: 0532 123 45 67"))
	assert.Equal(t, []string{"05321234567"}, matchTexts(m, "05321234567"))
	assert.Nil(t, m.Match("105321234567"))
	assert.Nil(t, m.Match("0532 123 45"))
}

func TestNewRegexMatcher(t *testing.T) {
	m, err := NewRegexMatcher("esas", TypeLegalRef, `\d{4}/\d+\s+E\.`)
	require.NoError(t, err)
	assert.Equal(t, "esas", m.Name())

	got := m.Match("Dosya 2023/145 E. sayılı")
	require.Len(t, got, 1)
	assert.Equal(t, "2023/145 E.", got[0].Text)
	assert.Equal(t, TypeLegalRef, got[0].Type)

	_, err = NewRegexMatcher("bad", TypeMisc, `(`)
	assert.Error(t, err)
}

func TestDefaultMatchers_Names(t *testing.T) {
	var names []string
	for _, m := range DefaultMatchers() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"date", "money", "email", "phone"}, names)
}
