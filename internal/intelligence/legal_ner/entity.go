// Package legal_ner turns per-subtoken BIO predictions from a Turkish legal
// sequence-tagging model into clean, deduplicated character-span entities
// over the original input text.
//
// All offsets are rune (Unicode code point) indices into the original text.
// Spans are half-open: [Start, End).
package legal_ner

import "strings"

// ---------------------------------------------------------------------------
// Entity types
// ---------------------------------------------------------------------------

// EntityType is the category tag of an entity.
type EntityType string

const (
	TypePerson       EntityType = "PERSON"
	TypeOrganization EntityType = "ORGANIZATION"
	TypeLocation     EntityType = "LOCATION"
	TypeMoney        EntityType = "MONEY"
	TypeDateTime     EntityType = "DATE_TIME"
	TypeLegalRef     EntityType = "LEGAL_REF"
	TypePhoneEmail   EntityType = "PHONE_EMAIL"

	// TypeMisc is only ever produced by a model trained with a generic tag.
	// It is a candidate for acronym promotion and is otherwise passed through.
	TypeMisc EntityType = "MISC"
)

// EntityTypes lists the closed set of reportable types in display order.
var EntityTypes = []EntityType{
	TypePerson,
	TypeOrganization,
	TypeLocation,
	TypeMoney,
	TypeDateTime,
	TypeLegalRef,
	TypePhoneEmail,
}

// Known reports whether t belongs to the closed set (MISC included).
func (t EntityType) Known() bool {
	if t == TypeMisc {
		return true
	}
	for _, et := range EntityTypes {
		if et == t {
			return true
		}
	}
	return false
}

// ParseEntityType normalizes a label suffix such as "legal_ref" or "LEGAL_REF".
func ParseEntityType(s string) EntityType {
	return EntityType(strings.ToUpper(strings.TrimSpace(s)))
}

// Source records where an entity came from. Diagnostics only.
type Source string

const (
	SourceModel   Source = "model"
	SourcePattern Source = "pattern"
)

// ---------------------------------------------------------------------------
// Entity
// ---------------------------------------------------------------------------

// Entity is an immutable span over the original text.  Passes return new
// values rather than modifying their input.
type Entity struct {
	Text       string     `json:"text"`
	Type       EntityType `json:"type"`
	Start      int        `json:"start"`
	End        int        `json:"end"`
	Source     Source     `json:"source"`
	Confidence *float64   `json:"confidence,omitempty"`
}

// Len returns the span length in runes.
func (e Entity) Len() int { return e.End - e.Start }

// Overlaps reports whether the two half-open spans intersect.
func (e Entity) Overlaps(o Entity) bool {
	return !(e.End <= o.Start || o.End <= e.Start)
}

// Valid reports whether the span lies inside a text of n runes and is non-empty.
func (e Entity) Valid(n int) bool {
	return e.Start >= 0 && e.Start < e.End && e.End <= n
}

// WithSpan returns a copy of e moved to [start, end) with Text recomputed
// from src.  The caller guarantees 0 <= start <= end <= len(src).
func (e Entity) WithSpan(src []rune, start, end int) Entity {
	out := e
	out.Start = start
	out.End = end
	out.Text = string(src[start:end])
	return out
}

// withType returns a copy of e retyped to t.
func (e Entity) withType(t EntityType) Entity {
	out := e
	out.Type = t
	return out
}

// Score returns a pointer to v, for populating Entity.Confidence.
func Score(v float64) *float64 { return &v }

// cloneEntities copies a slice so callers never observe aliasing between passes.
func cloneEntities(in []Entity) []Entity {
	if in == nil {
		return nil
	}
	out := make([]Entity, len(in))
	copy(out, in)
	return out
}
