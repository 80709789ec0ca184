// Package analysis holds the persisted record of one NER run and the
// repository contract the storage layer implements.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
)

// Origin names the surface that requested an analysis.
type Origin string

const (
	OriginHTTP   Origin = "http"
	OriginWorker Origin = "worker"
	OriginCLI    Origin = "cli"
)

// Analysis is one pipeline run over one text.
type Analysis struct {
	ID            uuid.UUID                    `json:"id"`
	TextHash      string                       `json:"text_hash"`
	Text          string                       `json:"text,omitempty"`
	SpacedVariant bool                         `json:"spaced_variant"`
	Origin        Origin                       `json:"origin"`
	Success       bool                         `json:"success"`
	Error         string                       `json:"error,omitempty"`
	Entities      []legal_ner.Entity           `json:"entities"`
	EntityCount   int                          `json:"entity_count"`
	Summary       map[legal_ner.EntityType]int `json:"summary,omitempty"`
	DurationMs    int64                        `json:"duration_ms"`
	ModelName     string                       `json:"model_name,omitempty"`
	ObjectKey     string                       `json:"object_key,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
}

// New builds an Analysis from a pipeline result. The ID is a fresh random
// UUID unless id is non-nil.
func New(id uuid.UUID, text string, spaced bool, origin Origin, res *legal_ner.Result) *Analysis {
	if id == uuid.Nil {
		id = uuid.New()
	}
	a := &Analysis{
		ID:            id,
		TextHash:      HashText(text, spaced),
		Text:          text,
		SpacedVariant: spaced,
		Origin:        origin,
		CreatedAt:     time.Now().UTC(),
	}
	if res == nil {
		return a
	}
	a.Success = res.Success
	if res.Error != nil {
		a.Error = *res.Error
	}
	a.Entities = res.Entities
	if a.Entities == nil {
		a.Entities = []legal_ner.Entity{}
	}
	a.EntityCount = res.EntityCount
	a.Summary = res.Summary
	a.DurationMs = res.Duration.Milliseconds()
	return a
}

// Result converts the record back into the pipeline's response shape.
func (a *Analysis) Result() *legal_ner.Result {
	res := &legal_ner.Result{
		Success:     a.Success,
		Entities:    a.Entities,
		EntityCount: a.EntityCount,
		Summary:     a.Summary,
		Duration:    time.Duration(a.DurationMs) * time.Millisecond,
	}
	if res.Entities == nil {
		res.Entities = []legal_ner.Entity{}
	}
	if a.Error != "" {
		msg := a.Error
		res.Error = &msg
	}
	return res
}

// EntitiesOfType filters the entities by type.
func (a *Analysis) EntitiesOfType(t legal_ner.EntityType) []legal_ner.Entity {
	var out []legal_ner.Entity
	for _, e := range a.Entities {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// HashText fingerprints a text together with the options that change the
// pipeline's output.
func HashText(text string, spaced bool) string {
	var b strings.Builder
	b.WriteString(text)
	b.WriteByte(0)
	if spaced {
		b.WriteString("spaced")
	} else {
		b.WriteString("identity")
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
