package analysis

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
)

func TestNew_FromSuccessResult(t *testing.T) {
	ents := []legal_ner.Entity{
		{Text: "Ahmet Yılmaz", Type: legal_ner.TypePerson, Start: 0, End: 12, Source: legal_ner.SourceModel},
		{Text: "info@hukuk.com.tr", Type: legal_ner.TypePhoneEmail, Start: 20, End: 37, Source: legal_ner.SourcePattern},
	}
	res := &legal_ner.Result{
		Success:     true,
		Entities:    ents,
		EntityCount: 2,
		Summary:     legal_ner.Summarize(ents),
		Duration:    42 * time.Millisecond,
	}

	a := New(uuid.Nil, "text", true, OriginHTTP, res)
	assert.NotEqual(t, uuid.Nil, a.ID)
	assert.True(t, a.Success)
	assert.Equal(t, 2, a.EntityCount)
	assert.Equal(t, int64(42), a.DurationMs)
	assert.Equal(t, HashText("text", true), a.TextHash)
	assert.Len(t, a.EntitiesOfType(legal_ner.TypePerson), 1)

	back := a.Result()
	assert.Equal(t, res.Entities, back.Entities)
	assert.Nil(t, back.Error)
	assert.Equal(t, res.Duration, back.Duration)
}

func TestNew_FromFailureResult(t *testing.T) {
	msg := legal_ner.ErrModelNotAvailable
	id := uuid.New()
	a := New(id, "text", false, OriginWorker, &legal_ner.Result{Error: &msg})

	assert.Equal(t, id, a.ID)
	assert.False(t, a.Success)
	assert.Equal(t, msg, a.Error)
	assert.NotNil(t, a.Entities)

	back := a.Result()
	require.NotNil(t, back.Error)
	assert.Equal(t, msg, *back.Error)
	assert.Empty(t, back.Entities)
}

func TestHashText_DependsOnOptions(t *testing.T) {
	assert.Equal(t, HashText("a", false), HashText("a", false))
	assert.NotEqual(t, HashText("a", false), HashText("a", true))
	assert.NotEqual(t, HashText("a", false), HashText("b", false))
	assert.Len(t, HashText("", false), 64)
}

func TestApplyOptions(t *testing.T) {
	o := ApplyOptions()
	assert.Equal(t, 20, o.Limit)

	o = ApplyOptions(WithPagination(-5, 1000), WithOrigin(OriginCLI), WithEntityType(legal_ner.TypeMoney), OnlyFailed())
	assert.Equal(t, 0, o.Offset)
	assert.Equal(t, 100, o.Limit)
	assert.Equal(t, OriginCLI, o.Origin)
	assert.Equal(t, legal_ner.TypeMoney, o.EntityType)
	assert.True(t, o.OnlyFailed)
}
