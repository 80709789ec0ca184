package minio

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	pkgerrors "github.com/turtacn/LexNER/pkg/errors"
)

func sampleAnalysis() *analysis.Analysis {
	res := &legal_ner.Result{
		Success: true,
		Entities: []legal_ner.Entity{
			{Text: "5237 sayılı TCK", Type: legal_ner.TypeLegalRef, Start: 0, End: 15, Source: legal_ner.SourceModel},
		},
		EntityCount: 1,
		Summary:     map[legal_ner.EntityType]int{legal_ner.TypeLegalRef: 1},
	}
	a := analysis.New(uuid.MustParse("6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f"), "5237 sayılı TCK uyarınca", false, analysis.OriginHTTP, res)
	a.CreatedAt = time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC)
	return a
}

func TestObjectKeys(t *testing.T) {
	a := sampleAnalysis()
	key := ObjectKey(a)
	assert.Equal(t, "analyses/2024/03/15/6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f.json", key)
	assert.Equal(t, "analyses/2024/03/15/6f1c2a4e-8d3b-4c5a-9e7f-0a1b2c3d4e5f.txt", ReportKey(key))
}

func TestExporter_ExportFetchDelete(t *testing.T) {
	fake, srv := newFakeS3(t, "ner-results")
	exp := NewResultExporter(newTestClient(t, srv, "ner-results"), nil)
	ctx := context.Background()
	a := sampleAnalysis()

	key, err := exp.Export(ctx, a, "dilekce.txt")
	require.NoError(t, err)
	assert.Equal(t, ObjectKey(a), key)

	obj, ok := fake.object("ner-results/" + key)
	require.True(t, ok)
	assert.Equal(t, "application/json", obj.contentType)
	assert.Equal(t, a.ID.String(), obj.meta.Get("X-Amz-Meta-Analysis-Id"))

	report, ok := fake.object("ner-results/" + ReportKey(key))
	require.True(t, ok)
	assert.Contains(t, string(report.data), "NER (VARLIK TANIMA) RAPORU")
	assert.Contains(t, string(report.data), "- 5237 sayılı TCK (LEGAL_REF)")

	got, err := exp.Fetch(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, a.Entities, got.Entities)
	assert.Equal(t, a.Text, got.Text)

	data, err := exp.FetchReport(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, report.data, data)

	require.NoError(t, exp.Delete(ctx, key))
	_, ok = fake.object("ner-results/" + key)
	assert.False(t, ok)

	_, err = exp.Fetch(ctx, key)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeNERAnalysisNotFound))
}

func TestExporter_ReportURL(t *testing.T) {
	_, srv := newFakeS3(t, "ner-results")
	exp := NewResultExporter(newTestClient(t, srv, "ner-results"), nil)
	u, err := exp.ReportURL(context.Background(), "analyses/2024/03/15/x.json")
	require.NoError(t, err)
	assert.Contains(t, u, "analyses/2024/03/15/x.txt")
}
