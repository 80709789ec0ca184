package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/LexNER/internal/application/analysis"
	domain "github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/search/opensearch"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
)

type MockService struct {
	mock.Mock
}

var _ analysis.Service = (*MockService)(nil)

func (m *MockService) Analyze(ctx context.Context, input *analysis.AnalyzeInput) (*analysis.AnalyzeOutput, error) {
	args := m.Called(ctx, input)
	out, _ := args.Get(0).(*analysis.AnalyzeOutput)
	return out, args.Error(1)
}

func (m *MockService) GetAnalysis(ctx context.Context, id string) (*domain.Analysis, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*domain.Analysis)
	return a, args.Error(1)
}

func (m *MockService) ListAnalyses(ctx context.Context, input *analysis.ListInput) (*analysis.ListResult, error) {
	args := m.Called(ctx, input)
	r, _ := args.Get(0).(*analysis.ListResult)
	return r, args.Error(1)
}

func (m *MockService) DeleteAnalysis(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockService) Report(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockService) ReportURL(ctx context.Context, id string) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockService) SearchEntities(ctx context.Context, input *analysis.SearchInput) (*opensearch.EntitySearchResult, error) {
	args := m.Called(ctx, input)
	r, _ := args.Get(0).(*opensearch.EntitySearchResult)
	return r, args.Error(1)
}

func (m *MockService) EntityTypes() []legal_ner.EntityTypeInfo {
	return m.Called().Get(0).([]legal_ner.EntityTypeInfo)
}

func (m *MockService) ModelReady() bool {
	return m.Called().Bool(0)
}

func (m *MockService) SetLexicon(lex *legal_ner.Lexicon) error {
	return m.Called(lex).Error(0)
}
