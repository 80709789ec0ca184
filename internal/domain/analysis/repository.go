package analysis

import (
	"context"

	"github.com/google/uuid"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
)

// Repository defines the persistence operations for analyses.
type Repository interface {
	Save(ctx context.Context, a *Analysis) error
	FindByID(ctx context.Context, id uuid.UUID) (*Analysis, error)
	FindLatestByTextHash(ctx context.Context, hash string) (*Analysis, error)
	List(ctx context.Context, opts ...QueryOption) ([]*Analysis, int64, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// QueryOptions encapsulates list parameters.
type QueryOptions struct {
	Offset     int
	Limit      int
	Origin     Origin
	EntityType legal_ner.EntityType
	OnlyFailed bool
}

// QueryOption is a functional option for QueryOptions.
type QueryOption func(*QueryOptions)

// WithPagination sets pagination options. Limits are clamped to [1, 100].
func WithPagination(offset, limit int) QueryOption {
	return func(o *QueryOptions) {
		if offset < 0 {
			offset = 0
		}
		if limit < 1 {
			limit = 20
		}
		if limit > 100 {
			limit = 100
		}
		o.Offset = offset
		o.Limit = limit
	}
}

// WithOrigin keeps analyses requested through one surface.
func WithOrigin(origin Origin) QueryOption {
	return func(o *QueryOptions) { o.Origin = origin }
}

// WithEntityType keeps analyses that found at least one entity of t.
func WithEntityType(t legal_ner.EntityType) QueryOption {
	return func(o *QueryOptions) { o.EntityType = t }
}

// OnlyFailed keeps failed analyses.
func OnlyFailed() QueryOption {
	return func(o *QueryOptions) { o.OnlyFailed = true }
}

// ApplyOptions folds opts over the defaults.
func ApplyOptions(opts ...QueryOption) QueryOptions {
	o := QueryOptions{Limit: 20}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
