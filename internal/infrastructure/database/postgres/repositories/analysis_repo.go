package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/turtacn/LexNER/internal/domain/analysis"
	"github.com/turtacn/LexNER/internal/infrastructure/database/postgres"
	"github.com/turtacn/LexNER/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LexNER/internal/intelligence/legal_ner"
	"github.com/turtacn/LexNER/pkg/errors"
)

const analysisColumns = `id, text_hash, text, spaced_variant, origin, success, error,
	entity_count, summary, duration_ms, model_name, object_key, created_at`

// entityQuerier runs the entity lookup on the pool or inside a transaction.
type entityQuerier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// rowScanner reads one analyses row from *sql.Row or *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

type postgresAnalysisRepo struct {
	conn *postgres.Connection
	log  logging.Logger
}

// NewPostgresAnalysisRepo stores analyses in the analyses and
// analysis_entities tables.
func NewPostgresAnalysisRepo(conn *postgres.Connection, log logging.Logger) analysis.Repository {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &postgresAnalysisRepo{conn: conn, log: log}
}

func (r *postgresAnalysisRepo) Save(ctx context.Context, a *analysis.Analysis) error {
	summary, err := json.Marshal(a.Summary)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to encode analysis summary")
	}
	if a.Summary == nil {
		summary = []byte("{}")
	}

	return r.conn.WithTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO analyses (` + analysisColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
		_, err := tx.ExecContext(ctx, query,
			a.ID, a.TextHash, a.Text, a.SpacedVariant, string(a.Origin), a.Success, a.Error,
			a.EntityCount, summary, a.DurationMs, a.ModelName, a.ObjectKey, a.CreatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert analysis")
		}
		if len(a.Entities) == 0 {
			return nil
		}
		query, args := entityInsert(a.ID, a.Entities)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to insert analysis entities")
		}
		return nil
	})
}

// entityInsert builds one multi-row INSERT for all entities.
func entityInsert(id uuid.UUID, entities []legal_ner.Entity) (string, []interface{}) {
	const cols = 8
	var b strings.Builder
	b.WriteString(`INSERT INTO analysis_entities
		(analysis_id, position, text, type, start_pos, end_pos, source, confidence) VALUES `)
	args := make([]interface{}, 0, len(entities)*cols)
	for i, e := range entities {
		if i > 0 {
			b.WriteString(", ")
		}
		base := i * cols
		fmt.Fprintf(&b, "($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8)
		var conf sql.NullFloat64
		if e.Confidence != nil {
			conf = sql.NullFloat64{Float64: *e.Confidence, Valid: true}
		}
		args = append(args, id, i, e.Text, string(e.Type), e.Start, e.End, string(e.Source), conf)
	}
	return b.String(), args
}

func (r *postgresAnalysisRepo) FindByID(ctx context.Context, id uuid.UUID) (*analysis.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses WHERE id = $1`
	a, err := scanAnalysis(r.conn.DB().QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFoundOr(err, "analysis "+id.String())
	}
	if a.Entities, err = r.loadEntities(ctx, r.conn.DB(), id); err != nil {
		return nil, err
	}
	return a, nil
}

func (r *postgresAnalysisRepo) FindLatestByTextHash(ctx context.Context, hash string) (*analysis.Analysis, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses
		WHERE text_hash = $1 AND success ORDER BY created_at DESC LIMIT 1`
	a, err := scanAnalysis(r.conn.DB().QueryRowContext(ctx, query, hash))
	if err != nil {
		return nil, notFoundOr(err, "analysis for text hash "+hash)
	}
	if a.Entities, err = r.loadEntities(ctx, r.conn.DB(), a.ID); err != nil {
		return nil, err
	}
	return a, nil
}

// List returns matching analyses newest first, without their entities, and
// the total number of matches.
func (r *postgresAnalysisRepo) List(ctx context.Context, opts ...analysis.QueryOption) ([]*analysis.Analysis, int64, error) {
	o := analysis.ApplyOptions(opts...)

	var conds []string
	var args []interface{}
	if o.Origin != "" {
		args = append(args, string(o.Origin))
		conds = append(conds, fmt.Sprintf("origin = $%d", len(args)))
	}
	if o.OnlyFailed {
		conds = append(conds, "NOT success")
	}
	if o.EntityType != "" {
		args = append(args, string(o.EntityType))
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM analysis_entities e WHERE e.analysis_id = analyses.id AND e.type = $%d)", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int64
	if err := r.conn.DB().QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses"+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to count analyses")
	}

	dataQuery := fmt.Sprintf("SELECT %s FROM analyses%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d",
		analysisColumns, where, len(args)+1, len(args)+2)
	args = append(args, o.Limit, o.Offset)
	rows, err := r.conn.DB().QueryContext(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to list analyses")
	}
	defer rows.Close()

	var out []*analysis.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan analysis")
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate analyses")
	}
	return out, total, nil
}

func (r *postgresAnalysisRepo) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.conn.DB().ExecContext(ctx, `DELETE FROM analyses WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to delete analysis")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrCodeNERAnalysisNotFound, "analysis "+id.String()+" not found")
	}
	return nil
}

func (r *postgresAnalysisRepo) loadEntities(ctx context.Context, q entityQuerier, id uuid.UUID) ([]legal_ner.Entity, error) {
	rows, err := q.QueryContext(ctx, `SELECT text, type, start_pos, end_pos, source, confidence
		FROM analysis_entities WHERE analysis_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to load analysis entities")
	}
	defer rows.Close()

	entities := []legal_ner.Entity{}
	for rows.Next() {
		var (
			e           legal_ner.Entity
			typ, source string
			conf        sql.NullFloat64
		)
		if err := rows.Scan(&e.Text, &typ, &e.Start, &e.End, &source, &conf); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to scan analysis entity")
		}
		e.Type = legal_ner.EntityType(typ)
		e.Source = legal_ner.Source(source)
		if conf.Valid {
			e.Confidence = legal_ner.Score(conf.Float64)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to iterate analysis entities")
	}
	return entities, nil
}

func scanAnalysis(row rowScanner) (*analysis.Analysis, error) {
	var (
		a       analysis.Analysis
		origin  string
		summary []byte
	)
	err := row.Scan(&a.ID, &a.TextHash, &a.Text, &a.SpacedVariant, &origin, &a.Success, &a.Error,
		&a.EntityCount, &summary, &a.DurationMs, &a.ModelName, &a.ObjectKey, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Origin = analysis.Origin(origin)
	if len(summary) > 0 {
		if err := json.Unmarshal(summary, &a.Summary); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeSerialization, "failed to decode analysis summary")
		}
	}
	return &a, nil
}

func notFoundOr(err error, what string) error {
	if stderrors.Is(err, sql.ErrNoRows) {
		return errors.New(errors.ErrCodeNERAnalysisNotFound, what+" not found")
	}
	if _, ok := err.(*errors.AppError); ok {
		return err
	}
	return errors.Wrap(err, errors.ErrCodeDatabaseError, "failed to query "+what)
}
