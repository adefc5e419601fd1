package mysql

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/agroia/agroia-backend/internal/domain/analysis"
)

//go:embed schema.sql
var schema string

const columns = `id, user_id, image_data, image_url, analysis_result, metadata, created_at, updated_at`

type AnalysisRepository struct {
	db *sql.DB
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db}
}

// Migrate creates the pest_analyses table when it is missing.
func (r *AnalysisRepository) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save insert/update one record. A missing ID is generated.
func (r *AnalysisRepository) Save(ctx context.Context, rec *analysis.Record) error {
	const q = `
INSERT INTO pest_analyses (` + columns + `)
VALUES (?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 image_url=VALUES(image_url),
 analysis_result=VALUES(analysis_result),
 metadata=VALUES(metadata),
 updated_at=VALUES(updated_at);
`
	if rec.ID == "" {
		rec.ID = analysis.ID(uuid.NewString())
	}
	result, err := encodeResult(rec.Result)
	if err != nil {
		return err
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	created := nullTime(rec.CapturedAt.IsKnown(), rec.CapturedAt.Time())
	updated := time.Now().UTC()
	if rec.UpdatedAt.IsKnown() {
		updated = rec.UpdatedAt.Time()
	}

	_, err = r.db.ExecContext(ctx, q,
		rec.ID, rec.OwnerID, rec.ImagePayload, rec.ImageURL, result, meta, created, updated,
	)
	return err
}

// Get by ID. A missing row yields (nil, nil).
func (r *AnalysisRepository) Get(ctx context.Context, id analysis.ID) (*analysis.Record, error) {
	const q = `SELECT ` + columns + ` FROM pest_analyses WHERE id=? LIMIT 1;`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// FindByOwner filters on user_id only, without ORDER BY.
func (r *AnalysisRepository) FindByOwner(ctx context.Context, owner string, limit int) ([]*analysis.Record, error) {
	if limit <= 0 {
		limit = 1000
	}
	const q = `SELECT ` + columns + ` FROM pest_analyses WHERE user_id=? LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, owner, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*analysis.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *AnalysisRepository) Delete(ctx context.Context, id analysis.ID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM pest_analyses WHERE id=?;`, id)
	return err
}

func (r *AnalysisRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return r.db.PingContext(ctx)
}

func nullTime(valid bool, t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: valid}
}
