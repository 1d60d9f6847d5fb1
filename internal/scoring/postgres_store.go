package scoring

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists scoring audit records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) SaveResult(ctx context.Context, result *Result) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scoring_results (
			id, claim_id, model, operation, success,
			cost_cents, score, confidence, reasons, recommendation, input_ref,
			error, duration_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		result.ID, result.ClaimID, result.Model, string(result.Operation), result.Success,
		nullInt64(result.CostCents), nullFloat(result.Score), nullFloat(result.Confidence),
		pq.Array(result.Reasons), resultNullString(result.Recommendation), resultNullString(result.InputRef),
		resultNullString(result.Error), result.Duration.Milliseconds(), result.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListByClaim(ctx context.Context, claimID string) ([]*Result, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, claim_id, model, operation, success,
		       cost_cents, score, confidence, reasons, recommendation, input_ref,
		       error, duration_ms, created_at
		FROM scoring_results
		WHERE claim_id = $1
		ORDER BY created_at`, claimID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []*Result
	for rows.Next() {
		r := &Result{}
		var (
			operation      string
			costCents      sql.NullInt64
			score          sql.NullFloat64
			confidence     sql.NullFloat64
			reasons        pq.StringArray
			recommendation sql.NullString
			inputRef       sql.NullString
			errMsg         sql.NullString
			durationMS     int64
		)
		err := rows.Scan(
			&r.ID, &r.ClaimID, &r.Model, &operation, &r.Success,
			&costCents, &score, &confidence, &reasons, &recommendation, &inputRef,
			&errMsg, &durationMS, &r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Operation = Operation(operation)
		r.Reasons = []string(reasons)
		r.Recommendation = recommendation.String
		r.InputRef = inputRef.String
		if costCents.Valid {
			v := costCents.Int64
			r.CostCents = &v
		}
		if score.Valid {
			v := score.Float64
			r.Score = &v
		}
		if confidence.Valid {
			v := confidence.Float64
			r.Confidence = &v
		}
		r.Error = errMsg.String
		r.Duration = msToDuration(durationMS)
		results = append(results, r)
	}
	return results, rows.Err()
}

// --- nullable helpers ---

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func resultNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

var _ Store = (*PostgresStore)(nil)
