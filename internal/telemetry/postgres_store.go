package telemetry

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists sensor readings in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed reading store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) InsertBatch(ctx context.Context, readings []*Reading) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO sensor_readings (
			id, device_id, recorded_at, metric, value, unit,
			anomalous, processed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range readings {
		_, err := stmt.ExecContext(ctx,
			r.ID, r.DeviceID, r.RecordedAt, r.Metric, r.Value,
			readingNullString(r.Unit), r.Anomalous, r.Processed, r.CreatedAt,
		)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

const readingColumns = `
	id, device_id, recorded_at, metric, value, unit,
	anomalous, processed, created_at`

func (p *PostgresStore) ListByDevice(ctx context.Context, deviceID, metric string, from, to time.Time, limit int) ([]*Reading, error) {
	var rows *sql.Rows
	var err error

	if metric != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+readingColumns+`
			FROM sensor_readings
			WHERE device_id = $1 AND metric = $2 AND recorded_at >= $3 AND recorded_at <= $4
			ORDER BY recorded_at DESC
			LIMIT $5`, deviceID, metric, from, to, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+readingColumns+`
			FROM sensor_readings
			WHERE device_id = $1 AND recorded_at >= $2 AND recorded_at <= $3
			ORDER BY recorded_at DESC
			LIMIT $4`, deviceID, from, to, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReadings(rows)
}

func (p *PostgresStore) ListRecentAnomalies(ctx context.Context, deviceID string, limit int) ([]*Reading, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM sensor_readings
		WHERE device_id = $1 AND anomalous
		ORDER BY recorded_at DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReadings(rows)
}

func (p *PostgresStore) RecentAnomalyCount(ctx context.Context, deviceID string, lastN int) (int, error) {
	var count int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE anomalous)
		FROM (
			SELECT anomalous
			FROM sensor_readings
			WHERE device_id = $1
			ORDER BY recorded_at DESC
			LIMIT $2
		) recent`, deviceID, lastN).Scan(&count)
	return count, err
}

func (p *PostgresStore) AnomalyRate(ctx context.Context, deviceID string, since time.Time) (float64, int, error) {
	var total, anomalies int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE anomalous)
		FROM sensor_readings
		WHERE device_id = $1 AND recorded_at >= $2`, deviceID, since).Scan(&total, &anomalies)
	if err != nil {
		return 0, 0, err
	}
	if total == 0 {
		return 0, 0, nil
	}
	return float64(anomalies) / float64(total), total, nil
}

func (p *PostgresStore) Stats(ctx context.Context, deviceID, metric string, since time.Time) (Stats, error) {
	var stats Stats
	var err error

	const agg = `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE anomalous),
		       COALESCE(MIN(value), 0), COALESCE(MAX(value), 0), COALESCE(AVG(value), 0)
		FROM sensor_readings`

	if metric != "" {
		err = p.db.QueryRowContext(ctx, agg+`
			WHERE device_id = $1 AND metric = $2 AND recorded_at >= $3`,
			deviceID, metric, since,
		).Scan(&stats.Count, &stats.AnomalyCount, &stats.Min, &stats.Max, &stats.Avg)
	} else {
		err = p.db.QueryRowContext(ctx, agg+`
			WHERE device_id = $1 AND recorded_at >= $2`,
			deviceID, since,
		).Scan(&stats.Count, &stats.AnomalyCount, &stats.Min, &stats.Max, &stats.Avg)
	}
	return stats, err
}

func (p *PostgresStore) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := p.db.ExecContext(ctx, `
		UPDATE sensor_readings SET processed = TRUE
		WHERE id = ANY($1)`, pq.Array(ids))
	return err
}

// --- scan helpers ---

func scanReadings(rows *sql.Rows) ([]*Reading, error) {
	var result []*Reading
	for rows.Next() {
		r := &Reading{}
		var unit sql.NullString
		err := rows.Scan(
			&r.ID, &r.DeviceID, &r.RecordedAt, &r.Metric, &r.Value, &unit,
			&r.Anomalous, &r.Processed, &r.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		r.Unit = unit.String
		result = append(result, r)
	}
	return result, rows.Err()
}

// --- nullable helpers ---

func readingNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
