package incidents

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists incidents in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed incident store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, incident *Incident) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO incidents (
			id, policy_id, device_id, incident_type, severity, status, source,
			description, anomaly_metrics, reading_ids, occurred_at, verified_at,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		incident.ID, incident.PolicyID, incidentNullString(incident.DeviceID),
		string(incident.Type), string(incident.Severity), string(incident.Status), string(incident.Source),
		incidentNullString(incident.Description), pq.Array(incident.Metrics), pq.Array(incident.ReadingIDs),
		incident.OccurredAt, incidentNullTime(incident.VerifiedAt),
		incident.CreatedAt, incident.UpdatedAt,
	)
	return err
}

const incidentColumns = `
	id, policy_id, device_id, incident_type, severity, status, source,
	description, anomaly_metrics, reading_ids, occurred_at, verified_at,
	created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Incident, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents WHERE id = $1`, id)

	incident, err := scanIncident(row)
	if err == sql.ErrNoRows {
		return nil, ErrIncidentNotFound
	}
	return incident, err
}

func (p *PostgresStore) Update(ctx context.Context, incident *Incident) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE incidents SET
			status = $1, severity = $2, description = $3,
			verified_at = $4, updated_at = $5
		WHERE id = $6`,
		string(incident.Status), string(incident.Severity),
		incidentNullString(incident.Description),
		incidentNullTime(incident.VerifiedAt), incident.UpdatedAt,
		incident.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrIncidentNotFound
	}
	return nil
}

func (p *PostgresStore) ListByPolicy(ctx context.Context, policyID string, status string, limit int) ([]*Incident, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+incidentColumns+`
			FROM incidents
			WHERE policy_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3`, policyID, status, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+incidentColumns+`
			FROM incidents
			WHERE policy_id = $1
			ORDER BY created_at DESC
			LIMIT $2`, policyID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanIncidents(rows)
}

func (p *PostgresStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]*Incident, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+incidentColumns+`
		FROM incidents
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanIncidents(rows)
}

// --- scan helpers ---

type incidentScanner interface {
	Scan(dest ...interface{}) error
}

func scanIncident(s incidentScanner) (*Incident, error) {
	incident := &Incident{}
	var (
		deviceID     sql.NullString
		incidentType string
		severity     string
		status       string
		source       string
		description  sql.NullString
		metricsArr   pq.StringArray
		readingIDs   pq.StringArray
		verifiedAt   sql.NullTime
	)

	err := s.Scan(
		&incident.ID, &incident.PolicyID, &deviceID, &incidentType, &severity, &status, &source,
		&description, &metricsArr, &readingIDs, &incident.OccurredAt, &verifiedAt,
		&incident.CreatedAt, &incident.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	incident.DeviceID = deviceID.String
	incident.Type = IncidentType(incidentType)
	incident.Severity = Severity(severity)
	incident.Status = Status(status)
	incident.Source = Source(source)
	incident.Description = description.String
	incident.Metrics = []string(metricsArr)
	incident.ReadingIDs = []string(readingIDs)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		incident.VerifiedAt = &t
	}
	return incident, nil
}

func scanIncidents(rows *sql.Rows) ([]*Incident, error) {
	var result []*Incident
	for rows.Next() {
		incident, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, incident)
	}
	return result, rows.Err()
}

// --- nullable helpers ---

func incidentNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func incidentNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
