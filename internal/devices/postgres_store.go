package devices

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists device records in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed device store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, device *Device) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO iot_devices (
			id, uid, policy_id, device_type, status,
			model, firmware_version, last_heartbeat, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		device.ID, device.UID, device.PolicyID, string(device.Type), string(device.Status),
		deviceNullString(device.Model), deviceNullString(device.FirmwareVersion),
		deviceNullTime(device.LastHeartbeat), device.CreatedAt, device.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateUID
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Device, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, uid, policy_id, device_type, status,
		       model, firmware_version, last_heartbeat, created_at, updated_at
		FROM iot_devices WHERE id = $1`, id)

	device, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	return device, err
}

func (p *PostgresStore) GetByUID(ctx context.Context, uid string) (*Device, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, uid, policy_id, device_type, status,
		       model, firmware_version, last_heartbeat, created_at, updated_at
		FROM iot_devices WHERE uid = $1`, uid)

	device, err := scanDevice(row)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}
	return device, err
}

func (p *PostgresStore) Update(ctx context.Context, device *Device) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE iot_devices SET
			status = $1, model = $2, firmware_version = $3, updated_at = $4
		WHERE id = $5`,
		string(device.Status), deviceNullString(device.Model),
		deviceNullString(device.FirmwareVersion), device.UpdatedAt,
		device.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE iot_devices SET last_heartbeat = $1, updated_at = $1
		WHERE id = $2`, at, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

func (p *PostgresStore) ListByPolicy(ctx context.Context, policyID string) ([]*Device, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, uid, policy_id, device_type, status,
		       model, firmware_version, last_heartbeat, created_at, updated_at
		FROM iot_devices
		WHERE policy_id = $1
		ORDER BY created_at`, policyID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, device)
	}
	return result, rows.Err()
}

// --- scan helpers ---

type deviceScanner interface {
	Scan(dest ...interface{}) error
}

func scanDevice(s deviceScanner) (*Device, error) {
	device := &Device{}
	var (
		deviceType string
		status     string
		model      sql.NullString
		firmware   sql.NullString
		heartbeat  sql.NullTime
	)

	err := s.Scan(
		&device.ID, &device.UID, &device.PolicyID, &deviceType, &status,
		&model, &firmware, &heartbeat, &device.CreatedAt, &device.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	device.Type = DeviceType(deviceType)
	device.Status = Status(status)
	device.Model = model.String
	device.FirmwareVersion = firmware.String
	if heartbeat.Valid {
		hb := heartbeat.Time
		device.LastHeartbeat = &hb
	}
	return device, nil
}

// --- nullable helpers ---

func deviceNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func deviceNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
