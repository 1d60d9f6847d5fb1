package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore persists payments in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a Postgres-backed payment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const paymentColumns = `id, claim_id, policy_id, amount_cents, gateway, status, tx_ref, failure_message, settled_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *Payment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, claim_id, policy_id, amount_cents, gateway, status, tx_ref, failure_message, settled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.ClaimID, p.PolicyID, p.AmountCents, p.Gateway, p.Status,
		paymentNullString(p.TxRef), paymentNullString(p.FailureMsg),
		paymentNullTime(p.SettledAt), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Payment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	return p, err
}

func (s *PostgresStore) Update(ctx context.Context, p *Payment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, tx_ref = $2, failure_message = $3, settled_at = $4, updated_at = $5
		WHERE id = $6`,
		p.Status, paymentNullString(p.TxRef), paymentNullString(p.FailureMsg),
		paymentNullTime(p.SettledAt), p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return ErrPaymentNotFound
	}
	return nil
}

func (s *PostgresStore) ListByClaim(ctx context.Context, claimID string) ([]*Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE claim_id = $1 ORDER BY created_at DESC`, claimID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

func (s *PostgresStore) ListByPolicy(ctx context.Context, policyID string, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE policy_id = $1 ORDER BY created_at DESC LIMIT $2`, policyID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()
	return scanPayments(rows)
}

type paymentScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(row paymentScanner) (*Payment, error) {
	var p Payment
	var txRef, failureMsg sql.NullString
	var settledAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.ClaimID, &p.PolicyID, &p.AmountCents, &p.Gateway, &p.Status,
		&txRef, &failureMsg, &settledAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.TxRef = txRef.String
	p.FailureMsg = failureMsg.String
	if settledAt.Valid {
		t := settledAt.Time
		p.SettledAt = &t
	}
	return &p, nil
}

func scanPayments(rows *sql.Rows) ([]*Payment, error) {
	var out []*Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func paymentNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func paymentNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
