package policies

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists policy data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, policy *Policy) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policies (
			id, policy_number, customer_id, insurance_type, status,
			start_date, end_date, base_premium_cents, premium_cents,
			dynamic_premium, iot_enabled, risk_level, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		policy.ID, policy.PolicyNumber, policy.CustomerID, string(policy.InsuranceType), string(policy.Status),
		policy.StartDate, policy.EndDate, policy.BasePremiumCents, policy.PremiumCents,
		policy.DynamicPremium, policy.IoTEnabled, string(policy.RiskLevel), policy.CreatedAt, policy.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicatePolicyNumber
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Policy, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, policy_number, customer_id, insurance_type, status,
		       start_date, end_date, base_premium_cents, premium_cents,
		       dynamic_premium, iot_enabled, risk_level, created_at, updated_at
		FROM policies WHERE id = $1`, id)

	policy, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	return policy, err
}

func (p *PostgresStore) GetByNumber(ctx context.Context, number string) (*Policy, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, policy_number, customer_id, insurance_type, status,
		       start_date, end_date, base_premium_cents, premium_cents,
		       dynamic_premium, iot_enabled, risk_level, created_at, updated_at
		FROM policies WHERE policy_number = $1`, number)

	policy, err := scanPolicy(row)
	if err == sql.ErrNoRows {
		return nil, ErrPolicyNotFound
	}
	return policy, err
}

func (p *PostgresStore) Update(ctx context.Context, policy *Policy) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE policies SET
			status = $1, start_date = $2, end_date = $3,
			premium_cents = $4, risk_level = $5, updated_at = $6
		WHERE id = $7`,
		string(policy.Status), policy.StartDate, policy.EndDate,
		policy.PremiumCents, string(policy.RiskLevel), policy.UpdatedAt,
		policy.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (p *PostgresStore) UpdatePremium(ctx context.Context, id string, premiumCents int64, riskLevel RiskLevel, updatedAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE policies SET premium_cents = $1, risk_level = $2, updated_at = $3
		WHERE id = $4`,
		premiumCents, string(riskLevel), updatedAt, id,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (p *PostgresStore) ListByCustomer(ctx context.Context, customerID string, status string, limit int) ([]*Policy, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, policy_number, customer_id, insurance_type, status,
			       start_date, end_date, base_premium_cents, premium_cents,
			       dynamic_premium, iot_enabled, risk_level, created_at, updated_at
			FROM policies
			WHERE customer_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3`, customerID, status, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT id, policy_number, customer_id, insurance_type, status,
			       start_date, end_date, base_premium_cents, premium_cents,
			       dynamic_premium, iot_enabled, risk_level, created_at, updated_at
			FROM policies
			WHERE customer_id = $1
			ORDER BY created_at DESC
			LIMIT $2`, customerID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPolicies(rows)
}

func (p *PostgresStore) ListExpiring(ctx context.Context, before time.Time, limit int) ([]*Policy, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, policy_number, customer_id, insurance_type, status,
		       start_date, end_date, base_premium_cents, premium_cents,
		       dynamic_premium, iot_enabled, risk_level, created_at, updated_at
		FROM policies
		WHERE status = 'active' AND end_date < $1
		ORDER BY end_date
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanPolicies(rows)
}

func (p *PostgresStore) CreateCustomer(ctx context.Context, customer *Customer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, email, risk_profile, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		customer.ID, customer.Name, policyNullString(customer.Email),
		string(customer.RiskProfile), customer.CreatedAt,
	)
	return err
}

func (p *PostgresStore) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, email, risk_profile, created_at
		FROM customers WHERE id = $1`, id)

	customer := &Customer{}
	var email sql.NullString
	var riskProfile string
	err := row.Scan(&customer.ID, &customer.Name, &email, &riskProfile, &customer.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, err
	}
	customer.Email = email.String
	customer.RiskProfile = RiskLevel(riskProfile)
	return customer, nil
}

// --- scan helpers ---

// policyScanner is satisfied by both *sql.Row and *sql.Rows.
type policyScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(s policyScanner) (*Policy, error) {
	policy := &Policy{}
	var (
		insuranceType string
		status        string
		riskLevel     string
	)

	err := s.Scan(
		&policy.ID, &policy.PolicyNumber, &policy.CustomerID, &insuranceType, &status,
		&policy.StartDate, &policy.EndDate, &policy.BasePremiumCents, &policy.PremiumCents,
		&policy.DynamicPremium, &policy.IoTEnabled, &riskLevel, &policy.CreatedAt, &policy.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	policy.InsuranceType = InsuranceType(insuranceType)
	policy.Status = Status(status)
	policy.RiskLevel = RiskLevel(riskLevel)
	return policy, nil
}

func scanPolicies(rows *sql.Rows) ([]*Policy, error) {
	var result []*Policy
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, policy)
	}
	return result, rows.Err()
}

// --- nullable helpers ---

func policyNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
