package claims

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists claims in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed claim store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, claim *Claim) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO claims (
			id, claim_number, policy_id, incident_id, amount_cents, description,
			status, auto_approved, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		claim.ID, claim.ClaimNumber, claim.PolicyID, claimNullString(claim.IncidentID),
		claim.AmountCents, claimNullString(claim.Description),
		string(claim.Status), claim.AutoApproved, claim.CreatedAt, claim.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrDuplicateClaimNumber
		}
		return err
	}
	return nil
}

const claimColumns = `
	id, claim_number, policy_id, incident_id, amount_cents, description, status,
	ai_estimate_cents, ai_confidence, fraud_score, fraud_risk_level,
	approved_amount_cents, auto_approved, payout_ref, paid_at, decided_at,
	reviewer_note, created_at, updated_at`

func (p *PostgresStore) Get(ctx context.Context, id string) (*Claim, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM claims WHERE id = $1`, id)

	claim, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, ErrClaimNotFound
	}
	return claim, err
}

func (p *PostgresStore) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+claimColumns+`
		FROM claims WHERE claim_number = $1`, number)

	claim, err := scanClaim(row)
	if err == sql.ErrNoRows {
		return nil, ErrClaimNotFound
	}
	return claim, err
}

func (p *PostgresStore) UpdateFrom(ctx context.Context, claim *Claim, expect Status) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE claims SET
			status = $1, approved_amount_cents = $2, auto_approved = $3,
			decided_at = $4, reviewer_note = $5, updated_at = $6
		WHERE id = $7 AND status = $8`,
		string(claim.Status), claimNullInt64(claim.ApprovedAmountCents), claim.AutoApproved,
		claimNullTime(claim.DecidedAt), claimNullString(claim.ReviewerNote), claim.UpdatedAt,
		claim.ID, string(expect),
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Either the claim is gone or its status moved under us.
		if _, getErr := p.Get(ctx, claim.ID); getErr != nil {
			return getErr
		}
		return ErrConflict
	}
	return nil
}

func (p *PostgresStore) SetAIEstimate(ctx context.Context, id string, costCents int64, confidence float64, updatedAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE claims SET ai_estimate_cents = $1, ai_confidence = $2, updated_at = $3
		WHERE id = $4`, costCents, confidence, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) SetFraudScore(ctx context.Context, id string, score float64, riskLevel string, updatedAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE claims SET fraud_score = $1, fraud_risk_level = $2, updated_at = $3
		WHERE id = $4`, score, riskLevel, updatedAt, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) SetPayout(ctx context.Context, id string, payoutRef string, paidAt time.Time) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE claims SET payout_ref = $1, paid_at = $2, updated_at = $2
		WHERE id = $3`, payoutRef, paidAt, id)
	if err != nil {
		return err
	}
	return requireRow(result)
}

func (p *PostgresStore) ListByPolicy(ctx context.Context, policyID string, status string, limit int) ([]*Claim, error) {
	var rows *sql.Rows
	var err error

	if status != "" {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+claimColumns+`
			FROM claims
			WHERE policy_id = $1 AND status = $2
			ORDER BY created_at DESC
			LIMIT $3`, policyID, status, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+claimColumns+`
			FROM claims
			WHERE policy_id = $1
			ORDER BY created_at DESC
			LIMIT $2`, policyID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Claim
	for rows.Next() {
		claim, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, claim)
	}
	return result, rows.Err()
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrClaimNotFound
	}
	return nil
}

// --- scan helpers ---

type claimScanner interface {
	Scan(dest ...interface{}) error
}

func scanClaim(s claimScanner) (*Claim, error) {
	claim := &Claim{}
	var (
		incidentID     sql.NullString
		description    sql.NullString
		status         string
		aiEstimate     sql.NullInt64
		aiConfidence   sql.NullFloat64
		fraudScore     sql.NullFloat64
		fraudRiskLevel sql.NullString
		approvedAmount sql.NullInt64
		payoutRef      sql.NullString
		paidAt         sql.NullTime
		decidedAt      sql.NullTime
		reviewerNote   sql.NullString
	)

	err := s.Scan(
		&claim.ID, &claim.ClaimNumber, &claim.PolicyID, &incidentID,
		&claim.AmountCents, &description, &status,
		&aiEstimate, &aiConfidence, &fraudScore, &fraudRiskLevel,
		&approvedAmount, &claim.AutoApproved, &payoutRef, &paidAt, &decidedAt,
		&reviewerNote, &claim.CreatedAt, &claim.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	claim.IncidentID = incidentID.String
	claim.Description = description.String
	claim.Status = Status(status)
	claim.FraudRiskLevel = fraudRiskLevel.String
	claim.PayoutRef = payoutRef.String
	claim.ReviewerNote = reviewerNote.String
	if aiEstimate.Valid {
		v := aiEstimate.Int64
		claim.AIEstimateCents = &v
	}
	if aiConfidence.Valid {
		v := aiConfidence.Float64
		claim.AIConfidence = &v
	}
	if fraudScore.Valid {
		v := fraudScore.Float64
		claim.FraudScore = &v
	}
	if approvedAmount.Valid {
		v := approvedAmount.Int64
		claim.ApprovedAmountCents = &v
	}
	if paidAt.Valid {
		t := paidAt.Time
		claim.PaidAt = &t
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		claim.DecidedAt = &t
	}
	return claim, nil
}

// --- nullable helpers ---

func claimNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func claimNullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func claimNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
