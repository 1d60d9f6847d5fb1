// Package claims implements the claim adjudication pipeline.
//
// Flow:
//  1. Claim filed against an active policy → status: pending
//  2. Evaluation locks the claim, scores damage and fraud concurrently, and
//     records both results
//  3. Claims meeting the auto-approval bar are paid without a human and end
//     as auto_paid; everything else returns to pending for an adjuster
//  4. An adjuster's review approves (with an amount) or rejects
//  5. Approval triggers the payout; a payout failure never reverses the
//     approval
package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
	"github.com/smartsure/smartsure/internal/scoring"
)

var (
	ErrClaimNotFound         = errors.New("claim not found")
	ErrPolicyNotFound        = errors.New("policy not found")
	ErrPolicyInactive        = errors.New("policy is not active")
	ErrIncidentMismatch      = errors.New("incident does not belong to the policy")
	ErrAlreadyDecided        = errors.New("claim already decided")
	ErrInvalidStatus         = errors.New("invalid claim status for this operation")
	ErrConflict              = errors.New("claim was modified concurrently")
	ErrNumberGenExhausted    = errors.New("could not generate a unique claim number")
	ErrDuplicateClaimNumber  = errors.New("claim number already exists")
	ErrInvalidDecision       = errors.New("decision must be approve or reject")
	ErrInvalidApprovalAmount = errors.New("approval amount must be positive")
)

// Status represents the adjudication state of a claim.
type Status string

const (
	StatusPending    Status = "pending"
	StatusEvaluating Status = "evaluating"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusAutoPaid   Status = "auto_paid"
)

// Claim is a filed insurance claim. Monetary amounts are integer cents.
// Scoring fields are pointers; nil means not yet scored.
type Claim struct {
	ID                  string     `json:"id"`
	ClaimNumber         string     `json:"claimNumber"`
	PolicyID            string     `json:"policyId"`
	IncidentID          string     `json:"incidentId,omitempty"`
	AmountCents         int64      `json:"amountCents"`
	Description         string     `json:"description,omitempty"`
	Status              Status     `json:"status"`
	AIEstimateCents     *int64     `json:"aiEstimateCents,omitempty"`
	AIConfidence        *float64   `json:"aiConfidence,omitempty"`
	FraudScore          *float64   `json:"fraudScore,omitempty"`
	FraudRiskLevel      string     `json:"fraudRiskLevel,omitempty"`
	ApprovedAmountCents *int64     `json:"approvedAmountCents,omitempty"`
	AutoApproved        bool       `json:"autoApproved"`
	PayoutRef           string     `json:"payoutRef,omitempty"`
	PaidAt              *time.Time `json:"paidAt,omitempty"`
	DecidedAt           *time.Time `json:"decidedAt,omitempty"`
	ReviewerNote        string     `json:"reviewerNote,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// IsDecided returns true once the claim has a final decision.
func (c *Claim) IsDecided() bool {
	return c.Status == StatusApproved || c.Status == StatusRejected || c.Status == StatusAutoPaid
}

// Store persists claims. UpdateFrom writes only succeed while the claim is
// still in the expected status, so concurrent transitions surface as
// ErrConflict instead of lost updates.
type Store interface {
	Create(ctx context.Context, claim *Claim) error
	Get(ctx context.Context, id string) (*Claim, error)
	GetByNumber(ctx context.Context, number string) (*Claim, error)
	// UpdateFrom persists claim if its stored status still equals expect;
	// otherwise it returns ErrConflict.
	UpdateFrom(ctx context.Context, claim *Claim, expect Status) error
	SetAIEstimate(ctx context.Context, id string, costCents int64, confidence float64, updatedAt time.Time) error
	SetFraudScore(ctx context.Context, id string, score float64, riskLevel string, updatedAt time.Time) error
	SetPayout(ctx context.Context, id string, payoutRef string, paidAt time.Time) error
	ListByPolicy(ctx context.Context, policyID string, status string, limit int) ([]*Claim, error)
}

// PolicyInfo is what adjudication needs to know about a policy.
type PolicyInfo struct {
	ID            string
	CustomerID    string
	InsuranceType string
	Active        bool
}

// PolicyDirectory resolves policies. Implemented by the policy service;
// wired in at startup.
type PolicyDirectory interface {
	GetPolicy(ctx context.Context, policyID string) (PolicyInfo, error)
}

// IncidentInfo is what claim filing needs to know about an incident.
type IncidentInfo struct {
	ID       string
	PolicyID string
	Type     string
}

// IncidentSource resolves incidents referenced by claims. May be nil.
type IncidentSource interface {
	GetIncident(ctx context.Context, incidentID string) (IncidentInfo, error)
}

// Scorer produces damage and fraud scores. Satisfied by the scoring engine.
type Scorer interface {
	EstimateDamage(ctx context.Context, req scoring.Request) (*scoring.DamageEstimate, error)
	AssessFraud(ctx context.Context, req scoring.Request) (*scoring.FraudAssessment, error)
	Model() string
}

// TelemetrySource supplies the telemetry window shown to the scorer. May be
// nil; scoring then runs without telemetry context.
type TelemetrySource interface {
	RecentWindow(ctx context.Context, policyID string, limit int) ([]scoring.WindowReading, error)
}

// PaymentTrigger executes approved payouts. Implemented by the payment
// service; wired in at startup.
type PaymentTrigger interface {
	Pay(ctx context.Context, claimID, policyID string, amountCents int64) (ref string, err error)
}

// Broadcaster pushes claim events to connected clients. Satisfied by the
// realtime hub; may be nil.
type Broadcaster interface {
	BroadcastClaimFiled(data map[string]interface{})
	BroadcastClaimDecision(data map[string]interface{})
}

// FileRequest contains the parameters for filing a claim.
type FileRequest struct {
	PolicyID    string `json:"policyId" binding:"required"`
	IncidentID  string `json:"incidentId"`
	AmountCents int64  `json:"amountCents" binding:"required"`
	Description string `json:"description"`
}

// ReviewRequest is an adjuster's decision on a claim.
type ReviewRequest struct {
	Decision    string `json:"decision" binding:"required"`
	AmountCents *int64 `json:"amountCents"`
	Note        string `json:"note"`
}

func generateClaimID() string {
	return idgen.WithPrefix("clm_")
}

func formatClaimNumber(year, seq int) string {
	return fmt.Sprintf("CLM-%d-%05d", year, seq)
}
