// Package scoring calls an AI service to estimate damage costs and assess
// fraud risk for claims, with a deterministic simulator for environments
// without one.
//
// Flow:
//  1. Claim evaluation builds a scoring request from the claim and a window
//     of recent telemetry
//  2. The engine invokes the model with retries, validates the response
//     ranges, and records an audit row whether the call succeeds or not
//  3. Results feed the auto-approval decision; a fraud score maps to a risk
//     level for adjusters
package scoring

import (
	"context"
	"errors"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
)

var (
	// ErrUnavailable means the scoring backend could not produce a result
	// after retries.
	ErrUnavailable = errors.New("scoring service unavailable")
	// ErrInvalidScore means the backend responded with out-of-range values.
	ErrInvalidScore = errors.New("scoring response out of range")
)

// Operation names the two scoring calls.
type Operation string

const (
	OpEstimateDamage Operation = "estimate-damage"
	OpAssessFraud    Operation = "assess-fraud"
)

// WindowReading is one telemetry reading as presented to the model.
type WindowReading struct {
	RecordedAt time.Time `json:"recordedAt"`
	Metric     string    `json:"metric"`
	Value      float64   `json:"value"`
	Anomalous  bool      `json:"anomalous"`
}

// PriorClaim summarizes one earlier claim on the same policy for the model.
type PriorClaim struct {
	ClaimNumber string    `json:"claimNumber"`
	Status      string    `json:"status"`
	AmountCents int64     `json:"amountCents"`
	FraudScore  *float64  `json:"fraudScore,omitempty"`
	FiledAt     time.Time `json:"filedAt"`
}

// Request carries everything the model sees about a claim.
type Request struct {
	ClaimID          string          `json:"claimId"`
	PolicyID         string          `json:"policyId"`
	InsuranceType    string          `json:"insuranceType"`
	IncidentType     string          `json:"incidentType,omitempty"`
	ClaimAmountCents int64           `json:"claimAmountCents"`
	Description      string          `json:"description,omitempty"`
	Telemetry        []WindowReading `json:"telemetry,omitempty"`
	History          []PriorClaim    `json:"history,omitempty"`
}

// DamageEstimate is the model's view of what the loss should cost.
type DamageEstimate struct {
	CostCents  int64   `json:"costCents"`
	Confidence float64 `json:"confidence"`
	Notes      string  `json:"notes,omitempty"`
}

// FraudAssessment is the model's fraud read on a claim.
type FraudAssessment struct {
	Score          float64  `json:"score"`
	Confidence     float64  `json:"confidence"`
	Indicators     []string `json:"indicators,omitempty"`
	Recommendation string   `json:"recommendation,omitempty"`
}

// Invoker performs a single scoring call. Implementations: HTTPInvoker for
// a real backend, Simulator for development.
type Invoker interface {
	EstimateDamage(ctx context.Context, req Request) (*DamageEstimate, error)
	AssessFraud(ctx context.Context, req Request) (*FraudAssessment, error)
	Model() string
}

// Result is the audit record of one scoring call.
type Result struct {
	ID             string        `json:"id"`
	ClaimID        string        `json:"claimId"`
	Model          string        `json:"model"`
	Operation      Operation     `json:"operation"`
	Success        bool          `json:"success"`
	CostCents      *int64        `json:"costCents,omitempty"`
	Score          *float64      `json:"score,omitempty"`
	Confidence     *float64      `json:"confidence,omitempty"`
	Reasons        []string      `json:"reasons,omitempty"`
	Recommendation string        `json:"recommendation,omitempty"`
	InputRef       string        `json:"inputRef,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"duration"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Store persists scoring audit records.
type Store interface {
	SaveResult(ctx context.Context, result *Result) error
	ListByClaim(ctx context.Context, claimID string) ([]*Result, error)
}

// RiskLevel buckets a fraud score for adjusters.
func RiskLevel(score float64) string {
	switch {
	case score >= 0.70:
		return "critical"
	case score >= 0.50:
		return "high"
	case score >= 0.30:
		return "medium"
	default:
		return "low"
	}
}

func generateResultID() string {
	return idgen.WithPrefix("scr_")
}
