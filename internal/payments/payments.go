// Package payments settles approved claims.
//
// Flow:
//  1. The claims engine asks for a payout when a claim is approved.
//  2. A payment record is created in pending state.
//  3. The configured gateway moves the money. Transient gateway errors
//     are retried; the record ends up succeeded or failed either way.
//  4. Succeeded payouts are pushed to connected dashboard clients.
//
// The gateway is pluggable: Stripe in production, a simulator everywhere
// else.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/smartsure/smartsure/internal/idgen"
)

var (
	// ErrPaymentNotFound is returned when a payment does not exist.
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrInvalidAmount is returned for non-positive payout amounts.
	ErrInvalidAmount = errors.New("payout amount must be positive")

	// ErrGatewayDeclined is returned when the gateway rejects a payout
	// after all retries.
	ErrGatewayDeclined = errors.New("payment gateway declined payout")
)

// Status represents the lifecycle state of a payment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Payment records a single claim payout attempt.
type Payment struct {
	ID          string     `json:"id"`
	ClaimID     string     `json:"claimId"`
	PolicyID    string     `json:"policyId"`
	AmountCents int64      `json:"amountCents"`
	Gateway     string     `json:"gateway"`
	Status      Status     `json:"status"`
	TxRef       string     `json:"txRef,omitempty"`
	FailureMsg  string     `json:"failureMessage,omitempty"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Store persists payments.
type Store interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	Update(ctx context.Context, p *Payment) error
	ListByClaim(ctx context.Context, claimID string) ([]*Payment, error)
	ListByPolicy(ctx context.Context, policyID string, limit int) ([]*Payment, error)
}

// Gateway moves money to the policyholder. Implementations must be safe
// for concurrent use.
type Gateway interface {
	// Payout executes the transfer and returns a gateway transaction
	// reference. Errors wrapped with retry.Permanent are not retried.
	Payout(ctx context.Context, p *Payment) (txRef string, err error)

	// Name identifies the gateway in payment records and logs.
	Name() string
}

// Broadcaster pushes payout events to connected clients. May be nil.
type Broadcaster interface {
	BroadcastPayout(data map[string]interface{})
}

func generatePaymentID() string {
	return idgen.WithPrefix("pay_")
}
