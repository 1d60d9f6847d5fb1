package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/retry"
	"github.com/smartsure/smartsure/internal/traces"
)

const (
	payoutAttempts  = 2
	payoutBaseDelay = 500 * time.Millisecond
)

// Service executes and records claim payouts.
type Service struct {
	store     Store
	gateway   Gateway
	broadcast Broadcaster
}

// NewService creates a payments service. broadcast may be nil.
func NewService(store Store, gateway Gateway, broadcast Broadcaster) *Service {
	return &Service{store: store, gateway: gateway, broadcast: broadcast}
}

// Pay settles an approved claim and returns the gateway transaction ref.
// Every attempt leaves a payment record, succeeded or failed.
func (s *Service) Pay(ctx context.Context, claimID, policyID string, amountCents int64) (string, error) {
	ctx, span := traces.StartSpan(ctx, "payments.Pay",
		traces.ClaimID(claimID), traces.AmountCents(amountCents))
	defer span.End()

	if amountCents <= 0 {
		return "", ErrInvalidAmount
	}

	now := time.Now()
	payment := &Payment{
		ID:          generatePaymentID(),
		ClaimID:     claimID,
		PolicyID:    policyID,
		AmountCents: amountCents,
		Gateway:     s.gateway.Name(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, payment); err != nil {
		return "", fmt.Errorf("failed to record payment: %w", err)
	}

	var txRef string
	err := retry.Do(ctx, payoutAttempts, payoutBaseDelay, func() error {
		ref, err := s.gateway.Payout(ctx, payment)
		if err != nil {
			return err
		}
		txRef = ref
		return nil
	})

	settled := time.Now()
	payment.UpdatedAt = settled
	if err != nil {
		payment.Status = StatusFailed
		payment.FailureMsg = err.Error()
		if uerr := s.store.Update(ctx, payment); uerr != nil {
			logging.L(ctx).Error("failed to record payout failure",
				"paymentId", payment.ID, "error", uerr)
		}
		metrics.PayoutsTotal.WithLabelValues("failure").Inc()
		logging.L(ctx).Error("payout failed",
			"paymentId", payment.ID,
			"claimId", claimID,
			"gateway", payment.Gateway,
			"error", err,
		)
		return "", fmt.Errorf("%w: %v", ErrGatewayDeclined, err)
	}

	payment.Status = StatusSucceeded
	payment.TxRef = txRef
	payment.SettledAt = &settled
	if uerr := s.store.Update(ctx, payment); uerr != nil {
		logging.L(ctx).Error("failed to record payout success",
			"paymentId", payment.ID, "txRef", txRef, "error", uerr)
	}
	metrics.PayoutsTotal.WithLabelValues("success").Inc()
	logging.L(ctx).Info("payout sent",
		"paymentId", payment.ID,
		"claimId", claimID,
		"policyId", policyID,
		"amountCents", amountCents,
		"gateway", payment.Gateway,
		"txRef", txRef,
	)

	if s.broadcast != nil {
		s.broadcast.BroadcastPayout(map[string]interface{}{
			"paymentId":   payment.ID,
			"claimId":     claimID,
			"policyId":    policyID,
			"amountCents": amountCents,
			"txRef":       txRef,
		})
	}
	return txRef, nil
}

// Get returns a payment by ID.
func (s *Service) Get(ctx context.Context, id string) (*Payment, error) {
	return s.store.Get(ctx, id)
}

// ListByClaim returns all payout attempts for a claim, newest first.
func (s *Service) ListByClaim(ctx context.Context, claimID string) ([]*Payment, error) {
	return s.store.ListByClaim(ctx, claimID)
}

// ListByPolicy returns payments across a policy's claims, newest first.
func (s *Service) ListByPolicy(ctx context.Context, policyID string, limit int) ([]*Payment, error) {
	return s.store.ListByPolicy(ctx, policyID, limit)
}
