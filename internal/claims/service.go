package claims

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/scoring"
	"github.com/smartsure/smartsure/internal/syncutil"
	"github.com/smartsure/smartsure/internal/traces"
)

const (
	maxNumberAttempts = 10
	// telemetryWindowSize is how many recent readings the scorer sees.
	telemetryWindowSize = 20
	// priorClaimsLimit is how many earlier claims the scorer sees.
	priorClaimsLimit = 10
	// autoEvalTimeout bounds the background evaluation kicked off by File.
	autoEvalTimeout = 2 * time.Minute
)

// AutoApprovalRules is the bar a claim must clear to skip human review.
// A claim auto-approves only when the damage confidence is at least
// MinConfidence, the fraud score is strictly below MaxFraudScore, and the
// estimated cost does not exceed CeilingCents.
type AutoApprovalRules struct {
	CeilingCents  int64
	MinConfidence float64
	MaxFraudScore float64
}

// DefaultAutoApprovalRules returns the production defaults.
func DefaultAutoApprovalRules() AutoApprovalRules {
	return AutoApprovalRules{
		CeilingCents:  5_000_000,
		MinConfidence: 0.90,
		MaxFraudScore: 0.70,
	}
}

// allows reports whether an estimate and fraud assessment clear the bar.
func (r AutoApprovalRules) allows(estimate *scoring.DamageEstimate, fraud *scoring.FraudAssessment) bool {
	return estimate.Confidence >= r.MinConfidence &&
		fraud.Score < r.MaxFraudScore &&
		estimate.CostCents <= r.CeilingCents
}

// Service implements claim adjudication.
type Service struct {
	store        Store
	policies     PolicyDirectory
	incidents    IncidentSource
	scorer       Scorer
	telemetry    TelemetrySource
	payments     PaymentTrigger
	broadcast    Broadcaster
	rules        AutoApprovalRules
	autoEvaluate bool
	locks        *syncutil.ContextShardedMutex
}

// NewService creates a new claim service. incidents, telemetry, payments,
// and broadcast may be nil. With autoEvaluate set, filing a claim kicks off
// its evaluation in the background.
func NewService(
	store Store,
	policies PolicyDirectory,
	incidents IncidentSource,
	scorer Scorer,
	telemetry TelemetrySource,
	payments PaymentTrigger,
	broadcast Broadcaster,
	rules AutoApprovalRules,
	autoEvaluate bool,
) *Service {
	return &Service{
		store:        store,
		policies:     policies,
		incidents:    incidents,
		scorer:       scorer,
		telemetry:    telemetry,
		payments:     payments,
		broadcast:    broadcast,
		rules:        rules,
		autoEvaluate: autoEvaluate,
		locks:        syncutil.NewContextShardedMutex(),
	}
}

// File creates a new claim against an active policy.
func (s *Service) File(ctx context.Context, req FileRequest) (*Claim, error) {
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("claim amount must be positive")
	}

	policy, err := s.policies.GetPolicy(ctx, req.PolicyID)
	if err != nil {
		return nil, err
	}
	if !policy.Active {
		return nil, ErrPolicyInactive
	}

	if req.IncidentID != "" && s.incidents != nil {
		incident, err := s.incidents.GetIncident(ctx, req.IncidentID)
		if err != nil {
			return nil, err
		}
		if incident.PolicyID != req.PolicyID {
			return nil, ErrIncidentMismatch
		}
	}

	now := time.Now()
	claim := &Claim{
		ID:          generateClaimID(),
		PolicyID:    req.PolicyID,
		IncidentID:  req.IncidentID,
		AmountCents: req.AmountCents,
		Description: req.Description,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	for attempt := 0; attempt < maxNumberAttempts; attempt++ {
		claim.ClaimNumber = formatClaimNumber(now.Year(), randDigits(5))
		err := s.store.Create(ctx, claim)
		if err == nil {
			metrics.ClaimsTotal.WithLabelValues(string(StatusPending)).Inc()
			logging.L(ctx).Info("claim filed",
				"claimId", claim.ID,
				"claimNumber", claim.ClaimNumber,
				"policyId", claim.PolicyID,
				"amountCents", claim.AmountCents,
			)
			if s.broadcast != nil {
				s.broadcast.BroadcastClaimFiled(map[string]interface{}{
					"claimId":     claim.ID,
					"claimNumber": claim.ClaimNumber,
					"policyId":    claim.PolicyID,
					"amountCents": claim.AmountCents,
				})
			}
			if s.autoEvaluate {
				s.dispatchEvaluation(ctx, claim.ID)
			}
			return claim, nil
		}
		if !errors.Is(err, ErrDuplicateClaimNumber) {
			return nil, fmt.Errorf("failed to create claim: %w", err)
		}
	}
	return nil, ErrNumberGenExhausted
}

// dispatchEvaluation evaluates a freshly filed claim in the background. The
// handler's context may be cancelled the moment the response is written, so
// the evaluation runs detached with its own deadline. A failed evaluation
// leaves the claim pending for a retry or an adjuster.
func (s *Service) dispatchEvaluation(ctx context.Context, claimID string) {
	evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), autoEvalTimeout)
	go func() {
		defer cancel()
		if _, err := s.Evaluate(evalCtx, claimID); err != nil {
			logging.L(evalCtx).Warn("automatic evaluation failed",
				"claimId", claimID, "error", err)
		}
	}()
}

// Evaluate scores a pending claim and decides it. Claims clearing the
// auto-approval bar are paid out and end as auto_paid; the rest return to
// pending for an adjuster. A scoring failure also returns the claim to
// pending so evaluation can be retried; a claim is never left in
// evaluating.
func (s *Service) Evaluate(ctx context.Context, id string) (*Claim, error) {
	ctx, span := traces.StartSpan(ctx, "claims.Evaluate", traces.ClaimID(id))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim.IsDecided() {
		return nil, ErrAlreadyDecided
	}
	if claim.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	claim.Status = StatusEvaluating
	claim.UpdatedAt = time.Now()
	if err := s.store.UpdateFrom(ctx, claim, StatusPending); err != nil {
		return nil, err
	}

	estimate, fraud, err := s.score(ctx, claim)
	if err != nil {
		s.revertToPending(ctx, claim)
		return nil, err
	}

	if err := s.store.SetAIEstimate(ctx, claim.ID, estimate.CostCents, estimate.Confidence, time.Now()); err != nil {
		s.revertToPending(ctx, claim)
		return nil, fmt.Errorf("failed to record damage estimate: %w", err)
	}
	riskLevel := scoring.RiskLevel(fraud.Score)
	if err := s.store.SetFraudScore(ctx, claim.ID, fraud.Score, riskLevel, time.Now()); err != nil {
		s.revertToPending(ctx, claim)
		return nil, fmt.Errorf("failed to record fraud score: %w", err)
	}

	claim.AIEstimateCents = &estimate.CostCents
	claim.AIConfidence = &estimate.Confidence
	claim.FraudScore = &fraud.Score
	claim.FraudRiskLevel = riskLevel

	now := time.Now()
	if s.rules.allows(estimate, fraud) {
		claim.Status = StatusAutoPaid
		claim.AutoApproved = true
		claim.ApprovedAmountCents = &estimate.CostCents
		claim.DecidedAt = &now
	} else {
		claim.Status = StatusPending
	}
	claim.UpdatedAt = now

	if err := s.store.UpdateFrom(ctx, claim, StatusEvaluating); err != nil {
		s.revertToPending(ctx, claim)
		return nil, err
	}

	metrics.ClaimsTotal.WithLabelValues(string(claim.Status)).Inc()
	if claim.IsDecided() {
		metrics.ClaimDecisionDuration.Observe(now.Sub(claim.CreatedAt).Seconds())
	}

	logging.L(ctx).Info("claim evaluated",
		"claimId", claim.ID,
		"status", string(claim.Status),
		"estimateCents", estimate.CostCents,
		"confidence", estimate.Confidence,
		"fraudScore", fraud.Score,
		"autoApproved", claim.AutoApproved,
		"model", s.scorer.Model(),
	)

	if claim.AutoApproved {
		metrics.ClaimsAutoApprovedTotal.Inc()
		s.payout(ctx, claim)
	}
	s.broadcastDecision(claim)

	return claim, nil
}

// score runs damage estimation and fraud assessment concurrently.
func (s *Service) score(ctx context.Context, claim *Claim) (*scoring.DamageEstimate, *scoring.FraudAssessment, error) {
	req := scoring.Request{
		ClaimID:          claim.ID,
		PolicyID:         claim.PolicyID,
		ClaimAmountCents: claim.AmountCents,
		Description:      claim.Description,
	}
	if policy, err := s.policies.GetPolicy(ctx, claim.PolicyID); err == nil {
		req.InsuranceType = policy.InsuranceType
	}
	if claim.IncidentID != "" && s.incidents != nil {
		if incident, err := s.incidents.GetIncident(ctx, claim.IncidentID); err == nil {
			req.IncidentType = incident.Type
		}
	}
	if s.telemetry != nil {
		window, err := s.telemetry.RecentWindow(ctx, claim.PolicyID, telemetryWindowSize)
		if err != nil {
			logging.L(ctx).Warn("failed to load telemetry window", "claimId", claim.ID, "error", err)
		} else {
			req.Telemetry = window
		}
	}
	if history, err := s.priorClaims(ctx, claim); err != nil {
		logging.L(ctx).Warn("failed to load claim history", "claimId", claim.ID, "error", err)
	} else {
		req.History = history
	}

	var (
		estimate *scoring.DamageEstimate
		fraud    *scoring.FraudAssessment
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		got, err := s.scorer.EstimateDamage(gctx, req)
		if err != nil {
			return fmt.Errorf("damage estimate: %w", err)
		}
		estimate = got
		return nil
	})
	g.Go(func() error {
		got, err := s.scorer.AssessFraud(gctx, req)
		if err != nil {
			return fmt.Errorf("fraud assessment: %w", err)
		}
		fraud = got
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return estimate, fraud, nil
}

// priorClaims summarizes the policy's earlier claims for the scorer. The
// claim under evaluation is excluded.
func (s *Service) priorClaims(ctx context.Context, claim *Claim) ([]scoring.PriorClaim, error) {
	earlier, err := s.store.ListByPolicy(ctx, claim.PolicyID, "", priorClaimsLimit+1)
	if err != nil {
		return nil, err
	}
	history := make([]scoring.PriorClaim, 0, len(earlier))
	for _, c := range earlier {
		if c.ID == claim.ID {
			continue
		}
		if len(history) == priorClaimsLimit {
			break
		}
		history = append(history, scoring.PriorClaim{
			ClaimNumber: c.ClaimNumber,
			Status:      string(c.Status),
			AmountCents: c.AmountCents,
			FraudScore:  c.FraudScore,
			FiledAt:     c.CreatedAt,
		})
	}
	return history, nil
}

// revertToPending returns an evaluating claim to pending. Failing to revert
// would strand the claim, so that failure is loud.
func (s *Service) revertToPending(ctx context.Context, claim *Claim) {
	fresh, err := s.store.Get(ctx, claim.ID)
	if err != nil {
		log.Printf("CRITICAL: claim %s stuck in evaluating, re-read failed: %v", claim.ID, err)
		return
	}
	if fresh.Status != StatusEvaluating {
		return
	}
	fresh.Status = StatusPending
	fresh.UpdatedAt = time.Now()
	if err := s.store.UpdateFrom(ctx, fresh, StatusEvaluating); err != nil {
		log.Printf("CRITICAL: claim %s stuck in evaluating, revert failed: %v", claim.ID, err)
	}
}

// Review applies an adjuster's decision to a pending claim. The approved
// amount defaults to the AI estimate, then to the claimed amount.
func (s *Service) Review(ctx context.Context, id string, req ReviewRequest) (*Claim, error) {
	if req.Decision != "approve" && req.Decision != "reject" {
		return nil, ErrInvalidDecision
	}

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	claim, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if claim.IsDecided() {
		return nil, ErrAlreadyDecided
	}
	if claim.Status != StatusPending {
		return nil, ErrInvalidStatus
	}

	now := time.Now()
	claim.ReviewerNote = req.Note
	claim.DecidedAt = &now
	claim.UpdatedAt = now

	if req.Decision == "approve" {
		amount := claim.AmountCents
		if claim.AIEstimateCents != nil {
			amount = *claim.AIEstimateCents
		}
		if req.AmountCents != nil {
			amount = *req.AmountCents
		}
		if amount <= 0 {
			return nil, ErrInvalidApprovalAmount
		}
		claim.Status = StatusApproved
		claim.ApprovedAmountCents = &amount
	} else {
		claim.Status = StatusRejected
	}

	if err := s.store.UpdateFrom(ctx, claim, StatusPending); err != nil {
		return nil, err
	}

	metrics.ClaimsTotal.WithLabelValues(string(claim.Status)).Inc()
	metrics.ClaimDecisionDuration.Observe(now.Sub(claim.CreatedAt).Seconds())

	logging.L(ctx).Info("claim reviewed",
		"claimId", claim.ID,
		"decision", req.Decision,
		"status", string(claim.Status),
	)

	if claim.Status == StatusApproved {
		s.payout(ctx, claim)
	}
	s.broadcastDecision(claim)

	return claim, nil
}

// payout triggers the payment for an approved claim. The approval stands
// even if the payout fails; payment retries are the payment service's
// problem, and a failure here must be impossible to miss.
func (s *Service) payout(ctx context.Context, claim *Claim) {
	if s.payments == nil || claim.ApprovedAmountCents == nil {
		return
	}
	ref, err := s.payments.Pay(ctx, claim.ID, claim.PolicyID, *claim.ApprovedAmountCents)
	if err != nil {
		log.Printf("CRITICAL: payout for approved claim %s failed: %v", claim.ID, err)
		return
	}

	now := time.Now()
	claim.PayoutRef = ref
	claim.PaidAt = &now
	if err := s.store.SetPayout(ctx, claim.ID, ref, now); err != nil {
		log.Printf("CRITICAL: payout %s for claim %s not recorded: %v", ref, claim.ID, err)
	}
}

func (s *Service) broadcastDecision(claim *Claim) {
	if s.broadcast == nil || !claim.IsDecided() {
		return
	}
	data := map[string]interface{}{
		"claimId":      claim.ID,
		"claimNumber":  claim.ClaimNumber,
		"policyId":     claim.PolicyID,
		"status":       string(claim.Status),
		"autoApproved": claim.AutoApproved,
	}
	if claim.ApprovedAmountCents != nil {
		data["amountCents"] = *claim.ApprovedAmountCents
	}
	s.broadcast.BroadcastClaimDecision(data)
}

// Get returns a claim by ID.
func (s *Service) Get(ctx context.Context, id string) (*Claim, error) {
	return s.store.Get(ctx, id)
}

// GetByNumber returns a claim by its human-readable number.
func (s *Service) GetByNumber(ctx context.Context, number string) (*Claim, error) {
	return s.store.GetByNumber(ctx, number)
}

// ListByPolicy returns a policy's claims.
func (s *Service) ListByPolicy(ctx context.Context, policyID, status string, limit int) ([]*Claim, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByPolicy(ctx, policyID, status, limit)
}

// randDigits returns a random integer with at most n digits.
func randDigits(n int) int {
	max := 1
	for i := 0; i < n; i++ {
		max *= 10
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	v := binary.LittleEndian.Uint64(b[:])
	return int(v % uint64(max)) //nolint:gosec // max > 0, result < max
}
