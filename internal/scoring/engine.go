package scoring

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/smartsure/smartsure/internal/circuitbreaker"
	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/retry"
	"github.com/smartsure/smartsure/internal/traces"
)

const (
	maxAttempts    = 3
	retryBaseDelay = 200 * time.Millisecond
)

// Engine wraps an Invoker with retries, a circuit breaker, response range
// validation, and an audit trail. Every call leaves an audit row, including
// failed ones.
type Engine struct {
	invoker Invoker
	store   Store
	breaker *circuitbreaker.Breaker
}

// NewEngine creates a scoring engine. store may be nil; auditing is then
// skipped. breaker may be nil.
func NewEngine(invoker Invoker, store Store, breaker *circuitbreaker.Breaker) *Engine {
	return &Engine{invoker: invoker, store: store, breaker: breaker}
}

// Model reports which scoring backend the engine runs against.
func (e *Engine) Model() string { return e.invoker.Model() }

// EstimateDamage scores the expected repair cost for a claim.
func (e *Engine) EstimateDamage(ctx context.Context, req Request) (*DamageEstimate, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.EstimateDamage",
		traces.ClaimID(req.ClaimID), traces.Model(e.Model()))
	defer span.End()

	var estimate *DamageEstimate
	err := e.call(ctx, OpEstimateDamage, req, func(c context.Context) error {
		got, err := e.invoker.EstimateDamage(c, req)
		if err != nil {
			return err
		}
		if got.CostCents < 0 || got.Confidence < 0 || got.Confidence > 1 {
			return retry.Permanent(fmt.Errorf("%w: cost=%d confidence=%v",
				ErrInvalidScore, got.CostCents, got.Confidence))
		}
		estimate = got
		return nil
	}, func(res *Result) {
		if estimate != nil {
			res.CostCents = &estimate.CostCents
			res.Confidence = &estimate.Confidence
		}
	})
	if err != nil {
		return nil, err
	}
	return estimate, nil
}

// AssessFraud scores the fraud risk of a claim.
func (e *Engine) AssessFraud(ctx context.Context, req Request) (*FraudAssessment, error) {
	ctx, span := traces.StartSpan(ctx, "scoring.AssessFraud",
		traces.ClaimID(req.ClaimID), traces.Model(e.Model()))
	defer span.End()

	var assessment *FraudAssessment
	err := e.call(ctx, OpAssessFraud, req, func(c context.Context) error {
		got, err := e.invoker.AssessFraud(c, req)
		if err != nil {
			return err
		}
		if got.Score < 0 || got.Score > 1 || got.Confidence < 0 || got.Confidence > 1 {
			return retry.Permanent(fmt.Errorf("%w: score=%v confidence=%v",
				ErrInvalidScore, got.Score, got.Confidence))
		}
		assessment = got
		return nil
	}, func(res *Result) {
		if assessment != nil {
			res.Score = &assessment.Score
			res.Confidence = &assessment.Confidence
			res.Reasons = assessment.Indicators
			res.Recommendation = assessment.Recommendation
		}
	})
	if err != nil {
		return nil, err
	}
	return assessment, nil
}

// call runs one scoring operation through the breaker and retry loop, then
// records metrics and the audit row.
func (e *Engine) call(ctx context.Context, op Operation, req Request, fn func(context.Context) error, fill func(*Result)) error {
	breakerKey := string(op)
	if e.breaker != nil && !e.breaker.Allow(breakerKey) {
		metrics.ScoringCallsTotal.WithLabelValues(e.Model(), "rejected").Inc()
		return fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	start := time.Now()
	err := retry.Do(ctx, maxAttempts, retryBaseDelay, func() error {
		return fn(ctx)
	})
	elapsed := time.Since(start)
	metrics.ScoringDuration.WithLabelValues(e.Model()).Observe(elapsed.Seconds())

	result := &Result{
		ID:        generateResultID(),
		ClaimID:   req.ClaimID,
		Model:     e.Model(),
		Operation: op,
		Success:   err == nil,
		InputRef:  inputRef(req),
		Duration:  elapsed,
		CreatedAt: time.Now(),
	}
	if err == nil {
		fill(result)
		metrics.ScoringCallsTotal.WithLabelValues(e.Model(), "success").Inc()
	} else {
		result.Error = err.Error()
		metrics.ScoringCallsTotal.WithLabelValues(e.Model(), "failure").Inc()
	}

	if e.store != nil {
		if saveErr := e.store.SaveResult(ctx, result); saveErr != nil {
			logging.L(ctx).Error("failed to save scoring audit",
				"claimId", req.ClaimID, "operation", string(op), "error", saveErr)
		}
	}

	if e.breaker != nil {
		if err == nil {
			e.breaker.RecordSuccess(breakerKey)
		} else {
			e.breaker.RecordFailure(breakerKey)
		}
	}

	if err != nil {
		// Out-of-range responses surface as such; everything else collapses
		// into unavailability.
		if errors.Is(err, ErrInvalidScore) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// inputRef fingerprints a scoring request so an audit row can be matched to
// the exact inputs that produced it.
func inputRef(req Request) string {
	raw, err := json.Marshal(req)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}
