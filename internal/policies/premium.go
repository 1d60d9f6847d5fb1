package policies

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/smartsure/smartsure/internal/logging"
	"github.com/smartsure/smartsure/internal/metrics"
	"github.com/smartsure/smartsure/internal/traces"
)

const (
	// recentWindow is how many trailing readings feed the risk score.
	recentWindow = 10
	// riskyAnomalyThreshold is the anomaly count within recentWindow above
	// which a device raises the risk score.
	riskyAnomalyThreshold = 5
	// behaviorLookback is the window for the behavior score.
	behaviorLookback = 30 * 24 * time.Hour
	// goodBehaviorRate is the anomaly rate below which a device earns a
	// behavior credit.
	goodBehaviorRate = 0.10
)

// PremiumChange describes the outcome of a premium recalculation.
type PremiumChange struct {
	PolicyID        string    `json:"policyId"`
	PolicyNumber    string    `json:"policyNumber"`
	OldPremiumCents int64     `json:"oldPremiumCents"`
	NewPremiumCents int64     `json:"newPremiumCents"`
	RiskScore       float64   `json:"riskScore"`
	BehaviorScore   float64   `json:"behaviorScore"`
	RiskLevel       RiskLevel `json:"riskLevel"`
	RecalculatedAt  time.Time `json:"recalculatedAt"`
}

// RecomputePremium recalculates a policy's premium from device telemetry.
// The new premium always derives from the base premium fixed at creation,
// so recomputing with identical telemetry is idempotent.
func (s *Service) RecomputePremium(ctx context.Context, policyID string) (*PremiumChange, error) {
	ctx, span := traces.StartSpan(ctx, "policies.RecomputePremium", traces.PolicyID(policyID))
	defer span.End()

	policy, err := s.store.Get(ctx, policyID)
	if err != nil {
		return nil, err
	}

	if !policy.DynamicPremium {
		return nil, ErrDynamicPremiumDisabled
	}
	if !policy.IoTEnabled {
		return nil, ErrIoTDisabled
	}
	if !policy.IsActive() {
		return nil, ErrPolicyInactive
	}
	if s.devices == nil || s.telemetry == nil {
		return nil, ErrIoTDisabled
	}

	customer, err := s.store.GetCustomer(ctx, policy.CustomerID)
	if err != nil {
		return nil, err
	}

	deviceIDs, err := s.devices.ListDeviceIDsByPolicy(ctx, policy.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list policy devices: %w", err)
	}

	riskScore, err := s.riskScore(ctx, customer, deviceIDs)
	if err != nil {
		return nil, err
	}
	behaviorScore, err := s.behaviorScore(ctx, deviceIDs)
	if err != nil {
		return nil, err
	}

	// Risk moves the premium up to +-10%, behavior up to +-5%.
	riskFactor := 1 + (riskScore-0.5)*0.2
	behaviorFactor := 1 + (behaviorScore-0.5)*0.1
	newPremium := int64(math.Round(float64(policy.BasePremiumCents) * riskFactor * behaviorFactor))

	level := riskLevelFromScore(riskScore)
	now := time.Now()
	if err := s.store.UpdatePremium(ctx, policy.ID, newPremium, level, now); err != nil {
		return nil, fmt.Errorf("failed to update premium: %w", err)
	}

	direction := "unchanged"
	switch {
	case newPremium > policy.PremiumCents:
		direction = "up"
	case newPremium < policy.PremiumCents:
		direction = "down"
	}
	metrics.PremiumRecalcsTotal.WithLabelValues(direction).Inc()

	if s.broadcast != nil {
		s.broadcast.BroadcastPremiumUpdate(map[string]interface{}{
			"policyId":        policy.ID,
			"policyNumber":    policy.PolicyNumber,
			"oldPremiumCents": policy.PremiumCents,
			"newPremiumCents": newPremium,
			"riskLevel":       string(level),
		})
	}

	logging.L(ctx).Info("premium recalculated",
		"policyId", policy.ID,
		"policyNumber", policy.PolicyNumber,
		"oldPremiumCents", policy.PremiumCents,
		"newPremiumCents", newPremium,
		"riskScore", riskScore,
		"behaviorScore", behaviorScore,
		"riskLevel", string(level),
	)

	return &PremiumChange{
		PolicyID:        policy.ID,
		PolicyNumber:    policy.PolicyNumber,
		OldPremiumCents: policy.PremiumCents,
		NewPremiumCents: newPremium,
		RiskScore:       riskScore,
		BehaviorScore:   behaviorScore,
		RiskLevel:       level,
		RecalculatedAt:  now,
	}, nil
}

// riskScore derives a [0,1] risk score from the customer's underwriting
// profile plus a surcharge per device with frequent recent anomalies.
func (s *Service) riskScore(ctx context.Context, customer *Customer, deviceIDs []string) (float64, error) {
	score := profileBaseScore(customer.RiskProfile)

	for _, deviceID := range deviceIDs {
		count, err := s.telemetry.RecentAnomalyCount(ctx, deviceID, recentWindow)
		if err != nil {
			return 0, fmt.Errorf("failed to count recent anomalies for device %s: %w", deviceID, err)
		}
		if count > riskyAnomalyThreshold {
			score += 0.1
		}
	}

	return clamp01(score), nil
}

// behaviorScore derives a [0,1] behavior score. Devices with a low trailing
// anomaly rate earn a credit; devices without readings are neutral.
func (s *Service) behaviorScore(ctx context.Context, deviceIDs []string) (float64, error) {
	score := 0.5
	since := time.Now().Add(-behaviorLookback)

	for _, deviceID := range deviceIDs {
		rate, readings, err := s.telemetry.AnomalyRate(ctx, deviceID, since)
		if err != nil {
			return 0, fmt.Errorf("failed to compute anomaly rate for device %s: %w", deviceID, err)
		}
		if readings > 0 && rate < goodBehaviorRate {
			score += 0.1
		}
	}

	return clamp01(score), nil
}

func profileBaseScore(profile RiskLevel) float64 {
	switch profile {
	case RiskCritical:
		return 0.8
	case RiskHigh:
		return 0.6
	case RiskMedium:
		return 0.4
	default:
		return 0.2
	}
}

// riskLevelFromScore buckets a risk score with the same cut points used for
// fraud risk levels.
func riskLevelFromScore(score float64) RiskLevel {
	switch {
	case score >= 0.70:
		return RiskCritical
	case score >= 0.50:
		return RiskHigh
	case score >= 0.30:
		return RiskMedium
	default:
		return RiskLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
