package scoring

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// Simulator produces plausible scoring results without a backend. Damage
// estimates land within 20% of the claimed amount; fraud scores stay in the
// benign half of the range.
type Simulator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator with a random seed.
func NewSimulator(seed int64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewSource(seed))}
}

func (s *Simulator) Model() string { return "simulator" }

func (s *Simulator) EstimateDamage(ctx context.Context, req Request) (*DamageEstimate, error) {
	s.mu.Lock()
	factor := 0.8 + s.rng.Float64()*0.4
	confidence := 0.85 + s.rng.Float64()*0.10
	s.mu.Unlock()

	return &DamageEstimate{
		CostCents:  int64(math.Round(float64(req.ClaimAmountCents) * factor)),
		Confidence: confidence,
		Notes:      fmt.Sprintf("simulated estimate for %s claim", req.InsuranceType),
	}, nil
}

func (s *Simulator) AssessFraud(ctx context.Context, req Request) (*FraudAssessment, error) {
	s.mu.Lock()
	score := s.rng.Float64() * 0.5
	confidence := 0.75 + s.rng.Float64()*0.20
	s.mu.Unlock()

	var indicators []string
	if len(req.History) >= 3 {
		indicators = append(indicators, "frequent_claims")
	}

	recommendation := "review"
	if score < 0.3 {
		recommendation = "approve"
	}
	return &FraudAssessment{
		Score:          score,
		Confidence:     confidence,
		Indicators:     indicators,
		Recommendation: recommendation,
	}, nil
}

var _ Invoker = (*Simulator)(nil)
