package payments

import (
	"context"

	"github.com/smartsure/smartsure/internal/idgen"
)

// SimulatedGateway settles payouts instantly without moving real money.
// Used in development and tests, and as the fallback when no Stripe key
// is configured.
type SimulatedGateway struct{}

// NewSimulatedGateway returns a gateway that always succeeds.
func NewSimulatedGateway() *SimulatedGateway {
	return &SimulatedGateway{}
}

func (g *SimulatedGateway) Name() string { return "simulated" }

// Payout returns a synthetic transaction reference.
func (g *SimulatedGateway) Payout(ctx context.Context, p *Payment) (string, error) {
	return "SIM-" + idgen.Hex(12), nil
}

var _ Gateway = (*SimulatedGateway)(nil)
