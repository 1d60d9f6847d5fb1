package payments

import (
	"context"
	"fmt"

	stripe "github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/smartsure/smartsure/internal/retry"
)

// StripeGateway pays claims through Stripe payouts.
type StripeGateway struct {
	sc *client.API
}

// NewStripeGateway builds a gateway from a secret API key.
func NewStripeGateway(apiKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{sc: sc}
}

func (g *StripeGateway) Name() string { return "stripe" }

// Payout creates a Stripe payout for the payment amount. The payment ID
// doubles as the idempotency key so a retried call cannot double-pay.
func (g *StripeGateway) Payout(ctx context.Context, p *Payment) (string, error) {
	params := &stripe.PayoutParams{
		Amount:      stripe.Int64(p.AmountCents),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(fmt.Sprintf("claim %s payout", p.ClaimID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(p.ID)
	params.AddMetadata("claim_id", p.ClaimID)
	params.AddMetadata("policy_id", p.PolicyID)

	payout, err := g.sc.Payouts.New(params)
	if err != nil {
		if stripeErr, ok := err.(*stripe.Error); ok {
			switch stripeErr.Type {
			case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest:
				return "", retry.Permanent(fmt.Errorf("stripe rejected payout: %w", err))
			}
		}
		return "", fmt.Errorf("stripe payout failed: %w", err)
	}
	return payout.ID, nil
}

var _ Gateway = (*StripeGateway)(nil)
