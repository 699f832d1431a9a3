package customers

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/customer"
)

// Provider creates the provider-side customer record.
type Provider interface {
	CreateCustomer(ctx context.Context, input ProviderInput) (string, error)
}

// ProviderInput is what the provider needs to open a customer.
type ProviderInput struct {
	CustomerID string
	Email      string
}

// StripeProvider creates customers through the Stripe API.
type StripeProvider struct {
	timeout time.Duration
	create  func(*stripe.CustomerParams) (*stripe.Customer, error)
}

// NewStripeProvider uses the package-level Stripe key configured by
// pkg/stripe.NewClient.
func NewStripeProvider(timeout time.Duration) *StripeProvider {
	return &StripeProvider{timeout: timeout, create: customer.New}
}

// CreateCustomer is safe to repeat: the idempotency key pins one provider
// customer per local customer id.
func (p *StripeProvider) CreateCustomer(ctx context.Context, input ProviderInput) (string, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	params := &stripe.CustomerParams{}
	params.Context = ctx
	params.SetIdempotencyKey("customer:" + input.CustomerID)
	params.AddMetadata("customer_id", input.CustomerID)
	if input.Email != "" {
		params.Email = stripe.String(input.Email)
	}
	created, err := p.create(params)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}
