package reconcile

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/subscription"
)

// Snapshot is the provider's current view of one subscription.
type Snapshot struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
}

// Provider reads authoritative subscription state. A subscription the provider
// no longer knows returns a canceled snapshot.
type Provider interface {
	Fetch(ctx context.Context, providerSubscriptionID string) (*Snapshot, error)
}

// StripeProvider fetches subscriptions with stripe-go.
type StripeProvider struct {
	timeout time.Duration
	get     func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewStripeProvider relies on the package-level key set by pkg/stripe.NewClient.
func NewStripeProvider(timeout time.Duration) *StripeProvider {
	return &StripeProvider{timeout: timeout, get: subscription.Get}
}

func (p *StripeProvider) Fetch(ctx context.Context, providerSubscriptionID string) (*Snapshot, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := p.get(providerSubscriptionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) &&
			(stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound) {
			return &Snapshot{ID: providerSubscriptionID, Status: string(stripe.SubscriptionStatusCanceled)}, nil
		}
		return nil, err
	}
	return snapshotFromStripe(sub), nil
}

func snapshotFromStripe(sub *stripe.Subscription) *Snapshot {
	snap := &Snapshot{
		ID:                sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		snap.PeriodStart = unixTime(item.CurrentPeriodStart)
		snap.PeriodEnd = unixTime(item.CurrentPeriodEnd)
	}
	return snap
}

func unixTime(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
