package checkout

import (
	"context"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
)

// Stripe accepts hosted session expiry between 30 minutes and 24 hours out.
const (
	minSessionLifetime = 30 * time.Minute
	maxSessionLifetime = 23*time.Hour + 55*time.Minute
)

// SessionInput describes one hosted checkout session.
type SessionInput struct {
	IntentID           string
	IdempotencyKey     string
	CustomerID         string
	PlanID             string
	ProviderCustomerID string
	ProviderPriceID    string
	ExpiresAt          time.Time
}

// Session is the provider's answer.
type Session struct {
	ID  string
	URL string
}

// SessionProvider opens hosted checkout sessions.
type SessionProvider interface {
	CreateSession(ctx context.Context, input SessionInput) (*Session, error)
}

// StripeSessions creates subscription-mode Stripe Checkout sessions.
type StripeSessions struct {
	successURL string
	cancelURL  string
	timeout    time.Duration
	now        func() time.Time
	create     func(*stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// NewStripeSessions uses the package-level Stripe key set by pkg/stripe.
func NewStripeSessions(successURL, cancelURL string, timeout time.Duration) *StripeSessions {
	return &StripeSessions{
		successURL: successURL,
		cancelURL:  cancelURL,
		timeout:    timeout,
		now:        time.Now,
		create:     session.New,
	}
}

func (s *StripeSessions) CreateSession(ctx context.Context, input SessionInput) (*Session, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	metadata := map[string]string{
		"intent_id":   input.IntentID,
		"customer_id": input.CustomerID,
		"plan_id":     input.PlanID,
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(input.ProviderCustomerID),
		ClientReferenceID: stripe.String(input.IntentID),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(input.ProviderPriceID), Quantity: stripe.Int64(1)},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{Metadata: metadata},
	}
	params.Context = ctx
	params.Metadata = metadata
	params.SetIdempotencyKey(input.IdempotencyKey)
	if expiresAt, ok := s.sessionExpiry(input.ExpiresAt); ok {
		params.ExpiresAt = stripe.Int64(expiresAt.Unix())
	}

	created, err := s.create(params)
	if err != nil {
		return nil, err
	}
	return &Session{ID: created.ID, URL: created.URL}, nil
}

// sessionExpiry clamps the intent expiry into the window Stripe allows. A
// window shorter than the minimum leaves the provider default in place.
func (s *StripeSessions) sessionExpiry(intentExpiry time.Time) (time.Time, bool) {
	if intentExpiry.IsZero() {
		return time.Time{}, false
	}
	now := s.now()
	lifetime := intentExpiry.Sub(now)
	if lifetime < minSessionLifetime {
		return time.Time{}, false
	}
	if lifetime > maxSessionLifetime {
		return now.Add(maxSessionLifetime), true
	}
	return intentExpiry, true
}
