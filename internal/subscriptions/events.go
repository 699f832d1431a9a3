package subscriptions

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of events the state machine understands.
type Kind string

const (
	KindCheckoutCompleted   Kind = "checkout.completed"
	KindPaymentFailed       Kind = "invoice.payment_failed"
	KindPaymentSucceeded    Kind = "invoice.payment_succeeded"
	KindSubscriptionUpdated Kind = "subscription.updated"
	KindSubscriptionDeleted Kind = "subscription.deleted"
	// KindResync is synthesized by reconciliation from provider state.
	KindResync Kind = "subscription.resync"
	// KindGraceExpired is synthesized by the scheduler once a past_due grace
	// period elapses.
	KindGraceExpired Kind = "subscription.grace_expired"
)

// providerAliases maps Stripe event names onto the canonical kinds.
var providerAliases = map[string]Kind{
	"checkout.session.completed":    KindCheckoutCompleted,
	"invoice.paid":                  KindPaymentSucceeded,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
}

var knownKinds = map[Kind]struct{}{
	KindCheckoutCompleted:   {},
	KindPaymentFailed:       {},
	KindPaymentSucceeded:    {},
	KindSubscriptionUpdated: {},
	KindSubscriptionDeleted: {},
	KindResync:              {},
	KindGraceExpired:        {},
}

// ParseKind resolves a raw event type, accepting provider aliases.
func ParseKind(eventType string) (Kind, bool) {
	if kind, ok := providerAliases[eventType]; ok {
		return kind, true
	}
	kind := Kind(eventType)
	_, ok := knownKinds[kind]
	return kind, ok
}

// Event is a decoded inbound event ready for Apply.
type Event struct {
	ID                     string
	Kind                   Kind
	Sequence               int64
	ProviderCustomerID     string
	ProviderSubscriptionID string
	Payload                Payload
}

// LockKey is the serialization key; all events of one provider customer are
// applied one at a time.
func (e Event) LockKey() string {
	return "customer:" + e.ProviderCustomerID
}

// Payload is implemented by exactly the variants below.
type Payload interface {
	kind() Kind
}

// CheckoutCompleted reports a finished hosted checkout.
type CheckoutCompleted struct {
	SessionID     string
	IntentID      uuid.UUID
	CustomerID    string
	PlanID        string
	PaymentStatus string
}

// PaymentFailed reports a failed invoice charge.
type PaymentFailed struct {
	InvoiceID    string
	AttemptCount int
}

// PaymentSucceeded reports a paid invoice. Period bounds are set when the
// invoice covers a subscription period.
type PaymentSucceeded struct {
	InvoiceID   string
	PeriodStart *time.Time
	PeriodEnd   *time.Time
}

// ProviderState is the provider's subscription object as of the event.
type ProviderState struct {
	Status            string
	CancelAtPeriodEnd bool
	PeriodStart       *time.Time
	PeriodEnd         *time.Time
}

type SubscriptionUpdated struct {
	State ProviderState
}

type SubscriptionDeleted struct {
	State ProviderState
}

// Resync carries the provider's canonical state fetched by reconciliation.
type Resync struct {
	State ProviderState
}

type GraceExpired struct{}

func (CheckoutCompleted) kind() Kind   { return KindCheckoutCompleted }
func (PaymentFailed) kind() Kind       { return KindPaymentFailed }
func (PaymentSucceeded) kind() Kind    { return KindPaymentSucceeded }
func (SubscriptionUpdated) kind() Kind { return KindSubscriptionUpdated }
func (SubscriptionDeleted) kind() Kind { return KindSubscriptionDeleted }
func (Resync) kind() Kind              { return KindResync }
func (GraceExpired) kind() Kind        { return KindGraceExpired }
