package enums

import "fmt"

// SubscriptionStatus is the locally derived subscription state.
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "pending"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid   SubscriptionStatus = "unpaid"
)

func (s SubscriptionStatus) String() string {
	return string(s)
}

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionStatusPending,
		SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusCanceled,
		SubscriptionStatusUnpaid:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusCanceled
}

// IsDelinquent reports whether the subscription is behind on payment.
func (s SubscriptionStatus) IsDelinquent() bool {
	return s == SubscriptionStatusPastDue || s == SubscriptionStatusUnpaid
}

func ParseSubscriptionStatus(value string) (SubscriptionStatus, error) {
	if s := SubscriptionStatus(value); s.IsValid() {
		return s, nil
	}
	return "", fmt.Errorf("invalid subscription status %q", value)
}
