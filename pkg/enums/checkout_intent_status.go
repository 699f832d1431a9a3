package enums

import "fmt"

// CheckoutIntentStatus tracks a checkout intent from creation to resolution.
type CheckoutIntentStatus string

const (
	CheckoutIntentStatusPending   CheckoutIntentStatus = "pending"
	CheckoutIntentStatusCompleted CheckoutIntentStatus = "completed"
	CheckoutIntentStatusExpired   CheckoutIntentStatus = "expired"
)

var validCheckoutIntentStatuss = []CheckoutIntentStatus{
	CheckoutIntentStatusPending,
	CheckoutIntentStatusCompleted,
	CheckoutIntentStatusExpired,
}

// String implements fmt.Stringer.
func (v CheckoutIntentStatus) String() string {
	return string(v)
}

// IsValid reports whether the value is known.
func (v CheckoutIntentStatus) IsValid() bool {
	for _, candidate := range validCheckoutIntentStatuss {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseCheckoutIntentStatus converts raw input into a CheckoutIntentStatus.
func ParseCheckoutIntentStatus(value string) (CheckoutIntentStatus, error) {
	for _, candidate := range validCheckoutIntentStatuss {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid checkout intent status %q", value)
}
