package subscriptions

import (
	"strings"
	"time"

	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

// MapProviderStatus converts a Stripe subscription status to the local
// status. ok is false for statuses with no local meaning (paused or unknown).
func MapProviderStatus(status string) (enums.SubscriptionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active":
		return enums.SubscriptionStatusActive, true
	case "trialing":
		return enums.SubscriptionStatusTrialing, true
	case "past_due":
		return enums.SubscriptionStatusPastDue, true
	case "unpaid":
		return enums.SubscriptionStatusUnpaid, true
	case "canceled":
		return enums.SubscriptionStatusCanceled, true
	case "incomplete":
		return enums.SubscriptionStatusPending, true
	case "incomplete_expired":
		return enums.SubscriptionStatusCanceled, true
	default:
		return "", false
	}
}

// IsLive reports whether status occupies the customer's plan family slot.
func IsLive(status enums.SubscriptionStatus) bool {
	return status != enums.SubscriptionStatusCanceled
}

// IsEntitled reports whether the subscription currently grants access. A
// past_due subscription keeps access until its grace period ends.
func IsEntitled(sub *models.Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
		return true
	case enums.SubscriptionStatusPastDue:
		return sub.GracePeriodEndsAt != nil && now.Before(*sub.GracePeriodEndsAt)
	default:
		return false
	}
}
