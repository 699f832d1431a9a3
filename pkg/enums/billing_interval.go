package enums

import (
	"fmt"
	"strings"
	"time"
)

// BillingInterval is a plan's renewal cadence, using the provider's
// recurring.interval values.
type BillingInterval string

const (
	BillingIntervalDaily   BillingInterval = "day"
	BillingIntervalWeekly  BillingInterval = "week"
	BillingIntervalMonthly BillingInterval = "month"
	BillingIntervalAnnual  BillingInterval = "year"
)

func (b BillingInterval) String() string {
	return string(b)
}

func (b BillingInterval) IsValid() bool {
	switch b {
	case BillingIntervalDaily, BillingIntervalWeekly, BillingIntervalMonthly, BillingIntervalAnnual:
		return true
	}
	return false
}

// Advance returns t moved forward by one interval. Unknown values advance by
// a month, matching the most common plan cadence.
func (b BillingInterval) Advance(t time.Time) time.Time {
	switch b {
	case BillingIntervalDaily:
		return t.AddDate(0, 0, 1)
	case BillingIntervalWeekly:
		return t.AddDate(0, 0, 7)
	case BillingIntervalAnnual:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 1, 0)
	}
}

// ParseBillingInterval accepts the provider value in any case.
func ParseBillingInterval(value string) (BillingInterval, error) {
	b := BillingInterval(strings.ToLower(strings.TrimSpace(value)))
	if !b.IsValid() {
		return "", fmt.Errorf("invalid billing interval %q", value)
	}
	return b, nil
}
