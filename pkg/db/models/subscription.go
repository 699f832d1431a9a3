package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// Subscription is the locally derived subscription state. Rows are never
// deleted; cancellation is terminal.
type Subscription struct {
	ID                     uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID             string                   `gorm:"column:customer_id;not null;index;uniqueIndex:idx_subscriptions_live_family,where:status <> 'canceled'"`
	PlanID                 string                   `gorm:"column:plan_id;not null"`
	PlanFamily             string                   `gorm:"column:plan_family;not null;uniqueIndex:idx_subscriptions_live_family,where:status <> 'canceled'"`
	Status                 enums.SubscriptionStatus `gorm:"column:status;type:text;not null"`
	CurrentPeriodStart     *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd       *time.Time               `gorm:"column:current_period_end"`
	CancelAtPeriodEnd      bool                     `gorm:"column:cancel_at_period_end;not null;default:false"`
	ProviderSubscriptionID string                   `gorm:"column:provider_subscription_id;not null;uniqueIndex"`
	ProviderCustomerID     string                   `gorm:"column:provider_customer_id;not null"`
	LastAppliedSequence    int64                    `gorm:"column:last_applied_sequence;not null;default:0"`
	PaymentFailureCount    int                      `gorm:"column:payment_failure_count;not null;default:0"`
	GracePeriodEndsAt      *time.Time               `gorm:"column:grace_period_ends_at"`
	CanceledAt             *time.Time               `gorm:"column:canceled_at"`
	ReconciledAt           *time.Time               `gorm:"column:reconciled_at"`
	CreatedAt              time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
