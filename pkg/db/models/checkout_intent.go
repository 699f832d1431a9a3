package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// CheckoutIntent is created before redirecting a customer to hosted checkout
// and resolved by the matching completion event.
type CheckoutIntent struct {
	IdempotencyKey    string                     `gorm:"column:idempotency_key;primaryKey"`
	IntentID          uuid.UUID                  `gorm:"column:intent_id;type:uuid;not null;uniqueIndex"`
	CustomerID        string                     `gorm:"column:customer_id;not null;index"`
	PlanID            string                     `gorm:"column:plan_id;not null"`
	Status            enums.CheckoutIntentStatus `gorm:"column:status;type:text;not null"`
	ProviderSessionID *string                    `gorm:"column:provider_session_id"`
	CheckoutURL       *string                    `gorm:"column:checkout_url"`
	CreatedAt         time.Time                  `gorm:"column:created_at;not null"`
	ExpiresAt         time.Time                  `gorm:"column:expires_at;not null"`
	CompletedAt       *time.Time                 `gorm:"column:completed_at"`
}
