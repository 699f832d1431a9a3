package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// SubscriptionTransition is the audit row written with every applied
// transition.
type SubscriptionTransition struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	SubscriptionID  uuid.UUID                `gorm:"column:subscription_id;type:uuid;not null;index"`
	ProviderEventID string                   `gorm:"column:provider_event_id;not null;uniqueIndex"`
	EventType       string                   `gorm:"column:event_type;not null"`
	Source          enums.EventSource        `gorm:"column:source;type:text;not null"`
	FromStatus      *string                  `gorm:"column:from_status"`
	ToStatus        enums.SubscriptionStatus `gorm:"column:to_status;type:text;not null"`
	Sequence        int64                    `gorm:"column:sequence;not null"`
	Before          json.RawMessage          `gorm:"column:before_state;type:jsonb"`
	After           json.RawMessage          `gorm:"column:after_state;type:jsonb;not null"`
	Effects         json.RawMessage          `gorm:"column:effects;type:jsonb"`
	CreatedAt       time.Time                `gorm:"column:created_at;not null"`
}
