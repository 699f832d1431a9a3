package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// InboundEventDelivery records every accepted webhook delivery, including
// redeliveries of an event already in the ledger.
type InboundEventDelivery struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	ProviderEventID string               `gorm:"column:provider_event_id;not null;index"`
	Result          enums.DeliveryResult `gorm:"column:result;type:text;not null"`
	ReceivedAt      time.Time            `gorm:"column:received_at;not null"`
}
