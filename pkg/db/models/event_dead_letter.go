package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// EventDeadLetter captures inbound events that failed terminally, for manual
// inspection.
type EventDeadLetter struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	ProviderEventID string                 `gorm:"column:provider_event_id;not null;index"`
	EventType       string                 `gorm:"column:event_type;not null"`
	Payload         json.RawMessage        `gorm:"column:payload;type:jsonb;not null"`
	Reason          enums.DeadLetterReason `gorm:"column:reason;type:text;not null"`
	ErrorMessage    *string                `gorm:"column:error_message"`
	AttemptCount    int                    `gorm:"column:attempt_count;not null;default:0"`
	FailedAt        time.Time              `gorm:"column:failed_at;not null"`
}
