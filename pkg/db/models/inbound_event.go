package models

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/billsync/pkg/enums"
)

// InboundEvent is the append-only ledger of provider and synthetic events.
// After insert only the outcome, processing and claim columns change.
type InboundEvent struct {
	ProviderEventID string                    `gorm:"column:provider_event_id;primaryKey"`
	Type            string                    `gorm:"column:type;not null"`
	Payload         json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Sequence        int64                     `gorm:"column:sequence;not null"`
	Source          enums.EventSource         `gorm:"column:source;type:text;not null"`
	ReceivedAt      time.Time                 `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time                `gorm:"column:processed_at"`
	Outcome         enums.InboundEventOutcome `gorm:"column:outcome;type:text;not null;index:idx_inbound_events_due,priority:1"`
	OutcomeDetail   *string                   `gorm:"column:outcome_detail"`
	AttemptCount    int                       `gorm:"column:attempt_count;not null;default:0"`
	NextAttemptAt   time.Time                 `gorm:"column:next_attempt_at;not null;index:idx_inbound_events_due,priority:2"`
	LastError       *string                   `gorm:"column:last_error"`
	ClaimToken      *string                   `gorm:"column:claim_token"`
	ClaimExpiresAt  *time.Time                `gorm:"column:claim_expires_at"`
}
