package processing

import (
	"encoding/json"

	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

// SyntheticEvent builds a ledger row for an event billsync generates itself.
func SyntheticEvent(id string, kind subscriptions.Kind, sequence int64, payload json.RawMessage, source enums.EventSource) *models.InboundEvent {
	return &models.InboundEvent{
		ProviderEventID: id,
		Type:            string(kind),
		Payload:         payload,
		Sequence:        sequence,
		Source:          source,
	}
}
