package subscriptions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// objectRef accepts either a bare provider id or an expanded {"id": ...} object.
type objectRef string

func (r *objectRef) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*r = ""
		return nil
	}
	if len(data) > 0 && data[0] == '{' {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return err
		}
		*r = objectRef(obj.ID)
		return nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	*r = objectRef(id)
	return nil
}

type eventData struct {
	Object json.RawMessage `json:"object"`
}

type sessionObject struct {
	ID                string            `json:"id" validate:"required"`
	Customer          objectRef         `json:"customer" validate:"required"`
	Subscription      objectRef         `json:"subscription" validate:"required"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	Metadata          map[string]string `json:"metadata"`
}

type period struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

type invoiceObject struct {
	ID           string    `json:"id" validate:"required"`
	Customer     objectRef `json:"customer" validate:"required"`
	Subscription objectRef `json:"subscription" validate:"required"`
	AttemptCount int       `json:"attempt_count"`
	PeriodStart  int64     `json:"period_start"`
	PeriodEnd    int64     `json:"period_end"`
	Lines        struct {
		Data []struct {
			Period period `json:"period"`
		} `json:"data"`
	} `json:"lines"`
}

type subscriptionObject struct {
	ID                 string    `json:"id" validate:"required"`
	Customer           objectRef `json:"customer" validate:"required"`
	Status             string    `json:"status" validate:"required"`
	CancelAtPeriodEnd  bool      `json:"cancel_at_period_end"`
	CurrentPeriodStart int64     `json:"current_period_start"`
	CurrentPeriodEnd   int64     `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

type graceObject struct {
	Subscription objectRef `json:"subscription" validate:"required"`
	Customer     objectRef `json:"customer" validate:"required"`
}

// Decode turns a ledger row into a typed Event. Unrecognized types reject with
// UnknownEventType and structural problems with Malformed.
func Decode(providerEventID, eventType string, data json.RawMessage, sequence int64) (Event, error) {
	kind, ok := ParseKind(eventType)
	if !ok {
		return Event{}, reject(ReasonUnknownEventType, "event type %q is not handled", eventType)
	}
	var wrapper eventData
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return Event{}, reject(ReasonMalformed, "decode data: %v", err)
	}
	if len(bytes.TrimSpace(wrapper.Object)) == 0 {
		return Event{}, reject(ReasonMalformed, "data.object is required")
	}

	event := Event{ID: providerEventID, Kind: kind, Sequence: sequence}
	switch kind {
	case KindCheckoutCompleted:
		var obj sessionObject
		if err := decodeObject(wrapper.Object, &obj); err != nil {
			return Event{}, err
		}
		intentRaw := obj.ClientReferenceID
		if intentRaw == "" {
			intentRaw = obj.Metadata["intent_id"]
		}
		intentID, err := uuid.Parse(intentRaw)
		if err != nil {
			return Event{}, reject(ReasonMalformed, "checkout session %s has no valid intent reference", obj.ID)
		}
		event.ProviderCustomerID = string(obj.Customer)
		event.ProviderSubscriptionID = string(obj.Subscription)
		event.Payload = CheckoutCompleted{
			SessionID:     obj.ID,
			IntentID:      intentID,
			CustomerID:    obj.Metadata["customer_id"],
			PlanID:        obj.Metadata["plan_id"],
			PaymentStatus: obj.PaymentStatus,
		}
	case KindPaymentFailed, KindPaymentSucceeded:
		var obj invoiceObject
		if err := decodeObject(wrapper.Object, &obj); err != nil {
			return Event{}, err
		}
		event.ProviderCustomerID = string(obj.Customer)
		event.ProviderSubscriptionID = string(obj.Subscription)
		if kind == KindPaymentFailed {
			event.Payload = PaymentFailed{InvoiceID: obj.ID, AttemptCount: obj.AttemptCount}
		} else {
			start, end := obj.PeriodStart, obj.PeriodEnd
			if len(obj.Lines.Data) > 0 && obj.Lines.Data[0].Period.End > 0 {
				start, end = obj.Lines.Data[0].Period.Start, obj.Lines.Data[0].Period.End
			}
			event.Payload = PaymentSucceeded{InvoiceID: obj.ID, PeriodStart: unixPtr(start), PeriodEnd: unixPtr(end)}
		}
	case KindSubscriptionUpdated, KindSubscriptionDeleted, KindResync:
		var obj subscriptionObject
		if err := decodeObject(wrapper.Object, &obj); err != nil {
			return Event{}, err
		}
		event.ProviderCustomerID = string(obj.Customer)
		event.ProviderSubscriptionID = obj.ID
		state := providerState(obj)
		switch kind {
		case KindSubscriptionUpdated:
			event.Payload = SubscriptionUpdated{State: state}
		case KindSubscriptionDeleted:
			event.Payload = SubscriptionDeleted{State: state}
		default:
			event.Payload = Resync{State: state}
		}
	case KindGraceExpired:
		var obj graceObject
		if err := decodeObject(wrapper.Object, &obj); err != nil {
			return Event{}, err
		}
		event.ProviderCustomerID = string(obj.Customer)
		event.ProviderSubscriptionID = string(obj.Subscription)
		event.Payload = GraceExpired{}
	}
	return event, nil
}

func decodeObject(raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return reject(ReasonMalformed, "decode object: %v", err)
	}
	if err := validate.Struct(dest); err != nil {
		return reject(ReasonMalformed, "invalid object: %v", err)
	}
	return nil
}

func providerState(obj subscriptionObject) ProviderState {
	start, end := obj.CurrentPeriodStart, obj.CurrentPeriodEnd
	if len(obj.Items.Data) > 0 && obj.Items.Data[0].CurrentPeriodEnd > 0 {
		start, end = obj.Items.Data[0].CurrentPeriodStart, obj.Items.Data[0].CurrentPeriodEnd
	}
	return ProviderState{
		Status:            obj.Status,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
		PeriodStart:       unixPtr(start),
		PeriodEnd:         unixPtr(end),
	}
}

func unixPtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

// SyntheticObject builds the data payload for a synthetic event so that it
// decodes through the same path as provider events.
func SyntheticObject(object any) (json.RawMessage, error) {
	raw, err := json.Marshal(map[string]any{"object": object})
	if err != nil {
		return nil, fmt.Errorf("marshal synthetic event: %w", err)
	}
	return raw, nil
}
