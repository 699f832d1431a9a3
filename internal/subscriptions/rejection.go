package subscriptions

import (
	"errors"
	"fmt"
)

// Reason classifies why the state machine refused an event.
type Reason string

const (
	// ReasonStale means the event's sequence does not advance the subscription.
	// Not an error for the caller; the event is recorded as ignored.
	ReasonStale             Reason = "stale"
	ReasonUnknownEventType  Reason = "unknown_event_type"
	ReasonInvalidTransition Reason = "invalid_transition"
	ReasonUnknownIntent     Reason = "unknown_intent"
	ReasonMalformed         Reason = "malformed"
)

// Rejection is returned by Decode and Apply. Every rejection is permanent:
// retrying the same event yields the same answer.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// AsRejection extracts a Rejection from err.
func AsRejection(err error) (*Rejection, bool) {
	var rejection *Rejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// IsStale reports whether err is a staleness rejection.
func IsStale(err error) bool {
	r, ok := AsRejection(err)
	return ok && r.Reason == ReasonStale
}
