package processing

import (
	"context"
	"errors"

	"github.com/angelmondragon/billsync/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/locks"
)

// Outcome is what one Process call did with an event.
type Outcome string

const (
	OutcomeApplied          Outcome = "applied"
	OutcomeIgnoredStale     Outcome = "ignored_stale"
	OutcomeIgnoredDuplicate Outcome = "ignored_duplicate"
	OutcomeFailed           Outcome = "failed"
	// OutcomeRetry leaves the event pending behind a backoff.
	OutcomeRetry Outcome = "retry_scheduled"
	// OutcomeInterrupted leaves the event pending and immediately due; the
	// attempt does not count.
	OutcomeInterrupted Outcome = "interrupted"
)

func (o Outcome) String() string {
	return string(o)
}

// IsTransient reports whether retrying err later may succeed. State machine
// rejections never are; typed errors follow their code metadata; lock
// timeouts, deadlines and untyped storage errors are.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := subscriptions.AsRejection(err); ok {
		return false
	}
	if errors.Is(err, locks.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pkgerrors.IsRetryable(err)
}
