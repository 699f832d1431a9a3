// Package subscriptions holds the subscription state machine, the only code
// allowed to derive a new subscription state, plus the status read service.
package subscriptions

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

// Effect names a side effect of a transition. Field-level effects are already
// reflected in Transition.Next; CompleteIntent must be executed by the caller
// in the same unit of work.
type Effect string

const (
	EffectCompleteIntent    Effect = "complete_intent"
	EffectStartGracePeriod  Effect = "start_grace_period"
	EffectIncrementFailures Effect = "increment_failures"
	EffectClearFailures     Effect = "clear_failures"
	EffectRenewPeriod       Effect = "renew_period"
	EffectMarkUnpaid        Effect = "mark_unpaid"
	EffectCancel            Effect = "cancel"
)

const checkoutPaymentUnpaid = "unpaid"

// Facts is the read-only context Apply needs beyond the subscription itself.
type Facts struct {
	Now    time.Time
	Plan   *models.Plan
	Intent *models.CheckoutIntent
}

// Transition is an accepted state change. From is nil when the event creates
// a new subscription.
type Transition struct {
	From    *models.Subscription
	Next    *models.Subscription
	Effects []Effect
}

// Created reports whether the transition inserts a new subscription.
func (t *Transition) Created() bool {
	return t.From == nil
}

func (t *Transition) has(effect Effect) bool {
	for _, e := range t.Effects {
		if e == effect {
			return true
		}
	}
	return false
}

// CompletesIntent reports whether the caller must complete the checkout intent.
func (t *Transition) CompletesIntent() bool {
	return t.has(EffectCompleteIntent)
}

// Machine applies events to subscriptions. It holds configuration only and
// is safe for concurrent use.
type Machine struct {
	gracePeriod time.Duration
	maxFailures int
}

// NewMachine configures the grace period started by a first payment failure
// and the failure count that moves past_due to unpaid (0 disables it).
func NewMachine(gracePeriod time.Duration, maxFailures int) Machine {
	return Machine{gracePeriod: gracePeriod, maxFailures: maxFailures}
}

// Apply returns the transition for event given the current subscription, or
// a *Rejection. current is nil when no local subscription matches. Apply
// never mutates current.
func (m Machine) Apply(current *models.Subscription, event Event, facts Facts) (*Transition, error) {
	if event.Payload == nil {
		return nil, reject(ReasonMalformed, "event %s has no payload", event.ID)
	}
	if facts.Now.IsZero() {
		facts.Now = time.Now().UTC()
	}
	if p, ok := event.Payload.(CheckoutCompleted); ok {
		return m.applyCheckout(current, event, p, facts)
	}

	if current == nil {
		return nil, reject(ReasonInvalidTransition, "no local subscription for %s", event.ProviderSubscriptionID)
	}
	if event.Sequence <= current.LastAppliedSequence {
		return nil, reject(ReasonStale, "sequence %d <= last applied %d", event.Sequence, current.LastAppliedSequence)
	}
	if current.Status == enums.SubscriptionStatusCanceled {
		return nil, reject(ReasonInvalidTransition, "%s on canceled subscription", event.Kind)
	}

	now := facts.Now
	next := clone(current)
	var effects []Effect

	switch p := event.Payload.(type) {
	case PaymentFailed:
		switch current.Status {
		case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
			graceEnds := now.Add(m.gracePeriod)
			next.Status = enums.SubscriptionStatusPastDue
			next.PaymentFailureCount = 1
			next.GracePeriodEndsAt = &graceEnds
			effects = append(effects, EffectStartGracePeriod, EffectIncrementFailures)
		case enums.SubscriptionStatusPastDue:
			next.PaymentFailureCount++
			effects = append(effects, EffectIncrementFailures)
			if m.maxFailures > 0 && next.PaymentFailureCount >= m.maxFailures {
				next.Status = enums.SubscriptionStatusUnpaid
				effects = append(effects, EffectMarkUnpaid)
			}
		case enums.SubscriptionStatusUnpaid:
			next.PaymentFailureCount++
			effects = append(effects, EffectIncrementFailures)
		default:
			return nil, invalid(event, current)
		}

	case PaymentSucceeded:
		next.Status = enums.SubscriptionStatusActive
		if current.PaymentFailureCount > 0 || current.GracePeriodEndsAt != nil {
			effects = append(effects, EffectClearFailures)
		}
		next.PaymentFailureCount = 0
		next.GracePeriodEndsAt = nil
		if p.PeriodEnd != nil {
			next.CurrentPeriodStart = p.PeriodStart
			next.CurrentPeriodEnd = p.PeriodEnd
			effects = append(effects, EffectRenewPeriod)
		}

	case SubscriptionUpdated:
		applyProviderFields(next, p.State)
		if status, ok := MapProviderStatus(p.State.Status); ok && status == enums.SubscriptionStatusActive {
			switch current.Status {
			case enums.SubscriptionStatusPending, enums.SubscriptionStatusTrialing:
				next.Status = enums.SubscriptionStatusActive
			}
		}

	case SubscriptionDeleted:
		applyProviderFields(next, p.State)
		cancel(next, now)
		effects = append(effects, EffectCancel)

	case GraceExpired:
		if current.Status != enums.SubscriptionStatusPastDue || current.GracePeriodEndsAt == nil || now.Before(*current.GracePeriodEndsAt) {
			return nil, invalid(event, current)
		}
		cancel(next, now)
		effects = append(effects, EffectCancel)

	case Resync:
		status, ok := MapProviderStatus(p.State.Status)
		if !ok {
			return nil, reject(ReasonInvalidTransition, "provider status %q has no local mapping", p.State.Status)
		}
		applyProviderFields(next, p.State)
		next.Status = status
		switch status {
		case enums.SubscriptionStatusCanceled:
			cancel(next, now)
			effects = append(effects, EffectCancel)
		case enums.SubscriptionStatusActive, enums.SubscriptionStatusTrialing:
			if current.PaymentFailureCount > 0 || current.GracePeriodEndsAt != nil {
				effects = append(effects, EffectClearFailures)
			}
			next.PaymentFailureCount = 0
			next.GracePeriodEndsAt = nil
		case enums.SubscriptionStatusPastDue:
			if current.Status != enums.SubscriptionStatusPastDue {
				graceEnds := now.Add(m.gracePeriod)
				next.GracePeriodEndsAt = &graceEnds
				if next.PaymentFailureCount == 0 {
					next.PaymentFailureCount = 1
				}
				effects = append(effects, EffectStartGracePeriod)
			}
		}

	default:
		return nil, reject(ReasonUnknownEventType, "event kind %s", event.Kind)
	}

	next.LastAppliedSequence = event.Sequence
	next.UpdatedAt = now
	return &Transition{From: clone(current), Next: next, Effects: effects}, nil
}

func (m Machine) applyCheckout(current *models.Subscription, event Event, p CheckoutCompleted, facts Facts) (*Transition, error) {
	if current != nil && current.ProviderSubscriptionID == event.ProviderSubscriptionID {
		if event.Sequence <= current.LastAppliedSequence {
			return nil, reject(ReasonStale, "sequence %d <= last applied %d", event.Sequence, current.LastAppliedSequence)
		}
		return nil, reject(ReasonInvalidTransition, "subscription %s already exists", event.ProviderSubscriptionID)
	}

	intent := facts.Intent
	if intent == nil || intent.IntentID != p.IntentID {
		return nil, reject(ReasonUnknownIntent, "no checkout intent %s", p.IntentID)
	}
	switch intent.Status {
	case enums.CheckoutIntentStatusExpired:
		return nil, reject(ReasonUnknownIntent, "checkout intent %s expired", intent.IntentID)
	case enums.CheckoutIntentStatusCompleted:
		return nil, reject(ReasonInvalidTransition, "checkout intent %s already completed", intent.IntentID)
	}
	if facts.Now.After(intent.ExpiresAt) {
		return nil, reject(ReasonUnknownIntent, "checkout intent %s expired at %s", intent.IntentID, intent.ExpiresAt.Format(time.RFC3339))
	}
	if (p.CustomerID != "" && p.CustomerID != intent.CustomerID) || (p.PlanID != "" && p.PlanID != intent.PlanID) {
		return nil, reject(ReasonInvalidTransition, "checkout session %s does not match intent %s", p.SessionID, intent.IntentID)
	}

	plan := facts.Plan
	if plan == nil || plan.ID != intent.PlanID {
		return nil, reject(ReasonInvalidTransition, "plan %s not found", intent.PlanID)
	}
	if current != nil && IsLive(current.Status) {
		return nil, reject(ReasonInvalidTransition, "customer %s already has a %s subscription in family %s", intent.CustomerID, current.Status, plan.Family)
	}

	now := facts.Now
	start := now
	end := plan.Interval.Advance(now)
	status := enums.SubscriptionStatusActive
	switch {
	case plan.TrialDays > 0:
		status = enums.SubscriptionStatusTrialing
		end = now.AddDate(0, 0, plan.TrialDays)
	case p.PaymentStatus == checkoutPaymentUnpaid:
		status = enums.SubscriptionStatusPending
	}

	next := &models.Subscription{
		ID:                     uuid.New(),
		CustomerID:             intent.CustomerID,
		PlanID:                 plan.ID,
		PlanFamily:             plan.Family,
		Status:                 status,
		CurrentPeriodStart:     &start,
		CurrentPeriodEnd:       &end,
		ProviderSubscriptionID: event.ProviderSubscriptionID,
		ProviderCustomerID:     event.ProviderCustomerID,
		LastAppliedSequence:    event.Sequence,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	return &Transition{Next: next, Effects: []Effect{EffectCompleteIntent}}, nil
}

func applyProviderFields(next *models.Subscription, state ProviderState) {
	next.CancelAtPeriodEnd = state.CancelAtPeriodEnd
	if state.PeriodEnd != nil {
		next.CurrentPeriodStart = state.PeriodStart
		next.CurrentPeriodEnd = state.PeriodEnd
	}
}

func cancel(next *models.Subscription, now time.Time) {
	next.Status = enums.SubscriptionStatusCanceled
	next.GracePeriodEndsAt = nil
	canceledAt := now
	next.CanceledAt = &canceledAt
}

func invalid(event Event, current *models.Subscription) *Rejection {
	return reject(ReasonInvalidTransition, "%s not allowed from %s", event.Kind, current.Status)
}

func clone(sub *models.Subscription) *models.Subscription {
	if sub == nil {
		return nil
	}
	c := *sub
	return &c
}
