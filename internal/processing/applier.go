// Package processing applies ledgered inbound events to subscriptions: claim,
// decode, serialize per customer, run the state machine and commit the new
// state, audit row and event outcome in one transaction.
package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/internal/checkout"
	"github.com/angelmondragon/billsync/internal/idempotency"
	"github.com/angelmondragon/billsync/internal/plans"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/alerts"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/locks"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
)

const (
	defaultMaxAttempts    = 10
	defaultBaseBackoff    = 2 * time.Second
	defaultMaxBackoff     = 10 * time.Minute
	defaultStorageTimeout = 10 * time.Second
	lockReleaseTimeout    = 5 * time.Second
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ReconcileRequester receives provider subscription ids whose local state
// could not absorb an event.
type ReconcileRequester interface {
	Request(providerSubscriptionID string)
}

// ApplierParams groups dependencies for the Applier.
type ApplierParams struct {
	DB            txRunner
	Store         *idempotency.Store
	Subscriptions subscriptions.Repository
	Intents       checkout.Repository
	Plans         plans.Repository
	DeadLetters   DeadLetterRepository
	Locker        locks.Locker
	Machine       subscriptions.Machine
	Alerter       alerts.Alerter
	Reconciler    ReconcileRequester
	Metrics       *metrics.WorkerMetrics
	Logger        *logger.Logger

	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	StorageTimeout time.Duration
	Clock          func() time.Time
}

// Applier processes one ledger row at a time. It is safe for concurrent use;
// the per-customer lock serializes conflicting work.
type Applier struct {
	db          txRunner
	store       *idempotency.Store
	subs        subscriptions.Repository
	intents     checkout.Repository
	plans       plans.Repository
	deadLetters DeadLetterRepository
	locker      locks.Locker
	machine     subscriptions.Machine
	alerter     alerts.Alerter
	reconciler  ReconcileRequester
	metrics     *metrics.WorkerMetrics
	logg        *logger.Logger

	maxAttempts    int
	baseBackoff    time.Duration
	maxBackoff     time.Duration
	storageTimeout time.Duration
	now            func() time.Time
}

// NewApplier validates dependencies and applies defaults.
func NewApplier(params ApplierParams) (*Applier, error) {
	switch {
	case params.DB == nil:
		return nil, errors.New("tx runner is required")
	case params.Store == nil:
		return nil, errors.New("idempotency store is required")
	case params.Subscriptions == nil:
		return nil, errors.New("subscription repository is required")
	case params.Intents == nil:
		return nil, errors.New("checkout intent repository is required")
	case params.Plans == nil:
		return nil, errors.New("plan repository is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter repository is required")
	case params.Locker == nil:
		return nil, errors.New("locker is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	}
	alerter := params.Alerter
	if alerter == nil {
		alerter = alerts.NewLogAlerter(params.Logger)
	}
	a := &Applier{
		db:             params.DB,
		store:          params.Store,
		subs:           params.Subscriptions,
		intents:        params.Intents,
		plans:          params.Plans,
		deadLetters:    params.DeadLetters,
		locker:         params.Locker,
		machine:        params.Machine,
		alerter:        alerter,
		reconciler:     params.Reconciler,
		metrics:        params.Metrics,
		logg:           params.Logger,
		maxAttempts:    params.MaxAttempts,
		baseBackoff:    params.BaseBackoff,
		maxBackoff:     params.MaxBackoff,
		storageTimeout: params.StorageTimeout,
		now:            params.Clock,
	}
	if a.maxAttempts <= 0 {
		a.maxAttempts = defaultMaxAttempts
	}
	if a.baseBackoff <= 0 {
		a.baseBackoff = defaultBaseBackoff
	}
	if a.maxBackoff <= 0 {
		a.maxBackoff = defaultMaxBackoff
	}
	if a.storageTimeout <= 0 {
		a.storageTimeout = defaultStorageTimeout
	}
	if a.now == nil {
		a.now = func() time.Time { return time.Now().UTC() }
	}
	return a, nil
}

// verdict is the committed result of one attempt.
type verdict struct {
	outcome    Outcome
	transition *subscriptions.Transition
	rejection  *subscriptions.Rejection
	deadLetter *models.EventDeadLetter
}

// Process claims and applies the ledger row for providerEventID. An error is
// returned only when the attempt could not be settled at all; the claim
// lease then expires and another worker picks the event up.
func (a *Applier) Process(ctx context.Context, providerEventID string) (Outcome, error) {
	started := time.Now()
	defer func() { a.metrics.ObserveDuration(time.Since(started)) }()

	ctx = a.logg.WithEventID(ctx, providerEventID)

	claimCtx, cancel := context.WithTimeout(ctx, a.storageTimeout)
	claim, err := a.store.TryClaim(claimCtx, providerEventID)
	cancel()
	if err != nil {
		return "", fmt.Errorf("claim %s: %w", providerEventID, err)
	}
	if claim.Result != idempotency.Claimed {
		a.metrics.IncOutcome(OutcomeIgnoredDuplicate.String())
		a.logg.Info(a.logg.WithField(ctx, "claim", claim.Result.String()), "event ignored as duplicate")
		return OutcomeIgnoredDuplicate, nil
	}

	row := claim.Event
	ctx = a.logg.WithFields(ctx, map[string]any{
		"event_type":    row.Type,
		"event_source":  row.Source,
		"sequence":      row.Sequence,
		"attempt_count": row.AttemptCount,
	})

	event, err := subscriptions.Decode(row.ProviderEventID, row.Type, row.Payload, row.Sequence)
	if err != nil {
		rejection, _ := subscriptions.AsRejection(err)
		var v verdict
		settleCtx, cancel := context.WithTimeout(ctx, a.storageTimeout)
		txErr := a.db.WithTx(settleCtx, func(tx *gorm.DB) error {
			var settleErr error
			v, settleErr = a.settleRejection(settleCtx, tx, row, claim.Token, rejection)
			return settleErr
		})
		cancel()
		if txErr != nil {
			return a.retry(ctx, row, claim.Token, txErr)
		}
		return a.finish(ctx, row, event, v), nil
	}
	ctx = a.logg.WithCustomerID(ctx, event.ProviderCustomerID)
	ctx = a.logg.WithField(ctx, "provider_subscription_id", event.ProviderSubscriptionID)

	lease, err := a.locker.Acquire(ctx, event.LockKey())
	if err != nil {
		return a.retry(ctx, row, claim.Token, fmt.Errorf("acquire %s: %w", event.LockKey(), err))
	}
	v, err := a.applyLocked(ctx, row, claim.Token, event)
	a.releaseLease(ctx, lease)
	if err != nil {
		if errors.Is(err, idempotency.ErrClaimLost) {
			a.logg.Warn(ctx, "claim lease expired before commit")
			a.metrics.IncOutcome(OutcomeIgnoredDuplicate.String())
			return OutcomeIgnoredDuplicate, nil
		}
		return a.retry(ctx, row, claim.Token, err)
	}
	return a.finish(ctx, row, event, v), nil
}

// applyLocked runs under the customer lock. Everything it writes commits or
// rolls back together.
func (a *Applier) applyLocked(ctx context.Context, row *models.InboundEvent, token string, event subscriptions.Event) (verdict, error) {
	txCtx, cancel := context.WithTimeout(ctx, a.storageTimeout)
	defer cancel()

	var v verdict
	err := a.db.WithTx(txCtx, func(tx *gorm.DB) error {
		subs := a.subs.WithTx(tx)
		now := a.now()

		current, facts, err := a.loadState(txCtx, tx, event)
		if err != nil {
			return err
		}
		facts.Now = now

		transition, err := a.machine.Apply(current, event, facts)
		if err != nil {
			rejection, ok := subscriptions.AsRejection(err)
			if !ok {
				return err
			}
			v, err = a.settleRejection(txCtx, tx, row, token, rejection)
			return err
		}

		next := transition.Next
		if transition.Created() {
			if err := subs.Create(txCtx, next); err != nil {
				return fmt.Errorf("create subscription: %w", err)
			}
		} else if err := subs.SaveTransition(txCtx, next); err != nil {
			return fmt.Errorf("save subscription %s: %w", next.ID, err)
		}
		if transition.CompletesIntent() {
			if err := a.intents.WithTx(tx).Complete(txCtx, facts.Intent.IntentID, now); err != nil {
				return fmt.Errorf("complete intent %s: %w", facts.Intent.IntentID, err)
			}
		}
		audit, err := auditRow(row, transition, now)
		if err != nil {
			return err
		}
		if err := subs.InsertAudit(txCtx, audit); err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		if err := a.store.WithTx(tx).MarkOutcome(txCtx, row.ProviderEventID, token, enums.InboundEventOutcomeApplied, ""); err != nil {
			return err
		}
		v = verdict{outcome: OutcomeApplied, transition: transition}
		return nil
	})
	return v, err
}

// loadState finds the subscription the event targets plus the facts a
// checkout completion needs.
func (a *Applier) loadState(ctx context.Context, tx *gorm.DB, event subscriptions.Event) (*models.Subscription, subscriptions.Facts, error) {
	var facts subscriptions.Facts
	subs := a.subs.WithTx(tx)

	current, err := subs.FindByProviderID(ctx, event.ProviderSubscriptionID)
	if err != nil {
		return nil, facts, fmt.Errorf("load subscription: %w", err)
	}
	completed, ok := event.Payload.(subscriptions.CheckoutCompleted)
	if !ok {
		return current, facts, nil
	}

	intent, err := a.intents.WithTx(tx).FindByIntentID(ctx, completed.IntentID)
	if err != nil {
		return nil, facts, fmt.Errorf("load intent: %w", err)
	}
	facts.Intent = intent
	if intent == nil {
		return current, facts, nil
	}
	plan, err := a.plans.WithTx(tx).FindByID(ctx, intent.PlanID)
	if err != nil {
		return nil, facts, fmt.Errorf("load plan: %w", err)
	}
	facts.Plan = plan
	if current == nil && plan != nil {
		current, err = subs.FindLiveInFamily(ctx, intent.CustomerID, plan.Family)
		if err != nil {
			return nil, facts, fmt.Errorf("load family subscription: %w", err)
		}
	}
	return current, facts, nil
}

// settleRejection records a permanent answer for the event inside tx. Stale
// events are ignored; everything else fails and is dead-lettered.
func (a *Applier) settleRejection(ctx context.Context, tx *gorm.DB, row *models.InboundEvent, token string, rejection *subscriptions.Rejection) (verdict, error) {
	if rejection == nil {
		rejection = &subscriptions.Rejection{Reason: subscriptions.ReasonMalformed}
	}
	store := a.store.WithTx(tx)
	if rejection.Reason == subscriptions.ReasonStale {
		if err := store.MarkOutcome(ctx, row.ProviderEventID, token, enums.InboundEventOutcomeIgnoredStale, rejection.Error()); err != nil {
			return verdict{}, err
		}
		return verdict{outcome: OutcomeIgnoredStale, rejection: rejection}, nil
	}

	dead := deadLetterFor(row, enums.DeadLetterReasonNonRetryable, rejection, row.AttemptCount, a.now())
	if err := a.deadLetters.WithTx(tx).Insert(ctx, dead); err != nil {
		return verdict{}, fmt.Errorf("insert dead letter: %w", err)
	}
	if err := store.MarkOutcome(ctx, row.ProviderEventID, token, enums.InboundEventOutcomeFailed, rejection.Error()); err != nil {
		return verdict{}, err
	}
	return verdict{outcome: OutcomeFailed, rejection: rejection, deadLetter: dead}, nil
}

// retry settles a transient failure: back off, or dead-letter once the
// attempt budget is spent. A canceled caller gives the event back untouched.
func (a *Applier) retry(ctx context.Context, row *models.InboundEvent, token string, cause error) (Outcome, error) {
	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.storageTimeout)
	defer cancel()
	logCtx := a.logg.WithField(ctx, "error", cause.Error())

	if ctx.Err() != nil {
		if err := a.store.Release(settleCtx, row.ProviderEventID, token, a.now(), cause, false); err != nil {
			return "", fmt.Errorf("release interrupted %s: %w", row.ProviderEventID, err)
		}
		a.metrics.IncOutcome(OutcomeInterrupted.String())
		a.logg.Warn(logCtx, "event processing interrupted")
		return OutcomeInterrupted, nil
	}

	attempt := row.AttemptCount + 1
	if !IsTransient(cause) || attempt >= a.maxAttempts {
		reason := enums.DeadLetterReasonMaxAttempts
		if !IsTransient(cause) {
			reason = enums.DeadLetterReasonNonRetryable
		}
		dead := deadLetterFor(row, reason, cause, attempt, a.now())
		err := a.db.WithTx(settleCtx, func(tx *gorm.DB) error {
			if err := a.deadLetters.WithTx(tx).Insert(settleCtx, dead); err != nil {
				return fmt.Errorf("insert dead letter: %w", err)
			}
			return a.store.WithTx(tx).MarkOutcome(settleCtx, row.ProviderEventID, token, enums.InboundEventOutcomeFailed, cause.Error())
		})
		if err != nil {
			return "", fmt.Errorf("dead letter %s: %w", row.ProviderEventID, err)
		}
		a.metrics.IncOutcome(OutcomeFailed.String())
		a.deadLettered(logCtx, dead)
		return OutcomeFailed, nil
	}

	delay := retryDelay(attempt, a.baseBackoff, a.maxBackoff)
	if err := a.store.Release(settleCtx, row.ProviderEventID, token, a.now().Add(delay), cause, true); err != nil {
		return "", fmt.Errorf("release %s: %w", row.ProviderEventID, err)
	}
	a.metrics.IncOutcome(OutcomeRetry.String())
	a.logg.Warn(a.logg.WithFields(logCtx, map[string]any{"attempt": attempt, "retry_in": delay.String()}), "event processing failed, retry scheduled")
	return OutcomeRetry, nil
}

// finish reports a committed verdict.
func (a *Applier) finish(ctx context.Context, row *models.InboundEvent, event subscriptions.Event, v verdict) Outcome {
	a.metrics.IncOutcome(v.outcome.String())
	switch v.outcome {
	case OutcomeApplied:
		t := v.transition
		fields := map[string]any{"to_status": t.Next.Status.String()}
		if t.From != nil {
			fields["from_status"] = t.From.Status.String()
		}
		if len(t.Effects) > 0 {
			fields["effects"] = t.Effects
		}
		logCtx := a.logg.WithSubscriptionID(ctx, t.Next.ID.String())
		a.logg.Info(a.logg.WithFields(logCtx, fields), "transition applied")
	case OutcomeIgnoredStale:
		a.logg.Info(a.logg.WithField(ctx, "detail", v.rejection.Detail), "stale event ignored")
	case OutcomeFailed:
		logCtx := a.logg.WithFields(ctx, map[string]any{"reason": string(v.rejection.Reason), "detail": v.rejection.Detail})
		a.logg.Warn(logCtx, "event rejected")
		if v.deadLetter != nil {
			a.deadLettered(logCtx, v.deadLetter)
		}
		if v.rejection.Reason == subscriptions.ReasonInvalidTransition && a.reconciler != nil && event.ProviderSubscriptionID != "" {
			a.reconciler.Request(event.ProviderSubscriptionID)
		}
	}
	return v.outcome
}

func (a *Applier) deadLettered(ctx context.Context, dead *models.EventDeadLetter) {
	a.metrics.IncDeadLetter(string(dead.Reason))
	alert := alerts.DeadLetter{
		ProviderEventID: dead.ProviderEventID,
		EventType:       dead.EventType,
		Reason:          string(dead.Reason),
		AttemptCount:    dead.AttemptCount,
		FailedAt:        dead.FailedAt,
	}
	if dead.ErrorMessage != nil {
		alert.Error = *dead.ErrorMessage
	}
	if err := a.alerter.DeadLettered(context.WithoutCancel(ctx), alert); err != nil {
		a.logg.Error(ctx, "dead letter alert failed", err)
	}
}

func (a *Applier) releaseLease(ctx context.Context, lease locks.Lease) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()
	if err := lease.Release(releaseCtx); err != nil {
		a.logg.Error(ctx, "release customer lock", err)
	}
}

func deadLetterFor(row *models.InboundEvent, reason enums.DeadLetterReason, cause error, attempts int, now time.Time) *models.EventDeadLetter {
	dead := &models.EventDeadLetter{
		ID:              uuid.New(),
		ProviderEventID: row.ProviderEventID,
		EventType:       row.Type,
		Payload:         row.Payload,
		Reason:          reason,
		AttemptCount:    attempts,
		FailedAt:        now,
	}
	if cause != nil {
		msg := cause.Error()
		dead.ErrorMessage = &msg
	}
	return dead
}

func auditRow(row *models.InboundEvent, t *subscriptions.Transition, now time.Time) (*models.SubscriptionTransition, error) {
	after, err := json.Marshal(t.Next)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal subscription state")
	}
	effects, err := json.Marshal(t.Effects)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal effects")
	}
	audit := &models.SubscriptionTransition{
		ID:              uuid.New(),
		SubscriptionID:  t.Next.ID,
		ProviderEventID: row.ProviderEventID,
		EventType:       row.Type,
		Source:          row.Source,
		ToStatus:        t.Next.Status,
		Sequence:        row.Sequence,
		After:           after,
		Effects:         effects,
		CreatedAt:       now,
	}
	if t.From != nil {
		before, err := json.Marshal(t.From)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal subscription state")
		}
		from := t.From.Status.String()
		audit.FromStatus = &from
		audit.Before = before
	}
	return audit, nil
}
