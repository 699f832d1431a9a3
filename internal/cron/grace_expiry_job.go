package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/billsync/internal/processing"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	"github.com/angelmondragon/billsync/pkg/logger"
)

const defaultGraceBatch = 250

type graceLister interface {
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
}

type eventInjector interface {
	Inject(ctx context.Context, event *models.InboundEvent) (processing.Outcome, error)
}

// GraceExpiryJobParams configures the grace-period expiry job.
type GraceExpiryJobParams struct {
	Logger        *logger.Logger
	Subscriptions graceLister
	Applier       eventInjector
	Limit         int
	Now           func() time.Time
}

// NewGraceExpiryJob cancels past_due subscriptions whose grace period ended.
// Cancellation goes through the event path as a synthetic grace_expired event.
func NewGraceExpiryJob(params GraceExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription repository required")
	}
	if params.Applier == nil {
		return nil, fmt.Errorf("applier required")
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultGraceBatch
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &graceExpiryJob{
		logg:    params.Logger,
		subs:    params.Subscriptions,
		applier: params.Applier,
		limit:   limit,
		now:     now,
	}, nil
}

type graceExpiryJob struct {
	logg    *logger.Logger
	subs    graceLister
	applier eventInjector
	limit   int
	now     func() time.Time
}

func (j *graceExpiryJob) Name() string { return "grace-period-expiry" }

func (j *graceExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	expired, err := j.subs.ListGraceExpired(ctx, now, j.limit)
	if err != nil {
		return fmt.Errorf("list grace expired subscriptions: %w", err)
	}
	var errs error
	canceled := 0
	for i := range expired {
		outcome, err := j.expire(ctx, &expired[i], now)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if outcome == processing.OutcomeApplied {
			canceled++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"candidates": len(expired),
		"canceled":   canceled,
	}), "grace period expiry complete")
	return errs
}

func (j *graceExpiryJob) expire(ctx context.Context, sub *models.Subscription, now time.Time) (processing.Outcome, error) {
	sequence := now.Unix()
	if next := sub.LastAppliedSequence + 1; next > sequence {
		sequence = next
	}
	payload, err := subscriptions.SyntheticObject(map[string]any{
		"subscription": sub.ProviderSubscriptionID,
		"customer":     sub.ProviderCustomerID,
	})
	if err != nil {
		return "", err
	}
	id := fmt.Sprintf("grace:%s:%d", sub.ProviderSubscriptionID, sequence)
	event := processing.SyntheticEvent(id, subscriptions.KindGraceExpired, sequence, payload, enums.EventSourceScheduler)
	outcome, err := j.applier.Inject(ctx, event)
	if err != nil {
		return "", fmt.Errorf("expire grace period for %s: %w", sub.ProviderSubscriptionID, err)
	}
	return outcome, nil
}
