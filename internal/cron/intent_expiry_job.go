package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/billsync/pkg/logger"
)

type intentExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// NewIntentExpiryJob marks pending checkout intents past their expiry as expired.
func NewIntentExpiryJob(logg *logger.Logger, expirer intentExpirer) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if expirer == nil {
		return nil, fmt.Errorf("checkout service required")
	}
	return &intentExpiryJob{logg: logg, expirer: expirer}, nil
}

type intentExpiryJob struct {
	logg    *logger.Logger
	expirer intentExpirer
}

func (j *intentExpiryJob) Name() string { return "checkout-intent-expiry" }

func (j *intentExpiryJob) Run(ctx context.Context) error {
	expired, err := j.expirer.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire checkout intents: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "expired", expired), "checkout intent expiry complete")
	return nil
}
