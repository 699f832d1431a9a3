package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/billsync/pkg/logger"
)

type ledgerPurger interface {
	PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error)
}

// RetentionJobParams configures inbound event retention.
type RetentionJobParams struct {
	Logger    *logger.Logger
	Ledger    ledgerPurger
	Retention time.Duration
	Now       func() time.Time
}

// NewRetentionJob returns a nil Job when retention is disabled (zero window).
func NewRetentionJob(params RetentionJobParams) (Job, error) {
	if params.Retention <= 0 {
		return nil, nil
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("idempotency store required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &retentionJob{
		logg:      params.Logger,
		ledger:    params.Ledger,
		retention: params.Retention,
		now:       now,
	}, nil
}

type retentionJob struct {
	logg      *logger.Logger
	ledger    ledgerPurger
	retention time.Duration
	now       func() time.Time
}

func (j *retentionJob) Name() string { return "inbound-event-retention" }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.ledger.PurgeCompleted(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purge inbound events: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"retention":    j.retention.String(),
		"rows_deleted": deleted,
	})
	j.logg.Info(logCtx, "inbound event retention complete")
	return nil
}
