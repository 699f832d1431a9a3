package cron

import (
	"context"
	"fmt"
)

type sweeper interface {
	Sweep(ctx context.Context) error
}

// NewReconcileJob compares the least recently checked subscriptions with the
// provider each cycle.
func NewReconcileJob(sweeper sweeper) (Job, error) {
	if sweeper == nil {
		return nil, fmt.Errorf("reconcile service required")
	}
	return &reconcileJob{sweeper: sweeper}, nil
}

type reconcileJob struct {
	sweeper sweeper
}

func (j *reconcileJob) Name() string { return "subscription-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	return j.sweeper.Sweep(ctx)
}
