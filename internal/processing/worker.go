package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/billsync/pkg/logger"
)

const (
	defaultPoolSize     = 8
	defaultBatchSize    = 50
	defaultPollInterval = 500 * time.Millisecond
	maxBatchBackoff     = 10 * time.Second
)

type dueLister interface {
	ListDue(ctx context.Context, limit int) ([]string, error)
}

type processor interface {
	Process(ctx context.Context, providerEventID string) (Outcome, error)
}

// WorkerParams groups dependencies for the polling worker.
type WorkerParams struct {
	Ledger       dueLister
	Processor    processor
	Logger       *logger.Logger
	PoolSize     int
	BatchSize    int
	PollInterval time.Duration
}

// Worker polls the ledger for due events and processes them on a bounded
// pool. Any number of workers may run against the same ledger.
type Worker struct {
	ledger       dueLister
	processor    processor
	logg         *logger.Logger
	poolSize     int
	batchSize    int
	pollInterval time.Duration
}

// NewWorker validates dependencies and applies defaults.
func NewWorker(params WorkerParams) (*Worker, error) {
	if params.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	w := &Worker{
		ledger:       params.Ledger,
		processor:    params.Processor,
		logg:         params.Logger,
		poolSize:     params.PoolSize,
		batchSize:    params.BatchSize,
		pollInterval: params.PollInterval,
	}
	if w.poolSize <= 0 {
		w.poolSize = defaultPoolSize
	}
	if w.batchSize <= 0 {
		w.batchSize = defaultBatchSize
	}
	if w.pollInterval <= 0 {
		w.pollInterval = defaultPollInterval
	}
	return w, nil
}

// Run polls until ctx is canceled. In-flight items finish their current step
// and give their claim back before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	backoff := w.pollInterval
	for {
		select {
		case <-ctx.Done():
			w.logg.Info(ctx, "event worker context canceled")
			return ctx.Err()
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logg.Error(ctx, "event worker batch error", err)
			backoff = nextBackoff(backoff, w.pollInterval, maxBatchBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = w.pollInterval

		if processed > 0 {
			continue
		}
		if err := sleep(ctx, withJitter(w.pollInterval)); err != nil {
			return err
		}
	}
}

// RunOnce processes one batch of due events and reports how many it picked up.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	ids, err := w.ledger.ListDue(ctx, w.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list due events: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(w.poolSize)
	for _, id := range ids {
		g.Go(func() error {
			if _, err := w.processor.Process(ctx, id); err != nil {
				w.logg.Error(w.logg.WithEventID(ctx, id), "event processing error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(ids), nil
}
