package reconcile

import (
	"context"
	"sync"

	"github.com/angelmondragon/billsync/pkg/logger"
)

const defaultQueueSize = 128

type subscriptionReconciler interface {
	ReconcileSubscription(ctx context.Context, providerSubscriptionID string) (Result, error)
}

// Queue is the bounded on-demand reconciliation queue. Request never blocks;
// requests beyond capacity are dropped and left to the next sweep. A
// subscription already waiting is not queued twice.
type Queue struct {
	logg    *logger.Logger
	ch      chan string
	mu      sync.Mutex
	waiting map[string]struct{}
}

func NewQueue(size int, logg *logger.Logger) *Queue {
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Queue{
		logg:    logg,
		ch:      make(chan string, size),
		waiting: make(map[string]struct{}),
	}
}

// Request asks for providerSubscriptionID to be reconciled soon.
func (q *Queue) Request(providerSubscriptionID string) {
	if providerSubscriptionID == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.waiting[providerSubscriptionID]; ok {
		return
	}
	select {
	case q.ch <- providerSubscriptionID:
		q.waiting[providerSubscriptionID] = struct{}{}
	default:
		if q.logg != nil {
			ctx := q.logg.WithSubscriptionID(context.Background(), providerSubscriptionID)
			q.logg.Warn(ctx, "reconcile queue full; request dropped")
		}
	}
}

// Len reports queued requests.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Run drains the queue until ctx is canceled.
func (q *Queue) Run(ctx context.Context, reconciler subscriptionReconciler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-q.ch:
			q.mu.Lock()
			delete(q.waiting, id)
			q.mu.Unlock()

			logCtx := ctx
			if q.logg != nil {
				logCtx = q.logg.WithSubscriptionID(ctx, id)
			}
			result, err := reconciler.ReconcileSubscription(logCtx, id)
			if err != nil && q.logg != nil {
				q.logg.Error(q.logg.WithField(logCtx, "result", string(result)), "on-demand reconciliation failed", err)
			}
		}
	}
}
