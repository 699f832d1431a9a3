package reconcile

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/billsync/pkg/logger"
)

type recordingReconciler struct {
	mu   sync.Mutex
	ids  []string
	done chan struct{}
}

func (r *recordingReconciler) ReconcileSubscription(_ context.Context, id string) (Result, error) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	n := len(r.ids)
	r.mu.Unlock()
	if n == 2 {
		close(r.done)
	}
	return ResultInSync, nil
}

func TestQueueDeduplicatesWaitingRequests(t *testing.T) {
	q := NewQueue(4, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	q.Request("sub_1")
	q.Request("sub_1")
	q.Request("")
	if q.Len() != 1 {
		t.Fatalf("expected one queued request, got %d", q.Len())
	}
}

func TestQueueDropsWhenFull(t *testing.T) {
	q := NewQueue(1, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	q.Request("sub_1")
	q.Request("sub_2")
	if q.Len() != 1 {
		t.Fatalf("expected full queue to drop, got %d", q.Len())
	}
}

func TestQueueRunDrainsRequests(t *testing.T) {
	q := NewQueue(4, nil)
	rec := &recordingReconciler{done: make(chan struct{})}
	q.Request("sub_1")
	q.Request("sub_2")

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx, rec) }()

	select {
	case <-rec.done:
	case <-time.After(time.Second):
		t.Fatal("queue did not drain")
	}
	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if rec.ids[0] != "sub_1" || rec.ids[1] != "sub_2" {
		t.Fatalf("unexpected order %v", rec.ids)
	}

	q.Request("sub_1")
	if q.Len() != 1 {
		t.Fatal("drained id should be requestable again")
	}
}
