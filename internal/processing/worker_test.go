package processing

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/angelmondragon/billsync/pkg/enums"
	"github.com/angelmondragon/billsync/pkg/logger"
)

type stubLedger struct {
	ids []string
	err error
}

func (s stubLedger) ListDue(context.Context, int) ([]string, error) {
	return s.ids, s.err
}

type countingProcessor struct {
	mu       sync.Mutex
	seen     map[string]int
	inFlight int
	peak     int
}

func (c *countingProcessor) Process(_ context.Context, id string) (Outcome, error) {
	c.mu.Lock()
	c.seen[id]++
	c.inFlight++
	if c.inFlight > c.peak {
		c.peak = c.inFlight
	}
	c.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	c.mu.Lock()
	c.inFlight--
	c.mu.Unlock()
	return OutcomeApplied, nil
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestNewWorkerRequiresDeps(t *testing.T) {
	if _, err := NewWorker(WorkerParams{}); err == nil {
		t.Fatal("expected error without ledger")
	}
	if _, err := NewWorker(WorkerParams{Ledger: stubLedger{}, Processor: &countingProcessor{}}); err == nil {
		t.Fatal("expected error without logger")
	}
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e", "f"}
	proc := &countingProcessor{seen: map[string]int{}}
	worker, err := NewWorker(WorkerParams{Ledger: stubLedger{ids: ids}, Processor: proc, Logger: testLogger(), PoolSize: 2})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	n, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("run once: %v", err)
	}
	if n != len(ids) {
		t.Fatalf("expected %d processed, got %d", len(ids), n)
	}
	for _, id := range ids {
		if proc.seen[id] != 1 {
			t.Fatalf("expected %s processed once, got %d", id, proc.seen[id])
		}
	}
	if proc.peak > 2 {
		t.Fatalf("pool exceeded limit: %d", proc.peak)
	}
}

func TestRunOnceReportsLedgerError(t *testing.T) {
	worker, err := NewWorker(WorkerParams{Ledger: stubLedger{err: errors.New("db down")}, Processor: &countingProcessor{seen: map[string]int{}}, Logger: testLogger()})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	if _, err := worker.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	worker, err := NewWorker(WorkerParams{Ledger: stubLedger{}, Processor: &countingProcessor{seen: map[string]int{}}, Logger: testLogger(), PollInterval: 10 * time.Millisecond})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := worker.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestWorkerDrainsLedgerEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.ledger("evt_paid", "invoice.payment_succeeded", 300, invoiceObject("in_1"))
	h.ledger("evt_checkout", "checkout.session.completed", 100, checkoutObject())

	worker, err := NewWorker(WorkerParams{Ledger: h.store, Processor: h.applier, Logger: testLogger(), PoolSize: 1})
	if err != nil {
		t.Fatalf("new worker: %v", err)
	}
	n, err := worker.RunOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("expected 2 processed, got %d err=%v", n, err)
	}
	for _, id := range []string{"evt_checkout", "evt_paid"} {
		if outcome := h.event(id).Outcome; outcome != enums.InboundEventOutcomeApplied {
			t.Fatalf("expected %s applied, got %s", id, outcome)
		}
	}
	if n, _ := worker.RunOnce(context.Background()); n != 0 {
		t.Fatalf("expected empty ledger, got %d", n)
	}
}
