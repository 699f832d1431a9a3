package reconcile

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/internal/checkout"
	"github.com/angelmondragon/billsync/internal/idempotency"
	"github.com/angelmondragon/billsync/internal/plans"
	"github.com/angelmondragon/billsync/internal/processing"
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/db/dbtest"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	"github.com/angelmondragon/billsync/pkg/locks"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
)

var (
	fixtureNow    = time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	fixtureIntent = uuid.MustParse("5f0c2a1e-8b9d-4c3e-a1f2-7d6e5c4b3a21")
)

type fakeProvider struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
	err   error
	calls int
}

func (p *fakeProvider) Fetch(_ context.Context, id string) (*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	snap, ok := p.snaps[id]
	if !ok {
		return nil, errors.New("unexpected fetch " + id)
	}
	copied := *snap
	return &copied, nil
}

type fixture struct {
	t        *testing.T
	db       *gorm.DB
	store    *idempotency.Store
	subs     subscriptions.Repository
	provider *fakeProvider
	queue    *Queue
	applier  *processing.Applier
	service  *Service
	registry *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	clock := func() time.Time { return fixtureNow }
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	if err := conn.Create(&models.Plan{
		ID:              "pro-monthly",
		Name:            "Pro",
		Family:          "pro",
		PriceAmount:     decimal.RequireFromString("19.99"),
		CurrencyCode:    "USD",
		Interval:        enums.BillingIntervalMonthly,
		ProviderPriceID: "price_pro",
		Active:          true,
	}).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := conn.Create(&models.Customer{ID: "cust-1", ProviderCustomerID: "cus_1"}).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	intents := checkout.NewRepository(conn)
	if err := intents.Create(context.Background(), &models.CheckoutIntent{
		IdempotencyKey: "key-1",
		IntentID:       fixtureIntent,
		CustomerID:     "cust-1",
		PlanID:         "pro-monthly",
		Status:         enums.CheckoutIntentStatusPending,
		CreatedAt:      fixtureNow,
		ExpiresAt:      fixtureNow.Add(24 * time.Hour),
	}); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	f := &fixture{
		t:        t,
		db:       conn,
		store:    idempotency.NewStore(conn, time.Minute).WithClock(clock),
		subs:     subscriptions.NewRepository(conn),
		provider: &fakeProvider{snaps: map[string]*Snapshot{}},
		queue:    NewQueue(8, logg),
		registry: prometheus.NewRegistry(),
	}
	workerMetrics := metrics.NewWorkerMetrics(f.registry)
	applier, err := processing.NewApplier(processing.ApplierParams{
		DB:            dbtest.TxRunner{DB: conn},
		Store:         f.store,
		Subscriptions: f.subs,
		Intents:       intents,
		Plans:         plans.NewRepository(conn),
		DeadLetters:   processing.NewDeadLetterRepository(conn),
		Locker:        locks.NewLocalLocker(5 * time.Second),
		Machine:       subscriptions.NewMachine(7*24*time.Hour, 4),
		Reconciler:    f.queue,
		Metrics:       workerMetrics,
		Logger:        logg,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("new applier: %v", err)
	}
	f.applier = applier
	service, err := NewService(ServiceParams{
		Subscriptions: f.subs,
		Provider:      f.provider,
		Applier:       applier,
		Metrics:       workerMetrics,
		Logger:        logg,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	f.service = service
	return f
}

func (f *fixture) deliver(id, eventType string, sequence int64, object map[string]any) processing.Outcome {
	f.t.Helper()
	payload, err := subscriptions.SyntheticObject(object)
	if err != nil {
		f.t.Fatalf("payload: %v", err)
	}
	if _, err := f.store.Append(context.Background(), &models.InboundEvent{
		ProviderEventID: id,
		Type:            eventType,
		Payload:         payload,
		Sequence:        sequence,
	}); err != nil {
		f.t.Fatalf("append %s: %v", id, err)
	}
	outcome, err := f.applier.Process(context.Background(), id)
	if err != nil {
		f.t.Fatalf("process %s: %v", id, err)
	}
	return outcome
}

func (f *fixture) subscription() *models.Subscription {
	f.t.Helper()
	sub, err := f.subs.FindByProviderID(context.Background(), "sub_1")
	if err != nil {
		f.t.Fatalf("load subscription: %v", err)
	}
	if sub == nil {
		f.t.Fatal("subscription sub_1 missing")
	}
	return sub
}

func checkoutCompleted() map[string]any {
	return map[string]any{
		"id":                  "cs_1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"client_reference_id": fixtureIntent.String(),
		"payment_status":      "paid",
		"metadata":            map[string]string{"customer_id": "cust-1", "plan_id": "pro-monthly"},
	}
}

func invoice(id string) map[string]any {
	return map[string]any{"id": id, "customer": "cus_1", "subscription": "sub_1", "attempt_count": 1}
}
