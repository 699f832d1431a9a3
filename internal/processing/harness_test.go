package processing

import (
	"context"
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
	"github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/alerts"
	"github.com/angelmondragon/billsync/pkg/db/dbtest"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	"github.com/angelmondragon/billsync/pkg/locks"
	"github.com/angelmondragon/billsync/pkg/logger"
	"github.com/angelmondragon/billsync/pkg/metrics"
)

var intentID = uuid.MustParse("0b7c7e64-2d1f-4a7e-9f34-5a9a3c1d2e10")

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureAlerter struct {
	mu     sync.Mutex
	alerts []alerts.DeadLetter
}

func (c *captureAlerter) DeadLettered(_ context.Context, alert alerts.DeadLetter) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, alert)
	return nil
}

type captureReconciler struct {
	mu  sync.Mutex
	ids []string
}

func (c *captureReconciler) Request(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

type harness struct {
	t          *testing.T
	db         *gorm.DB
	clock      *testClock
	store      *idempotency.Store
	subs       subscriptions.Repository
	intents    checkout.Repository
	dead       DeadLetterRepository
	alerter    *captureAlerter
	reconciler *captureReconciler
	registry   *prometheus.Registry
	applier    *Applier
}

type harnessOption func(*ApplierParams)

func withLocker(l locks.Locker) harnessOption {
	return func(p *ApplierParams) { p.Locker = l }
}

func withMaxAttempts(n int) harnessOption {
	return func(p *ApplierParams) { p.MaxAttempts = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	clock := &testClock{now: time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)}

	plan := models.Plan{
		ID:              "pro-monthly",
		Name:            "Pro",
		Family:          "pro",
		PriceAmount:     decimal.RequireFromString("19.99"),
		CurrencyCode:    "USD",
		Interval:        enums.BillingIntervalMonthly,
		ProviderPriceID: "price_pro",
		Active:          true,
	}
	if err := conn.Create(&plan).Error; err != nil {
		t.Fatalf("seed plan: %v", err)
	}
	if err := conn.Create(&models.Customer{ID: "cust-1", ProviderCustomerID: "cus_1"}).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	h := &harness{
		t:          t,
		db:         conn,
		clock:      clock,
		store:      idempotency.NewStore(conn, time.Minute).WithClock(clock.Now),
		subs:       subscriptions.NewRepository(conn),
		intents:    checkout.NewRepository(conn),
		dead:       NewDeadLetterRepository(conn),
		alerter:    &captureAlerter{},
		reconciler: &captureReconciler{},
		registry:   prometheus.NewRegistry(),
	}
	intent := &models.CheckoutIntent{
		IdempotencyKey: "key-1",
		IntentID:       intentID,
		CustomerID:     "cust-1",
		PlanID:         "pro-monthly",
		Status:         enums.CheckoutIntentStatusPending,
		CreatedAt:      clock.Now(),
		ExpiresAt:      clock.Now().Add(24 * time.Hour),
	}
	if err := h.intents.Create(context.Background(), intent); err != nil {
		t.Fatalf("seed intent: %v", err)
	}

	params := ApplierParams{
		DB:             dbtest.TxRunner{DB: conn},
		Store:          h.store,
		Subscriptions:  h.subs,
		Intents:        h.intents,
		Plans:          plans.NewRepository(conn),
		DeadLetters:    h.dead,
		Locker:         locks.NewLocalLocker(5 * time.Second),
		Machine:        subscriptions.NewMachine(7*24*time.Hour, 4),
		Alerter:        h.alerter,
		Reconciler:     h.reconciler,
		Metrics:        metrics.NewWorkerMetrics(h.registry),
		Logger:         logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		MaxBackoff:     time.Minute,
		StorageTimeout: 5 * time.Second,
		Clock:          clock.Now,
	}
	for _, opt := range opts {
		opt(&params)
	}
	applier, err := NewApplier(params)
	if err != nil {
		t.Fatalf("new applier: %v", err)
	}
	h.applier = applier
	return h
}

// ledger appends an event the way the webhook receiver does.
func (h *harness) ledger(id, eventType string, sequence int64, object map[string]any) {
	h.t.Helper()
	payload, err := subscriptions.SyntheticObject(object)
	if err != nil {
		h.t.Fatalf("payload: %v", err)
	}
	if _, err := h.store.Append(context.Background(), &models.InboundEvent{
		ProviderEventID: id,
		Type:            eventType,
		Payload:         payload,
		Sequence:        sequence,
	}); err != nil {
		h.t.Fatalf("append %s: %v", id, err)
	}
}

func (h *harness) process(id string) Outcome {
	h.t.Helper()
	outcome, err := h.applier.Process(context.Background(), id)
	if err != nil {
		h.t.Fatalf("process %s: %v", id, err)
	}
	return outcome
}

func (h *harness) event(id string) *models.InboundEvent {
	h.t.Helper()
	row, err := h.store.Get(context.Background(), id)
	if err != nil {
		h.t.Fatalf("get %s: %v", id, err)
	}
	return row
}

func (h *harness) subscription() *models.Subscription {
	h.t.Helper()
	sub, err := h.subs.FindByProviderID(context.Background(), "sub_1")
	if err != nil {
		h.t.Fatalf("load subscription: %v", err)
	}
	return sub
}

func checkoutObject() map[string]any {
	return map[string]any{
		"id":                  "cs_1",
		"customer":            "cus_1",
		"subscription":        "sub_1",
		"client_reference_id": intentID.String(),
		"payment_status":      "paid",
		"metadata":            map[string]string{"customer_id": "cust-1", "plan_id": "pro-monthly"},
	}
}

func invoiceObject(id string) map[string]any {
	return map[string]any{"id": id, "customer": "cus_1", "subscription": "sub_1", "attempt_count": 1}
}

func subscriptionObject(status string) map[string]any {
	return map[string]any{"id": "sub_1", "customer": "cus_1", "status": status}
}
