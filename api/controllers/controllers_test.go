package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/api/middleware"
	checkoutsvc "github.com/angelmondragon/billsync/internal/checkout"
	subscriptionsvc "github.com/angelmondragon/billsync/internal/subscriptions"
	"github.com/angelmondragon/billsync/pkg/config"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
)

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return env
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthLive(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	rec := httptest.NewRecorder()
	HealthLive(cfg)(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("X-Billsync-Env"); got != "dev" {
		t.Fatalf("expected env header dev, got %q", got)
	}
}

func TestHealthReadyReportsFailingDependency(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	deps := map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    pingerFunc(func(context.Context) error { return errors.New("connection refused") }),
	}
	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, deps)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != string(pkgerrors.CodeDependency) {
		t.Fatalf("expected dependency code, got %q", env.Error.Code)
	}
}

func TestHealthReadyOK(t *testing.T) {
	cfg := &config.Config{App: config.AppConfig{Env: "dev"}}
	deps := map[string]Pinger{
		"postgres": pingerFunc(func(context.Context) error { return nil }),
		"redis":    nil,
	}
	rec := httptest.NewRecorder()
	HealthReady(cfg, nil, deps)(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

type stubCheckout struct {
	input  checkoutsvc.CreateInput
	calls  int
	result *checkoutsvc.Result
	err    error
}

func (s *stubCheckout) CreateIntent(_ context.Context, input checkoutsvc.CreateInput) (*checkoutsvc.Result, error) {
	s.calls++
	s.input = input
	return s.result, s.err
}

func (s *stubCheckout) ExpireStale(context.Context) (int64, error) { return 0, nil }

func checkoutRequestAs(caller, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req = req.WithContext(middleware.WithCustomerID(req.Context(), caller))
	}
	return req
}

func TestCheckoutCreatesIntentForCaller(t *testing.T) {
	id := uuid.New()
	svc := &stubCheckout{result: &checkoutsvc.Result{
		IntentID:    id,
		CheckoutURL: "https://checkout.example/cs_1",
		ExpiresAt:   time.Date(2026, 9, 2, 0, 0, 0, 0, time.UTC),
	}}
	rec := httptest.NewRecorder()
	Checkout(svc, nil)(rec, checkoutRequestAs("cust-1", `{"planId":"pro-monthly","idempotencyKey":"key-1"}`))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.input.CustomerID != "cust-1" || svc.input.PlanID != "pro-monthly" || svc.input.IdempotencyKey != "key-1" {
		t.Fatalf("unexpected input %+v", svc.input)
	}
	var result checkoutsvc.Result
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &result); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if result.IntentID != id || result.CheckoutURL == "" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestCheckoutRejectsOtherCustomer(t *testing.T) {
	svc := &stubCheckout{}
	rec := httptest.NewRecorder()
	Checkout(svc, nil)(rec, checkoutRequestAs("cust-1", `{"customerId":"cust-2","planId":"pro-monthly","idempotencyKey":"key-1"}`))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service should not be called")
	}
}

func TestCheckoutRequiresCaller(t *testing.T) {
	rec := httptest.NewRecorder()
	Checkout(&stubCheckout{}, nil)(rec, checkoutRequestAs("", `{"planId":"pro-monthly","idempotencyKey":"key-1"}`))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCheckoutValidatesBody(t *testing.T) {
	svc := &stubCheckout{}
	rec := httptest.NewRecorder()
	Checkout(svc, nil)(rec, checkoutRequestAs("cust-1", `{"planId":"pro-monthly"}`))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Error.Code != string(pkgerrors.CodeValidation) {
		t.Fatalf("expected validation code, got %q", env.Error.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("service should not be called")
	}
}

func TestCheckoutSurfacesServiceConflict(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeConflict, "customer already subscribed to plan family")}
	rec := httptest.NewRecorder()
	Checkout(svc, nil)(rec, checkoutRequestAs("cust-1", `{"planId":"pro-monthly","idempotencyKey":"key-1"}`))

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

type stubStatus struct {
	view  *subscriptionsvc.StatusView
	err   error
	asked string
}

func (s *stubStatus) Status(_ context.Context, customerID string) (*subscriptionsvc.StatusView, error) {
	s.asked = customerID
	return s.view, s.err
}

func statusRequest(caller, customerID string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/subscription/"+customerID, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("customerId", customerID)
	ctx := context.WithValue(req.Context(), chi.RouteCtxKey, rctx)
	if caller != "" {
		ctx = middleware.WithCustomerID(ctx, caller)
	}
	return req.WithContext(ctx)
}

func TestSubscriptionStatusReturnsView(t *testing.T) {
	svc := &stubStatus{view: &subscriptionsvc.StatusView{
		CustomerID: "cust-1",
		Entitled:   true,
		Subscriptions: []subscriptionsvc.SubscriptionView{
			{ID: "s-1", PlanID: "pro-monthly", Status: "active", Entitled: true},
		},
	}}
	rec := httptest.NewRecorder()
	SubscriptionStatus(svc, nil)(rec, statusRequest("cust-1", "cust-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.asked != "cust-1" {
		t.Fatalf("expected lookup for cust-1, got %q", svc.asked)
	}
	var view subscriptionsvc.StatusView
	if err := json.Unmarshal(decodeEnvelope(t, rec).Data, &view); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if !view.Entitled || len(view.Subscriptions) != 1 || view.Subscriptions[0].Status != "active" {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestSubscriptionStatusForbidsOtherCustomer(t *testing.T) {
	svc := &stubStatus{}
	rec := httptest.NewRecorder()
	SubscriptionStatus(svc, nil)(rec, statusRequest("cust-1", "cust-2"))

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if svc.asked != "" {
		t.Fatalf("service should not be called")
	}
}

func TestSubscriptionStatusNotFound(t *testing.T) {
	svc := &stubStatus{err: pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")}
	rec := httptest.NewRecorder()
	SubscriptionStatus(svc, nil)(rec, statusRequest("cust-9", "cust-9"))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
