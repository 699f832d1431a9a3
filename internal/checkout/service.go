// Package checkout issues hosted checkout sessions backed by persisted
// intents, so the later completion event can be matched to a request.
package checkout

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

const (
	defaultIntentTTL  = 24 * time.Hour
	maxIdempotencyKey = 255
)

type planLoader interface {
	FindByID(ctx context.Context, id string) (*models.Plan, error)
}

type familyLookup interface {
	FindLiveInFamily(ctx context.Context, customerID, family string) (*models.Subscription, error)
}

type customerEnsurer interface {
	Ensure(ctx context.Context, customerID, email string) (*models.Customer, error)
}

// Service issues checkout sessions.
type Service interface {
	CreateIntent(ctx context.Context, input CreateInput) (*Result, error)
	ExpireStale(ctx context.Context) (int64, error)
}

// CreateInput is one checkout request.
type CreateInput struct {
	CustomerID     string
	PlanID         string
	IdempotencyKey string
	Email          string
}

// Result is returned for POST /checkout.
type Result struct {
	IntentID    uuid.UUID `json:"intentId"`
	CheckoutURL string    `json:"checkoutUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// ServiceParams groups dependencies for the checkout service.
type ServiceParams struct {
	Repo          Repository
	Plans         planLoader
	Subscriptions familyLookup
	Customers     customerEnsurer
	Sessions      SessionProvider
	Logger        *logger.Logger
	IntentTTL     time.Duration
	Clock         func() time.Time
}

type service struct {
	repo      Repository
	plans     planLoader
	subs      familyLookup
	customers customerEnsurer
	sessions  SessionProvider
	logg      *logger.Logger
	ttl       time.Duration
	now       func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "checkout repo required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "plan loader required")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription lookup required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer service required")
	}
	if params.Sessions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "session provider required")
	}
	ttl := params.IntentTTL
	if ttl <= 0 {
		ttl = defaultIntentTTL
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		plans:     params.Plans,
		subs:      params.Subscriptions,
		customers: params.Customers,
		sessions:  params.Sessions,
		logg:      params.Logger,
		ttl:       ttl,
		now:       now,
	}, nil
}

func (s *service) CreateIntent(ctx context.Context, input CreateInput) (*Result, error) {
	input.CustomerID = strings.TrimSpace(input.CustomerID)
	input.PlanID = strings.TrimSpace(input.PlanID)
	input.IdempotencyKey = strings.TrimSpace(input.IdempotencyKey)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByKey(ctx, input.IdempotencyKey)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout intent")
	}
	if existing != nil {
		return s.resume(ctx, existing, input)
	}

	plan, err := s.plans.FindByID(ctx, input.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil || !plan.Active {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	live, err := s.subs.FindLiveInFamily(ctx, input.CustomerID, plan.Family)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscriptions")
	}
	if live != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "customer already has a subscription in this plan family").
			WithDetails(map[string]any{"subscriptionId": live.ID.String(), "status": live.Status.String()})
	}

	customer, err := s.customers.Ensure(ctx, input.CustomerID, input.Email)
	if err != nil {
		return nil, err
	}

	now := s.now()
	intent := &models.CheckoutIntent{
		IdempotencyKey: input.IdempotencyKey,
		IntentID:       uuid.New(),
		CustomerID:     input.CustomerID,
		PlanID:         plan.ID,
		Status:         enums.CheckoutIntentStatusPending,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, intent); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout intent")
		}
		// A concurrent request with the same key won the insert.
		winner, findErr := s.repo.FindByKey(ctx, input.IdempotencyKey)
		if findErr != nil || winner == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout intent")
		}
		return s.resume(ctx, winner, input)
	}

	return s.openSession(ctx, intent, plan, customer)
}

// resume answers a repeated key: same tuple gets the same intent, anything
// else is a client error.
func (s *service) resume(ctx context.Context, intent *models.CheckoutIntent, input CreateInput) (*Result, error) {
	if intent.CustomerID != input.CustomerID || intent.PlanID != input.PlanID {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key was used for a different checkout")
	}
	expired := intent.Status == enums.CheckoutIntentStatusExpired ||
		(intent.Status == enums.CheckoutIntentStatusPending && !s.now().Before(intent.ExpiresAt))
	if expired {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout intent expired").
			WithDetails(map[string]any{"intentId": intent.IntentID.String()})
	}
	if intent.CheckoutURL != nil && *intent.CheckoutURL != "" {
		return resultFor(intent, *intent.CheckoutURL), nil
	}
	if intent.Status != enums.CheckoutIntentStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "checkout intent already resolved")
	}

	// The earlier provider call failed; retry it under the same provider key.
	plan, err := s.plans.FindByID(ctx, intent.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	customer, err := s.customers.Ensure(ctx, intent.CustomerID, input.Email)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, intent, plan, customer)
}

func (s *service) openSession(ctx context.Context, intent *models.CheckoutIntent, plan *models.Plan, customer *models.Customer) (*Result, error) {
	sess, err := s.sessions.CreateSession(ctx, SessionInput{
		IntentID:           intent.IntentID.String(),
		IdempotencyKey:     "checkout:" + intent.IdempotencyKey,
		CustomerID:         intent.CustomerID,
		PlanID:             plan.ID,
		ProviderCustomerID: customer.ProviderCustomerID,
		ProviderPriceID:    plan.ProviderPriceID,
		ExpiresAt:          intent.ExpiresAt,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}
	if err := s.repo.AttachSession(ctx, intent.IdempotencyKey, sess.ID, sess.URL); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout session")
	}
	if s.logg != nil {
		logCtx := s.logg.WithCustomerID(ctx, intent.CustomerID)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"intent_id":  intent.IntentID.String(),
			"plan_id":    plan.ID,
			"session_id": sess.ID,
		})
		s.logg.Info(logCtx, "checkout session issued")
	}
	return resultFor(intent, sess.URL), nil
}

func (s *service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.ExpirePending(ctx, s.now())
}

func resultFor(intent *models.CheckoutIntent, url string) *Result {
	return &Result{IntentID: intent.IntentID, CheckoutURL: url, ExpiresAt: intent.ExpiresAt}
}

func validateInput(input CreateInput) error {
	details := map[string]string{}
	if input.CustomerID == "" {
		details["customerId"] = "is required"
	}
	if input.PlanID == "" {
		details["planId"] = "is required"
	}
	if input.IdempotencyKey == "" {
		details["idempotencyKey"] = "is required"
	} else if len(input.IdempotencyKey) > maxIdempotencyKey {
		details["idempotencyKey"] = "is too long"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid checkout request").WithDetails(details)
	}
	return nil
}
