package subscriptions

import (
	"context"
	"sort"
	"time"

	"github.com/angelmondragon/billsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
)

type customerLookup interface {
	FindByID(ctx context.Context, id string) (*models.Customer, error)
}

// Service defines the subscription read surface used to gate access.
type Service interface {
	Status(ctx context.Context, customerID string) (*StatusView, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo      Repository
	Customers customerLookup
	Clock     func() time.Time
}

// SubscriptionView is the read projection of one subscription.
type SubscriptionView struct {
	ID                     string     `json:"id"`
	PlanID                 string     `json:"planId"`
	PlanFamily             string     `json:"planFamily"`
	Status                 string     `json:"status"`
	CurrentPeriodStart     *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd       *time.Time `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd      bool       `json:"cancelAtPeriodEnd"`
	ProviderSubscriptionID string     `json:"providerSubscriptionId"`
	LastAppliedSequence    int64      `json:"lastAppliedSequence"`
	GracePeriodEndsAt      *time.Time `json:"gracePeriodEndsAt,omitempty"`
	CanceledAt             *time.Time `json:"canceledAt,omitempty"`
	Entitled               bool       `json:"entitled"`
	Delinquent             bool       `json:"delinquent"`
}

// StatusView is returned for GET /subscription/{customerId}. Live
// subscriptions are listed before canceled ones.
type StatusView struct {
	CustomerID    string             `json:"customerId"`
	Entitled      bool               `json:"entitled"`
	Subscriptions []SubscriptionView `json:"subscriptions"`
}

type service struct {
	repo      Repository
	customers customerLookup
	now       func() time.Time
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription repo required")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer lookup required")
	}
	now := params.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &service{repo: params.Repo, customers: params.Customers, now: now}, nil
}

func (s *service) Status(ctx context.Context, customerID string) (*StatusView, error) {
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	customer, err := s.customers.FindByID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	subs, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscriptions")
	}

	now := s.now()
	view := &StatusView{CustomerID: customerID, Subscriptions: make([]SubscriptionView, 0, len(subs))}
	for i := range subs {
		sub := &subs[i]
		entitled := IsEntitled(sub, now)
		view.Entitled = view.Entitled || entitled
		view.Subscriptions = append(view.Subscriptions, SubscriptionView{
			ID:                     sub.ID.String(),
			PlanID:                 sub.PlanID,
			PlanFamily:             sub.PlanFamily,
			Status:                 sub.Status.String(),
			CurrentPeriodStart:     sub.CurrentPeriodStart,
			CurrentPeriodEnd:       sub.CurrentPeriodEnd,
			CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
			ProviderSubscriptionID: sub.ProviderSubscriptionID,
			LastAppliedSequence:    sub.LastAppliedSequence,
			GracePeriodEndsAt:      sub.GracePeriodEndsAt,
			CanceledAt:             sub.CanceledAt,
			Entitled:               entitled,
			Delinquent:             sub.Status.IsDelinquent(),
		})
	}
	sort.SliceStable(view.Subscriptions, func(i, j int) bool {
		return isLiveView(view.Subscriptions[i]) && !isLiveView(view.Subscriptions[j])
	})
	return view, nil
}

func isLiveView(v SubscriptionView) bool {
	return v.CanceledAt == nil && v.Status != "canceled"
}
