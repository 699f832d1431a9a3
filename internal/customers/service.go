// Package customers maps local customer ids onto provider customers.
package customers

import (
	"context"
	"strings"

	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billsync/pkg/errors"
	"github.com/angelmondragon/billsync/pkg/logger"
)

// Service ensures a provider customer exists for a local customer.
type Service interface {
	Ensure(ctx context.Context, customerID, email string) (*models.Customer, error)
	FindByID(ctx context.Context, customerID string) (*models.Customer, error)
}

// ServiceParams groups dependencies for the customer service.
type ServiceParams struct {
	Repo     Repository
	Provider Provider
	Logger   *logger.Logger
}

type service struct {
	repo     Repository
	provider Provider
	logg     *logger.Logger
}

// NewService builds a customer service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer repo required")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "customer provider required")
	}
	return &service{repo: params.Repo, provider: params.Provider, logg: params.Logger}, nil
}

func (s *service) FindByID(ctx context.Context, customerID string) (*models.Customer, error) {
	return s.repo.FindByID(ctx, customerID)
}

// Ensure returns the stored customer, creating the provider customer and the
// local row on first use. Concurrent first calls converge on one row.
func (s *service) Ensure(ctx context.Context, customerID, email string) (*models.Customer, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	existing, err := s.repo.FindByID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load customer")
	}
	if existing != nil {
		return existing, nil
	}

	providerID, err := s.provider.CreateCustomer(ctx, ProviderInput{CustomerID: customerID, Email: strings.TrimSpace(email)})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create provider customer")
	}

	record := &models.Customer{ID: customerID, ProviderCustomerID: providerID}
	if email = strings.TrimSpace(email); email != "" {
		record.Email = &email
	}
	if err := s.repo.Create(ctx, record); err != nil {
		if !db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store customer")
		}
		winner, findErr := s.repo.FindByID(ctx, customerID)
		if findErr != nil || winner == nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store customer")
		}
		return winner, nil
	}
	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{"customer_id": customerID, "provider_customer_id": providerID})
		s.logg.Info(ctx, "customer created")
	}
	return record, nil
}
