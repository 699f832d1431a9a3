package customers

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/internal/repo"
	"github.com/angelmondragon/billsync/pkg/db/models"
)

// Repository persists customers.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, customer *models.Customer) error
	FindByID(ctx context.Context, id string) (*models.Customer, error)
	FindByProviderID(ctx context.Context, providerCustomerID string) (*models.Customer, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a customer repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, customer *models.Customer) error {
	return r.base.DB(ctx).Create(customer).Error
}

func (r *repository) FindByID(ctx context.Context, id string) (*models.Customer, error) {
	var customer models.Customer
	found, err := r.base.First(ctx, &customer, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindByProviderID(ctx context.Context, providerCustomerID string) (*models.Customer, error) {
	var customer models.Customer
	found, err := r.base.First(ctx, &customer, "provider_customer_id = ?", providerCustomerID)
	if err != nil || !found {
		return nil, err
	}
	return &customer, nil
}
