// Package plans reads the plan catalog. Plans are seeded by migrations or
// operators; nothing in billsync writes them.
package plans

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/internal/repo"
	"github.com/angelmondragon/billsync/pkg/db/models"
)

// Repository exposes catalog lookups.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByID(ctx context.Context, id string) (*models.Plan, error)
	ListActive(ctx context.Context) ([]models.Plan, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a plan repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx)}
}

// FindByID returns nil, nil when the plan does not exist.
func (r *repository) FindByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.Plan
	found, err := r.base.First(ctx, &plan, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &plan, nil
}

func (r *repository) ListActive(ctx context.Context) ([]models.Plan, error) {
	var rows []models.Plan
	if err := r.base.DB(ctx).
		Where("active = ?", true).
		Order("family ASC").
		Order("price_amount ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
