package processing

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/internal/repo"
	"github.com/angelmondragon/billsync/pkg/db/models"
)

// DeadLetterRepository persists events that will not be retried.
type DeadLetterRepository interface {
	WithTx(tx *gorm.DB) DeadLetterRepository
	Insert(ctx context.Context, row *models.EventDeadLetter) error
	ListByEvent(ctx context.Context, providerEventID string) ([]models.EventDeadLetter, error)
}

type deadLetterRepository struct {
	base repo.Base
}

// NewDeadLetterRepository binds the dead letter table to db.
func NewDeadLetterRepository(db *gorm.DB) DeadLetterRepository {
	return &deadLetterRepository{base: repo.NewBase(db)}
}

func (r *deadLetterRepository) WithTx(tx *gorm.DB) DeadLetterRepository {
	if tx == nil {
		return r
	}
	return &deadLetterRepository{base: r.base.WithTx(tx)}
}

func (r *deadLetterRepository) Insert(ctx context.Context, row *models.EventDeadLetter) error {
	return r.base.DB(ctx).Create(row).Error
}

func (r *deadLetterRepository) ListByEvent(ctx context.Context, providerEventID string) ([]models.EventDeadLetter, error) {
	var rows []models.EventDeadLetter
	if err := r.base.DB(ctx).
		Where("provider_event_id = ?", providerEventID).
		Order("failed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
