package subscriptions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billsync/internal/repo"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

// ErrSequenceConflict means the stored row already advanced past the
// transition being saved. Only possible if serialization was bypassed.
var ErrSequenceConflict = errors.New("subscription sequence advanced concurrently")

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	SaveTransition(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	FindLiveInFamily(ctx context.Context, customerID, family string) (*models.Subscription, error)
	ListByCustomer(ctx context.Context, customerID string) ([]models.Subscription, error)
	ListForReconciliation(ctx context.Context, limit int) ([]models.Subscription, error)
	ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error)
	MarkReconciled(ctx context.Context, id uuid.UUID, at time.Time) error
	InsertAudit(ctx context.Context, row *models.SubscriptionTransition) error
	ListAudit(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionTransition, error)
}

type repository struct {
	base repo.Base
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.base.DB(ctx).Create(sub).Error
}

// SaveTransition writes every column of sub, guarded so the stored sequence
// only moves forward.
func (r *repository) SaveTransition(ctx context.Context, sub *models.Subscription) error {
	res := r.base.DB(ctx).
		Model(sub).
		Where("last_applied_sequence < ?", sub.LastAppliedSequence).
		Select("*").
		Omit("id", "created_at").
		Updates(sub)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSequenceConflict
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	found, err := r.base.First(ctx, &sub, "id = ?", id)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	if providerSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	found, err := r.base.First(ctx, &sub, "provider_subscription_id = ?", providerSubscriptionID)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindLiveInFamily(ctx context.Context, customerID, family string) (*models.Subscription, error) {
	var sub models.Subscription
	found, err := r.base.First(ctx, &sub, "customer_id = ? AND plan_family = ? AND status <> ?",
		customerID, family, enums.SubscriptionStatusCanceled)
	if err != nil || !found {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByCustomer(ctx context.Context, customerID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.base.DB(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListForReconciliation returns live subscriptions, never-reconciled first,
// then least recently reconciled.
func (r *repository) ListForReconciliation(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	if err := r.base.DB(ctx).
		Where("status <> ?", enums.SubscriptionStatusCanceled).
		Where("provider_subscription_id <> ''").
		Order("reconciled_at IS NOT NULL").
		Order("reconciled_at ASC").
		Order("updated_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) ListGraceExpired(ctx context.Context, now time.Time, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	var subs []models.Subscription
	if err := r.base.DB(ctx).
		Where("status = ? AND grace_period_ends_at IS NOT NULL AND grace_period_ends_at <= ?",
			enums.SubscriptionStatusPastDue, now.UTC()).
		Order("grace_period_ends_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// MarkReconciled stamps bookkeeping only; it never touches subscription state.
func (r *repository) MarkReconciled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.base.DB(ctx).
		Model(&models.Subscription{}).
		Where("id = ?", id).
		UpdateColumn("reconciled_at", at.UTC()).Error
}

func (r *repository) InsertAudit(ctx context.Context, row *models.SubscriptionTransition) error {
	return r.base.DB(ctx).Create(row).Error
}

func (r *repository) ListAudit(ctx context.Context, subscriptionID uuid.UUID) ([]models.SubscriptionTransition, error) {
	var rows []models.SubscriptionTransition
	if err := r.base.DB(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("sequence ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
