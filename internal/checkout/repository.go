package checkout

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

// ErrIntentNotPending is returned when completing an intent that was already
// resolved.
var ErrIntentNotPending = errors.New("checkout intent is not pending")

// Repository persists checkout intents.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, intent *models.CheckoutIntent) error
	FindByKey(ctx context.Context, idempotencyKey string) (*models.CheckoutIntent, error)
	FindByIntentID(ctx context.Context, intentID uuid.UUID) (*models.CheckoutIntent, error)
	AttachSession(ctx context.Context, idempotencyKey, sessionID, checkoutURL string) error
	Complete(ctx context.Context, intentID uuid.UUID, at time.Time) error
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	base repo.Base
}

// NewRepository builds a checkout intent repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{base: r.base.WithTx(tx)}
}

func (r *repository) Create(ctx context.Context, intent *models.CheckoutIntent) error {
	return r.base.DB(ctx).Create(intent).Error
}

func (r *repository) FindByKey(ctx context.Context, idempotencyKey string) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	found, err := r.base.First(ctx, &intent, "idempotency_key = ?", idempotencyKey)
	if err != nil || !found {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByIntentID(ctx context.Context, intentID uuid.UUID) (*models.CheckoutIntent, error) {
	if intentID == uuid.Nil {
		return nil, nil
	}
	var intent models.CheckoutIntent
	found, err := r.base.First(ctx, &intent, "intent_id = ?", intentID)
	if err != nil || !found {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) AttachSession(ctx context.Context, idempotencyKey, sessionID, checkoutURL string) error {
	return r.base.DB(ctx).
		Model(&models.CheckoutIntent{}).
		Where("idempotency_key = ?", idempotencyKey).
		Updates(map[string]any{
			"provider_session_id": sessionID,
			"checkout_url":        checkoutURL,
		}).Error
}

// Complete resolves a pending intent. It fails with ErrIntentNotPending when
// the intent was completed or expired in the meantime.
func (r *repository) Complete(ctx context.Context, intentID uuid.UUID, at time.Time) error {
	res := r.base.DB(ctx).
		Model(&models.CheckoutIntent{}).
		Where("intent_id = ? AND status = ?", intentID, enums.CheckoutIntentStatusPending).
		Updates(map[string]any{
			"status":       enums.CheckoutIntentStatusCompleted,
			"completed_at": at.UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrIntentNotPending
	}
	return nil
}

// ExpirePending marks pending intents past their expiry as expired.
func (r *repository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := r.base.DB(ctx).
		Model(&models.CheckoutIntent{}).
		Where("status = ? AND expires_at <= ?", enums.CheckoutIntentStatusPending, now.UTC()).
		Update("status", enums.CheckoutIntentStatusExpired)
	return res.RowsAffected, res.Error
}
