// Package idempotency owns the inbound event ledger: durable append of
// provider deliveries and the compare-and-swap claim that guarantees each
// event is applied at most once.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/billsync/internal/repo"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

const defaultClaimLease = 2 * time.Minute

var (
	// ErrNotFound is returned when no ledger row exists for the event id.
	ErrNotFound = errors.New("inbound event not found")
	// ErrClaimLost is returned when the claim token no longer matches, which
	// means the lease expired and another worker took the event.
	ErrClaimLost = errors.New("inbound event claim lost")
)

// ClaimResult is the outcome of TryClaim.
type ClaimResult int

const (
	// Claimed means the caller now exclusively processes the event.
	Claimed ClaimResult = iota + 1
	// AlreadyClaimed means another worker holds a live lease, or the event is
	// waiting out a retry backoff.
	AlreadyClaimed
	// AlreadyCompleted means a terminal outcome has been recorded.
	AlreadyCompleted
)

func (r ClaimResult) String() string {
	switch r {
	case Claimed:
		return "claimed"
	case AlreadyClaimed:
		return "already_claimed"
	case AlreadyCompleted:
		return "already_completed"
	default:
		return "unknown"
	}
}

// Claim carries the claim result and, when Claimed, the lease token and row.
type Claim struct {
	Result ClaimResult
	Token  string
	Event  *models.InboundEvent
}

// Store persists inbound events in the inbound_events table.
type Store struct {
	base  repo.Base
	lease time.Duration
	now   func() time.Time
}

// NewStore returns a store bound to db. lease bounds how long a crashed
// worker keeps an event claimed.
func NewStore(db *gorm.DB, lease time.Duration) *Store {
	if lease <= 0 {
		lease = defaultClaimLease
	}
	return &Store{
		base:  repo.NewBase(db),
		lease: lease,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithTx binds the store to tx so outcome marking commits with the caller's work.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	if tx == nil {
		return s
	}
	return &Store{base: s.base.WithTx(tx), lease: s.lease, now: s.now}
}

// WithClock overrides the time source.
func (s *Store) WithClock(now func() time.Time) *Store {
	clone := *s
	clone.now = now
	return &clone
}

// Append inserts the event unless one with the same provider id exists.
// inserted is false for a duplicate delivery.
func (s *Store) Append(ctx context.Context, event *models.InboundEvent) (bool, error) {
	if event == nil || event.ProviderEventID == "" {
		return false, errors.New("provider event id is required")
	}
	now := s.now()
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now
	}
	if event.NextAttemptAt.IsZero() {
		event.NextAttemptAt = event.ReceivedAt
	}
	if event.Outcome == "" {
		event.Outcome = enums.InboundEventOutcomePending
	}
	if event.Source == "" {
		event.Source = enums.EventSourceProvider
	}
	res := s.base.DB(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "provider_event_id"}}, DoNothing: true}).
		Create(event)
	if res.Error != nil {
		return false, fmt.Errorf("append inbound event %s: %w", event.ProviderEventID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RecordDelivery notes one accepted webhook delivery of providerEventID.
func (s *Store) RecordDelivery(ctx context.Context, providerEventID string, result enums.DeliveryResult) error {
	if !result.IsValid() {
		return fmt.Errorf("invalid delivery result %q", result)
	}
	row := models.InboundEventDelivery{
		ID:              uuid.New(),
		ProviderEventID: providerEventID,
		Result:          result,
		ReceivedAt:      s.now(),
	}
	return s.base.DB(ctx).Create(&row).Error
}

// Get loads the ledger row for providerEventID.
func (s *Store) Get(ctx context.Context, providerEventID string) (*models.InboundEvent, error) {
	var event models.InboundEvent
	found, err := s.base.First(ctx, &event, "provider_event_id = ?", providerEventID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return &event, nil
}

// TryClaim atomically takes the event for processing. The conditional update
// is the only claim path, so two callers never both observe Claimed.
func (s *Store) TryClaim(ctx context.Context, providerEventID string) (Claim, error) {
	now := s.now()
	token := uuid.NewString()
	res := s.base.DB(ctx).
		Model(&models.InboundEvent{}).
		Where("provider_event_id = ? AND outcome = ?", providerEventID, enums.InboundEventOutcomePending).
		Where("(claim_expires_at IS NULL OR claim_expires_at < ?)", now).
		Where("next_attempt_at <= ?", now).
		Updates(map[string]any{
			"claim_token":      token,
			"claim_expires_at": now.Add(s.lease),
		})
	if res.Error != nil {
		return Claim{}, fmt.Errorf("claim inbound event %s: %w", providerEventID, res.Error)
	}

	event, err := s.Get(ctx, providerEventID)
	if err != nil {
		return Claim{}, err
	}
	if res.RowsAffected == 1 {
		return Claim{Result: Claimed, Token: token, Event: event}, nil
	}
	if event.Outcome != enums.InboundEventOutcomePending {
		return Claim{Result: AlreadyCompleted, Event: event}, nil
	}
	return Claim{Result: AlreadyClaimed, Event: event}, nil
}

// MarkOutcome records a terminal outcome and drops the claim.
func (s *Store) MarkOutcome(ctx context.Context, providerEventID, token string, outcome enums.InboundEventOutcome, detail string) error {
	if !outcome.IsValid() || outcome == enums.InboundEventOutcomePending {
		return fmt.Errorf("invalid terminal outcome %q", outcome)
	}
	updates := map[string]any{
		"outcome":          outcome,
		"processed_at":     s.now(),
		"claim_token":      nil,
		"claim_expires_at": nil,
	}
	if detail != "" {
		updates["outcome_detail"] = detail
	}
	n, err := s.base.UpdateWhere(ctx, &models.InboundEvent{}, updates,
		"provider_event_id = ? AND claim_token = ?", providerEventID, token)
	if err != nil {
		return fmt.Errorf("mark inbound event %s: %w", providerEventID, err)
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

// Release returns a claimed event to pending, due again at retryAt.
// countAttempt is false when processing was interrupted rather than failed.
func (s *Store) Release(ctx context.Context, providerEventID, token string, retryAt time.Time, cause error, countAttempt bool) error {
	updates := map[string]any{
		"claim_token":      nil,
		"claim_expires_at": nil,
		"next_attempt_at":  retryAt.UTC(),
	}
	if cause != nil {
		updates["last_error"] = cause.Error()
	}
	if countAttempt {
		updates["attempt_count"] = gorm.Expr("attempt_count + 1")
	}
	n, err := s.base.UpdateWhere(ctx, &models.InboundEvent{}, updates,
		"provider_event_id = ? AND claim_token = ?", providerEventID, token)
	if err != nil {
		return fmt.Errorf("release inbound event %s: %w", providerEventID, err)
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

// ListDue returns the ids of pending events ready for a claim attempt, in
// provider sequence order.
func (s *Store) ListDue(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 50
	}
	now := s.now()
	var ids []string
	err := s.base.DB(ctx).
		Model(&models.InboundEvent{}).
		Where("outcome = ?", enums.InboundEventOutcomePending).
		Where("next_attempt_at <= ?", now).
		Where("(claim_expires_at IS NULL OR claim_expires_at < ?)", now).
		Order("sequence ASC").
		Order("received_at ASC").
		Limit(limit).
		Pluck("provider_event_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list due inbound events: %w", err)
	}
	return ids, nil
}

// PurgeCompleted deletes terminal events processed before cutoff together
// with delivery records received before it.
func (s *Store) PurgeCompleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.base.DB(ctx).
		Where("outcome <> ? AND processed_at < ?", enums.InboundEventOutcomePending, cutoff.UTC()).
		Delete(&models.InboundEvent{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge inbound events: %w", res.Error)
	}
	if err := s.base.DB(ctx).
		Where("received_at < ?", cutoff.UTC()).
		Delete(&models.InboundEventDelivery{}).Error; err != nil {
		return res.RowsAffected, fmt.Errorf("purge inbound deliveries: %w", err)
	}
	return res.RowsAffected, nil
}
