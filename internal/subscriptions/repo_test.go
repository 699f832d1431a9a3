package subscriptions

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/billsync/pkg/db"
	"github.com/angelmondragon/billsync/pkg/db/dbtest"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

func TestRepositorySaveTransitionOnlyMovesForward(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	sub := liveSub(enums.SubscriptionStatusActive, 10)
	require.NoError(t, repo.Create(ctx, sub))

	next := *sub
	next.Status = enums.SubscriptionStatusPastDue
	next.PaymentFailureCount = 1
	next.LastAppliedSequence = 20
	require.NoError(t, repo.SaveTransition(ctx, &next))

	stale := *sub
	stale.Status = enums.SubscriptionStatusCanceled
	stale.LastAppliedSequence = 15
	assert.ErrorIs(t, repo.SaveTransition(ctx, &stale), ErrSequenceConflict)

	stored, err := repo.FindByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, enums.SubscriptionStatusPastDue, stored.Status)
	assert.Equal(t, int64(20), stored.LastAppliedSequence)
	assert.Equal(t, 1, stored.PaymentFailureCount)
}

func TestRepositoryOneLiveSubscriptionPerFamily(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	first := liveSub(enums.SubscriptionStatusActive, 1)
	require.NoError(t, repo.Create(ctx, first))

	second := liveSub(enums.SubscriptionStatusTrialing, 1)
	second.ProviderSubscriptionID = "sub_2"
	err := repo.Create(ctx, second)
	require.Error(t, err)
	assert.True(t, db.IsUniqueViolation(err, ""))

	canceled := liveSub(enums.SubscriptionStatusCanceled, 1)
	canceled.ProviderSubscriptionID = "sub_3"
	require.NoError(t, repo.Create(ctx, canceled))

	live, err := repo.FindLiveInFamily(ctx, "cust-1", "pro")
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, first.ID, live.ID)

	none, err := repo.FindLiveInFamily(ctx, "cust-1", "basic")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestRepositoryLookupsReturnNilWhenMissing(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	byID, err := repo.FindByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, byID)

	byProvider, err := repo.FindByProviderID(ctx, "sub_missing")
	require.NoError(t, err)
	assert.Nil(t, byProvider)

	empty, err := repo.FindByProviderID(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func TestRepositoryReconciliationOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	mk := func(customer, providerID string, status enums.SubscriptionStatus) *models.Subscription {
		sub := liveSub(status, 1)
		sub.CustomerID = customer
		sub.ProviderSubscriptionID = providerID
		require.NoError(t, repo.Create(ctx, sub))
		return sub
	}
	recent := mk("cust-a", "sub_a", enums.SubscriptionStatusActive)
	older := mk("cust-b", "sub_b", enums.SubscriptionStatusPastDue)
	never := mk("cust-c", "sub_c", enums.SubscriptionStatusTrialing)
	mk("cust-d", "sub_d", enums.SubscriptionStatusCanceled)

	require.NoError(t, repo.MarkReconciled(ctx, recent.ID, testNow))
	require.NoError(t, repo.MarkReconciled(ctx, older.ID, testNow.Add(-time.Hour)))

	subs, err := repo.ListForReconciliation(ctx, 10)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, never.ID, subs[0].ID)
	assert.Equal(t, older.ID, subs[1].ID)
	assert.Equal(t, recent.ID, subs[2].ID)
}

func TestRepositoryListGraceExpired(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))

	expired := liveSub(enums.SubscriptionStatusPastDue, 1)
	ended := testNow.Add(-time.Minute)
	expired.GracePeriodEndsAt = &ended
	require.NoError(t, repo.Create(ctx, expired))

	inGrace := liveSub(enums.SubscriptionStatusPastDue, 1)
	inGrace.CustomerID = "cust-2"
	inGrace.ProviderSubscriptionID = "sub_2"
	later := testNow.Add(time.Hour)
	inGrace.GracePeriodEndsAt = &later
	require.NoError(t, repo.Create(ctx, inGrace))

	subs, err := repo.ListGraceExpired(ctx, testNow, 0)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, expired.ID, subs[0].ID)
}

func TestRepositoryAuditTrail(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(dbtest.Open(t))
	subID := uuid.New()

	for i, eventID := range []string{"evt_b", "evt_a"} {
		require.NoError(t, repo.InsertAudit(ctx, &models.SubscriptionTransition{
			ID:              uuid.New(),
			SubscriptionID:  subID,
			ProviderEventID: eventID,
			EventType:       string(KindPaymentFailed),
			Source:          enums.EventSourceProvider,
			ToStatus:        enums.SubscriptionStatusPastDue,
			Sequence:        int64(20 - i*10),
			After:           []byte(`{}`),
			CreatedAt:       testNow,
		}))
	}
	rows, err := repo.ListAudit(ctx, subID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "evt_a", rows[0].ProviderEventID)
}
