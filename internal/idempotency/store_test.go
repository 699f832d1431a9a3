package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/billsync/pkg/db/dbtest"
	"github.com/angelmondragon/billsync/pkg/db/models"
	"github.com/angelmondragon/billsync/pkg/enums"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(dbtest.Open(t), time.Minute).WithClock(clk.Now)
	return store, clk
}

func inbound(id string, seq int64) *models.InboundEvent {
	return &models.InboundEvent{
		ProviderEventID: id,
		Type:            "invoice.payment_failed",
		Payload:         json.RawMessage(`{"object":{}}`),
		Sequence:        seq,
	}
}

func TestAppendDetectsDuplicates(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	inserted, err := store.Append(ctx, inbound("evt_1", 10))
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = store.Append(ctx, inbound("evt_1", 10))
	require.NoError(t, err)
	assert.False(t, inserted, "second append of the same id must be a duplicate")

	event, err := store.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, enums.InboundEventOutcomePending, event.Outcome)
	assert.Equal(t, enums.EventSourceProvider, event.Source)
}

func TestTryClaimIsExclusive(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Append(ctx, inbound("evt_1", 1))
	require.NoError(t, err)

	const workers = 8
	results := make(chan ClaimResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claim, err := store.TryClaim(ctx, "evt_1")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			results <- claim.Result
		}()
	}
	wg.Wait()
	close(results)

	counts := map[ClaimResult]int{}
	for r := range results {
		counts[r]++
	}
	assert.Equal(t, 1, counts[Claimed])
	assert.Equal(t, workers-1, counts[AlreadyClaimed])
}

func TestTryClaimAfterOutcomeReportsCompleted(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	_, err := store.Append(ctx, inbound("evt_1", 1))
	require.NoError(t, err)

	claim, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, Claimed, claim.Result)
	require.NoError(t, store.MarkOutcome(ctx, "evt_1", claim.Token, enums.InboundEventOutcomeApplied, ""))

	again, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyCompleted, again.Result)
	assert.Equal(t, enums.InboundEventOutcomeApplied, again.Event.Outcome)
	assert.NotNil(t, again.Event.ProcessedAt)
	assert.Nil(t, again.Event.ClaimToken)
}

func TestExpiredLeaseCanBeReclaimed(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()
	_, err := store.Append(ctx, inbound("evt_1", 1))
	require.NoError(t, err)

	first, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, Claimed, first.Result)

	clk.Advance(2 * time.Minute)
	second, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	require.Equal(t, Claimed, second.Result)

	err = store.MarkOutcome(ctx, "evt_1", first.Token, enums.InboundEventOutcomeApplied, "")
	assert.True(t, errors.Is(err, ErrClaimLost), "stale token must not record an outcome")
	require.NoError(t, store.MarkOutcome(ctx, "evt_1", second.Token, enums.InboundEventOutcomeApplied, ""))
}

func TestReleaseSchedulesRetry(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()
	_, err := store.Append(ctx, inbound("evt_1", 1))
	require.NoError(t, err)

	claim, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "evt_1", claim.Token, clk.Now().Add(30*time.Second), errors.New("db down"), true))

	notYet, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, AlreadyClaimed, notYet.Result, "event is backing off")
	assert.Equal(t, 1, notYet.Event.AttemptCount)
	require.NotNil(t, notYet.Event.LastError)
	assert.Equal(t, "db down", *notYet.Event.LastError)

	due, err := store.ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	clk.Advance(time.Minute)
	due, err = store.ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"evt_1"}, due)

	retry, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, Claimed, retry.Result)
}

func TestReleaseWithoutCountingAttempt(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()
	_, err := store.Append(ctx, inbound("evt_1", 1))
	require.NoError(t, err)

	claim, err := store.TryClaim(ctx, "evt_1")
	require.NoError(t, err)
	require.NoError(t, store.Release(ctx, "evt_1", claim.Token, clk.Now(), nil, false))

	event, err := store.Get(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 0, event.AttemptCount)
	assert.Equal(t, enums.InboundEventOutcomePending, event.Outcome)
}

func TestListDueOrdersBySequence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	for _, e := range []*models.InboundEvent{inbound("evt_c", 30), inbound("evt_a", 10), inbound("evt_b", 20)} {
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}
	claim, err := store.TryClaim(ctx, "evt_b")
	require.NoError(t, err)
	require.Equal(t, Claimed, claim.Result)

	due, err := store.ListDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"evt_a", "evt_c"}, due)
}

func TestTryClaimUnknownEvent(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.TryClaim(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMarkOutcomeRejectsPending(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.MarkOutcome(context.Background(), "evt", "tok", enums.InboundEventOutcomePending, "")
	assert.Error(t, err)
}

func TestPurgeCompletedKeepsPendingAndRecent(t *testing.T) {
	store, clk := newTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"old_done", "old_pending", "new_done"} {
		_, err := store.Append(ctx, inbound(id, 1))
		require.NoError(t, err)
		require.NoError(t, store.RecordDelivery(ctx, id, enums.DeliveryResultAccepted))
	}
	for _, id := range []string{"old_done"} {
		claim, err := store.TryClaim(ctx, id)
		require.NoError(t, err)
		require.NoError(t, store.MarkOutcome(ctx, id, claim.Token, enums.InboundEventOutcomeApplied, ""))
	}
	clk.Advance(48 * time.Hour)
	claim, err := store.TryClaim(ctx, "new_done")
	require.NoError(t, err)
	require.NoError(t, store.MarkOutcome(ctx, "new_done", claim.Token, enums.InboundEventOutcomeIgnoredStale, "stale"))

	purged, err := store.PurgeCompleted(ctx, clk.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	_, err = store.Get(ctx, "old_done")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = store.Get(ctx, "old_pending")
	assert.NoError(t, err)
	_, err = store.Get(ctx, "new_done")
	assert.NoError(t, err)
}

func TestRecordDeliveryValidatesResult(t *testing.T) {
	store, _ := newTestStore(t)
	assert.Error(t, store.RecordDelivery(context.Background(), "evt", enums.DeliveryResult("bogus")))
}
