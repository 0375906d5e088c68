package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	inats "github.com/vatadvisor/usage/internal/nats"
)

func TestService_FreePlanScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))

	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, PlanFree, snap.PlanKey)
	assert.Equal(t, "2024-01-01", snap.PeriodKey)
	assert.Equal(t, 0, snap.Used)
	assert.Equal(t, 10, snap.Remaining)
	assert.Equal(t, 0, snap.PercentUsed)
	assert.Equal(t, SourceDefaultFree, snap.Source)

	for i := 1; i <= 10; i++ {
		require.NoError(t, env.svc.AssertWithinLimit(ctx, userID))
		res, err := env.svc.ConsumeUsage(ctx, userID, 1, nil)
		require.NoError(t, err)
		assert.Equal(t, i, res.Used)
		assert.Equal(t, 10-i, res.Remaining)
		assert.Equal(t, "2024-01-01", res.PeriodKey)
	}

	_, err = env.svc.ConsumeUsage(ctx, userID, 1, nil)
	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 10, le.Used)
	assert.Equal(t, 10, le.Limit)
	assert.Equal(t, PlanFree, le.PlanKey)

	err = env.svc.AssertWithinLimit(ctx, userID)
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LimitExceededError{Used: 10, Limit: 10, PlanKey: PlanFree}, *le)
}

func TestService_SnapshotReflectsConsumption(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2023, 12, 1))

	before, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)

	_, err = env.svc.ConsumeUsage(ctx, userID, 1, map[string]string{"conversation_id": "c1"})
	require.NoError(t, err)

	after, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, before.Used+1, after.Used)
	assert.Equal(t, before.PeriodKey, after.PeriodKey)
	assert.Equal(t, 10, after.PercentUsed)
}

func TestService_NewPeriodStartsFresh(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))

	for i := 0; i < 10; i++ {
		_, err := env.svc.ConsumeUsage(ctx, userID, 1, nil)
		require.NoError(t, err)
	}
	require.True(t, IsLimitExceeded(env.svc.AssertWithinLimit(ctx, userID)))

	env.now = date(2024, 2, 1)
	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", snap.PeriodKey)
	assert.Equal(t, 0, snap.Used)
	require.NoError(t, env.svc.AssertWithinLimit(ctx, userID))

	history, err := env.svc.History(ctx, userID, 12)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "2024-01-01", history[0].PeriodKey)
}

func TestService_ConcurrentConsumeNeverOvershoots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))

	for i := 0; i < 9; i++ {
		_, err := env.svc.ConsumeUsage(ctx, userID, 1, nil)
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.ConsumeUsage(ctx, userID, 1, nil)
		}(i)
	}
	wg.Wait()

	var succeeded, limited int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case IsLimitExceeded(err):
			limited++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, limited)

	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Used)
	assert.Equal(t, 0, snap.Remaining)
}

func TestService_MultiUnitConsumeRejectedWhole(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))

	_, err := env.svc.ConsumeUsage(ctx, userID, 8, nil)
	require.NoError(t, err)

	_, err = env.svc.ConsumeUsage(ctx, userID, 3, nil)
	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 8, le.Used)

	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 8, snap.Used)
	assert.Equal(t, 80, snap.PercentUsed)
}

func TestService_InvalidAmount(t *testing.T) {
	env := newTestEnv(t)
	userID := env.addUser(date(2024, 1, 1))

	_, err := env.svc.ConsumeUsage(context.Background(), userID, 0, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestService_ActiveSubscriptionGetsPaidLimit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2023, 6, 20))
	env.subs.subs[userID] = &SubscriptionState{Status: SubscriptionActive}

	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, PlanPro, snap.PlanKey)
	assert.Equal(t, 500, snap.MonthlyLimit)
	assert.Equal(t, "2023-12-20", snap.PeriodKey)
	assert.Equal(t, date(2024, 1, 20), snap.PeriodEnd)
	assert.Equal(t, SourceSubscriptionActive, snap.Source)
}

func TestService_ZeroQuotaOverride(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))
	env.users.accounts[userID].PlanOverride = strPtr("FREE")
	env.users.accounts[userID].QuotaOverride = intPtr(0)

	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Remaining)
	assert.Equal(t, 100, snap.PercentUsed)

	assert.True(t, IsLimitExceeded(env.svc.AssertWithinLimit(ctx, userID)))
	_, err = env.svc.ConsumeUsage(ctx, userID, 1, nil)
	assert.True(t, IsLimitExceeded(err))
}

func TestService_ExpiredTrialIsExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))
	env.users.accounts[userID].PlanOverride = strPtr("TRIAL")

	env.now = date(2024, 1, 3)
	_, err := env.svc.ConsumeUsage(ctx, userID, 1, nil)
	require.NoError(t, err)

	env.now = date(2024, 1, 15)
	snap, err := env.svc.GetUsageSnapshot(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, PlanTrial, snap.PlanKey)
	assert.Equal(t, "2024-01-01", snap.PeriodKey)
	assert.Equal(t, date(2024, 1, 8), snap.PeriodEnd)
	assert.Equal(t, 1, snap.Used)
	assert.Equal(t, 0, snap.Remaining)

	assert.True(t, IsLimitExceeded(env.svc.AssertWithinLimit(ctx, userID)))

	_, err = env.svc.ConsumeUsage(ctx, userID, 1, nil)
	var le *LimitExceededError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, 1, le.Used)
	assert.Equal(t, 20, le.Limit)
}

func TestService_StoreFailureIsUsageError(t *testing.T) {
	users := &fakeUsers{accounts: map[uuid.UUID]*Account{}}
	userID := uuid.New()
	users.accounts[userID] = &Account{ID: userID, CreatedAt: date(2024, 1, 1)}
	resolver := NewResolver(users, &fakeSubs{}, testCatalog(t))
	svc := NewService(resolver, brokenStore{})
	ctx := context.Background()

	var ue *UsageError
	_, err := svc.ConsumeUsage(ctx, userID, 1, nil)
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "consume", ue.Op)
	assert.ErrorIs(t, err, errStoreDown)
	assert.False(t, IsLimitExceeded(err))

	_, err = svc.GetUsageSnapshot(ctx, userID)
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "lookup", ue.Op)

	err = svc.AssertWithinLimit(ctx, userID)
	require.ErrorAs(t, err, &ue)
}

func TestService_IdentityFailureNotDowngraded(t *testing.T) {
	users := &fakeUsers{err: errors.New("identity provider unavailable")}
	resolver := NewResolver(users, &fakeSubs{}, testCatalog(t))
	store, _ := setupRedisStore(t)
	svc := NewService(resolver, store)
	ctx := context.Background()
	userID := uuid.New()

	_, err := svc.GetUsageSnapshot(ctx, userID)
	assert.ErrorContains(t, err, "identity provider unavailable")

	_, err = svc.ConsumeUsage(ctx, userID, 1, nil)
	assert.ErrorContains(t, err, "identity provider unavailable")
	assert.False(t, IsLimitExceeded(err))

	history, err := store.History(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestService_PublishesEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.addUser(date(2024, 1, 1))

	_, err := env.svc.ConsumeUsage(ctx, userID, 10, map[string]string{"conversation_id": "abc"})
	require.NoError(t, err)
	_, err = env.svc.ConsumeUsage(ctx, userID, 1, nil)
	require.Error(t, err)

	events := env.publisher.Events()
	require.Len(t, events, 2)

	assert.Equal(t, inats.EventUsageConsumed, events[0].EventType)
	assert.Equal(t, userID, events[0].UserID)
	assert.Equal(t, 10, events[0].Amount)
	assert.Equal(t, 10, events[0].Used)
	assert.Equal(t, "abc", events[0].Meta["conversation_id"])
	assert.Equal(t, env.now, events[0].Timestamp)

	assert.Equal(t, inats.EventLimitExceeded, events[1].EventType)
	assert.Equal(t, 10, events[1].Used)
	assert.Equal(t, "FREE", events[1].PlanKey)
}

func TestService_PublishFailureDoesNotFailConsume(t *testing.T) {
	env := newTestEnv(t)
	env.publisher.err = errors.New("nats down")
	userID := env.addUser(date(2024, 1, 1))

	res, err := env.svc.ConsumeUsage(context.Background(), userID, 1, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Used)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, percent(0, 10))
	assert.Equal(t, 33, percent(1, 3))
	assert.Equal(t, 67, percent(2, 3))
	assert.Equal(t, 100, percent(10, 10))
	assert.Equal(t, 100, percent(0, 0))
}

func TestService_DefaultClockIsNow(t *testing.T) {
	svc := NewService(nil, nil)
	assert.WithinDuration(t, time.Now(), svc.now(), time.Second)
}
