package usage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_ConsumeCreatesCounter(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	lookup, err := store.Lookup(ctx, userID, "2024-01-01")
	require.NoError(t, err)
	assert.False(t, lookup.Found)
	assert.Equal(t, 0, lookup.UsedOrZero())

	c, err := store.ConsumeAtomic(ctx, userID, "2024-01-01", 3, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Used)
	assert.Equal(t, "2024-01-01", c.PeriodKey)
	assert.False(t, c.CreatedAt.IsZero())

	lookup, err = store.Lookup(ctx, userID, "2024-01-01")
	require.NoError(t, err)
	assert.True(t, lookup.Found)
	assert.Equal(t, 3, lookup.Counter.Used)
}

func TestRedisStore_CeilingLeavesCounterUnchanged(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := store.ConsumeAtomic(ctx, userID, "p", 8, 10)
	require.NoError(t, err)

	_, err = store.ConsumeAtomic(ctx, userID, "p", 3, 10)
	assert.ErrorIs(t, err, ErrCeilingReached)

	lookup, err := store.Lookup(ctx, userID, "p")
	require.NoError(t, err)
	assert.Equal(t, 8, lookup.Counter.Used)

	c, err := store.ConsumeAtomic(ctx, userID, "p", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, c.Used)
}

func TestRedisStore_FirstConsumeOverLimitWritesNothing(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := store.ConsumeAtomic(ctx, userID, "p", 5, 4)
	assert.ErrorIs(t, err, ErrCeilingReached)

	lookup, err := store.Lookup(ctx, userID, "p")
	require.NoError(t, err)
	assert.False(t, lookup.Found)

	history, err := store.History(ctx, userID, 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRedisStore_RaceAtLastUnit(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	_, err := store.ConsumeAtomic(ctx, userID, "p", 9, 10)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, rejected atomic.Int32
	start := make(chan struct{})
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ConsumeAtomic(ctx, userID, "p", 1, 10)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ErrCeilingReached):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(1), rejected.Load())

	lookup, err := store.Lookup(ctx, userID, "p")
	require.NoError(t, err)
	assert.Equal(t, 10, lookup.Counter.Used)
}

func TestRedisStore_ManyConcurrentConsumers(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	const limit = 20
	var wg sync.WaitGroup
	var ok atomic.Int32
	for i := 0; i < 60; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.ConsumeAtomic(ctx, userID, "p", 1, limit); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(limit), ok.Load())
	lookup, err := store.Lookup(ctx, userID, "p")
	require.NoError(t, err)
	assert.Equal(t, limit, lookup.Counter.Used)
}

func TestRedisStore_PeriodsAndUsersIndependent(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	u1, u2 := uuid.New(), uuid.New()

	_, err := store.ConsumeAtomic(ctx, u1, "2024-01-01", 1, 1)
	require.NoError(t, err)
	_, err = store.ConsumeAtomic(ctx, u1, "2024-02-01", 1, 1)
	require.NoError(t, err)
	_, err = store.ConsumeAtomic(ctx, u2, "2024-01-01", 1, 1)
	require.NoError(t, err)
}

func TestRedisStore_HistoryNewestFirst(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	for _, pk := range []string{"2024-02-01", "2023-12-01", "2024-01-01"} {
		_, err := store.ConsumeAtomic(ctx, userID, pk, 1, 10)
		require.NoError(t, err)
	}

	history, err := store.History(ctx, userID, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "2024-02-01", history[0].PeriodKey)
	assert.Equal(t, "2024-01-01", history[1].PeriodKey)
}

func TestRedisStore_MalformedCounter(t *testing.T) {
	store, mr := setupRedisStore(t)
	userID := uuid.New()
	mr.HSet(counterKey(userID, "p"), "used", "many")

	_, err := store.Lookup(context.Background(), userID, "p")
	assert.ErrorContains(t, err, "malformed")
}

func TestRedisStore_ConnectionFailure(t *testing.T) {
	store, mr := setupRedisStore(t)
	mr.Close()

	_, err := store.ConsumeAtomic(context.Background(), uuid.New(), "p", 1, 10)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCeilingReached))
}

// hgetallFailingClient fails every HGETALL while scripts still run.
type hgetallFailingClient struct {
	*redis.Client
}

func (c hgetallFailingClient) HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd {
	cmd := redis.NewMapStringStringCmd(ctx, "hgetall", key)
	cmd.SetErr(errors.New("conn reset"))
	return cmd
}

func TestRedisStore_ConsumeDoesNotReadBackAfterCommit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(hgetallFailingClient{Client: client})
	fixed := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }
	ctx := context.Background()
	userID := uuid.New()

	c, err := store.ConsumeAtomic(ctx, userID, "2024-01-01", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Used)
	assert.Equal(t, "2024-01-01", c.PeriodKey)
	assert.Equal(t, fixed, c.CreatedAt)
	assert.Equal(t, fixed, c.UpdatedAt)

	stored, err := strconv.Atoi(mr.HGet(counterKey(userID, "2024-01-01"), "used"))
	require.NoError(t, err)
	assert.Equal(t, 1, stored)
}

func TestRedisStore_ConsumeKeepsCreatedAt(t *testing.T) {
	store, _ := setupRedisStore(t)
	ctx := context.Background()
	userID := uuid.New()

	first := time.Date(2024, 1, 3, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }
	_, err := store.ConsumeAtomic(ctx, userID, "p", 1, 10)
	require.NoError(t, err)

	later := first.Add(time.Hour)
	store.now = func() time.Time { return later }
	c, err := store.ConsumeAtomic(ctx, userID, "p", 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Used)
	assert.Equal(t, first, c.CreatedAt)
	assert.Equal(t, later, c.UpdatedAt)
}
