package usage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	inats "github.com/vatadvisor/usage/internal/nats"
)

type fakeUsers struct {
	accounts map[uuid.UUID]*Account
	err      error
}

func (f *fakeUsers) GetAccount(_ context.Context, userID uuid.UUID) (*Account, error) {
	if f.err != nil {
		return nil, f.err
	}
	acct, ok := f.accounts[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	return acct, nil
}

type fakeSubs struct {
	subs map[uuid.UUID]*SubscriptionState
	err  error
}

func (f *fakeSubs) GetSubscription(_ context.Context, userID uuid.UUID) (*SubscriptionState, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[userID]
	if !ok {
		return nil, ErrNoSubscription
	}
	return sub, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []inats.UsageEvent
	err    error
}

func (p *recordingPublisher) PublishUsageEvent(_ context.Context, event inats.UsageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []inats.UsageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]inats.UsageEvent(nil), p.events...)
}

// brokenStore fails every call.
type brokenStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenStore) ConsumeAtomic(context.Context, uuid.UUID, string, int, int) (*Counter, error) {
	return nil, errStoreDown
}

func (brokenStore) Lookup(context.Context, uuid.UUID, string) (CounterLookup, error) {
	return CounterLookup{}, errStoreDown
}

func (brokenStore) History(context.Context, uuid.UUID, int) ([]Counter, error) {
	return nil, errStoreDown
}

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	cat, err := NewCatalog(DefaultCatalogOptions())
	require.NoError(t, err)
	return cat
}

type testEnv struct {
	users     *fakeUsers
	subs      *fakeSubs
	store     *RedisStore
	publisher *recordingPublisher
	svc       *Service
	now       time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		users:     &fakeUsers{accounts: map[uuid.UUID]*Account{}},
		subs:      &fakeSubs{subs: map[uuid.UUID]*SubscriptionState{}},
		publisher: &recordingPublisher{},
		now:       date(2024, 1, 15),
	}
	env.store, _ = setupRedisStore(t)
	resolver := NewResolver(env.users, env.subs, testCatalog(t))
	env.svc = NewService(resolver, env.store,
		WithClock(func() time.Time { return env.now }),
		WithPublisher(env.publisher),
	)
	return env
}

func (e *testEnv) addUser(createdAt time.Time) uuid.UUID {
	id := uuid.New()
	e.users.accounts[id] = &Account{ID: id, CreatedAt: createdAt}
	return id
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
