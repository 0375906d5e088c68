package usage

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	counterKeyPrefix = "usage:counter:"
	periodsKeyPrefix = "usage:periods:"
)

// consumeScript runs atomically inside Redis.
// KEYS[1] counter hash, KEYS[2] set of the user's period keys.
// ARGV: amount, limit, now (unix ms), period key.
// Returns {used, created_at, updated_at} after the increment, or {-1} when
// the ceiling would be exceeded.
var consumeScript = redis.NewScript(`
local used = tonumber(redis.call('HGET', KEYS[1], 'used') or '0')
local amount = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
if used + amount > limit then
	return {-1}
end
used = redis.call('HINCRBY', KEYS[1], 'used', amount)
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[3])
redis.call('HSET', KEYS[1], 'updated_at', ARGV[3])
redis.call('SADD', KEYS[2], ARGV[4])
local ts = redis.call('HMGET', KEYS[1], 'created_at', 'updated_at')
return {used, ts[1], ts[2]}
`)
// RedisStore keeps counters in Redis hashes, one per (user, period).
type RedisStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewRedisStore creates a new Redis-backed CounterStore.
func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func counterKey(userID uuid.UUID, periodKey string) string {
	return counterKeyPrefix + userID.String() + ":" + periodKey
}

func periodsKey(userID uuid.UUID) string {
	return periodsKeyPrefix + userID.String()
}

// ConsumeAtomic builds the counter from the script reply alone. Once the
// script has run the charge is committed, so no later read may fail the call.
func (s *RedisStore) ConsumeAtomic(ctx context.Context, userID uuid.UUID, periodKey string, amount, limit int) (*Counter, error) {
	keys := []string{counterKey(userID, periodKey), periodsKey(userID)}
	reply, err := consumeScript.Run(ctx, s.rdb, keys, amount, limit, s.now().UnixMilli(), periodKey).Slice()
	if err != nil {
		return nil, fmt.Errorf("running consume script: %w", err)
	}
	if len(reply) == 0 {
		return nil, fmt.Errorf("running consume script: empty reply")
	}
	used, ok := reply[0].(int64)
	if !ok {
		return nil, fmt.Errorf("running consume script: unexpected used value %v", reply[0])
	}
	if used < 0 {
		return nil, ErrCeilingReached
	}

	c := &Counter{UserID: userID, PeriodKey: periodKey, Used: int(used)}
	if len(reply) > 1 {
		c.CreatedAt = parseMillis(reply[1])
	}
	if len(reply) > 2 {
		c.UpdatedAt = parseMillis(reply[2])
	}
	return c, nil
}

// parseMillis returns the zero time for anything that is not a unix ms string.
func parseMillis(v any) time.Time {
	str, ok := v.(string)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (s *RedisStore) Lookup(ctx context.Context, userID uuid.UUID, periodKey string) (CounterLookup, error) {
	fields, err := s.rdb.HGetAll(ctx, counterKey(userID, periodKey)).Result()
	if err != nil {
		return CounterLookup{}, fmt.Errorf("reading usage counter: %w", err)
	}
	if len(fields) == 0 {
		return CounterLookup{}, nil
	}

	c, err := parseCounter(userID, periodKey, fields)
	if err != nil {
		return CounterLookup{}, err
	}
	return CounterLookup{Counter: c, Found: true}, nil
}

func (s *RedisStore) History(ctx context.Context, userID uuid.UUID, limit int) ([]Counter, error) {
	periods, err := s.rdb.SMembers(ctx, periodsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("listing usage periods: %w", err)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(periods)))
	if limit > 0 && len(periods) > limit {
		periods = periods[:limit]
	}

	counters := make([]Counter, 0, len(periods))
	for _, pk := range periods {
		lookup, err := s.Lookup(ctx, userID, pk)
		if err != nil {
			return nil, err
		}
		if lookup.Found {
			counters = append(counters, lookup.Counter)
		}
	}
	return counters, nil
}

func parseCounter(userID uuid.UUID, periodKey string, fields map[string]string) (Counter, error) {
	used, err := strconv.Atoi(fields["used"])
	if err != nil {
		return Counter{}, fmt.Errorf("malformed used value %q for %s: %w", fields["used"], periodKey, err)
	}
	c := Counter{UserID: userID, PeriodKey: periodKey, Used: used}
	c.CreatedAt = parseMillis(fields["created_at"])
	c.UpdatedAt = parseMillis(fields["updated_at"])
	return c, nil
}
