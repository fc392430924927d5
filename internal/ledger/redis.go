package ledger

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// =============================================================================
// RedisStore Implementation
// =============================================================================

// usageRetention keeps a period's hash alive this long after the period ends.
// The sweeper normally deletes it first.
const usageRetention = 400 * 24 * time.Hour

// chargeScript applies a charge atomically. Redis runs scripts one at a time,
// so no other charge can interleave between the read and the increments.
//
// KEYS[1] usage hash, KEYS[2] suspension flag
// ARGV amount, interactions, ceiling, quota, updated (unix), expire-at (unix)
// Returns {status, spent, interactions}; status 0 ok, 1 suspended,
// 2 over budget, 3 over quota.
var chargeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {1, 0, 0}
end
local spent = tonumber(redis.call('HGET', KEYS[1], 'spent') or '0')
local used = tonumber(redis.call('HGET', KEYS[1], 'interactions') or '0')
local amount = tonumber(ARGV[1])
local inter = tonumber(ARGV[2])
local ceiling = tonumber(ARGV[3])
local quota = tonumber(ARGV[4])
if spent + amount > ceiling then
  return {2, spent, used}
end
if quota > 0 and used + inter > quota then
  return {3, spent, used}
end
redis.call('HINCRBY', KEYS[1], 'spent', amount)
redis.call('HINCRBY', KEYS[1], 'interactions', inter)
redis.call('HSET', KEYS[1], 'updated', ARGV[5])
redis.call('EXPIREAT', KEYS[1], ARGV[6])
return {0, spent + amount, used + inter}
`)

// RedisStore keeps usage in Redis hashes keyed by user and period. It is
// suited to deployments running several gate processes against one Redis.
type RedisStore struct {
	client *redis.Client
	prefix string
	now    Clock
}

// NewRedisStore creates a RedisStore. Keys are namespaced with prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "plangate"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) usageKey(userID uuid.UUID, period domain.BillingPeriod) string {
	return fmt.Sprintf("%s:usage:%s:%s", s.prefix, userID, period.Key())
}

func (s *RedisStore) suspendedKey(userID uuid.UUID) string {
	return fmt.Sprintf("%s:suspended:%s", s.prefix, userID)
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, userID uuid.UUID, period domain.BillingPeriod) (*domain.UsageRecord, error) {
	pipe := s.client.Pipeline()
	fields := pipe.HMGet(ctx, s.usageKey(userID, period), "spent", "interactions", "updated")
	exists := pipe.Exists(ctx, s.suspendedKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get usage for user %s: %w", userID, err)
	}

	vals, err := fields.Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get usage for user %s: %w", userID, err)
	}

	rec := &domain.UsageRecord{
		UserID:    userID,
		Period:    period,
		Suspended: exists.Val() == 1,
	}
	if len(vals) == 3 {
		rec.BudgetSpent = parseInt(vals[0])
		rec.InteractionsConsumed = parseInt(vals[1])
		if ts := parseInt(vals[2]); ts > 0 {
			rec.UpdatedAt = time.Unix(ts, 0).UTC()
		}
	}
	return rec, nil
}

// Charge implements Store.
func (s *RedisStore) Charge(ctx context.Context, req ChargeRequest, period domain.BillingPeriod) (*domain.UsageRecord, error) {
	now := s.now().UTC()
	keys := []string{s.usageKey(req.UserID, period), s.suspendedKey(req.UserID)}
	res, err := chargeScript.Run(ctx, s.client, keys,
		req.Amount,
		req.Interactions,
		req.BudgetCeiling,
		req.InteractionQuota,
		now.Unix(),
		period.End.Add(usageRetention).Unix(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("running charge script for user %s: %w", req.UserID, err)
	}
	if len(res) != 3 {
		return nil, fmt.Errorf("charge script returned %d values", len(res))
	}

	status, spent, used := parseInt(res[0]), parseInt(res[1]), parseInt(res[2])
	switch status {
	case 0:
		return &domain.UsageRecord{
			UserID:               req.UserID,
			Period:               period,
			BudgetSpent:          spent,
			InteractionsConsumed: used,
			UpdatedAt:            now.Truncate(time.Second),
		}, nil
	case 1:
		return nil, &ChargeError{UserID: req.UserID, Err: ErrSuspended}
	case 2:
		return nil, &ChargeError{UserID: req.UserID, Err: ErrInsufficientBudget, Shortfall: spent + req.Amount - req.BudgetCeiling}
	case 3:
		return nil, &ChargeError{UserID: req.UserID, Err: ErrQuotaExhausted, Used: used, Limit: req.InteractionQuota}
	}
	return nil, fmt.Errorf("charge script returned unknown status %d", status)
}

// SetSuspended implements Store.
func (s *RedisStore) SetSuspended(ctx context.Context, userID uuid.UUID, suspended bool) error {
	key := s.suspendedKey(userID)
	var err error
	if suspended {
		err = s.client.Set(ctx, key, strconv.FormatInt(s.now().Unix(), 10), 0).Err()
	} else {
		err = s.client.Del(ctx, key).Err()
	}
	if err != nil {
		return fmt.Errorf("updating suspension for user %s: %w", userID, err)
	}
	return nil
}

// PurgeBefore implements Store. Period keys sort lexically by month, so a key
// is stale when its month sorts before the cutoff month.
func (s *RedisStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffKey := domain.MonthlyPeriod(cutoff).Key()
	pattern := s.prefix + ":usage:*"

	var removed int64
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		idx := strings.LastIndex(key, ":")
		if idx < 0 || key[idx+1:] >= cutoffKey {
			continue
		}
		n, err := s.client.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("purging %s: %w", key, err)
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scanning usage keys: %w", err)
	}
	return removed, nil
}

func parseInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}
