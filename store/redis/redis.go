// Package redis provides a Redis-backed chatgate.Store.
//
// Each account is a hash written by Lua scripts so creation, window reset and
// counter updates are atomic per account. Billing identifiers are indexed by
// plain string keys and usage events are appended to a stream.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/chatgate"
)

// Store is a Redis-backed Store.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
}

var _ chatgate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "chatgate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed Store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "chatgate:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountKey(identity string) string {
	return s.keyPrefix + "account:" + identity
}

func (s *Store) customerKey(customerID string) string {
	return s.keyPrefix + "customer:" + customerID
}

func (s *Store) subscriptionKey(subscriptionID string) string {
	return s.keyPrefix + "subscription:" + subscriptionID
}

func (s *Store) usageKey() string {
	return s.keyPrefix + "usage"
}

// createScript inserts an account hash only if it does not exist.
// KEYS[1] = account hash key
// ARGV    = field/value pairs
//
// Returns 1 when created, 0 when the account already exists.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV))
return 1
`)

// resetScript moves the usage date to ARGV[1] and zeroes the daily count when they differ.
// KEYS[1] = account hash key
// ARGV[1] = day (YYYY-MM-DD)
// ARGV[2] = now (unix seconds)
//
// Returns -1 when the account does not exist, 1 when reset, 0 when already current.
var resetScript = goredis.NewScript(`
local usage_date = redis.call("HGET", KEYS[1], "usage_date")
if not usage_date then
    return -1
end
if usage_date ~= ARGV[1] then
    redis.call("HSET", KEYS[1], "daily_count", "0", "usage_date", ARGV[1], "updated_at", ARGV[2])
    return 1
end
return 0
`)

// incrementScript bumps both counters.
// KEYS[1] = account hash key
// ARGV[1] = now (unix seconds)
//
// Returns the new daily count, or -1 when the account does not exist.
var incrementScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return -1
end
redis.call("HINCRBY", KEYS[1], "lifetime_count", 1)
redis.call("HSET", KEYS[1], "updated_at", ARGV[1])
return redis.call("HINCRBY", KEYS[1], "daily_count", 1)
`)

// billingScript updates tier and optionally billing linkage plus its index keys.
// KEYS[1] = account hash key
// KEYS[2] = customer index key
// KEYS[3] = subscription index key
// ARGV[1] = tier
// ARGV[2] = now (unix seconds)
// ARGV[3] = has_ref ("1" or "0")
// ARGV[4] = customer id
// ARGV[5] = subscription id
// ARGV[6] = identity
//
// Returns 1 on success, 0 when the account does not exist.
var billingScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], "tier", ARGV[1], "updated_at", ARGV[2])
if ARGV[3] == "1" then
    redis.call("HSET", KEYS[1], "customer_id", ARGV[4], "subscription_id", ARGV[5])
    if ARGV[4] ~= "" then
        redis.call("SET", KEYS[2], ARGV[6])
    end
    if ARGV[5] ~= "" then
        redis.call("SET", KEYS[3], ARGV[6])
    end
end
return 1
`)

// Get returns the account for identity.
func (s *Store) Get(ctx context.Context, identity string) (chatgate.Account, error) {
	vals, err := s.client.HGetAll(ctx, s.accountKey(identity)).Result()
	if err != nil {
		return chatgate.Account{}, fmt.Errorf("chatgate/redis: get: %w", err)
	}
	if len(vals) == 0 {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return decodeAccount(identity, vals), nil
}

// Create inserts acc unless the identity already has an account.
func (s *Store) Create(ctx context.Context, acc chatgate.Account) error {
	result, err := createScript.Run(ctx, s.client,
		[]string{s.accountKey(acc.Identity)},
		"tier", string(acc.Tier),
		"daily_count", acc.DailyCount,
		"usage_date", string(acc.UsageDate),
		"lifetime_count", acc.LifetimeCount,
		"customer_id", acc.Billing.CustomerID,
		"subscription_id", acc.Billing.SubscriptionID,
		"created_at", acc.CreatedAt.Unix(),
		"updated_at", acc.UpdatedAt.Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("chatgate/redis: create: %w", err)
	}
	if result == 0 {
		return chatgate.ErrAccountExists
	}
	return nil
}

// ResetWindow moves a usage date other than day to day and zeroes the daily count.
func (s *Store) ResetWindow(ctx context.Context, identity string, day chatgate.Day) error {
	result, err := resetScript.Run(ctx, s.client,
		[]string{s.accountKey(identity)},
		string(day), time.Now().UTC().Unix(),
	).Int64()
	if err != nil {
		return fmt.Errorf("chatgate/redis: reset window: %w", err)
	}
	if result == -1 {
		return chatgate.ErrAccountNotFound
	}
	return nil
}

// IncrementUsage bumps both counters and returns the new daily count.
func (s *Store) IncrementUsage(ctx context.Context, identity string) (int64, error) {
	daily, err := incrementScript.Run(ctx, s.client,
		[]string{s.accountKey(identity)},
		time.Now().UTC().Unix(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("chatgate/redis: increment usage: %w", err)
	}
	if daily == -1 {
		return 0, chatgate.ErrAccountNotFound
	}
	return daily, nil
}

// AppendUsage adds a usage event to the usage stream.
func (s *Store) AppendUsage(ctx context.Context, e chatgate.UsageEvent) error {
	err := s.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: s.usageKey(),
		Values: map[string]any{
			"id":            e.ID,
			"identity":      e.Identity,
			"input_tokens":  e.InputTokens,
			"output_tokens": e.OutputTokens,
			"cost":          e.Cost.String(),
			"model":         e.Model,
			"created_at":    e.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("chatgate/redis: append usage: %w", err)
	}
	return nil
}

// FindByCustomer returns the account linked to customerID.
func (s *Store) FindByCustomer(ctx context.Context, customerID string) (chatgate.Account, error) {
	if customerID == "" {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	acc, err := s.findByIndex(ctx, s.customerKey(customerID))
	if err != nil {
		return chatgate.Account{}, err
	}
	// The index may point at an account that has since been relinked.
	if acc.Billing.CustomerID != customerID {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return acc, nil
}

// FindBySubscription returns the account linked to subscriptionID.
func (s *Store) FindBySubscription(ctx context.Context, subscriptionID string) (chatgate.Account, error) {
	if subscriptionID == "" {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	acc, err := s.findByIndex(ctx, s.subscriptionKey(subscriptionID))
	if err != nil {
		return chatgate.Account{}, err
	}
	if acc.Billing.SubscriptionID != subscriptionID {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return acc, nil
}

// UpdateBilling sets the tier and, when ref is non-nil, the billing linkage.
func (s *Store) UpdateBilling(ctx context.Context, identity string, tier chatgate.Tier, ref *chatgate.BillingRef) error {
	hasRef := "0"
	var customerID, subscriptionID string
	if ref != nil {
		hasRef = "1"
		customerID, subscriptionID = ref.CustomerID, ref.SubscriptionID
	}

	result, err := billingScript.Run(ctx, s.client,
		[]string{s.accountKey(identity), s.customerKey(customerID), s.subscriptionKey(subscriptionID)},
		string(tier), time.Now().UTC().Unix(), hasRef, customerID, subscriptionID, identity,
	).Int64()
	if err != nil {
		return fmt.Errorf("chatgate/redis: update billing: %w", err)
	}
	if result == 0 {
		return chatgate.ErrAccountNotFound
	}
	return nil
}

func (s *Store) findByIndex(ctx context.Context, indexKey string) (chatgate.Account, error) {
	identity, err := s.client.Get(ctx, indexKey).Result()
	if err == goredis.Nil {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	if err != nil {
		return chatgate.Account{}, fmt.Errorf("chatgate/redis: index lookup: %w", err)
	}
	return s.Get(ctx, identity)
}

func decodeAccount(identity string, vals map[string]string) chatgate.Account {
	daily, _ := strconv.ParseInt(vals["daily_count"], 10, 64)
	lifetime, _ := strconv.ParseInt(vals["lifetime_count"], 10, 64)
	createdAt, _ := strconv.ParseInt(vals["created_at"], 10, 64)
	updatedAt, _ := strconv.ParseInt(vals["updated_at"], 10, 64)

	return chatgate.Account{
		Identity:      identity,
		Tier:          chatgate.Tier(vals["tier"]),
		DailyCount:    daily,
		UsageDate:     chatgate.Day(vals["usage_date"]),
		LifetimeCount: lifetime,
		Billing: chatgate.BillingRef{
			CustomerID:     vals["customer_id"],
			SubscriptionID: vals["subscription_id"],
		},
		CreatedAt: time.Unix(createdAt, 0).UTC(),
		UpdatedAt: time.Unix(updatedAt, 0).UTC(),
	}
}
