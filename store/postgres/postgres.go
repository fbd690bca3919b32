// Package postgres provides a PostgreSQL-backed chatgate.Store.
//
// Accounts live in one row per identity guarded by a primary key, so
// concurrent first-seen inserts resolve to a single row. Counter updates are
// single-statement increments. Usage events are append-only rows.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/chatgate"
)

// Store is a PostgreSQL-backed Store.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ chatgate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "chatgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed Store.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "chatgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) accountsTable() string { return s.tablePrefix + "accounts" }
func (s *Store) usageTable() string    { return s.tablePrefix + "usage_events" }

// EnsureSchema creates the required tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			identity TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			daily_count BIGINT NOT NULL DEFAULT 0,
			usage_date DATE NOT NULL,
			lifetime_count BIGINT NOT NULL DEFAULT 0,
			customer_id TEXT NOT NULL DEFAULT '',
			subscription_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS %[1]s_customer_idx ON %[1]s (customer_id);
		CREATE INDEX IF NOT EXISTS %[1]s_subscription_idx ON %[1]s (subscription_id);
		CREATE TABLE IF NOT EXISTS %[2]s (
			id UUID PRIMARY KEY,
			identity TEXT NOT NULL,
			input_tokens BIGINT NOT NULL,
			output_tokens BIGINT NOT NULL,
			cost NUMERIC NOT NULL,
			model TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s_identity_idx ON %[2]s (identity, created_at);
	`, s.accountsTable(), s.usageTable())
	_, err := s.pool.Exec(ctx, q)
	if err != nil {
		return fmt.Errorf("chatgate/postgres: ensure schema: %w", err)
	}
	return nil
}

const accountColumns = `identity, tier, daily_count, usage_date, lifetime_count, customer_id, subscription_id, created_at, updated_at`

// Get returns the account for identity.
func (s *Store) Get(ctx context.Context, identity string) (chatgate.Account, error) {
	return s.queryAccount(ctx, "get",
		fmt.Sprintf(`SELECT %s FROM %s WHERE identity = $1`, accountColumns, s.accountsTable()),
		identity,
	)
}

// Create inserts acc. A concurrent insert for the same identity loses with ErrAccountExists.
func (s *Store) Create(ctx context.Context, acc chatgate.Account) error {
	var inserted bool
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %s (identity, tier, daily_count, usage_date, lifetime_count, customer_id, subscription_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (identity) DO NOTHING
			RETURNING true`, s.accountsTable()),
		acc.Identity, string(acc.Tier), acc.DailyCount, acc.UsageDate.Time(), acc.LifetimeCount,
		acc.Billing.CustomerID, acc.Billing.SubscriptionID, acc.CreatedAt, acc.UpdatedAt,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return chatgate.ErrAccountExists
	}
	if err != nil {
		return fmt.Errorf("chatgate/postgres: create: %w", err)
	}
	return nil
}

// ResetWindow moves a usage date other than day to day and zeroes the daily count.
func (s *Store) ResetWindow(ctx context.Context, identity string, day chatgate.Day) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET daily_count = 0, usage_date = $1, updated_at = now()
			WHERE identity = $2 AND usage_date <> $1`, s.accountsTable()),
		day.Time(), identity,
	)
	if err != nil {
		return fmt.Errorf("chatgate/postgres: reset window: %w", err)
	}
	return nil
}

// IncrementUsage bumps both counters in one statement and returns the new daily count.
func (s *Store) IncrementUsage(ctx context.Context, identity string) (int64, error) {
	var daily int64
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`UPDATE %s SET daily_count = daily_count + 1, lifetime_count = lifetime_count + 1, updated_at = now()
			WHERE identity = $1
			RETURNING daily_count`, s.accountsTable()),
		identity,
	).Scan(&daily)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, chatgate.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("chatgate/postgres: increment usage: %w", err)
	}
	return daily, nil
}

// AppendUsage inserts a usage event.
func (s *Store) AppendUsage(ctx context.Context, e chatgate.UsageEvent) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, identity, input_tokens, output_tokens, cost, model, created_at)
			VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)`, s.usageTable()),
		e.ID, e.Identity, e.InputTokens, e.OutputTokens, e.Cost.String(), e.Model, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("chatgate/postgres: append usage: %w", err)
	}
	return nil
}

// FindByCustomer returns the account linked to customerID.
func (s *Store) FindByCustomer(ctx context.Context, customerID string) (chatgate.Account, error) {
	if customerID == "" {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return s.queryAccount(ctx, "find by customer",
		fmt.Sprintf(`SELECT %s FROM %s WHERE customer_id = $1 LIMIT 1`, accountColumns, s.accountsTable()),
		customerID,
	)
}

// FindBySubscription returns the account linked to subscriptionID.
func (s *Store) FindBySubscription(ctx context.Context, subscriptionID string) (chatgate.Account, error) {
	if subscriptionID == "" {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return s.queryAccount(ctx, "find by subscription",
		fmt.Sprintf(`SELECT %s FROM %s WHERE subscription_id = $1 LIMIT 1`, accountColumns, s.accountsTable()),
		subscriptionID,
	)
}

// UpdateBilling sets the tier and, when ref is non-nil, the billing linkage.
func (s *Store) UpdateBilling(ctx context.Context, identity string, tier chatgate.Tier, ref *chatgate.BillingRef) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	if ref != nil {
		tag, err = s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET tier = $1, customer_id = $2, subscription_id = $3, updated_at = now()
				WHERE identity = $4`, s.accountsTable()),
			string(tier), ref.CustomerID, ref.SubscriptionID, identity,
		)
	} else {
		tag, err = s.pool.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET tier = $1, updated_at = now() WHERE identity = $2`, s.accountsTable()),
			string(tier), identity,
		)
	}
	if err != nil {
		return fmt.Errorf("chatgate/postgres: update billing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return chatgate.ErrAccountNotFound
	}
	return nil
}

func (s *Store) queryAccount(ctx context.Context, op, query string, arg any) (chatgate.Account, error) {
	var (
		acc       chatgate.Account
		tier      string
		usageDate time.Time
	)
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&acc.Identity, &tier, &acc.DailyCount, &usageDate, &acc.LifetimeCount,
		&acc.Billing.CustomerID, &acc.Billing.SubscriptionID, &acc.CreatedAt, &acc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	if err != nil {
		return chatgate.Account{}, fmt.Errorf("chatgate/postgres: %s: %w", op, err)
	}
	acc.Tier = chatgate.Tier(tier)
	acc.UsageDate = chatgate.DayOf(usageDate)
	return acc, nil
}
