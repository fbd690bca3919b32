// Package sqlite provides a SQLite-backed chatgate.Store using the pure-Go
// modernc.org/sqlite driver. It suits single-node deployments that still
// want accounting to survive a restart.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ineyio/chatgate"
)

// Store is a SQLite-backed Store.
type Store struct {
	db          *sql.DB
	tablePrefix string
}

var _ chatgate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "chatgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

const pragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Open opens a SQLite database at dsn with a busy timeout and WAL journal.
// dsn may be a plain path or a file: URI that already carries a query.
// Writers are serialized through a single connection.
func Open(dsn string) (*sql.DB, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dsn+sep+pragmas)
	if err != nil {
		return nil, fmt.Errorf("chatgate/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// New creates a new SQLite-backed Store over db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:          db,
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
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			identity TEXT PRIMARY KEY,
			tier TEXT NOT NULL DEFAULT 'free',
			daily_count INTEGER NOT NULL DEFAULT 0,
			usage_date TEXT NOT NULL,
			lifetime_count INTEGER NOT NULL DEFAULT 0,
			customer_id TEXT NOT NULL DEFAULT '',
			subscription_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`, s.accountsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_customer_idx ON %[1]s (customer_id)`, s.accountsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_subscription_idx ON %[1]s (subscription_id)`, s.accountsTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			identity TEXT NOT NULL,
			input_tokens INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost TEXT NOT NULL,
			model TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`, s.usageTable()),
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("chatgate/sqlite: ensure schema: %w", err)
		}
	}
	return nil
}

const accountColumns = `identity, tier, daily_count, usage_date, lifetime_count, customer_id, subscription_id, created_at, updated_at`

// Get returns the account for identity.
func (s *Store) Get(ctx context.Context, identity string) (chatgate.Account, error) {
	return s.queryAccount(ctx, "get",
		fmt.Sprintf(`SELECT %s FROM %s WHERE identity = ?`, accountColumns, s.accountsTable()),
		identity,
	)
}

// Create inserts acc. A concurrent insert for the same identity loses with ErrAccountExists.
func (s *Store) Create(ctx context.Context, acc chatgate.Account) error {
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (identity) DO NOTHING`, s.accountsTable(), accountColumns),
		acc.Identity, string(acc.Tier), acc.DailyCount, string(acc.UsageDate), acc.LifetimeCount,
		acc.Billing.CustomerID, acc.Billing.SubscriptionID, acc.CreatedAt.Unix(), acc.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("chatgate/sqlite: create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("chatgate/sqlite: create: %w", err)
	}
	if n == 0 {
		return chatgate.ErrAccountExists
	}
	return nil
}

// ResetWindow moves a usage date other than day to day and zeroes the daily count.
func (s *Store) ResetWindow(ctx context.Context, identity string, day chatgate.Day) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET daily_count = 0, usage_date = ?, updated_at = ?
			WHERE identity = ? AND usage_date <> ?`, s.accountsTable()),
		string(day), time.Now().Unix(), identity, string(day),
	)
	if err != nil {
		return fmt.Errorf("chatgate/sqlite: reset window: %w", err)
	}
	return nil
}

// IncrementUsage bumps both counters in one statement and returns the new daily count.
func (s *Store) IncrementUsage(ctx context.Context, identity string) (int64, error) {
	var daily int64
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s SET daily_count = daily_count + 1, lifetime_count = lifetime_count + 1, updated_at = ?
			WHERE identity = ?
			RETURNING daily_count`, s.accountsTable()),
		time.Now().Unix(), identity,
	).Scan(&daily)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, chatgate.ErrAccountNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("chatgate/sqlite: increment usage: %w", err)
	}
	return daily, nil
}

// AppendUsage inserts a usage event. Cost is stored as its exact decimal text.
func (s *Store) AppendUsage(ctx context.Context, e chatgate.UsageEvent) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, identity, input_tokens, output_tokens, cost, model, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, s.usageTable()),
		e.ID, e.Identity, e.InputTokens, e.OutputTokens, e.Cost.String(), e.Model, e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("chatgate/sqlite: append usage: %w", err)
	}
	return nil
}

// FindByCustomer returns the account linked to customerID.
func (s *Store) FindByCustomer(ctx context.Context, customerID string) (chatgate.Account, error) {
	if customerID == "" {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return s.queryAccount(ctx, "find by customer",
		fmt.Sprintf(`SELECT %s FROM %s WHERE customer_id = ? LIMIT 1`, accountColumns, s.accountsTable()),
		customerID,
	)
}

// FindBySubscription returns the account linked to subscriptionID.
func (s *Store) FindBySubscription(ctx context.Context, subscriptionID string) (chatgate.Account, error) {
	if subscriptionID == "" {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return s.queryAccount(ctx, "find by subscription",
		fmt.Sprintf(`SELECT %s FROM %s WHERE subscription_id = ? LIMIT 1`, accountColumns, s.accountsTable()),
		subscriptionID,
	)
}

// UpdateBilling sets the tier and, when ref is non-nil, the billing linkage.
func (s *Store) UpdateBilling(ctx context.Context, identity string, tier chatgate.Tier, ref *chatgate.BillingRef) error {
	var (
		res sql.Result
		err error
	)
	now := time.Now().Unix()
	if ref != nil {
		res, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET tier = ?, customer_id = ?, subscription_id = ?, updated_at = ?
				WHERE identity = ?`, s.accountsTable()),
			string(tier), ref.CustomerID, ref.SubscriptionID, now, identity,
		)
	} else {
		res, err = s.db.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET tier = ?, updated_at = ? WHERE identity = ?`, s.accountsTable()),
			string(tier), now, identity,
		)
	}
	if err != nil {
		return fmt.Errorf("chatgate/sqlite: update billing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("chatgate/sqlite: update billing: %w", err)
	}
	if n == 0 {
		return chatgate.ErrAccountNotFound
	}
	return nil
}

func (s *Store) queryAccount(ctx context.Context, op, query string, arg any) (chatgate.Account, error) {
	var (
		acc                  chatgate.Account
		tier, usageDate      string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&acc.Identity, &tier, &acc.DailyCount, &usageDate, &acc.LifetimeCount,
		&acc.Billing.CustomerID, &acc.Billing.SubscriptionID, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	if err != nil {
		return chatgate.Account{}, fmt.Errorf("chatgate/sqlite: %s: %w", op, err)
	}
	acc.Tier = chatgate.Tier(tier)
	acc.UsageDate = chatgate.Day(usageDate)
	acc.CreatedAt = time.Unix(createdAt, 0).UTC()
	acc.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return acc, nil
}
