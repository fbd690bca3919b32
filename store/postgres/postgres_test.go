//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/chatgate"
	storepg "github.com/ineyio/chatgate/store/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/chatgate_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *storepg.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := storepg.New(pool, storepg.WithTablePrefix(prefix))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %saccounts, %susage_events", prefix, prefix))
	})
	return s
}

func TestCreateAndGet(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := store.Create(ctx, chatgate.NewAccount("user-1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	acc, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Tier != chatgate.TierFree || acc.DailyCount != 0 || acc.UsageDate != "2026-03-04" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	if _, err := store.Get(ctx, "nobody"); err != chatgate.ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestCreateConflict(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	acc := chatgate.NewAccount("user-1", time.Now())
	if err := store.Create(ctx, acc); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Create(ctx, acc); err != chatgate.ErrAccountExists {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestConcurrentCreate(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]error, 10)
	for i := range results {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = store.Create(ctx, chatgate.NewAccount("racer", time.Now()))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range results {
		switch err {
		case nil:
			created++
		case chatgate.ErrAccountExists:
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("expected exactly one create to win, got %d", created)
	}
}

func TestResetAndIncrement(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	acc := chatgate.NewAccount("user-1", time.Date(2026, 3, 3, 23, 59, 0, 0, time.UTC))
	acc.DailyCount = 9
	acc.LifetimeCount = 40
	if err := store.Create(ctx, acc); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := store.ResetWindow(ctx, "user-1", "2026-03-04"); err != nil {
			t.Fatalf("reset: %v", err)
		}
	}

	daily, err := store.IncrementUsage(ctx, "user-1")
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if daily != 1 {
		t.Fatalf("expected daily=1, got %d", daily)
	}

	got, err := store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DailyCount != 1 || got.LifetimeCount != 41 || got.UsageDate != "2026-03-04" {
		t.Fatalf("unexpected account: %+v", got)
	}

	// A row dated after day still starts a fresh window.
	if err := store.ResetWindow(ctx, "user-1", "2026-03-01"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	got, err = store.Get(ctx, "user-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DailyCount != 0 || got.LifetimeCount != 41 || got.UsageDate != "2026-03-01" {
		t.Fatalf("unexpected account after reset: %+v", got)
	}
}

func TestBillingLookups(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	if err := store.Create(ctx, chatgate.NewAccount("user-1", time.Now())); err != nil {
		t.Fatalf("create: %v", err)
	}
	ref := &chatgate.BillingRef{CustomerID: "cus_1", SubscriptionID: "sub_1"}
	if err := store.UpdateBilling(ctx, "user-1", chatgate.TierActive, ref); err != nil {
		t.Fatalf("update billing: %v", err)
	}

	acc, err := store.FindByCustomer(ctx, "cus_1")
	if err != nil {
		t.Fatalf("find by customer: %v", err)
	}
	if acc.Identity != "user-1" || acc.Tier != chatgate.TierActive {
		t.Fatalf("unexpected account: %+v", acc)
	}

	if err := store.UpdateBilling(ctx, "user-1", chatgate.TierCancelled, nil); err != nil {
		t.Fatalf("update billing: %v", err)
	}
	acc, err = store.FindBySubscription(ctx, "sub_1")
	if err != nil {
		t.Fatalf("find by subscription: %v", err)
	}
	if acc.Tier != chatgate.TierCancelled || acc.Billing.CustomerID != "cus_1" {
		t.Fatalf("unexpected account: %+v", acc)
	}

	if err := store.UpdateBilling(ctx, "ghost", chatgate.TierActive, nil); err != chatgate.ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAppendUsage(t *testing.T) {
	pool := newTestPool(t)
	store := newTestStore(t, pool)
	ctx := context.Background()

	cost, err := chatgate.ParseCost("0.0105")
	if err != nil {
		t.Fatalf("parse cost: %v", err)
	}
	err = store.AppendUsage(ctx, chatgate.UsageEvent{
		ID:           "7d0f4b8e-2d8a-4a3f-9a53-3f5c2a1d9e10",
		Identity:     "user-1",
		InputTokens:  1000,
		OutputTokens: 500,
		Cost:         cost,
		Model:        chatgate.DefaultModel,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("append usage: %v", err)
	}

	var stored string
	err = pool.QueryRow(ctx, fmt.Sprintf("SELECT cost::text FROM test_%s_usage_events", strings.ToLower(t.Name()))).Scan(&stored)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if stored != "0.0105" {
		t.Fatalf("expected cost 0.0105, got %s", stored)
	}
}
