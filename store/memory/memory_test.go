package memory_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/store/memory"
)

var day = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	_, err := s.Get(ctx, "u")
	assert.ErrorIs(t, err, chatgate.ErrAccountNotFound)

	require.NoError(t, s.Create(ctx, chatgate.NewAccount("u", day)))
	assert.ErrorIs(t, s.Create(ctx, chatgate.NewAccount("u", day)), chatgate.ErrAccountExists)

	acc, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, chatgate.TierFree, acc.Tier)
	assert.Equal(t, chatgate.Day("2026-03-04"), acc.UsageDate)
}

func TestConcurrentCreate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.Create(ctx, chatgate.NewAccount("u", day)) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 1, s.Len())
}

func TestResetAndIncrement(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.Create(ctx, chatgate.NewAccount("u", day.Add(-24*time.Hour))))

	n, err := s.IncrementUsage(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, s.ResetWindow(ctx, "u", "2026-03-04"))
	n, err = s.IncrementUsage(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Same-day reset is a no-op.
	require.NoError(t, s.ResetWindow(ctx, "u", "2026-03-04"))

	acc, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(1), acc.DailyCount)
	assert.Equal(t, int64(2), acc.LifetimeCount)
	assert.Equal(t, chatgate.Day("2026-03-04"), acc.UsageDate)

	// A row dated after day still starts a fresh window.
	require.NoError(t, s.ResetWindow(ctx, "u", "2026-03-01"))
	acc, err = s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, int64(0), acc.DailyCount)
	assert.Equal(t, chatgate.Day("2026-03-01"), acc.UsageDate)

	_, err = s.IncrementUsage(ctx, "ghost")
	assert.ErrorIs(t, err, chatgate.ErrAccountNotFound)
	assert.ErrorIs(t, s.ResetWindow(ctx, "ghost", "2026-03-04"), chatgate.ErrAccountNotFound)
}

func TestBillingLookups(t *testing.T) {
	ctx := context.Background()
	s := memory.New(memory.WithClock(func() time.Time { return day }))
	require.NoError(t, s.Create(ctx, chatgate.NewAccount("u", day.Add(-time.Hour))))

	_, err := s.FindByCustomer(ctx, "")
	assert.ErrorIs(t, err, chatgate.ErrAccountNotFound)

	ref := &chatgate.BillingRef{CustomerID: "cus_1", SubscriptionID: "sub_1"}
	require.NoError(t, s.UpdateBilling(ctx, "u", chatgate.TierActive, ref))

	acc, err := s.FindByCustomer(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "u", acc.Identity)
	assert.Equal(t, chatgate.TierActive, acc.Tier)
	assert.Equal(t, day, acc.UpdatedAt)

	require.NoError(t, s.UpdateBilling(ctx, "u", chatgate.TierPastDue, nil))
	acc, err = s.FindBySubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, chatgate.TierPastDue, acc.Tier)
	assert.Equal(t, "cus_1", acc.Billing.CustomerID)

	assert.ErrorIs(t, s.UpdateBilling(ctx, "ghost", chatgate.TierActive, nil), chatgate.ErrAccountNotFound)
}

func TestEventsFilterByIdentity(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	require.NoError(t, s.AppendUsage(ctx, chatgate.UsageEvent{ID: "1", Identity: "a"}))
	require.NoError(t, s.AppendUsage(ctx, chatgate.UsageEvent{ID: "2", Identity: "b"}))
	require.NoError(t, s.AppendUsage(ctx, chatgate.UsageEvent{ID: "3", Identity: "a"}))

	assert.Len(t, s.Events("a"), 2)
	assert.Len(t, s.Events(""), 3)
}
