// Package memory provides an in-memory chatgate.Store.
//
// State is lost on restart; use it for tests, local development and
// single-instance deployments that do not need durable accounting.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ineyio/chatgate"
)

// Store is an in-memory Store keyed by identity.
type Store struct {
	mu       sync.RWMutex
	accounts map[string]*chatgate.Account
	events   []chatgate.UsageEvent
	now      func() time.Time
}

var _ chatgate.Store = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithClock overrides the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts: make(map[string]*chatgate.Account),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the account for identity.
func (s *Store) Get(_ context.Context, identity string) (chatgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[identity]
	if !ok {
		return chatgate.Account{}, chatgate.ErrAccountNotFound
	}
	return *acc, nil
}

// Create inserts acc unless the identity already has an account.
func (s *Store) Create(_ context.Context, acc chatgate.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.Identity]; ok {
		return chatgate.ErrAccountExists
	}
	stored := acc
	s.accounts[acc.Identity] = &stored
	return nil
}

// ResetWindow zeroes the daily count if the stored date differs from day.
func (s *Store) ResetWindow(_ context.Context, identity string, day chatgate.Day) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[identity]
	if !ok {
		return chatgate.ErrAccountNotFound
	}
	if acc.UsageDate != day {
		acc.DailyCount = 0
		acc.UsageDate = day
		acc.UpdatedAt = s.now().UTC()
	}
	return nil
}

// IncrementUsage bumps both counters and returns the new daily count.
func (s *Store) IncrementUsage(_ context.Context, identity string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[identity]
	if !ok {
		return 0, chatgate.ErrAccountNotFound
	}
	acc.DailyCount++
	acc.LifetimeCount++
	acc.UpdatedAt = s.now().UTC()
	return acc.DailyCount, nil
}

// AppendUsage records a usage event.
func (s *Store) AppendUsage(_ context.Context, event chatgate.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all recorded usage events, oldest first.
func (s *Store) Events(identity string) []chatgate.UsageEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []chatgate.UsageEvent
	for _, e := range s.events {
		if identity == "" || e.Identity == identity {
			out = append(out, e)
		}
	}
	return out
}

// Put stores acc unconditionally, replacing any existing row. Intended for seeding.
func (s *Store) Put(acc chatgate.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := acc
	s.accounts[acc.Identity] = &stored
}

// Len returns the number of accounts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// FindByCustomer returns the account linked to customerID.
func (s *Store) FindByCustomer(_ context.Context, customerID string) (chatgate.Account, error) {
	return s.find(func(a *chatgate.Account) bool {
		return customerID != "" && a.Billing.CustomerID == customerID
	})
}

// FindBySubscription returns the account linked to subscriptionID.
func (s *Store) FindBySubscription(_ context.Context, subscriptionID string) (chatgate.Account, error) {
	return s.find(func(a *chatgate.Account) bool {
		return subscriptionID != "" && a.Billing.SubscriptionID == subscriptionID
	})
}

// UpdateBilling sets the tier and optionally the billing linkage.
func (s *Store) UpdateBilling(_ context.Context, identity string, tier chatgate.Tier, ref *chatgate.BillingRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[identity]
	if !ok {
		return chatgate.ErrAccountNotFound
	}
	acc.Tier = tier
	if ref != nil {
		acc.Billing = *ref
	}
	acc.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) find(match func(*chatgate.Account) bool) (chatgate.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if match(acc) {
			return *acc, nil
		}
	}
	return chatgate.Account{}, chatgate.ErrAccountNotFound
}
