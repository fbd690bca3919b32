package chatgate

import "context"

// AccountStore persists accounts for the admission gate.
//
// Implementations must enforce one account per identity: Create returns
// ErrAccountExists when a row for the identity is already present.
type AccountStore interface {
	// Get returns the account for identity, or ErrAccountNotFound.
	Get(ctx context.Context, identity string) (Account, error)

	// Create inserts a new account. Returns ErrAccountExists on a uniqueness conflict.
	Create(ctx context.Context, acc Account) error

	// ResetWindow zeroes the daily counter and moves the usage date to day
	// whenever the stored date differs, later dates included. Repeating it
	// within a day is a no-op.
	ResetWindow(ctx context.Context, identity string, day Day) error

	// IncrementUsage adds one to the daily and lifetime counters and returns
	// the new daily count.
	IncrementUsage(ctx context.Context, identity string) (int64, error)
}

// UsageLog appends usage events.
type UsageLog interface {
	AppendUsage(ctx context.Context, event UsageEvent) error
}

// BillingStore applies payment-provider state to accounts.
type BillingStore interface {
	// FindByCustomer returns the account linked to a payment customer, or ErrAccountNotFound.
	FindByCustomer(ctx context.Context, customerID string) (Account, error)

	// FindBySubscription returns the account linked to a subscription, or ErrAccountNotFound.
	FindBySubscription(ctx context.Context, subscriptionID string) (Account, error)

	// UpdateBilling sets the tier and, when ref is non-nil, the billing linkage.
	// Returns ErrAccountNotFound when no account exists for identity.
	UpdateBilling(ctx context.Context, identity string, tier Tier, ref *BillingRef) error
}

// Store is the full persistence surface implemented by every backend.
type Store interface {
	AccountStore
	UsageLog
	BillingStore
}
