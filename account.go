package chatgate

import "time"

// Tier is the subscription entitlement level of an account.
// Billing events may store provider-reported statuses that are not one of
// the constants below; those are representable and block admission.
type Tier string

const (
	TierFree      Tier = "free"
	TierActive    Tier = "active"
	TierPastDue   Tier = "past_due"
	TierCancelled Tier = "cancelled"
)

// Admitted reports whether the tier may consume generations at all.
func (t Tier) Admitted() bool {
	return t == TierFree || t == TierActive
}

// Day is a UTC calendar date in YYYY-MM-DD form. Days compare correctly as strings.
type Day string

const dayLayout = "2006-01-02"

// DayOf returns the UTC calendar day containing t.
func DayOf(t time.Time) Day {
	return Day(t.UTC().Format(dayLayout))
}

// Time returns midnight UTC of the day. An unparsable day yields the zero time.
func (d Day) Time() time.Time {
	t, err := time.Parse(dayLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// BillingRef links an account to the payment provider's customer and subscription.
type BillingRef struct {
	CustomerID     string `json:"customer_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
}

// Account is the per-identity usage and entitlement record.
type Account struct {
	Identity      string
	Tier          Tier
	DailyCount    int64
	UsageDate     Day
	LifetimeCount int64
	Billing       BillingRef
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewAccount returns the record provisioned for a first-seen identity.
func NewAccount(identity string, now time.Time) Account {
	return Account{
		Identity:  identity,
		Tier:      TierFree,
		UsageDate: DayOf(now),
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

// UsageEvent is an append-only audit record of one admitted generation.
type UsageEvent struct {
	ID           string
	Identity     string
	InputTokens  int64
	OutputTokens int64
	Cost         Cost
	Model        string
	CreatedAt    time.Time
}
