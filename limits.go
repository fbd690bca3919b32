package chatgate

import "fmt"

// Limits is the tier-to-daily-limit table plus request defaults.
type Limits struct {
	Tiers            map[Tier]int64 `yaml:"tiers"`
	DefaultMaxTokens int            `yaml:"default_max_tokens"`
}

// DefaultLimits returns free=10, active=100 and a 1024 token default.
func DefaultLimits() Limits {
	return Limits{
		Tiers: map[Tier]int64{
			TierFree:   10,
			TierActive: 100,
		},
		DefaultMaxTokens: 1024,
	}
}

// For returns the daily request limit for a tier. Tiers without an entry get
// the free limit, never an unlimited allowance.
func (l Limits) For(t Tier) int64 {
	if limit, ok := l.Tiers[t]; ok {
		return limit
	}
	return l.Tiers[TierFree]
}

// Validate checks the table for a free entry and non-negative values.
func (l Limits) Validate() error {
	if _, ok := l.Tiers[TierFree]; !ok {
		return fmt.Errorf("chatgate: config: limits.tiers: %q entry is required", TierFree)
	}
	for tier, limit := range l.Tiers {
		if limit < 0 {
			return fmt.Errorf("chatgate: config: limits.tiers[%s]: must not be negative", tier)
		}
	}
	if l.DefaultMaxTokens <= 0 {
		return fmt.Errorf("chatgate: config: limits.default_max_tokens must be positive")
	}
	return nil
}
