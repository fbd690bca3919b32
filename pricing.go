package chatgate

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/apd/v3"
)

var (
	costContext = apd.BaseContext.WithPrecision(34)
	perMillion  = apd.New(1, 6)
)

// Cost is a monetary amount in USD with exact decimal arithmetic.
type Cost struct {
	value apd.Decimal
}

// ParseCost parses a decimal string such as "0.0105".
func ParseCost(s string) (Cost, error) {
	var c Cost
	if _, _, err := c.value.SetString(s); err != nil {
		return Cost{}, fmt.Errorf("chatgate: invalid cost %q: %w", s, err)
	}
	return c, nil
}

// String returns the reduced decimal form, e.g. "0.0105".
func (c Cost) String() string {
	var reduced apd.Decimal
	reduced.Reduce(&c.value)
	return reduced.Text('f')
}

// Float64 returns the nearest float64, for metrics and JSON.
func (c Cost) Float64() float64 {
	f, err := strconv.ParseFloat(c.String(), 64)
	if err != nil {
		return 0
	}
	return f
}

// Cmp compares two costs.
func (c Cost) Cmp(other Cost) int {
	return c.value.Cmp(&other.value)
}

// Pricing holds per-million-token rates for input and output.
type Pricing struct {
	InputPerMillion  string `yaml:"input_per_million"`
	OutputPerMillion string `yaml:"output_per_million"`
}

// DefaultPricing returns the rates of the default model (3 USD in, 15 USD out per million).
func DefaultPricing() Pricing {
	return Pricing{InputPerMillion: "3", OutputPerMillion: "15"}
}

// Validate checks that both rates parse as non-negative decimals.
func (p Pricing) Validate() error {
	for name, v := range map[string]string{"input_per_million": p.InputPerMillion, "output_per_million": p.OutputPerMillion} {
		c, err := ParseCost(v)
		if err != nil {
			return fmt.Errorf("chatgate: config: pricing.%s: %w", name, err)
		}
		if c.value.Negative {
			return fmt.Errorf("chatgate: config: pricing.%s must not be negative", name)
		}
	}
	return nil
}

// Cost computes in/1e6*inputRate + out/1e6*outputRate.
func (p Pricing) Cost(usage TokenUsage) (Cost, error) {
	inRate, err := ParseCost(p.InputPerMillion)
	if err != nil {
		return Cost{}, err
	}
	outRate, err := ParseCost(p.OutputPerMillion)
	if err != nil {
		return Cost{}, err
	}

	var in, out, sum apd.Decimal
	if _, err := costContext.Mul(&in, apd.New(usage.InputTokens, 0), &inRate.value); err != nil {
		return Cost{}, fmt.Errorf("chatgate: cost: %w", err)
	}
	if _, err := costContext.Mul(&out, apd.New(usage.OutputTokens, 0), &outRate.value); err != nil {
		return Cost{}, fmt.Errorf("chatgate: cost: %w", err)
	}
	if _, err := costContext.Add(&sum, &in, &out); err != nil {
		return Cost{}, fmt.Errorf("chatgate: cost: %w", err)
	}

	var c Cost
	if _, err := costContext.Quo(&c.value, &sum, perMillion); err != nil {
		return Cost{}, fmt.Errorf("chatgate: cost: %w", err)
	}
	return c, nil
}
