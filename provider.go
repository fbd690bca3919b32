package chatgate

import (
	"context"
	"encoding/json"
)

// Provider is the interface that generation API adapters must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// Complete performs a synchronous completion. Adapters return
	// ErrRateLimited when the upstream throttles the call. Timeouts and
	// cancellation are surfaced as errors; callers do not retry.
	Complete(ctx context.Context, req ProviderRequest) (ProviderResponse, error)
}

// Auth holds authentication credentials for a provider account.
type Auth struct {
	APIKey string `yaml:"api_key" json:"api_key"`
}

// ProviderRequest is the request sent to a provider adapter.
type ProviderRequest struct {
	Model     string
	Messages  []Message
	MaxTokens int
}

// ProviderResponse is the response from a provider adapter.
type ProviderResponse struct {
	ID      string
	Model   string
	Content json.RawMessage
	Usage   TokenUsage
}
