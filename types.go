package chatgate

import "encoding/json"

// ChatRequest represents an inbound chat generation request.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens *int      `json:"max_tokens,omitempty"`
}

// Message represents a single conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is returned to the caller after an admitted generation.
type ChatResponse struct {
	// Content is the provider's raw content payload, passed through untouched.
	Content json.RawMessage `json:"content"`
	Usage   Usage           `json:"usage"`
	Model   string          `json:"-"`
}

// Usage reports token consumption and remaining daily allowance.
type Usage struct {
	InputTokens       int64 `json:"input_tokens"`
	OutputTokens      int64 `json:"output_tokens"`
	RequestsRemaining int64 `json:"requests_remaining"`
}

// TokenUsage is the token count reported by a provider.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64
}

// UsageStatus is a read-only snapshot of an account's current window.
type UsageStatus struct {
	Tier          Tier  `json:"tier"`
	Limit         int64 `json:"limit"`
	Used          int64 `json:"used"`
	Remaining     int64 `json:"remaining"`
	LifetimeCount int64 `json:"lifetime_count"`
	Day           Day   `json:"usage_date"`
}

// IntPtr returns a pointer to the given int.
func IntPtr(v int) *int { return &v }
