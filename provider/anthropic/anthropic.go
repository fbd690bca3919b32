// Package anthropic adapts the Anthropic Messages API to chatgate.Provider.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ineyio/chatgate"
)

const (
	// DefaultBaseURL is the public Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// APIVersion is sent in the anthropic-version header.
	APIVersion = "2023-06-01"
)

// Provider calls POST /v1/messages.
type Provider struct {
	baseURL    string
	auth       chatgate.Auth
	httpClient *http.Client
}

var _ chatgate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// New creates an Anthropic provider authenticated with auth.
func New(auth chatgate.Auth, opts ...Option) *Provider {
	p := &Provider{
		baseURL:    DefaultBaseURL,
		auth:       auth,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "anthropic" }

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Content    json.RawMessage `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one non-streaming Messages request. Content blocks are
// returned unmodified.
func (p *Provider) Complete(ctx context.Context, req chatgate.ProviderRequest) (chatgate.ProviderResponse, error) {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}

	body, err := json.Marshal(apiRequest{
		Model:     req.Model,
		MaxTokens: req.MaxTokens,
		Messages:  msgs,
	})
	if err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.auth.APIKey)
	httpReq.Header.Set("anthropic-version", APIVersion)

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("anthropic: send request: %w", err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return chatgate.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("anthropic: decode response: %w", err)
	}
	if len(resp.Content) == 0 {
		return chatgate.ProviderResponse{}, fmt.Errorf("anthropic: response has no content")
	}

	return chatgate.ProviderResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: resp.Content,
		Usage: chatgate.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
	}, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := string(raw)
	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
		detail = apiErr.Error.Message
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return chatgate.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return chatgate.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", chatgate.ErrInvalidRequest, detail)
	default:
		return fmt.Errorf("anthropic: status %d: %s", resp.StatusCode, detail)
	}
}
