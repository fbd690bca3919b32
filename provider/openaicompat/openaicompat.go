package openaicompat

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

// Provider is a universal OpenAI-compatible API adapter.
// Works with OpenAI, Grok/xAI, Cerebras, Together, Ollama, and others.
//
// The completion text is wrapped in a single text content block so callers
// see the same content shape regardless of which upstream served the request.
type Provider struct {
	name       string
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

// WithName overrides the provider name reported to meters.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// New creates a new OpenAI-compatible provider.
func New(baseURL string, auth chatgate.Auth, opts ...Option) *Provider {
	p := &Provider{
		name:       "openaicompat",
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewOpenAI creates a provider for OpenAI.
func NewOpenAI(auth chatgate.Auth, opts ...Option) *Provider {
	return New("https://api.openai.com/v1", auth, append([]Option{WithName("openai")}, opts...)...)
}

func (p *Provider) Name() string { return p.name }

// apiRequest is the OpenAI chat completion request format.
type apiRequest struct {
	Model     string       `json:"model"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens,omitempty"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// apiResponse is the OpenAI chat completion response format.
type apiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      apiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (p *Provider) Complete(ctx context.Context, req chatgate.ProviderRequest) (chatgate.ProviderResponse, error) {
	httpResp, err := p.doRequest(ctx, p.buildRequest(req))
	if err != nil {
		return chatgate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return chatgate.ProviderResponse{}, err
	}

	var resp apiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("openaicompat: decode response: %w", err)
	}

	if len(resp.Choices) == 0 {
		return chatgate.ProviderResponse{}, fmt.Errorf("openaicompat: empty choices in response")
	}

	content, err := json.Marshal([]textBlock{{Type: "text", Text: resp.Choices[0].Message.Content}})
	if err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("openaicompat: encode content: %w", err)
	}

	return chatgate.ProviderResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Content: content,
		Usage: chatgate.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *Provider) buildRequest(req chatgate.ProviderRequest) apiRequest {
	msgs := make([]apiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = apiMessage{Role: m.Role, Content: m.Content}
	}
	return apiRequest{
		Model:     req.Model,
		Messages:  msgs,
		MaxTokens: req.MaxTokens,
	}
}

func (p *Provider) doRequest(ctx context.Context, body apiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: marshal request: %w", err)
	}

	url := p.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("openaicompat: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.auth.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.auth.APIKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openaicompat: send request: %w", err)
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read body for error context, but don't fail if we can't.
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return chatgate.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return chatgate.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", chatgate.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("openaicompat: status %d: %s", resp.StatusCode, string(body))
	}
}
