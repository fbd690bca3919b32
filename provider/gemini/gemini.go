package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	baseURL    string
	auth       chatgate.Auth
	httpClient *http.Client
}

var _ chatgate.Provider = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// New creates a new Gemini provider.
func New(auth chatgate.Auth, opts ...Option) *Provider {
	p := &Provider{
		baseURL:    defaultBaseURL,
		auth:       auth,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return "gemini" }

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	ResponseID string `json:"responseId"`
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (p *Provider) Complete(ctx context.Context, req chatgate.ProviderRequest) (chatgate.ProviderResponse, error) {
	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, req.Model)

	httpResp, err := p.doRequest(ctx, url, buildRequest(req))
	if err != nil {
		return chatgate.ProviderResponse{}, err
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		return chatgate.ProviderResponse{}, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return chatgate.ProviderResponse{}, fmt.Errorf("gemini: empty candidates in response")
	}

	// Each part becomes one text block, matching the content shape of the other adapters.
	parts := resp.Candidates[0].Content.Parts
	blocks := make([]textBlock, 0, len(parts))
	for _, part := range parts {
		blocks = append(blocks, textBlock{Type: "text", Text: part.Text})
	}
	content, err := json.Marshal(blocks)
	if err != nil {
		return chatgate.ProviderResponse{}, fmt.Errorf("gemini: encode content: %w", err)
	}

	model := resp.ModelVersion
	if model == "" {
		model = req.Model
	}

	return chatgate.ProviderResponse{
		ID:      resp.ResponseID,
		Model:   model,
		Content: content,
		Usage: chatgate.TokenUsage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}, nil
}

func buildRequest(req chatgate.ProviderRequest) geminiRequest {
	contents := make([]geminiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := m.Role
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}

	gr := geminiRequest{Contents: contents}
	if req.MaxTokens > 0 {
		gr.GenerationConfig = &geminiGenerationConfig{MaxOutputTokens: req.MaxTokens}
	}
	return gr
}

func (p *Provider) doRequest(ctx context.Context, url string, body geminiRequest) (*http.Response, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gemini: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("gemini: create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.auth.APIKey)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: send request: %w", err)
	}

	return resp, nil
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return chatgate.ErrRateLimited
	case http.StatusUnauthorized, http.StatusForbidden:
		return chatgate.ErrAuthFailed
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", chatgate.ErrInvalidRequest, string(body))
	default:
		return fmt.Errorf("gemini: status %d: %s", resp.StatusCode, string(body))
	}
}
