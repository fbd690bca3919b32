package mock

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ineyio/chatgate"
)

// Provider is a mock generation provider for testing and local development.
type Provider struct {
	name         string
	latency      time.Duration
	failAfter    int
	callCount    atomic.Int64
	staticErr    error
	usage        chatgate.TokenUsage
	responseFunc func(chatgate.ProviderRequest) (chatgate.ProviderResponse, error)

	mu       sync.Mutex
	requests []chatgate.ProviderRequest
}

var _ chatgate.Provider = (*Provider)(nil)

// Option configures a mock Provider.
type Option func(*Provider)

// DefaultContent is the content block returned when no response func is set.
var DefaultContent = json.RawMessage(`[{"type":"text","text":"Hello from mock provider"}]`)

// New creates a mock provider with the given options.
func New(opts ...Option) *Provider {
	p := &Provider{
		name: "mock",
		usage: chatgate.TokenUsage{
			InputTokens:  10,
			OutputTokens: 20,
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WithName sets the provider name.
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithLatency adds simulated latency to each call.
func WithLatency(d time.Duration) Option {
	return func(p *Provider) { p.latency = d }
}

// WithFailAfter makes the provider fail after N successful calls.
func WithFailAfter(n int) Option {
	return func(p *Provider) { p.failAfter = n }
}

// WithError makes the provider always return this error.
func WithError(err error) Option {
	return func(p *Provider) { p.staticErr = err }
}

// WithUsage sets the usage returned by the mock.
func WithUsage(u chatgate.TokenUsage) Option {
	return func(p *Provider) { p.usage = u }
}

// WithResponseFunc sets a custom response function.
func WithResponseFunc(fn func(chatgate.ProviderRequest) (chatgate.ProviderResponse, error)) Option {
	return func(p *Provider) { p.responseFunc = fn }
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) Complete(ctx context.Context, req chatgate.ProviderRequest) (chatgate.ProviderResponse, error) {
	if p.latency > 0 {
		select {
		case <-time.After(p.latency):
		case <-ctx.Done():
			return chatgate.ProviderResponse{}, ctx.Err()
		}
	}

	count := p.callCount.Add(1)
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.staticErr != nil {
		return chatgate.ProviderResponse{}, p.staticErr
	}

	if p.failAfter > 0 && int(count) > p.failAfter {
		return chatgate.ProviderResponse{}, chatgate.ErrRateLimited
	}

	if p.responseFunc != nil {
		return p.responseFunc(req)
	}

	return chatgate.ProviderResponse{
		ID:      "mock-response-id",
		Content: DefaultContent,
		Usage:   p.usage,
		Model:   req.Model,
	}, nil
}

// CallCount returns the number of calls made to the provider.
func (p *Provider) CallCount() int64 { return p.callCount.Load() }

// LastRequest returns the most recent request, if any.
func (p *Provider) LastRequest() (chatgate.ProviderRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return chatgate.ProviderRequest{}, false
	}
	return p.requests[len(p.requests)-1], true
}
