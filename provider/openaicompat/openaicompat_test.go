package openaicompat_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/provider/openaicompat"
)

func TestCompleteWrapsTextAsContentBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-local", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"model": "llama3",
			"choices": [{"index":0,"message":{"role":"assistant","content":"Hi \"there\""},"finish_reason":"stop"}],
			"usage": {"prompt_tokens": 7, "completion_tokens": 2, "total_tokens": 9}
		}`))
	}))
	defer srv.Close()

	p := openaicompat.New(srv.URL+"/v1/", chatgate.Auth{APIKey: "sk-local"}, openaicompat.WithName("ollama"))
	resp, err := p.Complete(context.Background(), chatgate.ProviderRequest{
		Model:     "llama3",
		Messages:  []chatgate.Message{{Role: "user", Content: "hello"}},
		MaxTokens: 64,
	})
	require.NoError(t, err)

	assert.Equal(t, "ollama", p.Name())
	assert.JSONEq(t, `[{"type":"text","text":"Hi \"there\""}]`, string(resp.Content))
	assert.Equal(t, chatgate.TokenUsage{InputTokens: 7, OutputTokens: 2}, resp.Usage)
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x","choices":[]}`))
	}))
	defer srv.Close()

	p := openaicompat.New(srv.URL, chatgate.Auth{})
	_, err := p.Complete(context.Background(), chatgate.ProviderRequest{})
	assert.Error(t, err)
}

func TestCompleteRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := openaicompat.New(srv.URL, chatgate.Auth{})
	_, err := p.Complete(context.Background(), chatgate.ProviderRequest{})
	assert.ErrorIs(t, err, chatgate.ErrRateLimited)
	assert.True(t, chatgate.IsRetryable(err))
}
