package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/auth"
	"github.com/ineyio/chatgate/httpapi"
	"github.com/ineyio/chatgate/meter"
	"github.com/ineyio/chatgate/provider/mock"
	"github.com/ineyio/chatgate/store/memory"
)

const secret = "test-secret"

var fixedNow = time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store   *memory.Store
	handler http.Handler
}

func newFixture(t *testing.T, provider chatgate.Provider, opts ...httpapi.Option) *fixture {
	t.Helper()
	store := memory.New()
	gate, err := chatgate.NewGate(store, store, provider,
		chatgate.WithClock(func() time.Time { return fixedNow }),
		chatgate.WithMeter(&meter.NoopMeter{}),
	)
	require.NoError(t, err)

	v, err := auth.NewValidator(chatgate.AuthConfig{JWTSecret: secret})
	require.NoError(t, err)

	return &fixture{store: store, handler: httpapi.New(gate, v, opts...).Handler()}
}

func token(t *testing.T, sub string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: sub + "@example.com",
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func (f *fixture) do(t *testing.T, method, path, sub, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, sub))
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

const chatBody = `{"messages":[{"role":"user","content":"hi"}]}`

func TestChatSuccess(t *testing.T) {
	f := newFixture(t, mock.New(mock.WithUsage(chatgate.TokenUsage{InputTokens: 1000, OutputTokens: 500})))

	rec := f.do(t, http.MethodPost, "/api/chat", "user-1", chatBody)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"content": [{"type":"text","text":"Hello from mock provider"}],
		"usage": {"input_tokens":1000,"output_tokens":500,"requests_remaining":9}
	}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestChatRejections(t *testing.T) {
	f := newFixture(t, mock.New())

	rec := f.do(t, http.MethodPost, "/api/chat", "", chatBody)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/chat", "user-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, httpapi.CodeMethodNotAllowed, decode(t, rec)["code"])

	for _, body := range []string{`not json`, `{}`, `{"messages":"hello"}`, `{"messages":[]}`} {
		rec = f.do(t, http.MethodPost, "/api/chat", "user-1", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, httpapi.CodeInvalidRequest, decode(t, rec)["code"], body)
	}
	assert.Equal(t, 0, f.store.Len())
}

func TestChatEntitlementRequired(t *testing.T) {
	f := newFixture(t, mock.New())
	acc := chatgate.NewAccount("user-1", fixedNow)
	acc.Tier = chatgate.TierPastDue
	f.store.Put(acc)

	rec := f.do(t, http.MethodPost, "/api/chat", "user-1", chatBody)
	require.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Subscription required", body["error"])
	assert.Equal(t, httpapi.CodeSubscriptionRequired, body["code"])
}

func TestChatQuotaAndUpstreamBusyShareStatus(t *testing.T) {
	f := newFixture(t, mock.New())
	acc := chatgate.NewAccount("user-1", fixedNow)
	acc.DailyCount = 10
	f.store.Put(acc)

	rec := f.do(t, http.MethodPost, "/api/chat", "user-1", chatBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, httpapi.CodeQuotaExceeded, body["code"])
	assert.Equal(t, float64(10), body["limit"])
	assert.Equal(t, float64(10), body["used"])
	assert.Equal(t, "You've used all 10 requests today. Upgrade to Pro for more requests!", body["message"])

	busy := newFixture(t, mock.New(mock.WithError(chatgate.ErrRateLimited)))
	rec = busy.do(t, http.MethodPost, "/api/chat", "user-1", chatBody)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, httpapi.CodeUpstreamBusy, body["code"])
	assert.NotContains(t, body, "limit")
}

func TestChatUpstreamError(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport failure", errors.New("connection reset")},
		{"provider rejected request", fmt.Errorf("%w: model: not_found", chatgate.ErrInvalidRequest)},
		{"provider auth failed", chatgate.ErrAuthFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, mock.New(mock.WithError(tt.err)))

			rec := f.do(t, http.MethodPost, "/api/chat", "user-1", chatBody)
			require.Equal(t, http.StatusBadGateway, rec.Code)
			assert.Equal(t, httpapi.CodeUpstreamError, decode(t, rec)["code"])

			// The failed call is not charged.
			acc, err := f.store.Get(context.Background(), "user-1")
			require.NoError(t, err)
			assert.Equal(t, int64(0), acc.DailyCount)
		})
	}
}

func TestUsage(t *testing.T) {
	f := newFixture(t, mock.New())
	acc := chatgate.NewAccount("user-1", fixedNow)
	acc.Tier = chatgate.TierActive
	acc.DailyCount = 40
	acc.LifetimeCount = 400
	f.store.Put(acc)

	rec := f.do(t, http.MethodGet, "/api/usage", "user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tier":"active","limit":100,"used":40,"remaining":60,"lifetime_count":400,"usage_date":"2026-03-04"}`, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/api/usage", "user-1", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeCheckout struct {
	identity, email, price string
	err                    error
}

func (c *fakeCheckout) CreateSession(_ context.Context, identity, email, priceID string) (string, error) {
	c.identity, c.email, c.price = identity, email, priceID
	if c.err != nil {
		return "", c.err
	}
	return "https://checkout.test/" + identity, nil
}

func TestCheckout(t *testing.T) {
	fc := &fakeCheckout{}
	f := newFixture(t, mock.New(), httpapi.WithCheckout(fc))

	rec := f.do(t, http.MethodPost, "/api/create-checkout-session", "user-1", `{"priceId":"price_pro"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"url":"https://checkout.test/user-1"}`, rec.Body.String())
	assert.Equal(t, "user-1@example.com", fc.email)
	assert.Equal(t, "price_pro", fc.price)

	// An empty chunked body carries no length and still uses the configured price.
	req := httptest.NewRequest(http.MethodPost, "/api/create-checkout-session", strings.NewReader(""))
	req.ContentLength = -1
	req.Header.Set("Authorization", "Bearer "+token(t, "user-1"))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, fc.price)

	rec = f.do(t, http.MethodPost, "/api/create-checkout-session", "user-1", `{"priceId":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	fc.err = errors.New("stripe down")
	rec = f.do(t, http.MethodPost, "/api/create-checkout-session", "user-1", `{}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, httpapi.CodeBillingUnavailable, decode(t, rec)["code"])
}

func TestPublicRoutes(t *testing.T) {
	var hits int
	webhook := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	})
	f := newFixture(t, mock.New(), httpapi.WithWebhook(webhook))

	rec := f.do(t, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", bytes.NewReader([]byte(`{}`)))
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, hits)

	// Checkout is not mounted without a creator.
	rec = f.do(t, http.MethodPost, "/api/create-checkout-session", "user-1", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
