// Package httpapi exposes the gate, usage snapshot and billing endpoints over HTTP.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/auth"
)

// Gate is the admission surface the HTTP layer drives.
type Gate interface {
	Admit(ctx context.Context, identity string, req chatgate.ChatRequest) (chatgate.ChatResponse, error)
	Status(ctx context.Context, identity string) (chatgate.UsageStatus, error)
}

var _ Gate = (*chatgate.Gate)(nil)

// CheckoutCreator starts a subscription checkout and returns its URL.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, identity, email, priceID string) (string, error)
}

// Server routes HTTP requests to the gate and billing collaborators.
type Server struct {
	gate      Gate
	validator *auth.Validator
	checkout  CheckoutCreator
	webhook   http.Handler
	logger    *slog.Logger
	maxBody   int64
}

// Option configures a Server.
type Option func(*Server)

// WithCheckout enables POST /api/create-checkout-session.
func WithCheckout(c CheckoutCreator) Option {
	return func(s *Server) { s.checkout = c }
}

// WithWebhook mounts the payment webhook at POST /api/stripe-webhook.
func WithWebhook(h http.Handler) Option {
	return func(s *Server) { s.webhook = h }
}

// WithLogger sets the access and error logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMaxBodyBytes bounds request bodies (default 1 MiB).
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// New creates a Server. A nil validator rejects every authenticated route.
func New(gate Gate, validator *auth.Validator, opts ...Option) *Server {
	s := &Server{
		gate:      gate,
		validator: validator,
		maxBody:   1 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Handler returns the routed handler with request-id, access-log and auth
// middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/usage", s.handleUsage)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.checkout != nil {
		mux.HandleFunc("/api/create-checkout-session", s.handleCheckout)
	}
	if s.webhook != nil {
		mux.Handle("/api/stripe-webhook", s.webhook)
	}

	var h http.Handler = mux
	h = auth.NewMiddleware(s.validator)(h)
	h = s.accessLog(h)
	h = auth.RequestIDMiddleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("http",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", auth.RequestID(r.Context()),
		)
	})
}
