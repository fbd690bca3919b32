// Package billing applies payment-provider events to account tiers and
// starts subscription checkouts.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/ineyio/chatgate"
)

// Event types handled by the webhook.
const (
	EventCheckoutCompleted    = "checkout.session.completed"
	EventSubscriptionUpdated  = "customer.subscription.updated"
	EventSubscriptionDeleted  = "customer.subscription.deleted"
	EventInvoicePaymentFailed = "invoice.payment_failed"
)

// maxBodyBytes bounds the webhook payload read.
const maxBodyBytes = 65536

// ErrSignature is returned when the payload fails signature verification.
var ErrSignature = errors.New("billing: webhook signature verification failed")

// Store is the persistence surface the webhook needs. Checkout completion
// may arrive for an identity that has never called the gate, so Create is
// used to provision it.
type Store interface {
	chatgate.BillingStore
	Create(ctx context.Context, acc chatgate.Account) error
}

// WebhookHandler verifies and applies payment-provider events.
type WebhookHandler struct {
	store  Store
	secret string
	logger *slog.Logger
	now    func() time.Time
}

// WebhookOption configures a WebhookHandler.
type WebhookOption func(*WebhookHandler)

// WithLogger sets the logger for unhandled events and store failures.
func WithLogger(l *slog.Logger) WebhookOption {
	return func(h *WebhookHandler) { h.logger = l }
}

// WithClock overrides the time source used when provisioning accounts.
func WithClock(now func() time.Time) WebhookOption {
	return func(h *WebhookHandler) { h.now = now }
}

// NewWebhookHandler creates a handler that verifies events with secret.
func NewWebhookHandler(store Store, secret string, opts ...WebhookOption) *WebhookHandler {
	h := &WebhookHandler{store: store, secret: secret}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Verify checks the signature header and decodes the event.
func (h *WebhookHandler) Verify(payload []byte, sigHeader string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, sigHeader, h.secret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %w", ErrSignature, err)
	}
	return event, nil
}

// Apply performs the tier transition for event. Unknown event types are
// ignored and return nil.
func (h *WebhookHandler) Apply(ctx context.Context, event stripe.Event) error {
	if event.Data == nil {
		return fmt.Errorf("billing: event %s has no data", event.ID)
	}

	switch event.Type {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("billing: decode checkout session: %w", err)
		}
		return h.checkoutCompleted(ctx, &session)

	case EventSubscriptionUpdated:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription: %w", err)
		}
		acc, err := h.store.FindByCustomer(ctx, customerID(sub.Customer))
		if err != nil {
			return fmt.Errorf("billing: %s: %w", event.Type, err)
		}
		return h.store.UpdateBilling(ctx, acc.Identity, chatgate.Tier(sub.Status), nil)

	case EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("billing: decode subscription: %w", err)
		}
		acc, err := h.store.FindBySubscription(ctx, sub.ID)
		if err != nil {
			return fmt.Errorf("billing: %s: %w", event.Type, err)
		}
		return h.store.UpdateBilling(ctx, acc.Identity, chatgate.TierCancelled, nil)

	case EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("billing: decode invoice: %w", err)
		}
		acc, err := h.store.FindByCustomer(ctx, customerID(inv.Customer))
		if err != nil {
			return fmt.Errorf("billing: %s: %w", event.Type, err)
		}
		return h.store.UpdateBilling(ctx, acc.Identity, chatgate.TierPastDue, nil)

	default:
		h.logger.Info("billing: unhandled event type", "type", event.Type, "event_id", event.ID)
		return nil
	}
}

func (h *WebhookHandler) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	identity := session.ClientReferenceID
	if identity == "" {
		identity = session.Metadata["userId"]
	}
	if identity == "" {
		return fmt.Errorf("billing: checkout session %s carries no identity", session.ID)
	}

	ref := &chatgate.BillingRef{CustomerID: customerID(session.Customer)}
	if session.Subscription != nil {
		ref.SubscriptionID = session.Subscription.ID
	}

	err := h.store.UpdateBilling(ctx, identity, chatgate.TierActive, ref)
	if !errors.Is(err, chatgate.ErrAccountNotFound) {
		return err
	}

	err = h.store.Create(ctx, chatgate.NewAccount(identity, h.now()))
	if err != nil && !errors.Is(err, chatgate.ErrAccountExists) {
		return fmt.Errorf("billing: provision account: %w", err)
	}
	return h.store.UpdateBilling(ctx, identity, chatgate.TierActive, ref)
}

// ServeHTTP handles POST /api/stripe-webhook. Signature failures are 400
// and nothing is applied. Once verified, the event is acknowledged with 200
// even when applying it fails, so the provider does not redeliver.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed", "code": "method_not_allowed"})
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unreadable body", "code": "invalid_request"})
		return
	}

	event, err := h.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("billing: rejected webhook", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Webhook signature verification failed", "code": "invalid_signature"})
		return
	}

	if err := h.Apply(r.Context(), event); err != nil {
		h.logger.Error("billing: apply event failed", "type", event.Type, "event_id", event.ID, "error", err)
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
