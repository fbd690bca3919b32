package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/ineyio/chatgate"
)

// ErrNoPrice is returned when neither the request nor the config names a price.
var ErrNoPrice = errors.New("billing: price id is required")

type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Checkout starts subscription checkouts for signed-in callers.
type Checkout struct {
	sessions   sessionCreator
	priceID    string
	successURL string
	cancelURL  string
}

// NewCheckout creates a Checkout backed by the given API client.
func NewCheckout(api *client.API, cfg chatgate.BillingConfig) *Checkout {
	return &Checkout{
		sessions:   api.CheckoutSessions,
		priceID:    cfg.PriceID,
		successURL: cfg.SuccessURL,
		cancelURL:  cfg.CancelURL,
	}
}

// NewClient returns a Stripe API client for secretKey. A nil backends uses
// the public endpoints.
func NewClient(secretKey string, backends *stripe.Backends) (*client.API, error) {
	if secretKey == "" {
		return nil, fmt.Errorf("billing: stripe secret key is required")
	}
	api := &client.API{}
	api.Init(secretKey, backends)
	return api, nil
}

// CreateSession opens a subscription checkout for identity and returns the
// hosted checkout URL. An empty priceID falls back to the configured price.
// The identity is stored as the client reference and in metadata so the
// completion webhook can link the subscription back to the account.
func (c *Checkout) CreateSession(ctx context.Context, identity, email, priceID string) (string, error) {
	if identity == "" {
		return "", chatgate.ErrUnauthenticated
	}
	if priceID == "" {
		priceID = c.priceID
	}
	if priceID == "" {
		return "", ErrNoPrice
	}

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(c.successURL),
		CancelURL:         stripe.String(c.cancelURL),
		ClientReferenceID: stripe.String(identity),
	}
	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}
	params.AddMetadata("userId", identity)
	params.Context = ctx

	session, err := c.sessions.New(params)
	if err != nil {
		return "", fmt.Errorf("billing: create checkout session: %w", err)
	}
	return session.URL, nil
}
