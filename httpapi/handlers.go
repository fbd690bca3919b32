package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/ineyio/chatgate"
	"github.com/ineyio/chatgate/auth"
	"github.com/ineyio/chatgate/billing"
)

// handleChat serves POST /api/chat. The body is decoded before the gate is
// called so a malformed payload never reaches the store.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req chatgate.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req); err != nil {
		writeError(w, chatgate.ErrInvalidRequest)
		return
	}

	identity := auth.IdentityFrom(r.Context())
	resp, err := s.gate.Admit(r.Context(), identity, req)
	if err != nil {
		s.logFailure(r, identity, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleUsage serves GET /api/usage.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	identity := auth.IdentityFrom(r.Context())
	status, err := s.gate.Status(r.Context(), identity)
	if err != nil {
		s.logFailure(r, identity, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type checkoutRequest struct {
	PriceID string `json:"priceId"`
}

// handleCheckout serves POST /api/create-checkout-session.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	// An empty body, chunked or not, falls back to the configured price.
	var req checkoutRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxBody)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, chatgate.ErrInvalidRequest)
		return
	}

	principal, _ := auth.PrincipalFrom(r.Context())
	url, err := s.checkout.CreateSession(r.Context(), principal.Identity, principal.Email, req.PriceID)
	if err != nil {
		s.logFailure(r, principal.Identity, err)
		switch {
		case errors.Is(err, chatgate.ErrUnauthenticated):
			writeError(w, err)
			return
		case errors.Is(err, billing.ErrNoPrice):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "Price is required", Code: CodeInvalidRequest})
			return
		}
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error:   "Checkout unavailable",
			Message: "Could not start checkout, please try again",
			Code:    CodeBillingUnavailable,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) logFailure(r *http.Request, identity string, err error) {
	status, body := statusFor(err)
	attrs := []any{
		"path", r.URL.Path,
		"identity", identity,
		"status", status,
		"code", body.Code,
		"request_id", auth.RequestID(r.Context()),
		"error", err,
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", attrs...)
		return
	}
	s.logger.Warn("request rejected", attrs...)
}
