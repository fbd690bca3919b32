package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ineyio/chatgate"
)

// Machine-readable error codes carried in every error body. Quota exhaustion
// and upstream throttling share status 429 and differ only by code.
const (
	CodeMethodNotAllowed     = "method_not_allowed"
	CodeUnauthenticated      = "unauthenticated"
	CodeInvalidRequest       = "invalid_request"
	CodeSubscriptionRequired = "subscription_required"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeUpstreamBusy         = "upstream_busy"
	CodeUpstreamError        = "upstream_error"
	CodeStoreError           = "store_error"
	CodeBillingUnavailable   = "billing_unavailable"
	CodeInternal             = "internal_error"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code"`
	Limit   *int64 `json:"limit,omitempty"`
	Used    *int64 `json:"used,omitempty"`
}

// statusFor maps a gate error to its HTTP status and body. Upstream causes
// are matched before ErrInvalidRequest because a provider-side 400 is wrapped
// in ErrUpstream and must not read as a malformed inbound body.
func statusFor(err error) (int, errorBody) {
	var quota *chatgate.QuotaError
	if errors.As(err, &quota) {
		return http.StatusTooManyRequests, errorBody{
			Error:   "Rate limit exceeded",
			Message: quota.Message(),
			Code:    CodeQuotaExceeded,
			Limit:   &quota.Limit,
			Used:    &quota.Used,
		}
	}

	switch {
	case errors.Is(err, chatgate.ErrUnauthenticated):
		return http.StatusUnauthorized, errorBody{Error: "You must be logged in", Code: CodeUnauthenticated}
	case errors.Is(err, chatgate.ErrEntitlementRequired):
		return http.StatusForbidden, errorBody{
			Error:   "Subscription required",
			Message: "Please subscribe to continue using the service",
			Code:    CodeSubscriptionRequired,
		}
	case errors.Is(err, chatgate.ErrUpstreamBusy):
		return http.StatusTooManyRequests, errorBody{
			Error:   "Service temporarily busy",
			Message: "Please try again in a moment",
			Code:    CodeUpstreamBusy,
		}
	case errors.Is(err, chatgate.ErrUpstream):
		return http.StatusBadGateway, errorBody{
			Error:   "Upstream error",
			Message: "The model provider could not complete the request",
			Code:    CodeUpstreamError,
		}
	case errors.Is(err, chatgate.ErrInvalidRequest):
		return http.StatusBadRequest, errorBody{Error: "Invalid request format", Code: CodeInvalidRequest}
	case errors.Is(err, chatgate.ErrStore):
		return http.StatusInternalServerError, errorBody{Error: "Database error", Code: CodeStoreError}
	default:
		return http.StatusInternalServerError, errorBody{
			Error:   "Internal server error",
			Message: "Something went wrong processing your request",
			Code:    CodeInternal,
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status, body := statusFor(err)
	writeJSON(w, status, body)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "Method not allowed", Code: CodeMethodNotAllowed})
}
