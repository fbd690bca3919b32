package chatgate

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnauthenticated     = errors.New("chatgate: caller identity missing")
	ErrInvalidRequest      = errors.New("chatgate: invalid request")
	ErrEntitlementRequired = errors.New("chatgate: subscription required")
	ErrQuotaExceeded       = errors.New("chatgate: daily quota exceeded")
	ErrRateLimited         = errors.New("chatgate: rate limited by provider")
	ErrAuthFailed          = errors.New("chatgate: provider authentication failed")
	ErrUpstreamBusy        = errors.New("chatgate: upstream busy")
	ErrUpstream            = errors.New("chatgate: upstream error")
	ErrStore               = errors.New("chatgate: store error")
	ErrAccountingFailure   = errors.New("chatgate: accounting failure")
	ErrAccountNotFound     = errors.New("chatgate: account not found")
	ErrAccountExists       = errors.New("chatgate: account already exists")
)

// QuotaError reports an exhausted daily allowance.
type QuotaError struct {
	Tier  Tier
	Limit int64
	Used  int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("chatgate: daily quota exceeded: tier=%s used=%d limit=%d", e.Tier, e.Used, e.Limit)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// Message returns the user-facing explanation. Free accounts are pointed at
// the upgrade, paid accounts at the next reset.
func (e *QuotaError) Message() string {
	hint := "Your limit resets tomorrow."
	if e.Tier == TierFree {
		hint = "Upgrade to Pro for more requests!"
	}
	return fmt.Sprintf("You've used all %d requests today. %s", e.Limit, hint)
}

// EntitlementError reports a tier that may not use the service.
type EntitlementError struct {
	Tier Tier
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("chatgate: subscription required: tier=%q", string(e.Tier))
}

func (e *EntitlementError) Unwrap() error { return ErrEntitlementRequired }

// Stage names the admission step at which a request terminated.
type Stage string

const (
	StageValidate    Stage = "validate"
	StageAccount     Stage = "account"
	StageEntitlement Stage = "entitlement"
	StageWindow      Stage = "window"
	StageQuota       Stage = "quota"
	StageProxy       Stage = "proxy"
)

// GateError wraps an error with admission context.
type GateError struct {
	Stage    Stage
	Identity string
	Err      error
}

func (e *GateError) Error() string {
	return fmt.Sprintf("chatgate: stage=%s identity=%s: %v", e.Stage, e.Identity, e.Err)
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the caller may retry the same request later.
// The gate itself never retries.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamBusy) || errors.Is(err, ErrRateLimited)
}
