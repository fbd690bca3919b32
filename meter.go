package chatgate

import "time"

// Meter observes admission decisions and generation outcomes.
type Meter interface {
	// OnAdmit is called once per admission attempt with its outcome.
	OnAdmit(event AdmitEvent)

	// OnResult is called when the provider returns.
	OnResult(event ResultEvent)
}

// Outcome is the terminal state of an admission attempt.
type Outcome string

const (
	OutcomeAdmitted            Outcome = "admitted"
	OutcomeInvalid             Outcome = "invalid"
	OutcomeStoreError          Outcome = "store_error"
	OutcomeEntitlementRequired Outcome = "entitlement_required"
	OutcomeQuotaExceeded       Outcome = "quota_exceeded"
)

// AdmitEvent describes an admission decision.
type AdmitEvent struct {
	Identity    string
	Tier        Tier
	Outcome     Outcome
	Used        int64
	Limit       int64
	Provisioned bool
	EstimatedIn int64
}

// ResultEvent describes the outcome of a provider call and its accounting.
type ResultEvent struct {
	Identity  string
	Provider  string
	Model     string
	Success   bool
	Duration  time.Duration
	Usage     TokenUsage
	Cost      Cost
	Accounted bool
	Error     error
}
