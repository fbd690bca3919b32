package chatgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Gate admits generation requests against per-account daily quotas and
// records consumption after each successful call.
//
// The gate holds no per-identity locks. Concurrent requests for the same
// identity may read the same daily count and both be admitted; the small
// overrun this allows is accepted in exchange for not serializing callers.
type Gate struct {
	accounts AccountStore
	usage    UsageLog
	provider Provider
	limits   Limits
	pricing  Pricing
	model    string
	meter    Meter
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithLimits sets the tier limit table and request defaults.
func WithLimits(l Limits) Option {
	return func(g *Gate) { g.limits = l }
}

// WithPricing sets the per-token rates used for usage events.
func WithPricing(p Pricing) Option {
	return func(g *Gate) { g.pricing = p }
}

// WithModel sets the upstream model identifier.
func WithModel(model string) Option {
	return func(g *Gate) { g.model = model }
}

// WithMeter sets the meter.
func WithMeter(m Meter) Option {
	return func(g *Gate) { g.meter = m }
}

// WithLogger sets the logger used for accounting failures.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.logger = l }
}

// WithClock overrides the time source. Used by tests to cross day boundaries.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// NewGate creates a Gate over the given store handles and provider.
// DefaultLimits, DefaultPricing, DefaultModel and a no-op meter are used
// unless overridden via options.
func NewGate(accounts AccountStore, usage UsageLog, provider Provider, opts ...Option) (*Gate, error) {
	if accounts == nil {
		return nil, fmt.Errorf("chatgate: account store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("chatgate: usage log is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("chatgate: provider is required")
	}

	g := &Gate{
		accounts: accounts,
		usage:    usage,
		provider: provider,
		limits:   DefaultLimits(),
		pricing:  DefaultPricing(),
		model:    DefaultModel,
	}

	for _, opt := range opts {
		opt(g)
	}

	// Apply defaults after options.
	if g.meter == nil {
		g.meter = &noopMeter{}
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}

	if err := g.limits.Validate(); err != nil {
		return nil, err
	}
	if err := g.pricing.Validate(); err != nil {
		return nil, err
	}

	return g, nil
}

// Admit runs one admission attempt for identity and, if admitted, proxies
// the request and records its usage.
func (g *Gate) Admit(ctx context.Context, identity string, req ChatRequest) (ChatResponse, error) {
	maxTokens, err := g.validate(identity, req)
	if err != nil {
		g.meter.OnAdmit(AdmitEvent{Identity: identity, Outcome: OutcomeInvalid})
		return ChatResponse{}, &GateError{Stage: StageValidate, Identity: identity, Err: err}
	}

	now := g.now()
	today := DayOf(now)

	acc, provisioned, err := g.loadOrCreate(ctx, identity, now)
	if err != nil {
		g.meter.OnAdmit(AdmitEvent{Identity: identity, Outcome: OutcomeStoreError})
		return ChatResponse{}, &GateError{Stage: StageAccount, Identity: identity, Err: err}
	}

	if !acc.Tier.Admitted() {
		g.meter.OnAdmit(AdmitEvent{
			Identity:    identity,
			Tier:        acc.Tier,
			Outcome:     OutcomeEntitlementRequired,
			Provisioned: provisioned,
		})
		return ChatResponse{}, &GateError{
			Stage:    StageEntitlement,
			Identity: identity,
			Err:      &EntitlementError{Tier: acc.Tier},
		}
	}

	if acc.UsageDate != today {
		if err := g.accounts.ResetWindow(ctx, identity, today); err != nil {
			g.meter.OnAdmit(AdmitEvent{Identity: identity, Tier: acc.Tier, Outcome: OutcomeStoreError})
			return ChatResponse{}, &GateError{
				Stage:    StageWindow,
				Identity: identity,
				Err:      fmt.Errorf("%w: reset window: %w", ErrStore, err),
			}
		}
		acc.DailyCount = 0
		acc.UsageDate = today
	}

	limit := g.limits.For(acc.Tier)
	if acc.DailyCount >= limit {
		g.meter.OnAdmit(AdmitEvent{
			Identity:    identity,
			Tier:        acc.Tier,
			Outcome:     OutcomeQuotaExceeded,
			Used:        acc.DailyCount,
			Limit:       limit,
			Provisioned: provisioned,
		})
		return ChatResponse{}, &GateError{
			Stage:    StageQuota,
			Identity: identity,
			Err:      &QuotaError{Tier: acc.Tier, Limit: limit, Used: acc.DailyCount},
		}
	}

	g.meter.OnAdmit(AdmitEvent{
		Identity:    identity,
		Tier:        acc.Tier,
		Outcome:     OutcomeAdmitted,
		Used:        acc.DailyCount,
		Limit:       limit,
		Provisioned: provisioned,
		EstimatedIn: EstimateInputTokens(req.Messages),
	})

	provReq := ProviderRequest{
		Model:     g.model,
		Messages:  req.Messages,
		MaxTokens: maxTokens,
	}

	start := time.Now()
	resp, err := g.provider.Complete(ctx, provReq)
	duration := time.Since(start)

	if err != nil {
		g.meter.OnResult(ResultEvent{
			Identity: identity,
			Provider: g.provider.Name(),
			Model:    g.model,
			Success:  false,
			Duration: duration,
			Error:    err,
		})

		cause := ErrUpstream
		if errors.Is(err, ErrRateLimited) {
			cause = ErrUpstreamBusy
		}
		return ChatResponse{}, &GateError{
			Stage:    StageProxy,
			Identity: identity,
			Err:      fmt.Errorf("%w: %w", cause, err),
		}
	}

	// The caller may have gone away, but the generation is already billed upstream.
	acctCtx := context.WithoutCancel(ctx)
	daily, cost, accounted := g.account(acctCtx, identity, acc.DailyCount, resp)

	g.meter.OnResult(ResultEvent{
		Identity:  identity,
		Provider:  g.provider.Name(),
		Model:     g.model,
		Success:   true,
		Duration:  duration,
		Usage:     resp.Usage,
		Cost:      cost,
		Accounted: accounted,
	})

	remaining := limit - daily
	if remaining < 0 {
		remaining = 0
	}

	return ChatResponse{
		Content: resp.Content,
		Model:   resp.Model,
		Usage: Usage{
			InputTokens:       resp.Usage.InputTokens,
			OutputTokens:      resp.Usage.OutputTokens,
			RequestsRemaining: remaining,
		},
	}, nil
}

// Status returns the caller's current-window usage without changing it,
// provisioning the account if it has never been seen.
func (g *Gate) Status(ctx context.Context, identity string) (UsageStatus, error) {
	if identity == "" {
		return UsageStatus{}, ErrUnauthenticated
	}

	now := g.now()
	acc, _, err := g.loadOrCreate(ctx, identity, now)
	if err != nil {
		return UsageStatus{}, &GateError{Stage: StageAccount, Identity: identity, Err: err}
	}

	today := DayOf(now)
	used := acc.DailyCount
	if acc.UsageDate != today {
		used = 0
	}

	limit := g.limits.For(acc.Tier)
	remaining := limit - used
	if remaining < 0 || !acc.Tier.Admitted() {
		remaining = 0
	}

	return UsageStatus{
		Tier:          acc.Tier,
		Limit:         limit,
		Used:          used,
		Remaining:     remaining,
		LifetimeCount: acc.LifetimeCount,
		Day:           today,
	}, nil
}

func (g *Gate) validate(identity string, req ChatRequest) (int, error) {
	if identity == "" {
		return 0, ErrUnauthenticated
	}
	if len(req.Messages) == 0 {
		return 0, fmt.Errorf("%w: messages must be a non-empty list", ErrInvalidRequest)
	}
	for i, m := range req.Messages {
		if m.Role == "" {
			return 0, fmt.Errorf("%w: messages[%d]: role is required", ErrInvalidRequest, i)
		}
	}

	maxTokens := g.limits.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens <= 0 {
		return 0, fmt.Errorf("%w: max_tokens must be positive", ErrInvalidRequest)
	}
	return maxTokens, nil
}

// loadOrCreate fetches the account, provisioning a free one on first sight.
// A create that loses a race to a concurrent request reloads the winner's row.
func (g *Gate) loadOrCreate(ctx context.Context, identity string, now time.Time) (Account, bool, error) {
	acc, err := g.accounts.Get(ctx, identity)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return Account{}, false, fmt.Errorf("%w: get account: %w", ErrStore, err)
	}

	acc = NewAccount(identity, now)
	err = g.accounts.Create(ctx, acc)
	if err == nil {
		return acc, true, nil
	}
	if !errors.Is(err, ErrAccountExists) {
		return Account{}, false, fmt.Errorf("%w: create account: %w", ErrStore, err)
	}

	acc, err = g.accounts.Get(ctx, identity)
	if err != nil {
		return Account{}, false, fmt.Errorf("%w: reload account: %w", ErrStore, err)
	}
	return acc, false, nil
}

// account records one admitted call. It returns the daily count to report
// against, the event cost, and whether both writes succeeded. Failures are
// logged and never surfaced: the response has already been generated.
func (g *Gate) account(ctx context.Context, identity string, before int64, resp ProviderResponse) (int64, Cost, bool) {
	accounted := true

	daily, err := g.accounts.IncrementUsage(ctx, identity)
	if err != nil {
		accounted = false
		daily = before
		g.logger.Error("accounting failed",
			"identity", identity,
			"stage", "increment",
			"error", fmt.Errorf("%w: %w", ErrAccountingFailure, err),
		)
	}

	cost, err := g.pricing.Cost(resp.Usage)
	if err != nil {
		g.logger.Error("accounting failed",
			"identity", identity,
			"stage", "cost",
			"error", fmt.Errorf("%w: %w", ErrAccountingFailure, err),
		)
	}

	model := resp.Model
	if model == "" {
		model = g.model
	}

	event := UsageEvent{
		ID:           uuid.New().String(),
		Identity:     identity,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		Cost:         cost,
		Model:        model,
		CreatedAt:    g.now().UTC(),
	}
	if err := g.usage.AppendUsage(ctx, event); err != nil {
		accounted = false
		g.logger.Error("accounting failed",
			"identity", identity,
			"stage", "usage_event",
			"event_id", event.ID,
			"error", fmt.Errorf("%w: %w", ErrAccountingFailure, err),
		)
	}

	return daily, cost, accounted
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnAdmit(AdmitEvent)   {}
func (m *noopMeter) OnResult(ResultEvent) {}
