package meter

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ineyio/chatgate"
)

// OtelMeter records admission and generation events as OpenTelemetry metrics.
// Identities are never used as attributes.
type OtelMeter struct {
	admissions         metric.Int64Counter
	generations        metric.Int64Counter
	duration           metric.Float64Histogram
	tokens             metric.Int64Counter
	cost               metric.Float64Counter
	accountingFailures metric.Int64Counter
}

var _ chatgate.Meter = (*OtelMeter)(nil)

// NewOtelMeter creates the instruments on m.
func NewOtelMeter(m metric.Meter) (*OtelMeter, error) {
	var (
		o   OtelMeter
		err error
	)

	o.admissions, err = m.Int64Counter("chatgate.admissions.total",
		metric.WithDescription("Admission attempts by outcome"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("meter: admissions counter: %w", err)
	}

	o.generations, err = m.Int64Counter("chatgate.generations.total",
		metric.WithDescription("Provider calls by result"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("meter: generations counter: %w", err)
	}

	o.duration, err = m.Float64Histogram("chatgate.generation.duration",
		metric.WithDescription("Provider call duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		return nil, fmt.Errorf("meter: duration histogram: %w", err)
	}

	o.tokens, err = m.Int64Counter("chatgate.tokens.total",
		metric.WithDescription("Tokens consumed by direction"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("meter: tokens counter: %w", err)
	}

	o.cost, err = m.Float64Counter("chatgate.cost.usd",
		metric.WithDescription("Estimated upstream cost"),
		metric.WithUnit("USD"),
	)
	if err != nil {
		return nil, fmt.Errorf("meter: cost counter: %w", err)
	}

	o.accountingFailures, err = m.Int64Counter("chatgate.accounting.failures.total",
		metric.WithDescription("Successful generations whose usage was not fully recorded"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("meter: accounting failures counter: %w", err)
	}

	return &o, nil
}

func (o *OtelMeter) OnAdmit(e chatgate.AdmitEvent) {
	o.admissions.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("outcome", string(e.Outcome)),
		attribute.String("tier", string(e.Tier)),
		attribute.Bool("provisioned", e.Provisioned),
	))
}

func (o *OtelMeter) OnResult(e chatgate.ResultEvent) {
	ctx := context.Background()
	attrs := []attribute.KeyValue{
		attribute.String("provider", e.Provider),
		attribute.String("model", e.Model),
	}

	o.generations.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.Bool("success", e.Success))...))
	o.duration.Record(ctx, e.Duration.Seconds(), metric.WithAttributes(attrs...))
	if !e.Success {
		return
	}

	o.tokens.Add(ctx, e.Usage.InputTokens, metric.WithAttributes(append(attrs, attribute.String("direction", "input"))...))
	o.tokens.Add(ctx, e.Usage.OutputTokens, metric.WithAttributes(append(attrs, attribute.String("direction", "output"))...))
	o.cost.Add(ctx, e.Cost.Float64(), metric.WithAttributes(attrs...))
	if !e.Accounted {
		o.accountingFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}
