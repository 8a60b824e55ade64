package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/drivelane/engine"

// EngineMetrics exposes the otel counters instrumenting the cascade and
// pricing paths. A zero-value instance is safe to call and records nothing.
type EngineMetrics struct {
	ruleEvaluations metric.Int64Counter
	triggers        metric.Int64Counter
	conversions     metric.Int64Counter
	pricingClamps   metric.Int64Counter
}

// NewEngineMetrics registers the engine instruments on the global meter provider.
func NewEngineMetrics() (*EngineMetrics, error) {
	meter := otel.GetMeterProvider().Meter(meterName)

	ruleEvaluations, err := meter.Int64Counter("engine.rule.evaluations",
		metric.WithDescription("Cascade rule evaluations by outcome"))
	if err != nil {
		return nil, err
	}
	triggers, err := meter.Int64Counter("engine.cascade.triggers",
		metric.WithDescription("Cascade triggers recorded in pending form"))
	if err != nil {
		return nil, err
	}
	conversions, err := meter.Int64Counter("engine.cascade.conversions",
		metric.WithDescription("Cascade triggers materialized into orders"))
	if err != nil {
		return nil, err
	}
	pricingClamps, err := meter.Int64Counter("engine.pricing.clamps",
		metric.WithDescription("Prices clamped to the adjustment bounds"))
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		ruleEvaluations: ruleEvaluations,
		triggers:        triggers,
		conversions:     conversions,
		pricingClamps:   pricingClamps,
	}, nil
}

// RecordEvaluation counts one rule evaluation ending in the given outcome.
func (m *EngineMetrics) RecordEvaluation(ctx context.Context, ruleID string, outcome string) {
	if m == nil || m.ruleEvaluations == nil {
		return
	}
	m.ruleEvaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("rule_id", ruleID),
		attribute.String("outcome", outcome),
	))
}

// RecordTrigger counts one pending trigger.
func (m *EngineMetrics) RecordTrigger(ctx context.Context, ruleID string) {
	if m == nil || m.triggers == nil {
		return
	}
	m.triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
}

// RecordConversion counts one materialized trigger.
func (m *EngineMetrics) RecordConversion(ctx context.Context, ruleID string) {
	if m == nil || m.conversions == nil {
		return
	}
	m.conversions.Add(ctx, 1, metric.WithAttributes(attribute.String("rule_id", ruleID)))
}

// RecordPricingClamp counts one price pushed back inside the bounds.
func (m *EngineMetrics) RecordPricingClamp(ctx context.Context, serviceID string) {
	if m == nil || m.pricingClamps == nil {
		return
	}
	m.pricingClamps.Add(ctx, 1, metric.WithAttributes(attribute.String("service_id", serviceID)))
}
