package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/drivelane/engine/internal/domain"
	"github.com/drivelane/engine/internal/repositories"
)

const (
	defaultOutcomeWindow     = 30 * 24 * time.Hour
	defaultOutcomeInterval   = time.Hour
	defaultMinSamples        = 10
	defaultRateTolerance     = 0.1
	defaultPriceStep         = 0.05
	defaultPriceFloorRatio   = 0.8
	defaultPriceCeilingRatio = 1.3

	// minConversionRate and maxConversionRate keep adjusted rates inside a
	// band where rules neither die permanently nor fire unconditionally.
	minConversionRate = 0.05
	maxConversionRate = 0.99

	// revenueSurplusRatio marks a service as overperforming when monthly
	// revenue clears its target by this factor.
	revenueSurplusRatio = 1.2

	// highCancellationRate is the realized cancellation share above which a
	// service's price is stepped down regardless of revenue.
	highCancellationRate = 0.25
)

// OutcomeTracker closes the feedback loop: it compares each rule's assumed
// conversion rate with the observed trigger outcomes and each service's
// revenue with its target, then nudges rates and base prices accordingly.
// It runs off the request path on a fixed interval.
type OutcomeTracker struct {
	rules    repositories.CascadeRuleRepository
	triggers repositories.CascadeTriggerRepository
	services repositories.ServiceRepository
	revenue  repositories.RevenueMetricsRepository
	index    RuleLookup

	window       time.Duration
	interval     time.Duration
	minSamples   int
	tolerance    float64
	priceStep    float64
	floorRatio   float64
	ceilingRatio float64

	now    func() time.Time
	logger func(context.Context, string, map[string]any)
}

type OutcomeTrackerDeps struct {
	Rules    repositories.CascadeRuleRepository
	Triggers repositories.CascadeTriggerRepository
	Services repositories.ServiceRepository
	Revenue  repositories.RevenueMetricsRepository
	Index    RuleLookup

	// Window bounds how far back trigger outcomes are aggregated.
	Window   time.Duration
	Interval time.Duration
	// MinSamples is the decided-trigger count below which a rule's rate is
	// left untouched.
	MinSamples int
	// Tolerance is the absolute rate gap below which no adjustment happens.
	Tolerance float64
	// PriceStep is the fractional base-price move per pass.
	PriceStep float64
	// FloorRatio and CeilingRatio bound base prices against the service's
	// reference price.
	FloorRatio   float64
	CeilingRatio float64

	Now    func() time.Time
	Logger func(context.Context, string, map[string]any)
}

func NewOutcomeTracker(deps OutcomeTrackerDeps) (*OutcomeTracker, error) {
	if deps.Rules == nil {
		return nil, errors.New("outcome tracker: rule repository is required")
	}
	if deps.Triggers == nil {
		return nil, errors.New("outcome tracker: trigger repository is required")
	}
	if deps.Services == nil {
		return nil, errors.New("outcome tracker: service repository is required")
	}
	if deps.Revenue == nil {
		return nil, errors.New("outcome tracker: revenue repository is required")
	}

	window := deps.Window
	if window <= 0 {
		window = defaultOutcomeWindow
	}
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultOutcomeInterval
	}
	minSamples := deps.MinSamples
	if minSamples <= 0 {
		minSamples = defaultMinSamples
	}
	tolerance := deps.Tolerance
	if tolerance <= 0 {
		tolerance = defaultRateTolerance
	}
	priceStep := deps.PriceStep
	if priceStep <= 0 || priceStep >= 1 {
		priceStep = defaultPriceStep
	}
	floorRatio := deps.FloorRatio
	if floorRatio <= 0 || floorRatio >= 1 {
		floorRatio = defaultPriceFloorRatio
	}
	ceilingRatio := deps.CeilingRatio
	if ceilingRatio <= 1 {
		ceilingRatio = defaultPriceCeilingRatio
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &OutcomeTracker{
		rules:        deps.Rules,
		triggers:     deps.Triggers,
		services:     deps.Services,
		revenue:      deps.Revenue,
		index:        deps.Index,
		window:       window,
		interval:     interval,
		minSamples:   minSamples,
		tolerance:    tolerance,
		priceStep:    priceStep,
		floorRatio:   floorRatio,
		ceilingRatio: ceilingRatio,
		now:          func() time.Time { return now().UTC() },
		logger:       logger,
	}, nil
}

// SyncRuleProbabilities compares each active rule's conversion rate with
// the observed converted/decided ratio over the window and moves the rate
// halfway toward the observation when the gap exceeds the tolerance.
// Pending triggers are excluded: they have no outcome yet. The rule index
// is reloaded when anything changed.
func (t *OutcomeTracker) SyncRuleProbabilities(ctx context.Context) (RuleSyncReport, error) {
	rules, err := t.rules.ListActive(ctx)
	if err != nil {
		return RuleSyncReport{}, fmt.Errorf("outcome tracker: list rules: %w", err)
	}

	report := RuleSyncReport{}
	since := t.now().Add(-t.window)
	for _, rule := range rules {
		report.RulesExamined++

		triggers, err := t.triggers.ListByRule(ctx, repositories.TriggerWindowFilter{RuleID: rule.ID, Since: since})
		if err != nil {
			t.logger(ctx, "outcome_rule_skip", map[string]any{"ruleId": rule.ID, "error": err.Error()})
			continue
		}

		converted, decided := 0, 0
		for _, trigger := range triggers {
			switch trigger.Status {
			case domain.TriggerStatusConverted:
				converted++
				decided++
			case domain.TriggerStatusAbandoned:
				decided++
			}
		}
		if decided < t.minSamples {
			continue
		}

		observed := float64(converted) / float64(decided)
		gap := observed - rule.ConversionRate
		if math.Abs(gap) <= t.tolerance {
			continue
		}

		// Half-step toward the observation smooths out noisy windows.
		adjusted := rule.ConversionRate + gap/2
		adjusted = math.Min(math.Max(adjusted, minConversionRate), maxConversionRate)
		if _, err := t.rules.UpdateConversionRate(ctx, rule.ID, adjusted, t.now()); err != nil {
			t.logger(ctx, "outcome_rule_update_failed", map[string]any{"ruleId": rule.ID, "error": err.Error()})
			continue
		}
		report.RulesAdjusted++

		t.logger(ctx, "rule_rate_adjusted", map[string]any{
			"ruleId":   rule.ID,
			"oldRate":  rule.ConversionRate,
			"newRate":  adjusted,
			"observed": observed,
			"samples":  decided,
		})
	}

	if report.RulesAdjusted > 0 && t.index != nil {
		if err := t.index.Reload(ctx); err != nil {
			t.logger(ctx, "outcome_index_reload_failed", map[string]any{"error": err.Error()})
		} else {
			report.Reloaded = true
		}
	}
	return report, nil
}

// OptimizeBasePrices nudges each active service's base price by one step:
// up when the month's revenue misses the target and cancellations stay low,
// down when cancellations run high or revenue clears the target with a
// surplus. Every move stays inside the floor/ceiling band around the
// reference price, and services with thin month volumes are left alone.
func (t *OutcomeTracker) OptimizeBasePrices(ctx context.Context) (PriceOptimizationReport, error) {
	services, err := t.services.ListActive(ctx)
	if err != nil {
		return PriceOptimizationReport{}, fmt.Errorf("outcome tracker: list services: %w", err)
	}

	report := PriceOptimizationReport{}
	month := t.now().Format("2006-01")
	for _, service := range services {
		report.ServicesExamined++
		if service.RevenueTarget <= 0 {
			continue
		}

		metrics, err := t.revenue.GetMonthly(ctx, service.ID, month)
		if err != nil {
			if !isRepoNotFound(err) {
				t.logger(ctx, "outcome_service_skip", map[string]any{"serviceId": service.ID, "error": err.Error()})
			}
			continue
		}
		decided := metrics.OrderCount + metrics.CancelledCount
		if decided < int64(t.minSamples) {
			continue
		}
		cancellationRate := float64(metrics.CancelledCount) / float64(decided)

		// A service under its target with low cancellation has pricing room;
		// heavy cancellation or a comfortable surplus says the price runs hot.
		var proposed int64
		switch {
		case cancellationRate >= highCancellationRate:
			proposed = int64(math.Round(float64(service.BasePrice) * (1 - t.priceStep)))
		case float64(metrics.Revenue) >= float64(service.RevenueTarget)*revenueSurplusRatio:
			proposed = int64(math.Round(float64(service.BasePrice) * (1 - t.priceStep)))
		case metrics.Revenue < service.RevenueTarget:
			proposed = int64(math.Round(float64(service.BasePrice) * (1 + t.priceStep)))
		default:
			continue
		}

		anchor := service.ReferencePrice
		if anchor <= 0 {
			anchor = service.BasePrice
		}
		floor := int64(math.Round(float64(anchor) * t.floorRatio))
		ceiling := int64(math.Round(float64(anchor) * t.ceilingRatio))
		if proposed < floor {
			proposed = floor
		}
		if proposed > ceiling {
			proposed = ceiling
		}
		if proposed == service.BasePrice {
			continue
		}

		if _, err := t.services.UpdateBasePrice(ctx, service.ID, proposed, t.now()); err != nil {
			t.logger(ctx, "outcome_price_update_failed", map[string]any{"serviceId": service.ID, "error": err.Error()})
			continue
		}
		if proposed > service.BasePrice {
			report.PricesRaised++
		} else {
			report.PricesLowered++
		}

		t.logger(ctx, "base_price_adjusted", map[string]any{
			"serviceId":        service.ID,
			"oldPrice":         service.BasePrice,
			"newPrice":         proposed,
			"revenue":          metrics.Revenue,
			"target":           service.RevenueTarget,
			"cancellationRate": cancellationRate,
		})
	}
	return report, nil
}

// Run executes both adjustment passes on the configured interval until the
// context is cancelled. Pass failures are logged and the loop keeps going.
func (t *OutcomeTracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := t.SyncRuleProbabilities(ctx); err != nil {
				t.logger(ctx, "outcome_sync_failed", map[string]any{"error": err.Error()})
			}
			if _, err := t.OptimizeBasePrices(ctx); err != nil {
				t.logger(ctx, "outcome_optimize_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}
