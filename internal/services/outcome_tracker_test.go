package services

import (
	"context"
	"math"
	"testing"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
	"github.com/drivelane/engine/internal/repositories"
)

type fakeRuleRepo struct {
	rules   []domain.CascadeRule
	updated map[string]float64
}

func (f *fakeRuleRepo) ListActive(context.Context) ([]domain.CascadeRule, error) {
	return f.rules, nil
}

func (f *fakeRuleRepo) UpdateConversionRate(_ context.Context, ruleID string, rate float64, _ time.Time) (domain.CascadeRule, error) {
	if f.updated == nil {
		f.updated = make(map[string]float64)
	}
	f.updated[ruleID] = rate
	return domain.CascadeRule{ID: ruleID, ConversionRate: rate}, nil
}

type fakeServiceRepo struct {
	services []domain.Service
	updated  map[string]int64
}

func (f *fakeServiceRepo) FindByID(_ context.Context, serviceID string) (domain.Service, error) {
	for _, service := range f.services {
		if service.ID == serviceID {
			return service, nil
		}
	}
	return domain.Service{}, notFoundRepoError{}
}

func (f *fakeServiceRepo) ListActive(context.Context) ([]domain.Service, error) {
	return f.services, nil
}

func (f *fakeServiceRepo) UpdateBasePrice(_ context.Context, serviceID string, basePrice int64, _ time.Time) (domain.Service, error) {
	if f.updated == nil {
		f.updated = make(map[string]int64)
	}
	f.updated[serviceID] = basePrice
	return domain.Service{ID: serviceID, BasePrice: basePrice}, nil
}

type fakeRevenueRepo struct {
	monthly   map[string]domain.RevenueMetrics
	cancelled []string
}

func (f *fakeRevenueRepo) AddRevenue(context.Context, string, int64, time.Time) error { return nil }

func (f *fakeRevenueRepo) AddCancellation(_ context.Context, serviceID string, _ time.Time) error {
	f.cancelled = append(f.cancelled, serviceID)
	return nil
}

func (f *fakeRevenueRepo) GetMonthly(_ context.Context, serviceID, month string) (domain.RevenueMetrics, error) {
	metrics, ok := f.monthly[serviceID+"_"+month]
	if !ok {
		return domain.RevenueMetrics{}, notFoundRepoError{}
	}
	return metrics, nil
}

type reloadCountingIndex struct {
	reloads int
}

func (r *reloadCountingIndex) RulesFor(string) []domain.CascadeRule { return nil }

func (r *reloadCountingIndex) Reload(context.Context) error {
	r.reloads++
	return nil
}

func triggerOutcomes(ruleID string, converted, abandoned, pending int, at time.Time) []domain.CascadeTrigger {
	var triggers []domain.CascadeTrigger
	add := func(n int, status domain.TriggerStatus) {
		for i := 0; i < n; i++ {
			triggers = append(triggers, domain.CascadeTrigger{
				RuleID:    ruleID,
				Status:    status,
				CreatedAt: at,
			})
		}
	}
	add(converted, domain.TriggerStatusConverted)
	add(abandoned, domain.TriggerStatusAbandoned)
	add(pending, domain.TriggerStatusPending)
	return triggers
}

type windowTriggerRepo struct {
	fakeTriggerRepo
	byRule map[string][]domain.CascadeTrigger
}

func (w *windowTriggerRepo) ListByRule(_ context.Context, filter repositories.TriggerWindowFilter) ([]domain.CascadeTrigger, error) {
	return w.byRule[filter.RuleID], nil
}

func newOutcomeTracker(t *testing.T, rules *fakeRuleRepo, triggers *windowTriggerRepo, services *fakeServiceRepo, revenue *fakeRevenueRepo, index RuleLookup) *OutcomeTracker {
	t.Helper()
	tracker, err := NewOutcomeTracker(OutcomeTrackerDeps{
		Rules:    rules,
		Triggers: triggers,
		Services: services,
		Revenue:  revenue,
		Index:    index,
		Now:      fixedClock(time.Date(2026, time.May, 10, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("new outcome tracker: %v", err)
	}
	return tracker
}

func TestSyncSkipsThinSamples(t *testing.T) {
	at := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	rules := &fakeRuleRepo{rules: []domain.CascadeRule{{ID: "rule-1", ConversionRate: 0.80}}}
	triggers := &windowTriggerRepo{byRule: map[string][]domain.CascadeTrigger{
		"rule-1": triggerOutcomes("rule-1", 2, 3, 0, at),
	}}
	tracker := newOutcomeTracker(t, rules, triggers, &fakeServiceRepo{}, &fakeRevenueRepo{}, nil)

	report, err := tracker.SyncRuleProbabilities(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.RulesExamined != 1 || report.RulesAdjusted != 0 {
		t.Fatalf("expected 1 examined / 0 adjusted, got %+v", report)
	}
	if len(rules.updated) != 0 {
		t.Fatal("expected no rate update below the sample floor")
	}
}

func TestSyncIgnoresPendingTriggers(t *testing.T) {
	at := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	rules := &fakeRuleRepo{rules: []domain.CascadeRule{{ID: "rule-1", ConversionRate: 0.80}}}
	// Nine decided outcomes plus a pile of pending ones must not clear the
	// ten-sample floor.
	triggers := &windowTriggerRepo{byRule: map[string][]domain.CascadeTrigger{
		"rule-1": triggerOutcomes("rule-1", 4, 5, 40, at),
	}}
	tracker := newOutcomeTracker(t, rules, triggers, &fakeServiceRepo{}, &fakeRevenueRepo{}, nil)

	report, err := tracker.SyncRuleProbabilities(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.RulesAdjusted != 0 {
		t.Fatalf("expected no adjustment, got %+v", report)
	}
}

func TestSyncSkipsWithinTolerance(t *testing.T) {
	at := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	// Observed 15/20 = 0.75 against an assumed 0.80: gap 0.05 is inside the
	// 0.1 tolerance.
	rules := &fakeRuleRepo{rules: []domain.CascadeRule{{ID: "rule-1", ConversionRate: 0.80}}}
	triggers := &windowTriggerRepo{byRule: map[string][]domain.CascadeTrigger{
		"rule-1": triggerOutcomes("rule-1", 15, 5, 0, at),
	}}
	tracker := newOutcomeTracker(t, rules, triggers, &fakeServiceRepo{}, &fakeRevenueRepo{}, nil)

	report, err := tracker.SyncRuleProbabilities(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.RulesAdjusted != 0 {
		t.Fatalf("expected no adjustment inside tolerance, got %+v", report)
	}
}

func TestSyncMovesRateHalfwayAndReloads(t *testing.T) {
	at := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	// Observed 4/20 = 0.20 against an assumed 0.80: adjust to 0.80 - 0.30.
	rules := &fakeRuleRepo{rules: []domain.CascadeRule{{ID: "rule-1", ConversionRate: 0.80}}}
	triggers := &windowTriggerRepo{byRule: map[string][]domain.CascadeTrigger{
		"rule-1": triggerOutcomes("rule-1", 4, 16, 0, at),
	}}
	index := &reloadCountingIndex{}
	tracker := newOutcomeTracker(t, rules, triggers, &fakeServiceRepo{}, &fakeRevenueRepo{}, index)

	report, err := tracker.SyncRuleProbabilities(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.RulesAdjusted != 1 || !report.Reloaded {
		t.Fatalf("expected 1 adjusted and a reload, got %+v", report)
	}
	got := rules.updated["rule-1"]
	if math.Abs(got-0.50) > 1e-9 {
		t.Fatalf("expected half-step to 0.50, got %v", got)
	}
	if index.reloads != 1 {
		t.Fatalf("expected one index reload, got %d", index.reloads)
	}
}

func TestSyncClampsRateToFloor(t *testing.T) {
	at := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)
	// Assumed 0.08 with zero observed conversions would fall to 0.04; the
	// floor keeps the rule alive at 0.05.
	rules := &fakeRuleRepo{rules: []domain.CascadeRule{{ID: "rule-1", ConversionRate: 0.08}}}
	triggers := &windowTriggerRepo{byRule: map[string][]domain.CascadeTrigger{
		"rule-1": triggerOutcomes("rule-1", 0, 20, 0, at),
	}}
	tracker := newOutcomeTracker(t, rules, triggers, &fakeServiceRepo{}, &fakeRevenueRepo{}, nil)

	// Tolerance default is 0.1; widen the gap check by lowering tolerance.
	tracker.tolerance = 0.01

	if _, err := tracker.SyncRuleProbabilities(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	got := rules.updated["rule-1"]
	if math.Abs(got-0.05) > 1e-9 {
		t.Fatalf("expected rate floored at 0.05, got %v", got)
	}
}

func TestOptimizeRaisesPriceOnMissedTarget(t *testing.T) {
	// Under target with no cancellations: the service has pricing room, so
	// the base price steps up.
	services := &fakeServiceRepo{services: []domain.Service{{
		ID: "svc-1", BasePrice: 100_000, ReferencePrice: 100_000, RevenueTarget: 1_000_000, Active: true,
	}}}
	revenue := &fakeRevenueRepo{monthly: map[string]domain.RevenueMetrics{
		"svc-1_2026-05": {ServiceID: "svc-1", Revenue: 400_000, OrderCount: 12},
	}}
	tracker := newOutcomeTracker(t, &fakeRuleRepo{}, &windowTriggerRepo{}, services, revenue, nil)

	report, err := tracker.OptimizeBasePrices(context.Background())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.PricesRaised != 1 || report.PricesLowered != 0 {
		t.Fatalf("expected one raised price, got %+v", report)
	}
	if got := services.updated["svc-1"]; got != 105_000 {
		t.Fatalf("expected one step up to 105000, got %d", got)
	}
}

func TestOptimizeLowersPriceOnSurplus(t *testing.T) {
	services := &fakeServiceRepo{services: []domain.Service{{
		ID: "svc-1", BasePrice: 100_000, ReferencePrice: 100_000, RevenueTarget: 1_000_000, Active: true,
	}}}
	revenue := &fakeRevenueRepo{monthly: map[string]domain.RevenueMetrics{
		"svc-1_2026-05": {ServiceID: "svc-1", Revenue: 1_300_000, OrderCount: 12},
	}}
	tracker := newOutcomeTracker(t, &fakeRuleRepo{}, &windowTriggerRepo{}, services, revenue, nil)

	report, err := tracker.OptimizeBasePrices(context.Background())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.PricesLowered != 1 {
		t.Fatalf("expected one lowered price, got %+v", report)
	}
	if got := services.updated["svc-1"]; got != 95_000 {
		t.Fatalf("expected one step down to 95000, got %d", got)
	}
}

func TestOptimizeLowersPriceOnHighCancellation(t *testing.T) {
	// Revenue misses the target, but a quarter of the month's orders were
	// cancelled: the cancellation signal wins and the price steps down.
	services := &fakeServiceRepo{services: []domain.Service{{
		ID: "svc-1", BasePrice: 100_000, ReferencePrice: 100_000, RevenueTarget: 1_000_000, Active: true,
	}}}
	revenue := &fakeRevenueRepo{monthly: map[string]domain.RevenueMetrics{
		"svc-1_2026-05": {ServiceID: "svc-1", Revenue: 400_000, OrderCount: 9, CancelledCount: 3},
	}}
	tracker := newOutcomeTracker(t, &fakeRuleRepo{}, &windowTriggerRepo{}, services, revenue, nil)

	report, err := tracker.OptimizeBasePrices(context.Background())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.PricesLowered != 1 || report.PricesRaised != 0 {
		t.Fatalf("expected one lowered price, got %+v", report)
	}
	if got := services.updated["svc-1"]; got != 95_000 {
		t.Fatalf("expected one step down to 95000, got %d", got)
	}
}

func TestOptimizeBoundsAgainstReferencePrice(t *testing.T) {
	// Base already at the 0.8 floor of the reference anchor: the surplus step
	// down clamps to the floor and no update is written.
	services := &fakeServiceRepo{services: []domain.Service{{
		ID: "svc-1", BasePrice: 80_000, ReferencePrice: 100_000, RevenueTarget: 1_000_000, Active: true,
	}}}
	revenue := &fakeRevenueRepo{monthly: map[string]domain.RevenueMetrics{
		"svc-1_2026-05": {ServiceID: "svc-1", Revenue: 1_300_000, OrderCount: 12},
	}}
	tracker := newOutcomeTracker(t, &fakeRuleRepo{}, &windowTriggerRepo{}, services, revenue, nil)

	report, err := tracker.OptimizeBasePrices(context.Background())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.PricesLowered != 0 || report.PricesRaised != 0 {
		t.Fatalf("expected no move past the floor, got %+v", report)
	}
	if len(services.updated) != 0 {
		t.Fatal("expected no price write at the floor")
	}
}

func TestOptimizeSkipsThinMonths(t *testing.T) {
	services := &fakeServiceRepo{services: []domain.Service{{
		ID: "svc-1", BasePrice: 100_000, ReferencePrice: 100_000, RevenueTarget: 1_000_000, Active: true,
	}}}
	revenue := &fakeRevenueRepo{monthly: map[string]domain.RevenueMetrics{
		"svc-1_2026-05": {ServiceID: "svc-1", Revenue: 100_000, OrderCount: 3},
	}}
	tracker := newOutcomeTracker(t, &fakeRuleRepo{}, &windowTriggerRepo{}, services, revenue, nil)

	report, err := tracker.OptimizeBasePrices(context.Background())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.PricesLowered != 0 && report.PricesRaised != 0 {
		t.Fatalf("expected thin month skipped, got %+v", report)
	}
	if len(services.updated) != 0 {
		t.Fatal("expected no price write for a thin month")
	}
}

func TestOptimizeSkipsServicesWithoutTarget(t *testing.T) {
	services := &fakeServiceRepo{services: []domain.Service{{
		ID: "svc-1", BasePrice: 100_000, Active: true,
	}}}
	tracker := newOutcomeTracker(t, &fakeRuleRepo{}, &windowTriggerRepo{}, services, &fakeRevenueRepo{}, nil)

	report, err := tracker.OptimizeBasePrices(context.Background())
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	if report.ServicesExamined != 1 || len(services.updated) != 0 {
		t.Fatalf("expected examined-but-untouched service, got %+v", report)
	}
}
