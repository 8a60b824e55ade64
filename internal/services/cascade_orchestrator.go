package services

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/drivelane/engine/internal/domain"
	"github.com/drivelane/engine/internal/platform/cache"
	"github.com/drivelane/engine/internal/platform/observability"
	"github.com/drivelane/engine/internal/repositories"
)

var (
	// ErrCascadeInvalidInput signals a malformed completion event.
	ErrCascadeInvalidInput = errors.New("cascade: invalid input")
	// ErrCascadeOrderNotFound is returned when the completed order cannot
	// be loaded.
	ErrCascadeOrderNotFound = errors.New("cascade: order not found")
)

const (
	defaultActivationThreshold = 0.75
	defaultMaxCascadeDepth     = 3
	defaultTriggerDelay        = 5 * time.Second
	defaultPendingExpiry       = 24 * time.Hour
	recoveryBatchLimit         = 500

	// reasonAlreadyHeld marks decisions rejected because the customer
	// already holds the triggered service.
	reasonAlreadyHeld = "service_already_held"
)

// Scheduler defers a function by a delay. The production scheduler is
// time.AfterFunc; tests substitute a synchronous one.
type Scheduler func(delay time.Duration, fn func())

// CascadeOrchestrator reacts to completed orders: it walks the rules whose
// entry service matches the order, screens each by activation threshold,
// eligibility conditions, and a probability draw, records a pending trigger
// for every hit, and materializes the triggered order after a delay. Depth
// and duplicate suppression bound the recursion, since each materialized
// order completes and feeds back into the same path.
type CascadeOrchestrator struct {
	rules     RuleLookup
	snapshots SnapshotProvider
	pricing   PricingService
	orders    repositories.OrderRepository
	triggers  repositories.CascadeTriggerRepository
	journeys  repositories.JourneyRepository
	revenue   repositories.RevenueMetricsRepository
	publisher NotificationPublisher
	counters  cache.Cache
	metrics   *observability.EngineMetrics

	threshold     float64
	maxDepth      int
	delay         time.Duration
	pendingExpiry time.Duration

	random   func() float64
	now      func() time.Time
	newID    func() string
	schedule Scheduler
	logger   func(context.Context, string, map[string]any)
}

type CascadeOrchestratorDeps struct {
	Rules     RuleLookup
	Snapshots SnapshotProvider
	Pricing   PricingService
	Orders    repositories.OrderRepository
	Triggers  repositories.CascadeTriggerRepository
	Journeys  repositories.JourneyRepository
	Revenue   repositories.RevenueMetricsRepository
	Publisher NotificationPublisher
	Counters  cache.Cache
	Metrics   *observability.EngineMetrics

	// ActivationThreshold is the minimum conversion rate a rule needs to be
	// considered at all. Zero selects the default 0.75.
	ActivationThreshold float64
	// MaxCascadeDepth bounds how many hops a chain may extend past the
	// organic order. Zero selects the default 3.
	MaxCascadeDepth int
	// TriggerDelay separates the decision from the order materialization.
	TriggerDelay time.Duration
	// PendingExpiry is how long a pending trigger stays recoverable before
	// the sweep abandons it.
	PendingExpiry time.Duration

	Random    func() float64
	Now       func() time.Time
	IDGen     func() string
	Scheduler Scheduler
	Logger    func(context.Context, string, map[string]any)
}

func NewCascadeOrchestrator(deps CascadeOrchestratorDeps) (*CascadeOrchestrator, error) {
	if deps.Rules == nil {
		return nil, errors.New("cascade orchestrator: rule lookup is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("cascade orchestrator: snapshot provider is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("cascade orchestrator: pricing service is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("cascade orchestrator: order repository is required")
	}
	if deps.Triggers == nil {
		return nil, errors.New("cascade orchestrator: trigger repository is required")
	}
	if deps.IDGen == nil {
		return nil, errors.New("cascade orchestrator: id generator is required")
	}

	threshold := deps.ActivationThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultActivationThreshold
	}
	maxDepth := deps.MaxCascadeDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxCascadeDepth
	}
	delay := deps.TriggerDelay
	if delay <= 0 {
		delay = defaultTriggerDelay
	}
	pendingExpiry := deps.PendingExpiry
	if pendingExpiry <= 0 {
		pendingExpiry = defaultPendingExpiry
	}
	random := deps.Random
	if random == nil {
		random = rand.Float64
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	scheduler := deps.Scheduler
	if scheduler == nil {
		scheduler = func(delay time.Duration, fn func()) {
			time.AfterFunc(delay, fn)
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &CascadeOrchestrator{
		rules:         deps.Rules,
		snapshots:     deps.Snapshots,
		pricing:       deps.Pricing,
		orders:        deps.Orders,
		triggers:      deps.Triggers,
		journeys:      deps.Journeys,
		revenue:       deps.Revenue,
		publisher:     deps.Publisher,
		counters:      deps.Counters,
		metrics:       deps.Metrics,
		threshold:     threshold,
		maxDepth:      maxDepth,
		delay:         delay,
		pendingExpiry: pendingExpiry,
		random:        random,
		now:           func() time.Time { return now().UTC() },
		newID:         deps.IDGen,
		schedule:      scheduler,
		logger:        logger,
	}, nil
}

// HandleOrderCompleted runs the full decision pass for one completed order
// and returns the per-rule decisions. Side effects on non-critical
// collaborators, such as notifications and revenue counters, are logged and
// never fail the pass.
func (o *CascadeOrchestrator) HandleOrderCompleted(ctx context.Context, cmd OrderCompletedCommand) (CascadeReport, error) {
	if cmd.OrderID == "" {
		return CascadeReport{}, fmt.Errorf("%w: order id required", ErrCascadeInvalidInput)
	}

	order, err := o.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		if isRepoNotFound(err) {
			return CascadeReport{}, fmt.Errorf("%w: %s", ErrCascadeOrderNotFound, cmd.OrderID)
		}
		return CascadeReport{}, fmt.Errorf("cascade: load order: %w", err)
	}
	if cmd.CustomerID != "" && cmd.CustomerID != order.CustomerID {
		return CascadeReport{}, fmt.Errorf("%w: customer mismatch for order %s", ErrCascadeInvalidInput, cmd.OrderID)
	}

	report := CascadeReport{
		EntryOrderID: order.ID,
		CustomerID:   order.CustomerID,
		Depth:        order.CascadeDepth,
	}

	o.recordCompletion(ctx, order)

	if order.CascadeDepth >= o.maxDepth {
		o.logger(ctx, "cascade_depth_limit", map[string]any{
			"orderId": order.ID,
			"depth":   order.CascadeDepth,
		})
		return report, nil
	}

	rules := o.rules.RulesFor(order.ServiceID)
	if len(rules) == 0 {
		return report, nil
	}

	snapshot, err := o.snapshots.Snapshot(ctx, order.CustomerID)
	if err != nil {
		return CascadeReport{}, fmt.Errorf("cascade: snapshot: %w", err)
	}

	for _, rule := range rules {
		decision := o.evaluateRule(ctx, rule, order, snapshot)
		report.Decisions = append(report.Decisions, decision)
		o.metrics.RecordEvaluation(ctx, rule.ID, string(decision.Outcome))
	}

	o.logger(ctx, "cascade_evaluated", map[string]any{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"serviceId":  order.ServiceID,
		"depth":      order.CascadeDepth,
		"rules":      len(report.Decisions),
		"triggered":  countTriggered(report.Decisions),
	})
	return report, nil
}

// HandleOrderCancelled records a cancellation against the service's revenue
// aggregates, where the outcome tracker reads it as a price-down signal. A
// cancelled order that came out of a cascade also releases its source
// trigger, so the (customer, service) slot opens up again and the rule's
// conversion stats stop counting the order as a win.
func (o *CascadeOrchestrator) HandleOrderCancelled(ctx context.Context, cmd OrderCancelledCommand) error {
	if cmd.OrderID == "" {
		return fmt.Errorf("%w: order id required", ErrCascadeInvalidInput)
	}

	order, err := o.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		if isRepoNotFound(err) {
			return fmt.Errorf("%w: %s", ErrCascadeOrderNotFound, cmd.OrderID)
		}
		return fmt.Errorf("cascade: load order: %w", err)
	}
	if cmd.CustomerID != "" && cmd.CustomerID != order.CustomerID {
		return fmt.Errorf("%w: customer mismatch for order %s", ErrCascadeInvalidInput, cmd.OrderID)
	}

	if o.revenue != nil {
		if err := o.revenue.AddCancellation(ctx, order.ServiceID, o.now()); err != nil {
			o.logger(ctx, "cancellation_record_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	o.bumpCounter(ctx, "cancellations")

	if order.SourceTriggerID != "" {
		if _, err := o.triggers.MarkAbandoned(ctx, order.SourceTriggerID, "triggered order cancelled", o.now()); err != nil {
			o.logger(ctx, "trigger_release_failed", map[string]any{
				"triggerId": order.SourceTriggerID,
				"orderId":   order.ID,
				"error":     err.Error(),
			})
		}
	}

	o.logger(ctx, "cascade_order_cancelled", map[string]any{
		"orderId":    order.ID,
		"customerId": order.CustomerID,
		"serviceId":  order.ServiceID,
	})
	return nil
}

func (o *CascadeOrchestrator) evaluateRule(ctx context.Context, rule domain.CascadeRule, order domain.Order, snapshot domain.CustomerSnapshot) RuleDecision {
	decision := RuleDecision{RuleID: rule.ID, TriggerServiceID: rule.TriggerServiceID}

	if rule.ConversionRate < o.threshold {
		decision.Outcome = OutcomeThresholdFailed
		decision.Reason = fmt.Sprintf("conversion rate %.2f below threshold %.2f", rule.ConversionRate, o.threshold)
		return decision
	}

	held, err := o.orders.ExistsForService(ctx, order.CustomerID, rule.TriggerServiceID)
	if err != nil {
		o.logger(ctx, "cascade_duplicate_check_failed", map[string]any{
			"ruleId": rule.ID,
			"error":  err.Error(),
		})
		decision.Outcome = OutcomeConditionsFailed
		decision.Reason = "duplicate check unavailable"
		return decision
	}
	if held {
		decision.Outcome = OutcomeConditionsFailed
		decision.Reason = reasonAlreadyHeld
		return decision
	}

	if !EvaluateConditions(rule.Conditions, snapshot, order) {
		decision.Outcome = OutcomeConditionsFailed
		decision.Reason = "eligibility conditions not met"
		return decision
	}

	draw := o.random()
	decision.Draw = draw
	if draw >= rule.ConversionRate {
		decision.Outcome = OutcomeProbabilityMiss
		decision.Reason = fmt.Sprintf("draw %.3f over rate %.2f", draw, rule.ConversionRate)
		return decision
	}

	trigger, err := o.recordTrigger(ctx, rule, order)
	if err != nil {
		if isRepoConflict(err) {
			// Another evaluation won the (customer, service) slot between the
			// duplicate check and the write.
			decision.Outcome = OutcomeConditionsFailed
			decision.Reason = reasonAlreadyHeld
			return decision
		}
		o.logger(ctx, "cascade_trigger_write_failed", map[string]any{
			"ruleId": rule.ID,
			"error":  err.Error(),
		})
		decision.Outcome = OutcomeConditionsFailed
		decision.Reason = "trigger persistence unavailable"
		return decision
	}

	decision.Outcome = OutcomeTriggered
	decision.TriggerID = trigger.ID
	decision.Reason = fmt.Sprintf("draw %.3f under rate %.2f", draw, rule.ConversionRate)
	o.metrics.RecordTrigger(ctx, rule.ID)
	o.bumpCounter(ctx, "triggers")
	o.scheduleMaterialization(trigger.ID, o.delay)

	o.logger(ctx, "cascade_triggered", map[string]any{
		"triggerId":  trigger.ID,
		"ruleId":     rule.ID,
		"customerId": order.CustomerID,
		"serviceId":  rule.TriggerServiceID,
		"depth":      trigger.Depth,
	})
	return decision
}

func (o *CascadeOrchestrator) recordTrigger(ctx context.Context, rule domain.CascadeRule, order domain.Order) (domain.CascadeTrigger, error) {
	// The repository derives the trigger ID from the (customer, service)
	// pair so the store can reject duplicates on write.
	trigger := domain.CascadeTrigger{
		RuleID:             rule.ID,
		CustomerID:         order.CustomerID,
		EntryOrderID:       order.ID,
		TriggerServiceID:   rule.TriggerServiceID,
		TriggerServiceName: rule.TriggerName,
		Status:             domain.TriggerStatusPending,
		Depth:              order.CascadeDepth + 1,
		CreatedAt:          o.now(),
	}
	return o.triggers.Create(ctx, trigger)
}

func (o *CascadeOrchestrator) scheduleMaterialization(triggerID string, after time.Duration) {
	o.schedule(after, func() {
		ctx := context.Background()
		if err := o.materializeTrigger(ctx, triggerID); err != nil {
			o.logger(ctx, "cascade_materialize_failed", map[string]any{
				"triggerId": triggerID,
				"error":     err.Error(),
			})
		}
	})
}

// materializeTrigger converts one pending trigger into a priced order. It
// is idempotent: a trigger that is no longer pending is left alone, so a
// recovery pass and a live timer firing for the same trigger cannot create
// two orders.
func (o *CascadeOrchestrator) materializeTrigger(ctx context.Context, triggerID string) error {
	trigger, err := o.triggers.FindByID(ctx, triggerID)
	if err != nil {
		return fmt.Errorf("load trigger: %w", err)
	}
	if trigger.Status != domain.TriggerStatusPending {
		return nil
	}

	pricing, err := o.pricing.Price(ctx, domain.PriceRequest{
		ServiceID:  trigger.TriggerServiceID,
		CustomerID: trigger.CustomerID,
		Urgency:    domain.UrgencyStandard,
	})
	if err != nil {
		if errors.Is(err, ErrPricingServiceUnknown) {
			_, abandonErr := o.triggers.MarkAbandoned(ctx, trigger.ID, "service unavailable", o.now())
			if abandonErr != nil {
				return fmt.Errorf("abandon trigger: %w", abandonErr)
			}
			return nil
		}
		return fmt.Errorf("price service: %w", err)
	}

	order := domain.Order{
		ID:              o.newID(),
		CustomerID:      trigger.CustomerID,
		ServiceID:       trigger.TriggerServiceID,
		Status:          domain.OrderStatusPending,
		Price:           pricing.FinalPrice,
		CascadeDepth:    trigger.Depth,
		SourceTriggerID: trigger.ID,
		CreatedAt:       o.now(),
	}
	inserted, err := o.orders.Insert(ctx, order)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	if _, err := o.triggers.MarkConverted(ctx, trigger.ID, inserted.ID, inserted.Price, o.now()); err != nil {
		return fmt.Errorf("mark converted: %w", err)
	}

	o.metrics.RecordConversion(ctx, trigger.RuleID)
	o.bumpCounter(ctx, "conversions")
	o.advanceJourney(ctx, trigger)
	if invalidator, ok := o.snapshots.(interface {
		Invalidate(ctx context.Context, customerID string)
	}); ok {
		invalidator.Invalidate(ctx, trigger.CustomerID)
	}
	o.notify(ctx, trigger, inserted)

	o.logger(ctx, "cascade_converted", map[string]any{
		"triggerId":  trigger.ID,
		"orderId":    inserted.ID,
		"customerId": trigger.CustomerID,
		"serviceId":  trigger.TriggerServiceID,
		"price":      inserted.Price,
		"depth":      trigger.Depth,
	})
	return nil
}

// RecoverPending rescans pending triggers after a restart. Triggers older
// than the pending expiry are swept to abandoned; the rest are
// materialized immediately when their delay has lapsed, or rescheduled for
// the remainder.
func (o *CascadeOrchestrator) RecoverPending(ctx context.Context) (int, error) {
	pending, err := o.triggers.ListPending(ctx, o.now(), recoveryBatchLimit)
	if err != nil {
		return 0, fmt.Errorf("cascade: list pending: %w", err)
	}

	processed := 0
	for _, trigger := range pending {
		age := o.now().Sub(trigger.CreatedAt)
		switch {
		case age >= o.pendingExpiry:
			if _, err := o.triggers.MarkAbandoned(ctx, trigger.ID, "expired before materialization", o.now()); err != nil {
				o.logger(ctx, "cascade_sweep_failed", map[string]any{"triggerId": trigger.ID, "error": err.Error()})
				continue
			}
		case age >= o.delay:
			if err := o.materializeTrigger(ctx, trigger.ID); err != nil {
				o.logger(ctx, "cascade_materialize_failed", map[string]any{"triggerId": trigger.ID, "error": err.Error()})
				continue
			}
		default:
			o.scheduleMaterialization(trigger.ID, o.delay-age)
		}
		processed++
	}

	if processed > 0 {
		o.logger(ctx, "cascade_recovery_done", map[string]any{"processed": processed})
	}
	return processed, nil
}

func (o *CascadeOrchestrator) recordCompletion(ctx context.Context, order domain.Order) {
	if o.revenue != nil {
		if err := o.revenue.AddRevenue(ctx, order.ServiceID, order.Price, o.now()); err != nil {
			o.logger(ctx, "revenue_record_failed", map[string]any{"orderId": order.ID, "error": err.Error()})
		}
	}
	o.advanceJourneyForOrder(ctx, order)
}

func (o *CascadeOrchestrator) advanceJourney(ctx context.Context, trigger domain.CascadeTrigger) {
	if o.journeys == nil {
		return
	}
	stage := o.nextStage(ctx, trigger.CustomerID)
	journey := domain.CustomerJourney{
		CustomerID:  trigger.CustomerID,
		Stage:       stage,
		LastTrigger: trigger.ID,
		UpdatedAt:   o.now(),
	}
	if _, err := o.journeys.Upsert(ctx, journey); err != nil {
		o.logger(ctx, "journey_update_failed", map[string]any{"customerId": trigger.CustomerID, "error": err.Error()})
	}
}

func (o *CascadeOrchestrator) advanceJourneyForOrder(ctx context.Context, order domain.Order) {
	if o.journeys == nil {
		return
	}
	journey := domain.CustomerJourney{
		CustomerID: order.CustomerID,
		Stage:      o.nextStage(ctx, order.CustomerID),
		UpdatedAt:  o.now(),
	}
	if _, err := o.journeys.Upsert(ctx, journey); err != nil {
		o.logger(ctx, "journey_update_failed", map[string]any{"customerId": order.CustomerID, "error": err.Error()})
	}
}

func (o *CascadeOrchestrator) nextStage(ctx context.Context, customerID string) domain.JourneyStage {
	current, err := o.journeys.Find(ctx, customerID)
	if err != nil {
		return domain.JourneyStageFirstOrder
	}
	switch current.Stage {
	case domain.JourneyStageProspect, "":
		return domain.JourneyStageFirstOrder
	case domain.JourneyStageFirstOrder:
		return domain.JourneyStageReturning
	default:
		return domain.JourneyStageLoyal
	}
}

func (o *CascadeOrchestrator) notify(ctx context.Context, trigger domain.CascadeTrigger, order domain.Order) {
	if o.publisher == nil {
		return
	}
	sentAt := o.now()
	_, err := o.publisher.PublishServiceRecommended(ctx, ServiceRecommendedMessage{
		CustomerID:  trigger.CustomerID,
		ServiceID:   trigger.TriggerServiceID,
		ServiceName: trigger.TriggerServiceName,
		OrderID:     order.ID,
		Price:       order.Price,
		TriggerID:   trigger.ID,
		SentAt:      sentAt,
	})
	if err != nil {
		o.logger(ctx, "notification_failed", map[string]any{"triggerId": trigger.ID, "kind": "service_recommended", "error": err.Error()})
	}
	_, err = o.publisher.PublishCascadeTriggered(ctx, CascadeTriggeredMessage{
		TriggerID:    trigger.ID,
		RuleID:       trigger.RuleID,
		CustomerID:   trigger.CustomerID,
		EntryOrderID: trigger.EntryOrderID,
		OrderID:      order.ID,
		ServiceID:    trigger.TriggerServiceID,
		Price:        order.Price,
		Depth:        trigger.Depth,
		SentAt:       sentAt,
	})
	if err != nil {
		o.logger(ctx, "notification_failed", map[string]any{"triggerId": trigger.ID, "kind": "cascade_triggered", "error": err.Error()})
	}
}

func (o *CascadeOrchestrator) bumpCounter(ctx context.Context, name string) {
	if o.counters == nil {
		return
	}
	key := fmt.Sprintf("metrics:cascade:%s:%s", name, o.now().Format("2006-01-02"))
	if _, err := o.counters.Increment(ctx, key, 1); err != nil {
		o.logger(ctx, "counter_bump_failed", map[string]any{"key": key, "error": err.Error()})
	}
}

func countTriggered(decisions []RuleDecision) int {
	count := 0
	for _, decision := range decisions {
		if decision.Outcome == OutcomeTriggered {
			count++
		}
	}
	return count
}
