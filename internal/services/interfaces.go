package services

import (
	"context"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
)

// DecisionOutcome is the terminal state of evaluating one cascade rule
// against one completed order.
type DecisionOutcome string

const (
	// OutcomeThresholdFailed means the rule's own conversion rate sits below
	// the configured activation threshold and the rule was skipped outright.
	OutcomeThresholdFailed DecisionOutcome = "threshold_failed"
	// OutcomeConditionsFailed means an eligibility check rejected the rule.
	OutcomeConditionsFailed DecisionOutcome = "conditions_failed"
	// OutcomeProbabilityMiss means the rule was eligible but the per-trigger
	// random draw did not fire.
	OutcomeProbabilityMiss DecisionOutcome = "probability_miss"
	// OutcomeTriggered means a pending trigger was recorded and delayed
	// materialization was scheduled.
	OutcomeTriggered DecisionOutcome = "triggered"
)

// RuleDecision records the outcome of one (entry order, rule) evaluation.
type RuleDecision struct {
	RuleID           string
	TriggerServiceID string
	Outcome          DecisionOutcome
	Reason           string
	TriggerID        string
	Draw             float64
}

// OrderCompletedCommand is the inbound completion event payload.
type OrderCompletedCommand struct {
	OrderID    string
	CustomerID string
	// Depth is the accumulated cascade depth carried on the completed order;
	// zero for organic orders.
	Depth int
}

// CascadeReport summarises one completion's cascade evaluation for logging
// and auditing.
type CascadeReport struct {
	EntryOrderID string
	CustomerID   string
	Depth        int
	Decisions    []RuleDecision
}

// OrderCancelledCommand is the inbound cancellation event payload.
type OrderCancelledCommand struct {
	OrderID    string
	CustomerID string
}

// CascadeService drives the per-completion cascade decision process.
type CascadeService interface {
	HandleOrderCompleted(ctx context.Context, cmd OrderCompletedCommand) (CascadeReport, error)
	// HandleOrderCancelled feeds a cancellation into the revenue aggregates
	// and releases the order's source trigger.
	HandleOrderCancelled(ctx context.Context, cmd OrderCancelledCommand) error
	// RecoverPending rescans pending triggers after a restart, re-scheduling
	// materialization for recent ones and sweeping expired ones to abandoned.
	RecoverPending(ctx context.Context) (int, error)
}

// RuleLookup exposes the in-memory rule index to the orchestrator.
type RuleLookup interface {
	RulesFor(serviceID string) []domain.CascadeRule
	Reload(ctx context.Context) error
}

// SnapshotProvider supplies the aggregated customer view with bounded
// freshness.
type SnapshotProvider interface {
	Snapshot(ctx context.Context, customerID string) (domain.CustomerSnapshot, error)
}

// PricingService prices one service for one customer.
type PricingService interface {
	Price(ctx context.Context, req domain.PriceRequest) (domain.PricingResult, error)
}

// ServiceRecommendedMessage is the customer-facing notification payload.
type ServiceRecommendedMessage struct {
	CustomerID  string    `json:"customerId"`
	ServiceID   string    `json:"serviceId"`
	ServiceName string    `json:"serviceName"`
	OrderID     string    `json:"orderId"`
	Price       int64     `json:"price"`
	TriggerID   string    `json:"triggerId"`
	SentAt      time.Time `json:"sentAt"`
}

// CascadeTriggeredMessage is the administrator-facing notification payload.
type CascadeTriggeredMessage struct {
	TriggerID    string    `json:"triggerId"`
	RuleID       string    `json:"ruleId"`
	CustomerID   string    `json:"customerId"`
	EntryOrderID string    `json:"entryOrderId"`
	OrderID      string    `json:"orderId"`
	ServiceID    string    `json:"serviceId"`
	Price        int64     `json:"price"`
	Depth        int       `json:"depth"`
	SentAt       time.Time `json:"sentAt"`
}

// NotificationPublisher delivers outbound cascade notifications. Failures
// are logged by callers and never fail the cascade itself.
type NotificationPublisher interface {
	PublishServiceRecommended(ctx context.Context, msg ServiceRecommendedMessage) (string, error)
	PublishCascadeTriggered(ctx context.Context, msg CascadeTriggeredMessage) (string, error)
}

// RuleSyncReport summarises one probability-sync pass.
type RuleSyncReport struct {
	RulesExamined int
	RulesAdjusted int
	Reloaded      bool
}

// PriceOptimizationReport summarises one base-price adjustment pass.
type PriceOptimizationReport struct {
	ServicesExamined int
	PricesRaised     int
	PricesLowered    int
}
