package repositories

import (
	"context"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ServiceRepository stores the sellable service catalog.
type ServiceRepository interface {
	FindByID(ctx context.Context, serviceID string) (domain.Service, error)
	ListActive(ctx context.Context) ([]domain.Service, error)
	// UpdateBasePrice persists an administrative price change and returns the
	// updated record. Callers own the bounds checks.
	UpdateBasePrice(ctx context.Context, serviceID string, basePrice int64, updatedAt time.Time) (domain.Service, error)
}

// CascadeRuleRepository stores the recommendation edges between services.
type CascadeRuleRepository interface {
	// ListActive returns every active rule joined with the entry and
	// triggered service names, in no particular order.
	ListActive(ctx context.Context) ([]domain.CascadeRule, error)
	UpdateConversionRate(ctx context.Context, ruleID string, rate float64, updatedAt time.Time) (domain.CascadeRule, error)
}

// CustomerRepository stores customer profiles.
type CustomerRepository interface {
	FindByID(ctx context.Context, customerID string) (domain.Customer, error)
}

// VehicleRepository stores customer vehicles and assessments.
type VehicleRepository interface {
	ListByCustomer(ctx context.Context, customerID string) ([]domain.Vehicle, error)
}

// OrderListFilter narrows order listings per customer.
type OrderListFilter struct {
	Statuses   []domain.OrderStatus
	Since      *time.Time
	Pagination domain.Pagination
}

// OrderRepository persists service orders.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) (domain.Order, error)
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	ListByCustomer(ctx context.Context, customerID string, filter OrderListFilter) ([]domain.Order, error)
	// ExistsForService reports whether the customer holds any non-cancelled
	// order for the service. Checked against the persisted store so the
	// answer survives process restarts.
	ExistsForService(ctx context.Context, customerID string, serviceID string) (bool, error)
}

// TriggerWindowFilter selects triggers for outcome aggregation.
type TriggerWindowFilter struct {
	RuleID string
	Since  time.Time
	Limit  int
}

// CascadeTriggerRepository persists cascade trigger records. Trigger
// documents are keyed by (customer, triggered service) so the backing store
// enforces the at-most-one-converted invariant; Create surfaces a conflict
// when a pending or converted trigger already holds the pair.
type CascadeTriggerRepository interface {
	Create(ctx context.Context, trigger domain.CascadeTrigger) (domain.CascadeTrigger, error)
	FindByID(ctx context.Context, triggerID string) (domain.CascadeTrigger, error)
	MarkConverted(ctx context.Context, triggerID string, orderID string, revenue int64, at time.Time) (domain.CascadeTrigger, error)
	MarkAbandoned(ctx context.Context, triggerID string, reason string, at time.Time) (domain.CascadeTrigger, error)
	// ListPending returns pending triggers created before the given cutoff,
	// oldest first, for recovery and sweeping after restarts.
	ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.CascadeTrigger, error)
	ListByRule(ctx context.Context, filter TriggerWindowFilter) ([]domain.CascadeTrigger, error)
}

// JourneyRepository tracks customer funnel progression.
type JourneyRepository interface {
	Upsert(ctx context.Context, journey domain.CustomerJourney) (domain.CustomerJourney, error)
	Find(ctx context.Context, customerID string) (domain.CustomerJourney, error)
}

// RevenueMetricsRepository aggregates realized revenue per service and
// calendar window for reporting and outcome-driven price adjustment.
type RevenueMetricsRepository interface {
	AddRevenue(ctx context.Context, serviceID string, amount int64, at time.Time) error
	AddCancellation(ctx context.Context, serviceID string, at time.Time) error
	GetMonthly(ctx context.Context, serviceID string, month string) (domain.RevenueMetrics, error)
}
