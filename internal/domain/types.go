package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CursorPage bundles a page of results with the token needed to fetch the next page.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// ServiceCategory groups services for seasonal, market, and complexity lookups.
type ServiceCategory string

const (
	// CategoryInspection covers vehicle inspection and appraisal services.
	CategoryInspection ServiceCategory = "inspection"
	// CategoryFinancing covers financing and credit-related services.
	CategoryFinancing ServiceCategory = "financing"
	// CategoryDocumentation covers registration and title paperwork services.
	CategoryDocumentation ServiceCategory = "documentation"
	// CategoryLegal covers legal assistance services.
	CategoryLegal ServiceCategory = "legal"
	// CategoryMaintenance covers maintenance and repair services.
	CategoryMaintenance ServiceCategory = "maintenance"
	// CategoryConsulting covers advisory services.
	CategoryConsulting ServiceCategory = "consulting"
)

// Service is a sellable unit of work. Base prices are stored in minor
// currency units and only change through administrative price optimization.
type Service struct {
	ID       string
	Name     string
	Category ServiceCategory
	// BasePrice is the current sell price; ReferencePrice is the catalog
	// anchor that outcome-driven adjustments are bounded against.
	BasePrice      int64
	ReferencePrice int64
	MarkupPercent  float64
	RevenueTarget  int64
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JourneyStage tracks how far along the sales funnel a customer is.
type JourneyStage string

const (
	JourneyStageProspect   JourneyStage = "prospect"
	JourneyStageFirstOrder JourneyStage = "first_order"
	JourneyStageReturning  JourneyStage = "returning"
	JourneyStageLoyal      JourneyStage = "loyal"
)

// Customer is the persisted customer profile record.
type Customer struct {
	ID                    string
	Name                  string
	Email                 string
	CreditScore           int
	AnnualIncome          int64
	JourneyStage          JourneyStage
	HasFinancingNeed      bool
	HasPurchaseIntent     bool
	NeedsCreditRepair     bool
	HasComplexLegalNeeds  bool
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Vehicle records a customer's vehicle and its assessed value.
type Vehicle struct {
	ID          string
	CustomerID  string
	Plate       string
	Model       string
	Year        int
	Value       int64
	Condition   string
	AssessedAt  time.Time
}

// CustomerSnapshot is the aggregated point-in-time view of a customer used
// by condition evaluation and pricing. It is derived from customer, order
// history, and vehicle data, and cached with bounded freshness.
type CustomerSnapshot struct {
	CustomerID           string
	CreditScore          int
	AnnualIncome         int64
	VehicleValue         int64
	VehicleConditions    []string
	JourneyStage         JourneyStage
	LifetimeSpend        int64
	OrderCount           int
	DaysSinceLastOrder   int
	HasFinancingNeed     bool
	HasPurchaseIntent    bool
	NeedsCreditRepair    bool
	HasComplexLegalNeeds bool
	TakenAt              time.Time
}

// OrderStatus describes lifecycle states for service orders.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusActive    OrderStatus = "active"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is one unit of work sold to a customer. CascadeDepth records how
// many recommendation hops separate this order from the organic order that
// started its chain; SourceTriggerID links back to the trigger that created
// it, empty for organic orders.
type Order struct {
	ID              string
	CustomerID      string
	ServiceID       string
	Status          OrderStatus
	Price           int64
	CascadeDepth    int
	SourceTriggerID string
	CreatedAt       time.Time
	CompletedAt     *time.Time
	CancelledAt     *time.Time
}

// ConditionKind enumerates the predicate kinds a cascade rule may carry.
// Unknown kinds are rejected when rules are loaded.
type ConditionKind string

const (
	ConditionMinCreditScore       ConditionKind = "min_credit_score"
	ConditionMaxCreditScore       ConditionKind = "max_credit_score"
	ConditionMinVehicleValue      ConditionKind = "min_vehicle_value"
	ConditionMinAnnualIncome      ConditionKind = "min_annual_income"
	ConditionJourneyStage         ConditionKind = "journey_stage"
	ConditionHasFinancingNeed     ConditionKind = "has_financing_need"
	ConditionHasPurchaseIntent    ConditionKind = "has_purchase_intent"
	ConditionMinDaysSinceOrder    ConditionKind = "min_days_since_last_order"
	ConditionMinTotalSpend        ConditionKind = "min_total_spend"
	ConditionNeedsCreditRepair    ConditionKind = "needs_credit_improvement"
	ConditionComplexLegalNeeds    ConditionKind = "has_complex_legal_needs"
)

// RuleCondition is one typed predicate inside a rule's condition set.
// Exactly one operand field is meaningful for a given kind.
type RuleCondition struct {
	Kind   ConditionKind
	Number int64
	Flag   bool
	Stage  JourneyStage
}

// CascadeRule is a directed recommendation edge from an entry service to a
// triggered service. Conditions are conjunctive; ConversionRate is the
// aggregate fraction of eligible customers expected to convert.
type CascadeRule struct {
	ID               string
	EntryServiceID   string
	EntryServiceName string
	TriggerServiceID string
	TriggerName      string
	ConversionRate   float64
	Priority         int
	Conditions       []RuleCondition
	Active           bool
	UpdatedAt        time.Time
}

// TriggerStatus describes lifecycle states for cascade triggers.
type TriggerStatus string

const (
	// TriggerStatusPending marks a trigger recorded at decision time whose
	// order has not been materialized yet.
	TriggerStatusPending TriggerStatus = "pending"
	// TriggerStatusConverted marks a trigger whose order was created.
	TriggerStatusConverted TriggerStatus = "converted"
	// TriggerStatusAbandoned marks a trigger given up before materialization.
	TriggerStatusAbandoned TriggerStatus = "abandoned"
)

// CascadeTrigger links an entry order to a rule decision and, once
// materialized, to the triggered order. It is the single source of truth
// preventing duplicate triggers for a (customer, service) pair: at most one
// converted trigger may exist for that pair at a time.
type CascadeTrigger struct {
	ID                 string
	RuleID             string
	CustomerID         string
	EntryOrderID       string
	TriggerServiceID   string
	TriggerServiceName string
	TriggeredOrderID   string
	Status             TriggerStatus
	Depth              int
	Reason             string
	RealizedRevenue    int64
	CreatedAt          time.Time
	ConvertedAt        *time.Time
	AbandonedAt        *time.Time
}

// CustomerJourney records funnel progression events driven by cascades.
type CustomerJourney struct {
	CustomerID  string
	Stage       JourneyStage
	LastTrigger string
	UpdatedAt   time.Time
}

// RevenueMetrics aggregates realized revenue per service over calendar
// windows. Keys are derived from the service id and the window label.
type RevenueMetrics struct {
	ServiceID      string
	Day            string
	Month          string
	Year           string
	Revenue        int64
	OrderCount     int64
	CancelledCount int64
	UpdatedAt      time.Time
}
