package domain

// FactorType tags one multiplicative price adjustment with its origin.
type FactorType string

const (
	FactorCredit       FactorType = "credit_score"
	FactorVehicleValue FactorType = "vehicle_value"
	FactorLoyalty      FactorType = "loyalty"
	FactorSeasonal     FactorType = "seasonal"
	FactorMarket       FactorType = "market"
	FactorUrgency      FactorType = "urgency"
	FactorVolume       FactorType = "volume"
)

// PriceFactor is one independent multiplicative adjustment applied to a
// base price, recorded so a final price can be explained to a customer or
// auditor.
type PriceFactor struct {
	Type        FactorType
	Multiplier  float64
	Description string
}

// Urgency selects the service level requested for an order.
type Urgency string

const (
	UrgencyStandard  Urgency = "standard"
	UrgencyExpedited Urgency = "expedited"
	UrgencyEmergency Urgency = "emergency"
)

// PriceRequest carries the per-request pricing options.
type PriceRequest struct {
	ServiceID  string
	CustomerID string
	Urgency    Urgency
	BundleSize int
}

// PricingResult captures the full outcome of pricing one service for one
// customer: the bounded final price plus the itemized factor breakdown and
// the estimated cost and margin.
type PricingResult struct {
	ServiceID     string
	BasePrice     int64
	FinalPrice    int64
	Factors       []PriceFactor
	EstimatedCost int64
	ProfitMargin  float64
	Discount      int64
	Premium       int64
}
