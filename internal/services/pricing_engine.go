package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
	"github.com/drivelane/engine/internal/platform/observability"
)

var (
	// ErrPricingInvalidInput signals a malformed price request.
	ErrPricingInvalidInput = errors.New("pricing: invalid input")
	// ErrPricingServiceUnknown is returned when the requested service does
	// not exist or is inactive.
	ErrPricingServiceUnknown = errors.New("pricing: unknown service")
)

const (
	// factorFloor and factorCeiling bound every individual multiplier so no
	// single signal can dominate the final price.
	factorFloor   = 0.5
	factorCeiling = 2.0

	// baseCostRatio is the fraction of the base price treated as delivery
	// cost before complexity and risk surcharges.
	baseCostRatio = 0.35

	riskCreditScoreCutoff   = 500
	riskCreditSurcharge     = 1.2
	highValueVehicleCutoff  = 100_000_00
	highValueCostSurcharge  = 1.15
	defaultPriceAdjustRange = 0.30
)

// PricingEngine computes a customer-specific price for a service as the
// base price times a chain of independent bounded multipliers, then clamps
// the result to a band around the base price. Missing customer data never
// fails a request; the affected factor falls back to neutral.
type PricingEngine struct {
	services  ServiceSource
	snapshots SnapshotProvider
	tables    *PricingTables
	cap       float64
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
	metrics   *observability.EngineMetrics
}

// ServiceSource is the slice of the service repository pricing needs.
type ServiceSource interface {
	FindByID(ctx context.Context, id string) (domain.Service, error)
}

type PricingEngineDeps struct {
	Services  ServiceSource
	Snapshots SnapshotProvider
	Tables    *PricingTables
	// AdjustmentCap bounds the final price to base*(1±cap). Zero selects
	// the default 0.30.
	AdjustmentCap float64
	Now           func() time.Time
	Logger        func(context.Context, string, map[string]any)
	Metrics       *observability.EngineMetrics
}

func NewPricingEngine(deps PricingEngineDeps) (*PricingEngine, error) {
	if deps.Services == nil {
		return nil, errors.New("pricing engine: service source is required")
	}
	if deps.Snapshots == nil {
		return nil, errors.New("pricing engine: snapshot provider is required")
	}
	tables := deps.Tables
	if tables == nil {
		tables = NewPricingTables()
	}
	cap := deps.AdjustmentCap
	if cap <= 0 || cap >= 1 {
		cap = defaultPriceAdjustRange
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{
		services:  deps.Services,
		snapshots: deps.Snapshots,
		tables:    tables,
		cap:       cap,
		now:       func() time.Time { return now().UTC() },
		logger:    logger,
		metrics:   deps.Metrics,
	}, nil
}

// Price computes the bounded final price, factor breakdown, and cost
// estimate for one service and customer.
func (e *PricingEngine) Price(ctx context.Context, req domain.PriceRequest) (domain.PricingResult, error) {
	if req.ServiceID == "" {
		return domain.PricingResult{}, fmt.Errorf("%w: service id required", ErrPricingInvalidInput)
	}
	if req.CustomerID == "" {
		return domain.PricingResult{}, fmt.Errorf("%w: customer id required", ErrPricingInvalidInput)
	}

	service, err := e.services.FindByID(ctx, req.ServiceID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.PricingResult{}, fmt.Errorf("%w: %s", ErrPricingServiceUnknown, req.ServiceID)
		}
		return domain.PricingResult{}, fmt.Errorf("pricing: load service: %w", err)
	}
	if !service.Active {
		return domain.PricingResult{}, fmt.Errorf("%w: %s is inactive", ErrPricingServiceUnknown, req.ServiceID)
	}

	snapshot, snapErr := e.snapshots.Snapshot(ctx, req.CustomerID)
	if snapErr != nil {
		// Pricing degrades rather than fails: an unknown customer gets the
		// neutral structural factors.
		e.logger(ctx, "pricing_snapshot_unavailable", map[string]any{
			"customerId": req.CustomerID,
			"serviceId":  req.ServiceID,
			"error":      snapErr.Error(),
		})
		snapshot = domain.CustomerSnapshot{CustomerID: req.CustomerID}
	}

	factors := e.buildFactors(snapshot, service, req)

	multiplier := 1.0
	for _, factor := range factors {
		multiplier *= factor.Multiplier
	}

	raw := float64(service.BasePrice) * multiplier
	floor := float64(service.BasePrice) * (1 - e.cap)
	ceiling := float64(service.BasePrice) * (1 + e.cap)
	clamped := raw
	if clamped < floor {
		clamped = floor
	}
	if clamped > ceiling {
		clamped = ceiling
	}
	finalPrice := int64(math.Round(clamped))
	if finalPrice != int64(math.Round(raw)) {
		e.metrics.RecordPricingClamp(ctx, req.ServiceID)
		e.logger(ctx, "pricing_clamped", map[string]any{
			"serviceId":  req.ServiceID,
			"customerId": req.CustomerID,
			"rawPrice":   int64(math.Round(raw)),
			"finalPrice": finalPrice,
		})
	}

	cost := e.estimateCost(service, snapshot)

	result := domain.PricingResult{
		ServiceID:     service.ID,
		BasePrice:     service.BasePrice,
		FinalPrice:    finalPrice,
		Factors:       factors,
		EstimatedCost: cost,
	}
	if finalPrice > 0 {
		result.ProfitMargin = float64(finalPrice-cost) / float64(finalPrice)
	}
	if finalPrice < service.BasePrice {
		result.Discount = service.BasePrice - finalPrice
	} else {
		result.Premium = finalPrice - service.BasePrice
	}
	return result, nil
}

func (e *PricingEngine) buildFactors(snapshot domain.CustomerSnapshot, service domain.Service, req domain.PriceRequest) []domain.PriceFactor {
	factors := make([]domain.PriceFactor, 0, 7)
	add := func(kind domain.FactorType, multiplier float64, description string) {
		if multiplier < factorFloor {
			multiplier = factorFloor
		}
		if multiplier > factorCeiling {
			multiplier = factorCeiling
		}
		factors = append(factors, domain.PriceFactor{Type: kind, Multiplier: multiplier, Description: description})
	}

	add(domain.FactorCredit, creditMultiplier(snapshot.CreditScore), creditDescription(snapshot.CreditScore))
	add(domain.FactorVehicleValue, vehicleValueMultiplier(snapshot.VehicleValue), "vehicle value tier")
	add(domain.FactorLoyalty, loyaltyMultiplier(snapshot.OrderCount), fmt.Sprintf("loyalty after %d orders", snapshot.OrderCount))
	add(domain.FactorSeasonal, e.tables.SeasonalFactor(service.Category, e.now().Month()), fmt.Sprintf("seasonal demand for %s", service.Category))
	add(domain.FactorMarket, e.tables.MarketFactor(service.Category), fmt.Sprintf("market adjustment for %s", service.Category))
	add(domain.FactorUrgency, urgencyMultiplier(req.Urgency), string(normalizeUrgency(req.Urgency))+" service level")
	add(domain.FactorVolume, volumeMultiplier(req.BundleSize), fmt.Sprintf("bundle of %d", req.BundleSize))

	return factors
}

func (e *PricingEngine) estimateCost(service domain.Service, snapshot domain.CustomerSnapshot) int64 {
	cost := float64(service.BasePrice) * baseCostRatio * e.tables.ComplexityFactor(service.Category)
	if snapshot.CreditScore > 0 && snapshot.CreditScore < riskCreditScoreCutoff {
		cost *= riskCreditSurcharge
	}
	if snapshot.VehicleValue > highValueVehicleCutoff {
		cost *= highValueCostSurcharge
	}
	return int64(math.Round(cost))
}

func creditMultiplier(score int) float64 {
	switch {
	case score <= 0:
		// Unknown score prices neutral.
		return 1.00
	case score >= 750:
		return 1.10
	case score >= 650:
		return 1.05
	case score >= 550:
		return 1.00
	case score >= 450:
		return 0.95
	default:
		return 0.90
	}
}

func creditDescription(score int) string {
	if score <= 0 {
		return "credit score unknown"
	}
	return fmt.Sprintf("credit score %d", score)
}

func vehicleValueMultiplier(value int64) float64 {
	switch {
	case value >= 100_000_00:
		return 1.15
	case value >= 50_000_00:
		return 1.10
	case value >= 25_000_00:
		return 1.05
	default:
		return 1.00
	}
}

func loyaltyMultiplier(orderCount int) float64 {
	switch {
	case orderCount >= 11:
		return 0.88
	case orderCount >= 4:
		return 0.93
	case orderCount >= 1:
		return 0.97
	default:
		return 1.00
	}
}

func normalizeUrgency(urgency domain.Urgency) domain.Urgency {
	switch urgency {
	case domain.UrgencyExpedited, domain.UrgencyEmergency:
		return urgency
	default:
		return domain.UrgencyStandard
	}
}

func urgencyMultiplier(urgency domain.Urgency) float64 {
	switch normalizeUrgency(urgency) {
	case domain.UrgencyEmergency:
		return 1.50
	case domain.UrgencyExpedited:
		return 1.25
	default:
		return 1.00
	}
}

func volumeMultiplier(bundleSize int) float64 {
	switch {
	case bundleSize >= 4:
		return 0.85
	case bundleSize >= 2:
		return 0.92
	default:
		return 1.00
	}
}
