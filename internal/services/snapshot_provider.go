package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/drivelane/engine/internal/domain"
	"github.com/drivelane/engine/internal/platform/cache"
	"github.com/drivelane/engine/internal/repositories"
)

// ErrSnapshotCustomerNotFound is returned when the customer behind a
// snapshot request does not exist.
var ErrSnapshotCustomerNotFound = errors.New("snapshot: customer not found")

const defaultSnapshotTTL = 30 * time.Minute

// CustomerSnapshotProvider assembles the aggregated customer view from the
// customer profile, vehicle assessments, and order history, and caches it
// with bounded freshness. Cascade decisions made within the TTL share one
// consistent view of the customer.
type CustomerSnapshotProvider struct {
	customers repositories.CustomerRepository
	vehicles  repositories.VehicleRepository
	orders    repositories.OrderRepository
	cache     cache.Cache
	ttl       time.Duration
	now       func() time.Time
	logger    func(context.Context, string, map[string]any)
}

type CustomerSnapshotProviderDeps struct {
	Customers repositories.CustomerRepository
	Vehicles  repositories.VehicleRepository
	Orders    repositories.OrderRepository
	Cache     cache.Cache
	TTL       time.Duration
	Now       func() time.Time
	Logger    func(context.Context, string, map[string]any)
}

func NewCustomerSnapshotProvider(deps CustomerSnapshotProviderDeps) (*CustomerSnapshotProvider, error) {
	if deps.Customers == nil {
		return nil, errors.New("snapshot provider: customer repository is required")
	}
	if deps.Vehicles == nil {
		return nil, errors.New("snapshot provider: vehicle repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("snapshot provider: order repository is required")
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultSnapshotTTL
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &CustomerSnapshotProvider{
		customers: deps.Customers,
		vehicles:  deps.Vehicles,
		orders:    deps.Orders,
		cache:     deps.Cache,
		ttl:       ttl,
		now:       func() time.Time { return now().UTC() },
		logger:    logger,
	}, nil
}

// Snapshot returns the cached snapshot when fresh, otherwise rebuilds it
// from the backing repositories and caches the result. Cache failures are
// logged and treated as misses.
func (p *CustomerSnapshotProvider) Snapshot(ctx context.Context, customerID string) (domain.CustomerSnapshot, error) {
	if customerID == "" {
		return domain.CustomerSnapshot{}, errors.New("snapshot: customer id required")
	}

	key := snapshotCacheKey(customerID)
	if p.cache != nil {
		raw, err := p.cache.Get(ctx, key)
		if err == nil {
			var snapshot domain.CustomerSnapshot
			if decodeErr := json.Unmarshal(raw, &snapshot); decodeErr == nil {
				return snapshot, nil
			}
			// Corrupt entry: drop it and rebuild.
			_ = p.cache.Delete(ctx, key)
		} else if !cache.IsMiss(err) {
			p.logger(ctx, "snapshot_cache_error", map[string]any{"customerId": customerID, "error": err.Error()})
		}
	}

	snapshot, err := p.build(ctx, customerID)
	if err != nil {
		return domain.CustomerSnapshot{}, err
	}

	if p.cache != nil {
		if raw, encodeErr := json.Marshal(snapshot); encodeErr == nil {
			if setErr := p.cache.Set(ctx, key, raw, p.ttl); setErr != nil {
				p.logger(ctx, "snapshot_cache_error", map[string]any{"customerId": customerID, "error": setErr.Error()})
			}
		}
	}
	return snapshot, nil
}

// Invalidate drops the cached snapshot so the next read reflects a write
// that just happened, such as a new order.
func (p *CustomerSnapshotProvider) Invalidate(ctx context.Context, customerID string) {
	if p.cache == nil || customerID == "" {
		return
	}
	if err := p.cache.Delete(ctx, snapshotCacheKey(customerID)); err != nil && !cache.IsMiss(err) {
		p.logger(ctx, "snapshot_cache_error", map[string]any{"customerId": customerID, "error": err.Error()})
	}
}

func (p *CustomerSnapshotProvider) build(ctx context.Context, customerID string) (domain.CustomerSnapshot, error) {
	customer, err := p.customers.FindByID(ctx, customerID)
	if err != nil {
		if isRepoNotFound(err) {
			return domain.CustomerSnapshot{}, fmt.Errorf("%w: %s", ErrSnapshotCustomerNotFound, customerID)
		}
		return domain.CustomerSnapshot{}, fmt.Errorf("snapshot: load customer: %w", err)
	}

	takenAt := p.now()
	snapshot := domain.CustomerSnapshot{
		CustomerID:           customer.ID,
		CreditScore:          customer.CreditScore,
		AnnualIncome:         customer.AnnualIncome,
		JourneyStage:         customer.JourneyStage,
		HasFinancingNeed:     customer.HasFinancingNeed,
		HasPurchaseIntent:    customer.HasPurchaseIntent,
		NeedsCreditRepair:    customer.NeedsCreditRepair,
		HasComplexLegalNeeds: customer.HasComplexLegalNeeds,
		TakenAt:              takenAt,
	}

	vehicles, err := p.vehicles.ListByCustomer(ctx, customerID)
	if err != nil {
		return domain.CustomerSnapshot{}, fmt.Errorf("snapshot: load vehicles: %w", err)
	}
	for _, vehicle := range vehicles {
		if vehicle.Value > snapshot.VehicleValue {
			snapshot.VehicleValue = vehicle.Value
		}
		if vehicle.Condition != "" {
			snapshot.VehicleConditions = append(snapshot.VehicleConditions, vehicle.Condition)
		}
	}

	orders, err := p.orders.ListByCustomer(ctx, customerID, repositories.OrderListFilter{})
	if err != nil {
		return domain.CustomerSnapshot{}, fmt.Errorf("snapshot: load orders: %w", err)
	}
	var lastOrderAt time.Time
	for _, order := range orders {
		if order.Status == domain.OrderStatusCancelled {
			continue
		}
		snapshot.OrderCount++
		snapshot.LifetimeSpend += order.Price
		if order.CreatedAt.After(lastOrderAt) {
			lastOrderAt = order.CreatedAt
		}
	}
	if !lastOrderAt.IsZero() {
		snapshot.DaysSinceLastOrder = int(takenAt.Sub(lastOrderAt).Hours() / 24)
	}

	return snapshot, nil
}

func snapshotCacheKey(customerID string) string {
	return "snapshot:customer:" + customerID
}
