package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/drivelane/engine/internal/domain"
	pfirestore "github.com/drivelane/engine/internal/platform/firestore"
)

const revenueMetricsCollection = "revenue_metrics"

type revenueMetricsDocument struct {
	ServiceID      string    `firestore:"serviceId"`
	Month          string    `firestore:"month"`
	Year           string    `firestore:"year"`
	Revenue        int64     `firestore:"revenue"`
	OrderCount     int64     `firestore:"orderCount"`
	CancelledCount int64     `firestore:"cancelledCount"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// RevenueMetricsRepository implements repositories.RevenueMetricsRepository
// backed by Firestore, one document per service and calendar month, updated
// inside transactions so concurrent completions cannot lose increments.
type RevenueMetricsRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[revenueMetricsDocument]
}

// NewRevenueMetricsRepository constructs a Firestore-backed revenue metrics repository.
func NewRevenueMetricsRepository(provider *pfirestore.Provider) (*RevenueMetricsRepository, error) {
	if provider == nil {
		return nil, errors.New("revenue metrics repository: firestore provider is required")
	}
	return &RevenueMetricsRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[revenueMetricsDocument](provider, revenueMetricsCollection, nil, nil),
	}, nil
}

// AddRevenue accumulates one completed order into the service's month.
func (r *RevenueMetricsRepository) AddRevenue(ctx context.Context, serviceID string, amount int64, at time.Time) error {
	return r.apply(ctx, serviceID, at, func(doc *revenueMetricsDocument) {
		doc.Revenue += amount
		doc.OrderCount++
	})
}

// AddCancellation accumulates one cancelled order into the service's month.
func (r *RevenueMetricsRepository) AddCancellation(ctx context.Context, serviceID string, at time.Time) error {
	return r.apply(ctx, serviceID, at, func(doc *revenueMetricsDocument) {
		doc.CancelledCount++
	})
}

// GetMonthly returns the aggregate for one service and month, where month
// is formatted as 2006-01.
func (r *RevenueMetricsRepository) GetMonthly(ctx context.Context, serviceID string, month string) (domain.RevenueMetrics, error) {
	doc, err := r.base.Get(ctx, metricsDocID(strings.TrimSpace(serviceID), month))
	if err != nil {
		return domain.RevenueMetrics{}, err
	}
	return domain.RevenueMetrics{
		ServiceID:      doc.Data.ServiceID,
		Month:          doc.Data.Month,
		Year:           doc.Data.Year,
		Revenue:        doc.Data.Revenue,
		OrderCount:     doc.Data.OrderCount,
		CancelledCount: doc.Data.CancelledCount,
		UpdatedAt:      doc.Data.UpdatedAt,
	}, nil
}

func (r *RevenueMetricsRepository) apply(ctx context.Context, serviceID string, at time.Time, mutate func(*revenueMetricsDocument)) error {
	serviceID = strings.TrimSpace(serviceID)
	if serviceID == "" {
		return errors.New("revenue metrics repository: service id is required")
	}
	at = at.UTC()
	month := at.Format("2006-01")
	id := metricsDocID(serviceID, month)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		doc := revenueMetricsDocument{
			ServiceID: serviceID,
			Month:     month,
			Year:      at.Format("2006"),
		}
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			// first write for this month
		case codes.OK:
			if err := snapshot.DataTo(&doc); err != nil {
				return fmt.Errorf("revenue metrics decode %s: %w", id, err)
			}
		default:
			return err
		}

		mutate(&doc)
		doc.UpdatedAt = at
		return tx.Set(ref, doc)
	})
	if err != nil {
		return pfirestore.WrapError("revenue_metrics.apply", err)
	}
	return nil
}

func metricsDocID(serviceID, month string) string {
	return serviceID + "_" + month
}
