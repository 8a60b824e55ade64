package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/drivelane/engine/internal/domain"
	pfirestore "github.com/drivelane/engine/internal/platform/firestore"
	"github.com/drivelane/engine/internal/repositories"
)

const ordersCollection = "orders"

type orderDocument struct {
	CustomerID      string     `firestore:"customerId"`
	ServiceID       string     `firestore:"serviceId"`
	Status          string     `firestore:"status"`
	Price           int64      `firestore:"price"`
	CascadeDepth    int        `firestore:"cascadeDepth"`
	SourceTriggerID string     `firestore:"sourceTriggerId,omitempty"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	CompletedAt     *time.Time `firestore:"completedAt,omitempty"`
	CancelledAt     *time.Time `firestore:"cancelledAt,omitempty"`
}

// OrderRepository implements repositories.OrderRepository backed by Firestore.
type OrderRepository struct {
	base *pfirestore.BaseRepository[orderDocument]
}

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository: firestore provider is required")
	}
	return &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert writes a new order, failing with a conflict when the ID is taken.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return domain.Order{}, errors.New("order repository: order id is required")
	}
	if _, err := r.base.Create(ctx, id, orderToDocument(order)); err != nil {
		return domain.Order{}, err
	}
	order.ID = id
	return order, nil
}

// FindByID loads one order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	return orderFromDocument(doc.ID, doc.Data), nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderRepository) ListByCustomer(ctx context.Context, customerID string, filter repositories.OrderListFilter) ([]domain.Order, error) {
	id := strings.TrimSpace(customerID)
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("customerId", "==", id)
		if len(filter.Statuses) > 0 {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, status := range filter.Statuses {
				statuses = append(statuses, string(status))
			}
			query = query.Where("status", "in", statuses)
		}
		if filter.Since != nil {
			query = query.Where("createdAt", ">=", filter.Since.UTC())
		}
		query = query.OrderBy("createdAt", firestore.Desc)
		if filter.Pagination.PageSize > 0 {
			query = query.Limit(filter.Pagination.PageSize)
		}
		return query
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, orderFromDocument(doc.ID, doc.Data))
	}
	return orders, nil
}

// ExistsForService reports whether the customer holds any non-cancelled
// order for the service.
func (r *OrderRepository) ExistsForService(ctx context.Context, customerID string, serviceID string) (bool, error) {
	held := []string{
		string(domain.OrderStatusPending),
		string(domain.OrderStatusActive),
		string(domain.OrderStatusCompleted),
	}
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.
			Where("customerId", "==", strings.TrimSpace(customerID)).
			Where("serviceId", "==", strings.TrimSpace(serviceID)).
			Where("status", "in", held).
			Limit(1)
	})
	if err != nil {
		return false, err
	}
	return len(docs) > 0, nil
}

func orderToDocument(order domain.Order) orderDocument {
	return orderDocument{
		CustomerID:      order.CustomerID,
		ServiceID:       order.ServiceID,
		Status:          string(order.Status),
		Price:           order.Price,
		CascadeDepth:    order.CascadeDepth,
		SourceTriggerID: order.SourceTriggerID,
		CreatedAt:       order.CreatedAt.UTC(),
		CompletedAt:     order.CompletedAt,
		CancelledAt:     order.CancelledAt,
	}
}

func orderFromDocument(id string, doc orderDocument) domain.Order {
	return domain.Order{
		ID:              id,
		CustomerID:      doc.CustomerID,
		ServiceID:       doc.ServiceID,
		Status:          domain.OrderStatus(doc.Status),
		Price:           doc.Price,
		CascadeDepth:    doc.CascadeDepth,
		SourceTriggerID: doc.SourceTriggerID,
		CreatedAt:       doc.CreatedAt,
		CompletedAt:     doc.CompletedAt,
		CancelledAt:     doc.CancelledAt,
	}
}
