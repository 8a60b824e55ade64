package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/drivelane/engine/internal/domain"
	pfirestore "github.com/drivelane/engine/internal/platform/firestore"
)

const servicesCollection = "services"

type serviceDocument struct {
	Name           string    `firestore:"name"`
	Category       string    `firestore:"category"`
	BasePrice      int64     `firestore:"basePrice"`
	ReferencePrice int64     `firestore:"referencePrice"`
	MarkupPercent  float64   `firestore:"markupPercent"`
	RevenueTarget  int64     `firestore:"revenueTarget"`
	Active         bool      `firestore:"active"`
	CreatedAt      time.Time `firestore:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// ServiceRepository implements repositories.ServiceRepository backed by Firestore.
type ServiceRepository struct {
	base *pfirestore.BaseRepository[serviceDocument]
}

// NewServiceRepository constructs a Firestore-backed service catalog repository.
func NewServiceRepository(provider *pfirestore.Provider) (*ServiceRepository, error) {
	if provider == nil {
		return nil, errors.New("service repository: firestore provider is required")
	}
	return &ServiceRepository{
		base: pfirestore.NewBaseRepository[serviceDocument](provider, servicesCollection, nil, nil),
	}, nil
}

// FindByID loads one service by its identifier.
func (r *ServiceRepository) FindByID(ctx context.Context, serviceID string) (domain.Service, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(serviceID))
	if err != nil {
		return domain.Service{}, err
	}
	return serviceFromDocument(doc.ID, doc.Data), nil
}

// ListActive returns every active catalog service.
func (r *ServiceRepository) ListActive(ctx context.Context) ([]domain.Service, error) {
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	services := make([]domain.Service, 0, len(docs))
	for _, doc := range docs {
		services = append(services, serviceFromDocument(doc.ID, doc.Data))
	}
	return services, nil
}

// UpdateBasePrice persists a new base price and returns the updated service.
func (r *ServiceRepository) UpdateBasePrice(ctx context.Context, serviceID string, basePrice int64, updatedAt time.Time) (domain.Service, error) {
	id := strings.TrimSpace(serviceID)
	if _, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "basePrice", Value: basePrice},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}); err != nil {
		return domain.Service{}, err
	}
	return r.FindByID(ctx, id)
}

func serviceFromDocument(id string, doc serviceDocument) domain.Service {
	return domain.Service{
		ID:             id,
		Name:           doc.Name,
		Category:       domain.ServiceCategory(doc.Category),
		BasePrice:      doc.BasePrice,
		ReferencePrice: doc.ReferencePrice,
		MarkupPercent:  doc.MarkupPercent,
		RevenueTarget:  doc.RevenueTarget,
		Active:         doc.Active,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}
