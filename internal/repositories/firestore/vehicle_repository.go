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

const vehiclesCollection = "vehicles"

type vehicleDocument struct {
	CustomerID string    `firestore:"customerId"`
	Plate      string    `firestore:"plate"`
	Model      string    `firestore:"model"`
	Year       int       `firestore:"year"`
	Value      int64     `firestore:"value"`
	Condition  string    `firestore:"condition"`
	AssessedAt time.Time `firestore:"assessedAt"`
}

// VehicleRepository implements repositories.VehicleRepository backed by Firestore.
type VehicleRepository struct {
	base *pfirestore.BaseRepository[vehicleDocument]
}

// NewVehicleRepository constructs a Firestore-backed vehicle repository.
func NewVehicleRepository(provider *pfirestore.Provider) (*VehicleRepository, error) {
	if provider == nil {
		return nil, errors.New("vehicle repository: firestore provider is required")
	}
	return &VehicleRepository{
		base: pfirestore.NewBaseRepository[vehicleDocument](provider, vehiclesCollection, nil, nil),
	}, nil
}

// ListByCustomer returns the customer's vehicles, most recently assessed first.
func (r *VehicleRepository) ListByCustomer(ctx context.Context, customerID string) ([]domain.Vehicle, error) {
	id := strings.TrimSpace(customerID)
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("customerId", "==", id).OrderBy("assessedAt", firestore.Desc)
	})
	if err != nil {
		return nil, err
	}
	vehicles := make([]domain.Vehicle, 0, len(docs))
	for _, doc := range docs {
		vehicles = append(vehicles, domain.Vehicle{
			ID:         doc.ID,
			CustomerID: doc.Data.CustomerID,
			Plate:      doc.Data.Plate,
			Model:      doc.Data.Model,
			Year:       doc.Data.Year,
			Value:      doc.Data.Value,
			Condition:  doc.Data.Condition,
			AssessedAt: doc.Data.AssessedAt,
		})
	}
	return vehicles, nil
}
