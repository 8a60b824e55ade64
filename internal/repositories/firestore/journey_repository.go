package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
	pfirestore "github.com/drivelane/engine/internal/platform/firestore"
)

const journeysCollection = "customer_journeys"

type journeyDocument struct {
	Stage       string    `firestore:"stage"`
	LastTrigger string    `firestore:"lastTrigger,omitempty"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

// JourneyRepository implements repositories.JourneyRepository backed by
// Firestore, one document per customer.
type JourneyRepository struct {
	base *pfirestore.BaseRepository[journeyDocument]
}

// NewJourneyRepository constructs a Firestore-backed journey repository.
func NewJourneyRepository(provider *pfirestore.Provider) (*JourneyRepository, error) {
	if provider == nil {
		return nil, errors.New("journey repository: firestore provider is required")
	}
	return &JourneyRepository{
		base: pfirestore.NewBaseRepository[journeyDocument](provider, journeysCollection, nil, nil),
	}, nil
}

// Upsert writes the customer's journey state.
func (r *JourneyRepository) Upsert(ctx context.Context, journey domain.CustomerJourney) (domain.CustomerJourney, error) {
	id := strings.TrimSpace(journey.CustomerID)
	if id == "" {
		return domain.CustomerJourney{}, errors.New("journey repository: customer id is required")
	}
	doc := journeyDocument{
		Stage:       string(journey.Stage),
		LastTrigger: journey.LastTrigger,
		UpdatedAt:   journey.UpdatedAt.UTC(),
	}
	if _, err := r.base.Set(ctx, id, doc); err != nil {
		return domain.CustomerJourney{}, err
	}
	journey.CustomerID = id
	return journey, nil
}

// Find loads the customer's journey state.
func (r *JourneyRepository) Find(ctx context.Context, customerID string) (domain.CustomerJourney, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.CustomerJourney{}, err
	}
	return domain.CustomerJourney{
		CustomerID:  doc.ID,
		Stage:       domain.JourneyStage(doc.Data.Stage),
		LastTrigger: doc.Data.LastTrigger,
		UpdatedAt:   doc.Data.UpdatedAt,
	}, nil
}
