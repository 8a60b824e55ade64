package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
	pfirestore "github.com/drivelane/engine/internal/platform/firestore"
)

const customersCollection = "customers"

type customerDocument struct {
	Name                 string    `firestore:"name"`
	Email                string    `firestore:"email"`
	CreditScore          int       `firestore:"creditScore"`
	AnnualIncome         int64     `firestore:"annualIncome"`
	JourneyStage         string    `firestore:"journeyStage"`
	HasFinancingNeed     bool      `firestore:"hasFinancingNeed"`
	HasPurchaseIntent    bool      `firestore:"hasPurchaseIntent"`
	NeedsCreditRepair    bool      `firestore:"needsCreditRepair"`
	HasComplexLegalNeeds bool      `firestore:"hasComplexLegalNeeds"`
	CreatedAt            time.Time `firestore:"createdAt"`
	UpdatedAt            time.Time `firestore:"updatedAt"`
}

// CustomerRepository implements repositories.CustomerRepository backed by Firestore.
type CustomerRepository struct {
	base *pfirestore.BaseRepository[customerDocument]
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository: firestore provider is required")
	}
	return &CustomerRepository{
		base: pfirestore.NewBaseRepository[customerDocument](provider, customersCollection, nil, nil),
	}, nil
}

// FindByID loads one customer profile.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(customerID))
	if err != nil {
		return domain.Customer{}, err
	}
	return domain.Customer{
		ID:                   doc.ID,
		Name:                 doc.Data.Name,
		Email:                doc.Data.Email,
		CreditScore:          doc.Data.CreditScore,
		AnnualIncome:         doc.Data.AnnualIncome,
		JourneyStage:         domain.JourneyStage(doc.Data.JourneyStage),
		HasFinancingNeed:     doc.Data.HasFinancingNeed,
		HasPurchaseIntent:    doc.Data.HasPurchaseIntent,
		NeedsCreditRepair:    doc.Data.NeedsCreditRepair,
		HasComplexLegalNeeds: doc.Data.HasComplexLegalNeeds,
		CreatedAt:            doc.Data.CreatedAt,
		UpdatedAt:            doc.Data.UpdatedAt,
	}, nil
}
