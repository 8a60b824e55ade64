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

const cascadeTriggersCollection = "cascade_triggers"

type cascadeTriggerDocument struct {
	RuleID             string     `firestore:"ruleId"`
	CustomerID         string     `firestore:"customerId"`
	EntryOrderID       string     `firestore:"entryOrderId"`
	TriggerServiceID   string     `firestore:"triggerServiceId"`
	TriggerServiceName string     `firestore:"triggerServiceName,omitempty"`
	TriggeredOrderID   string     `firestore:"triggeredOrderId,omitempty"`
	Status             string     `firestore:"status"`
	Depth              int        `firestore:"depth"`
	Reason             string     `firestore:"reason,omitempty"`
	RealizedRevenue    int64      `firestore:"realizedRevenue"`
	CreatedAt          time.Time  `firestore:"createdAt"`
	ConvertedAt        *time.Time `firestore:"convertedAt,omitempty"`
	AbandonedAt        *time.Time `firestore:"abandonedAt,omitempty"`
}

// CascadeTriggerRepository implements repositories.CascadeTriggerRepository
// backed by Firestore. Trigger documents are keyed by the (customer,
// triggered service) pair, so Firestore's create-if-absent semantics
// enforce the at-most-one-trigger invariant without a read-modify-write.
type CascadeTriggerRepository struct {
	base *pfirestore.BaseRepository[cascadeTriggerDocument]
}

// NewCascadeTriggerRepository constructs a Firestore-backed trigger repository.
func NewCascadeTriggerRepository(provider *pfirestore.Provider) (*CascadeTriggerRepository, error) {
	if provider == nil {
		return nil, errors.New("cascade trigger repository: firestore provider is required")
	}
	return &CascadeTriggerRepository{
		base: pfirestore.NewBaseRepository[cascadeTriggerDocument](provider, cascadeTriggersCollection, nil, nil),
	}, nil
}

// Create writes a new pending trigger. The returned trigger carries the
// canonical pair-derived ID; a conflict means the pair already holds a
// trigger.
func (r *CascadeTriggerRepository) Create(ctx context.Context, trigger domain.CascadeTrigger) (domain.CascadeTrigger, error) {
	customerID := strings.TrimSpace(trigger.CustomerID)
	serviceID := strings.TrimSpace(trigger.TriggerServiceID)
	if customerID == "" || serviceID == "" {
		return domain.CascadeTrigger{}, errors.New("cascade trigger repository: customer and service ids are required")
	}
	id := triggerDocID(customerID, serviceID)
	trigger.ID = id
	trigger.Status = domain.TriggerStatusPending
	if _, err := r.base.Create(ctx, id, triggerToDocument(trigger)); err != nil {
		var repoErr repositories.RepositoryError
		if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
			return domain.CascadeTrigger{}, err
		}
		// An abandoned trigger releases the pair; pending and converted
		// triggers keep holding it.
		existing, getErr := r.base.Get(ctx, id)
		if getErr != nil {
			return domain.CascadeTrigger{}, err
		}
		if domain.TriggerStatus(existing.Data.Status) != domain.TriggerStatusAbandoned {
			return domain.CascadeTrigger{}, err
		}
		if _, setErr := r.base.Set(ctx, id, triggerToDocument(trigger)); setErr != nil {
			return domain.CascadeTrigger{}, setErr
		}
	}
	return trigger, nil
}

// FindByID loads one trigger.
func (r *CascadeTriggerRepository) FindByID(ctx context.Context, triggerID string) (domain.CascadeTrigger, error) {
	doc, err := r.base.Get(ctx, strings.TrimSpace(triggerID))
	if err != nil {
		return domain.CascadeTrigger{}, err
	}
	return triggerFromDocument(doc.ID, doc.Data), nil
}

// MarkConverted records the materialized order and realized revenue.
func (r *CascadeTriggerRepository) MarkConverted(ctx context.Context, triggerID string, orderID string, revenue int64, at time.Time) (domain.CascadeTrigger, error) {
	id := strings.TrimSpace(triggerID)
	if _, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(domain.TriggerStatusConverted)},
		{Path: "triggeredOrderId", Value: orderID},
		{Path: "realizedRevenue", Value: revenue},
		{Path: "convertedAt", Value: at.UTC()},
	}); err != nil {
		return domain.CascadeTrigger{}, err
	}
	return r.FindByID(ctx, id)
}

// MarkAbandoned records why the trigger was given up.
func (r *CascadeTriggerRepository) MarkAbandoned(ctx context.Context, triggerID string, reason string, at time.Time) (domain.CascadeTrigger, error) {
	id := strings.TrimSpace(triggerID)
	if _, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "status", Value: string(domain.TriggerStatusAbandoned)},
		{Path: "reason", Value: reason},
		{Path: "abandonedAt", Value: at.UTC()},
	}); err != nil {
		return domain.CascadeTrigger{}, err
	}
	return r.FindByID(ctx, id)
}

// ListPending returns pending triggers created before the cutoff, oldest first.
func (r *CascadeTriggerRepository) ListPending(ctx context.Context, createdBefore time.Time, limit int) ([]domain.CascadeTrigger, error) {
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.
			Where("status", "==", string(domain.TriggerStatusPending)).
			Where("createdAt", "<", createdBefore.UTC()).
			OrderBy("createdAt", firestore.Asc)
		if limit > 0 {
			query = query.Limit(limit)
		}
		return query
	})
	if err != nil {
		return nil, err
	}
	return triggersFromDocuments(docs), nil
}

// ListByRule returns the rule's triggers inside the aggregation window.
func (r *CascadeTriggerRepository) ListByRule(ctx context.Context, filter repositories.TriggerWindowFilter) ([]domain.CascadeTrigger, error) {
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		query = query.Where("ruleId", "==", strings.TrimSpace(filter.RuleID))
		if !filter.Since.IsZero() {
			query = query.Where("createdAt", ">=", filter.Since.UTC())
		}
		if filter.Limit > 0 {
			query = query.Limit(filter.Limit)
		}
		return query
	})
	if err != nil {
		return nil, err
	}
	return triggersFromDocuments(docs), nil
}

func triggerDocID(customerID, serviceID string) string {
	return customerID + "_" + serviceID
}

func triggerToDocument(trigger domain.CascadeTrigger) cascadeTriggerDocument {
	return cascadeTriggerDocument{
		RuleID:             trigger.RuleID,
		CustomerID:         trigger.CustomerID,
		EntryOrderID:       trigger.EntryOrderID,
		TriggerServiceID:   trigger.TriggerServiceID,
		TriggerServiceName: trigger.TriggerServiceName,
		TriggeredOrderID:   trigger.TriggeredOrderID,
		Status:             string(trigger.Status),
		Depth:              trigger.Depth,
		Reason:             trigger.Reason,
		RealizedRevenue:    trigger.RealizedRevenue,
		CreatedAt:          trigger.CreatedAt.UTC(),
		ConvertedAt:        trigger.ConvertedAt,
		AbandonedAt:        trigger.AbandonedAt,
	}
}

func triggerFromDocument(id string, doc cascadeTriggerDocument) domain.CascadeTrigger {
	return domain.CascadeTrigger{
		ID:                 id,
		RuleID:             doc.RuleID,
		CustomerID:         doc.CustomerID,
		EntryOrderID:       doc.EntryOrderID,
		TriggerServiceID:   doc.TriggerServiceID,
		TriggerServiceName: doc.TriggerServiceName,
		TriggeredOrderID:   doc.TriggeredOrderID,
		Status:             domain.TriggerStatus(doc.Status),
		Depth:              doc.Depth,
		Reason:             doc.Reason,
		RealizedRevenue:    doc.RealizedRevenue,
		CreatedAt:          doc.CreatedAt,
		ConvertedAt:        doc.ConvertedAt,
		AbandonedAt:        doc.AbandonedAt,
	}
}

func triggersFromDocuments(docs []pfirestore.Document[cascadeTriggerDocument]) []domain.CascadeTrigger {
	triggers := make([]domain.CascadeTrigger, 0, len(docs))
	for _, doc := range docs {
		triggers = append(triggers, triggerFromDocument(doc.ID, doc.Data))
	}
	return triggers
}
