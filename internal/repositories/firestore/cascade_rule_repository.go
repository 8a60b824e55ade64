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

const cascadeRulesCollection = "cascade_rules"

type ruleConditionDocument struct {
	Kind   string `firestore:"kind"`
	Number int64  `firestore:"number,omitempty"`
	Flag   bool   `firestore:"flag,omitempty"`
	Stage  string `firestore:"stage,omitempty"`
}

type cascadeRuleDocument struct {
	EntryServiceID   string                  `firestore:"entryServiceId"`
	EntryServiceName string                  `firestore:"entryServiceName"`
	TriggerServiceID string                  `firestore:"triggerServiceId"`
	TriggerName      string                  `firestore:"triggerName"`
	ConversionRate   float64                 `firestore:"conversionRate"`
	Priority         int                     `firestore:"priority"`
	Conditions       []ruleConditionDocument `firestore:"conditions,omitempty"`
	Active           bool                    `firestore:"active"`
	UpdatedAt        time.Time               `firestore:"updatedAt"`
}

// CascadeRuleRepository implements repositories.CascadeRuleRepository backed by Firestore.
type CascadeRuleRepository struct {
	base *pfirestore.BaseRepository[cascadeRuleDocument]
}

// NewCascadeRuleRepository constructs a Firestore-backed rule repository.
func NewCascadeRuleRepository(provider *pfirestore.Provider) (*CascadeRuleRepository, error) {
	if provider == nil {
		return nil, errors.New("cascade rule repository: firestore provider is required")
	}
	return &CascadeRuleRepository{
		base: pfirestore.NewBaseRepository[cascadeRuleDocument](provider, cascadeRulesCollection, nil, nil),
	}, nil
}

// ListActive returns every active rule.
func (r *CascadeRuleRepository) ListActive(ctx context.Context) ([]domain.CascadeRule, error) {
	docs, err := r.base.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("active", "==", true)
	})
	if err != nil {
		return nil, err
	}
	rules := make([]domain.CascadeRule, 0, len(docs))
	for _, doc := range docs {
		rules = append(rules, ruleFromDocument(doc.ID, doc.Data))
	}
	return rules, nil
}

// UpdateConversionRate persists an adjusted rate and returns the updated rule.
func (r *CascadeRuleRepository) UpdateConversionRate(ctx context.Context, ruleID string, rate float64, updatedAt time.Time) (domain.CascadeRule, error) {
	id := strings.TrimSpace(ruleID)
	if _, err := r.base.Update(ctx, id, []firestore.Update{
		{Path: "conversionRate", Value: rate},
		{Path: "updatedAt", Value: updatedAt.UTC()},
	}); err != nil {
		return domain.CascadeRule{}, err
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.CascadeRule{}, err
	}
	return ruleFromDocument(doc.ID, doc.Data), nil
}

func ruleFromDocument(id string, doc cascadeRuleDocument) domain.CascadeRule {
	conditions := make([]domain.RuleCondition, 0, len(doc.Conditions))
	for _, condition := range doc.Conditions {
		conditions = append(conditions, domain.RuleCondition{
			Kind:   domain.ConditionKind(condition.Kind),
			Number: condition.Number,
			Flag:   condition.Flag,
			Stage:  domain.JourneyStage(condition.Stage),
		})
	}
	return domain.CascadeRule{
		ID:               id,
		EntryServiceID:   doc.EntryServiceID,
		EntryServiceName: doc.EntryServiceName,
		TriggerServiceID: doc.TriggerServiceID,
		TriggerName:      doc.TriggerName,
		ConversionRate:   doc.ConversionRate,
		Priority:         doc.Priority,
		Conditions:       conditions,
		Active:           doc.Active,
		UpdatedAt:        doc.UpdatedAt,
	}
}
