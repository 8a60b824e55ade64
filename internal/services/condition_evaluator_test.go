package services

import (
	"testing"

	domain "github.com/drivelane/engine/internal/domain"
)

func TestEvaluateConditionsEmptySetPasses(t *testing.T) {
	if !EvaluateConditions(nil, domain.CustomerSnapshot{}, domain.Order{}) {
		t.Fatal("expected empty condition set to evaluate to true")
	}
}

func TestEvaluateConditionsPredicates(t *testing.T) {
	snapshot := domain.CustomerSnapshot{
		CreditScore:          720,
		AnnualIncome:         85_000_00,
		VehicleValue:         42_000_00,
		JourneyStage:         domain.JourneyStageReturning,
		LifetimeSpend:        3_200_00,
		DaysSinceLastOrder:   14,
		HasFinancingNeed:     true,
		HasPurchaseIntent:    false,
		NeedsCreditRepair:    false,
		HasComplexLegalNeeds: true,
	}

	tests := []struct {
		name      string
		condition domain.RuleCondition
		want      bool
	}{
		{"min credit pass", domain.RuleCondition{Kind: domain.ConditionMinCreditScore, Number: 700}, true},
		{"min credit fail", domain.RuleCondition{Kind: domain.ConditionMinCreditScore, Number: 721}, false},
		{"min credit boundary", domain.RuleCondition{Kind: domain.ConditionMinCreditScore, Number: 720}, true},
		{"max credit pass", domain.RuleCondition{Kind: domain.ConditionMaxCreditScore, Number: 720}, true},
		{"max credit fail", domain.RuleCondition{Kind: domain.ConditionMaxCreditScore, Number: 719}, false},
		{"min vehicle value pass", domain.RuleCondition{Kind: domain.ConditionMinVehicleValue, Number: 42_000_00}, true},
		{"min vehicle value fail", domain.RuleCondition{Kind: domain.ConditionMinVehicleValue, Number: 42_000_01}, false},
		{"min income pass", domain.RuleCondition{Kind: domain.ConditionMinAnnualIncome, Number: 80_000_00}, true},
		{"min income fail", domain.RuleCondition{Kind: domain.ConditionMinAnnualIncome, Number: 90_000_00}, false},
		{"journey stage match", domain.RuleCondition{Kind: domain.ConditionJourneyStage, Stage: domain.JourneyStageReturning}, true},
		{"journey stage mismatch", domain.RuleCondition{Kind: domain.ConditionJourneyStage, Stage: domain.JourneyStageLoyal}, false},
		{"financing need true", domain.RuleCondition{Kind: domain.ConditionHasFinancingNeed, Flag: true}, true},
		{"financing need false wanted", domain.RuleCondition{Kind: domain.ConditionHasFinancingNeed, Flag: false}, false},
		{"purchase intent false matches", domain.RuleCondition{Kind: domain.ConditionHasPurchaseIntent, Flag: false}, true},
		{"days since order pass", domain.RuleCondition{Kind: domain.ConditionMinDaysSinceOrder, Number: 14}, true},
		{"days since order fail", domain.RuleCondition{Kind: domain.ConditionMinDaysSinceOrder, Number: 15}, false},
		{"total spend pass", domain.RuleCondition{Kind: domain.ConditionMinTotalSpend, Number: 3_200_00}, true},
		{"total spend fail", domain.RuleCondition{Kind: domain.ConditionMinTotalSpend, Number: 3_200_01}, false},
		{"credit repair not needed", domain.RuleCondition{Kind: domain.ConditionNeedsCreditRepair, Flag: true}, false},
		{"complex legal needs", domain.RuleCondition{Kind: domain.ConditionComplexLegalNeeds, Flag: true}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := EvaluateConditions([]domain.RuleCondition{tc.condition}, snapshot, domain.Order{})
			if got != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestEvaluateConditionsConjunctive(t *testing.T) {
	snapshot := domain.CustomerSnapshot{CreditScore: 700, HasFinancingNeed: true}
	conditions := []domain.RuleCondition{
		{Kind: domain.ConditionMinCreditScore, Number: 650},
		{Kind: domain.ConditionHasFinancingNeed, Flag: true},
		{Kind: domain.ConditionMinVehicleValue, Number: 1},
	}
	if EvaluateConditions(conditions, snapshot, domain.Order{}) {
		t.Fatal("expected one failing predicate to fail the whole set")
	}
}

func TestValidateConditionsRejectsUnknownKind(t *testing.T) {
	err := ValidateConditions([]domain.RuleCondition{
		{Kind: domain.ConditionMinCreditScore, Number: 600},
		{Kind: domain.ConditionKind("astrological_sign")},
	})
	if err == nil {
		t.Fatal("expected unknown predicate kind to be rejected")
	}
}

func TestValidateConditionsAcceptsKnownKinds(t *testing.T) {
	conditions := []domain.RuleCondition{
		{Kind: domain.ConditionMinCreditScore},
		{Kind: domain.ConditionMaxCreditScore},
		{Kind: domain.ConditionMinVehicleValue},
		{Kind: domain.ConditionMinAnnualIncome},
		{Kind: domain.ConditionJourneyStage},
		{Kind: domain.ConditionHasFinancingNeed},
		{Kind: domain.ConditionHasPurchaseIntent},
		{Kind: domain.ConditionMinDaysSinceOrder},
		{Kind: domain.ConditionMinTotalSpend},
		{Kind: domain.ConditionNeedsCreditRepair},
		{Kind: domain.ConditionComplexLegalNeeds},
	}
	if err := ValidateConditions(conditions); err != nil {
		t.Fatalf("expected all known kinds to validate, got %v", err)
	}
}
