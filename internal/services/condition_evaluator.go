package services

import (
	"fmt"

	domain "github.com/drivelane/engine/internal/domain"
)

// knownConditionKinds is the closed set of predicates the engine evaluates.
// Rules carrying any other kind are rejected when the index loads.
var knownConditionKinds = map[domain.ConditionKind]struct{}{
	domain.ConditionMinCreditScore:    {},
	domain.ConditionMaxCreditScore:    {},
	domain.ConditionMinVehicleValue:   {},
	domain.ConditionMinAnnualIncome:   {},
	domain.ConditionJourneyStage:      {},
	domain.ConditionHasFinancingNeed:  {},
	domain.ConditionHasPurchaseIntent: {},
	domain.ConditionMinDaysSinceOrder: {},
	domain.ConditionMinTotalSpend:     {},
	domain.ConditionNeedsCreditRepair: {},
	domain.ConditionComplexLegalNeeds: {},
}

// ValidateConditions rejects condition sets containing unknown predicate
// kinds. Called at rule-load time so a misconfigured rule never reaches
// evaluation.
func ValidateConditions(conditions []domain.RuleCondition) error {
	for _, condition := range conditions {
		if _, ok := knownConditionKinds[condition.Kind]; !ok {
			return fmt.Errorf("condition evaluator: unknown predicate %q", condition.Kind)
		}
	}
	return nil
}

// EvaluateConditions reports whether the customer and entry order satisfy
// every predicate in the set. An empty set always evaluates to true; the
// predicates are conjunctive, so the first failure short-circuits. The
// function reads only its arguments and performs no I/O.
func EvaluateConditions(conditions []domain.RuleCondition, snapshot domain.CustomerSnapshot, order domain.Order) bool {
	for _, condition := range conditions {
		if !evaluateCondition(condition, snapshot, order) {
			return false
		}
	}
	return true
}

func evaluateCondition(condition domain.RuleCondition, snapshot domain.CustomerSnapshot, _ domain.Order) bool {
	switch condition.Kind {
	case domain.ConditionMinCreditScore:
		return int64(snapshot.CreditScore) >= condition.Number
	case domain.ConditionMaxCreditScore:
		return int64(snapshot.CreditScore) <= condition.Number
	case domain.ConditionMinVehicleValue:
		return snapshot.VehicleValue >= condition.Number
	case domain.ConditionMinAnnualIncome:
		return snapshot.AnnualIncome >= condition.Number
	case domain.ConditionJourneyStage:
		return snapshot.JourneyStage == condition.Stage
	case domain.ConditionHasFinancingNeed:
		return snapshot.HasFinancingNeed == condition.Flag
	case domain.ConditionHasPurchaseIntent:
		return snapshot.HasPurchaseIntent == condition.Flag
	case domain.ConditionMinDaysSinceOrder:
		return int64(snapshot.DaysSinceLastOrder) >= condition.Number
	case domain.ConditionMinTotalSpend:
		return snapshot.LifetimeSpend >= condition.Number
	case domain.ConditionNeedsCreditRepair:
		return snapshot.NeedsCreditRepair == condition.Flag
	case domain.ConditionComplexLegalNeeds:
		return snapshot.HasComplexLegalNeeds == condition.Flag
	default:
		// Unknown kinds are rejected at load time; an unexpected one here is
		// a configuration error, never a silent pass.
		return false
	}
}
