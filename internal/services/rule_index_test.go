package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/drivelane/engine/internal/domain"
)

type stubRuleSource struct {
	rules []domain.CascadeRule
	err   error
	calls int
}

func (s *stubRuleSource) ListActive(context.Context) ([]domain.CascadeRule, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.rules, nil
}

func TestRuleIndexOrdersByPriorityThenRate(t *testing.T) {
	source := &stubRuleSource{rules: []domain.CascadeRule{
		{ID: "r-low-priority", EntryServiceID: "svc-a", ConversionRate: 0.95, Priority: 5, Active: true},
		{ID: "r-high-rate", EntryServiceID: "svc-a", ConversionRate: 0.90, Priority: 1, Active: true},
		{ID: "r-low-rate", EntryServiceID: "svc-a", ConversionRate: 0.80, Priority: 1, Active: true},
		{ID: "r-other-entry", EntryServiceID: "svc-b", ConversionRate: 0.85, Priority: 1, Active: true},
	}}

	index, err := NewRuleIndex(RuleIndexDeps{Rules: source})
	if err != nil {
		t.Fatalf("new rule index: %v", err)
	}
	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	rules := index.RulesFor("svc-a")
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules for svc-a, got %d", len(rules))
	}
	wantOrder := []string{"r-high-rate", "r-low-rate", "r-low-priority"}
	for i, want := range wantOrder {
		if rules[i].ID != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, rules[i].ID)
		}
	}
	if got := index.RulesFor("svc-b"); len(got) != 1 {
		t.Fatalf("expected 1 rule for svc-b, got %d", len(got))
	}
	if got := index.RulesFor("svc-unknown"); got != nil {
		t.Fatalf("expected nil for unknown entry service, got %v", got)
	}
}

func TestRuleIndexRejectsUnknownConditionKinds(t *testing.T) {
	source := &stubRuleSource{rules: []domain.CascadeRule{
		{ID: "r-good", EntryServiceID: "svc-a", ConversionRate: 0.9, Active: true,
			Conditions: []domain.RuleCondition{{Kind: domain.ConditionMinCreditScore, Number: 600}}},
		{ID: "r-bad", EntryServiceID: "svc-a", ConversionRate: 0.9, Active: true,
			Conditions: []domain.RuleCondition{{Kind: domain.ConditionKind("zodiac")}}},
	}}

	index, err := NewRuleIndex(RuleIndexDeps{Rules: source})
	if err != nil {
		t.Fatalf("new rule index: %v", err)
	}
	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	rules := index.RulesFor("svc-a")
	if len(rules) != 1 || rules[0].ID != "r-good" {
		t.Fatalf("expected only the valid rule to survive, got %v", rules)
	}
}

func TestRuleIndexSkipsInactiveRules(t *testing.T) {
	source := &stubRuleSource{rules: []domain.CascadeRule{
		{ID: "r-off", EntryServiceID: "svc-a", ConversionRate: 0.9, Active: false},
	}}

	index, err := NewRuleIndex(RuleIndexDeps{Rules: source})
	if err != nil {
		t.Fatalf("new rule index: %v", err)
	}
	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := index.RulesFor("svc-a"); got != nil {
		t.Fatalf("expected inactive rules to be dropped, got %v", got)
	}
}

func TestRuleIndexKeepsOldGenerationOnReloadFailure(t *testing.T) {
	source := &stubRuleSource{rules: []domain.CascadeRule{
		{ID: "r-1", EntryServiceID: "svc-a", ConversionRate: 0.9, Active: true},
	}}

	index, err := NewRuleIndex(RuleIndexDeps{Rules: source})
	if err != nil {
		t.Fatalf("new rule index: %v", err)
	}
	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	source.err = errors.New("store down")
	if err := index.Reload(context.Background()); err == nil {
		t.Fatal("expected reload failure to surface")
	}
	if rules := index.RulesFor("svc-a"); len(rules) != 1 {
		t.Fatalf("expected previous generation to survive a failed reload, got %v", rules)
	}
}

func TestRuleIndexReloadIsIdempotent(t *testing.T) {
	source := &stubRuleSource{rules: []domain.CascadeRule{
		{ID: "r-low-priority", EntryServiceID: "svc-a", ConversionRate: 0.95, Priority: 5, Active: true},
		{ID: "r-high-rate", EntryServiceID: "svc-a", ConversionRate: 0.90, Priority: 1, Active: true},
		{ID: "r-other-entry", EntryServiceID: "svc-b", ConversionRate: 0.85, Priority: 1, Active: true},
	}}

	index, err := NewRuleIndex(RuleIndexDeps{Rules: source})
	if err != nil {
		t.Fatalf("new rule index: %v", err)
	}
	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("first reload: %v", err)
	}
	first := index.RulesFor("svc-a")

	if err := index.Reload(context.Background()); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	second := index.RulesFor("svc-a")

	if len(first) != len(second) {
		t.Fatalf("reload changed rule count: %d then %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("position %d: %s then %s after identical reloads", i, first[i].ID, second[i].ID)
		}
	}
	countFirst, _ := index.RuleCount()
	if countFirst != 3 {
		t.Fatalf("expected 3 rules indexed, got %d", countFirst)
	}
	if source.calls != 2 {
		t.Fatalf("expected two source reads, got %d", source.calls)
	}
}

func TestRuleIndexBeforeFirstLoad(t *testing.T) {
	index, err := NewRuleIndex(RuleIndexDeps{Rules: &stubRuleSource{}})
	if err != nil {
		t.Fatalf("new rule index: %v", err)
	}
	if got := index.RulesFor("svc-a"); got != nil {
		t.Fatalf("expected nil before first load, got %v", got)
	}
	count, loadedAt := index.RuleCount()
	if count != 0 || !loadedAt.IsZero() {
		t.Fatalf("expected empty count before first load, got %d at %v", count, loadedAt)
	}
}
