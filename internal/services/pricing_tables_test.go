package services

import (
	"errors"
	"testing"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
)

func TestPricingTablesLoadAndLookup(t *testing.T) {
	tables := NewPricingTables()
	raw := []byte(`
seasonal:
  inspection:
    3: 1.10
    12: 0.90
  financing:
    3: 0.95
market:
  financing: 1.08
complexity:
  legal: 1.40
  documentation: 0.70
`)
	if err := tables.Load(raw); err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := tables.SeasonalFactor(domain.CategoryInspection, time.March); got != 1.10 {
		t.Fatalf("expected inspection march 1.10, got %v", got)
	}
	if got := tables.SeasonalFactor(domain.CategoryFinancing, time.March); got != 0.95 {
		t.Fatalf("expected financing march 0.95, got %v", got)
	}
	if got := tables.SeasonalFactor(domain.CategoryInspection, time.July); got != 1.0 {
		t.Fatalf("expected neutral for missing month, got %v", got)
	}
	if got := tables.SeasonalFactor(domain.CategoryLegal, time.March); got != 1.0 {
		t.Fatalf("expected neutral for missing category, got %v", got)
	}
	if got := tables.MarketFactor(domain.ServiceCategory("financing")); got != 1.08 {
		t.Fatalf("expected financing 1.08, got %v", got)
	}
	if got := tables.ComplexityFactor(domain.ServiceCategory("documentation")); got != 0.70 {
		t.Fatalf("expected documentation 0.70, got %v", got)
	}
	if got := tables.ComplexityFactor(domain.ServiceCategory("unknown")); got != 1.0 {
		t.Fatalf("expected neutral for missing category, got %v", got)
	}
}

func TestPricingTablesRejectOutOfRangeMultiplier(t *testing.T) {
	tables := NewPricingTables()
	cases := [][]byte{
		[]byte("seasonal:\n  inspection:\n    6: 2.50\n"),
		[]byte("seasonal:\n  inspection:\n    13: 1.0\n"),
		[]byte("market:\n  legal: 0.40\n"),
		[]byte("complexity:\n  legal: 0\n"),
	}
	for _, raw := range cases {
		if err := tables.Load(raw); !errors.Is(err, ErrPricingTablesInvalid) {
			t.Fatalf("expected invalid multiplier for %q, got %v", raw, err)
		}
	}
}

func TestPricingTablesKeepPreviousSetOnBadLoad(t *testing.T) {
	tables := NewPricingTables()
	if err := tables.Load([]byte("market:\n  financing: 1.08\n")); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tables.Load([]byte("market:\n  financing: 9.0\n")); err == nil {
		t.Fatal("expected bad load to fail")
	}
	if got := tables.MarketFactor(domain.ServiceCategory("financing")); got != 1.08 {
		t.Fatalf("expected previous set to survive, got %v", got)
	}
}

func TestPricingTablesEmptySetIsNeutral(t *testing.T) {
	tables := NewPricingTables()
	if got := tables.SeasonalFactor(domain.CategoryInspection, time.January); got != 1.0 {
		t.Fatalf("expected neutral seasonal, got %v", got)
	}
	if got := tables.MarketFactor(domain.ServiceCategory("legal")); got != 1.0 {
		t.Fatalf("expected neutral market, got %v", got)
	}
}
