package services

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	domain "github.com/drivelane/engine/internal/domain"
)

// ErrPricingTablesInvalid signals a pricing-tables file that parsed but
// carries out-of-range multipliers.
var ErrPricingTablesInvalid = errors.New("pricing tables: invalid multiplier")

// PricingTables holds the operator-tuned multipliers the pricing engine
// cannot derive from customer data: seasonal demand by service category
// and month, market adjustment and cost complexity by category. Missing entries
// resolve to the neutral 1.0, so an empty table set prices every service
// at its structural factors only.
type PricingTables struct {
	tables atomic.Value // holds *pricingTableSet
}

type seasonalKey struct {
	category domain.ServiceCategory
	month    time.Month
}

type pricingTableSet struct {
	Seasonal   map[seasonalKey]float64
	Market     map[domain.ServiceCategory]float64
	Complexity map[domain.ServiceCategory]float64
}

type pricingTablesFile struct {
	Seasonal   map[string]map[int]float64 `yaml:"seasonal"`
	Market     map[string]float64         `yaml:"market"`
	Complexity map[string]float64         `yaml:"complexity"`
}

// NewPricingTables returns an empty, all-neutral table set. Call LoadFile
// to populate it; the tables can be reloaded at runtime and readers always
// see a complete set.
func NewPricingTables() *PricingTables {
	t := &PricingTables{}
	t.tables.Store(&pricingTableSet{})
	return t
}

// LoadFile parses a YAML tables file and swaps it in. On any error the
// previous set stays active.
func (t *PricingTables) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("pricing tables: read %s: %w", path, err)
	}
	return t.Load(raw)
}

// Load parses YAML table data and swaps it in.
func (t *PricingTables) Load(raw []byte) error {
	var file pricingTablesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("pricing tables: parse: %w", err)
	}

	set := &pricingTableSet{
		Seasonal:   make(map[seasonalKey]float64, len(file.Seasonal)*4),
		Market:     make(map[domain.ServiceCategory]float64, len(file.Market)),
		Complexity: make(map[domain.ServiceCategory]float64, len(file.Complexity)),
	}
	for category, months := range file.Seasonal {
		for month, multiplier := range months {
			if month < 1 || month > 12 {
				return fmt.Errorf("%w: seasonal[%s] month %d out of range", ErrPricingTablesInvalid, category, month)
			}
			if err := checkMultiplier(fmt.Sprintf("seasonal[%s][%d]", category, month), multiplier); err != nil {
				return err
			}
			set.Seasonal[seasonalKey{domain.ServiceCategory(category), time.Month(month)}] = multiplier
		}
	}
	for category, multiplier := range file.Market {
		if err := checkMultiplier("market["+category+"]", multiplier); err != nil {
			return err
		}
		set.Market[domain.ServiceCategory(category)] = multiplier
	}
	for category, multiplier := range file.Complexity {
		if multiplier <= 0 {
			return fmt.Errorf("%w: complexity[%s]=%v", ErrPricingTablesInvalid, category, multiplier)
		}
		set.Complexity[domain.ServiceCategory(category)] = multiplier
	}

	t.tables.Store(set)
	return nil
}

func checkMultiplier(name string, multiplier float64) error {
	if multiplier < 0.5 || multiplier > 2.0 {
		return fmt.Errorf("%w: %s=%v", ErrPricingTablesInvalid, name, multiplier)
	}
	return nil
}

// SeasonalFactor returns the demand multiplier for a service category in
// the given month, 1.0 when the category or month has no entry.
func (t *PricingTables) SeasonalFactor(category domain.ServiceCategory, month time.Month) float64 {
	set := t.current()
	if multiplier, ok := set.Seasonal[seasonalKey{category, month}]; ok {
		return multiplier
	}
	return 1.0
}

// MarketFactor returns the market adjustment for a service category, 1.0
// when the category has no entry.
func (t *PricingTables) MarketFactor(category domain.ServiceCategory) float64 {
	set := t.current()
	if multiplier, ok := set.Market[category]; ok {
		return multiplier
	}
	return 1.0
}

// ComplexityFactor returns the cost complexity weight for a service
// category, 1.0 when the category has no entry.
func (t *PricingTables) ComplexityFactor(category domain.ServiceCategory) float64 {
	set := t.current()
	if multiplier, ok := set.Complexity[category]; ok {
		return multiplier
	}
	return 1.0
}

func (t *PricingTables) current() *pricingTableSet {
	set, ok := t.tables.Load().(*pricingTableSet)
	if !ok || set == nil {
		return &pricingTableSet{}
	}
	return set
}
