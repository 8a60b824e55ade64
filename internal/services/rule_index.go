package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	domain "github.com/drivelane/engine/internal/domain"
)

// RuleIndex keeps the active cascade rules in memory, keyed by entry
// service, so the per-order hot path never touches the store. Reload
// rebuilds a fresh index and swaps it in atomically; concurrent readers
// always see a complete generation, never a partially built one.
type RuleIndex struct {
	rules    CascadeRuleSource
	logger   func(context.Context, string, map[string]any)
	now      func() time.Time
	snapshot atomic.Value // holds *ruleIndexSnapshot
}

// CascadeRuleSource is the slice of the rule repository the index needs.
type CascadeRuleSource interface {
	ListActive(ctx context.Context) ([]domain.CascadeRule, error)
}

type RuleIndexDeps struct {
	Rules  CascadeRuleSource
	Logger func(context.Context, string, map[string]any)
	Now    func() time.Time
}

type ruleIndexSnapshot struct {
	byEntryService map[string][]domain.CascadeRule
	ruleCount      int
	loadedAt       time.Time
}

func NewRuleIndex(deps RuleIndexDeps) (*RuleIndex, error) {
	if deps.Rules == nil {
		return nil, errors.New("rule index: rule source is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RuleIndex{
		rules:  deps.Rules,
		logger: logger,
		now:    func() time.Time { return now().UTC() },
	}, nil
}

// Reload fetches the active rules, validates them, and swaps in a new
// index generation. Rules with unknown condition kinds are logged and
// dropped rather than failing the whole reload. On a fetch error the
// previous generation stays in place.
func (idx *RuleIndex) Reload(ctx context.Context) error {
	rules, err := idx.rules.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("rule index: reload: %w", err)
	}

	byEntry := make(map[string][]domain.CascadeRule)
	kept := 0
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if err := ValidateConditions(rule.Conditions); err != nil {
			idx.logger(ctx, "cascade_rule_rejected", map[string]any{
				"ruleId":         rule.ID,
				"entryServiceId": rule.EntryServiceID,
				"reason":         err.Error(),
			})
			continue
		}
		byEntry[rule.EntryServiceID] = append(byEntry[rule.EntryServiceID], rule)
		kept++
	}

	for entryServiceID := range byEntry {
		bucket := byEntry[entryServiceID]
		sort.SliceStable(bucket, func(i, j int) bool {
			if bucket[i].Priority != bucket[j].Priority {
				return bucket[i].Priority < bucket[j].Priority
			}
			return bucket[i].ConversionRate > bucket[j].ConversionRate
		})
	}

	idx.snapshot.Store(&ruleIndexSnapshot{
		byEntryService: byEntry,
		ruleCount:      kept,
		loadedAt:       idx.now(),
	})

	idx.logger(ctx, "cascade_rules_loaded", map[string]any{
		"ruleCount":     kept,
		"rejectedCount": len(rules) - kept,
		"entryServices": len(byEntry),
	})
	return nil
}

// RulesFor returns the rules whose entry service matches the given service,
// ordered by priority ascending then conversion rate descending. Before the
// first successful Reload it returns nil. The returned slice is shared with
// the index and must not be mutated.
func (idx *RuleIndex) RulesFor(serviceID string) []domain.CascadeRule {
	snap, ok := idx.snapshot.Load().(*ruleIndexSnapshot)
	if !ok || snap == nil {
		return nil
	}
	return snap.byEntryService[serviceID]
}

// RuleCount reports how many rules the current generation holds, and when
// it was loaded. Used for readiness reporting.
func (idx *RuleIndex) RuleCount() (int, time.Time) {
	snap, ok := idx.snapshot.Load().(*ruleIndexSnapshot)
	if !ok || snap == nil {
		return 0, time.Time{}
	}
	return snap.ruleCount, snap.loadedAt
}
