package store

import (
	"sort"

	"conti/internal/core"
)

// RuleSet stores recurring rules by id.
type RuleSet struct {
	items   map[string]core.RecurringRule
	changes changeLog
}

func NewRuleSet() *RuleSet {
	return &RuleSet{
		items:   make(map[string]core.RecurringRule),
		changes: newChangeLog(),
	}
}

func (r *RuleSet) Get(id string) (core.RecurringRule, bool) {
	rule, ok := r.items[id]
	if !ok {
		return core.RecurringRule{}, false
	}
	return rule.Clone(), true
}

func (r *RuleSet) Has(id string) bool {
	_, ok := r.items[id]
	return ok
}

func (r *RuleSet) Put(rule core.RecurringRule) {
	r.items[rule.ID] = rule.Clone()
	r.changes.put(rule.ID)
}

func (r *RuleSet) Delete(id string) bool {
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	r.changes.remove(id)
	return true
}

// List returns rules ordered by next due date, then id.
func (r *RuleSet) List() []core.RecurringRule {
	out := make([]core.RecurringRule, 0, len(r.items))
	for _, rule := range r.items {
		out = append(out, rule.Clone())
	}
	SortRules(out)
	return out
}

// ByCategory returns the rules referencing categoryID.
func (r *RuleSet) ByCategory(categoryID string) []core.RecurringRule {
	var out []core.RecurringRule
	for _, rule := range r.items {
		if rule.CategoryID == categoryID {
			out = append(out, rule.Clone())
		}
	}
	SortRules(out)
	return out
}

func (r *RuleSet) Len() int {
	return len(r.items)
}

func (r *RuleSet) Changes() Changes {
	return r.changes.snapshot()
}

func (r *RuleSet) Clone() *RuleSet {
	out := &RuleSet{
		items:   make(map[string]core.RecurringRule, len(r.items)),
		changes: newChangeLog(),
	}
	for id, rule := range r.items {
		out.items[id] = rule
	}
	return out
}

func (r *RuleSet) ClearChanges() {
	r.changes = newChangeLog()
}

// SortRules orders rules by next due date ascending, ties broken by id.
func SortRules(rules []core.RecurringRule) {
	sort.Slice(rules, func(i, j int) bool {
		if !rules[i].NextDueDate.Equal(rules[j].NextDueDate) {
			return rules[i].NextDueDate.Before(rules[j].NextDueDate)
		}
		return rules[i].ID < rules[j].ID
	})
}
