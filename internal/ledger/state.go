// Package ledger owns the committed ledger state. A Book is the single writer:
// every command runs inside Book.Update against a private working copy, and the
// copy replaces the committed state only after it has been persisted. Readers
// hold immutable Snapshots and never observe a half-applied command.
package ledger

import (
	"fmt"
	"time"

	"conti/internal/core"
	"conti/internal/store"
)

// State is the full set of ledger collections.
type State struct {
	transactions *store.Ledger
	categories   *store.CategoryTree
	rules        *store.RuleSet
}

func NewState() *State {
	return &State{
		transactions: store.NewLedger(),
		categories:   store.NewCategoryTree(),
		rules:        store.NewRuleSet(),
	}
}

// Build assembles a State from loaded records. Every record is validated on its
// own; cross-collection integrity is left to CheckIntegrity.
func Build(categories []core.Category, transactions []core.Transaction, rules []core.RecurringRule) (*State, error) {
	s := NewState()
	for _, c := range categories {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("category %q: %w", c.ID, err)
		}
		if s.categories.Has(c.ID) {
			return nil, core.Invalid("categories", "duplicate id "+c.ID)
		}
		s.categories.Put(c)
	}
	for _, t := range transactions {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %q: %w", t.ID, err)
		}
		if s.transactions.Has(t.ID) {
			return nil, core.Invalid("transactions", "duplicate id "+t.ID)
		}
		s.transactions.Put(t)
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		if s.rules.Has(r.ID) {
			return nil, core.Invalid("rules", "duplicate id "+r.ID)
		}
		s.rules.Put(r)
	}
	s.clearChanges()
	return s, nil
}

func (s *State) clone() *State {
	return &State{
		transactions: s.transactions.Clone(),
		categories:   s.categories.Clone(),
		rules:        s.rules.Clone(),
	}
}

func (s *State) clearChanges() {
	s.transactions.ClearChanges()
	s.categories.ClearChanges()
	s.rules.ClearChanges()
}

// changeSet collects the records touched since the state was cloned.
func (s *State) changeSet(version int64) ChangeSet {
	cs := ChangeSet{Version: version}

	tc := s.transactions.Changes()
	for _, id := range tc.Upserted {
		t, _ := s.transactions.Get(id)
		cs.Transactions = append(cs.Transactions, t)
	}
	cs.DeletedTransactions = tc.Deleted

	cc := s.categories.Changes()
	for _, id := range cc.Upserted {
		c, _ := s.categories.Get(id)
		cs.Categories = append(cs.Categories, c)
	}
	cs.DeletedCategories = cc.Deleted

	rc := s.rules.Changes()
	for _, id := range rc.Upserted {
		r, _ := s.rules.Get(id)
		cs.Rules = append(cs.Rules, r)
	}
	cs.DeletedRules = rc.Deleted
	return cs
}

// fullChangeSet lists every record, for a wholesale replacement.
func (s *State) fullChangeSet(version int64) ChangeSet {
	return ChangeSet{
		Version:      version,
		Reset:        true,
		Transactions: s.transactions.List(),
		Categories:   s.categories.List(),
		Rules:        s.rules.List(),
	}
}

// Snapshot is a committed, immutable view of the ledger.
type Snapshot struct {
	state       *State
	version     int64
	committedAt time.Time
}

// Version increases by one with every commit.
func (s Snapshot) Version() int64 { return s.version }

func (s Snapshot) CommittedAt() time.Time { return s.committedAt }

func (s Snapshot) Transactions() []core.Transaction {
	return s.state.transactions.List()
}

func (s Snapshot) Transaction(id string) (core.Transaction, bool) {
	return s.state.transactions.Get(id)
}

func (s Snapshot) TransactionsByCategory(categoryID string) []core.Transaction {
	return s.state.transactions.ByCategory(categoryID)
}

func (s Snapshot) TransactionsBySubcategory(categoryID, subcategoryID string) []core.Transaction {
	return s.state.transactions.BySubcategory(categoryID, subcategoryID)
}

func (s Snapshot) Categories() []core.Category {
	return s.state.categories.List()
}

func (s Snapshot) Category(id string) (core.Category, bool) {
	return s.state.categories.Get(id)
}

func (s Snapshot) CategoriesByKind(kind core.Kind) []core.Category {
	return s.state.categories.ByKind(kind)
}

func (s Snapshot) Rules() []core.RecurringRule {
	return s.state.rules.List()
}

func (s Snapshot) Rule(id string) (core.RecurringRule, bool) {
	return s.state.rules.Get(id)
}

// Counts returns the number of transactions, categories and rules.
func (s Snapshot) Counts() (transactions, categories, rules int) {
	return s.state.transactions.Len(), s.state.categories.Len(), s.state.rules.Len()
}
