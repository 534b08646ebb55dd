package ledger

import (
	"context"
	"time"

	"conti/internal/core"
)

// ChangeSet is what one commit wrote. Persisters apply it as a single unit.
type ChangeSet struct {
	Version int64
	// Reset means the change set replaces everything previously stored.
	Reset bool

	Transactions        []core.Transaction
	DeletedTransactions []string
	Categories          []core.Category
	DeletedCategories   []string
	Rules               []core.RecurringRule
	DeletedRules        []string
}

func (c ChangeSet) Empty() bool {
	return !c.Reset &&
		len(c.Transactions) == 0 && len(c.DeletedTransactions) == 0 &&
		len(c.Categories) == 0 && len(c.DeletedCategories) == 0 &&
		len(c.Rules) == 0 && len(c.DeletedRules) == 0
}

// Persister durably stores committed change sets. Apply must be all-or-nothing.
type Persister interface {
	Apply(ctx context.Context, cs ChangeSet) error
}

// Event describes a commit for external consumers.
type Event struct {
	Version   int64     `json:"version"`
	Operation string    `json:"operation"`
	Timestamp time.Time `json:"timestamp"`
	Reset     bool      `json:"reset,omitempty"`

	Transactions        []string `json:"transactions,omitempty"`
	DeletedTransactions []string `json:"deletedTransactions,omitempty"`
	Categories          []string `json:"categories,omitempty"`
	DeletedCategories   []string `json:"deletedCategories,omitempty"`
	Rules               []string `json:"rules,omitempty"`
	DeletedRules        []string `json:"deletedRules,omitempty"`
}

// EventSink receives an Event after every commit, in commit order.
type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

func (c ChangeSet) event(op string, at time.Time) Event {
	ev := Event{
		Version:             c.Version,
		Operation:           op,
		Timestamp:           at,
		Reset:               c.Reset,
		DeletedTransactions: c.DeletedTransactions,
		DeletedCategories:   c.DeletedCategories,
		DeletedRules:        c.DeletedRules,
	}
	for _, t := range c.Transactions {
		ev.Transactions = append(ev.Transactions, t.ID)
	}
	for _, cat := range c.Categories {
		ev.Categories = append(ev.Categories, cat.ID)
	}
	for _, r := range c.Rules {
		ev.Rules = append(ev.Rules, r.ID)
	}
	return ev
}
