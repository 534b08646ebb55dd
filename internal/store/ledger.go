package store

import (
	"sort"

	"conti/internal/core"
)

// Ledger stores transactions with secondary indexes by category and by
// category+subcategory.
type Ledger struct {
	items         map[string]core.Transaction
	byCategory    map[string]map[string]struct{}
	bySubcategory map[subKey]map[string]struct{}
	changes       changeLog
}

type subKey struct {
	category    string
	subcategory string
}

func NewLedger() *Ledger {
	return &Ledger{
		items:         make(map[string]core.Transaction),
		byCategory:    make(map[string]map[string]struct{}),
		bySubcategory: make(map[subKey]map[string]struct{}),
		changes:       newChangeLog(),
	}
}

// Get returns the transaction with the given id.
func (l *Ledger) Get(id string) (core.Transaction, bool) {
	t, ok := l.items[id]
	if !ok {
		return core.Transaction{}, false
	}
	return t.Clone(), true
}

func (l *Ledger) Has(id string) bool {
	_, ok := l.items[id]
	return ok
}

// Put inserts or replaces a transaction, keeping the indexes current.
func (l *Ledger) Put(t core.Transaction) {
	t = t.Clone()
	if old, ok := l.items[t.ID]; ok {
		l.unindex(old)
	}
	l.items[t.ID] = t
	l.index(t)
	l.changes.put(t.ID)
}

// Delete removes a transaction and reports whether it existed.
func (l *Ledger) Delete(id string) bool {
	old, ok := l.items[id]
	if !ok {
		return false
	}
	l.unindex(old)
	delete(l.items, id)
	l.changes.remove(id)
	return true
}

func (l *Ledger) Len() int {
	return len(l.items)
}

// List returns every transaction ordered by date, then id.
func (l *Ledger) List() []core.Transaction {
	out := make([]core.Transaction, 0, len(l.items))
	for _, t := range l.items {
		out = append(out, t.Clone())
	}
	sortTransactions(out)
	return out
}

// ByCategory returns the transactions referencing categoryID.
func (l *Ledger) ByCategory(categoryID string) []core.Transaction {
	return l.collect(l.byCategory[categoryID])
}

// BySubcategory returns the transactions referencing both categoryID and subcategoryID.
func (l *Ledger) BySubcategory(categoryID, subcategoryID string) []core.Transaction {
	return l.collect(l.bySubcategory[subKey{categoryID, subcategoryID}])
}

// Changes lists the ids written and removed since the ledger was created or cloned.
func (l *Ledger) Changes() Changes {
	return l.changes.snapshot()
}

// Clone returns an independent copy with an empty change log.
func (l *Ledger) Clone() *Ledger {
	out := &Ledger{
		items:         make(map[string]core.Transaction, len(l.items)),
		byCategory:    make(map[string]map[string]struct{}, len(l.byCategory)),
		bySubcategory: make(map[subKey]map[string]struct{}, len(l.bySubcategory)),
		changes:       newChangeLog(),
	}
	// Stored values are never mutated in place, so sharing their tag slices is safe.
	for id, t := range l.items {
		out.items[id] = t
	}
	for k, set := range l.byCategory {
		out.byCategory[k] = copySet(set)
	}
	for k, set := range l.bySubcategory {
		out.bySubcategory[k] = copySet(set)
	}
	return out
}

// ClearChanges forgets pending changes, e.g. after loading from storage.
func (l *Ledger) ClearChanges() {
	l.changes = newChangeLog()
}

func (l *Ledger) collect(set map[string]struct{}) []core.Transaction {
	out := make([]core.Transaction, 0, len(set))
	for id := range set {
		out = append(out, l.items[id].Clone())
	}
	sortTransactions(out)
	return out
}

func (l *Ledger) index(t core.Transaction) {
	addToSet(l.byCategory, t.CategoryID, t.ID)
	if t.SubcategoryID != "" {
		addToSet(l.bySubcategory, subKey{t.CategoryID, t.SubcategoryID}, t.ID)
	}
}

func (l *Ledger) unindex(t core.Transaction) {
	removeFromSet(l.byCategory, t.CategoryID, t.ID)
	if t.SubcategoryID != "" {
		removeFromSet(l.bySubcategory, subKey{t.CategoryID, t.SubcategoryID}, t.ID)
	}
}

func sortTransactions(ts []core.Transaction) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].Date.Equal(ts[j].Date) {
			return ts[i].Date.Before(ts[j].Date)
		}
		return ts[i].ID < ts[j].ID
	})
}

func addToSet[K comparable](m map[K]map[string]struct{}, key K, id string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[id] = struct{}{}
}

func removeFromSet[K comparable](m map[K]map[string]struct{}, key K, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(m, key)
	}
}

func copySet(set map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(set))
	for k := range set {
		out[k] = struct{}{}
	}
	return out
}
