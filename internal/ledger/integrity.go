package ledger

import (
	"fmt"

	"conti/internal/core"
)

// Violation is one broken referential rule found by CheckIntegrity.
type Violation struct {
	Entity  string `json:"entity"`
	ID      string `json:"id"`
	Problem string `json:"problem"`
}

func (v Violation) String() string {
	if v.ID == "" {
		return fmt.Sprintf("%s: %s", v.Entity, v.Problem)
	}
	return fmt.Sprintf("%s %q: %s", v.Entity, v.ID, v.Problem)
}

// CheckIntegrity reports every transaction or rule whose category or
// subcategory reference does not resolve, and every kind without a category.
// A consistent ledger yields nil.
func CheckIntegrity(s Snapshot) []Violation {
	var out []Violation

	check := func(entity, id string, kind core.Kind, categoryID, subcategoryID string) {
		cat, ok := s.state.categories.Get(categoryID)
		if !ok {
			out = append(out, Violation{entity, id, fmt.Sprintf("category %q does not exist", categoryID)})
			return
		}
		if cat.Kind != kind {
			out = append(out, Violation{entity, id, fmt.Sprintf("kind %s does not match category %q kind %s", kind, categoryID, cat.Kind)})
		}
		if subcategoryID == "" {
			return
		}
		if _, ok := cat.Subcategory(subcategoryID); !ok {
			out = append(out, Violation{entity, id, fmt.Sprintf("subcategory %q is not owned by category %q", subcategoryID, categoryID)})
		}
	}

	for _, t := range s.state.transactions.List() {
		check("transaction", t.ID, t.Kind, t.CategoryID, t.SubcategoryID)
	}
	for _, r := range s.state.rules.List() {
		check("rule", r.ID, r.Kind, r.CategoryID, r.SubcategoryID)
	}
	for _, kind := range []core.Kind{core.KindIncome, core.KindExpense} {
		if len(s.state.categories.ByKind(kind)) == 0 {
			out = append(out, Violation{Entity: "categories", Problem: fmt.Sprintf("no %s category available as fallback", kind)})
		}
	}
	return out
}
