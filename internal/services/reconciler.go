package services

import (
	"context"
	"strings"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/log"
)

// Reconciler is the only way categories and subcategories are created, changed
// or removed, and the way transactions are written by hand. It keeps every
// transaction and rule pointing at an existing category of the same kind and,
// when set, at a subcategory that category owns.
type Reconciler struct {
	book   *ledger.Book
	logger *log.Logger
	cmds   *log.CommandLogger
}

func NewReconciler(book *ledger.Book, logger *log.Logger) *Reconciler {
	logger = logger.WithComponent(log.ComponentReconciler)
	return &Reconciler{
		book:   book,
		logger: logger,
		cmds:   log.NewCommandLogger(logger),
	}
}

// ResolveSubcategory returns providedID unchanged when it is set. Otherwise it
// returns the category's "Other" subcategory, creating it if needed.
func (r *Reconciler) ResolveSubcategory(ctx context.Context, categoryID, providedID string) (string, error) {
	if providedID != "" {
		return providedID, nil
	}

	var resolved string
	err := r.book.Update(ctx, log.OpResolveFallback, func(tx *ledger.Tx) error {
		cat, ok := tx.Categories().Get(categoryID)
		if !ok {
			return core.NotFound("category", categoryID)
		}
		resolved = ensureFallbackSubcategory(tx, cat, "")
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID
	if err != nil {
		r.cmds.Rejected(ctx, log.OpResolveFallback, err, fields)
		return "", err
	}
	fields[log.FieldSubcategoryID] = resolved
	r.logger.DebugContext(ctx, "subcategory resolved", fields.ToSlice()...)
	return resolved, nil
}

// DeleteCategory moves every transaction and rule of categoryID to the target
// and removes the category, in one commit. An empty targetCategoryID selects
// the fallback category of the same kind; an empty targetSubcategoryID selects
// the target's "Other" subcategory.
func (r *Reconciler) DeleteCategory(ctx context.Context, categoryID, targetCategoryID, targetSubcategoryID string) error {
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID

	var moved int
	err := r.book.Update(ctx, log.OpDeleteCategory, func(tx *ledger.Tx) error {
		cat, ok := tx.Categories().Get(categoryID)
		if !ok {
			return core.NotFound("category", categoryID)
		}

		var target core.Category
		switch {
		case targetCategoryID == categoryID:
			return core.Invalid("targetCategoryId", "cannot move transactions onto the category being deleted")
		case targetCategoryID != "":
			target, ok = tx.Categories().Get(targetCategoryID)
			if !ok {
				return core.NotFound("category", targetCategoryID)
			}
			if target.Kind != cat.Kind {
				return core.Invalid("targetCategoryId", "target category is "+string(target.Kind)+", deleted category is "+string(cat.Kind))
			}
		default:
			target = fallbackCategory(tx, cat.Kind, categoryID)
		}

		subID, err := ownedOrFallbackSubcategory(tx, target, targetSubcategoryID)
		if err != nil {
			return err
		}

		for _, t := range tx.Transactions().ByCategory(categoryID) {
			t.CategoryID = target.ID
			t.SubcategoryID = subID
			t.Kind = target.Kind
			tx.Transactions().Put(t)
			moved++
		}
		redirectRules(tx, categoryID, "", target, subID)

		tx.Categories().Delete(categoryID)
		fields[log.FieldTargetID] = target.ID
		fields[log.FieldSubcategoryID] = subID
		return nil
	})
	if err != nil {
		r.cmds.Rejected(ctx, log.OpDeleteCategory, err, fields)
		return err
	}
	fields[log.FieldCount] = moved
	r.cmds.Committed(ctx, log.OpDeleteCategory, fields)
	return nil
}

// DeleteSubcategory moves the subcategory's transactions and rules to the
// category's "Other" subcategory, which is created when missing, and removes
// the subcategory.
func (r *Reconciler) DeleteSubcategory(ctx context.Context, categoryID, subcategoryID string) error {
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID
	fields[log.FieldSubcategoryID] = subcategoryID

	var moved int
	err := r.book.Update(ctx, log.OpDeleteSubcategory, func(tx *ledger.Tx) error {
		cat, ok := tx.Categories().Get(categoryID)
		if !ok {
			return core.NotFound("category", categoryID)
		}
		if _, ok := cat.Subcategory(subcategoryID); !ok {
			return core.NotFound("subcategory", subcategoryID)
		}

		fallbackID := ensureFallbackSubcategory(tx, cat, subcategoryID)
		for _, t := range tx.Transactions().BySubcategory(categoryID, subcategoryID) {
			t.SubcategoryID = fallbackID
			tx.Transactions().Put(t)
			moved++
		}
		redirectRules(tx, categoryID, subcategoryID, cat, fallbackID)

		tx.Categories().DeleteSubcategory(categoryID, subcategoryID)
		return nil
	})
	if err != nil {
		r.cmds.Rejected(ctx, log.OpDeleteSubcategory, err, fields)
		return err
	}
	fields[log.FieldCount] = moved
	r.cmds.Committed(ctx, log.OpDeleteSubcategory, fields)
	return nil
}

// CategoryPatch lists the category fields to change. Nil fields are left alone.
// The kind of a category is fixed once created.
type CategoryPatch struct {
	Name                *string
	Color               *string
	CountsTowardSavings *bool
	BudgetLimit         *core.Money
	ClearBudgetLimit    bool
}

// AddCategory creates a category. Missing category and subcategory ids are generated.
func (r *Reconciler) AddCategory(ctx context.Context, cat core.Category) (core.Category, error) {
	cat = cat.Clone()
	cat.Name = strings.TrimSpace(cat.Name)
	err := r.book.Update(ctx, log.OpAddCategory, func(tx *ledger.Tx) error {
		if cat.ID == "" {
			cat.ID = tx.NewID()
		} else if tx.Categories().Has(cat.ID) {
			return core.Invalid("id", "category "+cat.ID+" already exists")
		}
		for i := range cat.Subcategories {
			cat.Subcategories[i].Name = strings.TrimSpace(cat.Subcategories[i].Name)
			if cat.Subcategories[i].ID == "" {
				cat.Subcategories[i].ID = tx.NewID()
			}
		}
		if err := cat.Validate(); err != nil {
			return err
		}
		tx.Categories().Put(cat)
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldCategoryID] = cat.ID
	if err != nil {
		r.cmds.Rejected(ctx, log.OpAddCategory, err, fields)
		return core.Category{}, err
	}
	r.cmds.Committed(ctx, log.OpAddCategory, fields)
	return cat.Clone(), nil
}

// RenameCategory changes a category's name. Ids, and therefore references, are kept.
func (r *Reconciler) RenameCategory(ctx context.Context, categoryID, name string) error {
	_, err := r.UpdateCategory(ctx, categoryID, CategoryPatch{Name: &name})
	return err
}

func (r *Reconciler) UpdateCategory(ctx context.Context, categoryID string, patch CategoryPatch) (core.Category, error) {
	var updated core.Category
	err := r.book.Update(ctx, log.OpUpdateCategory, func(tx *ledger.Tx) error {
		cat, ok := tx.Categories().Get(categoryID)
		if !ok {
			return core.NotFound("category", categoryID)
		}
		if patch.Name != nil {
			cat.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Color != nil {
			cat.Color = *patch.Color
		}
		if patch.CountsTowardSavings != nil {
			cat.CountsTowardSavings = *patch.CountsTowardSavings
		}
		if patch.ClearBudgetLimit {
			cat.BudgetLimit = nil
		} else if patch.BudgetLimit != nil {
			limit := *patch.BudgetLimit
			cat.BudgetLimit = &limit
		}
		if err := cat.Validate(); err != nil {
			return err
		}
		tx.Categories().Put(cat)
		updated = cat
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID
	if err != nil {
		r.cmds.Rejected(ctx, log.OpUpdateCategory, err, fields)
		return core.Category{}, err
	}
	r.cmds.Committed(ctx, log.OpUpdateCategory, fields)
	return updated, nil
}

func (r *Reconciler) AddSubcategory(ctx context.Context, categoryID, name string) (core.Subcategory, error) {
	sub := core.Subcategory{Name: strings.TrimSpace(name)}
	err := r.book.Update(ctx, log.OpAddSubcategory, func(tx *ledger.Tx) error {
		if sub.Name == "" {
			return core.ErrEmptyName
		}
		if !tx.Categories().Has(categoryID) {
			return core.NotFound("category", categoryID)
		}
		sub.ID = tx.NewID()
		tx.Categories().PutSubcategory(categoryID, sub)
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID
	if err != nil {
		r.cmds.Rejected(ctx, log.OpAddSubcategory, err, fields)
		return core.Subcategory{}, err
	}
	fields[log.FieldSubcategoryID] = sub.ID
	r.cmds.Committed(ctx, log.OpAddSubcategory, fields)
	return sub, nil
}

// RenameSubcategory keeps the id so references stay valid. The last "Other"
// subcategory of a category cannot be renamed away from the fallback name.
func (r *Reconciler) RenameSubcategory(ctx context.Context, categoryID, subcategoryID, name string) error {
	name = strings.TrimSpace(name)
	err := r.book.Update(ctx, log.OpRenameSubcategory, func(tx *ledger.Tx) error {
		if name == "" {
			return core.ErrEmptyName
		}
		cat, ok := tx.Categories().Get(categoryID)
		if !ok {
			return core.NotFound("category", categoryID)
		}
		sub, ok := cat.Subcategory(subcategoryID)
		if !ok {
			return core.NotFound("subcategory", subcategoryID)
		}
		if sub.IsFallback() && !core.IsFallbackName(name) {
			if _, another := cat.FallbackSubcategory(subcategoryID); !another {
				return core.Invalid("name", "cannot rename the only "+core.FallbackName+" subcategory of "+categoryID)
			}
		}
		tx.Categories().PutSubcategory(categoryID, core.Subcategory{ID: subcategoryID, Name: name})
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID
	fields[log.FieldSubcategoryID] = subcategoryID
	if err != nil {
		r.cmds.Rejected(ctx, log.OpRenameSubcategory, err, fields)
		return err
	}
	r.cmds.Committed(ctx, log.OpRenameSubcategory, fields)
	return nil
}

// CreateTransaction records a hand-entered transaction. The kind follows the
// category; an empty subcategory resolves to the category's "Other".
func (r *Reconciler) CreateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	err := r.book.Update(ctx, log.OpCreateTransaction, func(tx *ledger.Tx) error {
		if t.ID == "" {
			t.ID = tx.NewID()
		} else if tx.Transactions().Has(t.ID) {
			return core.Invalid("id", "transaction "+t.ID+" already exists")
		}
		var err error
		t, err = placeTransaction(tx, t)
		return err
	})
	if err != nil {
		r.cmds.Rejected(ctx, log.OpCreateTransaction, err, log.NewFields().WithTransaction(t))
		return core.Transaction{}, err
	}
	r.cmds.Committed(ctx, log.OpCreateTransaction, log.NewFields().WithTransaction(t))
	return t, nil
}

// UpdateTransaction replaces an existing transaction, keeping its id.
func (r *Reconciler) UpdateTransaction(ctx context.Context, t core.Transaction) (core.Transaction, error) {
	err := r.book.Update(ctx, log.OpUpdateTransaction, func(tx *ledger.Tx) error {
		if !tx.Transactions().Has(t.ID) {
			return core.NotFound("transaction", t.ID)
		}
		var err error
		t, err = placeTransaction(tx, t)
		return err
	})
	if err != nil {
		r.cmds.Rejected(ctx, log.OpUpdateTransaction, err, log.NewFields().WithTransaction(t))
		return core.Transaction{}, err
	}
	r.cmds.Committed(ctx, log.OpUpdateTransaction, log.NewFields().WithTransaction(t))
	return t, nil
}

func (r *Reconciler) DeleteTransaction(ctx context.Context, id string) error {
	err := r.book.Update(ctx, log.OpDeleteTransaction, func(tx *ledger.Tx) error {
		if !tx.Transactions().Delete(id) {
			return core.NotFound("transaction", id)
		}
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldTransactionID] = id
	if err != nil {
		r.cmds.Rejected(ctx, log.OpDeleteTransaction, err, fields)
		return err
	}
	r.cmds.Committed(ctx, log.OpDeleteTransaction, fields)
	return nil
}

// EnsureDefaults gives every kind without a category a system-defined "Other"
// category, so deletions always have somewhere to move transactions.
func (r *Reconciler) EnsureDefaults(ctx context.Context) error {
	var created int
	err := r.book.Update(ctx, log.OpSeedDefaults, func(tx *ledger.Tx) error {
		for _, kind := range []core.Kind{core.KindIncome, core.KindExpense} {
			if len(tx.Categories().ByKind(kind)) == 0 {
				fallbackCategory(tx, kind, "")
				created++
			}
		}
		return nil
	})
	if err != nil {
		r.cmds.Rejected(ctx, log.OpSeedDefaults, err, log.NewFields())
		return err
	}
	if created > 0 {
		fields := log.NewFields()
		fields[log.FieldCount] = created
		r.cmds.Committed(ctx, log.OpSeedDefaults, fields)
	}
	return nil
}

// placeTransaction validates t against the category tree and fixes up its kind
// and subcategory before storing it.
func placeTransaction(tx *ledger.Tx, t core.Transaction) (core.Transaction, error) {
	t.Description = strings.TrimSpace(t.Description)
	cat, ok := tx.Categories().Get(t.CategoryID)
	if !ok {
		if strings.TrimSpace(t.CategoryID) == "" {
			return t, core.ErrEmptyCategory
		}
		return t, core.NotFound("category", t.CategoryID)
	}
	t.Kind = cat.Kind
	subID, err := ownedOrFallbackSubcategory(tx, cat, t.SubcategoryID)
	if err != nil {
		return t, err
	}
	t.SubcategoryID = subID
	t = t.Clone()
	if err := t.Validate(); err != nil {
		return t, err
	}
	tx.Transactions().Put(t)
	return t, nil
}

// ensureFallbackSubcategory returns the id of cat's "Other" subcategory other
// than excludeID, adding one to the working copy when there is none.
func ensureFallbackSubcategory(tx *ledger.Tx, cat core.Category, excludeID string) string {
	if current, ok := tx.Categories().Get(cat.ID); ok {
		cat = current
	}
	if sub, ok := cat.FallbackSubcategory(excludeID); ok {
		return sub.ID
	}
	sub := core.Subcategory{ID: tx.NewID(), Name: core.FallbackName}
	tx.Categories().PutSubcategory(cat.ID, sub)
	return sub.ID
}

// ownedOrFallbackSubcategory checks that a given subcategory id belongs to cat,
// or resolves the fallback when none is given.
func ownedOrFallbackSubcategory(tx *ledger.Tx, cat core.Category, subcategoryID string) (string, error) {
	if subcategoryID == "" {
		return ensureFallbackSubcategory(tx, cat, ""), nil
	}
	if current, ok := tx.Categories().Get(cat.ID); ok {
		cat = current
	}
	if _, ok := cat.Subcategory(subcategoryID); !ok {
		return "", core.NotFound("subcategory", subcategoryID)
	}
	return subcategoryID, nil
}

// fallbackCategory picks where transactions of a deleted category of the given
// kind go: the configured fallback, then an existing category named "Other",
// else a new system-defined "Other" category. excludeID is never chosen.
func fallbackCategory(tx *ledger.Tx, kind core.Kind, excludeID string) core.Category {
	configured := tx.Fallbacks().For(kind)
	if configured != "" && configured != excludeID {
		if cat, ok := tx.Categories().Get(configured); ok && cat.Kind == kind {
			return cat
		}
	}
	for _, cat := range tx.Categories().ByKind(kind) {
		if cat.ID != excludeID && cat.IsFallback() {
			return cat
		}
	}

	id := configured
	if id == "" || id == excludeID || tx.Categories().Has(id) {
		id = tx.NewID()
	}
	cat := core.Category{
		ID:              id,
		Name:            core.FallbackName,
		Kind:            kind,
		IsSystemDefined: true,
	}
	tx.Categories().Put(cat)
	return cat
}

// redirectRules points rules that reference categoryID (and subcategoryID, when
// set) at target/targetSubID.
func redirectRules(tx *ledger.Tx, categoryID, subcategoryID string, target core.Category, targetSubID string) {
	for _, rule := range tx.Rules().ByCategory(categoryID) {
		if subcategoryID != "" && rule.SubcategoryID != subcategoryID {
			continue
		}
		rule.CategoryID = target.ID
		rule.SubcategoryID = targetSubID
		rule.Kind = target.Kind
		tx.Rules().Put(rule)
	}
}
