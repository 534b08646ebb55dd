package store

import (
	"conti/internal/core"
)

// CategoryTree stores categories, each owning its subcategories, in insertion order.
type CategoryTree struct {
	items   map[string]core.Category
	order   []string
	changes changeLog
}

func NewCategoryTree() *CategoryTree {
	return &CategoryTree{
		items:   make(map[string]core.Category),
		changes: newChangeLog(),
	}
}

func (c *CategoryTree) Get(id string) (core.Category, bool) {
	cat, ok := c.items[id]
	if !ok {
		return core.Category{}, false
	}
	return cat.Clone(), true
}

func (c *CategoryTree) Has(id string) bool {
	_, ok := c.items[id]
	return ok
}

// Put inserts a category or replaces it in place, keeping its position.
func (c *CategoryTree) Put(cat core.Category) {
	if _, ok := c.items[cat.ID]; !ok {
		c.order = append(c.order, cat.ID)
	}
	c.items[cat.ID] = cat.Clone()
	c.changes.put(cat.ID)
}

// Delete removes a category together with its subcategories.
func (c *CategoryTree) Delete(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, v := range c.order {
		if v == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	c.changes.remove(id)
	return true
}

// PutSubcategory appends sub to the category or renames it when the id exists.
func (c *CategoryTree) PutSubcategory(categoryID string, sub core.Subcategory) bool {
	cat, ok := c.items[categoryID]
	if !ok {
		return false
	}
	cat = cat.Clone()
	replaced := false
	for i := range cat.Subcategories {
		if cat.Subcategories[i].ID == sub.ID {
			cat.Subcategories[i] = sub
			replaced = true
			break
		}
	}
	if !replaced {
		cat.Subcategories = append(cat.Subcategories, sub)
	}
	c.items[categoryID] = cat
	c.changes.put(categoryID)
	return true
}

// DeleteSubcategory removes one subcategory from its category.
func (c *CategoryTree) DeleteSubcategory(categoryID, subcategoryID string) bool {
	cat, ok := c.items[categoryID]
	if !ok {
		return false
	}
	if _, ok := cat.Subcategory(subcategoryID); !ok {
		return false
	}
	cat = cat.Clone()
	kept := cat.Subcategories[:0]
	for _, s := range cat.Subcategories {
		if s.ID != subcategoryID {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		kept = nil
	}
	cat.Subcategories = kept
	c.items[categoryID] = cat
	c.changes.put(categoryID)
	return true
}

// List returns categories in insertion order.
func (c *CategoryTree) List() []core.Category {
	out := make([]core.Category, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id].Clone())
	}
	return out
}

// ByKind returns the categories of one kind in insertion order.
func (c *CategoryTree) ByKind(kind core.Kind) []core.Category {
	var out []core.Category
	for _, id := range c.order {
		if cat := c.items[id]; cat.Kind == kind {
			out = append(out, cat.Clone())
		}
	}
	return out
}

func (c *CategoryTree) Len() int {
	return len(c.items)
}

func (c *CategoryTree) Changes() Changes {
	return c.changes.snapshot()
}

func (c *CategoryTree) Clone() *CategoryTree {
	out := &CategoryTree{
		items:   make(map[string]core.Category, len(c.items)),
		order:   append([]string(nil), c.order...),
		changes: newChangeLog(),
	}
	for id, cat := range c.items {
		out.items[id] = cat
	}
	return out
}

func (c *CategoryTree) ClearChanges() {
	c.changes = newChangeLog()
}
