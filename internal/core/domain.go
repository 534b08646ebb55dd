package core

import (
	"fmt"
	"sort"
	"strings"
)

const (
	KindIncome  Kind = "income"
	KindExpense Kind = "expense"
)

const (
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
)

// FallbackName is the name of the catch-all category and subcategory.
const FallbackName = "Other"

const maxDescriptionLength = 200

type (
	// Kind tells income and expense entries apart.
	Kind string

	// Frequency is the repetition period of a recurring rule.
	Frequency string

	Subcategory struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// Category owns its subcategories. Transactions and rules only refer to it by id.
	Category struct {
		ID                  string        `json:"id"`
		Name                string        `json:"name"`
		Kind                Kind          `json:"kind"`
		Color               string        `json:"color,omitempty"`
		IsSystemDefined     bool          `json:"isSystemDefined"`
		CountsTowardSavings bool          `json:"countsTowardSavings"`
		BudgetLimit         *Money        `json:"budgetLimit,omitempty"`
		Subcategories       []Subcategory `json:"subcategories"`
	}

	Transaction struct {
		ID            string   `json:"id"`
		Description   string   `json:"description"`
		Amount        Money    `json:"amount"`
		Date          Date     `json:"date"`
		Kind          Kind     `json:"kind"`
		CategoryID    string   `json:"categoryId"`
		SubcategoryID string   `json:"subcategoryId,omitempty"`
		Tags          []string `json:"tags"`
	}

	// RecurringRule is a template that the scheduler turns into transactions.
	// NextDueDate is always the earliest occurrence not yet processed or skipped.
	RecurringRule struct {
		ID            string    `json:"id"`
		Description   string    `json:"description"`
		Amount        Money     `json:"amount"`
		Kind          Kind      `json:"kind"`
		Frequency     Frequency `json:"frequency"`
		NextDueDate   Date      `json:"nextDueDate"`
		AutoPay       bool      `json:"autoPay"`
		CategoryID    string    `json:"categoryId"`
		SubcategoryID string    `json:"subcategoryId,omitempty"`
		Tags          []string  `json:"tags"`
	}
)

var (
	ErrInvalidAmount      = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidKind        = fmt.Errorf("%w: invalid kind", ErrValidation)
	ErrInvalidFrequency   = fmt.Errorf("%w: invalid frequency", ErrValidation)
	ErrEmptyDescription   = fmt.Errorf("%w: empty description", ErrValidation)
	ErrDescriptionTooLong = fmt.Errorf("%w: description too long (max %d characters)", ErrValidation, maxDescriptionLength)
	ErrEmptyName          = fmt.Errorf("%w: empty name", ErrValidation)
	ErrEmptyCategory      = fmt.Errorf("%w: empty category", ErrValidation)
)

func (k Kind) Valid() bool {
	return k == KindIncome || k == KindExpense
}

func (f Frequency) Valid() bool {
	switch f {
	case Weekly, Monthly, Yearly:
		return true
	}
	return false
}

// IsFallbackName reports whether name designates the catch-all "Other" entry.
func IsFallbackName(name string) bool {
	return strings.EqualFold(strings.TrimSpace(name), FallbackName)
}

func (s Subcategory) IsFallback() bool {
	return IsFallbackName(s.Name)
}

// Subcategory returns the owned subcategory with the given id.
func (c Category) Subcategory(id string) (Subcategory, bool) {
	for _, s := range c.Subcategories {
		if s.ID == id {
			return s, true
		}
	}
	return Subcategory{}, false
}

// FallbackSubcategory returns the first "Other" subcategory whose id is not excluded.
func (c Category) FallbackSubcategory(excludeID string) (Subcategory, bool) {
	for _, s := range c.Subcategories {
		if s.ID != excludeID && s.IsFallback() {
			return s, true
		}
	}
	return Subcategory{}, false
}

func (c Category) IsFallback() bool {
	return IsFallbackName(c.Name)
}

func (c Category) Clone() Category {
	out := c
	if c.BudgetLimit != nil {
		limit := *c.BudgetLimit
		out.BudgetLimit = &limit
	}
	if len(c.Subcategories) > 0 {
		out.Subcategories = append([]Subcategory(nil), c.Subcategories...)
	} else {
		out.Subcategories = nil
	}
	return out
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrEmptyName
	}
	if !c.Kind.Valid() {
		return ErrInvalidKind
	}
	if c.BudgetLimit != nil {
		if err := c.BudgetLimit.Validate(); err != nil {
			return fmt.Errorf("budget limit: %w", err)
		}
	}
	seen := make(map[string]struct{}, len(c.Subcategories))
	for _, s := range c.Subcategories {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("subcategory %q: %w", s.ID, ErrEmptyName)
		}
		if _, dup := seen[s.ID]; dup {
			return Invalid("subcategories", "duplicate subcategory id "+s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func (t Transaction) Clone() Transaction {
	t.Tags = NormalizeTags(t.Tags)
	return t
}

func (t Transaction) HasTag(tag string) bool {
	for _, v := range t.Tags {
		if v == tag {
			return true
		}
	}
	return false
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := validateDescription(t.Description); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrEmptyCategory
	}
	return nil
}

func (r RecurringRule) Clone() RecurringRule {
	r.Tags = NormalizeTags(r.Tags)
	return r
}

func (r RecurringRule) Validate() error {
	if err := r.NextDueDate.Validate(); err != nil {
		return fmt.Errorf("invalid next due date: %w", err)
	}
	if !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if err := validateDescription(r.Description); err != nil {
		return err
	}
	if err := r.Amount.Validate(); err != nil {
		return err
	}
	if !r.Kind.Valid() {
		return ErrInvalidKind
	}
	if strings.TrimSpace(r.CategoryID) == "" {
		return ErrEmptyCategory
	}
	return nil
}

// Occurrence builds the transaction for the rule's current due date.
// The caller assigns the id.
func (r RecurringRule) Occurrence(id string, amount Money) Transaction {
	return Transaction{
		ID:            id,
		Description:   r.Description,
		Amount:        amount,
		Date:          r.NextDueDate,
		Kind:          r.Kind,
		CategoryID:    r.CategoryID,
		SubcategoryID: r.SubcategoryID,
		Tags:          NormalizeTags(r.Tags),
	}
}

// NormalizeTags trims, drops empties, deduplicates and sorts. Tags have set
// semantics, so the sorted form is the canonical one. Returns nil when empty.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func validateDescription(desc string) error {
	if len(strings.TrimSpace(desc)) == 0 {
		return ErrEmptyDescription
	}
	if len(desc) > maxDescriptionLength {
		return ErrDescriptionTooLong
	}
	return nil
}
