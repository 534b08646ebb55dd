package services

import (
	"context"
	"errors"
	"strings"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/log"
)

// TagMode selects how Tag combines new tags with existing ones.
type TagMode string

const (
	TagAdd     TagMode = "add"
	TagReplace TagMode = "replace"
)

func (m TagMode) Valid() bool {
	return m == TagAdd || m == TagReplace
}

// SplitPart describes one transaction produced by Split. Empty description and
// tags are taken from the original.
type SplitPart struct {
	Description   string     `json:"description,omitempty"`
	Amount        core.Money `json:"amount"`
	CategoryID    string     `json:"categoryId"`
	SubcategoryID string     `json:"subcategoryId,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
}

// BulkExecutor applies one change to many transactions in a single commit.
// Either every listed transaction is changed or none is.
type BulkExecutor struct {
	book *ledger.Book
	cmds *log.CommandLogger
}

func NewBulkExecutor(book *ledger.Book, logger *log.Logger) *BulkExecutor {
	return &BulkExecutor{
		book: book,
		cmds: log.NewCommandLogger(logger.WithComponent(log.ComponentBulk)),
	}
}

// Recategorize moves the listed transactions to categoryID. The subcategory is
// resolved once for the whole batch.
func (b *BulkExecutor) Recategorize(ctx context.Context, ids []string, categoryID, subcategoryID string) error {
	fields := log.NewFields()
	fields[log.FieldCategoryID] = categoryID
	fields[log.FieldCount] = len(ids)

	err := b.book.Update(ctx, log.OpRecategorize, func(tx *ledger.Tx) error {
		cat, ok := tx.Categories().Get(categoryID)
		if !ok {
			return core.NotFound("category", categoryID)
		}
		batch, err := lookupAll(tx, ids)
		if err != nil {
			return err
		}
		subID, err := ownedOrFallbackSubcategory(tx, cat, subcategoryID)
		if err != nil {
			return err
		}
		for _, t := range batch {
			t.CategoryID = cat.ID
			t.SubcategoryID = subID
			t.Kind = cat.Kind
			tx.Transactions().Put(t)
		}
		fields[log.FieldSubcategoryID] = subID
		return nil
	})
	if err != nil {
		b.cmds.Rejected(ctx, log.OpRecategorize, err, fields)
		return err
	}
	b.cmds.Committed(ctx, log.OpRecategorize, fields)
	return nil
}

// Tag sets (TagReplace) or extends (TagAdd) the tag set of each listed transaction.
func (b *BulkExecutor) Tag(ctx context.Context, ids []string, tags []string, mode TagMode) error {
	fields := log.NewFields()
	fields[log.FieldCount] = len(ids)
	fields["mode"] = string(mode)

	err := b.book.Update(ctx, log.OpTag, func(tx *ledger.Tx) error {
		if !mode.Valid() {
			return core.Invalid("mode", "unknown tag mode "+string(mode))
		}
		batch, err := lookupAll(tx, ids)
		if err != nil {
			return err
		}
		for _, t := range batch {
			if mode == TagReplace {
				t.Tags = tags
			} else {
				t.Tags = append(t.Tags, tags...)
			}
			tx.Transactions().Put(t.Clone())
		}
		return nil
	})
	if err != nil {
		b.cmds.Rejected(ctx, log.OpTag, err, fields)
		return err
	}
	b.cmds.Committed(ctx, log.OpTag, fields)
	return nil
}

// Split replaces a transaction by one new transaction per part, dated like the
// original. The parts' amounts are not checked against the original amount.
func (b *BulkExecutor) Split(ctx context.Context, originalID string, parts []SplitPart) ([]core.Transaction, error) {
	fields := log.NewFields()
	fields[log.FieldTransactionID] = originalID
	fields[log.FieldCount] = len(parts)

	var created []core.Transaction
	err := b.book.Update(ctx, log.OpSplit, func(tx *ledger.Tx) error {
		original, ok := tx.Transactions().Get(originalID)
		if !ok {
			return core.NotFound("transaction", originalID)
		}
		if len(parts) == 0 {
			return core.Invalid("parts", "at least one part is required")
		}
		tx.Transactions().Delete(originalID)

		created = created[:0]
		for _, p := range parts {
			t := core.Transaction{
				ID:            tx.NewID(),
				Description:   strings.TrimSpace(p.Description),
				Amount:        p.Amount,
				Date:          original.Date,
				CategoryID:    p.CategoryID,
				SubcategoryID: p.SubcategoryID,
				Tags:          p.Tags,
			}
			if t.Description == "" {
				t.Description = original.Description
			}
			if t.Tags == nil {
				t.Tags = original.Tags
			}
			placed, err := placeTransaction(tx, t)
			if err != nil {
				return err
			}
			created = append(created, placed)
		}
		return nil
	})
	if err != nil {
		b.cmds.Rejected(ctx, log.OpSplit, err, fields)
		return nil, err
	}
	b.cmds.Committed(ctx, log.OpSplit, fields)
	return created, nil
}

// lookupAll returns the listed transactions, or a NotFound error naming every
// missing id.
func lookupAll(tx *ledger.Tx, ids []string) ([]core.Transaction, error) {
	var (
		out     = make([]core.Transaction, 0, len(ids))
		missing []error
		seen    = make(map[string]struct{}, len(ids))
	)
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		t, ok := tx.Transactions().Get(id)
		if !ok {
			missing = append(missing, core.NotFound("transaction", id))
			continue
		}
		out = append(out, t)
	}
	if len(missing) > 0 {
		return nil, errors.Join(missing...)
	}
	return out, nil
}
