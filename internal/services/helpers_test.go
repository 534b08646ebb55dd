package services

import (
	"context"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/log"
)

type fixture struct {
	book       *ledger.Book
	reconciler *Reconciler
	scheduler  *Scheduler
	bulk       *BulkExecutor
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return "gen-" + strconv.FormatInt(n.Add(1), 10)
	}
}

// newFixture builds services over a book holding:
//
//	food (expense): groceries, restaurants
//	home (expense): no subcategories
//	salary (income)
//	other-expense / other-income: the configured fallbacks
func newFixture(t *testing.T, opts ...ledger.Option) *fixture {
	t.Helper()
	state, err := ledger.Build([]core.Category{
		{ID: "food", Name: "Food", Kind: core.KindExpense, Subcategories: []core.Subcategory{
			{ID: "groceries", Name: "Groceries"},
			{ID: "restaurants", Name: "Restaurants"},
		}},
		{ID: "home", Name: "Home", Kind: core.KindExpense},
		{ID: "salary", Name: "Salary", Kind: core.KindIncome},
		{ID: "other-expense", Name: "Other", Kind: core.KindExpense, IsSystemDefined: true},
		{ID: "other-income", Name: "Other", Kind: core.KindIncome, IsSystemDefined: true},
	}, nil, nil)
	require.NoError(t, err)

	base := []ledger.Option{
		ledger.WithIDGenerator(sequentialIDs()),
		ledger.WithClock(func() time.Time { return time.Date(2024, 1, 22, 8, 0, 0, 0, time.UTC) }),
		ledger.WithFallbacks(ledger.Fallbacks{IncomeCategoryID: "other-income", ExpenseCategoryID: "other-expense"}),
	}
	book := ledger.New(state, append(base, opts...)...)
	logger := log.Discard()
	return &fixture{
		book:       book,
		reconciler: NewReconciler(book, logger),
		scheduler:  NewScheduler(book, logger),
		bulk:       NewBulkExecutor(book, logger),
	}
}

func (f *fixture) addTxn(t *testing.T, categoryID, subcategoryID string, cents int64) core.Transaction {
	t.Helper()
	txn, err := f.reconciler.CreateTransaction(context.Background(), core.Transaction{
		Description:   "entry",
		Amount:        core.Money{Cents: cents},
		Date:          core.NewDate(2024, 1, 10),
		CategoryID:    categoryID,
		SubcategoryID: subcategoryID,
	})
	require.NoError(t, err)
	return txn
}

func requireConsistent(t *testing.T, book *ledger.Book) {
	t.Helper()
	require.Empty(t, ledger.CheckIntegrity(book.Snapshot()))
}

func fallbackSubcategories(cat core.Category) []core.Subcategory {
	var out []core.Subcategory
	for _, s := range cat.Subcategories {
		if s.IsFallback() {
			out = append(out, s)
		}
	}
	return out
}

func discardLogger() *log.Logger {
	return log.Discard()
}

func checkSnapshot(f *fixture) []ledger.Violation {
	return ledger.CheckIntegrity(f.book.Snapshot())
}
