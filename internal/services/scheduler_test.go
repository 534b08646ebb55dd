package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
	"conti/internal/ledger"
)

func (f *fixture) addRule(t *testing.T, rule core.RecurringRule) core.RecurringRule {
	t.Helper()
	if rule.Description == "" {
		rule.Description = "rule"
	}
	if rule.Amount.Cents == 0 {
		rule.Amount = core.Money{Cents: 1000}
	}
	if rule.CategoryID == "" {
		rule.CategoryID = "home"
	}
	added, err := f.scheduler.AddRule(context.Background(), rule)
	require.NoError(t, err)
	return added
}

func datesOf(txns []core.Transaction) []string {
	var out []string
	for _, t := range txns {
		out = append(out, t.Date.String())
	}
	return out
}

func TestEvaluateCatchesUpWeeklyAutoPay(t *testing.T) {
	f := newFixture(t)
	rule := f.addRule(t, core.RecurringRule{
		Frequency: core.Weekly, NextDueDate: core.NewDate(2024, 1, 1), AutoPay: true,
		CategoryID: "food", SubcategoryID: "groceries", Tags: []string{"weekly"},
	})

	result, err := f.scheduler.Evaluate(context.Background(), core.NewDate(2024, 1, 22))
	require.NoError(t, err)

	assert.Equal(t, []string{"2024-01-01", "2024-01-08", "2024-01-15", "2024-01-22"}, datesOf(result.Materialized))
	for _, txn := range result.Materialized {
		assert.Equal(t, rule.Amount, txn.Amount)
		assert.Equal(t, "food", txn.CategoryID)
		assert.Equal(t, "groceries", txn.SubcategoryID)
		assert.Equal(t, []string{"weekly"}, txn.Tags)
	}

	got, _ := f.book.Snapshot().Rule(rule.ID)
	assert.Equal(t, core.NewDate(2024, 1, 29), got.NextDueDate)
	assert.Len(t, f.book.Snapshot().TransactionsByCategory("food"), 4)
	requireConsistent(t, f.book)
}

func TestEvaluateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, core.RecurringRule{Frequency: core.Weekly, NextDueDate: core.NewDate(2024, 1, 1), AutoPay: true})
	today := core.NewDate(2024, 1, 22)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.scheduler.Evaluate(context.Background(), today)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	again, err := f.scheduler.Evaluate(context.Background(), today)
	require.NoError(t, err)
	assert.Empty(t, again.Materialized)
	assert.Len(t, f.book.Snapshot().TransactionsByCategory("home"), 4)
}

func TestEvaluateReportsManualAndUpcomingRules(t *testing.T) {
	f := newFixture(t)
	today := core.NewDate(2024, 1, 22)

	manualDue := f.addRule(t, core.RecurringRule{ID: "b-manual", Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 1, 20)})
	manualToday := f.addRule(t, core.RecurringRule{ID: "a-manual", Frequency: core.Monthly, NextDueDate: today})
	f.addRule(t, core.RecurringRule{ID: "manual-later", Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 1, 25)})
	soon := f.addRule(t, core.RecurringRule{ID: "auto-soon", Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 1, 29), AutoPay: true})
	sooner := f.addRule(t, core.RecurringRule{ID: "auto-sooner", Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 1, 23), AutoPay: true})
	f.addRule(t, core.RecurringRule{ID: "auto-far", Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 1, 30), AutoPay: true})

	result, err := f.scheduler.Evaluate(context.Background(), today)
	require.NoError(t, err)
	assert.Empty(t, result.Materialized)

	var approval []string
	for _, r := range result.AwaitingApproval {
		approval = append(approval, r.ID)
	}
	assert.Equal(t, []string{manualToday.ID, manualDue.ID}, approval)

	var upcoming []string
	for _, r := range result.Upcoming {
		upcoming = append(upcoming, r.ID)
	}
	assert.Equal(t, []string{sooner.ID, soon.ID}, upcoming)

	assert.Equal(t, result.AwaitingApproval, f.scheduler.DueForApproval(today))
	assert.Equal(t, result.Upcoming, f.scheduler.UpcomingAuto(today))

	// Manual rules are never written by evaluation.
	got, _ := f.book.Snapshot().Rule(manualDue.ID)
	assert.Equal(t, core.NewDate(2024, 1, 20), got.NextDueDate)
}

func TestUpcomingWindowOption(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.book, discardLogger(), WithUpcomingWindow(30))
	f.addRule(t, core.RecurringRule{ID: "far", Frequency: core.Yearly, NextDueDate: core.NewDate(2024, 2, 15), AutoPay: true})

	assert.Len(t, s.UpcomingAuto(core.NewDate(2024, 1, 22)), 1)
	assert.Empty(t, f.scheduler.UpcomingAuto(core.NewDate(2024, 1, 22)))
}

func TestSetUpcomingWindow(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, core.RecurringRule{ID: "far", Frequency: core.Yearly, NextDueDate: core.NewDate(2024, 2, 15), AutoPay: true})
	today := core.NewDate(2024, 1, 22)

	require.NoError(t, f.scheduler.SetUpcomingWindow(30))
	assert.Equal(t, 30, f.scheduler.UpcomingWindow())
	assert.Len(t, f.scheduler.UpcomingAuto(today), 1)

	assert.ErrorIs(t, f.scheduler.SetUpcomingWindow(0), core.ErrValidation)
	assert.ErrorIs(t, f.scheduler.SetUpcomingWindow(MaxUpcomingWindowDays+1), core.ErrValidation)
	assert.Equal(t, 30, f.scheduler.UpcomingWindow())
}

func TestEvaluateStopsAtCatchUpLimit(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(f.book, discardLogger(), WithCatchUpLimit(3))
	rule := f.addRule(t, core.RecurringRule{Frequency: core.Weekly, NextDueDate: core.NewDate(2023, 12, 4), AutoPay: true})
	today := core.NewDate(2024, 1, 22)

	result, err := s.Evaluate(context.Background(), today)
	require.ErrorIs(t, err, ErrCatchUpLimit)
	assert.Equal(t, []string{"2023-12-04", "2023-12-11", "2023-12-18"}, datesOf(result.Materialized))
	got, _ := f.book.Snapshot().Rule(rule.ID)
	assert.Equal(t, core.NewDate(2023, 12, 25), got.NextDueDate)

	result, err = s.Evaluate(context.Background(), today)
	require.ErrorIs(t, err, ErrCatchUpLimit)
	assert.Equal(t, []string{"2023-12-25", "2024-01-01", "2024-01-08"}, datesOf(result.Materialized))

	result, err = s.Evaluate(context.Background(), today)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-15", "2024-01-22"}, datesOf(result.Materialized))
	assert.Len(t, f.book.Snapshot().TransactionsByCategory("home"), 8)
	requireConsistent(t, f.book)
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	today := core.NewDate(2024, 1, 22)

	tests := []struct {
		name string
		rule core.RecurringRule
		want DueState
	}{
		{"overdue manual", core.RecurringRule{NextDueDate: core.NewDate(2024, 1, 1)}, Overdue},
		{"due auto", core.RecurringRule{NextDueDate: today, AutoPay: true}, Due},
		{"upcoming auto", core.RecurringRule{NextDueDate: core.NewDate(2024, 1, 29), AutoPay: true}, Upcoming},
		{"manual in window is dormant", core.RecurringRule{NextDueDate: core.NewDate(2024, 1, 25)}, Dormant},
		{"auto beyond window", core.RecurringRule{NextDueDate: core.NewDate(2024, 1, 30), AutoPay: true}, Dormant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.scheduler.Classify(tt.rule, today))
		})
	}
}

func TestProcessAdvancesExactlyOnePeriod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rule := f.addRule(t, core.RecurringRule{Frequency: core.Monthly, NextDueDate: core.NewDate(2023, 10, 31)})

	txn, err := f.scheduler.Process(ctx, rule.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2023, 10, 31), txn.Date)
	assert.Equal(t, rule.Amount, txn.Amount)

	got, _ := f.book.Snapshot().Rule(rule.ID)
	assert.Equal(t, core.NewDate(2023, 11, 30), got.NextDueDate, "one period only, even though many are overdue")

	override := core.Money{Cents: 777}
	txn, err = f.scheduler.Process(ctx, rule.ID, &override)
	require.NoError(t, err)
	assert.Equal(t, override, txn.Amount)
	assert.Equal(t, core.NewDate(2023, 11, 30), txn.Date)

	_, err = f.scheduler.Process(ctx, "missing", nil)
	assert.ErrorIs(t, err, core.ErrNotFound)
	bad := core.Money{Cents: -1}
	_, err = f.scheduler.Process(ctx, rule.ID, &bad)
	assert.ErrorIs(t, err, core.ErrValidation)
	requireConsistent(t, f.book)
}

func TestSkipNeverCreatesTransactions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	tests := []struct {
		frequency core.Frequency
		due       core.Date
		want      core.Date
	}{
		{core.Weekly, core.NewDate(2024, 1, 29), core.NewDate(2024, 2, 5)},
		{core.Monthly, core.NewDate(2024, 1, 31), core.NewDate(2024, 2, 29)},
		{core.Yearly, core.NewDate(2024, 2, 29), core.NewDate(2025, 2, 28)},
	}
	for _, tt := range tests {
		for _, auto := range []bool{false, true} {
			rule := f.addRule(t, core.RecurringRule{Frequency: tt.frequency, NextDueDate: tt.due, AutoPay: auto})
			before, _, _ := f.book.Snapshot().Counts()

			skipped, err := f.scheduler.Skip(ctx, rule.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, skipped.NextDueDate)

			after, _, _ := f.book.Snapshot().Counts()
			assert.Equal(t, before, after)
		}
	}

	_, err := f.scheduler.Skip(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestRuleCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	rule := f.addRule(t, core.RecurringRule{Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 3, 1), CategoryID: "salary", Kind: core.KindExpense})
	assert.Equal(t, core.KindIncome, rule.Kind, "kind follows the category")

	_, err := f.scheduler.AddRule(ctx, core.RecurringRule{Description: "x", Amount: core.Money{Cents: 1}, Frequency: "daily", NextDueDate: core.NewDate(2024, 1, 1), CategoryID: "home"})
	assert.ErrorIs(t, err, core.ErrValidation)
	_, err = f.scheduler.AddRule(ctx, core.RecurringRule{Description: "x", Amount: core.Money{Cents: 1}, Frequency: core.Weekly, NextDueDate: core.NewDate(2024, 1, 1), CategoryID: "food", SubcategoryID: "nope"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	rule.Description = "Salary"
	rule.NextDueDate = core.Date{}
	rule.AutoPay = true
	updated, err := f.scheduler.UpdateRule(ctx, rule)
	require.NoError(t, err)
	assert.Equal(t, core.NewDate(2024, 3, 1), updated.NextDueDate)
	assert.True(t, updated.AutoPay)

	rule.NextDueDate = core.NewDate(2024, 2, 1)
	_, err = f.scheduler.UpdateRule(ctx, rule)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.scheduler.UpdateRule(ctx, core.RecurringRule{ID: "missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	txn, err := f.scheduler.Process(ctx, rule.ID, nil)
	require.NoError(t, err)
	require.NoError(t, f.scheduler.DeleteRule(ctx, rule.ID))
	_, ok := f.book.Snapshot().Transaction(txn.ID)
	assert.True(t, ok, "deleting a rule keeps what it created")
	assert.ErrorIs(t, f.scheduler.DeleteRule(ctx, rule.ID), core.ErrNotFound)
}

type failingPersister struct{ err error }

func (p failingPersister) Apply(context.Context, ledger.ChangeSet) error { return p.err }

func TestStorageFailureIsPropagatedWithoutEffect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rule := f.addRule(t, core.RecurringRule{Frequency: core.Weekly, NextDueDate: core.NewDate(2024, 1, 1), AutoPay: true})

	state, err := ledger.Build(f.book.Snapshot().Categories(), nil, f.book.Snapshot().Rules())
	require.NoError(t, err)
	broken := ledger.New(state, ledger.WithPersister(failingPersister{errors.New("read-only database")}))
	s := NewScheduler(broken, discardLogger())

	_, err = s.Process(ctx, rule.ID, nil)
	assert.ErrorIs(t, err, core.ErrStorage)

	result, err := s.Evaluate(ctx, core.NewDate(2024, 1, 22))
	assert.ErrorIs(t, err, core.ErrStorage)
	assert.Empty(t, result.Materialized)

	got, _ := broken.Snapshot().Rule(rule.ID)
	assert.Equal(t, core.NewDate(2024, 1, 1), got.NextDueDate)
	count, _, _ := broken.Snapshot().Counts()
	assert.Zero(t, count)
}
