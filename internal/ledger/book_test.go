package ledger

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"conti/internal/core"
)

type recordingPersister struct {
	mu   sync.Mutex
	sets []ChangeSet
	fail error
}

func (p *recordingPersister) Apply(_ context.Context, cs ChangeSet) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.sets = append(p.sets, cs)
	return nil
}

type recordingSink struct {
	events []Event
	fail   error
}

func (s *recordingSink) Publish(_ context.Context, ev Event) error {
	s.events = append(s.events, ev)
	return s.fail
}

func seededState(t *testing.T) *State {
	t.Helper()
	state, err := Build(
		[]core.Category{
			{ID: "food", Name: "Food", Kind: core.KindExpense, Subcategories: []core.Subcategory{{ID: "groceries", Name: "Groceries"}}},
			{ID: "salary", Name: "Salary", Kind: core.KindIncome},
		},
		[]core.Transaction{
			{ID: "t1", Description: "Market", Amount: core.Money{Cents: 1250}, Date: core.NewDate(2024, 1, 5), Kind: core.KindExpense, CategoryID: "food", SubcategoryID: "groceries"},
		},
		[]core.RecurringRule{
			{ID: "r1", Description: "Pay", Amount: core.Money{Cents: 100000}, Kind: core.KindIncome, Frequency: core.Monthly, NextDueDate: core.NewDate(2024, 2, 1), CategoryID: "salary"},
		},
	)
	require.NoError(t, err)
	return state
}

func fixedClock() time.Time {
	return time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC)
}

func TestUpdateCommitsAndPersists(t *testing.T) {
	p := &recordingPersister{}
	sink := &recordingSink{}
	b := New(seededState(t), WithPersister(p), WithEventSink(sink), WithClock(fixedClock))

	err := b.Update(context.Background(), "add", func(tx *Tx) error {
		assert.Equal(t, core.NewDate(2024, 1, 10), tx.Today())
		tx.Transactions().Put(core.Transaction{
			ID: "t2", Description: "Bakery", Amount: core.Money{Cents: 300},
			Date: tx.Today(), Kind: core.KindExpense, CategoryID: "food",
		})
		tx.Transactions().Delete("t1")
		return nil
	})
	require.NoError(t, err)

	snap := b.Snapshot()
	assert.Equal(t, int64(1), snap.Version())
	_, ok := snap.Transaction("t1")
	assert.False(t, ok)
	_, ok = snap.Transaction("t2")
	assert.True(t, ok)

	require.Len(t, p.sets, 1)
	cs := p.sets[0]
	assert.Equal(t, int64(1), cs.Version)
	require.Len(t, cs.Transactions, 1)
	assert.Equal(t, "t2", cs.Transactions[0].ID)
	assert.Equal(t, []string{"t1"}, cs.DeletedTransactions)
	assert.Empty(t, cs.Categories)

	require.Len(t, sink.events, 1)
	assert.Equal(t, "add", sink.events[0].Operation)
	assert.Equal(t, []string{"t2"}, sink.events[0].Transactions)
}

func TestUpdateErrorDiscardsWorkingCopy(t *testing.T) {
	p := &recordingPersister{}
	b := New(seededState(t), WithPersister(p))
	before := b.Snapshot()

	boom := errors.New("boom")
	err := b.Update(context.Background(), "broken", func(tx *Tx) error {
		tx.Transactions().Delete("t1")
		tx.Categories().Delete("food")
		return boom
	})
	require.ErrorIs(t, err, boom)

	after := b.Snapshot()
	assert.Equal(t, before.Version(), after.Version())
	_, ok := after.Transaction("t1")
	assert.True(t, ok)
	_, ok = after.Category("food")
	assert.True(t, ok)
	assert.Empty(t, p.sets)
}

func TestUpdatePersistFailureKeepsCommittedState(t *testing.T) {
	p := &recordingPersister{fail: errors.New("disk full")}
	b := New(seededState(t), WithPersister(p))

	err := b.Update(context.Background(), "delete", func(tx *Tx) error {
		tx.Transactions().Delete("t1")
		return nil
	})
	require.ErrorIs(t, err, core.ErrStorage)

	_, ok := b.Snapshot().Transaction("t1")
	assert.True(t, ok)
	assert.Equal(t, int64(0), b.Snapshot().Version())
}

func TestUpdateWithoutChangesDoesNotCommit(t *testing.T) {
	p := &recordingPersister{}
	b := New(seededState(t), WithPersister(p))

	require.NoError(t, b.Update(context.Background(), "noop", func(tx *Tx) error { return nil }))
	assert.Equal(t, int64(0), b.Snapshot().Version())
	assert.Empty(t, p.sets)
}

func TestSinkFailureDoesNotFailCommit(t *testing.T) {
	sink := &recordingSink{fail: errors.New("broker down")}
	b := New(seededState(t), WithEventSink(sink))

	err := b.Update(context.Background(), "delete", func(tx *Tx) error {
		tx.Rules().Delete("r1")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.Snapshot().Version())
	require.Len(t, sink.events, 1)
	assert.Equal(t, []string{"r1"}, sink.events[0].DeletedRules)
}

func TestSnapshotIsImmutable(t *testing.T) {
	b := New(seededState(t))
	old := b.Snapshot()

	require.NoError(t, b.Update(context.Background(), "rename", func(tx *Tx) error {
		cat, _ := tx.Categories().Get("food")
		cat.Name = "Groceries & food"
		tx.Categories().Put(cat)
		return nil
	}))

	cat, _ := old.Category("food")
	assert.Equal(t, "Food", cat.Name)
	cat, _ = b.Snapshot().Category("food")
	assert.Equal(t, "Groceries & food", cat.Name)
}

func TestSubscribeReceivesCommits(t *testing.T) {
	b := New(seededState(t))
	ch, cancel := b.Subscribe(1)
	defer cancel()

	first := <-ch
	assert.Equal(t, int64(0), first.Version())

	for i := 0; i < 3; i++ {
		id := []string{"a", "b", "c"}[i]
		require.NoError(t, b.Update(context.Background(), "add", func(tx *Tx) error {
			tx.Transactions().Put(core.Transaction{
				ID: id, Description: id, Amount: core.Money{Cents: 1},
				Date: core.NewDate(2024, 1, 1), Kind: core.KindIncome, CategoryID: "salary",
			})
			return nil
		}))
	}

	// Only the newest snapshot is kept for a slow reader with a buffer of one.
	latest := <-ch
	assert.Equal(t, int64(3), latest.Version())

	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestReplaceSwapsEverything(t *testing.T) {
	p := &recordingPersister{}
	b := New(seededState(t), WithPersister(p))

	next, err := Build([]core.Category{{ID: "other", Name: "Other", Kind: core.KindExpense}}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, b.Replace(context.Background(), "restore", next))

	snap := b.Snapshot()
	tx, cats, rules := snap.Counts()
	assert.Equal(t, 0, tx)
	assert.Equal(t, 1, cats)
	assert.Equal(t, 0, rules)

	require.Len(t, p.sets, 1)
	assert.True(t, p.sets[0].Reset)
	assert.Len(t, p.sets[0].Categories, 1)
}

func TestReplaceInstallsFallbacks(t *testing.T) {
	p := &recordingPersister{}
	b := New(seededState(t), WithPersister(p), WithFallbacks(Fallbacks{ExpenseCategoryID: "food"}))

	next, err := Build([]core.Category{
		{ID: "misc", Name: "Misc", Kind: core.KindExpense},
		{ID: "pay", Name: "Pay", Kind: core.KindIncome},
	}, nil, nil)
	require.NoError(t, err)

	p.fail = errors.New("disk full")
	err = b.Replace(context.Background(), "restore", next, ReplaceFallbacks(Fallbacks{ExpenseCategoryID: "misc"}))
	require.ErrorIs(t, err, core.ErrStorage)
	assert.Equal(t, "food", b.Fallbacks().ExpenseCategoryID, "a failed replace keeps the old fallbacks")

	p.fail = nil
	want := Fallbacks{IncomeCategoryID: "pay", ExpenseCategoryID: "misc"}
	require.NoError(t, b.Replace(context.Background(), "restore", next, ReplaceFallbacks(want)))
	assert.Equal(t, want, b.Fallbacks())

	var seen Fallbacks
	require.NoError(t, b.Update(context.Background(), "read", func(tx *Tx) error {
		seen = tx.Fallbacks()
		return nil
	}))
	assert.Equal(t, want, seen)
}

func TestConcurrentUpdatesAreSerialized(t *testing.T) {
	var n int
	gen := func() string {
		n++
		return "id-" + strconv.Itoa(n)
	}
	b := New(seededState(t), WithIDGenerator(gen))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = b.Update(context.Background(), "add", func(tx *Tx) error {
				tx.Transactions().Put(core.Transaction{
					ID: tx.NewID(), Description: "x", Amount: core.Money{Cents: 1},
					Date: core.NewDate(2024, 1, 1), Kind: core.KindExpense, CategoryID: "food",
				})
				return nil
			})
		}()
	}
	wg.Wait()

	snap := b.Snapshot()
	assert.Equal(t, int64(50), snap.Version())
	count, _, _ := snap.Counts()
	assert.Equal(t, 51, count)
}

func TestBuildRejectsDuplicates(t *testing.T) {
	cat := core.Category{ID: "x", Name: "X", Kind: core.KindExpense}
	_, err := Build([]core.Category{cat, cat}, nil, nil)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestCheckIntegrity(t *testing.T) {
	state := seededState(t)
	assert.Empty(t, CheckIntegrity(New(state).Snapshot()))

	broken, err := Build(
		[]core.Category{{ID: "food", Name: "Food", Kind: core.KindExpense}},
		[]core.Transaction{
			{ID: "orphan", Description: "x", Amount: core.Money{Cents: 1}, Date: core.NewDate(2024, 1, 1), Kind: core.KindExpense, CategoryID: "gone"},
			{ID: "badsub", Description: "x", Amount: core.Money{Cents: 1}, Date: core.NewDate(2024, 1, 1), Kind: core.KindExpense, CategoryID: "food", SubcategoryID: "nope"},
			{ID: "badkind", Description: "x", Amount: core.Money{Cents: 1}, Date: core.NewDate(2024, 1, 1), Kind: core.KindIncome, CategoryID: "food"},
		},
		nil,
	)
	require.NoError(t, err)

	violations := CheckIntegrity(New(broken).Snapshot())
	var ids []string
	for _, v := range violations {
		ids = append(ids, v.ID)
	}
	assert.ElementsMatch(t, []string{"orphan", "badsub", "badkind", ""}, ids)
}

func TestFallbacksFor(t *testing.T) {
	f := Fallbacks{IncomeCategoryID: "in", ExpenseCategoryID: "out"}
	assert.Equal(t, "in", f.For(core.KindIncome))
	assert.Equal(t, "out", f.For(core.KindExpense))
}
