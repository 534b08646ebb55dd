package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/log"
	"conti/internal/store"
)

const (
	// DefaultUpcomingWindowDays is how far ahead auto-pay rules count as upcoming.
	DefaultUpcomingWindowDays = 7
	MaxUpcomingWindowDays     = 366

	// DefaultCatchUpLimit bounds the occurrences one rule may materialize in a
	// single evaluation. The next evaluation resumes where it stopped.
	DefaultCatchUpLimit = 1000
)

// ErrCatchUpLimit is reported for a rule that hit the catch-up limit.
var ErrCatchUpLimit = errors.New("catch-up limit reached")

// DueState is where a rule stands relative to a given day.
type DueState int

const (
	Dormant DueState = iota
	Upcoming
	Due
	Overdue
)

func (s DueState) String() string {
	switch s {
	case Upcoming:
		return "upcoming"
	case Due:
		return "due"
	case Overdue:
		return "overdue"
	}
	return "dormant"
}

// EvaluationResult is the outcome of one scheduler tick.
type EvaluationResult struct {
	Materialized     []core.Transaction
	AwaitingApproval []core.RecurringRule
	Upcoming         []core.RecurringRule
}

// Scheduler turns recurring rules into transactions.
type Scheduler struct {
	book         *ledger.Book
	logger       *log.Logger
	cmds         *log.CommandLogger
	windowDays   atomic.Int64
	catchUpLimit int

	// evalMu keeps ticks from overlapping.
	evalMu sync.Mutex
}

type SchedulerOption func(*Scheduler)

// WithUpcomingWindow sets the look-ahead of UpcomingAuto in days.
func WithUpcomingWindow(days int) SchedulerOption {
	return func(s *Scheduler) {
		if days > 0 && days <= MaxUpcomingWindowDays {
			s.windowDays.Store(int64(days))
		}
	}
}

// WithCatchUpLimit sets how many occurrences of one rule an evaluation may
// materialize before moving on.
func WithCatchUpLimit(n int) SchedulerOption {
	return func(s *Scheduler) {
		if n > 0 {
			s.catchUpLimit = n
		}
	}
}

func NewScheduler(book *ledger.Book, logger *log.Logger, opts ...SchedulerOption) *Scheduler {
	logger = logger.WithComponent(log.ComponentScheduler)
	s := &Scheduler{
		book:         book,
		logger:       logger,
		cmds:         log.NewCommandLogger(logger),
		catchUpLimit: DefaultCatchUpLimit,
	}
	s.windowDays.Store(DefaultUpcomingWindowDays)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpcomingWindow is the look-ahead of UpcomingAuto in days.
func (s *Scheduler) UpcomingWindow() int {
	return int(s.windowDays.Load())
}

// SetUpcomingWindow changes the look-ahead of UpcomingAuto, e.g. after a
// backup restore.
func (s *Scheduler) SetUpcomingWindow(days int) error {
	if days < 1 || days > MaxUpcomingWindowDays {
		return core.Invalid("upcomingWindowDays", fmt.Sprintf("must be between 1 and %d", MaxUpcomingWindowDays))
	}
	s.windowDays.Store(int64(days))
	s.logger.Info("upcoming window changed", "window_days", days)
	return nil
}

// Classify reports the due state of rule on today.
func (s *Scheduler) Classify(rule core.RecurringRule, today core.Date) DueState {
	switch {
	case rule.NextDueDate.Before(today):
		return Overdue
	case rule.NextDueDate.Equal(today):
		return Due
	case rule.AutoPay && !rule.NextDueDate.After(today.AddDays(s.UpcomingWindow())):
		return Upcoming
	}
	return Dormant
}

// Evaluate materializes every occurrence of auto-pay rules up to and including
// today, one commit per occurrence, and reports the manual rules awaiting
// approval and the auto-pay rules coming up. A failing rule does not stop the
// others; all failures are returned joined.
func (s *Scheduler) Evaluate(ctx context.Context, today core.Date) (EvaluationResult, error) {
	s.evalMu.Lock()
	defer s.evalMu.Unlock()

	var (
		result EvaluationResult
		errs   []error
	)
	for _, rule := range s.book.Snapshot().Rules() {
		if !rule.AutoPay || rule.NextDueDate.After(today) {
			continue
		}
		created, err := s.catchUp(ctx, rule.ID, today)
		result.Materialized = append(result.Materialized, created...)
		if err != nil {
			errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
		}
	}

	snap := s.book.Snapshot()
	result.AwaitingApproval = dueForApproval(snap, today)
	result.Upcoming = s.upcomingAuto(snap, today)

	fields := log.NewFields()
	fields[log.FieldCount] = len(result.Materialized)
	fields[log.FieldDueDate] = today.String()
	fields["awaiting_approval"] = len(result.AwaitingApproval)
	fields["upcoming"] = len(result.Upcoming)
	s.logger.InfoContext(ctx, "recurring evaluation complete", fields.ToSlice()...)

	return result, errors.Join(errs...)
}

// catchUp materializes the rule's occurrences while it stays due, at most
// catchUpLimit of them. Each occurrence re-reads the rule inside its own
// commit, so a concurrent skip, process or edit is never overwritten.
func (s *Scheduler) catchUp(ctx context.Context, ruleID string, today core.Date) ([]core.Transaction, error) {
	var created []core.Transaction
	for {
		var (
			t       core.Transaction
			done    bool
			limited bool
		)
		err := s.book.Update(ctx, log.OpAutoPay, func(tx *ledger.Tx) error {
			rule, ok := tx.Rules().Get(ruleID)
			if !ok || !rule.AutoPay || rule.NextDueDate.After(today) {
				done = true
				return nil
			}
			if len(created) >= s.catchUpLimit {
				limited = true
				return nil
			}
			var err error
			t, _, err = materialize(tx, rule, rule.Amount)
			return err
		})
		if err != nil {
			s.cmds.Rejected(ctx, log.OpAutoPay, err, log.NewFields().WithRule(core.RecurringRule{ID: ruleID}))
			return created, err
		}
		if done {
			return created, nil
		}
		if limited {
			s.logger.WarnContext(ctx, "catch-up limit reached", log.FieldRuleID, ruleID, log.FieldCount, len(created))
			return created, fmt.Errorf("%w after %d occurrences", ErrCatchUpLimit, len(created))
		}
		fields := log.NewFields().WithTransaction(t)
		fields[log.FieldRuleID] = ruleID
		s.cmds.Committed(ctx, log.OpAutoPay, fields)
		created = append(created, t)
	}
}

// Process materializes one occurrence at the rule's next due date, optionally
// with a different amount, and advances the rule by exactly one period.
func (s *Scheduler) Process(ctx context.Context, ruleID string, amountOverride *core.Money) (core.Transaction, error) {
	var t core.Transaction
	err := s.book.Update(ctx, log.OpProcessRule, func(tx *ledger.Tx) error {
		rule, ok := tx.Rules().Get(ruleID)
		if !ok {
			return core.NotFound("rule", ruleID)
		}
		amount := rule.Amount
		if amountOverride != nil {
			if err := amountOverride.Validate(); err != nil {
				return err
			}
			amount = *amountOverride
		}
		var err error
		t, _, err = materialize(tx, rule, amount)
		return err
	})
	fields := log.NewFields()
	fields[log.FieldRuleID] = ruleID
	if err != nil {
		s.cmds.Rejected(ctx, log.OpProcessRule, err, fields)
		return core.Transaction{}, err
	}
	s.cmds.Committed(ctx, log.OpProcessRule, fields.WithTransaction(t))
	return t, nil
}

// Skip advances the rule by exactly one period without creating a transaction.
func (s *Scheduler) Skip(ctx context.Context, ruleID string) (core.RecurringRule, error) {
	var rule core.RecurringRule
	err := s.book.Update(ctx, log.OpSkipRule, func(tx *ledger.Tx) error {
		var ok bool
		rule, ok = tx.Rules().Get(ruleID)
		if !ok {
			return core.NotFound("rule", ruleID)
		}
		next, err := NextDueDate(rule)
		if err != nil {
			return err
		}
		rule.NextDueDate = next
		tx.Rules().Put(rule)
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldRuleID] = ruleID
	if err != nil {
		s.cmds.Rejected(ctx, log.OpSkipRule, err, fields)
		return core.RecurringRule{}, err
	}
	s.cmds.Committed(ctx, log.OpSkipRule, fields.WithRule(rule))
	return rule, nil
}

// DueForApproval lists manual rules that are due or overdue on today, by id.
func (s *Scheduler) DueForApproval(today core.Date) []core.RecurringRule {
	return dueForApproval(s.book.Snapshot(), today)
}

// UpcomingAuto lists auto-pay rules falling due after today and within the
// upcoming window, earliest first.
func (s *Scheduler) UpcomingAuto(today core.Date) []core.RecurringRule {
	return s.upcomingAuto(s.book.Snapshot(), today)
}

func dueForApproval(snap ledger.Snapshot, today core.Date) []core.RecurringRule {
	var out []core.RecurringRule
	for _, rule := range snap.Rules() {
		if !rule.AutoPay && !rule.NextDueDate.After(today) {
			out = append(out, rule)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Scheduler) upcomingAuto(snap ledger.Snapshot, today core.Date) []core.RecurringRule {
	limit := today.AddDays(s.UpcomingWindow())
	var out []core.RecurringRule
	for _, rule := range snap.Rules() {
		if rule.AutoPay && rule.NextDueDate.After(today) && !rule.NextDueDate.After(limit) {
			out = append(out, rule)
		}
	}
	store.SortRules(out)
	return out
}

// AddRule creates a recurring rule. The kind follows the category.
func (s *Scheduler) AddRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	rule = rule.Clone()
	err := s.book.Update(ctx, log.OpAddRule, func(tx *ledger.Tx) error {
		if rule.ID == "" {
			rule.ID = tx.NewID()
		} else if tx.Rules().Has(rule.ID) {
			return core.Invalid("id", "rule "+rule.ID+" already exists")
		}
		if err := placeRule(tx, &rule); err != nil {
			return err
		}
		tx.Rules().Put(rule)
		return nil
	})
	fields := log.NewFields().WithRule(rule)
	if err != nil {
		s.cmds.Rejected(ctx, log.OpAddRule, err, fields)
		return core.RecurringRule{}, err
	}
	s.cmds.Committed(ctx, log.OpAddRule, fields)
	return rule, nil
}

// UpdateRule replaces a rule's fields. A zero NextDueDate keeps the current
// one; a NextDueDate earlier than the current one is rejected.
func (s *Scheduler) UpdateRule(ctx context.Context, rule core.RecurringRule) (core.RecurringRule, error) {
	rule = rule.Clone()
	err := s.book.Update(ctx, log.OpUpdateRule, func(tx *ledger.Tx) error {
		current, ok := tx.Rules().Get(rule.ID)
		if !ok {
			return core.NotFound("rule", rule.ID)
		}
		if rule.NextDueDate.IsZero() {
			rule.NextDueDate = current.NextDueDate
		} else if rule.NextDueDate.Before(current.NextDueDate) {
			return core.Invalid("nextDueDate", "cannot move before "+current.NextDueDate.String())
		}
		if err := placeRule(tx, &rule); err != nil {
			return err
		}
		tx.Rules().Put(rule)
		return nil
	})
	fields := log.NewFields().WithRule(rule)
	if err != nil {
		s.cmds.Rejected(ctx, log.OpUpdateRule, err, fields)
		return core.RecurringRule{}, err
	}
	s.cmds.Committed(ctx, log.OpUpdateRule, fields)
	return rule, nil
}

// DeleteRule removes a rule. Transactions it already created stay.
func (s *Scheduler) DeleteRule(ctx context.Context, ruleID string) error {
	err := s.book.Update(ctx, log.OpDeleteRule, func(tx *ledger.Tx) error {
		if !tx.Rules().Delete(ruleID) {
			return core.NotFound("rule", ruleID)
		}
		return nil
	})
	fields := log.NewFields()
	fields[log.FieldRuleID] = ruleID
	if err != nil {
		s.cmds.Rejected(ctx, log.OpDeleteRule, err, fields)
		return err
	}
	s.cmds.Committed(ctx, log.OpDeleteRule, fields)
	return nil
}

func placeRule(tx *ledger.Tx, rule *core.RecurringRule) error {
	rule.Description = strings.TrimSpace(rule.Description)
	cat, ok := tx.Categories().Get(rule.CategoryID)
	if !ok {
		if strings.TrimSpace(rule.CategoryID) == "" {
			return core.ErrEmptyCategory
		}
		return core.NotFound("category", rule.CategoryID)
	}
	rule.Kind = cat.Kind
	if rule.SubcategoryID != "" {
		if _, ok := cat.Subcategory(rule.SubcategoryID); !ok {
			return core.NotFound("subcategory", rule.SubcategoryID)
		}
	}
	return rule.Validate()
}

// materialize writes the rule's occurrence at its next due date and advances
// the rule by one period, both in tx.
func materialize(tx *ledger.Tx, rule core.RecurringRule, amount core.Money) (core.Transaction, core.RecurringRule, error) {
	next, err := NextDueDate(rule)
	if err != nil {
		return core.Transaction{}, rule, err
	}

	t := rule.Occurrence(tx.NewID(), amount)
	cat, ok := tx.Categories().Get(t.CategoryID)
	if !ok {
		return core.Transaction{}, rule, core.NotFound("category", t.CategoryID)
	}
	t.Kind = cat.Kind
	if _, owned := cat.Subcategory(t.SubcategoryID); !owned {
		t.SubcategoryID = ensureFallbackSubcategory(tx, cat, "")
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, rule, err
	}
	tx.Transactions().Put(t)

	rule.NextDueDate = next
	tx.Rules().Put(rule)
	return t, rule, nil
}
