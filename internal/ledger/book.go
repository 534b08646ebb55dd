package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"conti/internal/core"
	"conti/internal/log"
	"conti/internal/store"
)

// Fallbacks names the preferred deletion fallback category per kind. Empty ids
// mean "find or create a category named Other".
type Fallbacks struct {
	IncomeCategoryID  string `json:"incomeCategoryId,omitempty"`
	ExpenseCategoryID string `json:"expenseCategoryId,omitempty"`
}

// For returns the configured fallback id for kind.
func (f Fallbacks) For(kind core.Kind) string {
	if kind == core.KindIncome {
		return f.IncomeCategoryID
	}
	return f.ExpenseCategoryID
}

// Book is the single writer over the ledger state.
type Book struct {
	mu      sync.Mutex // serializes Update and Replace
	current atomic.Pointer[Snapshot]

	fallbacks atomic.Pointer[Fallbacks]
	persister Persister
	sinks     []EventSink
	logger    *log.Logger
	clock     func() time.Time
	newID     func() string
	version   int64

	subsMu  sync.Mutex
	subs    map[uint64]chan Snapshot
	nextSub uint64
}

// Option configures a Book.
type Option func(*Book)

func WithPersister(p Persister) Option {
	return func(b *Book) { b.persister = p }
}

// WithEventSink adds a sink that receives an Event after every commit.
func WithEventSink(s EventSink) Option {
	return func(b *Book) { b.sinks = append(b.sinks, s) }
}

func WithLogger(l *log.Logger) Option {
	return func(b *Book) { b.logger = l.WithComponent(log.ComponentLedger) }
}

func WithFallbacks(f Fallbacks) Option {
	return func(b *Book) { b.fallbacks.Store(&f) }
}

// WithClock overrides the wall clock used for commit timestamps and Tx.Today.
func WithClock(now func() time.Time) Option {
	return func(b *Book) { b.clock = now }
}

// WithIDGenerator overrides how fresh record ids are minted.
func WithIDGenerator(gen func() string) Option {
	return func(b *Book) { b.newID = gen }
}

// WithVersion sets the version of the initial state, usually the last
// version a Persister reported.
func WithVersion(v int64) Option {
	return func(b *Book) { b.version = v }
}

// New returns a Book whose committed state is initial (version 0 unless
// WithVersion says otherwise). A nil
// initial state means an empty ledger.
func New(initial *State, opts ...Option) *Book {
	if initial == nil {
		initial = NewState()
	}
	b := &Book{
		logger: log.Discard(),
		clock:  time.Now,
		newID:  uuid.NewString,
		subs:   make(map[uint64]chan Snapshot),
	}
	b.fallbacks.Store(&Fallbacks{})
	for _, opt := range opts {
		opt(b)
	}
	initial.clearChanges()
	b.current.Store(&Snapshot{state: initial, version: b.version, committedAt: b.clock().UTC()})
	return b
}

// Snapshot returns the latest committed state.
func (b *Book) Snapshot() Snapshot {
	return *b.current.Load()
}

func (b *Book) Fallbacks() Fallbacks {
	return *b.fallbacks.Load()
}

// SetFallbacks changes the fallback configuration for subsequent commands.
func (b *Book) SetFallbacks(f Fallbacks) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fallbacks.Store(&f)
}

// Today is the current date according to the Book's clock.
func (b *Book) Today() core.Date {
	return core.DateOf(b.clock())
}

// Update runs fn against a private working copy of the committed state. When fn
// returns nil and changed something, the changes are persisted as one unit and
// then become the committed state; otherwise nothing is kept. Commands never
// interleave.
func (b *Book) Update(ctx context.Context, op string, fn func(*Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.current.Load()
	now := b.clock()
	tx := &Tx{
		ctx:       ctx,
		state:     base.state.clone(),
		fallbacks: *b.fallbacks.Load(),
		now:       now,
		newID:     b.newID,
	}
	if err := fn(tx); err != nil {
		return err
	}

	cs := tx.state.changeSet(base.version + 1)
	if cs.Empty() {
		return nil
	}
	return b.commit(ctx, op, tx.state, cs, now.UTC())
}

// ReplaceOption adjusts what Replace installs alongside the new state.
type ReplaceOption func(*replacement)

type replacement struct {
	fallbacks *Fallbacks
}

// ReplaceFallbacks installs f together with the replaced state, so no command
// sees the new ledger with the old fallbacks.
func ReplaceFallbacks(f Fallbacks) ReplaceOption {
	return func(r *replacement) { r.fallbacks = &f }
}

// Replace swaps the whole ledger for state, e.g. when restoring a backup.
func (b *Book) Replace(ctx context.Context, op string, state *State, opts ...ReplaceOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var repl replacement
	for _, opt := range opts {
		opt(&repl)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	base := b.current.Load()
	next := state.clone()
	if err := b.commit(ctx, op, next, next.fullChangeSet(base.version+1), b.clock().UTC()); err != nil {
		return err
	}
	if repl.fallbacks != nil {
		b.fallbacks.Store(repl.fallbacks)
	}
	return nil
}

func (b *Book) commit(ctx context.Context, op string, state *State, cs ChangeSet, at time.Time) error {
	if b.persister != nil {
		if err := b.persister.Apply(ctx, cs); err != nil {
			if !errors.Is(err, core.ErrStorage) {
				err = core.Storage(op, err)
			}
			b.logger.ErrorContext(ctx, "commit not persisted", log.FieldOperation, op, log.FieldVersion, cs.Version, log.FieldError, err)
			return err
		}
	}

	state.clearChanges()
	snap := &Snapshot{state: state, version: cs.Version, committedAt: at}
	b.current.Store(snap)

	b.logger.DebugContext(ctx, "commit", log.FieldOperation, op, log.FieldVersion, cs.Version)
	b.notify(*snap)
	b.publish(ctx, cs.event(op, at))
	return nil
}

// publish hands the event to every sink. A sink failure does not undo the
// commit; it is logged.
func (b *Book) publish(ctx context.Context, ev Event) {
	for _, s := range b.sinks {
		if err := s.Publish(ctx, ev); err != nil {
			b.logger.WarnContext(ctx, "event not published", log.FieldOperation, ev.Operation, log.FieldVersion, ev.Version, log.FieldError, err)
		}
	}
}

// Subscribe returns a channel receiving every committed snapshot, starting with
// the current one, and a function that cancels the subscription. A slow reader
// loses intermediate snapshots, never the latest one.
func (b *Book) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	b.subsMu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	ch <- *b.current.Load()
	b.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.subsMu.Lock()
			delete(b.subs, id)
			close(ch)
			b.subsMu.Unlock()
		})
	}
}

func (b *Book) notify(snap Snapshot) {
	b.subsMu.Lock()
	defer b.subsMu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Full: drop the oldest pending snapshot to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

// Tx is the working copy handed to an Update callback. It is only valid for
// the duration of the callback.
type Tx struct {
	ctx       context.Context
	state     *State
	fallbacks Fallbacks
	now       time.Time
	newID     func() string
}

func (tx *Tx) Context() context.Context { return tx.ctx }

func (tx *Tx) Transactions() *store.Ledger { return tx.state.transactions }

func (tx *Tx) Categories() *store.CategoryTree { return tx.state.categories }

func (tx *Tx) Rules() *store.RuleSet { return tx.state.rules }

func (tx *Tx) Fallbacks() Fallbacks { return tx.fallbacks }

// Today is the date the command runs on.
func (tx *Tx) Today() core.Date { return core.DateOf(tx.now) }

// NewID mints a fresh record id.
func (tx *Tx) NewID() string { return tx.newID() }
