// Package backup reads and writes the portable backup document: every category,
// transaction and recurring rule plus the settings needed to rebuild a ledger.
// Documents carry a schema version; older versions are migrated forward one
// step at a time when decoded.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/log"
	"conti/internal/services"
)

// CurrentVersion is the schema version written by Encode.
const CurrentVersion = 2

// ErrMalformed marks input that is not a JSON backup document at all. The
// decoder's own error is wrapped alongside it.
var ErrMalformed = errors.New("malformed backup document")

// Settings are the non-ledger values a restore needs.
type Settings struct {
	Fallbacks          ledger.Fallbacks `json:"fallbacks"`
	UpcomingWindowDays int              `json:"upcomingWindowDays,omitempty"`
}

// Document is a complete backup at CurrentVersion.
type Document struct {
	Version        int                  `json:"version"`
	Timestamp      time.Time            `json:"timestamp"`
	Categories     []core.Category      `json:"categories"`
	Transactions   []core.Transaction   `json:"transactions"`
	RecurringRules []core.RecurringRule `json:"recurringRules"`
	Settings       Settings             `json:"settings"`
}

// Export captures a snapshot as a document.
func Export(snap ledger.Snapshot, settings Settings, at time.Time) Document {
	return Document{
		Version:        CurrentVersion,
		Timestamp:      at.UTC(),
		Categories:     snap.Categories(),
		Transactions:   snap.Transactions(),
		RecurringRules: snap.Rules(),
		Settings:       settings,
	}
}

// Encode writes doc as indented JSON.
func Encode(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode backup: %w", err)
	}
	return nil
}

// Decode reads a document of any known version and returns it migrated to
// CurrentVersion.
func Decode(r io.Reader) (Document, error) {
	var raw map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return Document{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	version, err := documentVersion(raw)
	if err != nil {
		return Document{}, err
	}
	if version > CurrentVersion {
		return Document{}, core.Invalid("version", fmt.Sprintf("document version %d is newer than supported version %d", version, CurrentVersion))
	}
	for v := version; v < CurrentVersion; v++ {
		migrate, ok := migrations[v]
		if !ok {
			return Document{}, core.Invalid("version", fmt.Sprintf("no migration from version %d", v))
		}
		if err := migrate(raw); err != nil {
			return Document{}, fmt.Errorf("migrate backup from version %d: %w", v, err)
		}
		raw["version"] = v + 1
	}

	// Round-trip through JSON so typed decoding handles dates and amounts.
	buf, err := json.Marshal(raw)
	if err != nil {
		return Document{}, fmt.Errorf("re-encode backup: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(buf, &doc); err != nil {
		if core.IsValidation(err) {
			return Document{}, fmt.Errorf("backup contents: %w", err)
		}
		return Document{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return doc, nil
}

// State rebuilds the ledger collections held by the document.
func (d Document) State() (*ledger.State, error) {
	state, err := ledger.Build(d.Categories, d.Transactions, d.RecurringRules)
	if err != nil {
		return nil, fmt.Errorf("backup contents: %w", err)
	}
	return state, nil
}

// Validate checks the settings against the categories they will be restored
// with. A zero window means "keep the current one".
func (s Settings) Validate(snap ledger.Snapshot) error {
	if s.UpcomingWindowDays < 0 || s.UpcomingWindowDays > services.MaxUpcomingWindowDays {
		return core.Invalid("settings.upcomingWindowDays", fmt.Sprintf("must be between 1 and %d", services.MaxUpcomingWindowDays))
	}
	for _, kind := range []core.Kind{core.KindIncome, core.KindExpense} {
		id := s.Fallbacks.For(kind)
		if id == "" {
			continue
		}
		cat, ok := snap.Category(id)
		if !ok {
			return core.Invalid("settings.fallbacks", fmt.Sprintf("%s fallback category %q does not exist", kind, id))
		}
		if cat.Kind != kind {
			return core.Invalid("settings.fallbacks", fmt.Sprintf("%s fallback category %q is %s", kind, id, cat.Kind))
		}
	}
	return nil
}

// Restore replaces the book's contents and fallbacks with the document's in
// one commit. The document must pass the integrity check and its settings must
// fit its categories before anything is replaced. Settings that live outside
// the book, like the upcoming window, are applied by the caller.
func Restore(ctx context.Context, book *ledger.Book, doc Document, logger *log.Logger) error {
	logger = logger.WithComponent(log.ComponentBackup)

	state, err := doc.State()
	if err != nil {
		return err
	}
	snap := ledger.New(state).Snapshot()
	if violations := ledger.CheckIntegrity(snap); len(violations) > 0 {
		return core.Invalid("backup", fmt.Sprintf("%d integrity violations, first: %s", len(violations), violations[0]))
	}
	if err := doc.Settings.Validate(snap); err != nil {
		return err
	}
	if err := book.Replace(ctx, log.OpRestore, state, ledger.ReplaceFallbacks(doc.Settings.Fallbacks)); err != nil {
		return err
	}

	logger.InfoContext(ctx, "backup restored",
		log.FieldVersion, book.Snapshot().Version(),
		"categories", len(doc.Categories),
		"transactions", len(doc.Transactions),
		"rules", len(doc.RecurringRules),
		"backup_timestamp", doc.Timestamp.Format(time.RFC3339))
	return nil
}

func documentVersion(raw map[string]any) (int, error) {
	v, ok := raw["version"]
	if !ok {
		return 0, core.Invalid("version", "missing")
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, core.Invalid("version", "not a number")
	}
	version, err := n.Int64()
	if err != nil || version < 1 {
		return 0, core.Invalid("version", "must be a positive integer")
	}
	return int(version), nil
}
