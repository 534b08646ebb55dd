// Package storage keeps the ledger in a local SQLite database. The repository
// is a ledger.Persister: each committed change set is written in one SQL
// transaction, and Load rebuilds the ledger state at startup.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"conti/internal/core"
	"conti/internal/ledger"
	"conti/internal/log"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentStorage)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	schema, err := RunMigrations(dbPath)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; the Book already serializes commits.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("sqlite repository opened", "path", dbPath, "schema_version", schema)
	return &SQLiteRepository{db: db, logger: logger}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Apply implements ledger.Persister.
func (r *SQLiteRepository) Apply(ctx context.Context, cs ledger.ChangeSet) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Storage("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyChangeSet(ctx, tx, cs); err != nil {
		return core.Storage("apply change set", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Storage("commit", err)
	}

	r.logger.DebugContext(ctx, "change set stored",
		log.FieldVersion, cs.Version,
		"reset", cs.Reset,
		"transactions", len(cs.Transactions)+len(cs.DeletedTransactions),
		"categories", len(cs.Categories)+len(cs.DeletedCategories),
		"rules", len(cs.Rules)+len(cs.DeletedRules))
	return nil
}

func applyChangeSet(ctx context.Context, tx *sql.Tx, cs ledger.ChangeSet) error {
	if cs.Reset {
		for _, table := range []string{"subcategories", "categories", "transactions", "recurring_rules"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
	}

	if err := deleteCategories(ctx, tx, cs.DeletedCategories); err != nil {
		return err
	}
	if err := deleteByID(ctx, tx, "transactions", cs.DeletedTransactions); err != nil {
		return err
	}
	if err := deleteByID(ctx, tx, "recurring_rules", cs.DeletedRules); err != nil {
		return err
	}

	if err := upsertCategories(ctx, tx, cs.Categories); err != nil {
		return err
	}
	if err := upsertTransactions(ctx, tx, cs.Transactions); err != nil {
		return err
	}
	if err := upsertRules(ctx, tx, cs.Rules); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE ledger_meta SET version = ?, updated_at = CURRENT_TIMESTAMP WHERE id = 1`, cs.Version); err != nil {
		return fmt.Errorf("update ledger version: %w", err)
	}
	return nil
}

func deleteByID(ctx context.Context, tx *sql.Tx, table string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, "DELETE FROM "+table+" WHERE id = ?")
	if err != nil {
		return fmt.Errorf("prepare delete from %s: %w", table, err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("delete %s %s: %w", table, id, err)
		}
	}
	return nil
}

func deleteCategories(ctx context.Context, tx *sql.Tx, ids []string) error {
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subcategories WHERE category_id = ?`, id); err != nil {
			return fmt.Errorf("delete subcategories of %s: %w", id, err)
		}
	}
	return deleteByID(ctx, tx, "categories", ids)
}

func upsertCategories(ctx context.Context, tx *sql.Tx, cats []core.Category) error {
	if len(cats) == 0 {
		return nil
	}
	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO categories (id, name, kind, color, is_system_defined, counts_toward_savings, budget_limit_cents)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			color = excluded.color,
			is_system_defined = excluded.is_system_defined,
			counts_toward_savings = excluded.counts_toward_savings,
			budget_limit_cents = excluded.budget_limit_cents`)
	if err != nil {
		return fmt.Errorf("prepare category upsert: %w", err)
	}
	defer upsert.Close()

	insertSub, err := tx.PrepareContext(ctx, `INSERT INTO subcategories (category_id, id, name) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare subcategory insert: %w", err)
	}
	defer insertSub.Close()

	for _, c := range cats {
		var limit sql.NullInt64
		if c.BudgetLimit != nil {
			limit = sql.NullInt64{Int64: c.BudgetLimit.Cents, Valid: true}
		}
		if _, err := upsert.ExecContext(ctx, c.ID, c.Name, string(c.Kind), c.Color,
			c.IsSystemDefined, c.CountsTowardSavings, limit); err != nil {
			return fmt.Errorf("upsert category %s: %w", c.ID, err)
		}
		// Subcategories are rewritten wholesale so their stored order follows the category.
		if _, err := tx.ExecContext(ctx, `DELETE FROM subcategories WHERE category_id = ?`, c.ID); err != nil {
			return fmt.Errorf("reset subcategories of %s: %w", c.ID, err)
		}
		for _, s := range c.Subcategories {
			if _, err := insertSub.ExecContext(ctx, c.ID, s.ID, s.Name); err != nil {
				return fmt.Errorf("insert subcategory %s/%s: %w", c.ID, s.ID, err)
			}
		}
	}
	return nil
}

func upsertTransactions(ctx context.Context, tx *sql.Tx, txns []core.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transactions (id, description, amount_cents, date, kind, category_id, subcategory_id, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			description = excluded.description,
			amount_cents = excluded.amount_cents,
			date = excluded.date,
			kind = excluded.kind,
			category_id = excluded.category_id,
			subcategory_id = excluded.subcategory_id,
			tags = excluded.tags`)
	if err != nil {
		return fmt.Errorf("prepare transaction upsert: %w", err)
	}
	defer stmt.Close()

	for _, t := range txns {
		tags, err := encodeTags(t.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Description, t.Amount.Cents, t.Date.String(),
			string(t.Kind), t.CategoryID, t.SubcategoryID, tags); err != nil {
			return fmt.Errorf("upsert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

func upsertRules(ctx context.Context, tx *sql.Tx, rules []core.RecurringRule) error {
	if len(rules) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recurring_rules (id, description, amount_cents, kind, frequency, next_due_date, auto_pay, category_id, subcategory_id, tags)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			description = excluded.description,
			amount_cents = excluded.amount_cents,
			kind = excluded.kind,
			frequency = excluded.frequency,
			next_due_date = excluded.next_due_date,
			auto_pay = excluded.auto_pay,
			category_id = excluded.category_id,
			subcategory_id = excluded.subcategory_id,
			tags = excluded.tags`)
	if err != nil {
		return fmt.Errorf("prepare rule upsert: %w", err)
	}
	defer stmt.Close()

	for _, rule := range rules {
		tags, err := encodeTags(rule.Tags)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rule.ID, rule.Description, rule.Amount.Cents, string(rule.Kind),
			string(rule.Frequency), rule.NextDueDate.String(), rule.AutoPay,
			rule.CategoryID, rule.SubcategoryID, tags); err != nil {
			return fmt.Errorf("upsert rule %s: %w", rule.ID, err)
		}
	}
	return nil
}

// Load reads the whole ledger and the version of the last applied change set.
func (r *SQLiteRepository) Load(ctx context.Context) (*ledger.State, int64, error) {
	cats, err := r.loadCategories(ctx)
	if err != nil {
		return nil, 0, core.Storage("load categories", err)
	}
	txns, err := r.loadTransactions(ctx)
	if err != nil {
		return nil, 0, core.Storage("load transactions", err)
	}
	rules, err := r.loadRules(ctx)
	if err != nil {
		return nil, 0, core.Storage("load rules", err)
	}

	var version int64
	if err := r.db.QueryRowContext(ctx, `SELECT version FROM ledger_meta WHERE id = 1`).Scan(&version); err != nil {
		return nil, 0, core.Storage("load version", err)
	}

	state, err := ledger.Build(cats, txns, rules)
	if err != nil {
		return nil, 0, fmt.Errorf("stored ledger: %w", err)
	}

	r.logger.InfoContext(ctx, "ledger loaded",
		log.FieldVersion, version,
		"categories", len(cats),
		"transactions", len(txns),
		"rules", len(rules))
	return state, version, nil
}

func (r *SQLiteRepository) loadCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, kind, color, is_system_defined, counts_toward_savings, budget_limit_cents
		FROM categories ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		cats  []core.Category
		index = map[string]int{}
	)
	for rows.Next() {
		var (
			c     core.Category
			kind  string
			limit sql.NullInt64
		)
		if err := rows.Scan(&c.ID, &c.Name, &kind, &c.Color, &c.IsSystemDefined, &c.CountsTowardSavings, &limit); err != nil {
			return nil, err
		}
		c.Kind = core.Kind(kind)
		if limit.Valid {
			c.BudgetLimit = &core.Money{Cents: limit.Int64}
		}
		index[c.ID] = len(cats)
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subs, err := r.db.QueryContext(ctx, `SELECT category_id, id, name FROM subcategories ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer subs.Close()

	for subs.Next() {
		var (
			categoryID string
			s          core.Subcategory
		)
		if err := subs.Scan(&categoryID, &s.ID, &s.Name); err != nil {
			return nil, err
		}
		i, ok := index[categoryID]
		if !ok {
			return nil, fmt.Errorf("subcategory %s belongs to unknown category %s", s.ID, categoryID)
		}
		cats[i].Subcategories = append(cats[i].Subcategories, s)
	}
	return cats, subs.Err()
}

func (r *SQLiteRepository) loadTransactions(ctx context.Context) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, description, amount_cents, date, kind, category_id, subcategory_id, tags
		FROM transactions ORDER BY date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		var (
			t          core.Transaction
			date, kind string
			tags       string
		)
		if err := rows.Scan(&t.ID, &t.Description, &t.Amount.Cents, &date, &kind,
			&t.CategoryID, &t.SubcategoryID, &tags); err != nil {
			return nil, err
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		if t.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		t.Kind = core.Kind(kind)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

func (r *SQLiteRepository) loadRules(ctx context.Context) ([]core.RecurringRule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, description, amount_cents, kind, frequency, next_due_date, auto_pay, category_id, subcategory_id, tags
		FROM recurring_rules ORDER BY next_due_date, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []core.RecurringRule
	for rows.Next() {
		var (
			rule                 core.RecurringRule
			kind, frequency, due string
			tags                 string
		)
		if err := rows.Scan(&rule.ID, &rule.Description, &rule.Amount.Cents, &kind, &frequency, &due,
			&rule.AutoPay, &rule.CategoryID, &rule.SubcategoryID, &tags); err != nil {
			return nil, err
		}
		if rule.NextDueDate, err = core.ParseDate(due); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		if rule.Tags, err = decodeTags(tags); err != nil {
			return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
		}
		rule.Kind = core.Kind(kind)
		rule.Frequency = core.Frequency(frequency)
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil {
		return nil, errors.Join(errors.New("decode tags"), err)
	}
	return core.NormalizeTags(tags), nil
}
