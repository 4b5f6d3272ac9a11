package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/sirupsen/logrus"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	*repo
	db     *sqlx.DB
	logger *logrus.Logger
}

// repo runs queries against either the database or an open transaction.
type repo struct {
	ext sqlx.ExtContext
}

// DSN appends the connection parameters the store relies on: foreign keys,
// WAL, a busy timeout, and BEGIN IMMEDIATE so write transactions serialize.
func DSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
}

// NewSQLiteStore opens the database file and initializes the schema.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", DSN(path))
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{repo: &repo{ext: db}, db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	logger.WithField("path", path).Info("Database connection established and schema initialized.")
	return s, nil
}

// initSchema creates the tables if they don't already exist.
// Decimal fields are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		year INTEGER NOT NULL UNIQUE,
		start_date DATETIME NOT NULL,
		end_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		social_fund_required TEXT NOT NULL DEFAULT '0',
		admin_fund_required TEXT NOT NULL DEFAULT '0',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS phase_configs (
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		phase_type TEXT NOT NULL,
		monthly_start_day INTEGER NOT NULL CHECK (monthly_start_day BETWEEN 1 AND 31),
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (cycle_id, phase_type)
	);
	CREATE TABLE IF NOT EXISTS credit_rating_schemes (
		id TEXT PRIMARY KEY,
		cycle_id TEXT NOT NULL UNIQUE REFERENCES cycles(id),
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS credit_rating_tiers (
		id TEXT PRIMARY KEY,
		scheme_id TEXT NOT NULL REFERENCES credit_rating_schemes(id),
		tier_name TEXT NOT NULL,
		tier_order INTEGER NOT NULL,
		multiplier TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		UNIQUE (scheme_id, tier_order)
	);
	CREATE TABLE IF NOT EXISTS interest_rate_ranges (
		id TEXT PRIMARY KEY,
		tier_id TEXT NOT NULL REFERENCES credit_rating_tiers(id),
		term_months INTEGER,
		effective_rate_percent TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rate_ranges_tier_term ON interest_rate_ranges (tier_id, IFNULL(term_months, 0));
	CREATE TABLE IF NOT EXISTS member_credit_ratings (
		member_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		tier_id TEXT NOT NULL REFERENCES credit_rating_tiers(id),
		notes TEXT NOT NULL DEFAULT '',
		assigned_at DATETIME NOT NULL,
		PRIMARY KEY (member_id, cycle_id)
	);
	CREATE TABLE IF NOT EXISTS declarations (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		effective_month DATETIME NOT NULL,
		declared_savings_amount TEXT NOT NULL DEFAULT '0',
		declared_social_fund TEXT NOT NULL DEFAULT '0',
		declared_admin_fund TEXT NOT NULL DEFAULT '0',
		declared_penalties TEXT NOT NULL DEFAULT '0',
		declared_interest_on_loan TEXT NOT NULL DEFAULT '0',
		declared_loan_repayment TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_declarations_member_month ON declarations (member_id, effective_month)
		WHERE status <> 'reversed';
	CREATE TABLE IF NOT EXISTS deposit_proofs (
		id TEXT PRIMARY KEY,
		declaration_id TEXT NOT NULL UNIQUE REFERENCES declarations(id),
		member_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		reference TEXT NOT NULL DEFAULT '',
		upload_path TEXT NOT NULL,
		status TEXT NOT NULL,
		treasurer_comment TEXT NOT NULL DEFAULT '',
		member_response TEXT NOT NULL DEFAULT '',
		rejected_at DATETIME,
		approved_at DATETIME,
		uploaded_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS loan_applications (
		id TEXT PRIMARY KEY,
		member_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		amount TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		status TEXT NOT NULL,
		application_date DATETIME NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		application_id TEXT NOT NULL UNIQUE REFERENCES loan_applications(id),
		member_id TEXT NOT NULL,
		cycle_id TEXT NOT NULL REFERENCES cycles(id),
		loan_amount TEXT NOT NULL,
		balance TEXT NOT NULL,
		term_months INTEGER NOT NULL,
		interest_rate TEXT NOT NULL,
		disbursement_date DATETIME NOT NULL,
		status TEXT NOT NULL,
		accrued_interest TEXT NOT NULL DEFAULT '0',
		periods_accrued INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	);
	CREATE TABLE IF NOT EXISTS repayments (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL REFERENCES loans(id),
		date DATETIME NOT NULL,
		principal_portion TEXT NOT NULL,
		interest_portion TEXT NOT NULL,
		total TEXT NOT NULL,
		running_balance TEXT NOT NULL,
		is_on_time BOOLEAN NOT NULL,
		deposit_id TEXT,
		created_at DATETIME NOT NULL,
		reversed_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_repayments_loan ON repayments (loan_id, date);
	CREATE TABLE IF NOT EXISTS ledger_postings (
		id TEXT PRIMARY KEY,
		account TEXT NOT NULL,
		debit TEXT NOT NULL DEFAULT '0',
		credit TEXT NOT NULL DEFAULT '0',
		source_type TEXT NOT NULL,
		source_id TEXT NOT NULL,
		member_id TEXT,
		cycle_id TEXT,
		memo TEXT NOT NULL DEFAULT '',
		posted_at DATETIME NOT NULL,
		UNIQUE (source_type, source_id, account)
	);
	CREATE INDEX IF NOT EXISTS idx_postings_member ON ledger_postings (member_id, account);
	`
	_, err := s.db.Exec(schema)
	return err
}

// WithTx runs fn inside a write transaction. The connection string makes the
// transaction BEGIN IMMEDIATE, so concurrent writers are serialized by SQLite.
func (s *SQLiteStore) WithTx(ctx context.Context, fn func(r Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		if isBusy(err) {
			return apperr.Conflictf("database is busy: %v", err)
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&repo{ext: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isBusy(err) {
			return apperr.Conflictf("commit lost to a concurrent writer: %v", err)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// insertErr translates driver errors from an INSERT into the engine's taxonomy.
func insertErr(what string, err error) error {
	if isUniqueViolation(err) {
		return apperr.Conflictf("%s already exists", what)
	}
	return fmt.Errorf("failed to create %s: %w", what, err)
}

// get wraps sqlx.GetContext, mapping sql.ErrNoRows to apperr.ErrNotFound.
func (r *repo) get(ctx context.Context, what string, dest any, query string, args ...any) error {
	if err := sqlx.GetContext(ctx, r.ext, dest, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFoundf("%s", what)
		}
		return fmt.Errorf("failed to get %s: %w", what, err)
	}
	return nil
}

// casUpdate runs an UPDATE guarded by "AND version = ?" and reports a conflict
// when no row matched.
func (r *repo) casUpdate(ctx context.Context, what string, query string, args ...any) error {
	result, err := r.ext.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflictf("%s violates a uniqueness constraint", what)
		}
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return apperr.Conflictf("%s was modified concurrently", what)
	}
	return nil
}

type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, arg any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, arg)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.clauses, " AND ")
}
