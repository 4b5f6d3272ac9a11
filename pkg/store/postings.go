package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
)

const postingColumns = `id, account, debit, credit, source_type, source_id, member_id, cycle_id, memo, posted_at`

// CreatePostings appends journal entries. A second posting for the same
// (source_type, source_id, account) is rejected with apperr.ErrConflict.
func (r *repo) CreatePostings(ctx context.Context, postings []*models.LedgerPosting) error {
	for _, p := range postings {
		_, err := sqlx.NamedExecContext(ctx, r.ext,
			`INSERT INTO ledger_postings (`+postingColumns+`)
			VALUES (:id, :account, :debit, :credit, :source_type, :source_id, :member_id, :cycle_id, :memo, :posted_at)`, p)
		if err != nil {
			if isUniqueViolation(err) {
				return apperr.Conflictf("%s %s already posted to %s", p.SourceType, p.SourceID, p.Account)
			}
			return fmt.Errorf("failed to create posting: %w", err)
		}
	}
	return nil
}

func (r *repo) ListPostings(ctx context.Context, f PostingFilter) ([]*models.LedgerPosting, error) {
	w := postingWhere(f)
	var postings []*models.LedgerPosting
	err := sqlx.SelectContext(ctx, r.ext, &postings,
		`SELECT `+postingColumns+` FROM ledger_postings`+w.String()+` ORDER BY posted_at ASC, rowid ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list postings: %w", err)
	}
	return postings, nil
}

// AccountBalances sums postings per account. The sums are done in Go because
// amounts are stored as TEXT and SQLite would sum them as floats.
func (r *repo) AccountBalances(ctx context.Context, f PostingFilter) ([]models.AccountBalance, error) {
	w := postingWhere(f)
	rows, err := r.ext.QueryxContext(ctx, `SELECT account, debit, credit FROM ledger_postings`+w.String(), w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query balances: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.Account]*models.AccountBalance)
	for rows.Next() {
		var account models.Account
		var debit, credit decimal.Decimal
		if err := rows.Scan(&account, &debit, &credit); err != nil {
			return nil, fmt.Errorf("failed to scan posting row: %w", err)
		}
		b, ok := totals[account]
		if !ok {
			b = &models.AccountBalance{Account: account}
			totals[account] = b
		}
		b.TotalDebit = b.TotalDebit.Add(debit)
		b.TotalCredit = b.TotalCredit.Add(credit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	balances := make([]models.AccountBalance, 0, len(models.Accounts))
	for _, a := range models.Accounts {
		if b, ok := totals[a]; ok {
			balances = append(balances, *b)
		} else {
			balances = append(balances, models.AccountBalance{Account: a})
		}
	}
	return balances, nil
}

func postingWhere(f PostingFilter) where {
	var w where
	if f.Account != "" {
		w.add("account = ?", f.Account)
	}
	if f.SourceType != "" {
		w.add("source_type = ?", f.SourceType)
	}
	if f.SourceID.Valid {
		w.add("source_id = ?", f.SourceID.UUID)
	}
	if f.MemberID.Valid {
		w.add("member_id = ?", f.MemberID.UUID)
	}
	if f.CycleID.Valid {
		w.add("cycle_id = ?", f.CycleID.UUID)
	}
	return w
}
