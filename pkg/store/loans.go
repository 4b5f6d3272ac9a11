package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mcclellann/vsla/pkg/models"
)

const applicationColumns = `id, member_id, cycle_id, amount, term_months, status, application_date, notes, version`

const loanColumns = `id, application_id, member_id, cycle_id, loan_amount, balance, term_months, interest_rate, disbursement_date,
	status, accrued_interest, periods_accrued, created_at, updated_at, version`

const repaymentColumns = `id, loan_id, date, principal_portion, interest_portion, total, running_balance, is_on_time, deposit_id, created_at, reversed_at`

func (r *repo) CreateLoanApplication(ctx context.Context, a *models.LoanApplication) error {
	a.Version = 1
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO loan_applications (`+applicationColumns+`)
		VALUES (:id, :member_id, :cycle_id, :amount, :term_months, :status, :application_date, :notes, :version)`, a)
	if err != nil {
		return insertErr("loan application", err)
	}
	return nil
}

func (r *repo) GetLoanApplication(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error) {
	var a models.LoanApplication
	if err := r.get(ctx, "loan application", &a, `SELECT `+applicationColumns+` FROM loan_applications WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *repo) UpdateLoanApplication(ctx context.Context, a *models.LoanApplication) error {
	err := r.casUpdate(ctx, "loan application",
		`UPDATE loan_applications SET status = ?, notes = ?, version = version + 1 WHERE id = ? AND version = ?`,
		a.Status, a.Notes, a.ID, a.Version)
	if err != nil {
		return err
	}
	a.Version++
	return nil
}

func (r *repo) ListLoanApplications(ctx context.Context, f LoanFilter) ([]*models.LoanApplication, error) {
	w := loanWhere(f)
	var apps []*models.LoanApplication
	err := sqlx.SelectContext(ctx, r.ext, &apps,
		`SELECT `+applicationColumns+` FROM loan_applications`+w.String()+` ORDER BY application_date ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loan applications: %w", err)
	}
	return apps, nil
}

// CreateLoan inserts a new loan into the database.
func (r *repo) CreateLoan(ctx context.Context, loan *models.Loan) error {
	loan.Version = 1
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (:id, :application_id, :member_id, :cycle_id, :loan_amount, :balance, :term_months, :interest_rate, :disbursement_date,
			:status, :accrued_interest, :periods_accrued, :created_at, :updated_at, :version)`, loan)
	if err != nil {
		return insertErr("loan", err)
	}
	return nil
}

// GetLoan retrieves a loan by its ID.
func (r *repo) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	if err := r.get(ctx, "loan", &loan, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &loan, nil
}

// UpdateLoan writes the mutable loan fields. Principal, rate and term never change.
func (r *repo) UpdateLoan(ctx context.Context, loan *models.Loan) error {
	err := r.casUpdate(ctx, "loan",
		`UPDATE loans SET balance = ?, status = ?, accrued_interest = ?, periods_accrued = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		loan.Balance, loan.Status, loan.AccruedInterest, loan.PeriodsAccrued, loan.UpdatedAt, loan.ID, loan.Version)
	if err != nil {
		return err
	}
	loan.Version++
	return nil
}

func (r *repo) ListLoans(ctx context.Context, f LoanFilter) ([]*models.Loan, error) {
	w := loanWhere(f)
	var loans []*models.Loan
	err := sqlx.SelectContext(ctx, r.ext, &loans,
		`SELECT `+loanColumns+` FROM loans`+w.String()+` ORDER BY disbursement_date ASC, created_at ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return loans, nil
}

func loanWhere(f LoanFilter) where {
	var w where
	if f.MemberID.Valid {
		w.add("member_id = ?", f.MemberID.UUID)
	}
	if f.CycleID.Valid {
		w.add("cycle_id = ?", f.CycleID.UUID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	return w
}

func (r *repo) CreateRepayment(ctx context.Context, rp *models.Repayment) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO repayments (`+repaymentColumns+`)
		VALUES (:id, :loan_id, :date, :principal_portion, :interest_portion, :total, :running_balance, :is_on_time, :deposit_id, :created_at, :reversed_at)`, rp)
	if err != nil {
		return insertErr("repayment", err)
	}
	return nil
}

func (r *repo) GetRepayment(ctx context.Context, id uuid.UUID) (*models.Repayment, error) {
	var rp models.Repayment
	if err := r.get(ctx, "repayment", &rp, `SELECT `+repaymentColumns+` FROM repayments WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &rp, nil
}

// MarkRepaymentReversed stamps the repayment as reversed. A repayment is
// reversed at most once; a second call returns apperr.ErrConflict.
func (r *repo) MarkRepaymentReversed(ctx context.Context, rp *models.Repayment, at time.Time) error {
	err := r.casUpdate(ctx, "repayment",
		`UPDATE repayments SET reversed_at = ? WHERE id = ? AND reversed_at IS NULL`, at, rp.ID)
	if err != nil {
		return err
	}
	rp.ReversedAt = &at
	return nil
}

// ListRepayments returns a loan's repayments ordered by date, reversed ones included.
func (r *repo) ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.Repayment, error) {
	var repayments []*models.Repayment
	err := sqlx.SelectContext(ctx, r.ext, &repayments,
		`SELECT `+repaymentColumns+` FROM repayments WHERE loan_id = ? ORDER BY date ASC, created_at ASC`, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to get repayments for loan %s: %w", loanID, err)
	}
	return repayments, nil
}
