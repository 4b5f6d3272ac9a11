package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type LoanApplicationInput struct {
	MemberID   uuid.UUID       `json:"member_id" validate:"required"`
	CycleID    uuid.UUID       `json:"cycle_id" validate:"required"`
	Amount     decimal.Decimal `json:"amount" validate:"gt=0"`
	TermMonths int             `json:"term_months" validate:"min=1,max=120"`
	Notes      string          `json:"notes" validate:"max=500"`
}

type RepaymentInput struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
	Date   time.Time       `json:"date" validate:"required"`
}

// ApplyForLoan files a pending application. The amount may not exceed the
// member's borrowing limit at the time of applying.
func (l *Ledger) ApplyForLoan(ctx context.Context, actor models.Actor, in LoanApplicationInput) (*models.LoanApplication, error) {
	if err := requireSelf(actor, in.MemberID); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	app := &models.LoanApplication{
		ID:              uuid.New(),
		MemberID:        in.MemberID,
		CycleID:         in.CycleID,
		Amount:          in.Amount,
		TermMonths:      in.TermMonths,
		Status:          models.LoanApplicationPending,
		ApplicationDate: l.now(),
		Notes:           in.Notes,
	}
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		c, err := r.GetCycle(ctx, in.CycleID)
		if err != nil {
			return err
		}
		if err := l.requirePhaseOpen(ctx, r, c, models.PhaseLoanApplication); err != nil {
			return err
		}
		tier, err := memberTier(ctx, r, in.MemberID, in.CycleID)
		if err != nil {
			return err
		}
		savings, err := savingsBalance(ctx, r, in.MemberID, in.CycleID)
		if err != nil {
			return err
		}
		lim := l.limitFor(tier, savings)
		if in.Amount.GreaterThan(lim.Amount) {
			if !lim.Rated && l.unratedMultiplier == nil {
				return apperr.Wrap(apperr.ErrBorrowingLimitExceeded, "member %s is unrated and may not borrow", in.MemberID)
			}
			return apperr.Wrap(apperr.ErrBorrowingLimitExceeded, "requested %s, limit %s (savings %s x %s)",
				in.Amount.StringFixed(2), lim.Amount.StringFixed(2), savings.StringFixed(2), lim.Multiplier)
		}
		return r.CreateLoanApplication(ctx, app)
	})
	if err != nil {
		l.logError("ApplyForLoan", "create loan application", in, err)
		return nil, err
	}
	l.record(actor, "apply_for_loan", map[string]any{"application_id": app.ID, "amount": app.Amount.String(), "term_months": app.TermMonths})
	return app, nil
}

// WithdrawLoanApplication withdraws a pending application.
func (l *Ledger) WithdrawLoanApplication(ctx context.Context, actor models.Actor, applicationID uuid.UUID) (*models.LoanApplication, error) {
	var app *models.LoanApplication
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if app, err = r.GetLoanApplication(ctx, applicationID); err != nil {
			return err
		}
		if err := requireSelf(actor, app.MemberID); err != nil {
			return err
		}
		if app.Status != models.LoanApplicationPending {
			return apperr.Preconditionf("application is %s", app.Status)
		}
		app.Status = models.LoanApplicationWithdrawn
		return r.UpdateLoanApplication(ctx, app)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "withdraw_loan_application", map[string]any{"application_id": applicationID})
	return app, nil
}

// ApproveAndDisburse approves a pending application, creates the loan at the
// member's tier rate and posts the disbursement. An application disburses once.
func (l *Ledger) ApproveAndDisburse(ctx context.Context, actor models.Actor, applicationID uuid.UUID) (*models.Loan, error) {
	if err := require(actor, models.RoleTreasurer); err != nil {
		return nil, err
	}
	var loan *models.Loan
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		app, err := r.GetLoanApplication(ctx, applicationID)
		if err != nil {
			return err
		}
		switch app.Status {
		case models.LoanApplicationPending:
		case models.LoanApplicationApproved:
			return apperr.Wrap(apperr.ErrAlreadyApproved, "loan application %s", app.ID)
		default:
			return apperr.Preconditionf("application is %s", app.Status)
		}

		rate, err := resolveMemberRate(ctx, r, app.MemberID, app.CycleID, models.TermOf(app.TermMonths))
		if err != nil {
			return err
		}

		now := l.now()
		loan = &models.Loan{
			ID:               uuid.New(),
			ApplicationID:    app.ID,
			MemberID:         app.MemberID,
			CycleID:          app.CycleID,
			LoanAmount:       app.Amount,
			Balance:          app.Amount,
			TermMonths:       app.TermMonths,
			InterestRate:     rate,
			DisbursementDate: now,
			Status:           models.LoanStatusActive,
			AccruedInterest:  decimal.Zero,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := r.CreateLoan(ctx, loan); err != nil {
			return err
		}
		app.Status = models.LoanApplicationApproved
		if err := r.UpdateLoanApplication(ctx, app); err != nil {
			return err
		}

		j := newJournal(models.SourceLoanDisbursement, loan.ID, "loan disbursement").
			forMember(loan.MemberID, loan.CycleID).
			debit(models.AccountLoansReceivable, loan.LoanAmount).
			credit(models.AccountBankCash, loan.LoanAmount)
		_, err = l.post(ctx, r, j)
		return err
	})
	if err != nil {
		l.logError("ApproveAndDisburse", "disburse loan", applicationID, err)
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{
		"loan_id":   loan.ID,
		"member_id": loan.MemberID,
		"amount":    loan.LoanAmount.StringFixed(2),
		"rate":      loan.InterestRate.String(),
	}).Info("Loan disbursed")
	l.record(actor, "approve_and_disburse", map[string]any{"application_id": applicationID, "loan_id": loan.ID, "amount": loan.LoanAmount.String()})
	return loan, nil
}

// RecordRepayment records a cash repayment against an active loan.
func (l *Ledger) RecordRepayment(ctx context.Context, actor models.Actor, loanID uuid.UUID, in RepaymentInput) (*models.Repayment, error) {
	if err := require(actor, models.RoleTreasurer); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	var rp *models.Repayment
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		loan, err := r.GetLoan(ctx, loanID)
		if err != nil {
			return err
		}
		rp, err = l.applyRepayment(ctx, r, loan, in.Amount, in.Date, uuid.NullUUID{})
		return err
	})
	if err != nil {
		l.logError("RecordRepayment", "record repayment", loanID, err)
		return nil, err
	}
	l.record(actor, "record_repayment", map[string]any{
		"loan_id":   loanID,
		"total":     rp.Total.String(),
		"interest":  rp.InterestPortion.String(),
		"principal": rp.PrincipalPortion.String(),
	})
	return rp, nil
}

// applyRepayment allocates amount to loan, appends the repayment, updates the
// loan and posts the journal, all in r's transaction. Repayments applied from
// a deposit draw on unapplied_repayments, where the deposit parked the cash.
func (l *Ledger) applyRepayment(ctx context.Context, r store.Repository, loan *models.Loan, amount decimal.Decimal, date time.Time, depositID uuid.NullUUID) (*models.Repayment, error) {
	all, err := r.ListRepayments(ctx, loan.ID)
	if err != nil {
		return nil, err
	}
	previous := liveRepayments(all)
	day := dateOnly(date)
	if day.After(dateOnly(l.now())) {
		return nil, apperr.Validationf("repayment date %s is in the future", day.Format("2006-01-02"))
	}
	if day.Before(dateOnly(loan.DisbursementDate)) {
		return nil, apperr.Validationf("repayment date %s precedes disbursement", day.Format("2006-01-02"))
	}
	if n := len(previous); n > 0 && day.Before(dateOnly(previous[n-1].Date)) {
		return nil, apperr.Validationf("repayment date %s precedes the last repayment", day.Format("2006-01-02"))
	}

	a, err := Allocate(loan, amount, day, len(previous))
	if err != nil {
		return nil, err
	}

	now := l.now()
	rp := &models.Repayment{
		ID:               uuid.New(),
		LoanID:           loan.ID,
		Date:             day,
		PrincipalPortion: a.Principal,
		InterestPortion:  a.Interest,
		Total:            amount,
		RunningBalance:   a.Balance,
		IsOnTime:         a.OnTime,
		DepositID:        depositID,
		CreatedAt:        now,
	}
	if err := r.CreateRepayment(ctx, rp); err != nil {
		return nil, err
	}

	loan.Balance = a.Balance
	loan.AccruedInterest = a.Accrued
	loan.PeriodsAccrued = a.PeriodsAccrued
	loan.UpdatedAt = now
	if a.Paid {
		loan.Status = models.LoanStatusPaid
	}
	if err := r.UpdateLoan(ctx, loan); err != nil {
		return nil, err
	}

	from := models.AccountBankCash
	if depositID.Valid {
		from = models.AccountUnappliedRepayments
	}
	j := newJournal(models.SourceRepayment, rp.ID, fmt.Sprintf("repayment on loan %s", loan.ID)).
		forMember(loan.MemberID, loan.CycleID).
		debit(from, amount).
		credit(models.AccountInterestIncome, a.Interest).
		credit(models.AccountLoansReceivable, a.Principal)
	if _, err := l.post(ctx, r, j); err != nil {
		return nil, err
	}

	fields := logrus.Fields{
		"loan_id":   loan.ID,
		"interest":  a.Interest.StringFixed(2),
		"principal": a.Principal.StringFixed(2),
		"balance":   a.Balance.StringFixed(2),
		"on_time":   a.OnTime,
	}
	if a.Paid {
		l.logger.WithFields(fields).Info("Loan paid off")
	} else {
		l.logger.WithFields(fields).Info("Repayment applied")
	}
	return rp, nil
}

// liveRepayments drops reversed repayments, keeping the order.
func liveRepayments(all []*models.Repayment) []*models.Repayment {
	live := make([]*models.Repayment, 0, len(all))
	for _, rp := range all {
		if !rp.Reversed() {
			live = append(live, rp)
		}
	}
	return live
}

// AccrueInterest brings every active loan's accrued interest up to the
// current period. Each loan is updated in its own transaction and a failure on
// one loan does not stop the others. Returns the number of loans updated.
func (l *Ledger) AccrueInterest(ctx context.Context) (int, error) {
	loans, err := l.storage.ListLoans(ctx, store.LoanFilter{Status: string(models.LoanStatusActive)})
	if err != nil {
		l.logError("AccrueInterest", "list active loans", nil, err)
		return 0, err
	}
	today := l.now()
	updated := 0
	for _, candidate := range loans {
		var accrued decimal.Decimal
		changed := false
		err := l.storage.WithTx(ctx, func(r store.Repository) error {
			loan, err := r.GetLoan(ctx, candidate.ID)
			if err != nil {
				return err
			}
			if loan.Status != models.LoanStatusActive {
				return nil
			}
			next, periods := accrueTo(loan, periodAt(loan, today))
			if periods == loan.PeriodsAccrued {
				return nil
			}
			accrued = next.Sub(loan.AccruedInterest)
			loan.AccruedInterest = next
			loan.PeriodsAccrued = periods
			loan.UpdatedAt = today
			changed = true
			return r.UpdateLoan(ctx, loan)
		})
		if err != nil {
			l.logger.WithFields(logrus.Fields{"loan_id": candidate.ID, "error": err.Error()}).Warn("Interest accrual failed")
			continue
		}
		if changed {
			updated++
			l.logger.WithFields(logrus.Fields{"loan_id": candidate.ID, "accrued": accrued.StringFixed(2)}).Info("Interest accrued")
		}
	}
	return updated, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Loan, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireSelfOrStaff(actor, loan.MemberID); err != nil {
		return nil, err
	}
	return loan, nil
}

func (l *Ledger) ListLoans(ctx context.Context, actor models.Actor, f store.LoanFilter) ([]*models.Loan, error) {
	if err := scopeFilter(actor, &f.MemberID); err != nil {
		return nil, err
	}
	return l.storage.ListLoans(ctx, f)
}

// Repayments returns a loan's repayments ordered by date. Reversed ones carry ReversedAt.
func (l *Ledger) Repayments(ctx context.Context, actor models.Actor, loanID uuid.UUID) ([]*models.Repayment, error) {
	if _, err := l.GetLoan(ctx, actor, loanID); err != nil {
		return nil, err
	}
	return l.storage.ListRepayments(ctx, loanID)
}

func (l *Ledger) LoanApplications(ctx context.Context, actor models.Actor, f store.LoanFilter) ([]*models.LoanApplication, error) {
	if err := scopeFilter(actor, &f.MemberID); err != nil {
		return nil, err
	}
	return l.storage.ListLoanApplications(ctx, f)
}

// scopeFilter restricts a member's listing to their own records.
func scopeFilter(actor models.Actor, memberID *uuid.NullUUID) error {
	if actor.Is(staff...) {
		return nil
	}
	if actor.Role != models.RoleMember {
		return apperr.Permissionf("role %q may not list records", actor.Role)
	}
	if memberID.Valid && memberID.UUID != actor.MemberID {
		return apperr.Permissionf("member %s may not list records of %s", actor.MemberID, memberID.UUID)
	}
	*memberID = uuid.NullUUID{UUID: actor.MemberID, Valid: true}
	return nil
}
