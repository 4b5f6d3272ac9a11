package ledger

import (
	"context"
	"time"

	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Mismatch is an account whose ledger balance differs from the balance
// implied by the operational records.
type Mismatch struct {
	Account  models.Account  `json:"account"`
	Ledger   decimal.Decimal `json:"ledger"`
	Expected decimal.Decimal `json:"expected"`
}

type ReconciliationReport struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Balances    []models.AccountBalance `json:"balances"`
	TotalDebit  decimal.Decimal         `json:"total_debit"`
	TotalCredit decimal.Decimal         `json:"total_credit"`
	Mismatches  []Mismatch              `json:"mismatches"`
}

// Balanced reports whether total debits equal total credits.
func (r *ReconciliationReport) Balanced() bool {
	return r.TotalDebit.Equal(r.TotalCredit)
}

func (r *ReconciliationReport) OK() bool {
	return r.Balanced() && len(r.Mismatches) == 0
}

// Reconcile recomputes every account from approved declarations, disbursed
// loans and live repayments and compares the result with the ledger. A
// reversed source drops out of both sides: its postings net to zero and its
// record is no longer approved, disbursed or live.
func (l *Ledger) Reconcile(ctx context.Context, actor models.Actor) (*ReconciliationReport, error) {
	if err := require(actor, staff...); err != nil {
		return nil, err
	}
	report := &ReconciliationReport{GeneratedAt: l.now()}
	expected := make(map[models.Account]decimal.Decimal, len(models.Accounts))

	// A write transaction gives a consistent snapshot across the reads.
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		decls, err := r.ListDeclarations(ctx, store.DeclarationFilter{Status: models.DeclarationApproved})
		if err != nil {
			return err
		}
		for _, d := range decls {
			expected[models.AccountSavings] = expected[models.AccountSavings].Add(d.DeclaredSavingsAmount)
			expected[models.AccountSocialFund] = expected[models.AccountSocialFund].Add(d.DeclaredSocialFund)
			expected[models.AccountAdminFund] = expected[models.AccountAdminFund].Add(d.DeclaredAdminFund)
			expected[models.AccountPenaltyIncome] = expected[models.AccountPenaltyIncome].Add(d.DeclaredPenalties)
			expected[models.AccountUnappliedRepayments] = expected[models.AccountUnappliedRepayments].Add(d.LoanPortion())
			expected[models.AccountBankCash] = expected[models.AccountBankCash].Add(d.Total())
		}

		loans, err := r.ListLoans(ctx, store.LoanFilter{})
		if err != nil {
			return err
		}
		for _, loan := range loans {
			if loan.Status == models.LoanStatusReversed {
				continue
			}
			expected[models.AccountLoansReceivable] = expected[models.AccountLoansReceivable].Add(loan.Balance)
			expected[models.AccountBankCash] = expected[models.AccountBankCash].Sub(loan.LoanAmount)

			repayments, err := r.ListRepayments(ctx, loan.ID)
			if err != nil {
				return err
			}
			for _, rp := range liveRepayments(repayments) {
				expected[models.AccountInterestIncome] = expected[models.AccountInterestIncome].Add(rp.InterestPortion)
				if rp.DepositID.Valid {
					expected[models.AccountUnappliedRepayments] = expected[models.AccountUnappliedRepayments].Sub(rp.Total)
				} else {
					expected[models.AccountBankCash] = expected[models.AccountBankCash].Add(rp.Total)
				}
			}
		}

		report.Balances, err = r.AccountBalances(ctx, store.PostingFilter{})
		return err
	})
	if err != nil {
		l.logError("Reconcile", "reconcile ledger", nil, err)
		return nil, err
	}

	for _, b := range report.Balances {
		report.TotalDebit = report.TotalDebit.Add(b.TotalDebit)
		report.TotalCredit = report.TotalCredit.Add(b.TotalCredit)
		if !b.Balance().Equal(expected[b.Account]) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				Account:  b.Account,
				Ledger:   b.Balance(),
				Expected: expected[b.Account],
			})
		}
	}

	entry := l.logger.WithFields(logrus.Fields{
		"total_debit":  report.TotalDebit.StringFixed(2),
		"total_credit": report.TotalCredit.StringFixed(2),
		"mismatches":   len(report.Mismatches),
	})
	if report.OK() {
		entry.Info("Ledger reconciled")
	} else {
		entry.Warn("Ledger does not reconcile")
	}
	return report, nil
}
