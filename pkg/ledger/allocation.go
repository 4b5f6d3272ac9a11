package ledger

import (
	"time"

	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Allocation is the split of one repayment and the loan state after it.
type Allocation struct {
	Period         int             `json:"period"`
	InterestDue    decimal.Decimal `json:"interest_due"`
	Interest       decimal.Decimal `json:"interest"`
	Principal      decimal.Decimal `json:"principal"`
	Balance        decimal.Decimal `json:"balance"`
	Accrued        decimal.Decimal `json:"accrued"` // Interest still owed after the payment
	PeriodsAccrued int             `json:"periods_accrued"`
	OnTime         bool            `json:"on_time"`
	Paid           bool            `json:"paid"`
}

// periodAt returns the repayment period that date falls in: the first
// installment whose due date is on or after date.
func periodAt(loan *models.Loan, date time.Time) int {
	day := dateOnly(date)
	k := 1
	for dateOnly(loan.DueDate(k)).Before(day) {
		k++
	}
	return k
}

// periodInterest is simple interest on the balance for one period: the full
// term's rate spread evenly over TermMonths periods.
func periodInterest(loan *models.Loan, balance decimal.Decimal) decimal.Decimal {
	term := loan.TermMonths
	if term < 1 {
		term = 1
	}
	return balance.Mul(loan.InterestRate).Div(hundred).Div(decimal.NewFromInt(int64(term))).Round(2)
}

// accrueTo returns the loan's accrued interest once every period up to and
// including period has been charged on the current balance.
func accrueTo(loan *models.Loan, period int) (decimal.Decimal, int) {
	if period <= loan.PeriodsAccrued {
		return loan.AccruedInterest, loan.PeriodsAccrued
	}
	owed := periodInterest(loan, loan.Balance).Mul(decimal.NewFromInt(int64(period - loan.PeriodsAccrued)))
	return loan.AccruedInterest.Add(owed), period
}

// Payoff is what clears the loan on date: accrued interest plus the balance.
func Payoff(loan *models.Loan, date time.Time) decimal.Decimal {
	accrued, _ := accrueTo(loan, periodAt(loan, date))
	return accrued.Add(loan.Balance)
}

// Allocate splits a repayment of total made on date into interest and
// principal. Interest due for the elapsed periods is paid first; the rest
// reduces the balance. installmentsPaid is the number of earlier repayments
// and fixes the due date used for OnTime. loan is not modified.
func Allocate(loan *models.Loan, total decimal.Decimal, date time.Time, installmentsPaid int) (Allocation, error) {
	if loan.Status == models.LoanStatusPaid {
		return Allocation{}, apperr.Wrap(apperr.ErrLoanAlreadyPaid, "loan %s", loan.ID)
	}
	if loan.Status == models.LoanStatusReversed {
		return Allocation{}, apperr.Preconditionf("loan %s was reversed", loan.ID)
	}
	if !total.IsPositive() {
		return Allocation{}, apperr.Validationf("repayment amount must be positive")
	}

	a := Allocation{Period: periodAt(loan, date)}
	a.InterestDue, a.PeriodsAccrued = accrueTo(loan, a.Period)
	a.Interest = decimal.Min(total, a.InterestDue)
	a.Principal = total.Sub(a.Interest)
	if a.Principal.GreaterThan(loan.Balance) {
		return Allocation{}, apperr.Wrap(apperr.ErrOverpayment, "principal %s exceeds balance %s (payoff %s)",
			a.Principal.StringFixed(2), loan.Balance.StringFixed(2), a.InterestDue.Add(loan.Balance).StringFixed(2))
	}
	a.Balance = loan.Balance.Sub(a.Principal)
	a.Accrued = a.InterestDue.Sub(a.Interest)
	a.OnTime = !dateOnly(date).After(dateOnly(loan.DueDate(installmentsPaid + 1)))
	a.Paid = a.Balance.IsZero()
	return a, nil
}
