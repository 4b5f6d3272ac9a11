package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanApplicationStatus string

const (
	LoanApplicationPending   LoanApplicationStatus = "pending"
	LoanApplicationApproved  LoanApplicationStatus = "approved"
	LoanApplicationWithdrawn LoanApplicationStatus = "withdrawn"
)

type LoanApplication struct {
	ID              uuid.UUID             `db:"id" json:"id"`
	MemberID        uuid.UUID             `db:"member_id" json:"member_id"`
	CycleID         uuid.UUID             `db:"cycle_id" json:"cycle_id"`
	Amount          decimal.Decimal       `db:"amount" json:"amount"`
	TermMonths      int                   `db:"term_months" json:"term_months"`
	Status          LoanApplicationStatus `db:"status" json:"status"`
	ApplicationDate time.Time             `db:"application_date" json:"application_date"`
	Notes           string                `db:"notes" json:"notes"`
	Version         int64                 `db:"version" json:"-"`
}

type LoanStatus string

const (
	LoanStatusActive LoanStatus = "active"
	LoanStatusPaid   LoanStatus = "paid"
	// Disbursement reversed before any repayment.
	LoanStatusReversed LoanStatus = "reversed"
)

type Loan struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	ApplicationID    uuid.UUID       `db:"application_id" json:"application_id"`
	MemberID         uuid.UUID       `db:"member_id" json:"member_id"`
	CycleID          uuid.UUID       `db:"cycle_id" json:"cycle_id"`
	LoanAmount       decimal.Decimal `db:"loan_amount" json:"loan_amount"`
	Balance          decimal.Decimal `db:"balance" json:"balance"`             // Outstanding principal
	TermMonths       int             `db:"term_months" json:"term_months"`     // Repayment cadence denominator
	InterestRate     decimal.Decimal `db:"interest_rate" json:"interest_rate"` // Percent charged over the full term
	DisbursementDate time.Time       `db:"disbursement_date" json:"disbursement_date"`
	Status           LoanStatus      `db:"status" json:"status"`
	AccruedInterest  decimal.Decimal `db:"accrued_interest" json:"accrued_interest"` // Interest accrued and not yet paid
	PeriodsAccrued   int             `db:"periods_accrued" json:"periods_accrued"`   // Periods whose interest has been accrued
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
	Version          int64           `db:"version" json:"-"`
}

// DueDate returns the scheduled date of the given installment (1-based).
// Disbursement days past the end of a shorter month fall due on its last day.
func (l *Loan) DueDate(installment int) time.Time {
	d := l.DisbursementDate
	first := time.Date(d.Year(), d.Month()+time.Month(installment), 1, d.Hour(), d.Minute(), d.Second(), d.Nanosecond(), d.Location())
	day := min(d.Day(), first.AddDate(0, 1, -1).Day())
	return first.AddDate(0, 0, day-1)
}

type Repayment struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	LoanID           uuid.UUID       `db:"loan_id" json:"loan_id"`
	Date             time.Time       `db:"date" json:"date"`
	PrincipalPortion decimal.Decimal `db:"principal_portion" json:"principal_portion"`
	InterestPortion  decimal.Decimal `db:"interest_portion" json:"interest_portion"`
	Total            decimal.Decimal `db:"total" json:"total"`
	RunningBalance   decimal.Decimal `db:"running_balance" json:"running_balance"`
	IsOnTime         bool            `db:"is_on_time" json:"is_on_time"`
	DepositID        uuid.NullUUID   `db:"deposit_id" json:"deposit_id"` // Set when applied from an approved deposit
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	ReversedAt       *time.Time      `db:"reversed_at" json:"reversed_at,omitempty"`
}

// Reversed reports whether the repayment was undone by a reversal.
func (r *Repayment) Reversed() bool {
	return r.ReversedAt != nil
}
