package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DeclarationStatus string

const (
	DeclarationPending  DeclarationStatus = "pending"
	DeclarationProof    DeclarationStatus = "proof"
	DeclarationApproved DeclarationStatus = "approved"
	DeclarationRejected DeclarationStatus = "rejected"
	DeclarationReversed DeclarationStatus = "reversed"
)

type Declaration struct {
	ID                     uuid.UUID         `db:"id" json:"id"`
	MemberID               uuid.UUID         `db:"member_id" json:"member_id"`
	CycleID                uuid.UUID         `db:"cycle_id" json:"cycle_id"`
	EffectiveMonth         time.Time         `db:"effective_month" json:"effective_month"` // First day of the month
	DeclaredSavingsAmount  decimal.Decimal   `db:"declared_savings_amount" json:"declared_savings_amount"`
	DeclaredSocialFund     decimal.Decimal   `db:"declared_social_fund" json:"declared_social_fund"`
	DeclaredAdminFund      decimal.Decimal   `db:"declared_admin_fund" json:"declared_admin_fund"`
	DeclaredPenalties      decimal.Decimal   `db:"declared_penalties" json:"declared_penalties"`
	DeclaredInterestOnLoan decimal.Decimal   `db:"declared_interest_on_loan" json:"declared_interest_on_loan"`
	DeclaredLoanRepayment  decimal.Decimal   `db:"declared_loan_repayment" json:"declared_loan_repayment"`
	Status                 DeclarationStatus `db:"status" json:"status"`
	CreatedAt              time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time         `db:"updated_at" json:"updated_at"`
	Version                int64             `db:"version" json:"-"`
}

// Total is the sum of every declared amount.
func (d *Declaration) Total() decimal.Decimal {
	return decimal.Sum(
		d.DeclaredSavingsAmount,
		d.DeclaredSocialFund,
		d.DeclaredAdminFund,
		d.DeclaredPenalties,
		d.DeclaredInterestOnLoan,
		d.DeclaredLoanRepayment,
	)
}

// LoanPortion is the part of the total destined for an outstanding loan.
func (d *Declaration) LoanPortion() decimal.Decimal {
	return d.DeclaredInterestOnLoan.Add(d.DeclaredLoanRepayment)
}

// MonthStart normalizes t to midnight UTC on the first of its month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

type DepositStatus string

const (
	DepositSubmitted DepositStatus = "submitted"
	DepositApproved  DepositStatus = "approved"
	DepositRejected  DepositStatus = "rejected"
	// Approved, then undone by a reversal. Terminal.
	DepositReversed DepositStatus = "reversed"
)

type DepositProof struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	DeclarationID    uuid.UUID       `db:"declaration_id" json:"declaration_id"`
	MemberID         uuid.UUID       `db:"member_id" json:"member_id"`
	Amount           decimal.Decimal `db:"amount" json:"amount"`
	Reference        string          `db:"reference" json:"reference"`
	UploadPath       string          `db:"upload_path" json:"upload_path"` // Blob store key
	Status           DepositStatus   `db:"status" json:"status"`
	TreasurerComment string          `db:"treasurer_comment" json:"treasurer_comment"`
	MemberResponse   string          `db:"member_response" json:"member_response"`
	RejectedAt       *time.Time      `db:"rejected_at" json:"rejected_at,omitempty"`
	ApprovedAt       *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	UploadedAt       time.Time       `db:"uploaded_at" json:"uploaded_at"`
	Version          int64           `db:"version" json:"-"`
}
