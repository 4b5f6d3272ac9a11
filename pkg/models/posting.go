package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account string

const (
	AccountBankCash            Account = "bank_cash"
	AccountSavings             Account = "savings"
	AccountSocialFund          Account = "social_fund"
	AccountAdminFund           Account = "admin_fund"
	AccountLoansReceivable     Account = "loans_receivable"
	AccountInterestIncome      Account = "interest_income"
	AccountPenaltyIncome       Account = "penalty_income"
	AccountUnappliedRepayments Account = "unapplied_repayments"
)

// Accounts lists every ledger account in display order.
var Accounts = []Account{
	AccountBankCash,
	AccountSavings,
	AccountSocialFund,
	AccountAdminFund,
	AccountLoansReceivable,
	AccountInterestIncome,
	AccountPenaltyIncome,
	AccountUnappliedRepayments,
}

// DebitNormal reports whether the account's balance grows with debits (assets).
func (a Account) DebitNormal() bool {
	return a == AccountBankCash || a == AccountLoansReceivable
}

type SourceType string

const (
	SourceDeposit          SourceType = "deposit"
	SourceLoanDisbursement SourceType = "loan_disbursement"
	SourceRepayment        SourceType = "repayment"
	SourceReversal         SourceType = "reversal"
)

type LedgerPosting struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Account    Account         `db:"account" json:"account"`
	Debit      decimal.Decimal `db:"debit" json:"debit"`
	Credit     decimal.Decimal `db:"credit" json:"credit"`
	SourceType SourceType      `db:"source_type" json:"source_type"`
	SourceID   uuid.UUID       `db:"source_id" json:"source_id"`
	MemberID   uuid.NullUUID   `db:"member_id" json:"member_id"`
	CycleID    uuid.NullUUID   `db:"cycle_id" json:"cycle_id"`
	Memo       string          `db:"memo" json:"memo"`
	PostedAt   time.Time       `db:"posted_at" json:"posted_at"`
}

// AccountBalance is the net of all postings to one account.
type AccountBalance struct {
	Account     Account         `db:"account" json:"account"`
	TotalDebit  decimal.Decimal `db:"total_debit" json:"total_debit"`
	TotalCredit decimal.Decimal `db:"total_credit" json:"total_credit"`
}

// Balance is signed by the account's normal side.
func (b AccountBalance) Balance() decimal.Decimal {
	if b.Account.DebitNormal() {
		return b.TotalDebit.Sub(b.TotalCredit)
	}
	return b.TotalCredit.Sub(b.TotalDebit)
}
