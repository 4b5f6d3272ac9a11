package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestTermJSON(t *testing.T) {
	var r InterestRateRange
	if err := json.Unmarshal([]byte(`{"term_months": null, "effective_rate_percent": "12"}`), &r); err != nil {
		t.Fatalf("Failed to decode catch-all range: %v", err)
	}
	if !r.Term.IsAny() {
		t.Errorf("Expected catch-all term, got %s", r.Term)
	}

	if err := json.Unmarshal([]byte(`{"term_months": 3, "effective_rate_percent": 20}`), &r); err != nil {
		t.Fatalf("Failed to decode range: %v", err)
	}
	if n, ok := r.Term.Months(); !ok || n != 3 {
		t.Errorf("Expected 3 month term, got %s", r.Term)
	}

	if err := json.Unmarshal([]byte(`{"term_months": 0}`), &r); err == nil {
		t.Errorf("Expected zero month term to be rejected")
	}

	b, _ := json.Marshal(InterestRateRange{Term: AnyTerm()})
	var raw map[string]any
	json.Unmarshal(b, &raw)
	if raw["term_months"] != nil {
		t.Errorf("Expected catch-all to encode as null, got %v", raw["term_months"])
	}
}

func TestTermScanValue(t *testing.T) {
	v, err := TermOf(6).Value()
	if err != nil || v != int64(6) {
		t.Errorf("Expected 6, got %v (%v)", v, err)
	}
	v, _ = AnyTerm().Value()
	if v != nil {
		t.Errorf("Expected NULL for catch-all, got %v", v)
	}

	var term Term
	if err := term.Scan(nil); err != nil || !term.IsAny() {
		t.Errorf("Expected NULL to scan as catch-all")
	}
	if err := term.Scan(int64(12)); err != nil {
		t.Fatalf("Failed to scan: %v", err)
	}
	if n, _ := term.Months(); n != 12 {
		t.Errorf("Expected 12, got %d", n)
	}
}

func TestDeclarationTotal(t *testing.T) {
	d := Declaration{
		DeclaredSavingsAmount:  decimal.NewFromInt(100),
		DeclaredSocialFund:     decimal.NewFromInt(20),
		DeclaredAdminFund:      decimal.NewFromFloat(2.5),
		DeclaredPenalties:      decimal.NewFromInt(1),
		DeclaredInterestOnLoan: decimal.NewFromInt(6),
		DeclaredLoanRepayment:  decimal.NewFromInt(24),
	}
	if !d.Total().Equal(decimal.RequireFromString("153.5")) {
		t.Errorf("Expected total 153.5, got %s", d.Total())
	}
	if !d.LoanPortion().Equal(decimal.NewFromInt(30)) {
		t.Errorf("Expected loan portion 30, got %s", d.LoanPortion())
	}
}

func TestMonthStart(t *testing.T) {
	got := MonthStart(time.Date(2025, 3, 17, 15, 4, 5, 0, time.UTC))
	want := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestAccountBalanceSign(t *testing.T) {
	cash := AccountBalance{Account: AccountBankCash, TotalDebit: decimal.NewFromInt(120), TotalCredit: decimal.NewFromInt(20)}
	if !cash.Balance().Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected cash balance 100, got %s", cash.Balance())
	}
	savings := AccountBalance{Account: AccountSavings, TotalCredit: decimal.NewFromInt(100)}
	if !savings.Balance().Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected savings balance 100, got %s", savings.Balance())
	}
}

func TestLoanDueDateClampsToMonthEnd(t *testing.T) {
	loan := Loan{DisbursementDate: time.Date(2025, 1, 31, 14, 30, 0, 0, time.UTC)}
	tests := []struct {
		installment int
		want        time.Time
	}{
		{1, time.Date(2025, 2, 28, 14, 30, 0, 0, time.UTC)},
		{2, time.Date(2025, 3, 31, 14, 30, 0, 0, time.UTC)},
		{3, time.Date(2025, 4, 30, 14, 30, 0, 0, time.UTC)},
		{13, time.Date(2026, 2, 28, 14, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := loan.DueDate(tt.installment); !got.Equal(tt.want) {
			t.Errorf("DueDate(%d): expected %s, got %s", tt.installment, tt.want, got)
		}
	}

	leap := Loan{DisbursementDate: time.Date(2024, 1, 30, 0, 0, 0, 0, time.UTC)}
	if got := leap.DueDate(1); !got.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 2024-02-29 in a leap year, got %s", got)
	}
	mid := Loan{DisbursementDate: time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)}
	if got := mid.DueDate(12); !got.Equal(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Expected 2026-03-10, got %s", got)
	}
}
