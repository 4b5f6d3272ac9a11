package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

func TestFormatterAmount(t *testing.T) {
	en := NewFormatter("en")
	if got := en.Amount(decimal.RequireFromString("1234567.891")); got != "1,234,567.89" {
		t.Errorf("Expected 1,234,567.89, got %s", got)
	}
	if got := NewFormatter("not a tag!").Amount(decimal.NewFromInt(5)); got != "5.00" {
		t.Errorf("Expected 5.00, got %s", got)
	}
}

func TestTrialBalanceXLSX(t *testing.T) {
	balances := []models.AccountBalance{
		{Account: models.AccountBankCash, TotalDebit: decimal.NewFromInt(120)},
		{Account: models.AccountSavings, TotalCredit: decimal.NewFromInt(100)},
		{Account: models.AccountSocialFund, TotalCredit: decimal.NewFromInt(20)},
	}
	tb := NewTrialBalance(balances, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC))
	if !tb.Balanced() {
		t.Fatalf("Expected a balanced trial balance, got %s/%s", tb.TotalDebit, tb.TotalCredit)
	}

	var buf bytes.Buffer
	if err := tb.WriteXLSX(&buf); err != nil {
		t.Fatalf("Failed to write workbook: %v", err)
	}
	f, err := excelize.OpenReader(&buf)
	if err != nil {
		t.Fatalf("Failed to open workbook: %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("Trial Balance", "A5"); got != "savings" {
		t.Errorf("Expected savings on row 5, got %q", got)
	}
	if got, _ := f.GetCellValue("Trial Balance", "D4", excelize.Options{RawCellValue: true}); got != "120" {
		t.Errorf("Expected bank cash balance 120, got %q", got)
	}
}

func TestStatementTotals(t *testing.T) {
	memberID := uuid.New()
	early := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	postings := []*models.LedgerPosting{
		{Account: models.AccountSavings, Credit: decimal.NewFromInt(100), Debit: decimal.Zero, PostedAt: early.AddDate(0, 1, 0)},
		{Account: models.AccountSavings, Credit: decimal.NewFromInt(50), Debit: decimal.Zero, PostedAt: early},
		{Account: models.AccountLoansReceivable, Debit: decimal.NewFromInt(900), Credit: decimal.Zero, PostedAt: early},
	}
	st := NewStatement(memberID, postings, early)
	if !st.Totals[models.AccountSavings].Equal(decimal.NewFromInt(150)) {
		t.Errorf("Expected savings 150, got %s", st.Totals[models.AccountSavings])
	}
	if !st.Totals[models.AccountLoansReceivable].Equal(decimal.NewFromInt(900)) {
		t.Errorf("Expected loans receivable 900, got %s", st.Totals[models.AccountLoansReceivable])
	}
	if !st.Lines[0].PostedAt.Equal(early) {
		t.Errorf("Expected lines in date order")
	}

	var buf bytes.Buffer
	if err := st.WriteXLSX(&buf); err != nil {
		t.Fatalf("Failed to write workbook: %v", err)
	}
	if buf.Len() == 0 {
		t.Errorf("Expected a non-empty workbook")
	}
}
