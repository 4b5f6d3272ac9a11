// Package report builds trial balances and member statements from ledger
// postings and exports them as spreadsheets.
package report

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter prints amounts with the grouping and decimal marks of a locale.
type Formatter struct {
	printer *message.Printer
}

// NewFormatter accepts a BCP 47 tag such as "en" or "fr"; unknown tags fall back to English.
func NewFormatter(tag string) *Formatter {
	lang, err := language.Parse(tag)
	if err != nil {
		lang = language.English
	}
	return &Formatter{printer: message.NewPrinter(lang)}
}

func (f *Formatter) Amount(d decimal.Decimal) string {
	return f.printer.Sprintf("%.2f", d.Round(2).InexactFloat64())
}

type TrialBalanceLine struct {
	Account models.Account  `json:"account"`
	Debit   decimal.Decimal `json:"debit"`
	Credit  decimal.Decimal `json:"credit"`
	Balance decimal.Decimal `json:"balance"`
}

type TrialBalance struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Lines       []TrialBalanceLine `json:"lines"`
	TotalDebit  decimal.Decimal    `json:"total_debit"`
	TotalCredit decimal.Decimal    `json:"total_credit"`
}

func NewTrialBalance(balances []models.AccountBalance, at time.Time) *TrialBalance {
	tb := &TrialBalance{GeneratedAt: at}
	for _, b := range balances {
		tb.Lines = append(tb.Lines, TrialBalanceLine{
			Account: b.Account,
			Debit:   b.TotalDebit,
			Credit:  b.TotalCredit,
			Balance: b.Balance(),
		})
		tb.TotalDebit = tb.TotalDebit.Add(b.TotalDebit)
		tb.TotalCredit = tb.TotalCredit.Add(b.TotalCredit)
	}
	return tb
}

func (tb *TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

type StatementLine struct {
	PostedAt   time.Time         `json:"posted_at"`
	Account    models.Account    `json:"account"`
	SourceType models.SourceType `json:"source_type"`
	SourceID   uuid.UUID         `json:"source_id"`
	Memo       string            `json:"memo"`
	Debit      decimal.Decimal   `json:"debit"`
	Credit     decimal.Decimal   `json:"credit"`
}

// Statement is a member's postings in date order with per-account totals.
type Statement struct {
	MemberID    uuid.UUID                          `json:"member_id"`
	GeneratedAt time.Time                          `json:"generated_at"`
	Lines       []StatementLine                    `json:"lines"`
	Totals      map[models.Account]decimal.Decimal `json:"totals"`
}

func NewStatement(memberID uuid.UUID, postings []*models.LedgerPosting, at time.Time) *Statement {
	s := &Statement{
		MemberID:    memberID,
		GeneratedAt: at,
		Totals:      make(map[models.Account]decimal.Decimal),
	}
	for _, p := range postings {
		s.Lines = append(s.Lines, StatementLine{
			PostedAt:   p.PostedAt,
			Account:    p.Account,
			SourceType: p.SourceType,
			SourceID:   p.SourceID,
			Memo:       p.Memo,
			Debit:      p.Debit,
			Credit:     p.Credit,
		})
		b := models.AccountBalance{Account: p.Account, TotalDebit: p.Debit, TotalCredit: p.Credit}
		s.Totals[p.Account] = s.Totals[p.Account].Add(b.Balance())
	}
	sort.SliceStable(s.Lines, func(i, j int) bool {
		return s.Lines[i].PostedAt.Before(s.Lines[j].PostedAt)
	})
	return s
}

const amountFormat = "#,##0.00"

// sheet wraps the workbook calls shared by both exports.
type sheet struct {
	f      *excelize.File
	name   string
	amount int
	bold   int
	err    error
}

func newSheet(name string) (*sheet, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", name); err != nil {
		f.Close()
		return nil, err
	}
	numFmt := amountFormat
	amount, err := f.NewStyle(&excelize.Style{CustomNumFmt: &numFmt})
	if err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &sheet{f: f, name: name, amount: amount, bold: bold}, nil
}

// row writes values starting at column A. Decimal values get the amount style.
func (s *sheet) row(n int, values ...any) {
	for i, v := range values {
		if s.err != nil {
			return
		}
		cell, err := excelize.CoordinatesToCellName(i+1, n)
		if err != nil {
			s.err = err
			return
		}
		if d, ok := v.(decimal.Decimal); ok {
			s.err = s.f.SetCellValue(s.name, cell, d.InexactFloat64())
			if s.err == nil {
				s.err = s.f.SetCellStyle(s.name, cell, cell, s.amount)
			}
			continue
		}
		s.err = s.f.SetCellValue(s.name, cell, v)
	}
}

func (s *sheet) header(n int, titles ...string) {
	values := make([]any, len(titles))
	for i, t := range titles {
		values[i] = t
	}
	s.row(n, values...)
	if s.err == nil {
		last, _ := excelize.CoordinatesToCellName(len(titles), n)
		s.err = s.f.SetCellStyle(s.name, fmt.Sprintf("A%d", n), last, s.bold)
	}
}

func (s *sheet) write(w io.Writer) error {
	defer s.f.Close()
	if s.err != nil {
		return fmt.Errorf("failed to build %s sheet: %w", s.name, s.err)
	}
	if err := s.f.SetColWidth(s.name, "A", "G", 18); err != nil {
		return err
	}
	return s.f.Write(w)
}

// WriteXLSX writes the trial balance as a one-sheet workbook.
func (tb *TrialBalance) WriteXLSX(w io.Writer) error {
	s, err := newSheet("Trial Balance")
	if err != nil {
		return err
	}
	s.row(1, "Generated", tb.GeneratedAt.Format(time.RFC3339))
	s.header(3, "Account", "Debit", "Credit", "Balance")
	n := 4
	for _, l := range tb.Lines {
		s.row(n, string(l.Account), l.Debit, l.Credit, l.Balance)
		n++
	}
	s.row(n, "Total", tb.TotalDebit, tb.TotalCredit)
	return s.write(w)
}

// WriteXLSX writes the statement lines followed by per-account totals.
func (st *Statement) WriteXLSX(w io.Writer) error {
	s, err := newSheet("Statement")
	if err != nil {
		return err
	}
	s.row(1, "Member", st.MemberID.String())
	s.row(2, "Generated", st.GeneratedAt.Format(time.RFC3339))
	s.header(4, "Date", "Account", "Source", "Memo", "Debit", "Credit")
	n := 5
	for _, l := range st.Lines {
		s.row(n, l.PostedAt.Format("2006-01-02"), string(l.Account), string(l.SourceType), l.Memo, l.Debit, l.Credit)
		n++
	}
	n++
	s.header(n, "Account", "Total")
	n++
	for _, a := range models.Accounts {
		total, ok := st.Totals[a]
		if !ok {
			continue
		}
		s.row(n, string(a), total)
		n++
	}
	return s.write(w)
}
