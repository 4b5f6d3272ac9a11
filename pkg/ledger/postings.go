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

// journal collects the lines of one balanced entry. Lines to the same account
// on the same side are merged and zero amounts are dropped, so each account
// appears at most once per source.
type journal struct {
	source   models.SourceType
	sourceID uuid.UUID
	memberID uuid.NullUUID
	cycleID  uuid.NullUUID
	memo     string
	lines    map[models.Account]decimal.Decimal // positive = debit
	order    []models.Account
}

func newJournal(source models.SourceType, sourceID uuid.UUID, memo string) *journal {
	return &journal{
		source:   source,
		sourceID: sourceID,
		memo:     memo,
		lines:    make(map[models.Account]decimal.Decimal),
	}
}

func (j *journal) forMember(memberID, cycleID uuid.UUID) *journal {
	j.memberID = uuid.NullUUID{UUID: memberID, Valid: true}
	j.cycleID = uuid.NullUUID{UUID: cycleID, Valid: true}
	return j
}

func (j *journal) add(a models.Account, signed decimal.Decimal) {
	if _, ok := j.lines[a]; !ok {
		j.order = append(j.order, a)
	}
	j.lines[a] = j.lines[a].Add(signed)
}

func (j *journal) debit(a models.Account, amount decimal.Decimal) *journal {
	j.add(a, amount)
	return j
}

func (j *journal) credit(a models.Account, amount decimal.Decimal) *journal {
	j.add(a, amount.Neg())
	return j
}

// postings checks the entry balances and returns its rows.
func (j *journal) postings(at time.Time) ([]*models.LedgerPosting, error) {
	var debits, credits decimal.Decimal
	var out []*models.LedgerPosting
	for _, a := range j.order {
		amt := j.lines[a]
		if amt.IsZero() {
			continue
		}
		p := &models.LedgerPosting{
			ID:         uuid.New(),
			Account:    a,
			Debit:      decimal.Zero,
			Credit:     decimal.Zero,
			SourceType: j.source,
			SourceID:   j.sourceID,
			MemberID:   j.memberID,
			CycleID:    j.cycleID,
			Memo:       j.memo,
			PostedAt:   at,
		}
		if amt.IsPositive() {
			p.Debit = amt
			debits = debits.Add(amt)
		} else {
			p.Credit = amt.Neg()
			credits = credits.Add(p.Credit)
		}
		out = append(out, p)
	}
	if !debits.Equal(credits) {
		return nil, fmt.Errorf("unbalanced journal for %s %s: debits %s, credits %s", j.source, j.sourceID, debits, credits)
	}
	return out, nil
}

// post writes the entry in r's transaction.
func (l *Ledger) post(ctx context.Context, r store.Repository, j *journal) ([]*models.LedgerPosting, error) {
	postings, err := j.postings(l.now())
	if err != nil {
		return nil, err
	}
	if len(postings) == 0 {
		return nil, nil
	}
	if err := r.CreatePostings(ctx, postings); err != nil {
		return nil, err
	}
	return postings, nil
}

// ReverseSource posts compensating entries for every posting of one source
// and undoes the record behind them in the same transaction. The reversal
// carries source type reversal and the original source ID, so a source can be
// reversed once.
//
// A loan's repayments are reversed newest first. A disbursement can be
// reversed while the loan has no live repayments, and a deposit once the
// repayment it funded has been reversed.
func (l *Ledger) ReverseSource(ctx context.Context, actor models.Actor, source models.SourceType, sourceID uuid.UUID, reason string) ([]*models.LedgerPosting, error) {
	if err := require(actor, models.RoleTreasurer); err != nil {
		return nil, err
	}
	if source == models.SourceReversal {
		return nil, apperr.Validationf("reversals cannot be reversed")
	}
	if reason == "" {
		return nil, apperr.Validationf("a reason is required")
	}
	var reversed []*models.LedgerPosting
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		originals, err := r.ListPostings(ctx, store.PostingFilter{
			SourceType: source,
			SourceID:   uuid.NullUUID{UUID: sourceID, Valid: true},
		})
		if err != nil {
			return err
		}
		if len(originals) == 0 {
			return apperr.NotFoundf("no postings for %s %s", source, sourceID)
		}
		if err := l.undo(ctx, r, source, sourceID); err != nil {
			return err
		}
		j := newJournal(models.SourceReversal, sourceID, fmt.Sprintf("reversal of %s: %s", source, reason))
		j.memberID = originals[0].MemberID
		j.cycleID = originals[0].CycleID
		for _, p := range originals {
			j.add(p.Account, p.Credit.Sub(p.Debit))
		}
		reversed, err = l.post(ctx, r, j)
		if apperr.KindOf(err) == apperr.KindConflict {
			return apperr.Conflictf("%s %s was already reversed", source, sourceID)
		}
		return err
	})
	if err != nil {
		l.logError("ReverseSource", "reverse postings", sourceID, err)
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{"source_type": source, "source_id": sourceID, "postings": len(reversed)}).Info("Postings reversed")
	l.record(actor, "reverse_source", map[string]any{"source_type": source, "source_id": sourceID, "reason": reason})
	return reversed, nil
}

func (l *Ledger) undo(ctx context.Context, r store.Repository, source models.SourceType, id uuid.UUID) error {
	switch source {
	case models.SourceRepayment:
		return l.undoRepayment(ctx, r, id)
	case models.SourceLoanDisbursement:
		return l.undoDisbursement(ctx, r, id)
	case models.SourceDeposit:
		return l.undoDeposit(ctx, r, id)
	}
	return apperr.Validationf("%s postings cannot be reversed", source)
}

// undoRepayment marks the repayment reversed and gives its principal back to
// the loan balance and its interest back to accrued interest.
func (l *Ledger) undoRepayment(ctx context.Context, r store.Repository, id uuid.UUID) error {
	rp, err := r.GetRepayment(ctx, id)
	if err != nil {
		return err
	}
	if rp.Reversed() {
		return apperr.Conflictf("repayment %s was already reversed", id)
	}
	all, err := r.ListRepayments(ctx, rp.LoanID)
	if err != nil {
		return err
	}
	live := liveRepayments(all)
	if last := live[len(live)-1]; last.ID != rp.ID {
		return apperr.Preconditionf("repayment %s is followed by repayment %s; reverse that first", id, last.ID)
	}
	loan, err := r.GetLoan(ctx, rp.LoanID)
	if err != nil {
		return err
	}

	now := l.now()
	if err := r.MarkRepaymentReversed(ctx, rp, now); err != nil {
		return err
	}
	loan.Balance = loan.Balance.Add(rp.PrincipalPortion)
	loan.AccruedInterest = loan.AccruedInterest.Add(rp.InterestPortion)
	loan.Status = models.LoanStatusActive
	loan.UpdatedAt = now
	return r.UpdateLoan(ctx, loan)
}

func (l *Ledger) undoDisbursement(ctx context.Context, r store.Repository, loanID uuid.UUID) error {
	loan, err := r.GetLoan(ctx, loanID)
	if err != nil {
		return err
	}
	if loan.Status == models.LoanStatusReversed {
		return apperr.Conflictf("loan %s was already reversed", loanID)
	}
	all, err := r.ListRepayments(ctx, loanID)
	if err != nil {
		return err
	}
	if n := len(liveRepayments(all)); n > 0 {
		return apperr.Preconditionf("loan %s has %d repayments; reverse them first", loanID, n)
	}
	loan.Status = models.LoanStatusReversed
	loan.Balance = decimal.Zero
	loan.AccruedInterest = decimal.Zero
	loan.UpdatedAt = l.now()
	return r.UpdateLoan(ctx, loan)
}

// undoDeposit moves the proof and its declaration to reversed, which frees the
// month for a new declaration.
func (l *Ledger) undoDeposit(ctx context.Context, r store.Repository, depositID uuid.UUID) error {
	p, err := r.GetDepositProof(ctx, depositID)
	if err != nil {
		return err
	}
	switch p.Status {
	case models.DepositApproved:
	case models.DepositReversed:
		return apperr.Conflictf("deposit %s was already reversed", depositID)
	default:
		return apperr.Preconditionf("deposit is %s", p.Status)
	}

	loans, err := r.ListLoans(ctx, store.LoanFilter{MemberID: uuid.NullUUID{UUID: p.MemberID, Valid: true}})
	if err != nil {
		return err
	}
	for _, loan := range loans {
		all, err := r.ListRepayments(ctx, loan.ID)
		if err != nil {
			return err
		}
		for _, rp := range liveRepayments(all) {
			if rp.DepositID.Valid && rp.DepositID.UUID == depositID {
				return apperr.Preconditionf("deposit %s funded repayment %s; reverse that first", depositID, rp.ID)
			}
		}
	}

	d, err := r.GetDeclaration(ctx, p.DeclarationID)
	if err != nil {
		return err
	}
	now := l.now()
	p.Status = models.DepositReversed
	if err := r.UpdateDepositProof(ctx, p); err != nil {
		return err
	}
	d.Status = models.DeclarationReversed
	d.UpdatedAt = now
	return r.UpdateDeclaration(ctx, d)
}

func (l *Ledger) Postings(ctx context.Context, actor models.Actor, f store.PostingFilter) ([]*models.LedgerPosting, error) {
	if f.MemberID.Valid {
		if err := requireSelfOrStaff(actor, f.MemberID.UUID); err != nil {
			return nil, err
		}
	} else if err := require(actor, staff...); err != nil {
		return nil, err
	}
	return l.storage.ListPostings(ctx, f)
}

// Balances returns every account's totals under the filter.
func (l *Ledger) Balances(ctx context.Context, actor models.Actor, f store.PostingFilter) ([]models.AccountBalance, error) {
	if f.MemberID.Valid {
		if err := requireSelfOrStaff(actor, f.MemberID.UUID); err != nil {
			return nil, err
		}
	} else if err := require(actor, staff...); err != nil {
		return nil, err
	}
	return l.storage.AccountBalances(ctx, f)
}
