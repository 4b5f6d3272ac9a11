package ledger

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/blobstore"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Document is an uploaded proof file.
type Document struct {
	Filename string
	Body     io.Reader
}

type ProofInput struct {
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
	Reference string          `json:"reference" validate:"max=100"`
	File      *Document       `json:"-" validate:"required"`
}

// ResubmitInput replaces parts of a rejected proof. Nil fields keep their value.
type ResubmitInput struct {
	Amount    *decimal.Decimal `json:"amount"`
	Reference *string          `json:"reference"`
	File      *Document        `json:"-"`
	Comment   string           `json:"comment" validate:"max=1000"`
}

// matches reports whether amount is within tolerance of the declaration total.
func (l *Ledger) matches(d *models.Declaration, amount decimal.Decimal) error {
	total := d.Total()
	if amount.Sub(total).Abs().GreaterThan(l.tolerance) {
		return apperr.Wrap(apperr.ErrAmountMismatch, "proof %s, declared total %s", amount.StringFixed(2), total.StringFixed(2))
	}
	return nil
}

// stage writes the document to the blob store before any database work.
func (l *Ledger) stage(ctx context.Context, declarationID uuid.UUID, doc *Document) (string, error) {
	if l.blobs == nil {
		return "", fmt.Errorf("no blob store configured")
	}
	ext := strings.ToLower(filepath.Ext(doc.Filename))
	key := fmt.Sprintf("proofs/%s/%s%s", declarationID, uuid.New(), ext)
	bctx, cancel := l.blobCtx(ctx)
	defer cancel()
	if err := blobstore.Write(bctx, l.blobs, key, doc.Body); err != nil {
		return "", fmt.Errorf("failed to store proof document: %w", err)
	}
	return key, nil
}

// unstage removes a document whose database transaction failed.
func (l *Ledger) unstage(ctx context.Context, key string) {
	bctx, cancel := l.blobCtx(ctx)
	defer cancel()
	if err := l.blobs.Delete(bctx, key); err != nil {
		l.logger.WithFields(logrus.Fields{"key": key, "error": err.Error()}).Warn("Failed to remove staged proof document")
	}
}

// UploadProof attaches a proof of payment to a pending declaration. The file
// is stored first; the proof row is written only if the store succeeds, and
// the file is removed again if the database transaction fails.
func (l *Ledger) UploadProof(ctx context.Context, actor models.Actor, declarationID uuid.UUID, in ProofInput) (*models.DepositProof, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	verify := func(r store.Repository) (*models.Declaration, error) {
		d, err := r.GetDeclaration(ctx, declarationID)
		if err != nil {
			return nil, err
		}
		if err := requireSelf(actor, d.MemberID); err != nil {
			return nil, err
		}
		if d.Status != models.DeclarationPending {
			return nil, apperr.Preconditionf("declaration is %s, not pending", d.Status)
		}
		if err := l.matches(d, in.Amount); err != nil {
			return nil, err
		}
		c, err := r.GetCycle(ctx, d.CycleID)
		if err != nil {
			return nil, err
		}
		return d, l.requirePhaseOpen(ctx, r, c, models.PhaseDeposits)
	}
	if _, err := verify(l.storage); err != nil {
		return nil, err
	}

	key, err := l.stage(ctx, declarationID, in.File)
	if err != nil {
		l.logError("UploadProof", "stage document", declarationID, err)
		return nil, err
	}

	var p *models.DepositProof
	err = l.storage.WithTx(ctx, func(r store.Repository) error {
		d, err := verify(r)
		if err != nil {
			return err
		}
		now := l.now()
		p = &models.DepositProof{
			ID:            uuid.New(),
			DeclarationID: d.ID,
			MemberID:      d.MemberID,
			Amount:        in.Amount,
			Reference:     in.Reference,
			UploadPath:    key,
			Status:        models.DepositSubmitted,
			UploadedAt:    now,
		}
		if err := r.CreateDepositProof(ctx, p); err != nil {
			return err
		}
		d.Status = models.DeclarationProof
		d.UpdatedAt = now
		return r.UpdateDeclaration(ctx, d)
	})
	if err != nil {
		l.unstage(ctx, key)
		l.logError("UploadProof", "record deposit proof", declarationID, err)
		return nil, err
	}
	l.record(actor, "upload_proof", map[string]any{"deposit_id": p.ID, "declaration_id": declarationID, "amount": p.Amount.String()})
	return p, nil
}

// ApproveDeposit approves a submitted or previously rejected proof and posts
// the declaration to the ledger in the same transaction. A second approval
// fails with apperr.ErrAlreadyApproved and posts nothing.
func (l *Ledger) ApproveDeposit(ctx context.Context, actor models.Actor, depositID uuid.UUID) (*models.DepositProof, error) {
	if err := require(actor, models.RoleTreasurer); err != nil {
		return nil, err
	}
	var p *models.DepositProof
	var applied *models.Repayment
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if p, err = r.GetDepositProof(ctx, depositID); err != nil {
			return err
		}
		switch p.Status {
		case models.DepositSubmitted, models.DepositRejected:
		case models.DepositApproved:
			return apperr.Wrap(apperr.ErrAlreadyApproved, "deposit %s", p.ID)
		default:
			return apperr.Preconditionf("deposit is %s", p.Status)
		}
		d, err := r.GetDeclaration(ctx, p.DeclarationID)
		if err != nil {
			return err
		}
		if err := l.matches(d, p.Amount); err != nil {
			return err
		}

		now := l.now()
		p.Status = models.DepositApproved
		p.ApprovedAt = &now
		if err := r.UpdateDepositProof(ctx, p); err != nil {
			return err
		}
		d.Status = models.DeclarationApproved
		d.UpdatedAt = now
		if err := r.UpdateDeclaration(ctx, d); err != nil {
			return err
		}

		loanPortion := d.LoanPortion()
		j := newJournal(models.SourceDeposit, p.ID, "deposit for "+d.EffectiveMonth.Format("2006-01")).
			forMember(d.MemberID, d.CycleID).
			debit(models.AccountBankCash, d.Total()).
			credit(models.AccountSavings, d.DeclaredSavingsAmount).
			credit(models.AccountSocialFund, d.DeclaredSocialFund).
			credit(models.AccountAdminFund, d.DeclaredAdminFund).
			credit(models.AccountPenaltyIncome, d.DeclaredPenalties).
			credit(models.AccountUnappliedRepayments, loanPortion)
		if _, err := l.post(ctx, r, j); err != nil {
			return err
		}

		if loanPortion.IsPositive() {
			applied, err = l.applyDeclaredRepayment(ctx, r, d.MemberID, loanPortion, p.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.logError("ApproveDeposit", "approve deposit", depositID, err)
		return nil, err
	}
	fields := logrus.Fields{"deposit_id": p.ID, "declaration_id": p.DeclarationID, "amount": p.Amount.StringFixed(2)}
	details := map[string]any{"deposit_id": p.ID, "declaration_id": p.DeclarationID}
	if applied != nil {
		fields["repayment_id"] = applied.ID
		details["repayment_id"] = applied.ID
	}
	l.logger.WithFields(fields).Info("Deposit approved")
	l.record(actor, "approve_deposit", details)
	return p, nil
}

// applyDeclaredRepayment applies the loan part of an approved deposit to the
// member's oldest active loan, up to its payoff. Whatever cannot be applied
// stays in unapplied_repayments.
func (l *Ledger) applyDeclaredRepayment(ctx context.Context, r store.Repository, memberID uuid.UUID, amount decimal.Decimal, depositID uuid.UUID) (*models.Repayment, error) {
	loans, err := r.ListLoans(ctx, store.LoanFilter{
		MemberID: uuid.NullUUID{UUID: memberID, Valid: true},
		Status:   string(models.LoanStatusActive),
	})
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		l.logger.WithFields(logrus.Fields{"member_id": memberID, "amount": amount.StringFixed(2)}).Info("No active loan, repayment left unapplied")
		return nil, nil
	}
	loan := loans[0]
	now := l.now()
	pay := decimal.Min(amount, Payoff(loan, now))
	return l.applyRepayment(ctx, r, loan, pay, now, uuid.NullUUID{UUID: depositID, Valid: true})
}

// RejectDeposit rejects a proof with a comment for the member. Any earlier
// member response is cleared.
func (l *Ledger) RejectDeposit(ctx context.Context, actor models.Actor, depositID uuid.UUID, comment string) (*models.DepositProof, error) {
	if err := require(actor, models.RoleTreasurer); err != nil {
		return nil, err
	}
	comment = strings.TrimSpace(comment)
	if comment == "" {
		return nil, apperr.Validationf("a rejection comment is required")
	}
	var p *models.DepositProof
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if p, err = r.GetDepositProof(ctx, depositID); err != nil {
			return err
		}
		if p.Status != models.DepositSubmitted && p.Status != models.DepositRejected {
			return apperr.Preconditionf("deposit is %s", p.Status)
		}
		d, err := r.GetDeclaration(ctx, p.DeclarationID)
		if err != nil {
			return err
		}
		now := l.now()
		p.Status = models.DepositRejected
		p.TreasurerComment = comment
		p.RejectedAt = &now
		p.MemberResponse = ""
		if err := r.UpdateDepositProof(ctx, p); err != nil {
			return err
		}
		d.Status = models.DeclarationRejected
		d.UpdatedAt = now
		return r.UpdateDeclaration(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "reject_deposit", map[string]any{"deposit_id": depositID, "comment": comment})
	return p, nil
}

// RespondToRejection records the member's answer to a rejection. The status
// does not change.
func (l *Ledger) RespondToRejection(ctx context.Context, actor models.Actor, depositID uuid.UUID, response string) (*models.DepositProof, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, apperr.Validationf("a response is required")
	}
	var p *models.DepositProof
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if p, err = r.GetDepositProof(ctx, depositID); err != nil {
			return err
		}
		if err := requireSelf(actor, p.MemberID); err != nil {
			return err
		}
		if p.Status != models.DepositRejected {
			return apperr.Preconditionf("deposit is %s, not rejected", p.Status)
		}
		p.MemberResponse = response
		return r.UpdateDepositProof(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "respond_to_rejection", map[string]any{"deposit_id": depositID})
	return p, nil
}

// ResubmitProof puts a rejected proof back up for review, updating it in
// place. The amount is checked against the declaration's current total.
func (l *Ledger) ResubmitProof(ctx context.Context, actor models.Actor, depositID uuid.UUID, in ResubmitInput) (*models.DepositProof, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	if in.Amount != nil && !in.Amount.IsPositive() {
		return nil, apperr.Validationf("amount must be positive")
	}
	verify := func(r store.Repository) (*models.DepositProof, *models.Declaration, error) {
		p, err := r.GetDepositProof(ctx, depositID)
		if err != nil {
			return nil, nil, err
		}
		if err := requireSelf(actor, p.MemberID); err != nil {
			return nil, nil, err
		}
		if p.Status != models.DepositRejected {
			return nil, nil, apperr.Preconditionf("deposit is %s, not rejected", p.Status)
		}
		d, err := r.GetDeclaration(ctx, p.DeclarationID)
		if err != nil {
			return nil, nil, err
		}
		amount := p.Amount
		if in.Amount != nil {
			amount = *in.Amount
		}
		return p, d, l.matches(d, amount)
	}
	p, _, err := verify(l.storage)
	if err != nil {
		return nil, err
	}

	key := ""
	if in.File != nil {
		if key, err = l.stage(ctx, p.DeclarationID, in.File); err != nil {
			l.logError("ResubmitProof", "stage document", depositID, err)
			return nil, err
		}
	}

	err = l.storage.WithTx(ctx, func(r store.Repository) error {
		var d *models.Declaration
		var err error
		if p, d, err = verify(r); err != nil {
			return err
		}
		now := l.now()
		if in.Amount != nil {
			p.Amount = *in.Amount
		}
		if in.Reference != nil {
			p.Reference = *in.Reference
		}
		if key != "" {
			p.UploadPath = key
		}
		if c := strings.TrimSpace(in.Comment); c != "" {
			p.MemberResponse = c
		}
		p.Status = models.DepositSubmitted
		p.UploadedAt = now
		if err := r.UpdateDepositProof(ctx, p); err != nil {
			return err
		}
		d.Status = models.DeclarationProof
		d.UpdatedAt = now
		return r.UpdateDeclaration(ctx, d)
	})
	if err != nil {
		if key != "" {
			l.unstage(ctx, key)
		}
		l.logError("ResubmitProof", "resubmit deposit proof", depositID, err)
		return nil, err
	}
	l.record(actor, "resubmit_proof", map[string]any{"deposit_id": depositID, "amount": p.Amount.String(), "new_file": key != ""})
	return p, nil
}

func (l *Ledger) GetDepositProof(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.DepositProof, error) {
	p, err := l.storage.GetDepositProof(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireSelfOrStaff(actor, p.MemberID); err != nil {
		return nil, err
	}
	return p, nil
}

// ListDepositProofs lists proofs for review, optionally by status.
func (l *Ledger) ListDepositProofs(ctx context.Context, actor models.Actor, status models.DepositStatus) ([]*models.DepositProof, error) {
	if err := require(actor, staff...); err != nil {
		return nil, err
	}
	return l.storage.ListDepositProofs(ctx, status)
}

// ProofDocument returns the stored file of a deposit proof.
func (l *Ledger) ProofDocument(ctx context.Context, actor models.Actor, depositID uuid.UUID) ([]byte, string, error) {
	p, err := l.GetDepositProof(ctx, actor, depositID)
	if err != nil {
		return nil, "", err
	}
	if l.blobs == nil {
		return nil, "", fmt.Errorf("no blob store configured")
	}
	bctx, cancel := l.blobCtx(ctx)
	defer cancel()
	body, err := l.blobs.Get(bctx, p.UploadPath)
	if err != nil {
		return nil, "", err
	}
	return body, p.UploadPath, nil
}
