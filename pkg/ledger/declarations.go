package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
)

// DeclarationAmounts are the member-declared parts of a monthly contribution.
type DeclarationAmounts struct {
	Savings        decimal.Decimal `json:"declared_savings_amount" validate:"gte=0"`
	SocialFund     decimal.Decimal `json:"declared_social_fund" validate:"gte=0"`
	AdminFund      decimal.Decimal `json:"declared_admin_fund" validate:"gte=0"`
	Penalties      decimal.Decimal `json:"declared_penalties" validate:"gte=0"`
	InterestOnLoan decimal.Decimal `json:"declared_interest_on_loan" validate:"gte=0"`
	LoanRepayment  decimal.Decimal `json:"declared_loan_repayment" validate:"gte=0"`
}

type DeclarationInput struct {
	MemberID       uuid.UUID `json:"member_id" validate:"required"`
	CycleID        uuid.UUID `json:"cycle_id" validate:"required"`
	EffectiveMonth time.Time `json:"effective_month" validate:"required"`
	DeclarationAmounts
}

func (a DeclarationAmounts) applyTo(d *models.Declaration) {
	d.DeclaredSavingsAmount = a.Savings
	d.DeclaredSocialFund = a.SocialFund
	d.DeclaredAdminFund = a.AdminFund
	d.DeclaredPenalties = a.Penalties
	d.DeclaredInterestOnLoan = a.InterestOnLoan
	d.DeclaredLoanRepayment = a.LoanRepayment
}

// checkDeclared enforces the cycle's fund minimums and a positive total.
func checkDeclared(c *models.Cycle, d *models.Declaration) error {
	if d.DeclaredSocialFund.LessThan(c.SocialFundRequired) {
		return apperr.Validationf("social fund %s is below the required %s", d.DeclaredSocialFund.StringFixed(2), c.SocialFundRequired.StringFixed(2))
	}
	if d.DeclaredAdminFund.LessThan(c.AdminFundRequired) {
		return apperr.Validationf("admin fund %s is below the required %s", d.DeclaredAdminFund.StringFixed(2), c.AdminFundRequired.StringFixed(2))
	}
	if !d.Total().IsPositive() {
		return apperr.Validationf("declaration total must be positive")
	}
	return nil
}

// CreateDeclaration records a member's contribution for a month. The
// declaration window must be open and the month not yet declared.
func (l *Ledger) CreateDeclaration(ctx context.Context, actor models.Actor, in DeclarationInput) (*models.Declaration, error) {
	if err := requireSelf(actor, in.MemberID); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	now := l.now()
	d := &models.Declaration{
		ID:             uuid.New(),
		MemberID:       in.MemberID,
		CycleID:        in.CycleID,
		EffectiveMonth: models.MonthStart(in.EffectiveMonth),
		Status:         models.DeclarationPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	in.DeclarationAmounts.applyTo(d)

	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		c, err := r.GetCycle(ctx, in.CycleID)
		if err != nil {
			return err
		}
		if err := l.requirePhaseOpen(ctx, r, c, models.PhaseDeclaration); err != nil {
			return err
		}
		next := d.EffectiveMonth.AddDate(0, 1, 0)
		if !d.EffectiveMonth.Before(c.EndDate) || !next.After(c.StartDate) {
			return apperr.Validationf("month %s is outside cycle %d", d.EffectiveMonth.Format("2006-01"), c.Year)
		}
		if err := checkDeclared(c, d); err != nil {
			return err
		}
		if err := r.CreateDeclaration(ctx, d); err != nil {
			if apperr.KindOf(err) == apperr.KindConflict {
				return apperr.Wrap(apperr.ErrDuplicateDeclaration, "member %s, month %s", d.MemberID, d.EffectiveMonth.Format("2006-01"))
			}
			return err
		}
		return nil
	})
	if err != nil {
		l.logError("CreateDeclaration", "create declaration", in.MemberID, err)
		return nil, err
	}
	l.record(actor, "create_declaration", map[string]any{"declaration_id": d.ID, "month": d.EffectiveMonth.Format("2006-01"), "total": d.Total().String()})
	return d, nil
}

// UpdateDeclaration replaces the declared amounts while no proof is awaiting
// review: the declaration must be pending, or its proof rejected.
func (l *Ledger) UpdateDeclaration(ctx context.Context, actor models.Actor, id uuid.UUID, in DeclarationAmounts) (*models.Declaration, error) {
	if err := check(in); err != nil {
		return nil, err
	}
	var d *models.Declaration
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if d, err = r.GetDeclaration(ctx, id); err != nil {
			return err
		}
		if err := requireSelf(actor, d.MemberID); err != nil {
			return err
		}
		if d.Status != models.DeclarationPending && d.Status != models.DeclarationRejected {
			return apperr.Preconditionf("declaration is %s", d.Status)
		}
		c, err := mutableCycle(ctx, r, d.CycleID)
		if err != nil {
			return err
		}
		in.applyTo(d)
		if err := checkDeclared(c, d); err != nil {
			return err
		}
		d.UpdatedAt = l.now()
		return r.UpdateDeclaration(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "update_declaration", map[string]any{"declaration_id": id, "total": d.Total().String()})
	return d, nil
}

func (l *Ledger) GetDeclaration(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Declaration, error) {
	d, err := l.storage.GetDeclaration(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireSelfOrStaff(actor, d.MemberID); err != nil {
		return nil, err
	}
	return d, nil
}

func (l *Ledger) ListDeclarations(ctx context.Context, actor models.Actor, f store.DeclarationFilter) ([]*models.Declaration, error) {
	if err := scopeFilter(actor, &f.MemberID); err != nil {
		return nil, err
	}
	return l.storage.ListDeclarations(ctx, f)
}
