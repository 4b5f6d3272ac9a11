package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mcclellann/vsla/pkg/models"
)

const declarationColumns = `id, member_id, cycle_id, effective_month, declared_savings_amount, declared_social_fund, declared_admin_fund,
	declared_penalties, declared_interest_on_loan, declared_loan_repayment, status, created_at, updated_at, version`

const depositColumns = `id, declaration_id, member_id, amount, reference, upload_path, status, treasurer_comment, member_response,
	rejected_at, approved_at, uploaded_at, version`

func (r *repo) CreateDeclaration(ctx context.Context, d *models.Declaration) error {
	d.Version = 1
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO declarations (`+declarationColumns+`)
		VALUES (:id, :member_id, :cycle_id, :effective_month, :declared_savings_amount, :declared_social_fund, :declared_admin_fund,
			:declared_penalties, :declared_interest_on_loan, :declared_loan_repayment, :status, :created_at, :updated_at, :version)`, d)
	if err != nil {
		return insertErr("declaration", err)
	}
	return nil
}

func (r *repo) GetDeclaration(ctx context.Context, id uuid.UUID) (*models.Declaration, error) {
	var d models.Declaration
	if err := r.get(ctx, "declaration", &d, `SELECT `+declarationColumns+` FROM declarations WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *repo) UpdateDeclaration(ctx context.Context, d *models.Declaration) error {
	err := r.casUpdate(ctx, "declaration",
		`UPDATE declarations SET declared_savings_amount = ?, declared_social_fund = ?, declared_admin_fund = ?, declared_penalties = ?,
			declared_interest_on_loan = ?, declared_loan_repayment = ?, status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		d.DeclaredSavingsAmount, d.DeclaredSocialFund, d.DeclaredAdminFund, d.DeclaredPenalties,
		d.DeclaredInterestOnLoan, d.DeclaredLoanRepayment, d.Status, d.UpdatedAt, d.ID, d.Version)
	if err != nil {
		return err
	}
	d.Version++
	return nil
}

func (r *repo) ListDeclarations(ctx context.Context, f DeclarationFilter) ([]*models.Declaration, error) {
	var w where
	if f.MemberID.Valid {
		w.add("member_id = ?", f.MemberID.UUID)
	}
	if f.CycleID.Valid {
		w.add("cycle_id = ?", f.CycleID.UUID)
	}
	if f.Status != "" {
		w.add("status = ?", f.Status)
	}
	var decls []*models.Declaration
	err := sqlx.SelectContext(ctx, r.ext, &decls,
		`SELECT `+declarationColumns+` FROM declarations`+w.String()+` ORDER BY effective_month ASC, created_at ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list declarations: %w", err)
	}
	return decls, nil
}

func (r *repo) CreateDepositProof(ctx context.Context, p *models.DepositProof) error {
	p.Version = 1
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO deposit_proofs (`+depositColumns+`)
		VALUES (:id, :declaration_id, :member_id, :amount, :reference, :upload_path, :status, :treasurer_comment, :member_response,
			:rejected_at, :approved_at, :uploaded_at, :version)`, p)
	if err != nil {
		return insertErr("deposit proof", err)
	}
	return nil
}

func (r *repo) GetDepositProof(ctx context.Context, id uuid.UUID) (*models.DepositProof, error) {
	var p models.DepositProof
	if err := r.get(ctx, "deposit proof", &p, `SELECT `+depositColumns+` FROM deposit_proofs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) UpdateDepositProof(ctx context.Context, p *models.DepositProof) error {
	err := r.casUpdate(ctx, "deposit proof",
		`UPDATE deposit_proofs SET amount = ?, reference = ?, upload_path = ?, status = ?, treasurer_comment = ?, member_response = ?,
			rejected_at = ?, approved_at = ?, uploaded_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		p.Amount, p.Reference, p.UploadPath, p.Status, p.TreasurerComment, p.MemberResponse,
		p.RejectedAt, p.ApprovedAt, p.UploadedAt, p.ID, p.Version)
	if err != nil {
		return err
	}
	p.Version++
	return nil
}

func (r *repo) ListDepositProofs(ctx context.Context, status models.DepositStatus) ([]*models.DepositProof, error) {
	var w where
	if status != "" {
		w.add("status = ?", status)
	}
	var proofs []*models.DepositProof
	err := sqlx.SelectContext(ctx, r.ext, &proofs, `SELECT `+depositColumns+` FROM deposit_proofs`+w.String()+` ORDER BY uploaded_at ASC`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deposit proofs: %w", err)
	}
	return proofs, nil
}
