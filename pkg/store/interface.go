package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/models"
)

// Repository defines the data operations available both directly on a Storage
// and inside a transaction. Update methods compare-and-swap on Version and
// return apperr.ErrConflict when the row changed underneath the caller.
type Repository interface {
	CreateCycle(ctx context.Context, c *models.Cycle) error
	GetCycle(ctx context.Context, id uuid.UUID) (*models.Cycle, error)
	ListCycles(ctx context.Context) ([]*models.Cycle, error)
	ListCyclesByStatus(ctx context.Context, status models.CycleStatus) ([]*models.Cycle, error)
	UpdateCycle(ctx context.Context, c *models.Cycle) error

	UpsertPhaseConfig(ctx context.Context, p *models.PhaseConfig) error
	GetPhaseConfig(ctx context.Context, cycleID uuid.UUID, phase models.PhaseType) (*models.PhaseConfig, error)
	ListPhaseConfigs(ctx context.Context, cycleID uuid.UUID) ([]*models.PhaseConfig, error)

	CreateScheme(ctx context.Context, s *models.CreditRatingScheme) error
	GetScheme(ctx context.Context, id uuid.UUID) (*models.CreditRatingScheme, error)
	GetSchemeByCycle(ctx context.Context, cycleID uuid.UUID) (*models.CreditRatingScheme, error)
	CreateTier(ctx context.Context, t *models.CreditRatingTier) error
	GetTier(ctx context.Context, id uuid.UUID) (*models.CreditRatingTier, error)
	ListTiers(ctx context.Context, schemeID uuid.UUID) ([]*models.CreditRatingTier, error)
	CreateRateRange(ctx context.Context, r *models.InterestRateRange) error
	UpdateRateRange(ctx context.Context, r *models.InterestRateRange) error
	DeleteRateRange(ctx context.Context, id uuid.UUID) error
	GetRateRange(ctx context.Context, id uuid.UUID) (*models.InterestRateRange, error)
	ListRateRanges(ctx context.Context, tierID uuid.UUID) ([]models.InterestRateRange, error)
	UpsertMemberRating(ctx context.Context, r *models.MemberCreditRating) error
	GetMemberRating(ctx context.Context, memberID, cycleID uuid.UUID) (*models.MemberCreditRating, error)

	CreateDeclaration(ctx context.Context, d *models.Declaration) error
	GetDeclaration(ctx context.Context, id uuid.UUID) (*models.Declaration, error)
	UpdateDeclaration(ctx context.Context, d *models.Declaration) error
	ListDeclarations(ctx context.Context, f DeclarationFilter) ([]*models.Declaration, error)

	CreateDepositProof(ctx context.Context, p *models.DepositProof) error
	GetDepositProof(ctx context.Context, id uuid.UUID) (*models.DepositProof, error)
	UpdateDepositProof(ctx context.Context, p *models.DepositProof) error
	ListDepositProofs(ctx context.Context, status models.DepositStatus) ([]*models.DepositProof, error)

	CreateLoanApplication(ctx context.Context, a *models.LoanApplication) error
	GetLoanApplication(ctx context.Context, id uuid.UUID) (*models.LoanApplication, error)
	UpdateLoanApplication(ctx context.Context, a *models.LoanApplication) error
	ListLoanApplications(ctx context.Context, f LoanFilter) ([]*models.LoanApplication, error)

	CreateLoan(ctx context.Context, loan *models.Loan) error
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	UpdateLoan(ctx context.Context, loan *models.Loan) error
	ListLoans(ctx context.Context, f LoanFilter) ([]*models.Loan, error)

	CreateRepayment(ctx context.Context, r *models.Repayment) error
	GetRepayment(ctx context.Context, id uuid.UUID) (*models.Repayment, error)
	MarkRepaymentReversed(ctx context.Context, r *models.Repayment, at time.Time) error
	ListRepayments(ctx context.Context, loanID uuid.UUID) ([]*models.Repayment, error)

	CreatePostings(ctx context.Context, postings []*models.LedgerPosting) error
	ListPostings(ctx context.Context, f PostingFilter) ([]*models.LedgerPosting, error)
	AccountBalances(ctx context.Context, f PostingFilter) ([]models.AccountBalance, error)
}

// Storage is a Repository that can also run a function inside a serializable
// write transaction. fn's Repository is only valid until fn returns.
type Storage interface {
	Repository
	WithTx(ctx context.Context, fn func(r Repository) error) error
	Close() error
}

type DeclarationFilter struct {
	MemberID uuid.NullUUID
	CycleID  uuid.NullUUID
	Status   models.DeclarationStatus
}

type LoanFilter struct {
	MemberID uuid.NullUUID
	CycleID  uuid.NullUUID
	Status   string
}

type PostingFilter struct {
	Account    models.Account
	SourceType models.SourceType
	SourceID   uuid.NullUUID
	MemberID   uuid.NullUUID
	CycleID    uuid.NullUUID
}
