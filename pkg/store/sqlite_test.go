package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/logging"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test_store.db"), logging.Discard())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedCycle(t *testing.T, s *SQLiteStore) *models.Cycle {
	t.Helper()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := &models.Cycle{
		ID:                 uuid.New(),
		Year:               2025,
		StartDate:          start,
		EndDate:            models.CycleEndDate(start),
		Status:             models.CycleStatusDraft,
		SocialFundRequired: decimal.Zero,
		AdminFundRequired:  decimal.Zero,
		CreatedAt:          start,
		UpdatedAt:          start,
	}
	if err := s.CreateCycle(context.Background(), c); err != nil {
		t.Fatalf("Failed to create cycle: %v", err)
	}
	return c
}

func seedLoan(t *testing.T, s *SQLiteStore, cycleID uuid.UUID) *models.Loan {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	app := &models.LoanApplication{
		ID:              uuid.New(),
		MemberID:        uuid.New(),
		CycleID:         cycleID,
		Amount:          decimal.NewFromInt(2000),
		TermMonths:      6,
		Status:          models.LoanApplicationApproved,
		ApplicationDate: now,
	}
	if err := s.CreateLoanApplication(ctx, app); err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	loan := &models.Loan{
		ID:               uuid.New(),
		ApplicationID:    app.ID,
		MemberID:         app.MemberID,
		CycleID:          cycleID,
		LoanAmount:       app.Amount,
		Balance:          app.Amount,
		TermMonths:       6,
		InterestRate:     decimal.NewFromInt(15),
		DisbursementDate: now,
		Status:           models.LoanStatusActive,
		AccruedInterest:  decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.CreateLoan(ctx, loan); err != nil {
		t.Fatalf("Failed to create loan: %v", err)
	}
	return loan
}

func TestSQLiteStore_CreateAndGetLoan(t *testing.T) {
	s := newTestStore(t)
	c := seedCycle(t, s)
	loan := seedLoan(t, s, c.ID)

	fetched, err := s.GetLoan(context.Background(), loan.ID)
	if err != nil {
		t.Fatalf("Failed to get loan: %v", err)
	}
	if fetched.MemberID != loan.MemberID {
		t.Errorf("Expected MemberID %s, got %s", loan.MemberID, fetched.MemberID)
	}
	if !fetched.LoanAmount.Equal(loan.LoanAmount) {
		t.Errorf("Expected LoanAmount %s, got %s", loan.LoanAmount, fetched.LoanAmount)
	}
	if !fetched.InterestRate.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected InterestRate 15, got %s", fetched.InterestRate)
	}
	if !fetched.DisbursementDate.Equal(loan.DisbursementDate) {
		t.Errorf("Expected DisbursementDate %s, got %s", loan.DisbursementDate, fetched.DisbursementDate)
	}

	_, err = s.GetLoan(context.Background(), uuid.New())
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_UpdateLoanCompareAndSwap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCycle(t, s)
	loan := seedLoan(t, s, c.ID)

	first, _ := s.GetLoan(ctx, loan.ID)
	second, _ := s.GetLoan(ctx, loan.ID)

	first.Balance = decimal.NewFromInt(1500)
	if err := s.UpdateLoan(ctx, first); err != nil {
		t.Fatalf("Failed to update loan: %v", err)
	}

	second.Balance = decimal.NewFromInt(1000)
	err := s.UpdateLoan(ctx, second)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Expected stale update to conflict, got %v", err)
	}

	fetched, _ := s.GetLoan(ctx, loan.ID)
	if !fetched.Balance.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("Expected balance 1500, got %s", fetched.Balance)
	}
}

func TestSQLiteStore_Repayments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCycle(t, s)
	loan := seedLoan(t, s, c.ID)

	rp := &models.Repayment{
		ID:               uuid.New(),
		LoanID:           loan.ID,
		Date:             loan.DisbursementDate.AddDate(0, 1, 0),
		PrincipalPortion: decimal.NewFromInt(300),
		InterestPortion:  decimal.NewFromInt(50),
		Total:            decimal.NewFromInt(350),
		RunningBalance:   decimal.NewFromInt(1700),
		IsOnTime:         true,
		CreatedAt:        time.Now(),
	}
	if err := s.CreateRepayment(ctx, rp); err != nil {
		t.Fatalf("Failed to create repayment: %v", err)
	}

	rps, err := s.ListRepayments(ctx, loan.ID)
	if err != nil {
		t.Fatalf("Failed to list repayments: %v", err)
	}
	if len(rps) != 1 {
		t.Fatalf("Expected 1 repayment, got %d", len(rps))
	}
	if !rps[0].Total.Equal(decimal.NewFromInt(350)) || !rps[0].IsOnTime || rps[0].DepositID.Valid || rps[0].Reversed() {
		t.Errorf("Unexpected repayment %+v", rps[0])
	}

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := s.MarkRepaymentReversed(ctx, rps[0], at); err != nil {
		t.Fatalf("Failed to mark repayment reversed: %v", err)
	}
	if err := s.MarkRepaymentReversed(ctx, rps[0], at); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected a second reversal to conflict, got %v", err)
	}
	fetched, err := s.GetRepayment(ctx, rp.ID)
	if err != nil {
		t.Fatalf("Failed to get repayment: %v", err)
	}
	if !fetched.Reversed() || !fetched.ReversedAt.Equal(at) {
		t.Errorf("Expected repayment reversed at %v, got %v", at, fetched.ReversedAt)
	}
}

func TestSQLiteStore_RateRangesCanonicalOrderAndUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCycle(t, s)

	scheme := &models.CreditRatingScheme{ID: uuid.New(), CycleID: c.ID, Name: "Default", CreatedAt: time.Now()}
	if err := s.CreateScheme(ctx, scheme); err != nil {
		t.Fatalf("Failed to create scheme: %v", err)
	}
	tier := &models.CreditRatingTier{ID: uuid.New(), SchemeID: scheme.ID, TierName: "A", TierOrder: 1, Multiplier: decimal.NewFromInt(2)}
	if err := s.CreateTier(ctx, tier); err != nil {
		t.Fatalf("Failed to create tier: %v", err)
	}

	for _, term := range []models.Term{models.TermOf(12), models.TermOf(3), models.AnyTerm(), models.TermOf(6)} {
		rr := &models.InterestRateRange{ID: uuid.New(), TierID: tier.ID, Term: term, EffectiveRatePercent: decimal.NewFromInt(10)}
		if err := s.CreateRateRange(ctx, rr); err != nil {
			t.Fatalf("Failed to create range %s: %v", term, err)
		}
	}

	ranges, err := s.ListRateRanges(ctx, tier.ID)
	if err != nil {
		t.Fatalf("Failed to list ranges: %v", err)
	}
	want := []models.Term{models.AnyTerm(), models.TermOf(3), models.TermOf(6), models.TermOf(12)}
	if len(ranges) != len(want) {
		t.Fatalf("Expected %d ranges, got %d", len(want), len(ranges))
	}
	for i, term := range want {
		if ranges[i].Term != term {
			t.Errorf("Position %d: expected %s, got %s", i, term, ranges[i].Term)
		}
	}

	dupCatchAll := &models.InterestRateRange{ID: uuid.New(), TierID: tier.ID, Term: models.AnyTerm(), EffectiveRatePercent: decimal.NewFromInt(11)}
	if err := s.CreateRateRange(ctx, dupCatchAll); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected second catch-all to conflict, got %v", err)
	}
	dupTerm := &models.InterestRateRange{ID: uuid.New(), TierID: tier.ID, Term: models.TermOf(3), EffectiveRatePercent: decimal.NewFromInt(11)}
	if err := s.CreateRateRange(ctx, dupTerm); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected duplicate term to conflict, got %v", err)
	}
}

func TestSQLiteStore_PostingsUniquePerSourceAndAccount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sourceID := uuid.New()
	now := time.Now()

	journal := []*models.LedgerPosting{
		{ID: uuid.New(), Account: models.AccountBankCash, Debit: decimal.NewFromInt(120), Credit: decimal.Zero, SourceType: models.SourceDeposit, SourceID: sourceID, PostedAt: now},
		{ID: uuid.New(), Account: models.AccountSavings, Debit: decimal.Zero, Credit: decimal.NewFromInt(100), SourceType: models.SourceDeposit, SourceID: sourceID, PostedAt: now},
		{ID: uuid.New(), Account: models.AccountSocialFund, Debit: decimal.Zero, Credit: decimal.NewFromInt(20), SourceType: models.SourceDeposit, SourceID: sourceID, PostedAt: now},
	}
	if err := s.CreatePostings(ctx, journal); err != nil {
		t.Fatalf("Failed to create postings: %v", err)
	}

	again := []*models.LedgerPosting{
		{ID: uuid.New(), Account: models.AccountSavings, Debit: decimal.Zero, Credit: decimal.NewFromInt(100), SourceType: models.SourceDeposit, SourceID: sourceID, PostedAt: now},
	}
	if err := s.CreatePostings(ctx, again); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Expected duplicate posting to conflict, got %v", err)
	}

	balances, err := s.AccountBalances(ctx, PostingFilter{})
	if err != nil {
		t.Fatalf("Failed to get balances: %v", err)
	}
	got := map[models.Account]decimal.Decimal{}
	for _, b := range balances {
		got[b.Account] = b.Balance()
	}
	if !got[models.AccountBankCash].Equal(decimal.NewFromInt(120)) {
		t.Errorf("Expected bank cash 120, got %s", got[models.AccountBankCash])
	}
	if !got[models.AccountSavings].Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected savings 100, got %s", got[models.AccountSavings])
	}
}

func TestSQLiteStore_WithTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCycle(t, s)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(r Repository) error {
		cycle, err := r.GetCycle(ctx, c.ID)
		if err != nil {
			return err
		}
		cycle.Status = models.CycleStatusActive
		if err := r.UpdateCycle(ctx, cycle); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	fetched, _ := s.GetCycle(ctx, c.ID)
	if fetched.Status != models.CycleStatusDraft {
		t.Errorf("Expected rollback to keep status draft, got %s", fetched.Status)
	}
}

func TestSQLiteStore_DeclarationUniquePerMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCycle(t, s)
	member := uuid.New()
	month := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	newDecl := func() *models.Declaration {
		return &models.Declaration{
			ID: uuid.New(), MemberID: member, CycleID: c.ID, EffectiveMonth: month,
			DeclaredSavingsAmount: decimal.NewFromInt(100), Status: models.DeclarationPending,
			CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
	}
	if err := s.CreateDeclaration(ctx, newDecl()); err != nil {
		t.Fatalf("Failed to create declaration: %v", err)
	}
	if err := s.CreateDeclaration(ctx, newDecl()); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("Expected second declaration for the month to conflict, got %v", err)
	}
}

func TestSQLiteStore_ReversedDeclarationFreesMonth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCycle(t, s)
	member := uuid.New()
	month := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	first := &models.Declaration{
		ID: uuid.New(), MemberID: member, CycleID: c.ID, EffectiveMonth: month,
		DeclaredSavingsAmount: decimal.NewFromInt(100), Status: models.DeclarationPending,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	if err := s.CreateDeclaration(ctx, first); err != nil {
		t.Fatalf("Failed to create declaration: %v", err)
	}
	first.Status = models.DeclarationReversed
	if err := s.UpdateDeclaration(ctx, first); err != nil {
		t.Fatalf("Failed to reverse declaration: %v", err)
	}

	second := *first
	second.ID = uuid.New()
	second.Status = models.DeclarationPending
	if err := s.CreateDeclaration(ctx, &second); err != nil {
		t.Errorf("Expected a new declaration after reversal, got %v", err)
	}
}
