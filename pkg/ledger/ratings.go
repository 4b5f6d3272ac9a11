package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/rates"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
)

type SchemeInput struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description"`
}

type TierInput struct {
	TierName    string          `json:"tier_name" validate:"required,max=50"`
	TierOrder   int             `json:"tier_order" validate:"min=0"`
	Multiplier  decimal.Decimal `json:"multiplier" validate:"gte=0"`
	Description string          `json:"description"`
}

type RateRangeInput struct {
	Term                 models.Term     `json:"term_months"`
	EffectiveRatePercent decimal.Decimal `json:"effective_rate_percent" validate:"gte=0,lte=100"`
}

type RatingInput struct {
	MemberID uuid.UUID `json:"member_id" validate:"required"`
	TierID   uuid.UUID `json:"tier_id" validate:"required"`
	Notes    string    `json:"notes"`
}

// CreateScheme attaches the cycle's credit rating scheme. A cycle has at most one.
func (l *Ledger) CreateScheme(ctx context.Context, actor models.Actor, cycleID uuid.UUID, in SchemeInput) (*models.CreditRatingScheme, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	s := &models.CreditRatingScheme{
		ID:          uuid.New(),
		CycleID:     cycleID,
		Name:        in.Name,
		Description: in.Description,
		CreatedAt:   l.now(),
	}
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		if _, err := mutableCycle(ctx, r, cycleID); err != nil {
			return err
		}
		return r.CreateScheme(ctx, s)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "create_scheme", map[string]any{"scheme_id": s.ID, "cycle_id": cycleID})
	return s, nil
}

// schemeCycle loads a scheme and checks its cycle is still configurable.
func schemeCycle(ctx context.Context, r store.Repository, schemeID uuid.UUID) (*models.CreditRatingScheme, error) {
	s, err := r.GetScheme(ctx, schemeID)
	if err != nil {
		return nil, err
	}
	if _, err := mutableCycle(ctx, r, s.CycleID); err != nil {
		return nil, err
	}
	return s, nil
}

func (l *Ledger) AddTier(ctx context.Context, actor models.Actor, schemeID uuid.UUID, in TierInput) (*models.CreditRatingTier, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	t := &models.CreditRatingTier{
		ID:          uuid.New(),
		SchemeID:    schemeID,
		TierName:    in.TierName,
		TierOrder:   in.TierOrder,
		Multiplier:  in.Multiplier,
		Description: in.Description,
	}
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		if _, err := schemeCycle(ctx, r, schemeID); err != nil {
			return err
		}
		return r.CreateTier(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "add_tier", map[string]any{"tier_id": t.ID, "scheme_id": schemeID, "tier_order": t.TierOrder})
	return t, nil
}

// SetRateRange adds the tier's range for in.Term, or updates its rate when one exists.
func (l *Ledger) SetRateRange(ctx context.Context, actor models.Actor, tierID uuid.UUID, in RateRangeInput) (*models.InterestRateRange, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	var rr *models.InterestRateRange
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		tier, err := r.GetTier(ctx, tierID)
		if err != nil {
			return err
		}
		if _, err := schemeCycle(ctx, r, tier.SchemeID); err != nil {
			return err
		}
		existing, err := r.ListRateRanges(ctx, tierID)
		if err != nil {
			return err
		}
		for i := range existing {
			if existing[i].Term == in.Term {
				rr = &existing[i]
				rr.EffectiveRatePercent = in.EffectiveRatePercent
				return r.UpdateRateRange(ctx, rr)
			}
		}
		rr = &models.InterestRateRange{
			ID:                   uuid.New(),
			TierID:               tierID,
			Term:                 in.Term,
			EffectiveRatePercent: in.EffectiveRatePercent,
		}
		return r.CreateRateRange(ctx, rr)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "set_rate_range", map[string]any{"tier_id": tierID, "term": in.Term.String(), "rate": in.EffectiveRatePercent.String()})
	return rr, nil
}

func (l *Ledger) RemoveRateRange(ctx context.Context, actor models.Actor, rangeID uuid.UUID) error {
	if err := require(actor, models.RoleChairman); err != nil {
		return err
	}
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		rr, err := r.GetRateRange(ctx, rangeID)
		if err != nil {
			return err
		}
		tier, err := r.GetTier(ctx, rr.TierID)
		if err != nil {
			return err
		}
		if _, err := schemeCycle(ctx, r, tier.SchemeID); err != nil {
			return err
		}
		return r.DeleteRateRange(ctx, rangeID)
	})
	if err != nil {
		return err
	}
	l.record(actor, "remove_rate_range", map[string]any{"range_id": rangeID})
	return nil
}

// TierRates returns a tier's ranges, catch-all first then ascending by term.
func (l *Ledger) TierRates(ctx context.Context, tierID uuid.UUID) ([]models.InterestRateRange, error) {
	ranges, err := l.storage.ListRateRanges(ctx, tierID)
	if err != nil {
		return nil, err
	}
	rates.Sort(ranges)
	return ranges, nil
}

func (l *Ledger) Tiers(ctx context.Context, schemeID uuid.UUID) ([]*models.CreditRatingTier, error) {
	return l.storage.ListTiers(ctx, schemeID)
}

func (l *Ledger) SchemeForCycle(ctx context.Context, cycleID uuid.UUID) (*models.CreditRatingScheme, error) {
	return l.storage.GetSchemeByCycle(ctx, cycleID)
}

// AssignRating sets a member's tier for the cycle, replacing any earlier rating.
func (l *Ledger) AssignRating(ctx context.Context, actor models.Actor, cycleID uuid.UUID, in RatingInput) (*models.MemberCreditRating, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	mr := &models.MemberCreditRating{
		MemberID:   in.MemberID,
		CycleID:    cycleID,
		TierID:     in.TierID,
		Notes:      in.Notes,
		AssignedAt: l.now(),
	}
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		if _, err := mutableCycle(ctx, r, cycleID); err != nil {
			return err
		}
		tier, err := r.GetTier(ctx, in.TierID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				return apperr.Wrap(apperr.ErrUnknownTier, "tier %s", in.TierID)
			}
			return err
		}
		scheme, err := r.GetScheme(ctx, tier.SchemeID)
		if err != nil {
			return err
		}
		if scheme.CycleID != cycleID {
			return apperr.Wrap(apperr.ErrUnknownTier, "tier %s belongs to another cycle", in.TierID)
		}
		return r.UpsertMemberRating(ctx, mr)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "assign_rating", map[string]any{"member_id": in.MemberID, "cycle_id": cycleID, "tier_id": in.TierID})
	return mr, nil
}

// memberTier returns the member's rated tier for the cycle, or nil when unrated.
func memberTier(ctx context.Context, r store.Repository, memberID, cycleID uuid.UUID) (*models.CreditRatingTier, error) {
	mr, err := r.GetMemberRating(ctx, memberID, cycleID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return r.GetTier(ctx, mr.TierID)
}

// savingsBalance is the member's credited savings in the cycle.
func savingsBalance(ctx context.Context, r store.Repository, memberID, cycleID uuid.UUID) (decimal.Decimal, error) {
	balances, err := r.AccountBalances(ctx, store.PostingFilter{
		Account:  models.AccountSavings,
		MemberID: uuid.NullUUID{UUID: memberID, Valid: true},
		CycleID:  uuid.NullUUID{UUID: cycleID, Valid: true},
	})
	if err != nil {
		return decimal.Zero, err
	}
	for _, b := range balances {
		if b.Account == models.AccountSavings {
			return b.Balance(), nil
		}
	}
	return decimal.Zero, nil
}

// Limit is a member's borrowing limit and how it was derived.
type Limit struct {
	Savings    decimal.Decimal `json:"savings"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Amount     decimal.Decimal `json:"amount"`
	Rated      bool            `json:"rated"`
	TierName   string          `json:"tier_name,omitempty"`
}

// limitFor applies the member's tier multiplier, or the unrated policy, to savings.
func (l *Ledger) limitFor(tier *models.CreditRatingTier, savings decimal.Decimal) Limit {
	lim := Limit{Savings: savings}
	switch {
	case tier != nil:
		lim.Rated = true
		lim.TierName = tier.TierName
		lim.Multiplier = tier.Multiplier
	case l.unratedMultiplier != nil:
		lim.Multiplier = *l.unratedMultiplier
	}
	lim.Amount = savings.Mul(lim.Multiplier)
	return lim
}

// BorrowingLimit is savings times the member's tier multiplier.
func (l *Ledger) BorrowingLimit(ctx context.Context, actor models.Actor, memberID, cycleID uuid.UUID, savings decimal.Decimal) (Limit, error) {
	if err := requireSelfOrStaff(actor, memberID); err != nil {
		return Limit{}, err
	}
	tier, err := memberTier(ctx, l.storage, memberID, cycleID)
	if err != nil {
		return Limit{}, err
	}
	return l.limitFor(tier, savings), nil
}

// MemberLimit is BorrowingLimit with savings taken from the ledger.
func (l *Ledger) MemberLimit(ctx context.Context, actor models.Actor, memberID, cycleID uuid.UUID) (Limit, error) {
	if err := requireSelfOrStaff(actor, memberID); err != nil {
		return Limit{}, err
	}
	savings, err := savingsBalance(ctx, l.storage, memberID, cycleID)
	if err != nil {
		return Limit{}, err
	}
	return l.BorrowingLimit(ctx, actor, memberID, cycleID, savings)
}

// ResolveRate returns the member's rate for a term, failing with
// apperr.ErrNoApplicableRate for unrated members.
func (l *Ledger) ResolveRate(ctx context.Context, memberID, cycleID uuid.UUID, term models.Term) (decimal.Decimal, error) {
	return resolveMemberRate(ctx, l.storage, memberID, cycleID, term)
}

func resolveMemberRate(ctx context.Context, r store.Repository, memberID, cycleID uuid.UUID, term models.Term) (decimal.Decimal, error) {
	tier, err := memberTier(ctx, r, memberID, cycleID)
	if err != nil {
		return decimal.Zero, err
	}
	if tier == nil {
		return decimal.Zero, apperr.Wrap(apperr.ErrNoApplicableRate, "member %s has no credit rating", memberID)
	}
	ranges, err := r.ListRateRanges(ctx, tier.ID)
	if err != nil {
		return decimal.Zero, err
	}
	return rates.Resolve(ranges, term)
}

// SavingsBalance is the member's posted savings in the cycle, net of reversals.
func (l *Ledger) SavingsBalance(ctx context.Context, actor models.Actor, memberID, cycleID uuid.UUID) (decimal.Decimal, error) {
	if err := requireSelfOrStaff(actor, memberID); err != nil {
		return decimal.Zero, err
	}
	return savingsBalance(ctx, l.storage, memberID, cycleID)
}
