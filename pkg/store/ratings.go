package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/rates"
)

func (r *repo) CreateScheme(ctx context.Context, s *models.CreditRatingScheme) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO credit_rating_schemes (id, cycle_id, name, description, created_at)
		VALUES (:id, :cycle_id, :name, :description, :created_at)`, s)
	if err != nil {
		return insertErr("credit rating scheme", err)
	}
	return nil
}

func (r *repo) GetScheme(ctx context.Context, id uuid.UUID) (*models.CreditRatingScheme, error) {
	var s models.CreditRatingScheme
	err := r.get(ctx, "credit rating scheme", &s,
		`SELECT id, cycle_id, name, description, created_at FROM credit_rating_schemes WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repo) GetSchemeByCycle(ctx context.Context, cycleID uuid.UUID) (*models.CreditRatingScheme, error) {
	var s models.CreditRatingScheme
	err := r.get(ctx, "credit rating scheme", &s,
		`SELECT id, cycle_id, name, description, created_at FROM credit_rating_schemes WHERE cycle_id = ?`, cycleID)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *repo) CreateTier(ctx context.Context, t *models.CreditRatingTier) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO credit_rating_tiers (id, scheme_id, tier_name, tier_order, multiplier, description)
		VALUES (:id, :scheme_id, :tier_name, :tier_order, :multiplier, :description)`, t)
	if err != nil {
		return insertErr("tier order", err)
	}
	return nil
}

func (r *repo) GetTier(ctx context.Context, id uuid.UUID) (*models.CreditRatingTier, error) {
	var t models.CreditRatingTier
	err := r.get(ctx, "tier", &t,
		`SELECT id, scheme_id, tier_name, tier_order, multiplier, description FROM credit_rating_tiers WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *repo) ListTiers(ctx context.Context, schemeID uuid.UUID) ([]*models.CreditRatingTier, error) {
	var tiers []*models.CreditRatingTier
	err := sqlx.SelectContext(ctx, r.ext, &tiers,
		`SELECT id, scheme_id, tier_name, tier_order, multiplier, description FROM credit_rating_tiers WHERE scheme_id = ? ORDER BY tier_order ASC`, schemeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tiers: %w", err)
	}
	return tiers, nil
}

func (r *repo) CreateRateRange(ctx context.Context, rr *models.InterestRateRange) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO interest_rate_ranges (id, tier_id, term_months, effective_rate_percent)
		VALUES (:id, :tier_id, :term_months, :effective_rate_percent)`, rr)
	if err != nil {
		return insertErr(fmt.Sprintf("rate range for term %s", rr.Term), err)
	}
	return nil
}

func (r *repo) UpdateRateRange(ctx context.Context, rr *models.InterestRateRange) error {
	result, err := r.ext.ExecContext(ctx,
		`UPDATE interest_rate_ranges SET term_months = ?, effective_rate_percent = ? WHERE id = ?`,
		rr.Term, rr.EffectiveRatePercent, rr.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Conflictf("rate range for term %s already exists", rr.Term)
		}
		return fmt.Errorf("failed to update rate range: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFoundf("rate range %s", rr.ID)
	}
	return nil
}

func (r *repo) DeleteRateRange(ctx context.Context, id uuid.UUID) error {
	result, err := r.ext.ExecContext(ctx, `DELETE FROM interest_rate_ranges WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rate range: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return apperr.NotFoundf("rate range %s", id)
	}
	return nil
}

func (r *repo) GetRateRange(ctx context.Context, id uuid.UUID) (*models.InterestRateRange, error) {
	var rr models.InterestRateRange
	err := r.get(ctx, "rate range", &rr,
		`SELECT id, tier_id, term_months, effective_rate_percent FROM interest_rate_ranges WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	return &rr, nil
}

// ListRateRanges returns a tier's ranges in canonical order (see rates.OrderBy).
func (r *repo) ListRateRanges(ctx context.Context, tierID uuid.UUID) ([]models.InterestRateRange, error) {
	var ranges []models.InterestRateRange
	err := sqlx.SelectContext(ctx, r.ext, &ranges,
		`SELECT id, tier_id, term_months, effective_rate_percent FROM interest_rate_ranges WHERE tier_id = ? ORDER BY `+rates.OrderBy, tierID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rate ranges: %w", err)
	}
	return ranges, nil
}

func (r *repo) UpsertMemberRating(ctx context.Context, mr *models.MemberCreditRating) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO member_credit_ratings (member_id, cycle_id, tier_id, notes, assigned_at)
		VALUES (:member_id, :cycle_id, :tier_id, :notes, :assigned_at)
		ON CONFLICT (member_id, cycle_id) DO UPDATE SET tier_id = excluded.tier_id, notes = excluded.notes, assigned_at = excluded.assigned_at`, mr)
	if err != nil {
		return fmt.Errorf("failed to upsert member rating: %w", err)
	}
	return nil
}

func (r *repo) GetMemberRating(ctx context.Context, memberID, cycleID uuid.UUID) (*models.MemberCreditRating, error) {
	var mr models.MemberCreditRating
	err := r.get(ctx, "member credit rating", &mr,
		`SELECT member_id, cycle_id, tier_id, notes, assigned_at FROM member_credit_ratings WHERE member_id = ? AND cycle_id = ?`, memberID, cycleID)
	if err != nil {
		return nil, err
	}
	return &mr, nil
}
