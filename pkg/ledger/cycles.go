package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/mcclellann/vsla/pkg/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type CreateCycleInput struct {
	Year               int             `json:"year" validate:"gte=2000,lte=2100"`
	StartDate          time.Time       `json:"start_date" validate:"required"`
	SocialFundRequired decimal.Decimal `json:"social_fund_required" validate:"gte=0"`
	AdminFundRequired  decimal.Decimal `json:"admin_fund_required" validate:"gte=0"`
}

type UpdateCycleInput struct {
	StartDate          *time.Time       `json:"start_date"`
	SocialFundRequired *decimal.Decimal `json:"social_fund_required"`
	AdminFundRequired  *decimal.Decimal `json:"admin_fund_required"`
}

type PhaseConfigInput struct {
	PhaseType       models.PhaseType `json:"phase_type" validate:"required,oneof=declaration loan_application deposits"`
	MonthlyStartDay int              `json:"monthly_start_day" validate:"min=1,max=31"`
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CreateCycle creates a draft cycle. The end date is always one year after the start.
func (l *Ledger) CreateCycle(ctx context.Context, actor models.Actor, in CreateCycleInput) (*models.Cycle, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	now := l.now()
	start := dateOnly(in.StartDate)
	c := &models.Cycle{
		ID:                 uuid.New(),
		Year:               in.Year,
		StartDate:          start,
		EndDate:            models.CycleEndDate(start),
		Status:             models.CycleStatusDraft,
		SocialFundRequired: in.SocialFundRequired,
		AdminFundRequired:  in.AdminFundRequired,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := l.storage.CreateCycle(ctx, c); err != nil {
		return nil, err
	}
	l.record(actor, "create_cycle", map[string]any{"cycle_id": c.ID, "year": c.Year})
	return c, nil
}

// UpdateCycle changes a non-closed cycle's start date or fund requirements.
func (l *Ledger) UpdateCycle(ctx context.Context, actor models.Actor, id uuid.UUID, in UpdateCycleInput) (*models.Cycle, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	for _, d := range []*decimal.Decimal{in.SocialFundRequired, in.AdminFundRequired} {
		if d != nil && d.IsNegative() {
			return nil, apperr.Validationf("fund requirements must not be negative")
		}
	}
	var c *models.Cycle
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if c, err = mutableCycle(ctx, r, id); err != nil {
			return err
		}
		if in.StartDate != nil {
			c.StartDate = dateOnly(*in.StartDate)
			c.EndDate = models.CycleEndDate(c.StartDate)
		}
		if in.SocialFundRequired != nil {
			c.SocialFundRequired = *in.SocialFundRequired
		}
		if in.AdminFundRequired != nil {
			c.AdminFundRequired = *in.AdminFundRequired
		}
		c.UpdatedAt = l.now()
		return r.UpdateCycle(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "update_cycle", map[string]any{"cycle_id": id})
	return c, nil
}

// mutableCycle loads a cycle whose configuration may still change.
func mutableCycle(ctx context.Context, r store.Repository, id uuid.UUID) (*models.Cycle, error) {
	c, err := r.GetCycle(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == models.CycleStatusClosed {
		return nil, apperr.Preconditionf("cycle %d is closed", c.Year)
	}
	return c, nil
}

// ActivateCycle makes id the only active cycle. Any other active cycle returns
// to draft in the same transaction.
func (l *Ledger) ActivateCycle(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Cycle, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	var c *models.Cycle
	var deactivated []uuid.UUID
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if c, err = r.GetCycle(ctx, id); err != nil {
			return err
		}
		if c.Status == models.CycleStatusActive {
			return apperr.Preconditionf("cycle %d is already active", c.Year)
		}
		if c.Year < l.currentYear() {
			return apperr.Wrap(apperr.ErrCycleTerminal, "cycle %d", c.Year)
		}

		active, err := r.ListCyclesByStatus(ctx, models.CycleStatusActive)
		if err != nil {
			return err
		}
		now := l.now()
		for _, other := range active {
			other.Status = models.CycleStatusDraft
			other.UpdatedAt = now
			if err := r.UpdateCycle(ctx, other); err != nil {
				return err
			}
			deactivated = append(deactivated, other.ID)
		}

		c.Status = models.CycleStatusActive
		c.UpdatedAt = now
		return r.UpdateCycle(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	l.logger.WithFields(logrus.Fields{"cycle_id": c.ID, "year": c.Year, "deactivated": deactivated}).Info("Cycle activated")
	l.record(actor, "activate_cycle", map[string]any{"cycle_id": c.ID, "deactivated": deactivated})
	return c, nil
}

// CloseCycle closes an active cycle. Every phase window closes with it.
func (l *Ledger) CloseCycle(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Cycle, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	c, err := l.transition(ctx, id, func(c *models.Cycle) error {
		if c.Status != models.CycleStatusActive {
			return apperr.Preconditionf("cycle %d is %s, not active", c.Year, c.Status)
		}
		c.Status = models.CycleStatusClosed
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "close_cycle", map[string]any{"cycle_id": id})
	return c, nil
}

// ReopenCycle returns a closed cycle of the current or a future year to draft.
func (l *Ledger) ReopenCycle(ctx context.Context, actor models.Actor, id uuid.UUID) (*models.Cycle, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	c, err := l.transition(ctx, id, func(c *models.Cycle) error {
		if c.Status != models.CycleStatusClosed {
			return apperr.Preconditionf("cycle %d is %s, not closed", c.Year, c.Status)
		}
		if c.Year < l.currentYear() {
			return apperr.Wrap(apperr.ErrCycleTerminal, "cycle %d", c.Year)
		}
		c.Status = models.CycleStatusDraft
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "reopen_cycle", map[string]any{"cycle_id": id})
	return c, nil
}

func (l *Ledger) transition(ctx context.Context, id uuid.UUID, apply func(c *models.Cycle) error) (*models.Cycle, error) {
	var c *models.Cycle
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		var err error
		if c, err = r.GetCycle(ctx, id); err != nil {
			return err
		}
		if err := apply(c); err != nil {
			return err
		}
		c.UpdatedAt = l.now()
		return r.UpdateCycle(ctx, c)
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (l *Ledger) GetCycle(ctx context.Context, id uuid.UUID) (*models.Cycle, error) {
	return l.storage.GetCycle(ctx, id)
}

func (l *Ledger) ListCycles(ctx context.Context) ([]*models.Cycle, error) {
	return l.storage.ListCycles(ctx)
}

// ActiveCycle returns the single active cycle, or apperr.ErrNotFound.
func (l *Ledger) ActiveCycle(ctx context.Context) (*models.Cycle, error) {
	active, err := l.storage.ListCyclesByStatus(ctx, models.CycleStatusActive)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, apperr.NotFoundf("no active cycle")
	}
	return active[0], nil
}

// SetPhaseConfig sets the day of month a phase window opens.
func (l *Ledger) SetPhaseConfig(ctx context.Context, actor models.Actor, cycleID uuid.UUID, in PhaseConfigInput) (*models.PhaseConfig, error) {
	if err := require(actor, models.RoleChairman); err != nil {
		return nil, err
	}
	if err := check(in); err != nil {
		return nil, err
	}
	p := &models.PhaseConfig{
		CycleID:         cycleID,
		PhaseType:       in.PhaseType,
		MonthlyStartDay: in.MonthlyStartDay,
		UpdatedAt:       l.now(),
	}
	err := l.storage.WithTx(ctx, func(r store.Repository) error {
		if _, err := mutableCycle(ctx, r, cycleID); err != nil {
			return err
		}
		return r.UpsertPhaseConfig(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	l.record(actor, "set_phase_config", map[string]any{"cycle_id": cycleID, "phase": in.PhaseType, "day": in.MonthlyStartDay})
	return p, nil
}

func (l *Ledger) PhaseConfigs(ctx context.Context, cycleID uuid.UUID) ([]*models.PhaseConfig, error) {
	return l.storage.ListPhaseConfigs(ctx, cycleID)
}

// IsPhaseOpen reports whether phase is open in the cycle on today.
func (l *Ledger) IsPhaseOpen(ctx context.Context, cycleID uuid.UUID, phase models.PhaseType, today time.Time) (bool, error) {
	if !phase.Valid() {
		return false, apperr.Validationf("unknown phase %q", phase)
	}
	return phaseOpen(ctx, l.storage, cycleID, phase, today)
}

func phaseOpen(ctx context.Context, r store.Repository, cycleID uuid.UUID, phase models.PhaseType, today time.Time) (bool, error) {
	c, err := r.GetCycle(ctx, cycleID)
	if err != nil {
		return false, err
	}
	cfg, err := r.GetPhaseConfig(ctx, cycleID, phase)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return PhaseOpen(c, cfg, today), nil
}

// requirePhaseOpen fails with apperr.ErrPhaseClosed unless the window is open.
func (l *Ledger) requirePhaseOpen(ctx context.Context, r store.Repository, c *models.Cycle, phase models.PhaseType) error {
	if c.Status != models.CycleStatusActive {
		return apperr.Wrap(apperr.ErrPhaseClosed, "cycle %d is %s", c.Year, c.Status)
	}
	open, err := phaseOpen(ctx, r, c.ID, phase, l.now())
	if err != nil {
		return err
	}
	if !open {
		return apperr.Wrap(apperr.ErrPhaseClosed, "%s window for cycle %d", phase, c.Year)
	}
	return nil
}

// PhaseOpen reports whether a phase window is open on today. The window opens
// on the configured day, clamped to the month's last day, and stays open for
// the rest of the month. Nothing is open outside an active cycle's dates.
func PhaseOpen(c *models.Cycle, cfg *models.PhaseConfig, today time.Time) bool {
	if c == nil || cfg == nil || c.Status != models.CycleStatusActive {
		return false
	}
	today = today.UTC()
	if !c.Contains(today) {
		return false
	}
	return today.Day() >= clampDay(today.Year(), today.Month(), cfg.MonthlyStartDay)
}

func clampDay(year int, month time.Month, day int) int {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		return last
	}
	return day
}
