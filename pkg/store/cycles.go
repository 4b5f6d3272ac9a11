package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mcclellann/vsla/pkg/models"
)

const cycleColumns = `id, year, start_date, end_date, status, social_fund_required, admin_fund_required, created_at, updated_at, version`

func (r *repo) CreateCycle(ctx context.Context, c *models.Cycle) error {
	c.Version = 1
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO cycles (`+cycleColumns+`)
		VALUES (:id, :year, :start_date, :end_date, :status, :social_fund_required, :admin_fund_required, :created_at, :updated_at, :version)`, c)
	if err != nil {
		return insertErr("cycle", err)
	}
	return nil
}

func (r *repo) GetCycle(ctx context.Context, id uuid.UUID) (*models.Cycle, error) {
	var c models.Cycle
	if err := r.get(ctx, "cycle", &c, `SELECT `+cycleColumns+` FROM cycles WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *repo) ListCycles(ctx context.Context) ([]*models.Cycle, error) {
	var cycles []*models.Cycle
	if err := sqlx.SelectContext(ctx, r.ext, &cycles, `SELECT `+cycleColumns+` FROM cycles ORDER BY year DESC`); err != nil {
		return nil, fmt.Errorf("failed to list cycles: %w", err)
	}
	return cycles, nil
}

func (r *repo) ListCyclesByStatus(ctx context.Context, status models.CycleStatus) ([]*models.Cycle, error) {
	var cycles []*models.Cycle
	if err := sqlx.SelectContext(ctx, r.ext, &cycles, `SELECT `+cycleColumns+` FROM cycles WHERE status = ? ORDER BY year DESC`, status); err != nil {
		return nil, fmt.Errorf("failed to list %s cycles: %w", status, err)
	}
	return cycles, nil
}

func (r *repo) UpdateCycle(ctx context.Context, c *models.Cycle) error {
	err := r.casUpdate(ctx, "cycle",
		`UPDATE cycles SET start_date = ?, end_date = ?, status = ?, social_fund_required = ?, admin_fund_required = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.StartDate, c.EndDate, c.Status, c.SocialFundRequired, c.AdminFundRequired, c.UpdatedAt, c.ID, c.Version)
	if err != nil {
		return err
	}
	c.Version++
	return nil
}

func (r *repo) UpsertPhaseConfig(ctx context.Context, p *models.PhaseConfig) error {
	_, err := sqlx.NamedExecContext(ctx, r.ext,
		`INSERT INTO phase_configs (cycle_id, phase_type, monthly_start_day, updated_at)
		VALUES (:cycle_id, :phase_type, :monthly_start_day, :updated_at)
		ON CONFLICT (cycle_id, phase_type) DO UPDATE SET monthly_start_day = excluded.monthly_start_day, updated_at = excluded.updated_at`, p)
	if err != nil {
		return fmt.Errorf("failed to upsert phase config: %w", err)
	}
	return nil
}

func (r *repo) GetPhaseConfig(ctx context.Context, cycleID uuid.UUID, phase models.PhaseType) (*models.PhaseConfig, error) {
	var p models.PhaseConfig
	err := r.get(ctx, "phase config", &p,
		`SELECT cycle_id, phase_type, monthly_start_day, updated_at FROM phase_configs WHERE cycle_id = ? AND phase_type = ?`, cycleID, phase)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repo) ListPhaseConfigs(ctx context.Context, cycleID uuid.UUID) ([]*models.PhaseConfig, error) {
	var configs []*models.PhaseConfig
	err := sqlx.SelectContext(ctx, r.ext, &configs,
		`SELECT cycle_id, phase_type, monthly_start_day, updated_at FROM phase_configs WHERE cycle_id = ? ORDER BY phase_type`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("failed to list phase configs: %w", err)
	}
	return configs, nil
}
