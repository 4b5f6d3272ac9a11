package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CycleStatus string

const (
	CycleStatusDraft  CycleStatus = "draft"
	CycleStatusActive CycleStatus = "active"
	CycleStatusClosed CycleStatus = "closed"
)

type Cycle struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	Year               int             `db:"year" json:"year"`
	StartDate          time.Time       `db:"start_date" json:"start_date"`
	EndDate            time.Time       `db:"end_date" json:"end_date"` // Always StartDate + 1 year
	Status             CycleStatus     `db:"status" json:"status"`
	SocialFundRequired decimal.Decimal `db:"social_fund_required" json:"social_fund_required"`
	AdminFundRequired  decimal.Decimal `db:"admin_fund_required" json:"admin_fund_required"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
	Version            int64           `db:"version" json:"-"`
}

// CycleEndDate derives a cycle's end date from its start date.
func CycleEndDate(start time.Time) time.Time {
	return start.AddDate(1, 0, 0)
}

// Contains reports whether t falls inside [StartDate, EndDate).
func (c *Cycle) Contains(t time.Time) bool {
	return !t.Before(c.StartDate) && t.Before(c.EndDate)
}

type PhaseType string

const (
	PhaseDeclaration     PhaseType = "declaration"
	PhaseLoanApplication PhaseType = "loan_application"
	PhaseDeposits        PhaseType = "deposits"
)

func (p PhaseType) Valid() bool {
	switch p {
	case PhaseDeclaration, PhaseLoanApplication, PhaseDeposits:
		return true
	}
	return false
}

type PhaseConfig struct {
	CycleID         uuid.UUID `db:"cycle_id" json:"cycle_id"`
	PhaseType       PhaseType `db:"phase_type" json:"phase_type"`
	MonthlyStartDay int       `db:"monthly_start_day" json:"monthly_start_day"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}
