package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Term is the loan term an interest rate range applies to: either every term
// not otherwise matched (the catch-all) or an exact number of months.
// The zero value is the catch-all. Stored as a nullable integer column.
type Term struct {
	months int
}

// AnyTerm returns the catch-all term.
func AnyTerm() Term { return Term{} }

// TermOf returns the exact term of n months. n must be positive.
func TermOf(n int) Term { return Term{months: n} }

func (t Term) IsAny() bool { return t.months <= 0 }

// Months returns the month count and false for the catch-all.
func (t Term) Months() (int, bool) {
	if t.IsAny() {
		return 0, false
	}
	return t.months, true
}

func (t Term) String() string {
	if t.IsAny() {
		return "any"
	}
	return strconv.Itoa(t.months) + "m"
}

func (t Term) MarshalJSON() ([]byte, error) {
	if t.IsAny() {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(t.months)), nil
}

func (t *Term) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*t = AnyTerm()
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("term: %w", err)
	}
	if n <= 0 {
		return fmt.Errorf("term: months must be positive, got %d", n)
	}
	*t = TermOf(n)
	return nil
}

func (t Term) Value() (driver.Value, error) {
	if t.IsAny() {
		return nil, nil
	}
	return int64(t.months), nil
}

func (t *Term) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = AnyTerm()
	case int64:
		*t = TermOf(int(v))
	case []byte:
		n, err := strconv.Atoi(string(v))
		if err != nil {
			return fmt.Errorf("term: %w", err)
		}
		*t = TermOf(n)
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("term: %w", err)
		}
		*t = TermOf(n)
	default:
		return fmt.Errorf("term: unsupported source type %T", src)
	}
	return nil
}

type CreditRatingScheme struct {
	ID          uuid.UUID `db:"id" json:"id"`
	CycleID     uuid.UUID `db:"cycle_id" json:"cycle_id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type CreditRatingTier struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	SchemeID    uuid.UUID       `db:"scheme_id" json:"scheme_id"`
	TierName    string          `db:"tier_name" json:"tier_name"`
	TierOrder   int             `db:"tier_order" json:"tier_order"` // Lower is better
	Multiplier  decimal.Decimal `db:"multiplier" json:"multiplier"` // Borrowing power as a multiple of savings
	Description string          `db:"description" json:"description"`
}

type InterestRateRange struct {
	ID                   uuid.UUID       `db:"id" json:"id"`
	TierID               uuid.UUID       `db:"tier_id" json:"tier_id"`
	Term                 Term            `db:"term_months" json:"term_months"`
	EffectiveRatePercent decimal.Decimal `db:"effective_rate_percent" json:"effective_rate_percent"`
}

type MemberCreditRating struct {
	MemberID   uuid.UUID `db:"member_id" json:"member_id"`
	CycleID    uuid.UUID `db:"cycle_id" json:"cycle_id"`
	TierID     uuid.UUID `db:"tier_id" json:"tier_id"`
	Notes      string    `db:"notes" json:"notes"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}
