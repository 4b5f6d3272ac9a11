package rates

import (
	"errors"
	"testing"

	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
)

func rangeOf(term models.Term, pct int64) models.InterestRateRange {
	return models.InterestRateRange{Term: term, EffectiveRatePercent: decimal.NewFromInt(pct)}
}

func TestResolveExactMatch(t *testing.T) {
	ranges := []models.InterestRateRange{
		rangeOf(models.AnyTerm(), 10),
		rangeOf(models.TermOf(3), 20),
		rangeOf(models.TermOf(6), 25),
	}
	rate, err := Resolve(ranges, models.TermOf(3))
	if err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if !rate.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected 20, got %s", rate)
	}
}

func TestResolveFallsBackToCatchAll(t *testing.T) {
	ranges := []models.InterestRateRange{
		rangeOf(models.TermOf(3), 20),
		rangeOf(models.AnyTerm(), 10),
	}
	for _, term := range []models.Term{models.TermOf(12), models.AnyTerm()} {
		rate, err := Resolve(ranges, term)
		if err != nil {
			t.Fatalf("Failed to resolve %s: %v", term, err)
		}
		if !rate.Equal(decimal.NewFromInt(10)) {
			t.Errorf("Expected catch-all 10 for %s, got %s", term, rate)
		}
	}
}

func TestResolveNoApplicableRate(t *testing.T) {
	ranges := []models.InterestRateRange{rangeOf(models.TermOf(3), 20)}
	_, err := Resolve(ranges, models.TermOf(6))
	if !errors.Is(err, apperr.ErrNoApplicableRate) {
		t.Fatalf("Expected ErrNoApplicableRate, got %v", err)
	}

	_, err = Resolve(nil, models.AnyTerm())
	if !errors.Is(err, apperr.ErrNoApplicableRate) {
		t.Fatalf("Expected ErrNoApplicableRate for empty tier, got %v", err)
	}
}

func TestSortCatchAllFirstThenAscending(t *testing.T) {
	ranges := []models.InterestRateRange{
		rangeOf(models.TermOf(12), 30),
		rangeOf(models.TermOf(3), 20),
		rangeOf(models.AnyTerm(), 10),
		rangeOf(models.TermOf(6), 25),
	}
	Sort(ranges)

	want := []models.Term{models.AnyTerm(), models.TermOf(3), models.TermOf(6), models.TermOf(12)}
	for i, term := range want {
		if ranges[i].Term != term {
			t.Errorf("Position %d: expected %s, got %s", i, term, ranges[i].Term)
		}
	}
}
