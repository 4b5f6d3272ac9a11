// Package rates resolves a tier's effective interest rate for a loan term.
package rates

import (
	"sort"

	"github.com/mcclellann/vsla/pkg/apperr"
	"github.com/mcclellann/vsla/pkg/models"
	"github.com/shopspring/decimal"
)

// OrderBy is the SQL ordering equivalent to Less. Queries listing ranges use it
// so that stored and in-memory orderings agree.
const OrderBy = "term_months IS NOT NULL, term_months ASC"

// Less orders the catch-all range first, then ascending by term.
func Less(a, b models.Term) bool {
	am, aok := a.Months()
	bm, bok := b.Months()
	if aok != bok {
		return !aok
	}
	return am < bm
}

// Sort orders ranges in place, catch-all first, then ascending by term.
func Sort(ranges []models.InterestRateRange) {
	sort.SliceStable(ranges, func(i, j int) bool {
		return Less(ranges[i].Term, ranges[j].Term)
	})
}

// Resolve returns the rate for term from a tier's ranges: the exact match when
// one exists, otherwise the catch-all. It never defaults to zero.
func Resolve(ranges []models.InterestRateRange, term models.Term) (decimal.Decimal, error) {
	var catchAll *models.InterestRateRange
	for i := range ranges {
		r := &ranges[i]
		if r.Term.IsAny() {
			if catchAll == nil {
				catchAll = r
			}
			continue
		}
		if !term.IsAny() && r.Term == term {
			return r.EffectiveRatePercent, nil
		}
	}
	if catchAll != nil {
		return catchAll.EffectiveRatePercent, nil
	}
	return decimal.Zero, apperr.Wrap(apperr.ErrNoApplicableRate, "no range for term %s and no catch-all", term)
}
