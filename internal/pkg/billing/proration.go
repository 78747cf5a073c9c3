package billing

import "fmt"

// ProrationResult is the signed credit/charge delta for an immediate plan
// change. A positive amount is a charge due, a negative amount a credit owed.
// The result is attached to the plan-change audit entry, never persisted on
// its own.
type ProrationResult struct {
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
}

// Prorate computes the signed amount for switching from oldPriceCents to
// newPriceCents with elapsedDays of a cycleDays billing cycle already used.
// All arithmetic is integer cents; the single rounding step is round-half-up
// on the final value so repeated plan changes cannot accumulate drift.
//
// Day 0 prorates to the full price delta, the last day to near zero. Callers
// must not invoke this for trial or unpaid subscriptions; those change plans
// effective at the next renewal without proration.
func Prorate(oldPriceCents, newPriceCents int64, cycleDays, elapsedDays int, currency string) (ProrationResult, error) {
	if cycleDays <= 0 {
		return ProrationResult{}, NewValidationError("cycle length must be positive, got %d", cycleDays)
	}
	if elapsedDays < 0 || elapsedDays > cycleDays {
		return ProrationResult{}, NewValidationError("elapsed days %d outside cycle of %d days", elapsedDays, cycleDays)
	}
	if oldPriceCents < 0 || newPriceCents < 0 {
		return ProrationResult{}, NewValidationError("plan prices must not be negative")
	}

	remainingDays := cycleDays - elapsedDays
	delta := newPriceCents - oldPriceCents

	// delta * remaining / cycle, rounded half-up on the final cents value.
	amount := roundHalfUpDiv(delta*int64(remainingDays), int64(cycleDays))

	return ProrationResult{
		AmountCents: amount,
		Currency:    currency,
		Description: fmt.Sprintf("plan change with %d of %d days remaining, price delta %d cents", remainingDays, cycleDays, delta),
	}, nil
}

// roundHalfUpDiv divides num by den rounding half away from zero on the
// result. den must be positive.
func roundHalfUpDiv(num, den int64) int64 {
	if num >= 0 {
		return (num + den/2) / den
	}
	return -((-num + den/2) / den)
}
