// Package visualrange implements the ADR-multiplier zoom-step selector
// of spec.md §4.E: a vertical price window that stays stable under
// normal price motion yet expands when the market breaks its
// projected ADR — and, critically, contracts again once it doesn't.
//
// The historical bug this package must not repeat (spec.md §9): taking
// max(current_step, target_step) instead of assigning target_step
// directly. That made the window only ever widen, so as the multiplier
// saturated at the top of Steps the displayed price float drifted
// toward the center of an ever-widening window. Every call to Select
// assigns the target step outright.
package visualrange

// Steps is the fixed, sorted set S of admissible adr_multiplier_step
// values (spec.md §4.E). Margin shrinks each candidate window by this
// fraction of its half-width on both sides before testing containment.
var Steps = []float64{0.30, 0.50, 0.75, 1.00, 1.50, 2.00}

// Margin is the containment slack applied to each candidate window
// (spec.md §4.E: "with a small margin (e.g. 5%)").
const Margin = 0.05

// Range is the current visual-range state: the selected step and the
// price bounds it produces.
type Range struct {
	Step float64
	Low  float64
	High float64
}

// Select computes the smallest admissible step whose window
// [mid-s*adr, mid+s*adr], shrunk by Margin on each side, contains
// [todaysLow, todaysHigh], then assigns it directly — never
// max(current, target) — and recomputes low/high from mid and adr.
//
// adr must be > 0; if todaysHigh < todaysLow the two are swapped
// defensively (they are expected to already be ordered by the caller).
func Select(mid, adr, todaysLow, todaysHigh float64) Range {
	if todaysHigh < todaysLow {
		todaysLow, todaysHigh = todaysHigh, todaysLow
	}

	target := targetStep(mid, adr, todaysLow, todaysHigh)

	return Range{
		Step: target,
		Low:  mid - target*adr,
		High: mid + target*adr,
	}
}

func targetStep(mid, adr, todaysLow, todaysHigh float64) float64 {
	if adr <= 0 {
		return Steps[len(Steps)-1]
	}
	for _, s := range Steps {
		windowLow := mid - s*adr
		windowHigh := mid + s*adr
		margin := s * adr * Margin
		if todaysLow >= windowLow+margin && todaysHigh <= windowHigh-margin {
			return s
		}
	}
	return Steps[len(Steps)-1]
}

// InitialRange chooses the smallest step containing openPrice plus a
// small margin around itself, for use by the per-symbol processor's
// initialize operation (spec.md §4.F) before any ticks have arrived.
func InitialRange(openPrice, adr float64) Range {
	return Select(openPrice, adr, openPrice, openPrice)
}
