package visualrange

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectPicksSmallestContainingStep(t *testing.T) {
	// mid=100, adr=10: the 0.30 window [97, 103] only touches today's
	// range [97,103], and its 0.15 margin rules it out; the 0.50 window
	// [95, 105] less its 0.25 margin contains it, so 0.50 is the
	// smallest containing step.
	r := Select(100, 10, 97, 103)
	require.Contains(t, Steps, r.Step)
	assert.Equal(t, 0.50, r.Step)
	assert.LessOrEqual(t, r.Low, 97.0)
	assert.GreaterOrEqual(t, r.High, 103.0)
}

// TestStepDecreasesAfterRangeNarrows is the property test required by
// spec.md §4.E/§9/§8: the step must be free to fall back down once the
// day's range no longer needs a wide window. A max(current, target)
// implementation would fail this by latching at the wider step.
func TestStepDecreasesAfterRangeNarrows(t *testing.T) {
	mid := 100.0
	adr := 10.0

	// First: a move wide enough to require the largest step.
	wide := Select(mid, adr, 80, 120)
	require.Equal(t, Steps[len(Steps)-1], wide.Step)

	// Then: today's range narrows back to something the smallest step
	// can contain. Select must assign the smaller step directly.
	narrow := Select(mid, adr, 99, 101)
	assert.Less(t, narrow.Step, wide.Step, "step must be able to decrease, never only widen")
}

func TestVisualRangeHighNeverBelowLow(t *testing.T) {
	cases := []struct{ mid, adr, low, high float64 }{
		{100, 10, 97, 103},
		{100, 10, 50, 150},
		{1.1000, 0.0050, 1.0950, 1.1050},
		{43250, 500, 42000, 44500},
	}
	for _, c := range cases {
		r := Select(c.mid, c.adr, c.low, c.high)
		assert.GreaterOrEqual(t, r.High, r.Low)
	}
}

func TestSelectFallsBackToWidestStepWhenADRNonPositive(t *testing.T) {
	r := Select(100, 0, 90, 110)
	assert.Equal(t, Steps[len(Steps)-1], r.Step)
}

func TestSelectSwapsInvertedTodaysRange(t *testing.T) {
	// todaysHigh < todaysLow should never happen from a well-behaved
	// caller, but Select must not produce a nonsensical window.
	r := Select(100, 10, 110, 90)
	assert.GreaterOrEqual(t, r.High, r.Low)
}

func TestInitialRangeContainsOpenPrice(t *testing.T) {
	r := InitialRange(1.1000, 0.0080)
	assert.LessOrEqual(t, r.Low, 1.1000)
	assert.GreaterOrEqual(t, r.High, 1.1000)
	assert.Equal(t, Steps[0], r.Step)
}

// TestSelectNeverAccumulates directly exercises the anti-drift
// invariant across a sequence of ticks: repeatedly widening then
// narrowing the day's range must never leave a residual "high water
// mark" step once the range has narrowed back down.
func TestSelectNeverAccumulates(t *testing.T) {
	mid, adr := 100.0, 10.0
	sequence := []struct{ low, high float64 }{
		{98, 102},
		{80, 120},
		{70, 130},
		{99, 101},
	}
	var last Range
	for _, s := range sequence {
		last = Select(mid, adr, s.low, s.high)
	}
	assert.Equal(t, Steps[0], last.Step, "range must settle back to the smallest containing step, not the historical maximum")
}
