package markers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHighAndNewLowUpdateInstrument(t *testing.T) {
	e := New(DefaultConfig())
	inst := &Instrument{PipSize: 0.0001, TodaysHigh: 1.1000, TodaysLow: 1.0950}

	out := e.Evaluate(Tick{Bid: 1.1010, Ask: 1.1012, TimestampMs: 1000}, inst, nil)

	require.Len(t, out, 1)
	assert.Equal(t, NewHigh, out[0].Kind)
	assert.InDelta(t, 1.1011, inst.TodaysHigh, 1e-9)
}

func TestADRTouchDetectedWithinEpsilon(t *testing.T) {
	e := New(DefaultConfig())
	inst := &Instrument{
		PipSize:          0.0001,
		ProjectedADRHigh: 1.1050,
		TodaysHigh:       1.1050,
		TodaysLow:        1.1050,
	}

	// mid = 1.10499, within 1 pip (0.0001) of 1.1050.
	out := e.Evaluate(Tick{Bid: 1.10495, Ask: 1.10503, TimestampMs: 2000}, inst, nil)

	found := false
	for _, m := range out {
		if m.Kind == ADRHighTouch {
			found = true
		}
	}
	assert.True(t, found)
}

// TestLargeMoveScenario mirrors spec.md §8 scenario 3: BTCUSD moves from
// mid 43250 to mid 43450 (a 200-unit jump) between two ticks 500ms apart,
// producing exactly one large_move marker with TTL 5000ms that is gone
// by t=6000ms.
func TestLargeMoveScenario(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LargeMoveThresholdPips = 50
	cfg.LargeMoveLookback = 1
	e := New(cfg)
	inst := &Instrument{PipSize: 1, TodaysHigh: 43250, TodaysLow: 43250}

	history := []PriceSample{{Price: 43250, TimestampMs: 0}}

	out := e.Evaluate(Tick{Bid: 43449, Ask: 43451, TimestampMs: 500}, inst, history)

	var moves []Marker
	for _, m := range out {
		if m.Kind == LargeMove {
			moves = append(moves, m)
		}
	}
	require.Len(t, moves, 1)
	assert.InDelta(t, 200, moves[0].Magnitude, 1)
	assert.Equal(t, int64(5000), moves[0].TTLMs)

	active := Append(nil, out, 500)
	active = Append(active, nil, 6000)
	for _, m := range active {
		assert.NotEqual(t, LargeMove, m.Kind)
	}
}

func TestLargeMoveRespectsCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LargeMoveThresholdPips = 50
	cfg.LargeMoveLookback = 1
	e := New(cfg)
	inst := &Instrument{PipSize: 1, TodaysHigh: 43250, TodaysLow: 43250}

	history := []PriceSample{{Price: 43250, TimestampMs: 0}}
	first := e.Evaluate(Tick{Bid: 43449, Ask: 43451, TimestampMs: 500}, inst, history)

	history2 := []PriceSample{{Price: 43450, TimestampMs: 500}}
	second := e.Evaluate(Tick{Bid: 43649, Ask: 43651, TimestampMs: 600}, inst, history2)

	hasMove := func(ms []Marker) bool {
		for _, m := range ms {
			if m.Kind == LargeMove {
				return true
			}
		}
		return false
	}
	assert.True(t, hasMove(first))
	assert.False(t, hasMove(second), "second large_move within cooldown window must be suppressed")
}

func TestSpreadSpikeRequiresWarmWindow(t *testing.T) {
	e := New(DefaultConfig())
	inst := &Instrument{PipSize: 0.0001}

	// Fewer than 10 samples: never fires regardless of spread size.
	out := e.Evaluate(Tick{Bid: 1.1000, Ask: 1.2000, TimestampMs: 1}, inst, nil)
	for _, m := range out {
		assert.NotEqual(t, SpreadSpike, m.Kind)
	}
}

func TestSpreadSpikeFiresOnOutlier(t *testing.T) {
	e := New(DefaultConfig())
	inst := &Instrument{PipSize: 0.0001}

	for i := int64(0); i < 20; i++ {
		e.Evaluate(Tick{Bid: 1.1000, Ask: 1.1001, TimestampMs: i}, inst, nil)
	}

	out := e.Evaluate(Tick{Bid: 1.1000, Ask: 1.1050, TimestampMs: 21}, inst, nil)

	found := false
	for _, m := range out {
		if m.Kind == SpreadSpike {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAppendEnforcesPerKindCap(t *testing.T) {
	var active []Marker
	for i := 0; i < CapPerKind+5; i++ {
		fresh := []Marker{{Kind: ADRHighTouch, Price: float64(i), CreatedAtMs: int64(i), TTLMs: 30000}}
		active = Append(active, fresh, int64(i))
	}

	count := 0
	for _, m := range active {
		if m.Kind == ADRHighTouch {
			count++
		}
	}
	assert.LessOrEqual(t, count, CapPerKind)
}

func TestAppendPrunesExpiredMarkers(t *testing.T) {
	fresh := []Marker{{Kind: SpreadSpike, Price: 1.1, CreatedAtMs: 0, TTLMs: 10000}}
	active := Append(nil, fresh, 0)
	require.Len(t, active, 1)

	active = Append(active, nil, 15000)
	assert.Empty(t, active, "expired marker must never be returned once created_at+ttl < now")
}

func TestNewHighSupersedesPriorInsteadOfAccumulating(t *testing.T) {
	e := New(DefaultConfig())
	inst := &Instrument{PipSize: 0.0001, TodaysHigh: 1.1000, TodaysLow: 1.0950}

	first := e.Evaluate(Tick{Bid: 1.1010, Ask: 1.1012, TimestampMs: 1000}, inst, nil)
	active := Append(nil, first, 1000)

	second := e.Evaluate(Tick{Bid: 1.1030, Ask: 1.1032, TimestampMs: 2000}, inst, nil)
	active = Append(active, second, 2000)

	count := 0
	for _, m := range active {
		if m.Kind == NewHigh {
			count++
		}
	}
	assert.Equal(t, 1, count, "new_high must supersede, never accumulate")
}
