package display

import (
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/visualrange-engine/internal/feed"
)

func TestDefaultConfigMatchesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 220.0, cfg.ContainerSize.W)
	assert.Equal(t, 160.0, cfg.ContainerSize.H)
	assert.Equal(t, 40.0, cfg.HeaderHeight)
	assert.Equal(t, 0.65, cfg.ADRAxisPosition)
	assert.Equal(t, int64(16), cfg.MinSnapshotIntervalMs)
	assert.Equal(t, ProfileTraditional, cfg.MarketProfileMode)
}

func TestIsFiniteRejectsNonFiniteValues(t *testing.T) {
	assert.True(t, isFinite(1.0850))
	assert.False(t, isFinite(math.NaN()))
	assert.False(t, isFinite(math.Inf(1)))
	assert.False(t, isFinite(math.Inf(-1)))
}

func TestDestroyWithoutSubscribeIsSafeAndIdempotent(t *testing.T) {
	m := feed.NewManager("ws://example.invalid/feed", "token", feed.JSONCodec, zerolog.Nop())
	o := New("display-1", m, DefaultConfig(), zerolog.Nop())

	assert.NotPanics(t, func() {
		o.Destroy()
		o.Destroy()
	})
}
