package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTripJSON(t *testing.T) {
	tick := TickPayload{Symbol: "EURUSD", Bid: 1.0850, Ask: 1.0852, TimestampMs: 1000, DayID: 1}
	data, err := encodeEnvelope(JSONCodec, FrameTick, tick)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, JSONCodec.Unmarshal(data, &env))
	assert.Equal(t, FrameTick, env.Type)

	var decoded TickPayload
	require.NoError(t, decodePayload(JSONCodec, env.Payload, &decoded))
	assert.Equal(t, tick, decoded)
}

func TestEnvelopeRoundTripMsgpack(t *testing.T) {
	snap := SnapshotPayload{
		Symbol:           "BTCUSD",
		Digits:           2,
		TodaysOpen:       43000,
		ProjectedADRHigh: 44000,
		ProjectedADRLow:  42000,
		M1Candles:        []Candle{{T: 0, O: 43000, H: 43100, L: 42900, C: 43050, V: 12}},
	}
	data, err := encodeEnvelope(MsgpackCodec, FrameSnapshot, snap)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, MsgpackCodec.Unmarshal(data, &env))
	assert.Equal(t, FrameSnapshot, env.Type)

	var decoded SnapshotPayload
	require.NoError(t, decodePayload(MsgpackCodec, env.Payload, &decoded))
	assert.Equal(t, snap, decoded)
}

func TestFullJitterBackoffNeverExceedsCap(t *testing.T) {
	for attempt := 1; attempt <= 20; attempt++ {
		d := fullJitterBackoff(attempt)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, maxReconnectDelay)
	}
}
