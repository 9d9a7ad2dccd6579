package candlecache

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/visualrange-engine/internal/marketprofile"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutBatchAndRecentRoundTrip(t *testing.T) {
	s := openTestStore(t)

	candles := []marketprofile.Candle{
		{TimestampMs: 1000, Open: 1.0850, High: 1.0855, Low: 1.0848, Close: 1.0852, Volume: 10},
		{TimestampMs: 2000, Open: 1.0852, High: 1.0860, Low: 1.0851, Close: 1.0858, Volume: 14},
		{TimestampMs: 3000, Open: 1.0858, High: 1.0862, Low: 1.0855, Close: 1.0860, Volume: 9},
	}
	require.NoError(t, s.PutBatch("EURUSD", candles))

	got, err := s.Recent("EURUSD", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1000), got[0].TimestampMs, "Recent must return oldest-first")
	assert.Equal(t, int64(3000), got[2].TimestampMs)
}

func TestRecentRespectsLimit(t *testing.T) {
	s := openTestStore(t)

	for i := int64(0); i < 5; i++ {
		require.NoError(t, s.Put("EURUSD", marketprofile.Candle{TimestampMs: i * 60000, Close: 1.08}))
	}

	got, err := s.Recent("EURUSD", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3*60000), got[0].TimestampMs)
	assert.Equal(t, int64(4*60000), got[1].TimestampMs)
}

func TestPutUpsertsExistingMinute(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("EURUSD", marketprofile.Candle{TimestampMs: 1000, Close: 1.0850}))
	require.NoError(t, s.Put("EURUSD", marketprofile.Candle{TimestampMs: 1000, Close: 1.0899}))

	got, err := s.Recent("EURUSD", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0899, got[0].Close)
}

func TestSymbolsListsDistinctSymbols(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put("EURUSD", marketprofile.Candle{TimestampMs: 1000, Close: 1.08}))
	require.NoError(t, s.Put("BTCUSD", marketprofile.Candle{TimestampMs: 1000, Close: 43000}))
	require.NoError(t, s.Put("EURUSD", marketprofile.Candle{TimestampMs: 2000, Close: 1.09}))

	symbols, err := s.Symbols()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"BTCUSD", "EURUSD"}, symbols)
}

func TestRecentForUnknownSymbolReturnsEmpty(t *testing.T) {
	s := openTestStore(t)
	got, err := s.Recent("NOSUCH", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
