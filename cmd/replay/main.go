// Command replay drives a processor deterministically from cached M1
// candles instead of a live feed connection — useful for exercising
// the property tests in spec.md §8 and for local development without a
// broker. Each candle becomes four synthetic ticks (open, high, low,
// close) with a small fixed spread, and every emitted snapshot's
// visual range is also encoded with the msgpack wire codec (the
// encoded size is printed; nothing is decoded back) to exercise the
// same encoding path the live feed uses.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/aristath/visualrange-engine/internal/candlecache"
	"github.com/aristath/visualrange-engine/internal/feed"
	"github.com/aristath/visualrange-engine/internal/marketprofile"
	"github.com/aristath/visualrange-engine/internal/processor"
	"github.com/aristath/visualrange-engine/internal/quote"
	"github.com/aristath/visualrange-engine/pkg/logger"
)

func main() {
	dbPath := flag.String("db", "./data/candles.db", "path to candlecache sqlite file")
	symbol := flag.String("symbol", "EURUSD", "symbol to replay")
	digits := flag.Int("digits", 5, "instrument decimal digit count")
	bucketSize := flag.Float64("bucket-size", 0.0001, "market profile bucket size")
	adrHigh := flag.Float64("adr-high", 0, "projected ADR high")
	adrLow := flag.Float64("adr-low", 0, "projected ADR low")
	limit := flag.Int("limit", 500, "how many cached candles to replay")
	flag.Parse()

	log := logger.New(logger.Config{Level: "info", Pretty: true})

	cache, err := candlecache.Open(*dbPath, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open candle cache")
	}
	defer cache.Close()

	candles, err := cache.Recent(*symbol, *limit)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load candles")
	}
	if len(candles) == 0 {
		log.Fatal().Str("symbol", *symbol).Msg("no cached candles for symbol, seed it first")
	}

	class := quote.Classify(candles[0].Close, *digits)
	pipSize := quote.PipSize(class, *digits)

	inst := &processor.Instrument{
		Symbol:           *symbol,
		DigitCount:       *digits,
		Class:            class,
		PipSize:          pipSize,
		Open:             candles[0].Open,
		ProjectedADRHigh: *adrHigh,
		ProjectedADRLow:  *adrLow,
	}

	dayID := candles[0].TimestampMs / 86400000

	proc := processor.New(inst, *bucketSize, processor.DefaultConfig())
	proc.Initialize(candles[0].Open, dayID, candles)

	emitted := 0

	for _, c := range candles {
		for _, tick := range candleTicks(c, dayID, pipSize) {
			snap, ok := proc.OnTick(tick)
			if !ok {
				continue
			}
			emitted++

			encoded, err := feed.MsgpackCodec.Marshal(snap.VisualRange)
			if err != nil {
				log.Error().Err(err).Msg("failed to encode visual range for replay output")
				continue
			}

			fmt.Fprintf(os.Stdout, "ts=%d last=%.5f visual_range=[%.5f,%.5f] step=%.2f markers=%d encoded_bytes=%d\n",
				tick.TimestampMs, snap.LastPrice, snap.VisualRange.Low, snap.VisualRange.High,
				snap.VisualRange.Step, len(snap.MarkersView), len(encoded))
		}
	}

	log.Info().
		Str("symbol", *symbol).
		Int("candles", len(candles)).
		Int("snapshots_emitted", emitted).
		Msg("replay complete")
}

// candleTicks synthesizes four ticks (open, high, low, close) from one
// M1 candle, each with a one-pip spread, one second apart.
func candleTicks(c marketprofile.Candle, dayID int64, pipSize float64) []processor.Tick {
	if pipSize <= 0 {
		pipSize = 0.0001
	}
	spread := pipSize
	prices := [4]float64{c.Open, c.High, c.Low, c.Close}
	size := c.Volume / 4

	ticks := make([]processor.Tick, 4)
	for i, mid := range prices {
		ticks[i] = processor.Tick{
			Bid:         mid - spread/2,
			Ask:         mid + spread/2,
			BidSize:     size,
			AskSize:     size,
			TimestampMs: c.TimestampMs + int64(i)*1000,
			DayID:       dayID,
		}
	}
	return ticks
}
