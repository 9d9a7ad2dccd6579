// Package marketprofile implements the bucketed volume/trade histogram
// described in spec.md §4.C: quantized-price buckets with a hard level
// cap and oldest-eviction, plus historical seeding and an optional
// delta (buy/sell) histogram.
//
// Grounded on the bounded-map-with-eviction idiom in
// other_examples/8cd9bb7b (state buffer) and the tick-rule
// buy/sell classification in other_examples/f05de1bf
// (taurusjun-quantlink-trade-system), per the Open Question decision
// recorded in SPEC_FULL.md §6.
package marketprofile

import (
	"math"
	"sort"
)

// MaxLevels bounds the number of distinct buckets retained (spec.md §3).
const MaxLevels = 500

// Level is one bucket's accumulated volume/trade-count state.
type Level struct {
	Price        float64
	Volume       float64
	TradeCount   int
	LastUpdateMs int64
}

// DeltaLevel separates buy- and sell-initiated volume for one bucket,
// classified with the tick rule (uptick=buy, downtick=sell, unchanged
// inherits the previous side).
type DeltaLevel struct {
	Price      float64
	BuyVolume  float64
	SellVolume float64
}

// Candle is a historical M1 bar used to seed the profile before the
// first live tick (spec.md §6 SNAPSHOT frame's m1_candles).
type Candle struct {
	TimestampMs int64
	Open, High, Low, Close float64
	Volume float64
}

// Profile is a bucketed market-profile accumulator for one symbol.
// Not safe for concurrent use — it is exclusively owned by one
// processor (spec.md §3 "Ownership").
type Profile struct {
	bucketSize float64
	levels     map[float64]*Level
	delta      map[float64]*DeltaLevel
	lastTickDir int // +1 uptick, -1 downtick, 0 unknown; tick rule state
	lastPrice   float64
	seeded      bool
}

// New creates a Profile quantizing prices to bucketSize. bucketSize
// must be > 0 — the caller (the per-symbol processor) selects it from
// a per-instrument table at initialization (spec.md §4.C).
func New(bucketSize float64) *Profile {
	if bucketSize <= 0 {
		panic("marketprofile: bucketSize must be positive")
	}
	return &Profile{
		bucketSize: bucketSize,
		levels:     make(map[float64]*Level),
		delta:      make(map[float64]*DeltaLevel),
	}
}

func (p *Profile) bucket(price float64) float64 {
	return math.Round(price/p.bucketSize) * p.bucketSize
}

// OnTick records one trade/quote event at price with the given size at
// timestampMs. Never fails; eviction of the least-recently-updated
// level is silent once MaxLevels is reached.
func (p *Profile) OnTick(price, size float64, timestampMs int64) {
	b := p.bucket(price)

	if lvl, ok := p.levels[b]; ok {
		lvl.Volume += size
		lvl.TradeCount++
		lvl.LastUpdateMs = timestampMs
	} else {
		if len(p.levels) >= MaxLevels {
			p.evictOldest()
		}
		p.levels[b] = &Level{Price: b, Volume: size, TradeCount: 1, LastUpdateMs: timestampMs}
	}

	p.recordDelta(b, price, size)
}

func (p *Profile) recordDelta(bucket, price, size float64) {
	dir := p.lastTickDir
	switch {
	case p.lastPrice == 0:
		dir = 0
	case price > p.lastPrice:
		dir = 1
	case price < p.lastPrice:
		dir = -1
	}
	p.lastTickDir = dir
	p.lastPrice = price

	dl, ok := p.delta[bucket]
	if !ok {
		dl = &DeltaLevel{Price: bucket}
		p.delta[bucket] = dl
	}
	if dir >= 0 {
		dl.BuyVolume += size
	} else {
		dl.SellVolume += size
	}
}

func (p *Profile) evictOldest() {
	var oldestKey float64
	var oldestMs int64 = math.MaxInt64
	first := true
	for k, lvl := range p.levels {
		if first || lvl.LastUpdateMs < oldestMs {
			oldestKey = k
			oldestMs = lvl.LastUpdateMs
			first = false
		}
	}
	if !first {
		delete(p.levels, oldestKey)
		delete(p.delta, oldestKey)
	}
}

// SeedFromHistory spreads each candle's volume uniformly across the
// buckets spanned by [low, high]. Call this exactly once, before the
// first live tick (spec.md §4.C).
func (p *Profile) SeedFromHistory(candles []Candle, timestampMs int64) {
	if p.seeded {
		return
	}
	p.seeded = true

	for _, c := range candles {
		low, high := c.Low, c.High
		if high < low {
			low, high = high, low
		}
		lowBucket := p.bucket(low)
		highBucket := p.bucket(high)
		count := int(math.Round((highBucket-lowBucket)/p.bucketSize)) + 1
		if count <= 0 {
			count = 1
		}
		share := c.Volume / float64(count)

		for i := 0; i < count; i++ {
			bq := p.bucket(lowBucket + float64(i)*p.bucketSize)
			if lvl, ok := p.levels[bq]; ok {
				lvl.Volume += share
				lvl.TradeCount++
				lvl.LastUpdateMs = c.TimestampMs
			} else {
				if len(p.levels) >= MaxLevels {
					p.evictOldest()
				}
				p.levels[bq] = &Level{Price: bq, Volume: share, TradeCount: 1, LastUpdateMs: c.TimestampMs}
			}
		}
	}
}

// Len reports the current number of distinct levels (for the §8
// invariant |levels| <= MaxLevels).
func (p *Profile) Len() int { return len(p.levels) }

// View returns a snapshot of levels sorted descending by price,
// truncated to the top-K by volume when k > 0.
func (p *Profile) View(k int) []Level {
	out := make([]Level, 0, len(p.levels))
	for _, lvl := range p.levels {
		out = append(out, *lvl)
	}
	sortLevelsByPriceDesc(out)

	if k > 0 && len(out) > k {
		byVolume := make([]Level, len(out))
		copy(byVolume, out)
		sortLevelsByVolumeDesc(byVolume)
		byVolume = byVolume[:k]
		keep := make(map[float64]bool, k)
		for _, lvl := range byVolume {
			keep[lvl.Price] = true
		}
		filtered := out[:0]
		for _, lvl := range out {
			if keep[lvl.Price] {
				filtered = append(filtered, lvl)
			}
		}
		out = filtered
	}
	return out
}

// DeltaView returns the delta (buy/sell) histogram sorted descending
// by price, for delta-mode rendering (spec.md §6 market_profile.mode).
func (p *Profile) DeltaView() []DeltaLevel {
	out := make([]DeltaLevel, 0, len(p.delta))
	for _, dl := range p.delta {
		out = append(out, *dl)
	}
	sortDeltaByPriceDesc(out)
	return out
}

func sortLevelsByPriceDesc(levels []Level) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
}

func sortLevelsByVolumeDesc(levels []Level) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Volume > levels[j].Volume })
}

func sortDeltaByPriceDesc(levels []DeltaLevel) {
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
}
