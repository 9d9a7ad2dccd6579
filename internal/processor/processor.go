// Package processor implements the per-symbol tick processor of
// spec.md §4.F: the component that owns one symbol's ring buffers,
// market profile, markers and visual range, and turns a stream of
// ticks into rate-limited, immutable snapshots.
//
// Grounded on the bounded rolling-statistics/EWMA idiom in
// other_examples/effa5be5_Funky1981-jax-trading-assistant (microstructure.go)
// and on the teacher's copy-on-read snapshot publishing style in
// internal/clients/tradernet/websocket_client.go (cache updated under
// lock, readers get an independent copy).
package processor

import (
	"math"
	"sync"

	talib "github.com/markcheno/go-talib"

	"github.com/aristath/visualrange-engine/internal/markers"
	"github.com/aristath/visualrange-engine/internal/marketprofile"
	"github.com/aristath/visualrange-engine/internal/quote"
	"github.com/aristath/visualrange-engine/internal/ringbuffer"
	"github.com/aristath/visualrange-engine/internal/visualrange"
)

// Instrument is the per-symbol descriptor shared read-only across all
// processors subscribed to the same symbol (spec.md §3 "Ownership").
// Only TodaysHigh/TodaysLow mutate after creation, and only monotonically
// widen, guarded by Mu.
type Instrument struct {
	Mu sync.RWMutex

	Symbol           string
	DigitCount       int
	Class            quote.AssetClass
	PipSize          float64
	Open             float64
	ProjectedADRHigh float64
	ProjectedADRLow  float64
	TodaysHigh       float64
	TodaysLow        float64
}

// snapshotExtremes returns a read-locked copy of the today's high/low
// and ADR projection, for handing to the markers engine without
// holding Mu across the call.
func (inst *Instrument) snapshotExtremes() markers.Instrument {
	inst.Mu.RLock()
	defer inst.Mu.RUnlock()
	return markers.Instrument{
		PipSize:          inst.PipSize,
		ProjectedADRHigh: inst.ProjectedADRHigh,
		ProjectedADRLow:  inst.ProjectedADRLow,
		TodaysHigh:       inst.TodaysHigh,
		TodaysLow:        inst.TodaysLow,
	}
}

// applyExtremes writes back today's high/low after the markers engine
// has (possibly) widened them. Never narrows — TodaysHigh/TodaysLow
// only ever widen (spec.md §3).
func (inst *Instrument) applyExtremes(m markers.Instrument) {
	inst.Mu.Lock()
	defer inst.Mu.Unlock()
	if m.TodaysHigh > inst.TodaysHigh {
		inst.TodaysHigh = m.TodaysHigh
	}
	if inst.TodaysLow == 0 || m.TodaysLow < inst.TodaysLow {
		inst.TodaysLow = m.TodaysLow
	}
}

func (inst *Instrument) adr() float64 {
	inst.Mu.RLock()
	defer inst.Mu.RUnlock()
	return inst.ProjectedADRHigh - inst.ProjectedADRLow
}

// Tick is one bid/ask update for a symbol.
type Tick struct {
	Bid, Ask         float64
	BidSize, AskSize float64
	TimestampMs      int64
	DayID            int64
}

func (t Tick) mid() float64 { return (t.Bid + t.Ask) / 2 }

// PriceSample is one historical mid-price observation.
type PriceSample struct {
	Price       float64
	TimestampMs int64
}

// Snapshot is the immutable, value-typed view of processor state
// handed to the renderer (spec.md §3 "State snapshot"). Safe to read
// without locking once received.
type Snapshot struct {
	LastPrice           float64
	VisualRange         visualrange.Range
	VolatilityIntensity float64
	DirectionalBias     float64
	MarketProfileView   []marketprofile.Level
	DeltaView           []marketprofile.DeltaLevel
	MarkersView         []markers.Marker
	Ready               bool
	TimestampMs         int64

	// VolatilityReference is a secondary, StdDev based estimate computed
	// off the same price history via go-talib. It never feeds back into
	// VolatilityIntensity or any other primary field; it is a cross-check
	// carried on every snapshot (the diagnostics debug view omits it).
	VolatilityReference float64
}

// Config tunes the processor's smoothing and rate limits.
type Config struct {
	AlphaVolatility       float64
	BetaBias              float64
	MinSnapshotIntervalMs int64
	RingBufferCapacity    int
	TopKProfileLevels     int
	Markers               markers.Config
	TalibEMAPeriod        int
}

// DefaultConfig mirrors spec.md §4.F's named constants.
func DefaultConfig() Config {
	return Config{
		AlphaVolatility:       0.05,
		BetaBias:              0.02,
		MinSnapshotIntervalMs: 16,
		RingBufferCapacity:    512,
		TopKProfileLevels:     0,
		Markers:               markers.DefaultConfig(),
		TalibEMAPeriod:        20,
	}
}

// Processor owns one display's view of one symbol: its ring buffers,
// market profile, active markers and visual range. Not safe for
// concurrent OnTick calls from multiple goroutines — exclusively owned
// by the display that created it (spec.md §3 "Ownership"). Snapshot
// reads are safe from any goroutine.
type Processor struct {
	mu sync.RWMutex

	instrument *Instrument
	cfg        Config

	priceHistory *ringbuffer.RingBuffer[PriceSample]
	profile      *marketprofile.Profile
	markerEngine *markers.Engine
	activeMarkers []Marker

	visualRange         visualrange.Range
	volatilityIntensity float64
	directionalBias     float64
	lastPrice           float64
	lastTickTimestampMs int64
	lastSnapshotTimestampMs int64
	hasEmittedSnapshot  bool
	ready               bool
	currentDayID        int64
	initialized         bool
}

// Marker is a type alias so callers outside this package don't need to
// import internal/markers just to read a snapshot's MarkersView; kept
// distinct from markers.Marker only nominally.
type Marker = markers.Marker

// New creates a Processor bound to instrument, using bucketSize for its
// market-profile accumulator (chosen by the caller from a per-instrument
// table, spec.md §4.C).
func New(instrument *Instrument, bucketSize float64, cfg Config) *Processor {
	return &Processor{
		instrument:   instrument,
		cfg:          cfg,
		priceHistory: ringbuffer.New[PriceSample](cfg.RingBufferCapacity),
		profile:      marketprofile.New(bucketSize),
		markerEngine: markers.New(cfg.Markers),
	}
}

// Initialize seeds the processor from historical candles, an opening
// price and the current day id, per spec.md §4.F. Setting currentDayID
// here (rather than leaving it at its zero value) is what makes the
// first OnTick's day-rollover check correct: without it, any nonzero
// DayID on the first real tick looks like a rollover and wipes the
// TodaysHigh/TodaysLow this call just seeded. ready stays false until
// the first OnTick call.
func (p *Processor) Initialize(initialPrice float64, dayID int64, historicalCandles []marketprofile.Candle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.profile.SeedFromHistory(historicalCandles, 0)
	adr := p.instrument.adr()
	p.visualRange = visualrange.InitialRange(initialPrice, adr)
	p.lastPrice = initialPrice
	p.currentDayID = dayID
	p.ready = false
	p.initialized = true
}

// OnTick advances processor state by one tick, following spec.md
// §4.F's nine-step algorithm. It returns the freshly emitted snapshot
// and true when the rate limit allowed emission this tick, or
// (Snapshot{}, false) when the tick's effect was aggregated but no new
// snapshot was due.
func (p *Processor) OnTick(tick Tick) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tick.DayID != p.currentDayID {
		p.resetIntradayLocked(tick.DayID)
	}

	mid := tick.mid()
	var delta float64
	if p.lastPrice != 0 {
		delta = mid - p.lastPrice
	}

	p.priceHistory.Push(PriceSample{Price: mid, TimestampMs: tick.TimestampMs})

	pip := p.instrument.PipSize
	if pip <= 0 {
		pip = 0.0001
	}
	rawVol := p.cfg.AlphaVolatility*math.Abs(delta)/pip + (1-p.cfg.AlphaVolatility)*p.volatilityIntensity
	p.volatilityIntensity = math.Tanh(rawVol)

	sign := 0.0
	switch {
	case delta > 0:
		sign = 1
	case delta < 0:
		sign = -1
	}
	p.directionalBias = p.cfg.BetaBias*sign + (1-p.cfg.BetaBias)*p.directionalBias
	if p.directionalBias > 1 {
		p.directionalBias = 1
	} else if p.directionalBias < -1 {
		p.directionalBias = -1
	}

	size := (tick.BidSize + tick.AskSize) / 2
	p.profile.OnTick(mid, size, tick.TimestampMs)

	instSnap := p.instrument.snapshotExtremes()
	fresh := p.markerEngine.Evaluate(markers.Tick{Bid: tick.Bid, Ask: tick.Ask, TimestampMs: tick.TimestampMs}, &instSnap, p.recentSamplesLocked())
	p.instrument.applyExtremes(instSnap)
	p.activeMarkers = markers.Append(p.activeMarkers, fresh, tick.TimestampMs)

	adr := p.instrument.adr()
	p.visualRange = visualrange.Select(mid, adr, instSnap.TodaysLow, instSnap.TodaysHigh)

	p.lastPrice = mid
	p.lastTickTimestampMs = tick.TimestampMs
	p.ready = true

	if p.hasEmittedSnapshot && tick.TimestampMs-p.lastSnapshotTimestampMs < p.cfg.MinSnapshotIntervalMs {
		return Snapshot{}, false
	}
	p.lastSnapshotTimestampMs = tick.TimestampMs
	p.hasEmittedSnapshot = true
	return p.buildSnapshotLocked(), true
}

func (p *Processor) resetIntradayLocked(dayID int64) {
	p.currentDayID = dayID
	p.activeMarkers = nil
	p.instrument.Mu.Lock()
	p.instrument.TodaysHigh = 0
	p.instrument.TodaysLow = 0
	p.instrument.Mu.Unlock()
}

func (p *Processor) recentSamplesLocked() []markers.PriceSample {
	recent := p.priceHistory.Recent(p.cfg.Markers.LargeMoveLookback + 1)
	// The current tick was already pushed; drop it so the engine sees only
	// earlier ticks and compares against the one LargeMoveLookback back.
	if len(recent) > 0 {
		recent = recent[:len(recent)-1]
	}
	out := make([]markers.PriceSample, len(recent))
	for i, s := range recent {
		out[i] = markers.PriceSample{Price: s.Price, TimestampMs: s.TimestampMs}
	}
	return out
}

func (p *Processor) buildSnapshotLocked() Snapshot {
	return Snapshot{
		LastPrice:           p.lastPrice,
		VisualRange:         p.visualRange,
		VolatilityIntensity: p.volatilityIntensity,
		DirectionalBias:     p.directionalBias,
		MarketProfileView:   p.profile.View(p.cfg.TopKProfileLevels),
		DeltaView:           p.profile.DeltaView(),
		MarkersView:         append([]Marker(nil), p.activeMarkers...),
		Ready:               p.ready,
		TimestampMs:         p.lastTickTimestampMs,
		VolatilityReference: p.talibVolatilityReference(),
	}
}

// talibVolatilityReference computes a secondary volatility estimate,
// talib's StdDev over the last TalibEMAPeriod prices of the recent
// price history (SPEC_FULL.md §3 domain stack). It never influences
// VolatilityIntensity.
func (p *Processor) talibVolatilityReference() float64 {
	recent := p.priceHistory.Recent(p.cfg.TalibEMAPeriod * 2)
	if len(recent) < p.cfg.TalibEMAPeriod {
		return 0
	}
	closes := make([]float64, len(recent))
	for i, s := range recent {
		closes[i] = s.Price
	}
	std := talib.StdDev(closes, p.cfg.TalibEMAPeriod, 1)
	if len(std) == 0 {
		return 0
	}
	v := std[len(std)-1]
	if math.IsNaN(v) {
		return 0
	}
	return v
}

// SweepExpiredMarkers prunes markers that have outlived their TTL
// without waiting for the next tick to carry the pruning step, for the
// housekeeping sweep job to call between ticks on idle symbols. Returns
// the number of markers removed.
func (p *Processor) SweepExpiredMarkers(nowMs int64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	before := len(p.activeMarkers)
	p.activeMarkers = markers.Append(p.activeMarkers, nil, nowMs)
	return before - len(p.activeMarkers)
}

// Snapshot builds an immutable snapshot from current state without
// advancing anything, safe to call at any time (spec.md §4.F).
func (p *Processor) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.buildSnapshotLocked()
}

// Shutdown releases the processor's buffers. Idempotent.
func (p *Processor) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceHistory.Clear()
	p.activeMarkers = nil
	p.initialized = false
}
