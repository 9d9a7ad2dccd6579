// Package display implements the per-display owner of spec.md §4.I:
// the component that binds one display id to a subscription handle, a
// processor, an editable config, and an outbound snapshot channel, and
// guarantees resource release on every exit path.
package display

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/visualrange-engine/internal/errs"
	"github.com/aristath/visualrange-engine/internal/feed"
	"github.com/aristath/visualrange-engine/internal/housekeeping"
	"github.com/aristath/visualrange-engine/internal/marketprofile"
	"github.com/aristath/visualrange-engine/internal/processor"
	"github.com/aristath/visualrange-engine/internal/quote"
	"github.com/aristath/visualrange-engine/internal/render"
)

// ProfileMode selects whether delta histograms are exposed in
// snapshots (spec.md §6 configuration surface).
type ProfileMode string

const (
	ProfileTraditional ProfileMode = "traditional"
	ProfileDelta       ProfileMode = "delta"
)

// ColorMode is a rendering hint with no processor effect.
type ColorMode string

const (
	ColorIntensity   ColorMode = "intensity"
	ColorDirectional ColorMode = "directional"
	ColorStatic      ColorMode = "static"
)

// Config is the per-display editable configuration surface (spec.md §6).
type Config struct {
	ContainerSize            render.Size
	HeaderHeight             float64
	ADRAxisPosition          float64
	ADRAxisBounds            render.Bounds
	MarketProfileMode        ProfileMode
	BucketSizeOverride       float64
	ColorMode                ColorMode
	MinSnapshotIntervalMs    int64
}

// DefaultConfig mirrors spec.md §6's named defaults.
func DefaultConfig() Config {
	return Config{
		ContainerSize:         render.Size{W: 220, H: 160},
		HeaderHeight:          40,
		ADRAxisPosition:       0.65,
		ADRAxisBounds:         render.Bounds{Min: 0.05, Max: 0.95},
		MarketProfileMode:     ProfileTraditional,
		ColorMode:             ColorIntensity,
		MinSnapshotIntervalMs: 16,
	}
}

// OutboundSnapshot is what the renderer actually receives: a processor
// snapshot paired with the derived rendering context and an optional
// error banner (spec.md §7 "the snapshot carries an optional error
// field").
type OutboundSnapshot struct {
	Processor processor.Snapshot
	Render    render.Context
	Err       *errs.Error
}

// SymbolInfo carries a symbol's digit count, asset class and bucket
// size, provided by the caller (normally sourced from an instrument
// reference table external to this package).
type SymbolInfo struct {
	DigitCount int
	Class      quote.AssetClass
	BucketSize float64
}

// Owner binds one display id to its subscription, processor, config
// and outbound channel (spec.md §4.I).
type Owner struct {
	id       string
	manager  *feed.Manager
	sweepers *housekeeping.Registry
	log      zerolog.Logger

	mu        sync.RWMutex
	cfg       Config
	symbol    string
	handle    feed.Handle
	proc      *processor.Processor
	instrument *processor.Instrument

	out chan OutboundSnapshot

	ticks     <-chan feed.TickPayload
	snapshots <-chan feed.SnapshotPayload
	frameErrs <-chan feed.ErrorPayload

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Owner for displayID, bound to manager, with cfg as
// its initial configuration. It does not subscribe until Subscribe is
// called.
func New(displayID string, manager *feed.Manager, cfg Config, log zerolog.Logger) *Owner {
	return &Owner{
		id:      displayID,
		manager: manager,
		cfg:     cfg,
		log:     log.With().Str("component", "display_owner").Str("display_id", displayID).Logger(),
		out:     make(chan OutboundSnapshot, 4),
	}
}

// Outbound returns the channel the renderer reads snapshots from.
func (o *Owner) Outbound() <-chan OutboundSnapshot { return o.out }

// SetSweepRegistry registers this owner's processor with registry so
// the housekeeping marker-sweep job can reach it between ticks.
// Optional: a nil or never-called registry just means no proactive
// sweep happens for this display, relying on the lazy per-tick prune.
func (o *Owner) SetSweepRegistry(registry *housekeeping.Registry) {
	o.mu.Lock()
	o.sweepers = registry
	proc := o.proc
	o.mu.Unlock()
	if registry != nil && proc != nil {
		registry.Register(o.id, proc)
	}
}

// Subscribe binds the display to symbol: subscribes upstream, creates
// a fresh processor, waits for ready, then forwards snapshots until
// Destroy is called (spec.md §4.I "On create").
func (o *Owner) Subscribe(symbol string, info SymbolInfo, pcfg processor.Config) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.mu.Unlock()
		return fmt.Errorf("display: %s already subscribed to %s", o.id, o.symbol)
	}

	handle, ticks, snapshots, frameErrs, err := o.manager.Subscribe(symbol)
	if err != nil {
		o.mu.Unlock()
		return err
	}

	instrument := &processor.Instrument{
		Symbol:     symbol,
		DigitCount: info.DigitCount,
		Class:      info.Class,
		PipSize:    quote.PipSize(info.Class, info.DigitCount),
	}
	bucketSize := info.BucketSize
	if o.cfg.BucketSizeOverride > 0 {
		bucketSize = o.cfg.BucketSizeOverride
	}
	proc := processor.New(instrument, bucketSize, pcfg)

	ctx, cancel := context.WithCancel(context.Background())
	o.symbol = symbol
	o.handle = handle
	o.proc = proc
	o.instrument = instrument
	o.ticks = ticks
	o.snapshots = snapshots
	o.frameErrs = frameErrs
	o.cancel = cancel
	o.done = make(chan struct{})
	sweepers := o.sweepers
	o.mu.Unlock()

	if sweepers != nil {
		sweepers.Register(o.id, proc)
	}

	go o.run(ctx)
	return nil
}

// run is the display's private event loop: it applies SNAPSHOT frames
// to initialize the processor, feeds TICK frames in, and forwards
// rate-limited snapshots to Outbound(). Exits when ctx is cancelled.
func (o *Owner) run(ctx context.Context) {
	defer close(o.done)

	readyTimeout := time.NewTimer(feed.InitialSnapshotTimeout)
	defer readyTimeout.Stop()
	var initialized bool

	for {
		select {
		case <-ctx.Done():
			return

		case snap, ok := <-o.snapshots:
			if !ok {
				return
			}
			o.applySnapshotFrame(snap)
			initialized = true
			if !readyTimeout.Stop() {
				select {
				case <-readyTimeout.C:
				default:
				}
			}

		case <-readyTimeout.C:
			if !initialized {
				o.emitError(errs.New(errs.InitialSnapshotTimeout, o.symbol, "no snapshot frame within timeout"))
			}

		case tick, ok := <-o.ticks:
			if !ok {
				return
			}
			if !initialized {
				continue
			}
			o.handleTick(tick)

		case fe, ok := <-o.frameErrs:
			if !ok {
				return
			}
			kind := errs.SymbolUnknown
			for k := errs.TransientIO; k <= errs.InternalInvariant; k++ {
				if k.String() == fe.Code {
					kind = k
					break
				}
			}
			o.emitError(errs.New(kind, fe.Symbol, fe.Message))
		}
	}
}

func (o *Owner) applySnapshotFrame(snap feed.SnapshotPayload) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.instrument == nil {
		return
	}
	o.instrument.Mu.Lock()
	o.instrument.Open = snap.TodaysOpen
	o.instrument.ProjectedADRHigh = snap.ProjectedADRHigh
	o.instrument.ProjectedADRLow = snap.ProjectedADRLow
	o.instrument.TodaysHigh = snap.TodaysHigh
	o.instrument.TodaysLow = snap.TodaysLow
	o.instrument.Mu.Unlock()

	candles := make([]marketprofile.Candle, len(snap.M1Candles))
	for i, c := range snap.M1Candles {
		candles[i] = marketprofile.Candle{TimestampMs: c.T, Open: c.O, High: c.H, Low: c.L, Close: c.C, Volume: c.V}
	}
	o.proc.Initialize(snap.TodaysOpen, snap.DayID, candles)
}

func (o *Owner) handleTick(tp feed.TickPayload) {
	if tp.Bid <= 0 || tp.Ask <= 0 || !isFinite(tp.Bid) || !isFinite(tp.Ask) {
		o.log.Warn().Str("symbol", tp.Symbol).Msg("dropping invalid tick")
		return
	}

	o.mu.RLock()
	proc := o.proc
	cfg := o.cfg
	o.mu.RUnlock()

	snap, emitted := proc.OnTick(processor.Tick{
		Bid: tp.Bid, Ask: tp.Ask,
		BidSize: tp.BidSize, AskSize: tp.AskSize,
		TimestampMs: tp.TimestampMs, DayID: tp.DayID,
	})
	if !emitted {
		return
	}

	rcfg := render.Config{HeaderHeight: cfg.HeaderHeight, ADRAxisPosition: cfg.ADRAxisPosition, ADRAxisBounds: cfg.ADRAxisBounds}
	rctx := render.Derive(cfg.ContainerSize, rcfg, render.Domain{Low: snap.VisualRange.Low, High: snap.VisualRange.High})

	o.send(OutboundSnapshot{Processor: snap, Render: rctx})
}

func (o *Owner) emitError(e *errs.Error) {
	o.mu.RLock()
	cfg := o.cfg
	var last processor.Snapshot
	if o.proc != nil {
		last = o.proc.Snapshot()
	}
	o.mu.RUnlock()

	rcfg := render.Config{HeaderHeight: cfg.HeaderHeight, ADRAxisPosition: cfg.ADRAxisPosition, ADRAxisBounds: cfg.ADRAxisBounds}
	rctx := render.Derive(cfg.ContainerSize, rcfg, render.Domain{Low: last.VisualRange.Low, High: last.VisualRange.High})
	o.send(OutboundSnapshot{Processor: last, Render: rctx, Err: e})
}

func (o *Owner) send(s OutboundSnapshot) {
	select {
	case o.out <- s:
	default:
		select {
		case <-o.out:
		default:
		}
		select {
		case o.out <- s:
		default:
		}
	}
}

// UpdateConfig applies a new config. Per spec.md §4.I this never
// touches the processor — only 4.G output consumed by the renderer.
func (o *Owner) UpdateConfig(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
}

// ChangeSymbol unsubscribes the current symbol, subscribes the new
// one, and resets the processor (spec.md §4.I "On symbol change").
func (o *Owner) ChangeSymbol(symbol string, info SymbolInfo, pcfg processor.Config) error {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
		<-o.done
	}
	handle := o.handle
	o.cancel = nil
	o.mu.Unlock()

	if handle.Symbol() != "" {
		if err := o.manager.Unsubscribe(handle); err != nil {
			o.log.Warn().Err(err).Msg("unsubscribe during symbol change failed")
		}
	}

	return o.Subscribe(symbol, info, pcfg)
}

// Destroy unsubscribes, shuts down the processor, and drops the
// outbound channel. Guaranteed release on every exit path (spec.md
// §4.I "On destroy"). Idempotent.
func (o *Owner) Destroy() {
	o.mu.Lock()
	cancel := o.cancel
	o.cancel = nil
	handle := o.handle
	o.handle = feed.Handle{}
	proc := o.proc
	done := o.done
	sweepers := o.sweepers
	o.mu.Unlock()

	if sweepers != nil {
		sweepers.Unregister(o.id)
	}
	if cancel != nil {
		cancel()
		<-done
	}
	if handle.Symbol() != "" {
		if err := o.manager.Unsubscribe(handle); err != nil {
			o.log.Warn().Err(err).Msg("unsubscribe during destroy failed")
		}
	}
	if proc != nil {
		proc.Shutdown()
	}
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// DebugSnapshotView is the read-only state a diagnostics endpoint may
// expose for one display. Deliberately smaller than Processor's own
// snapshot — no market-profile or marker detail, just enough to
// confirm a display is alive and roughly where it thinks price is.
type DebugSnapshotView struct {
	DisplayID   string  `json:"display_id"`
	Symbol      string  `json:"symbol"`
	Ready       bool    `json:"ready"`
	LastPrice   float64 `json:"last_price"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// DebugSnapshot returns a DebugSnapshotView of current state. Safe to
// call concurrently with Subscribe/Destroy.
func (o *Owner) DebugSnapshot() DebugSnapshotView {
	o.mu.RLock()
	proc := o.proc
	symbol := o.symbol
	id := o.id
	o.mu.RUnlock()

	view := DebugSnapshotView{DisplayID: id, Symbol: symbol}
	if proc == nil {
		return view
	}
	snap := proc.Snapshot()
	view.Ready = snap.Ready
	view.LastPrice = snap.LastPrice
	view.TimestampMs = snap.TimestampMs
	return view
}

// Registry tracks every live Owner by display id, for the diagnostics
// server to look displays up by id without a direct reference to
// whatever constructed them.
type Registry struct {
	mu     sync.RWMutex
	owners map[string]*Owner
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{owners: make(map[string]*Owner)}
}

// Add registers owner under its display id.
func (r *Registry) Add(owner *Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[owner.id] = owner
}

// Remove unregisters displayID, if present.
func (r *Registry) Remove(displayID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.owners, displayID)
}

// Lookup returns the Owner registered under displayID, if any.
func (r *Registry) Lookup(displayID string) (*Owner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[displayID]
	return owner, ok
}

// DisplayIDs lists every currently registered display id.
func (r *Registry) DisplayIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.owners))
	for id := range r.owners {
		ids = append(ids, id)
	}
	return ids
}
