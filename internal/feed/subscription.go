package feed

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/visualrange-engine/internal/errs"
)

// TickQueueCapacity bounds each subscriber's tick ingress queue. When
// full, the oldest queued tick is dropped rather than blocking
// dispatch (spec.md §5 "backpressure is drop-oldest").
const TickQueueCapacity = 1024

// Handle identifies one display's subscription to one symbol. Opaque
// outside this package. id is a UUID rather than a counter so handles
// stay unique across Manager restarts and are safe to log without
// collision.
type Handle struct {
	symbol string
	id     string
}

func (h Handle) Symbol() string { return h.symbol }

type subscriber struct {
	handle    Handle
	ticks     chan TickPayload
	snapshots chan SnapshotPayload
	errs      chan ErrorPayload
	dropped   uint64
}

// Manager maintains exactly one upstream connection, multiplexes many
// display subscriptions over it, and fans incoming frames out to the
// subscribers of the relevant symbol (spec.md §4.H).
type Manager struct {
	client *Client
	log    zerolog.Logger

	mu          sync.Mutex
	refcount    map[string]int
	subscribers map[string][]*subscriber

	reconnectsTotal uint64
	ticksDropped    uint64
}

// NewManager creates a Manager together with the Client it drives. The
// Manager itself implements Handler and is passed to feed.New as that
// Client's handler.
func NewManager(url, token string, codec Codec, log zerolog.Logger) *Manager {
	m := &Manager{
		log:         log.With().Str("component", "subscription_manager").Logger(),
		refcount:    make(map[string]int),
		subscribers: make(map[string][]*subscriber),
	}
	m.client = New(url, token, codec, m, log)
	return m
}

// Start dials the upstream connection.
func (m *Manager) Start() error { return m.client.Start() }

// Stop tears down the upstream connection and all subscriber channels.
func (m *Manager) Stop() error {
	m.mu.Lock()
	for symbol, subs := range m.subscribers {
		for _, s := range subs {
			close(s.ticks)
			close(s.snapshots)
			close(s.errs)
		}
		delete(m.subscribers, symbol)
	}
	m.mu.Unlock()
	return m.client.Stop()
}

// Subscribe registers a new display subscription to symbol. If this is
// the first subscriber for the symbol, an upstream SUBSCRIBE frame is
// sent and an initial snapshot requested. Returns a handle plus the
// three channels the display reads from.
func (m *Manager) Subscribe(symbol string) (Handle, <-chan TickPayload, <-chan SnapshotPayload, <-chan ErrorPayload, error) {
	m.mu.Lock()
	handle := Handle{symbol: symbol, id: uuid.NewString()}
	sub := &subscriber{
		handle:    handle,
		ticks:     make(chan TickPayload, TickQueueCapacity),
		snapshots: make(chan SnapshotPayload, 4),
		errs:      make(chan ErrorPayload, 16),
	}
	m.subscribers[symbol] = append(m.subscribers[symbol], sub)
	firstSubscriber := m.refcount[symbol] == 0
	m.refcount[symbol]++
	m.mu.Unlock()

	if firstSubscriber {
		if err := m.client.Send(FrameSubscribe, SubscribePayload{Symbol: symbol}); err != nil {
			m.mu.Lock()
			m.removeSubscriberLocked(symbol, handle.id)
			m.mu.Unlock()
			close(sub.ticks)
			close(sub.snapshots)
			close(sub.errs)
			return Handle{}, nil, nil, nil, errs.Wrap(errs.TransientIO, symbol, err)
		}
	}

	return handle, sub.ticks, sub.snapshots, sub.errs, nil
}

// removeSubscriberLocked removes one subscriber entry and undoes its
// refcount increment. Caller must hold m.mu.
func (m *Manager) removeSubscriberLocked(symbol string, id string) {
	subs := m.subscribers[symbol]
	for i, s := range subs {
		if s.handle.id == id {
			m.subscribers[symbol] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	m.refcount[symbol]--
	if m.refcount[symbol] <= 0 {
		delete(m.refcount, symbol)
		delete(m.subscribers, symbol)
	}
}

// Unsubscribe decrements the symbol's refcount, releasing the handle's
// channels. If the refcount reaches zero, an upstream UNSUBSCRIBE is
// sent and the symbol's instrument state is discarded by the caller.
func (m *Manager) Unsubscribe(handle Handle) error {
	m.mu.Lock()
	subs := m.subscribers[handle.symbol]
	for i, s := range subs {
		if s.handle.id == handle.id {
			subs = append(subs[:i], subs[i+1:]...)
			close(s.ticks)
			close(s.snapshots)
			close(s.errs)
			break
		}
	}
	m.subscribers[handle.symbol] = subs

	m.refcount[handle.symbol]--
	lastSubscriber := m.refcount[handle.symbol] <= 0
	if lastSubscriber {
		delete(m.refcount, handle.symbol)
		delete(m.subscribers, handle.symbol)
	}
	m.mu.Unlock()

	if lastSubscriber {
		return m.client.Send(FrameUnsubscribe, SubscribePayload{Symbol: handle.symbol})
	}
	return nil
}

// Metrics is a point-in-time read of subscription manager counters
// (spec.md §5 "any metrics/counters ... are read via a snapshot API").
type Metrics struct {
	ReconnectsTotal uint64
	TicksDropped    uint64
	ActiveSymbols   int
}

// ActiveSymbolCount reports how many symbols currently have at least
// one live subscriber. Satisfies housekeeping.RefcountSnapshot.
func (m *Manager) ActiveSymbolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refcount)
}

func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Metrics{
		ReconnectsTotal: m.reconnectsTotal,
		TicksDropped:    m.ticksDropped,
		ActiveSymbols:   len(m.refcount),
	}
}

// Handler implementation — dispatches decoded frames to subscribers.

func (m *Manager) OnSnapshot(p SnapshotPayload) {
	m.mu.Lock()
	subs := append([]*subscriber(nil), m.subscribers[p.Symbol]...)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.snapshots <- p:
		default:
			// A stale snapshot waiting to be consumed is replaced —
			// only the latest instrument state matters.
			select {
			case <-s.snapshots:
			default:
			}
			s.snapshots <- p
		}
	}
}

func (m *Manager) OnTick(p TickPayload) {
	m.mu.Lock()
	subs := append([]*subscriber(nil), m.subscribers[p.Symbol]...)
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ticks <- p:
		default:
			select {
			case <-s.ticks:
				m.mu.Lock()
				m.ticksDropped++
				m.mu.Unlock()
			default:
			}
			select {
			case s.ticks <- p:
			default:
			}
		}
	}
}

func (m *Manager) OnHeartbeat(HeartbeatPayload) {}

func (m *Manager) OnError(p ErrorPayload) {
	m.mu.Lock()
	var subs []*subscriber
	if p.Symbol != "" {
		subs = append([]*subscriber(nil), m.subscribers[p.Symbol]...)
	} else {
		for _, list := range m.subscribers {
			subs = append(subs, list...)
		}
	}
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.errs <- p:
		default:
		}
	}
}

func (m *Manager) OnConnectionLost(err error) {
	m.log.Error().Err(err).Msg("connection lost, continuing to retry")
	m.OnError(ErrorPayload{Code: errs.TransientIO.String(), Message: fmt.Sprintf("connection_lost: %v", err)})
}

func (m *Manager) OnReconnected() {
	m.mu.Lock()
	m.reconnectsTotal++
	symbols := make([]string, 0, len(m.refcount))
	for symbol := range m.refcount {
		symbols = append(symbols, symbol)
	}
	m.mu.Unlock()

	for _, symbol := range symbols {
		if err := m.client.Send(FrameSubscribe, SubscribePayload{Symbol: symbol}); err != nil {
			m.log.Error().Err(err).Str("symbol", symbol).Msg("failed to replay subscription after reconnect")
		}
	}
}

// InitialSnapshotTimeout is the spec.md §5 wait threshold for the
// first SNAPSHOT frame after a subscribe.
const InitialSnapshotTimeout = 10 * time.Second
