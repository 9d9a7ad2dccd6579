package feed

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 30 * time.Second

	baseReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay  = 30 * time.Second
	reconnectThreshold = 5

	heartbeatInterval = 10 * time.Second
)

// Handler receives dispatched frames from the client's read loop. All
// methods may be called concurrently from a single goroutine (the read
// loop) but must not block — a slow handler stalls frame dispatch for
// every symbol on the connection.
type Handler interface {
	OnSnapshot(SnapshotPayload)
	OnTick(TickPayload)
	OnHeartbeat(HeartbeatPayload)
	OnError(ErrorPayload)
	// OnConnectionLost fires when reconnection has failed past
	// reconnectThreshold attempts; the client keeps retrying regardless.
	OnConnectionLost(err error)
	// OnReconnected fires after a successful reconnect, so the caller
	// can replay active subscriptions.
	OnReconnected()
}

// Client owns exactly one upstream websocket connection, dispatching
// decoded frames to a Handler and reconnecting with full-jitter
// exponential backoff on unexpected disconnects (spec.md §4.H).
type Client struct {
	url   string
	token string
	codec Codec

	handler Handler
	log     zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connCtx    context.Context
	cancelFunc context.CancelFunc
	connected  bool
	stopped    bool
	stopChan   chan struct{}

	lastHeartbeatMs int64
}

// New creates a Client. handler receives dispatched frames; codec
// selects the wire encoding (JSONCodec by default).
func New(url, token string, codec Codec, handler Handler, log zerolog.Logger) *Client {
	if codec == nil {
		codec = JSONCodec
	}
	return &Client{
		url:      url,
		token:    token,
		codec:    codec,
		handler:  handler,
		log:      log.With().Str("component", "feed_client").Logger(),
		stopChan: make(chan struct{}),
	}
}

// Start dials the upstream connection and begins the read loop. If the
// initial dial fails, a reconnect loop is started in the background
// and Start returns the dial error to the caller for visibility.
func (c *Client) Start() error {
	c.log.Info().Str("url", c.url).Msg("starting feed client")

	if err := c.connect(); err != nil {
		c.log.Warn().Err(err).Msg("initial connection failed, retrying in background")
		go c.reconnectLoop()
		return err
	}

	c.mu.RLock()
	ctx := c.connCtx
	c.mu.RUnlock()
	go c.readLoop(ctx)
	go c.heartbeatWatchdog(ctx)

	return nil
}

// Stop closes the connection and stops all background loops. Idempotent.
func (c *Client) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	c.mu.Unlock()

	close(c.stopChan)
	return c.disconnect()
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("feed: dial: %w", err)
	}

	connCtx, connCancel := context.WithCancel(context.Background())
	c.conn = conn
	c.connCtx = connCtx
	c.cancelFunc = connCancel
	c.connected = true

	if err := c.authLocked(connCtx); err != nil {
		connCancel()
		conn.Close(websocket.StatusNormalClosure, "auth failed")
		c.conn, c.connCtx, c.cancelFunc, c.connected = nil, nil, nil, false
		return err
	}

	return nil
}

func (c *Client) authLocked(ctx context.Context) error {
	data, err := encodeEnvelope(c.codec, FrameAuth, AuthPayload{Token: c.token})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageBinary, data)
}

func (c *Client) disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	if c.cancelFunc != nil {
		c.cancelFunc()
		c.cancelFunc = nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	c.connCtx = nil
	c.connected = false
	return err
}

// Send wraps payload in a frameType envelope and writes it as a
// client→server message (SUBSCRIBE, UNSUBSCRIBE, HEARTBEAT) to the
// current connection.
func (c *Client) Send(frameType FrameType, payload interface{}) error {
	c.mu.RLock()
	conn, ctx := c.conn, c.connCtx
	c.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("feed: send %s: not connected", frameType)
	}

	data, err := encodeEnvelope(c.codec, frameType, payload)
	if err != nil {
		return err
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageBinary, data)
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if !stopped {
			go c.reconnectLoop()
		}
	}()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway && ctx.Err() == nil {
				c.log.Error().Err(err).Msg("unexpected read error")
			}
			return
		}

		if err := c.dispatch(message); err != nil {
			c.log.Error().Err(err).Msg("failed to dispatch frame")
		}
	}
}

func (c *Client) dispatch(message []byte) error {
	var env Envelope
	if err := c.codec.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("feed: decode envelope: %w", err)
	}

	switch env.Type {
	case FrameSnapshot:
		var p SnapshotPayload
		if err := decodePayload(c.codec, env.Payload, &p); err != nil {
			return err
		}
		c.handler.OnSnapshot(p)
	case FrameTick:
		var p TickPayload
		if err := decodePayload(c.codec, env.Payload, &p); err != nil {
			return err
		}
		c.handler.OnTick(p)
	case FrameHeartbeat:
		var p HeartbeatPayload
		if err := decodePayload(c.codec, env.Payload, &p); err != nil {
			return err
		}
		c.mu.Lock()
		c.lastHeartbeatMs = p.TimestampMs
		c.mu.Unlock()
		c.handler.OnHeartbeat(p)
	case FrameError:
		var p ErrorPayload
		if err := decodePayload(c.codec, env.Payload, &p); err != nil {
			return err
		}
		c.handler.OnError(p)
	default:
		return fmt.Errorf("feed: unknown frame type %q", env.Type)
	}
	return nil
}

// heartbeatWatchdog force-disconnects when the upstream has gone
// silent for 3x the heartbeat interval (spec.md §4.H).
func (c *Client) heartbeatWatchdog(ctx context.Context) {
	c.mu.Lock()
	c.lastHeartbeatMs = nowMs()
	c.mu.Unlock()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			last := c.lastHeartbeatMs
			c.mu.RUnlock()
			if nowMs()-last > int64(3*heartbeatInterval/time.Millisecond) {
				c.log.Warn().Msg("heartbeat watchdog tripped, forcing reconnect")
				_ = c.disconnect()
				return
			}
		}
	}
}

func (c *Client) reconnectLoop() {
	attempt := 0
	for {
		select {
		case <-c.stopChan:
			return
		default:
		}

		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if stopped {
			return
		}

		attempt++
		delay := fullJitterBackoff(attempt)

		if attempt == reconnectThreshold+1 {
			c.handler.OnConnectionLost(fmt.Errorf("feed: %d reconnect attempts failed", reconnectThreshold))
		}

		select {
		case <-time.After(delay):
		case <-c.stopChan:
			return
		}

		if err := c.connect(); err != nil {
			c.log.Error().Err(err).Int("attempt", attempt).Msg("reconnect failed")
			continue
		}

		c.log.Info().Int("attempt", attempt).Msg("reconnected")
		c.handler.OnReconnected()

		c.mu.RLock()
		ctx := c.connCtx
		c.mu.RUnlock()
		go c.readLoop(ctx)
		go c.heartbeatWatchdog(ctx)
		return
	}
}

// fullJitterBackoff implements exponential backoff with full jitter:
// delay ~ Uniform(0, min(cap, base*2^(attempt-1))) (spec.md §4.H).
func fullJitterBackoff(attempt int) time.Duration {
	capped := float64(baseReconnectDelay) * math.Pow(2, float64(attempt-1))
	if capped > float64(maxReconnectDelay) {
		capped = float64(maxReconnectDelay)
	}
	return time.Duration(randFloat() * capped)
}

func randFloat() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0.5
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
