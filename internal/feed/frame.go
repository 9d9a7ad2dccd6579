// Package feed implements the subscription manager and upstream wire
// protocol of spec.md §4.H: one persistent connection multiplexed
// across many display subscriptions, with reconnect, refcounting and
// per-symbol tick dispatch.
//
// Transport and reconnect shape are grounded on
// internal/clients/tradernet/websocket_client.go's MarketStatusWebSocket
// (connect/disconnect/read-loop/reconnect-loop structure, mutex
// discipline around connection state); the Tradernet-specific
// ["markets", data] envelope is replaced with the frame protocol below.
package feed

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// FrameType is the closed set of wire frame kinds (spec.md §6).
type FrameType string

const (
	FrameAuth        FrameType = "AUTH"
	FrameSubscribe   FrameType = "SUBSCRIBE"
	FrameUnsubscribe FrameType = "UNSUBSCRIBE"
	FrameSnapshot    FrameType = "SNAPSHOT"
	FrameTick        FrameType = "TICK"
	FrameHeartbeat   FrameType = "HEARTBEAT"
	FrameError       FrameType = "ERROR"
)

// MaxFrameBytes is the upstream max frame size; candle batches larger
// than this are expected to arrive split across multiple SNAPSHOT
// frames (spec.md §6).
const MaxFrameBytes = 64 * 1024

// Envelope is the outer wire shape: a type tag plus a type-specific
// payload, encoded either as JSON or msgpack depending on the codec
// the Client was constructed with.
type Envelope struct {
	Type    FrameType       `json:"type" msgpack:"type"`
	Payload json.RawMessage `json:"payload" msgpack:"payload"`
}

// AuthPayload is the client→server AUTH frame body.
type AuthPayload struct {
	Token string `json:"token" msgpack:"token"`
}

// SubscribePayload is the client→server SUBSCRIBE/UNSUBSCRIBE frame body.
type SubscribePayload struct {
	Symbol string `json:"symbol" msgpack:"symbol"`
}

// Candle is one upstream M1 history bar (spec.md §6 SNAPSHOT.m1_candles).
type Candle struct {
	T int64   `json:"t" msgpack:"t"`
	O float64 `json:"o" msgpack:"o"`
	H float64 `json:"h" msgpack:"h"`
	L float64 `json:"l" msgpack:"l"`
	C float64 `json:"c" msgpack:"c"`
	V float64 `json:"v" msgpack:"v"`
}

// SnapshotPayload is the server→client SNAPSHOT frame body: the
// instrument descriptor plus enough M1 history to seed the market
// profile.
type SnapshotPayload struct {
	Symbol           string   `json:"symbol" msgpack:"symbol"`
	Digits           int      `json:"digits" msgpack:"digits"`
	TodaysOpen       float64  `json:"todays_open" msgpack:"todays_open"`
	ProjectedADRHigh float64  `json:"projected_adr_high" msgpack:"projected_adr_high"`
	ProjectedADRLow  float64  `json:"projected_adr_low" msgpack:"projected_adr_low"`
	TodaysHigh       float64  `json:"todays_high" msgpack:"todays_high"`
	TodaysLow        float64  `json:"todays_low" msgpack:"todays_low"`
	DayID            int64    `json:"day_id" msgpack:"day_id"`
	M1Candles        []Candle `json:"m1_candles" msgpack:"m1_candles"`
}

// TickPayload is the server→client TICK frame body.
type TickPayload struct {
	Symbol      string  `json:"symbol" msgpack:"symbol"`
	Bid         float64 `json:"bid" msgpack:"bid"`
	Ask         float64 `json:"ask" msgpack:"ask"`
	BidSize     float64 `json:"bid_size" msgpack:"bid_size"`
	AskSize     float64 `json:"ask_size" msgpack:"ask_size"`
	TimestampMs int64   `json:"timestamp_ms" msgpack:"timestamp_ms"`
	DayID       int64   `json:"day_id" msgpack:"day_id"`
}

// HeartbeatPayload is the bidirectional HEARTBEAT frame body.
type HeartbeatPayload struct {
	TimestampMs int64 `json:"timestamp_ms" msgpack:"timestamp_ms"`
}

// ErrorPayload is the server→client ERROR frame body. Symbol is empty
// for connection-level errors.
type ErrorPayload struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Symbol  string `json:"symbol,omitempty" msgpack:"symbol,omitempty"`
}

// Codec encodes/decodes envelope payloads. JSON is the default wire
// format; msgpack is offered as a denser alternative, chosen by the
// caller when constructing the Client (SPEC_FULL.md §3 domain stack).
type Codec interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

type msgpackCodec struct{}

func (msgpackCodec) Marshal(v interface{}) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }

// JSONCodec and MsgpackCodec are the two supported wire encodings.
var (
	JSONCodec    Codec = jsonCodec{}
	MsgpackCodec Codec = msgpackCodec{}
)

func decodePayload(codec Codec, raw json.RawMessage, v interface{}) error {
	return codec.Unmarshal(raw, v)
}

func encodeEnvelope(codec Codec, frameType FrameType, payload interface{}) ([]byte, error) {
	body, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("feed: marshal %s payload: %w", frameType, err)
	}
	return codec.Marshal(Envelope{Type: frameType, Payload: body})
}
