package router

import (
	"encoding/json"
	"time"

	"github.com/rickgao/marketrelay/internal/model"
	"github.com/rickgao/marketrelay/internal/orderbook"
)

// RouterConfig holds configuration for the Message Router.
type RouterConfig struct {
	QueueSize int // Initial event queue capacity. Default: 1024
}

// DefaultRouterConfig returns default configuration.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		QueueSize: 1024,
	}
}

// Upstream frame types.
const (
	FrameTicker        = "ticker"
	FrameSnapshot      = "snapshot"
	FrameL2Update      = "l2update"
	FrameSubscriptions = "subscriptions"
	FrameHeartbeat     = "heartbeat"
	FrameError         = "error"
)

// Event is a decoded upstream frame. The set of implementations is closed:
// TickerEvent, SnapshotEvent, UpdateEvent, ControlEvent and UnknownEvent.
type Event interface {
	// FrameType returns the upstream "type" tag.
	FrameType() string
	isEvent()
}

// TickerEvent carries a full ticker payload. Raw is the frame as received
// so no field is lost when it is replayed to clients.
type TickerEvent struct {
	Product    model.Instrument
	Raw        json.RawMessage
	ReceivedAt time.Time
}

// SnapshotEvent carries a full level2 snapshot.
type SnapshotEvent struct {
	Product    model.Instrument
	Bids       []model.PriceLevel
	Asks       []model.PriceLevel
	Time       time.Time // Exchange time, or receive time when the frame has none
	ReceivedAt time.Time
}

// UpdateEvent carries a batch of level2 changes.
type UpdateEvent struct {
	Product    model.Instrument
	Changes    []orderbook.Change
	Time       time.Time // Exchange time, or receive time when the frame has none
	ReceivedAt time.Time
}

// ControlEvent is a subscriptions, heartbeat or error frame.
type ControlEvent struct {
	Type    string
	Message string // Populated for error frames
	Reason  string // Populated for error frames
	Raw     json.RawMessage
}

// UnknownEvent is a frame with an unrecognized type tag.
type UnknownEvent struct {
	Type string
}

func (TickerEvent) FrameType() string    { return FrameTicker }
func (SnapshotEvent) FrameType() string  { return FrameSnapshot }
func (UpdateEvent) FrameType() string    { return FrameL2Update }
func (e ControlEvent) FrameType() string { return e.Type }
func (e UnknownEvent) FrameType() string { return e.Type }

func (TickerEvent) isEvent()   {}
func (SnapshotEvent) isEvent() {}
func (UpdateEvent) isEvent()   {}
func (ControlEvent) isEvent()  {}
func (UnknownEvent) isEvent()  {}

// Wire types for JSON parsing

// messageEnvelope is used for fast type extraction.
type messageEnvelope struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
}

// snapshotWire is the wire format for snapshot messages.
type snapshotWire struct {
	ProductID string             `json:"product_id"`
	Bids      []model.PriceLevel `json:"bids"` // [["100.00","1.5"], ...]
	Asks      []model.PriceLevel `json:"asks"`
	Time      string             `json:"time"`
}

// l2updateWire is the wire format for l2update messages.
type l2updateWire struct {
	ProductID string     `json:"product_id"`
	Changes   [][]string `json:"changes"` // [["buy","100.00","0.5"], ...]
	Time      string     `json:"time"`
}

// errorWire is the wire format for error messages.
type errorWire struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}
