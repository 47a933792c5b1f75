package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rickgao/marketrelay/internal/model"
	"github.com/rickgao/marketrelay/internal/orderbook"
)

// Decode errors
var (
	ErrMissingType    = errors.New("frame has no type")
	ErrMissingProduct = errors.New("frame has no product_id")
)

// Decode parses one upstream frame into an Event. receivedAt stands in for
// the exchange time on book frames that carry none.
func Decode(data []byte, receivedAt time.Time) (Event, error) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case FrameTicker:
		if env.ProductID == "" {
			return nil, fmt.Errorf("ticker: %w", ErrMissingProduct)
		}
		return TickerEvent{
			Product:    model.Instrument(env.ProductID),
			Raw:        data,
			ReceivedAt: receivedAt,
		}, nil

	case FrameSnapshot:
		return decodeSnapshot(data, receivedAt)

	case FrameL2Update:
		return decodeUpdate(data, receivedAt)

	case FrameSubscriptions, FrameHeartbeat:
		return ControlEvent{Type: env.Type, Raw: data}, nil

	case FrameError:
		var wire errorWire
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("error frame: %w", err)
		}
		return ControlEvent{
			Type:    env.Type,
			Message: wire.Message,
			Reason:  wire.Reason,
			Raw:     data,
		}, nil

	default:
		return UnknownEvent{Type: env.Type}, nil
	}
}

// decodeSnapshot parses a snapshot message.
func decodeSnapshot(data []byte, receivedAt time.Time) (Event, error) {
	var wire snapshotWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if wire.ProductID == "" {
		return nil, fmt.Errorf("snapshot: %w", ErrMissingProduct)
	}

	at, err := parseTime(wire.Time, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	return SnapshotEvent{
		Product:    model.Instrument(wire.ProductID),
		Bids:       wire.Bids,
		Asks:       wire.Asks,
		Time:       at,
		ReceivedAt: receivedAt,
	}, nil
}

// decodeUpdate parses an l2update message.
func decodeUpdate(data []byte, receivedAt time.Time) (Event, error) {
	var wire l2updateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("l2update: %w", err)
	}
	if wire.ProductID == "" {
		return nil, fmt.Errorf("l2update: %w", ErrMissingProduct)
	}

	at, err := parseTime(wire.Time, receivedAt)
	if err != nil {
		return nil, fmt.Errorf("l2update: %w", err)
	}

	changes := make([]orderbook.Change, 0, len(wire.Changes))
	for i, c := range wire.Changes {
		if len(c) < 3 {
			return nil, fmt.Errorf("l2update: change %d has %d fields, want 3", i, len(c))
		}
		price, err := decimal.NewFromString(c[1])
		if err != nil {
			return nil, fmt.Errorf("l2update: change %d price: %w", i, err)
		}
		size, err := decimal.NewFromString(c[2])
		if err != nil {
			return nil, fmt.Errorf("l2update: change %d size: %w", i, err)
		}
		changes = append(changes, orderbook.Change{
			Side:  model.Side(c[0]),
			Price: price,
			Size:  size,
		})
	}

	return UpdateEvent{
		Product:    model.Instrument(wire.ProductID),
		Changes:    changes,
		Time:       at,
		ReceivedAt: receivedAt,
	}, nil
}

// parseTime parses an RFC 3339 exchange timestamp, falling back to fallback
// when the field is absent.
func parseTime(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q: %w", s, err)
	}
	return t, nil
}
