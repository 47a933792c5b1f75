package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Instrument is a traded product id drawn from the configured allow-list.
type Instrument string

// String returns the product id.
func (i Instrument) String() string { return string(i) }

// Side is an order-book change side as named by the upstream feed.
type Side string

const (
	SideBuy  Side = "buy"  // bid side
	SideSell Side = "sell" // ask side
)

// PriceLevel is a single price point with its absolute size.
// It is encoded as a two element JSON array: [price, size].
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// MarshalJSON renders the level as [price,size] with numeric elements.
func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return []byte("[" + l.Price.String() + "," + l.Size.String() + "]"), nil
}

// UnmarshalJSON accepts [price,size] where each element is either a JSON
// number or a decimal string (the upstream feed sends strings).
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 2 {
		return errors.New("price level needs price and size")
	}
	price, err := parseDecimal(raw[0])
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	size, err := parseDecimal(raw[1])
	if err != nil {
		return fmt.Errorf("size: %w", err)
	}
	l.Price, l.Size = price, size
	return nil
}

func parseDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	return decimal.NewFromString(strings.Trim(string(raw), `"`))
}

// BookView is the bounded order-book view sent to clients.
type BookView struct {
	ProductID Instrument   `json:"product_id"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
}

// Client protocol message types (outbound).
const (
	TypeTickerUpdate = "tickerUpdate"
	TypeLevel2Update = "level2Update"
	TypeError        = "error"
	TypeStatus       = "status"
)

// Client protocol message types (inbound).
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// OutboundMessage is a frame sent to a client connection.
type OutboundMessage struct {
	Type    string     `json:"type"`
	Product Instrument `json:"product,omitempty"`
	Message string     `json:"message,omitempty"`
	Data    any        `json:"data,omitempty"`
}

// StatusData is the payload of a status frame.
type StatusData struct {
	Upstream string `json:"upstream"`
}

// TickerUpdate wraps a cached upstream ticker payload for a client.
func TickerUpdate(payload json.RawMessage) OutboundMessage {
	return OutboundMessage{Type: TypeTickerUpdate, Data: payload}
}

// Level2Update wraps a book view for a client.
func Level2Update(view BookView) OutboundMessage {
	return OutboundMessage{Type: TypeLevel2Update, Data: view}
}

// InstrumentState is the latest cached state of one instrument, used to
// checkpoint and warm-start the relay.
type InstrumentState struct {
	Product       Instrument
	Ticker        json.RawMessage // nil when no ticker has been seen
	Book          *BookView       // nil when no snapshot has been seen
	BookUpdatedAt time.Time
}
