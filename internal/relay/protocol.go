package relay

import (
	"encoding/json"
	"fmt"

	"github.com/rickgao/marketrelay/internal/model"
)

// Request is a decoded client frame: SubscribeRequest, UnsubscribeRequest
// or UnknownRequest.
type Request interface {
	isRequest()
}

// SubscribeRequest asks for updates on a product.
type SubscribeRequest struct {
	Product string
}

// UnsubscribeRequest stops updates on a product.
type UnsubscribeRequest struct {
	Product string
}

// UnknownRequest is a frame with an unrecognized type.
type UnknownRequest struct {
	Type string
}

func (SubscribeRequest) isRequest()   {}
func (UnsubscribeRequest) isRequest() {}
func (UnknownRequest) isRequest()     {}

// requestWire is the client frame on the wire.
type requestWire struct {
	Type    string `json:"type"`
	Product string `json:"product"`
}

// DecodeRequest parses a client frame.
func DecodeRequest(data []byte) (Request, error) {
	var wire requestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}

	switch wire.Type {
	case model.TypeSubscribe:
		return SubscribeRequest{Product: wire.Product}, nil
	case model.TypeUnsubscribe:
		return UnsubscribeRequest{Product: wire.Product}, nil
	default:
		return UnknownRequest{Type: wire.Type}, nil
	}
}
