package relay

import (
	"encoding/json"

	"github.com/rickgao/marketrelay/internal/model"
)

// Broadcast sends msg to every connection subscribed to inst. The payload
// is marshalled once. A failed send is logged and counted; the connection
// stays registered until its transport closes it. Callers hold the
// instrument lock so broadcasts follow apply order.
func (e *Engine) Broadcast(inst model.Instrument, msg model.OutboundMessage) {
	clients := e.subs.ClientsFor(inst)
	if len(clients) == 0 {
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("failed to marshal broadcast", "product", inst, "type", msg.Type, "error", err)
		return
	}

	for _, c := range clients {
		if err := c.Send(payload); err != nil {
			e.metrics.SendFailed()
			e.logger.Warn("broadcast send failed", "product", inst, "conn", c.ID(), "error", err)
		}
	}
	e.metrics.Broadcast(string(inst), msg.Type, len(clients))
}

// sendTo marshals msg and sends it to a single connection.
func (e *Engine) sendTo(conn Conn, msg model.OutboundMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	if err := conn.Send(payload); err != nil {
		e.metrics.SendFailed()
		e.logger.Warn("send failed", "conn", conn.ID(), "type", msg.Type, "error", err)
	}
}
