package server

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrSendQueueFull = errors.New("send queue full")
	ErrConnClosed    = errors.New("connection closed")
)

// wsConn is one client websocket. It implements relay.Conn.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	done chan struct{}

	closeOnce sync.Once
}

func newWSConn(id string, ws *websocket.Conn, queueSize int) *wsConn {
	if queueSize < 1 {
		queueSize = 1
	}
	return &wsConn{
		id:   id,
		ws:   ws,
		send: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
}

// ID returns the connection id.
func (c *wsConn) ID() string { return c.id }

// Send queues payload without blocking. A full queue closes the
// connection; the read pump then releases its subscriptions.
func (c *wsConn) Send(payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.close()
		return ErrSendQueueFull
	}
}

// close marks the connection closed and unblocks both pumps.
func (c *wsConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.ws != nil {
			c.ws.Close()
		}
	})
}

// writePump drains the send queue and pings the client until the
// connection closes.
func (c *wsConn) writePump(writeTimeout, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
