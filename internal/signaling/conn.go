package signaling

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// wsWriteWait bounds every transport write. A peer that cannot absorb a
	// frame within this window is treated as dead.
	wsWriteWait = 1 * time.Second

	// wsPingInterval / wsPongWait implement the transport heartbeat.
	wsPingInterval = 20 * time.Second
	wsPongWait     = 50 * time.Second

	// sendQueueLen buffers outbound messages per connection so a broadcast
	// never blocks on a slow peer. Signaling traffic is small and bursty; 32
	// slots absorb a full mesh renegotiation.
	sendQueueLen = 32
)

var errSendQueueFull = errors.New("send queue full")
var errConnClosed = errors.New("connection closed")

// wsConn adapts a gorilla websocket connection to the room.Conn interface.
//
// All writes go through a single pump goroutine (gorilla permits only one
// concurrent writer); SendJSON enqueues and never blocks, so the room lock is
// never held across network I/O.
type wsConn struct {
	conn *websocket.Conn

	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{
		conn: conn,
		send: make(chan []byte, sendQueueLen),
		done: make(chan struct{}),
	}
}

// SendJSON enqueues a message for the write pump. It fails fast when the
// queue is full or the connection is closing, which the room layer interprets
// as a dead peer.
func (c *wsConn) SendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return errConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errSendQueueFull
	}
}

// Close shuts the connection down once; concurrent calls are safe.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
	return nil
}

// writePump drains the send queue and keeps the heartbeat alive. It exits
// when Close is called, closing the underlying socket which in turn unblocks
// the read loop.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

// writeJSONNow writes synchronously with a deadline, bypassing the pump. Used
// on soft-rejection paths before the pump starts.
func writeJSONNow(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// writeClose sends a close frame with the given code and reason.
func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
