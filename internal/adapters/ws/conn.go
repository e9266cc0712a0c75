package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/colabhq/syncrelay/internal/core"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// wsPeerConn implements core.PeerConn over a gorilla connection. The
// send channel is the bounded outbound queue: TrySend never blocks,
// a full queue surfaces as ErrBackpressure for the hub's policy.
type wsPeerConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func newPeerConn(conn *websocket.Conn, sendBuffer int) *wsPeerConn {
	return &wsPeerConn{
		conn: conn,
		send: make(chan core.Frame, sendBuffer),
	}
}

func (c *wsPeerConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsPeerConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}
