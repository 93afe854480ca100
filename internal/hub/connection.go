package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// sendQueueSize bounds how many frames may wait for the write pump.
const sendQueueSize = 256

// Session is the per-connection state the controller acts on.
type Session struct {
	RequiresAuth  bool
	Authenticated bool
	ConnectedAt   time.Time
}

// Connection represents a single WebSocket connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn

	send chan []byte

	mu      sync.Mutex
	closed  bool
	session Session

	writeMu sync.Mutex
}

// Outbound returns the queue drained by the connection's write pump. It is
// closed once the connection is unregistered.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// Session returns a copy of the connection's session record.
func (c *Connection) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// enqueue hands data to the write pump without blocking.
func (c *Connection) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// shutdown closes the outbound queue. It reports false if it was already closed.
func (c *Connection) shutdown() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// Closed reports whether the connection has been unregistered.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the underlying socket.
func (c *Connection) Close() error {
	if c.Conn == nil {
		return nil
	}
	return c.Conn.Close()
}
