package presence

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/retrowfc-project/retrowfc/internal/wire"
)

// maxMessageSize caps the bytes buffered while hunting for a terminator so a
// hostile client cannot grow the buffer without bound.
const maxMessageSize = 64 * 1024

// Conn wraps one client TCP connection. Reads scan for the wire terminator;
// writes are whole encoded messages. Safe for one reader plus any number of
// writers, which is what the relay path needs.
type Conn struct {
	mu   sync.Mutex
	conn net.Conn
	buf  []byte

	connectedAt  time.Time
	lastActivity time.Time
	closed       bool
}

// NewConn wraps an accepted net.Conn.
func NewConn(conn net.Conn) *Conn {
	now := time.Now()
	return &Conn{
		conn:         conn,
		connectedAt:  now,
		lastActivity: now,
	}
}

// ReadMessage blocks until one terminator-delimited message is available,
// decodes it and returns it. The timeout bounds idle time between messages.
func (c *Conn) ReadMessage(timeout time.Duration) (wire.Message, error) {
	if timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(timeout))
	}

	for {
		if i := bytes.Index(c.buf, wire.TerminatorBytes); i >= 0 {
			frame := c.buf[:i+len(wire.TerminatorBytes)]
			msg := wire.Decode(frame)
			c.buf = append(c.buf[:0], c.buf[i+len(wire.TerminatorBytes):]...)

			c.mu.Lock()
			c.lastActivity = time.Now()
			c.mu.Unlock()
			return msg, nil
		}

		if len(c.buf) > maxMessageSize {
			return nil, fmt.Errorf("message exceeds %d bytes without terminator", maxMessageSize)
		}

		chunk := make([]byte, 4096)
		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if err != nil {
			return nil, err
		}
	}
}

// WriteMessage encodes and sends one message.
func (c *Conn) WriteMessage(msg wire.Message) error {
	return c.WriteRaw(wire.EncodeMessage(msg))
}

// WriteRaw sends pre-encoded bytes.
func (c *Conn) WriteRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("connection is closed")
	}

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if _, err := c.conn.Write(data); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	c.lastActivity = time.Now()
	return nil
}

// Close closes the connection. Idempotent.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed returns whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastActivity returns the time of the last read/write activity.
func (c *Conn) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// ConnectedAt returns the time the connection was established.
func (c *Conn) ConnectedAt() time.Time {
	return c.connectedAt
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
