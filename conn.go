package agentgate

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/lianghu1024/agentgate/protocol"
)

// ErrConnClosed is returned by Send on a connection that has been closed.
var ErrConnClosed = errors.New("agentgate: connection closed")

// Conn wraps one transport-level byte stream. It owns its Deframer
// exclusively; both live exactly as long as the underlying stream.
//
// Writes are synchronous and deadline-bounded on the caller's goroutine.
// Because each connection processes messages strictly sequentially, a
// peer that stops draining its socket blocks the write, which in turn
// pauses the read loop: intake stalls until the peer catches up, so the
// send path never buffers without bound.
type Conn struct {
	id        string
	raw       net.Conn
	deframer  *protocol.Deframer
	createdAt time.Time

	writeTimeout time.Duration

	mu     sync.Mutex // guards writes and close state
	closed bool
	done   chan struct{}

	sessMu  sync.Mutex
	session *Session

	// bucket is lazily created by the rate-limit stage and dies with
	// the connection. Only the connection's pipeline goroutine touches it.
	bucket *rateBucket
}

func newConn(raw net.Conn, maxFrame int, writeTimeout time.Duration) *Conn {
	return &Conn{
		id:           newID(),
		raw:          raw,
		deframer:     protocol.NewDeframer(maxFrame),
		createdAt:    time.Now(),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) RemoteAddr() string {
	if addr := c.raw.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Send frames env and writes it to the raw stream.
func (c *Conn) Send(env *protocol.Envelope) error {
	data, err := protocol.EncodeFrame(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	return c.writeLocked(data)
}

func (c *Conn) writeLocked(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	for len(data) > 0 {
		n, err := c.raw.Write(data)
		if err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

// Close optionally sends one last message best-effort, then terminates
// the raw stream. Closing twice is a no-op.
func (c *Conn) Close(final *protocol.Envelope) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	if final != nil {
		if data, err := protocol.EncodeFrame(final); err == nil {
			_ = c.writeLocked(data)
		}
	}
	c.closed = true
	close(c.done)
	c.mu.Unlock()

	return c.raw.Close()
}

// Closed reports whether Close has run.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done is closed when the connection is torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Session returns the authenticated session bound to this connection, or
// nil before a successful AUTH.
func (c *Conn) Session() *Session {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.session
}

func (c *Conn) setSession(s *Session) {
	c.sessMu.Lock()
	c.session = s
	c.sessMu.Unlock()
}
