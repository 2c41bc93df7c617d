// Package client implements the framed-JSON protocol's calling side:
// dial, consume the server HELLO, then correlate request/response pairs
// over one multiplexed connection.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lianghu1024/agentgate/protocol"
)

// ErrClosed is returned by Call on a client that has been closed or
// whose connection dropped.
var ErrClosed = errors.New("client: connection closed")

// DefaultCallTimeout bounds a Call when the context carries no deadline.
const DefaultCallTimeout = 10 * time.Second

// Options tunes a Client. The zero value is usable.
type Options struct {
	// DialTimeout bounds the TCP connect plus the wait for HELLO.
	DialTimeout time.Duration

	// CallTimeout is the per-request deadline when the Call context has
	// none. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// MaxFrame bounds inbound frames until the HELLO advertises a limit.
	MaxFrame int
}

// Hello is the server's transport hint, available after Dial returns.
type Hello struct {
	MaxFrame            int
	HeartbeatIntervalMs int
	MaxPayload          int
	ServerVersion       int
}

// AuthResult is the decoded payload of a successful AUTH response.
type AuthResult struct {
	SessionID string   `json:"sessionId"`
	Scopes    []string `json:"scopes"`
	ExpiresAt *int64   `json:"expiresAt"`
}

// Client is one protocol connection. Concurrent Calls multiplex over it;
// each in-flight request is parked in the pending ledger until its
// response, error, or deadline arrives.
type Client struct {
	conn  net.Conn
	hello Hello
	opts  Options

	seq atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan *protocol.Envelope
	closed  bool
	err     error

	done chan struct{}
}

// Dial connects to addr, waits for the server HELLO, and starts the
// response reader.
func Dial(addr string, opts Options) (*Client, error) {
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	c, err := New(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established stream. It blocks until the HELLO arrives;
// any net.Conn works, which is how tests drive a client over net.Pipe.
func New(conn net.Conn, opts Options) (*Client, error) {
	c := &Client{
		conn:    conn,
		opts:    opts,
		pending: make(map[string]chan *protocol.Envelope),
		done:    make(chan struct{}),
	}

	maxFrame := opts.MaxFrame
	if maxFrame <= 0 {
		maxFrame = protocol.DefaultMaxFrame
	}

	if opts.DialTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(opts.DialTimeout))
	}
	deframer := protocol.NewDeframer(maxFrame)
	env, err := readOne(conn, deframer)
	if err != nil {
		return nil, fmt.Errorf("client: waiting for hello: %w", err)
	}
	info, err := env.HelloPayload()
	if err != nil {
		return nil, err
	}
	c.hello = Hello{
		MaxFrame:            info.MaxFrame,
		HeartbeatIntervalMs: info.HeartbeatIntervalMs,
		MaxPayload:          info.MaxPayload,
		ServerVersion:       info.ServerVersion,
	}
	_ = conn.SetReadDeadline(time.Time{})

	// Honor the server's advertised frame limit from here on.
	if info.MaxFrame > 0 && info.MaxFrame != maxFrame {
		deframer = protocol.NewDeframer(info.MaxFrame)
	}

	go c.readLoop(deframer)
	return c, nil
}

// Hello returns the transport hints received at connect time.
func (c *Client) Hello() Hello { return c.hello }

func readOne(conn net.Conn, d *protocol.Deframer) (*protocol.Envelope, error) {
	tmp := make([]byte, 4*1024)
	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			payloads, derr := d.Feed(tmp[:n])
			if derr != nil {
				return nil, derr
			}
			if len(payloads) > 0 {
				env := new(protocol.Envelope)
				if uerr := json.Unmarshal(payloads[0], env); uerr != nil {
					return nil, uerr
				}
				return env, nil
			}
		}
		if err != nil {
			return nil, err
		}
	}
}

func (c *Client) readLoop(d *protocol.Deframer) {
	tmp := make([]byte, 4*1024)
	for {
		n, err := c.conn.Read(tmp)
		if n > 0 {
			payloads, derr := d.Feed(tmp[:n])
			if derr != nil {
				c.teardown(derr)
				return
			}
			for _, payload := range payloads {
				env := new(protocol.Envelope)
				if uerr := json.Unmarshal(payload, env); uerr != nil {
					c.teardown(uerr)
					return
				}
				c.deliver(env)
			}
		}
		if err != nil {
			c.teardown(err)
			return
		}
	}
}

// deliver hands env to the Call waiting on its id. Responses with no
// waiter (late arrivals after a Call timed out, or server-initiated
// messages with no id) are dropped.
func (c *Client) deliver(env *protocol.Envelope) {
	if env.ID == "" {
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[env.ID]
	if ok {
		delete(c.pending, env.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- env
	}
}

// Call sends one request and waits for its correlated reply. A reply
// envelope with ok=false or kind "err" is surfaced as *protocol.WireError.
func (c *Client) Call(ctx context.Context, action string, data any) (json.RawMessage, error) {
	id := strconv.FormatUint(c.seq.Add(1), 10)

	env, err := protocol.NewRequest(id, action, data)
	if err != nil {
		return nil, err
	}
	frame, err := protocol.EncodeFrame(env)
	if err != nil {
		return nil, err
	}

	ch := make(chan *protocol.Envelope, 1)
	c.mu.Lock()
	if c.closed {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
	c.pending[id] = ch
	if _, werr := c.conn.Write(frame); werr != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, werr
	}
	c.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		timeout := c.opts.CallTimeout
		if timeout <= 0 {
			timeout = DefaultCallTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case resp := <-ch:
		if werr := resp.WireError(); werr != nil {
			return nil, werr
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	case <-c.done:
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = ErrClosed
		}
		return nil, err
	}
}

// Authenticate runs the AUTH exchange with token.
func (c *Client) Authenticate(ctx context.Context, token string) (*AuthResult, error) {
	data, err := c.Call(ctx, "AUTH", map[string]string{"token": token})
	if err != nil {
		return nil, err
	}
	result := new(AuthResult)
	if err := json.Unmarshal(data, result); err != nil {
		return nil, err
	}
	return result, nil
}

// teardown marks the client dead and fails every in-flight Call at once.
func (c *Client) teardown(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.err = cause
	close(c.done)
	c.pending = make(map[string]chan *protocol.Envelope)
	c.mu.Unlock()

	_ = c.conn.Close()
}

// Close tears the connection down. In-flight Calls fail with ErrClosed.
func (c *Client) Close() error {
	c.teardown(nil)
	return nil
}
