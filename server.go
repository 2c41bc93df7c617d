package agentgate

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/lianghu1024/agentgate/internal/auth"
	"github.com/lianghu1024/agentgate/internal/command"
	"github.com/lianghu1024/agentgate/internal/metrics"
	"github.com/lianghu1024/agentgate/internal/schema"
	"github.com/lianghu1024/agentgate/protocol"
)

// ErrNoAuthenticator is returned by Serve when the server was built
// without an authenticator; an open gateway is never the default.
var ErrNoAuthenticator = errors.New("agentgate: no authenticator configured")

// ServerVersion is reported in the HELLO transport hints.
const ServerVersion = 1

const (
	DefaultAddr              = ":7410"
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultIdleTimeout       = 5 * time.Minute
	DefaultWriteTimeout      = 10 * time.Second
	DefaultSessionMaxIdle    = 30 * time.Minute
	DefaultRateCapacity      = 20
	DefaultRateRefill        = 10

	sessionSweepInterval = time.Minute
)

// Server accepts framed-JSON connections and runs each one through the
// fixed five-stage pipeline. All configuration is fixed at New; a Server
// is not reconfigured while serving.
type Server struct {
	addr              string
	maxFrame          int
	maxPayload        int
	heartbeatInterval time.Duration
	idleTimeout       time.Duration
	writeTimeout      time.Duration
	rateCapacity      float64
	rateRefill        float64
	sessionMaxIdle    time.Duration

	authenticator auth.Authenticator
	registry      *command.Registry
	schemas       *schema.Set
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time

	pipeline *Pipeline
	sessions *sessionStore

	// stop is closed by Close so background goroutines terminate even
	// when the Serve context is never cancelled.
	stop chan struct{}

	mu       sync.Mutex
	listener net.Listener
	conns    map[string]*Conn
	closed   bool
	wg       sync.WaitGroup
}

// Option configures a Server at construction time.
type Option func(*Server)

func WithAddr(addr string) Option             { return func(s *Server) { s.addr = addr } }
func WithMaxFrame(n int) Option               { return func(s *Server) { s.maxFrame = n } }
func WithMaxPayload(n int) Option             { return func(s *Server) { s.maxPayload = n } }
func WithIdleTimeout(d time.Duration) Option  { return func(s *Server) { s.idleTimeout = d } }
func WithWriteTimeout(d time.Duration) Option { return func(s *Server) { s.writeTimeout = d } }

func WithHeartbeatInterval(d time.Duration) Option {
	return func(s *Server) { s.heartbeatInterval = d }
}

// WithRateLimit sets the per-connection token bucket. capacity <= 0
// disables rate limiting.
func WithRateLimit(capacity, refillPerSecond float64) Option {
	return func(s *Server) {
		s.rateCapacity = capacity
		s.rateRefill = refillPerSecond
	}
}

func WithSessionMaxIdle(d time.Duration) Option {
	return func(s *Server) { s.sessionMaxIdle = d }
}

func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) { s.authenticator = a }
}

func WithRegistry(r *command.Registry) Option { return func(s *Server) { s.registry = r } }
func WithSchemas(set *schema.Set) Option      { return func(s *Server) { s.schemas = set } }
func WithLogger(l *slog.Logger) Option        { return func(s *Server) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option   { return func(s *Server) { s.metrics = m } }

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option { return func(s *Server) { s.now = now } }

// New builds a Server with the given options. The pipeline order is
// fixed: envelope validation, rate limiting, auth, payload validation,
// routing.
func New(opts ...Option) *Server {
	s := &Server{
		addr:              DefaultAddr,
		maxFrame:          protocol.DefaultMaxFrame,
		maxPayload:        protocol.DefaultMaxPayload,
		heartbeatInterval: DefaultHeartbeatInterval,
		idleTimeout:       DefaultIdleTimeout,
		writeTimeout:      DefaultWriteTimeout,
		rateCapacity:      DefaultRateCapacity,
		rateRefill:        DefaultRateRefill,
		sessionMaxIdle:    DefaultSessionMaxIdle,
		registry:          command.NewRegistry(),
		logger:            slog.Default(),
		now:               time.Now,
		stop:              make(chan struct{}),
		conns:             make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.sessions = newSessionStore(s.sessionMaxIdle)
	s.pipeline = newPipeline(s.logger, s.metrics,
		&envelopeStage{maxPayload: s.maxPayload},
		&rateLimitStage{capacity: s.rateCapacity, refillPerSecond: s.rateRefill, now: s.now},
		&authStage{
			authenticator: s.authenticator,
			sessions:      s.sessions,
			logger:        s.logger,
			metrics:       s.metrics,
			now:           s.now,
		},
		&payloadStage{schemas: s.schemas},
		&routeStage{
			registry: s.registry,
			tracer:   otel.Tracer("agentgate"),
			logger:   s.logger,
			metrics:  s.metrics,
		},
	)
	return s
}

func (s *Server) helloInfo() protocol.HelloInfo {
	return protocol.HelloInfo{
		MaxFrame:            s.maxFrame,
		HeartbeatIntervalMs: int(s.heartbeatInterval / time.Millisecond),
		MaxPayload:          s.maxPayload,
		ServerVersion:       ServerVersion,
	}
}

// ListenAndServe listens on the configured address and serves until ctx
// is cancelled or the listener fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled. It owns ln
// and closes it on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.authenticator == nil {
		ln.Close()
		return ErrNoAuthenticator
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("listening", "addr", ln.Addr().String())

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-s.stop:
		case <-stop:
		}
	}()

	s.wg.Add(1)
	go s.sweepSessions(ctx)

	var backoff time.Duration
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return ctx.Err()
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Transient accept failure (fd exhaustion and friends):
				// back off instead of spinning.
				backoff = nextAcceptBackoff(backoff)
				s.logger.Warn("accept failed, backing off", "error", err, "delay", backoff)
				select {
				case <-time.After(backoff):
					continue
				case <-ctx.Done():
					s.wg.Wait()
					return ctx.Err()
				}
			}
			s.wg.Wait()
			return err
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.ServeConn(ctx, raw)
		}()
	}
}

// nextAcceptBackoff doubles the accept retry delay from 5ms up to 1s.
func nextAcceptBackoff(cur time.Duration) time.Duration {
	if cur == 0 {
		return 5 * time.Millisecond
	}
	cur *= 2
	if cur > time.Second {
		return time.Second
	}
	return cur
}

// ServeConn runs the protocol over one already-established byte stream.
// It blocks until the connection ends and is safe to call directly with
// any net.Conn (the WebSocket adapter uses this).
func (s *Server) ServeConn(ctx context.Context, raw net.Conn) {
	conn := newConn(raw, s.maxFrame, s.writeTimeout)
	s.register(conn)
	defer s.unregister(conn)

	s.logger.Info("connection opened", "conn", conn.ID(), "remote", conn.RemoteAddr())

	if err := s.handleConn(ctx, conn); err != nil && !conn.Closed() {
		s.logger.Warn("connection error", "conn", conn.ID(), "error", err)
	}
	_ = conn.Close(nil)
	s.logger.Info("connection closed", "conn", conn.ID())
}

func (s *Server) register(conn *Conn) {
	s.mu.Lock()
	closed := s.closed
	s.conns[conn.ID()] = conn
	s.mu.Unlock()
	// A connection can slip in between Close snapshotting the conn map
	// and the listener actually closing; don't let it outlive the server.
	if closed {
		_ = conn.Close(nil)
	}
	s.metrics.ConnOpened()
}

func (s *Server) unregister(conn *Conn) {
	s.mu.Lock()
	delete(s.conns, conn.ID())
	s.mu.Unlock()

	// The session dies with its connection; nothing migrates.
	if s.sessions.removeByConn(conn.ID()) {
		s.metrics.SessionDestroyed(1)
	}
	s.metrics.ConnClosed()
}

func (s *Server) sweepSessions(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if n := s.sessions.sweep(s.now()); n > 0 {
				s.metrics.SessionDestroyed(n)
				s.logger.Info("swept idle sessions", "count", n)
			}
		}
	}
}

// ConnCount reports the number of live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// SessionCount reports the number of live sessions.
func (s *Server) SessionCount() int { return s.sessions.len() }

// Close stops the listener and tears down every live connection.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.stop)
	ln := s.listener
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close(nil)
	}
	s.wg.Wait()
	return err
}
