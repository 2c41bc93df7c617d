package client

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/lianghu1024/agentgate"
	"github.com/lianghu1024/agentgate/internal/auth"
	"github.com/lianghu1024/agentgate/internal/command"
	"github.com/lianghu1024/agentgate/protocol"
)

func startServer(t *testing.T, opts ...agentgate.Option) string {
	t.Helper()

	store := auth.NewMemoryStore()
	store.Seed("tok1", "secretabc", []string{"read"}, time.Time{})

	registry := command.NewRegistry()
	command.RegisterBuiltins(registry)

	srv := agentgate.New(append([]agentgate.Option{
		agentgate.WithAuthenticator(auth.NewStoreAuthenticator(store)),
		agentgate.WithRegistry(registry),
	}, opts...)...)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
	})
	return ln.Addr().String()
}

func TestClientHelloAndCall(t *testing.T) {
	addr := startServer(t)

	c, err := Dial(addr, Options{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	h := c.Hello()
	if h.MaxFrame != protocol.DefaultMaxFrame {
		t.Fatalf("hello maxFrame = %d, want %d", h.MaxFrame, protocol.DefaultMaxFrame)
	}
	if h.HeartbeatIntervalMs != 30000 {
		t.Fatalf("hello heartbeatIntervalMs = %d, want 30000", h.HeartbeatIntervalMs)
	}

	result, err := c.Authenticate(context.Background(), "tok1.secretabc")
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("empty session id")
	}

	data, err := c.Call(context.Background(), "PING", nil)
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	_ = data

	echoed, err := c.Call(context.Background(), "ECHO", map[string]string{"hi": "there"})
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(echoed, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["hi"] != "there" {
		t.Fatalf("echo payload = %v", payload)
	}
}

func TestClientWireErrors(t *testing.T) {
	addr := startServer(t)

	c, err := Dial(addr, Options{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Call(context.Background(), "PING", nil)
	werr, ok := protocol.AsWireError(err)
	if !ok {
		t.Fatalf("expected wire error, got %v", err)
	}
	if werr.Code != protocol.CodeUnauthorized {
		t.Fatalf("code = %s, want UNAUTHORIZED", werr.Code)
	}

	_, err = c.Authenticate(context.Background(), "tok1.badsecret")
	if werr, ok := protocol.AsWireError(err); !ok || werr.Code != protocol.CodeInvalidToken {
		t.Fatalf("expected INVALID_TOKEN, got %v", err)
	}

	if _, err := c.Authenticate(context.Background(), "tok1.secretabc"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	_, err = c.Call(context.Background(), "NOPE", nil)
	if werr, ok := protocol.AsWireError(err); !ok || werr.Code != protocol.CodeUnknownAction {
		t.Fatalf("expected UNKNOWN_ACTION, got %v", err)
	}
}

func TestClientConcurrentCalls(t *testing.T) {
	addr := startServer(t, agentgate.WithRateLimit(0, 0))

	c, err := Dial(addr, Options{DialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if _, err := c.Authenticate(context.Background(), "tok1.secretabc"); err != nil {
		t.Fatal(err)
	}

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			payload := map[string]int{"i": i}
			data, err := c.Call(context.Background(), "ECHO", payload)
			if err != nil {
				errs <- err
				return
			}
			var got map[string]int
			if err := json.Unmarshal(data, &got); err != nil {
				errs <- err
				return
			}
			if got["i"] != i {
				errs <- errors.New("response correlated to wrong request")
				return
			}
			errs <- nil
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}

func TestClientCallTimeout(t *testing.T) {
	// A server that sends HELLO and then goes silent.
	server, clientConn := net.Pipe()
	go func() {
		hello, _ := protocol.NewHello(protocol.HelloInfo{MaxFrame: protocol.DefaultMaxFrame, ServerVersion: 1})
		frame, _ := protocol.EncodeFrame(hello)
		_, _ = server.Write(frame)
		// Drain writes so the client's request does not block forever.
		buf := make([]byte, 4*1024)
		for {
			if _, err := server.Read(buf); err != nil {
				return
			}
		}
	}()

	c, err := New(clientConn, Options{CallTimeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Call(context.Background(), "PING", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClientTeardownFailsInFlight(t *testing.T) {
	server, clientConn := net.Pipe()
	go func() {
		hello, _ := protocol.NewHello(protocol.HelloInfo{MaxFrame: protocol.DefaultMaxFrame, ServerVersion: 1})
		frame, _ := protocol.EncodeFrame(hello)
		_, _ = server.Write(frame)
		buf := make([]byte, 4*1024)
		// Accept one request, then drop the connection.
		_, _ = server.Read(buf)
		_ = server.Close()
	}()

	c, err := New(clientConn, Options{CallTimeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	_, err = c.Call(context.Background(), "PING", nil)
	if err == nil {
		t.Fatal("expected error after server dropped the connection")
	}

	// The client is dead; further calls fail immediately.
	if _, err := c.Call(context.Background(), "PING", nil); err == nil {
		t.Fatal("expected error on closed client")
	}
}
