package command

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.Register("PS", Command{RequiredScope: "read"})

	cmd := r.Resolve("PS")
	if cmd == nil {
		t.Fatalf("expected PS to resolve")
	}
	if cmd.RequiredScope != "read" {
		t.Fatalf("RequiredScope=%q, want read", cmd.RequiredScope)
	}
	if r.Resolve("NOPE") != nil {
		t.Fatalf("unregistered action must resolve to nil")
	}
}

func TestBuiltinPing(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	cmd := r.Resolve("PING")
	if cmd == nil {
		t.Fatalf("PING not registered")
	}
	out, err := cmd.Handler(context.Background(), Invocation{})
	if err != nil {
		t.Fatalf("PING handler: %v", err)
	}
	if m, ok := out.(map[string]any); !ok || len(m) != 0 {
		t.Fatalf("PING result=%v, want empty object", out)
	}
}

func TestBuiltinEchoReturnsPayload(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	payload := json.RawMessage(`{"x":1}`)
	out, err := r.Resolve("ECHO").Handler(context.Background(), Invocation{Data: payload})
	if err != nil {
		t.Fatalf("ECHO handler: %v", err)
	}
	if string(out.(json.RawMessage)) != `{"x":1}` {
		t.Fatalf("ECHO result=%s, want %s", out, payload)
	}
}

func TestBuiltinWhoami(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	inv := Invocation{Session: SessionInfo{ID: "s1", Identity: "tok1", Scopes: []string{"read"}}}
	out, err := r.Resolve("WHOAMI").Handler(context.Background(), inv)
	if err != nil {
		t.Fatalf("WHOAMI handler: %v", err)
	}
	m := out.(map[string]any)
	if m["sessionId"] != "s1" || m["identity"] != "tok1" {
		t.Fatalf("WHOAMI result=%v", m)
	}
}

func TestBuiltinQuitIsTerminal(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	if !r.Resolve("QUIT").Terminal {
		t.Fatalf("QUIT must be terminal")
	}
}
