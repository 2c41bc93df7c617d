package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestValidateRequestEnvelope(t *testing.T) {
	valid := &Envelope{ProtocolVersion: Version, Kind: KindRequest, ID: "r1", Action: "PING"}
	if werr := ValidateRequestEnvelope(valid); werr != nil {
		t.Fatalf("valid envelope rejected: %v", werr)
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{"version mismatch", Envelope{ProtocolVersion: 2, Kind: KindRequest, ID: "r1", Action: "PING"}},
		{"wrong kind", Envelope{ProtocolVersion: Version, Kind: KindResponse, ID: "r1", Action: "PING"}},
		{"empty id", Envelope{ProtocolVersion: Version, Kind: KindRequest, Action: "PING"}},
		{"long id", Envelope{ProtocolVersion: Version, Kind: KindRequest, ID: strings.Repeat("x", MaxFieldLen+1), Action: "PING"}},
		{"empty action", Envelope{ProtocolVersion: Version, Kind: KindRequest, ID: "r1"}},
		{"long action", Envelope{ProtocolVersion: Version, Kind: KindRequest, ID: "r1", Action: strings.Repeat("x", MaxFieldLen+1)}},
	}
	for _, tc := range cases {
		werr := ValidateRequestEnvelope(&tc.env)
		if werr == nil {
			t.Fatalf("%s: expected rejection, got nil", tc.name)
		}
		if werr.Code != CodeBadRequest {
			t.Fatalf("%s: code=%s, want %s", tc.name, werr.Code, CodeBadRequest)
		}
	}
}

func TestNewResponseLatencyClamp(t *testing.T) {
	// startedAt in the future simulates clock skew; latency must clamp to 0.
	env, err := NewResponse("r1", "PING", nil, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if env.Meta == nil || env.Meta.LatencyMs == nil {
		t.Fatalf("expected latencyMs in meta")
	}
	if *env.Meta.LatencyMs != 0 {
		t.Fatalf("latencyMs=%d, want 0", *env.Meta.LatencyMs)
	}
	if env.OK == nil || !*env.OK {
		t.Fatalf("response must carry ok=true")
	}
}

func TestNewResponseNoStartedAtOmitsLatency(t *testing.T) {
	env, err := NewResponse("r1", "PING", nil, time.Time{})
	if err != nil {
		t.Fatalf("NewResponse: %v", err)
	}
	if env.Meta == nil || env.Meta.ServerTimestamp == 0 {
		t.Fatalf("expected serverTimestamp in meta")
	}
	if env.Meta.LatencyMs != nil {
		t.Fatalf("latencyMs should be omitted without startedAt")
	}
}

func TestErrorEnvelopeWireShape(t *testing.T) {
	env := NewErrorResponse("r2", "PS", RateLimited(125), time.Now())
	wire, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(wire, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "err" {
		t.Fatalf("kind=%v, want err", decoded["kind"])
	}
	if decoded["ok"] != false {
		t.Fatalf("ok=%v, want false", decoded["ok"])
	}
	if decoded["code"] != "RATE_LIMITED" {
		t.Fatalf("code=%v, want RATE_LIMITED", decoded["code"])
	}
	if decoded["retryAfterMs"] != float64(125) {
		t.Fatalf("retryAfterMs=%v, want 125", decoded["retryAfterMs"])
	}
}

func TestHelloRoundTrip(t *testing.T) {
	env, err := NewHello(HelloInfo{MaxFrame: 262144, HeartbeatIntervalMs: 30000, MaxPayload: 131072, ServerVersion: 1})
	if err != nil {
		t.Fatalf("NewHello: %v", err)
	}
	if env.Kind != KindHello {
		t.Fatalf("kind=%s, want %s", env.Kind, KindHello)
	}
	if env.ID != "" {
		t.Fatalf("hello must not carry an id, got %q", env.ID)
	}

	info, err := env.HelloPayload()
	if err != nil {
		t.Fatalf("HelloPayload: %v", err)
	}
	if info.MaxFrame != 262144 || info.HeartbeatIntervalMs != 30000 {
		t.Fatalf("hello payload mismatch: %+v", info)
	}
}

func TestWireErrorFromEnvelope(t *testing.T) {
	env := NewErrorResponse("r1", "PING", Forbidden("write"), time.Time{})
	werr := env.WireError()
	if werr == nil {
		t.Fatalf("expected wire error from error envelope")
	}
	if werr.Code != CodeForbidden {
		t.Fatalf("code=%s, want %s", werr.Code, CodeForbidden)
	}

	res, _ := NewResponse("r1", "PING", nil, time.Time{})
	if res.WireError() != nil {
		t.Fatalf("success envelope must not yield a wire error")
	}
}
