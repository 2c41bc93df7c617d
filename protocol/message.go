package protocol

import (
	"encoding/json"
	"time"
)

const (
	// Version is the single supported protocol version. There is no
	// negotiation; a mismatch is rejected as BAD_REQUEST.
	Version = 1

	// MaxFieldLen bounds the id and action fields of a request envelope.
	MaxFieldLen = 64
)

// Kind discriminates the four wire message kinds.
type Kind string

const (
	KindHello    Kind = "hello"
	KindRequest  Kind = "req"
	KindResponse Kind = "res"
	KindError    Kind = "err"
)

// Meta carries envelope timestamps. Client and server populate disjoint
// fields.
type Meta struct {
	ClientTimestamp int64  `json:"clientTimestamp,omitempty"`
	ServerTimestamp int64  `json:"serverTimestamp,omitempty"`
	LatencyMs       *int64 `json:"latencyMs,omitempty"`
}

// Envelope is the JSON message structure inside a frame payload.
type Envelope struct {
	ProtocolVersion int             `json:"protocolVersion"`
	Kind            Kind            `json:"kind"`
	ID              string          `json:"id,omitempty"`
	Action          string          `json:"action,omitempty"`
	OK              *bool           `json:"ok,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Code            Code            `json:"code,omitempty"`
	Message         string          `json:"message,omitempty"`
	RetryAfterMs    int64           `json:"retryAfterMs,omitempty"`
	Details         []string        `json:"details,omitempty"`
	Meta            *Meta           `json:"meta,omitempty"`
}

// HelloInfo is the transport-hint payload of the unsolicited HELLO the
// server sends immediately after accept.
type HelloInfo struct {
	MaxFrame            int `json:"maxFrame"`
	HeartbeatIntervalMs int `json:"heartbeatIntervalMs"`
	MaxPayload          int `json:"maxPayload,omitempty"`
	ServerVersion       int `json:"serverVersion"`
}

// NewHello builds the server HELLO envelope. It carries no id.
func NewHello(info HelloInfo) (*Envelope, error) {
	data, err := json.Marshal(info)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return &Envelope{
		ProtocolVersion: Version,
		Kind:            KindHello,
		Data:            data,
	}, nil
}

// NewRequest builds a client request envelope. The id is caller-chosen
// and used for response correlation; uniqueness is the caller's job.
func NewRequest(id, action string, data any) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ProtocolVersion: Version,
		Kind:            KindRequest,
		ID:              id,
		Action:          action,
		Data:            raw,
		Meta:            &Meta{ClientTimestamp: time.Now().UnixMilli()},
	}, nil
}

// NewResponse builds a success response for the given request id/action.
// When startedAt is non-zero the meta carries latencyMs clamped to >= 0.
func NewResponse(id, action string, data any, startedAt time.Time) (*Envelope, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	ok := true
	return &Envelope{
		ProtocolVersion: Version,
		Kind:            KindResponse,
		ID:              id,
		Action:          action,
		OK:              &ok,
		Data:            raw,
		Meta:            serverMeta(startedAt),
	}, nil
}

// NewErrorResponse wraps a wire error into an error envelope for the given
// request id/action.
func NewErrorResponse(id, action string, werr *WireError, startedAt time.Time) *Envelope {
	ok := false
	return &Envelope{
		ProtocolVersion: Version,
		Kind:            KindError,
		ID:              id,
		Action:          action,
		OK:              &ok,
		Code:            werr.Code,
		Message:         werr.Message,
		RetryAfterMs:    werr.RetryAfterMs,
		Details:         werr.Details,
		Meta:            serverMeta(startedAt),
	}
}

// HelloPayload decodes the HELLO transport hints from a hello envelope.
func (e *Envelope) HelloPayload() (HelloInfo, error) {
	var info HelloInfo
	err := json.Unmarshal(e.Data, &info)
	return info, err
}

// WireError converts an error envelope back into its tagged error form.
// Returns nil for non-error envelopes.
func (e *Envelope) WireError() *WireError {
	if e.Kind != KindError {
		return nil
	}
	return &WireError{
		Code:         e.Code,
		Message:      e.Message,
		RetryAfterMs: e.RetryAfterMs,
		Details:      e.Details,
	}
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	return raw, nil
}

func serverMeta(startedAt time.Time) *Meta {
	m := &Meta{ServerTimestamp: time.Now().UnixMilli()}
	if !startedAt.IsZero() {
		// Clamp so clock skew never reports negative latency.
		lat := time.Since(startedAt).Milliseconds()
		if lat < 0 {
			lat = 0
		}
		m.LatencyMs = &lat
	}
	return m
}
