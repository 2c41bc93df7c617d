package protocol

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// LengthPrefixLen is the fixed size of the frame length prefix in bytes.
	LengthPrefixLen = 4

	// DefaultMaxFrame is the default maximum frame payload size in bytes.
	DefaultMaxFrame = 256 * 1024
	// DefaultMaxPayload is the default maximum request data size in bytes.
	DefaultMaxPayload = 128 * 1024
)

// ErrFrameTooLarge means a frame declared a length beyond the configured
// limit. The byte stream is ambiguous past this point; the connection must
// be torn down, not resynchronized.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum size")

// SerializationError wraps a JSON marshal failure on the send path.
// This is a programming-error class, never expected in normal operation.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("protocol: cannot serialize message: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

// EncodeFrame serializes v to UTF-8 JSON and prepends the payload byte
// length as a 4-byte big-endian unsigned integer.
func EncodeFrame(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, &SerializationError{Err: err}
	}
	buf := make([]byte, LengthPrefixLen+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixLen], uint32(len(payload)))
	copy(buf[LengthPrefixLen:], payload)
	return buf, nil
}

// DecodeFrames extracts every complete frame payload from buf.
// It returns the decoded payloads in stream order and the unconsumed
// remainder. Payload slices alias buf; callers that retain them across
// buffer reuse must copy.
//
// A declared length above maxFrame returns ErrFrameTooLarge even if the
// declared bytes never arrive.
func DecodeFrames(buf []byte, maxFrame int) (payloads [][]byte, rest []byte, err error) {
	for {
		if len(buf) < LengthPrefixLen {
			return payloads, buf, nil
		}
		length := binary.BigEndian.Uint32(buf[:LengthPrefixLen])
		if int64(length) > int64(maxFrame) {
			return payloads, nil, ErrFrameTooLarge
		}
		total := LengthPrefixLen + int(length)
		if len(buf) < total {
			return payloads, buf, nil
		}
		payloads = append(payloads, buf[LengthPrefixLen:total])
		buf = buf[total:]
	}
}

// Deframer accumulates a live byte stream and segments it into frame
// payloads. One Deframer belongs to exactly one connection.
//
// After an oversize frame the Deframer is fatal: the buffer is dropped to
// bound memory and all further input is silently discarded. The owning
// connection is expected to be tearing down already.
type Deframer struct {
	buf      []byte
	maxFrame int
	fatal    bool
}

func NewDeframer(maxFrame int) *Deframer {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Deframer{maxFrame: maxFrame}
}

// Feed appends chunk and returns every payload completed by it, in stream
// order. Returned payloads are copies owned by the caller.
func (d *Deframer) Feed(chunk []byte) ([][]byte, error) {
	if d.fatal {
		return nil, nil
	}
	d.buf = append(d.buf, chunk...)

	raw, rest, err := DecodeFrames(d.buf, d.maxFrame)
	if err != nil {
		d.fatal = true
		d.buf = nil
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	payloads := make([][]byte, len(raw))
	for i, p := range raw {
		payloads[i] = append([]byte(nil), p...)
	}
	d.buf = append(d.buf[:0], rest...)
	return payloads, nil
}

// Fatal reports whether the Deframer hit an unrecoverable framing error.
func (d *Deframer) Fatal() bool { return d.fatal }

// Buffered returns the number of bytes held for an incomplete frame.
func (d *Deframer) Buffered() int { return len(d.buf) }
