package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestEncodeFrameRoundTrip(t *testing.T) {
	env := &Envelope{ProtocolVersion: Version, Kind: KindRequest, ID: "r1", Action: "PING"}

	wire, err := EncodeFrame(env)
	if err != nil {
		t.Fatalf("EncodeFrame error: %v", err)
	}

	payloads, rest, err := DecodeFrames(wire, DefaultMaxFrame)
	if err != nil {
		t.Fatalf("DecodeFrames error: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(payloads))
	}
	if len(rest) != 0 {
		t.Fatalf("got %d remainder bytes, want 0", len(rest))
	}
	if !bytes.Equal(payloads[0], wire[LengthPrefixLen:]) {
		t.Fatalf("payload mismatch: got %q", payloads[0])
	}
}

func TestEncodeFrameSerializationError(t *testing.T) {
	_, err := EncodeFrame(map[string]any{"bad": make(chan int)})
	if err == nil {
		t.Fatalf("expected error for unserializable value, got nil")
	}
	var serr *SerializationError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SerializationError, got %T", err)
	}
}

func TestDecodeFramesPartialHeader(t *testing.T) {
	payloads, rest, err := DecodeFrames([]byte{0x00, 0x00}, DefaultMaxFrame)
	if err != nil {
		t.Fatalf("DecodeFrames error: %v", err)
	}
	if len(payloads) != 0 {
		t.Fatalf("got %d payloads, want 0", len(payloads))
	}
	if len(rest) != 2 {
		t.Fatalf("got %d remainder bytes, want 2", len(rest))
	}
}

func TestDecodeFramesOversizeDeclaredLength(t *testing.T) {
	// Declared length beyond the limit must fail even though the body
	// bytes never arrive.
	hdr := make([]byte, LengthPrefixLen)
	binary.BigEndian.PutUint32(hdr, 1025)

	_, _, err := DecodeFrames(hdr, 1024)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDecodeFramesOrdering(t *testing.T) {
	var stream []byte
	want := []string{"alpha", "bravo", "charlie"}
	for _, s := range want {
		frame, err := EncodeFrame(s)
		if err != nil {
			t.Fatalf("EncodeFrame(%q): %v", s, err)
		}
		stream = append(stream, frame...)
	}

	payloads, rest, err := DecodeFrames(stream, DefaultMaxFrame)
	if err != nil {
		t.Fatalf("DecodeFrames error: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("got %d remainder bytes, want 0", len(rest))
	}
	if len(payloads) != len(want) {
		t.Fatalf("got %d payloads, want %d", len(payloads), len(want))
	}
	for i, s := range want {
		if string(payloads[i]) != `"`+s+`"` {
			t.Fatalf("payload[%d]=%q, want %q", i, payloads[i], `"`+s+`"`)
		}
	}
}

func TestDeframerSplitAtEveryByte(t *testing.T) {
	frame, err := EncodeFrame(map[string]string{"k": "split-me"})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	d := NewDeframer(DefaultMaxFrame)
	var got [][]byte
	for i := range frame {
		payloads, err := d.Feed(frame[i : i+1])
		if err != nil {
			t.Fatalf("Feed byte %d: %v", i, err)
		}
		got = append(got, payloads...)
	}

	if len(got) != 1 {
		t.Fatalf("got %d payloads, want 1", len(got))
	}
	if !bytes.Equal(got[0], frame[LengthPrefixLen:]) {
		t.Fatalf("payload mismatch: got %q, want %q", got[0], frame[LengthPrefixLen:])
	}
	if d.Buffered() != 0 {
		t.Fatalf("Buffered()=%d, want 0", d.Buffered())
	}
}

func TestDeframerSplitInHalves(t *testing.T) {
	frame, err := EncodeFrame("halved")
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	mid := len(frame) / 2

	d := NewDeframer(DefaultMaxFrame)
	payloads, err := d.Feed(frame[:mid])
	if err != nil {
		t.Fatalf("Feed first half: %v", err)
	}
	if len(payloads) != 0 {
		t.Fatalf("got %d payloads after first half, want 0", len(payloads))
	}

	payloads, err = d.Feed(frame[mid:])
	if err != nil {
		t.Fatalf("Feed second half: %v", err)
	}
	if len(payloads) != 1 {
		t.Fatalf("got %d payloads after second half, want 1", len(payloads))
	}
	if !bytes.Equal(payloads[0], frame[LengthPrefixLen:]) {
		t.Fatalf("payload mismatch: got %q", payloads[0])
	}
}

func TestDeframerFatalOnOversizeAndDiscardsInput(t *testing.T) {
	hdr := make([]byte, LengthPrefixLen)
	binary.BigEndian.PutUint32(hdr, 64)

	d := NewDeframer(16)
	payloads, err := d.Feed(hdr)
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if len(payloads) != 0 {
		t.Fatalf("got %d payloads with fatal error, want 0", len(payloads))
	}
	if !d.Fatal() {
		t.Fatalf("expected Fatal()=true after oversize frame")
	}
	if d.Buffered() != 0 {
		t.Fatalf("fatal deframer must drop its buffer, still holds %d bytes", d.Buffered())
	}

	// A fatal deframer silently discards further input.
	good, err := EncodeFrame("ignored")
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	payloads, err = d.Feed(good)
	if err != nil {
		t.Fatalf("Feed after fatal returned error: %v", err)
	}
	if len(payloads) != 0 {
		t.Fatalf("fatal deframer emitted %d payloads, want 0", len(payloads))
	}
}

func TestDeframerThreeFramesOneChunk(t *testing.T) {
	var stream []byte
	for _, s := range []string{"A", "B", "C"} {
		frame, _ := EncodeFrame(s)
		stream = append(stream, frame...)
	}

	d := NewDeframer(DefaultMaxFrame)
	payloads, err := d.Feed(stream)
	if err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if len(payloads) != 3 {
		t.Fatalf("got %d payloads, want 3", len(payloads))
	}
	for i, s := range []string{`"A"`, `"B"`, `"C"`} {
		if string(payloads[i]) != s {
			t.Fatalf("payload[%d]=%q, want %q", i, payloads[i], s)
		}
	}
}
