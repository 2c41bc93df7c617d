// Package codec adapts the framed-JSON envelope protocol to Kitex's
// remote.Codec interface, so Kitex-built services can speak to the
// gateway without a second wire format.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/cloudwego/kitex/pkg/remote"

	"github.com/lianghu1024/agentgate/protocol"
)

type EnvelopeCodec struct {
	// MaxFrame bounds inbound frames; zero means protocol.DefaultMaxFrame.
	MaxFrame int
}

func (c *EnvelopeCodec) Name() string { return "agentgate" }

func (c *EnvelopeCodec) maxFrame() int {
	if c.MaxFrame > 0 {
		return c.MaxFrame
	}
	return protocol.DefaultMaxFrame
}

// Encode turns an outbound Kitex message into one framed request
// envelope. The Kitex method name becomes the action and the sequence id
// becomes the correlation id, so replies can be matched the usual way.
func (c *EnvelopeCodec) Encode(ctx context.Context, msg remote.Message, out remote.ByteBuffer) error {
	inv := msg.RPCInfo().Invocation()

	var data json.RawMessage
	switch v := msg.Data().(type) {
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case *[]byte:
		if v != nil {
			data = *v
		}
	case nil:
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return &protocol.SerializationError{Err: err}
		}
		data = raw
	}

	env, err := protocol.NewRequest(strconv.FormatInt(int64(inv.SeqID()), 10), inv.MethodName(), data)
	if err != nil {
		return err
	}
	frame, err := protocol.EncodeFrame(env)
	if err != nil {
		return err
	}
	_, err = out.WriteBinary(frame)
	return err
}

// Decode reads exactly one frame from in and exposes the envelope to the
// upper layers: the data payload through msg.Data() when it is a pointer,
// the rest through tags.
func (c *EnvelopeCodec) Decode(ctx context.Context, msg remote.Message, in remote.ByteBuffer) error {
	readable := in.ReadableLen()
	if readable <= 0 {
		return errors.New("empty input")
	}
	buf := make([]byte, readable)
	n, err := in.ReadBinary(buf)
	if err != nil {
		return err
	}

	payloads, _, err := protocol.DecodeFrames(buf[:n], c.maxFrame())
	if err != nil {
		return err
	}
	if len(payloads) == 0 {
		return errors.New("incomplete frame")
	}

	env := new(protocol.Envelope)
	if err := json.Unmarshal(payloads[0], env); err != nil {
		return err
	}
	if werr := env.WireError(); werr != nil {
		return werr
	}

	switch d := msg.Data().(type) {
	case *json.RawMessage:
		if d != nil {
			*d = env.Data
		}
	case *[]byte:
		if d != nil {
			*d = env.Data
		}
	case *interface{}:
		if d != nil {
			*d = env.Data
		}
	}
	msg.SetPayloadLen(len(env.Data))

	if tags := msg.Tags(); tags != nil {
		tags["agentgate.kind"] = string(env.Kind)
		tags["agentgate.action"] = env.Action
		tags["agentgate.id"] = env.ID
	}
	return nil
}
