package agentgate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/lianghu1024/agentgate/protocol"
)

// handleConn runs one connection's read loop. Inbound messages are
// processed strictly sequentially: the pipeline for message N+1 does not
// start until message N's run has fully returned, so response order
// always matches request order within a connection.
func (s *Server) handleConn(ctx context.Context, conn *Conn) error {
	hello, err := protocol.NewHello(s.helloInfo())
	if err != nil {
		return err
	}
	if err := conn.Send(hello); err != nil {
		return err
	}
	s.metrics.FrameOut()

	tmp := make([]byte, 4*1024)
	for {
		if s.idleTimeout > 0 {
			_ = conn.raw.SetReadDeadline(time.Now().Add(s.idleTimeout))
		}

		n, err := conn.raw.Read(tmp)
		if n > 0 {
			payloads, derr := conn.deframer.Feed(tmp[:n])
			if derr != nil {
				// The stream is ambiguous past an oversized frame: one
				// best-effort error, then teardown.
				_ = conn.Close(protocol.NewErrorResponse("", "",
					protocol.PayloadTooLarge(s.maxFrame), time.Time{}))
				return derr
			}
			for _, payload := range payloads {
				s.metrics.FrameIn()
				if stop := s.dispatch(ctx, conn, payload); stop {
					return nil
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				// Idle connection; routine close, not a failure.
				return nil
			}
			if conn.Closed() {
				return nil
			}
			return err
		}
	}
}

// dispatch runs one deframed payload through the pipeline. It reports
// whether the connection is finished (closed by a terminal command or a
// fatal protocol condition).
func (s *Server) dispatch(ctx context.Context, conn *Conn, payload []byte) bool {
	env := new(protocol.Envelope)
	if err := json.Unmarshal(payload, env); err != nil {
		// Unparseable JSON at the frame boundary leaves no id to
		// correlate a reply to; treat the stream as poisoned.
		s.logger.Warn("malformed JSON frame", "conn", conn.ID(), "error", err)
		_ = conn.Close(protocol.NewErrorResponse("", "",
			protocol.BadRequest("malformed JSON payload"), time.Time{}))
		return true
	}

	mc := &MsgContext{
		Ctx:       ctx,
		Conn:      conn,
		Req:       env,
		StartedAt: time.Now(),
		metrics:   s.metrics,
	}
	s.pipeline.Run(mc)
	return conn.Closed()
}
