package agentgate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lianghu1024/agentgate/internal/metrics"
	"github.com/lianghu1024/agentgate/protocol"
)

// MsgContext is the mutable per-message context threaded through the
// pipeline stages.
type MsgContext struct {
	Ctx       context.Context
	Conn      *Conn
	Req       *protocol.Envelope
	Session   *Session
	StartedAt time.Time

	metrics *metrics.Metrics
}

// Reply sends one envelope back on the connection.
func (mc *MsgContext) Reply(env *protocol.Envelope) error {
	mc.metrics.FrameOut()
	return mc.Conn.Send(env)
}

// Fail sends the canonical error envelope for werr, correlated to the
// current request.
func (mc *MsgContext) Fail(werr *protocol.WireError) error {
	mc.metrics.WireError(string(werr.Code))
	return mc.Reply(protocol.NewErrorResponse(mc.Req.ID, mc.Req.Action, werr, mc.StartedAt))
}

// Stage is one pipeline step. Handle returns true to continue to the
// next stage, false to stop; a stopping stage has already sent exactly
// one reply (or deliberately none). A non-nil error means the stage
// itself broke: the driver replies INTERNAL_ERROR on the stage's behalf.
type Stage interface {
	Name() string
	Handle(mc *MsgContext) (bool, error)
}

// Pipeline runs a fixed ordered list of stages per inbound message,
// aborting at the first stage that returns false.
type Pipeline struct {
	stages  []Stage
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func newPipeline(logger *slog.Logger, m *metrics.Metrics, stages ...Stage) *Pipeline {
	return &Pipeline{stages: stages, logger: logger, metrics: m}
}

func (p *Pipeline) Run(mc *MsgContext) {
	for _, st := range p.stages {
		cont, err := p.runStage(st, mc)
		if err != nil {
			p.logger.Error("pipeline stage failed",
				"stage", st.Name(),
				"conn", mc.Conn.ID(),
				"action", mc.Req.Action,
				"error", err)
			// Nothing is sent when the transport is already gone.
			if !mc.Conn.Closed() {
				_ = mc.Fail(protocol.InternalError("internal error"))
			}
			return
		}
		if !cont {
			return
		}
	}
}

func (p *Pipeline) runStage(st Stage, mc *MsgContext) (cont bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			cont = false
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return st.Handle(mc)
}
