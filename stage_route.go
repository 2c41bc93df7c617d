package agentgate

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lianghu1024/agentgate/internal/command"
	"github.com/lianghu1024/agentgate/internal/metrics"
	"github.com/lianghu1024/agentgate/protocol"
)

// routeStage is the final stage: scope check and handler dispatch.
// Handlers never write to the connection themselves; only this stage
// translates their result or error into wire bytes.
type routeStage struct {
	registry *command.Registry
	tracer   trace.Tracer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func (s *routeStage) Name() string { return "route" }

func (s *routeStage) Handle(mc *MsgContext) (bool, error) {
	action := mc.Req.Action

	cmd := s.registry.Resolve(action)
	if cmd == nil {
		_ = mc.Fail(protocol.UnknownAction(action))
		return false, nil
	}
	if cmd.RequiredScope != "" && !mc.Session.HasScope(cmd.RequiredScope) {
		_ = mc.Fail(protocol.Forbidden(cmd.RequiredScope))
		return false, nil
	}

	ctx, span := s.tracer.Start(mc.Ctx, "agentgate.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("agentgate.action", action),
			attribute.String("agentgate.conn_id", mc.Conn.ID()),
			attribute.String("agentgate.session_id", mc.Session.ID),
		))
	defer span.End()

	result, err := cmd.Handler(ctx, command.Invocation{
		Session:    mc.Session.Snapshot(),
		Data:       mc.Req.Data,
		RemoteAddr: mc.Conn.RemoteAddr(),
	})
	elapsed := time.Since(mc.StartedAt)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.RequestRouted(action, "error", elapsed)

		// A handler may surface an explicit wire code; anything else is
		// INTERNAL_ERROR carrying the handler's message, never a trace.
		if werr, ok := protocol.AsWireError(err); ok {
			_ = mc.Fail(werr)
		} else {
			s.logger.Error("handler failed", "action", action, "conn", mc.Conn.ID(), "error", err)
			_ = mc.Fail(protocol.InternalError(err.Error()))
		}
		return false, nil
	}

	span.SetStatus(codes.Ok, "")
	s.metrics.RequestRouted(action, "success", elapsed)

	env, rerr := protocol.NewResponse(mc.Req.ID, action, result, mc.StartedAt)
	if rerr != nil {
		s.logger.Error("response serialization failed", "action", action, "error", rerr)
		_ = mc.Fail(protocol.InternalError("internal error"))
		return false, nil
	}
	_ = mc.Reply(env)

	if cmd.Terminal {
		_ = mc.Conn.Close(nil)
	}
	return false, nil
}
