package agentgate

import (
	"github.com/lianghu1024/agentgate/internal/schema"
	"github.com/lianghu1024/agentgate/protocol"
)

// payloadStage applies the optional per-action schema. Actions without a
// registered schema pass through unchanged.
type payloadStage struct {
	schemas *schema.Set
}

func (s *payloadStage) Name() string { return "payload" }

func (s *payloadStage) Handle(mc *MsgContext) (bool, error) {
	if s.schemas == nil {
		return true, nil
	}
	details, err := s.schemas.Validate(mc.Req.Action, mc.Req.Data)
	if err != nil {
		return false, err
	}
	if len(details) > 0 {
		_ = mc.Fail(protocol.BadRequest("payload validation failed", details...))
		return false, nil
	}
	return true, nil
}
