package agentgate

import "github.com/lianghu1024/agentgate/protocol"

// envelopeStage is the mandatory first stage: structural envelope
// validation plus the per-request payload size limit. Nothing downstream
// may assume a well-formed envelope without it having run.
type envelopeStage struct {
	maxPayload int
}

func (s *envelopeStage) Name() string { return "envelope" }

func (s *envelopeStage) Handle(mc *MsgContext) (bool, error) {
	if werr := protocol.ValidateRequestEnvelope(mc.Req); werr != nil {
		_ = mc.Fail(werr)
		return false, nil
	}
	if s.maxPayload > 0 && len(mc.Req.Data) > s.maxPayload {
		_ = mc.Fail(protocol.PayloadTooLarge(s.maxPayload))
		return false, nil
	}
	return true, nil
}
