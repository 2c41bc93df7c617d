package protocol

import "fmt"

// ValidateRequestEnvelope checks the structural invariants of an inbound
// request envelope. It is the mandatory first pipeline stage; nothing
// downstream may assume a well-formed envelope without it having run.
//
// A nil return means the envelope is valid.
func ValidateRequestEnvelope(e *Envelope) *WireError {
	if e.ProtocolVersion != Version {
		return BadRequest(fmt.Sprintf("unsupported protocol version %d (want %d)", e.ProtocolVersion, Version))
	}
	if e.Kind != KindRequest {
		return BadRequest(fmt.Sprintf("unexpected message kind %q", e.Kind))
	}
	if e.ID == "" {
		return BadRequest("missing request id")
	}
	if len(e.ID) > MaxFieldLen {
		return BadRequest(fmt.Sprintf("request id exceeds %d characters", MaxFieldLen))
	}
	if e.Action == "" {
		return BadRequest("missing action")
	}
	if len(e.Action) > MaxFieldLen {
		return BadRequest(fmt.Sprintf("action exceeds %d characters", MaxFieldLen))
	}
	return nil
}
