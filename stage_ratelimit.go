package agentgate

import (
	"time"

	"github.com/lianghu1024/agentgate/protocol"
)

// rateLimitStage throttles per connection with a lazily created token
// bucket that is garbage-collected with the connection's state. AUTH is
// exempt: the one action needed to become useful is never throttled, and
// it already pays the cost of an auth-backend call.
type rateLimitStage struct {
	capacity        float64
	refillPerSecond float64
	now             func() time.Time
}

func (s *rateLimitStage) Name() string { return "ratelimit" }

func (s *rateLimitStage) Handle(mc *MsgContext) (bool, error) {
	if s.capacity <= 0 {
		return true, nil
	}
	if mc.Req.Action == ActionAuth {
		return true, nil
	}

	b := mc.Conn.bucket
	if b == nil {
		b = newRateBucket(s.capacity, s.refillPerSecond, s.now)
		mc.Conn.bucket = b
	}
	if !b.take() {
		_ = mc.Fail(protocol.RateLimited(b.retryAfterMs()))
		return false, nil
	}
	return true, nil
}
