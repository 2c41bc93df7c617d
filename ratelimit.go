package agentgate

import (
	"math"
	"time"
)

// defaultRetryAfterMs is the retry hint when the refill rate is zero and
// no meaningful wait can be computed.
const defaultRetryAfterMs = 1000

// rateBucket is a lazily refilled token bucket. Refill is computed from
// elapsed wall-clock time at each take, never by a background timer, so
// there is no drift accumulation and nothing to stop on teardown.
//
// It is not self-synchronized: only the owning connection's pipeline
// goroutine may call take.
type rateBucket struct {
	capacity        float64
	refillPerSecond float64
	tokens          float64
	last            time.Time
	now             func() time.Time
}

func newRateBucket(capacity, refillPerSecond float64, now func() time.Time) *rateBucket {
	if now == nil {
		now = time.Now
	}
	return &rateBucket{
		capacity:        capacity,
		refillPerSecond: refillPerSecond,
		tokens:          capacity,
		last:            now(),
		now:             now,
	}
}

// take refills from elapsed time, then consumes one token if available.
func (b *rateBucket) take() bool {
	n := b.now()
	if elapsed := n.Sub(b.last).Seconds(); elapsed > 0 {
		if b.refillPerSecond > 0 {
			b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.refillPerSecond)
		}
		b.last = n
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// retryAfterMs estimates how long until one token is available.
func (b *rateBucket) retryAfterMs() int64 {
	if b.refillPerSecond <= 0 {
		return defaultRetryAfterMs
	}
	return int64(math.Ceil(1000 / b.refillPerSecond))
}
