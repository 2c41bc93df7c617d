package agentgate

import (
	"crypto/rand"
	"encoding/hex"
)

// newID returns an opaque 32-character identifier for connections and
// sessions.
func newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("agentgate: rand.Read failed: " + err.Error())
	}
	return hex.EncodeToString(b[:])
}
