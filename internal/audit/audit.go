// Package audit builds the append-only AuditEvent records the
// Materializer emits for every mutation, carrying a correlation ID and
// a digest of the affected payload rather than the payload itself, so
// audit rows stay small and never leak secrets.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/flowplane/flowplane/internal/clock"
	"github.com/flowplane/flowplane/internal/types"
)

// Recorder builds AuditEvents stamped with the injected Clock, so tests
// get deterministic timestamps instead of depending on wall time.
type Recorder struct {
	clock clock.Clock
}

// New returns a Recorder using clk as its time source.
func New(clk clock.Clock) *Recorder {
	return &Recorder{clock: clk}
}

// Record builds one AuditEvent. payload is digested with SHA-256 over
// its canonical JSON encoding; it is never persisted verbatim.
func (r *Recorder) Record(kind, actor, correlationID, resourceRef string, payload interface{}) types.AuditEvent {
	return types.AuditEvent{
		ID:            uuid.NewString(),
		Kind:          kind,
		Actor:         actor,
		CorrelationID: correlationID,
		ResourceRef:   resourceRef,
		PayloadDigest: digest(payload),
		Timestamp:     r.clock.Now(),
	}
}

func digest(payload interface{}) string {
	b, err := json.Marshal(payload)
	if err != nil {
		b = []byte(err.Error())
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
