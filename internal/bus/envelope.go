package bus

import (
	"time"

	"github.com/google/uuid"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

// Envelope wraps every in-flight payload with its routing metadata. It is
// the only object subscribers observe. Ownership transfers from the bus to
// the subscriber at delivery; the payload inside may be shared immutably
// across subscribers that required no translation.
type Envelope struct {
	// ID correlates a delivery with diagnostics.
	ID uuid.UUID
	// Topic is the qualified "<slotId>.<outputName>" channel name.
	Topic string
	// Source is the publishing slot id.
	Source string
	// Input is the subscriber-local input name, filled per binding at
	// fan-out.
	Input string
	// Timestamp is monotonic publication time.
	Timestamp time.Time
	// DataType is the declared (or post-translation) type of the payload.
	DataType typeexpr.Type

	payload any
}

// Payload returns the wrapped value.
func (e *Envelope) Payload() any { return e.payload }

// withBinding clones the envelope for one subscriber binding. The payload
// is replaced when translation produced a new value.
func (e *Envelope) withBinding(input string, payload any, dataType typeexpr.Type) *Envelope {
	clone := *e
	clone.Input = input
	clone.payload = payload
	clone.DataType = dataType
	return &clone
}
