package batch

import (
	"github.com/google/uuid"

	"github.com/roach88/positions/internal/position"
)

// IDGenerator assigns record identities at import time.
type IDGenerator interface {
	NewID() position.RecordID
}

// UUIDv7Generator generates time-sortable UUIDv7 record ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewID returns a new hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewID() position.RecordID {
	return position.RecordID(uuid.Must(uuid.NewV7()).String())
}
