package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/positions/internal/position"
)

// SequentialIDs generates predictable record ids ("id-0001", "id-0002", ...)
// so imports produce byte-identical stores and golden output.
//
// Implements batch.IDGenerator.
//
// Thread-safety: SequentialIDs is safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. If prefix is empty, "id" is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "id"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next id.
func (g *SequentialIDs) NewID() position.RecordID {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return position.RecordID(fmt.Sprintf("%s-%04d", g.prefix, g.n))
}
