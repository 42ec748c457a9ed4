package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/fluxtor/internal/fluxtor"
)

var _ fluxtor.IDGenerator = (*SequentialIDGenerator)(nil)

// DefaultIDPrefix is the prefix used when NewSequentialIDGenerator is given
// an empty one.
const DefaultIDPrefix = "dispatch"

// SequentialIDGenerator produces readable, zero-padded dispatch ids:
// dispatch-001, dispatch-002, ...
//
// Golden traces depend on these ids, so the format must stay stable.
// Ids past 999 keep counting with more digits.
type SequentialIDGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDGenerator creates a generator whose ids start with prefix.
func NewSequentialIDGenerator(prefix string) *SequentialIDGenerator {
	if prefix == "" {
		prefix = DefaultIDPrefix
	}
	return &SequentialIDGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%03d", g.prefix, g.n)
}

// Reset restarts numbering at 1.
func (g *SequentialIDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
