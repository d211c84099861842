package testutil

import (
	"fmt"
	"sync"
)

// FixedTokens generates predictable sequential transaction tokens
// ("tx-000001", "tx-000002", ...) so traces are stable across runs.
// Safe for concurrent use.
type FixedTokens struct {
	mu     sync.Mutex
	prefix string
	seq    int
}

// NewFixedTokens creates a generator with the given prefix. An empty
// prefix defaults to "tx".
func NewFixedTokens(prefix string) *FixedTokens {
	if prefix == "" {
		prefix = "tx"
	}
	return &FixedTokens{prefix: prefix}
}

// NewToken returns the next sequential token.
func (g *FixedTokens) NewToken() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%06d", g.prefix, g.seq)
}

// Reset restarts the sequence, for test reuse.
func (g *FixedTokens) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
