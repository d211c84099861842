package engine

import (
	"time"

	"github.com/google/uuid"
)

// TokenGenerator produces transaction tokens for job correlation.
// Implemented by UUIDv7Generator (production) and testutil.FixedTokens
// (tests).
type TokenGenerator interface {
	NewToken() string
}

// UUIDv7Generator generates time-sortable UUIDv7 transaction tokens.
//
// UUIDv7 embeds a timestamp in the most significant bits, making tokens
// sortable by creation time, which keeps logs and traces readable.
//
// Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// NewToken creates a new UUIDv7 as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) NewToken() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Clock abstracts time for the engine so tests can drive it manually.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
