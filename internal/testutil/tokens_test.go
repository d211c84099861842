package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedTokens_Sequence(t *testing.T) {
	g := NewFixedTokens("")
	assert.Equal(t, "tx-000001", g.NewToken())
	assert.Equal(t, "tx-000002", g.NewToken())

	g.Reset()
	assert.Equal(t, "tx-000001", g.NewToken())
}

func TestFixedTokens_Prefix(t *testing.T) {
	g := NewFixedTokens("scenario")
	assert.Equal(t, "scenario-000001", g.NewToken())
}
