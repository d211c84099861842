package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_FrozenByDefault(t *testing.T) {
	c := NewDeterministicClock()
	assert.True(t, c.Now().Equal(Epoch))
	assert.True(t, c.Now().Equal(Epoch), "no step configured, clock stays put")
}

func TestDeterministicClock_Step(t *testing.T) {
	c := NewDeterministicClock().WithStep(time.Second)
	assert.True(t, c.Now().Equal(Epoch))
	assert.True(t, c.Now().Equal(Epoch.Add(time.Second)))
	assert.True(t, c.Now().Equal(Epoch.Add(2*time.Second)))
}

func TestDeterministicClock_AdvanceAndReset(t *testing.T) {
	c := NewDeterministicClock()
	c.Advance(time.Hour)
	assert.True(t, c.Now().Equal(Epoch.Add(time.Hour)))

	c.Reset()
	assert.True(t, c.Now().Equal(Epoch))
}
