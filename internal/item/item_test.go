package item

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload() Payload {
	return Payload{
		ID:       "welcome_tour",
		Priority: 5,
		Meta:     map[string]any{"campaign": "onboarding", "weight": int64(3)},
		Options: []Option{
			{Surface: "home_top_banner", Variant: "compact", Stage: 1, Dismissible: true},
			{Surface: "settings_tip", Variant: "full", MaxImpressions: 3, Cooldown: 30 * time.Minute},
		},
	}
}

func TestPayload_Equal(t *testing.T) {
	p := testPayload()
	q := testPayload()
	assert.True(t, p.Equal(q))

	q.Priority = 6
	assert.False(t, p.Equal(q))

	q = testPayload()
	q.Meta["campaign"] = "retention"
	assert.False(t, p.Equal(q))

	q = testPayload()
	q.Options[0].Variant = "wide"
	assert.False(t, p.Equal(q))
}

func TestPayload_OptionFor(t *testing.T) {
	p := testPayload()

	o, ok := p.OptionFor("settings_tip")
	require.True(t, ok)
	assert.Equal(t, "full", o.Variant)

	_, ok = p.OptionFor("unknown_surface")
	assert.False(t, ok)
}

func TestItem_KeyAndAccessors(t *testing.T) {
	p := testPayload()
	it, ok := Resolve(p, "home_top_banner")
	require.True(t, ok)

	assert.Equal(t, Key{ID: "welcome_tour", Variant: "compact", Surface: "home_top_banner"}, it.Key())
	assert.Equal(t, "welcome_tour", it.ID())
	assert.Equal(t, Surface("home_top_banner"), it.Surface())
	assert.Equal(t, "compact", it.Variant())
	assert.Equal(t, 1, it.Stage())
	assert.Equal(t, 5, it.Priority())
}

func TestItem_IdentityVsEquality(t *testing.T) {
	p := testPayload()
	a, _ := Resolve(p, "home_top_banner")

	// Same identity, different content.
	q := testPayload()
	q.Priority = 9
	b, _ := Resolve(q, "home_top_banner")

	assert.Equal(t, a.Key(), b.Key())
	assert.False(t, a.Equal(b))

	// Same payload on a different surface is a distinct item.
	c, _ := Resolve(p, "settings_tip")
	assert.NotEqual(t, a.Key(), c.Key())
}

func TestKey_StringRoundTrip(t *testing.T) {
	k := Key{ID: "welcome_tour", Variant: "compact", Surface: "home_top_banner"}
	assert.Equal(t, "welcome_tour::compact::home_top_banner", k.String())

	parsed, ok := ParseKey(k.String())
	require.True(t, ok)
	assert.Equal(t, k, parsed)

	_, ok = ParseKey("not-a-key")
	assert.False(t, ok)
}
