package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/presentum/presentum/internal/testutil"
)

func TestMarshalCanonical_SortedKeys(t *testing.T) {
	got, err := marshalCanonical(map[string]any{
		"zebra": 1,
		"alpha": 2,
		"mid":   3,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":2,"mid":3,"zebra":1}`, string(got))
}

func TestMarshalCanonical_NFCNormalization(t *testing.T) {
	// U+00E9 precomposed vs U+0065 U+0301 decomposed: both must
	// serialize to the same bytes.
	precomposed, err := marshalCanonical("caf\u00e9")
	require.NoError(t, err)
	decomposed, err := marshalCanonical("cafe\u0301")
	require.NoError(t, err)
	assert.Equal(t, string(precomposed), string(decomposed))
}

func TestMarshalCanonical_NoHTMLEscape(t *testing.T) {
	got, err := marshalCanonical("<a> & <b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a> & <b>"`, string(got))
}

func TestMarshalCanonical_RejectsFloats(t *testing.T) {
	_, err := marshalCanonical(map[string]any{"x": 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats")
}

func TestMarshalCanonical_RejectsNull(t *testing.T) {
	_, err := marshalCanonical(nil)
	require.Error(t, err)

	_, err = marshalCanonical(map[string]any{"x": nil})
	require.Error(t, err)
}

func TestMarshalCanonical_NestedContainers(t *testing.T) {
	got, err := marshalCanonical(map[string]any{
		"list": []any{"a", 1, true},
		"obj":  map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"list":["a",1,true],"obj":{"k":"v"}}`, string(got))
}

func TestEncodeTrace_OmitsEmptyFields(t *testing.T) {
	events := []TraceEvent{
		{Type: EventShown, At: testutil.Epoch.Add(2 * time.Second), Item: "a/banner/default"},
	}
	got, err := EncodeTrace("tiny", events)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario":"tiny","trace":[{"at_ms":2000,"item":"a/banner/default","type":"shown"}]}`,
		string(got))
}
