package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

func TestRunScenario_DismissPromotes(t *testing.T) {
	s := loadTestScenario(t, "dismiss-promotes")

	result := RunGolden(t, s)
	assert.True(t, result.Passed(), "failures: %v, errors: %v", result.Failures, result.EngineErrors())
}

func TestRunScenario_ImpressionCap(t *testing.T) {
	s := loadTestScenario(t, "impression-cap")

	result := RunGolden(t, s)
	assert.True(t, result.Passed(), "failures: %v, errors: %v", result.Failures, result.EngineErrors())
}

func TestRun_Deterministic(t *testing.T) {
	s := loadTestScenario(t, "dismiss-promotes")

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := EncodeTrace(s.Name, first.Trace)
	require.NoError(t, err)
	b, err := EncodeTrace(s.Name, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestRun_UnknownPayloadInStep(t *testing.T) {
	s := &Scenario{
		Name:        "bad-step",
		Description: "references a payload the catalog does not declare",
		Payloads: []PayloadDef{
			{ID: "a", Options: []OptionDef{{Surface: "banner"}}},
		},
		Steps: []Step{
			{SetCandidates: []string{"missing"}},
		},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestRun_ExpectationMismatchFails(t *testing.T) {
	s := &Scenario{
		Name:        "mismatch",
		Description: "expects the wrong active item",
		Payloads: []PayloadDef{
			{ID: "a", Priority: 10, Options: []OptionDef{{Surface: "banner"}}},
			{ID: "b", Priority: 5, Options: []OptionDef{{Surface: "banner"}}},
		},
		Steps: []Step{
			{SetCandidates: []string{"a", "b"}},
		},
		Expect: &Expect{
			Surfaces: map[string]SlotExpect{
				"banner": {Active: "b", Queue: []string{"a"}},
			},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Passed())
	assert.Len(t, result.Failures, 2)
}

func TestRun_PushBypassesGuards(t *testing.T) {
	s := &Scenario{
		Name:        "push",
		Description: "push installs directly even when the item was dismissed",
		Payloads: []PayloadDef{
			{ID: "note", Options: []OptionDef{{Surface: "toast", Dismissible: true}}},
		},
		Steps: []Step{
			{Push: &ItemRef{ID: "note", Surface: "toast"}},
			{MarkDismissed: &ItemRef{ID: "note", Surface: "toast"}},
			{Push: &ItemRef{ID: "note", Surface: "toast"}},
		},
		Expect: &Expect{
			Surfaces: map[string]SlotExpect{
				"toast": {Active: "note"},
			},
			Shown: map[string]int{"note": 2},
		},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Passed(), "failures: %v", result.Failures)
}

func TestRun_CatalogCompileErrorSurfaces(t *testing.T) {
	s := &Scenario{
		Name:        "bad-catalog",
		Description: "inline catalog fails to compile",
		Catalog:     `payload: p: { option: banner: { cooldown: "bogus" } }`,
		Steps: []Step{
			{SetCandidates: []string{"p"}},
		},
	}

	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}
