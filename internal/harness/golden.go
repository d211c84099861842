package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RunGolden executes a scenario and compares its canonical trace
// against testdata/golden/{scenario.Name}.golden. Regenerate with:
//
//	go test ./internal/harness -update
func RunGolden(t *testing.T, scenario *Scenario) *Result {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		t.Fatalf("running scenario %s: %v", scenario.Name, err)
	}

	AssertGolden(t, scenario.Name, result.Trace)
	return result
}

// AssertGolden compares an already captured trace against its golden
// file.
func AssertGolden(t *testing.T, name string, trace []TraceEvent) {
	t.Helper()

	encoded, err := EncodeTrace(name, trace)
	if err != nil {
		t.Fatalf("encoding trace for %s: %v", name, err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, encoded)
}
