package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/presentum/presentum/internal/item"
)

// Scenario is a declarative conformance test: a payload catalog, a
// sequence of engine steps, and expectations over the final state and
// the recorded trace.
type Scenario struct {
	// Name uniquely identifies this scenario. It doubles as the golden
	// file name.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Payloads declares the candidate catalog inline.
	Payloads []PayloadDef `yaml:"payloads,omitempty"`

	// Catalog optionally declares payloads as CUE source instead of
	// (or in addition to) the Payloads list.
	Catalog string `yaml:"catalog,omitempty"`

	// Steps is the sequence of engine operations to execute. Each step
	// sets exactly one of its fields.
	Steps []Step `yaml:"steps"`

	// Expect validates the final state and trace after the last step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// PayloadDef declares one payload of the scenario catalog.
type PayloadDef struct {
	ID       string         `yaml:"id"`
	Priority int            `yaml:"priority,omitempty"`
	Meta     map[string]any `yaml:"meta,omitempty"`
	Options  []OptionDef    `yaml:"options"`
}

// OptionDef declares one per-surface presentation option.
type OptionDef struct {
	Surface        string `yaml:"surface"`
	Variant        string `yaml:"variant,omitempty"`
	Stage          int    `yaml:"stage,omitempty"`
	MaxImpressions int    `yaml:"max_impressions,omitempty"`
	Cooldown       string `yaml:"cooldown,omitempty"`
	Dismissible    bool   `yaml:"dismissible,omitempty"`
	AlwaysOn       bool   `yaml:"always_on,omitempty"`
}

// Step is one engine operation. Exactly one field must be set.
type Step struct {
	// SetCandidates replaces the candidate set with the named payloads.
	SetCandidates []string `yaml:"set_candidates,omitempty"`

	// Push submits an item directly to a surface, bypassing guards.
	Push *ItemRef `yaml:"push,omitempty"`

	// Remove removes every item with the payload id.
	Remove string `yaml:"remove,omitempty"`

	MarkShown     *ItemRef     `yaml:"mark_shown,omitempty"`
	MarkDismissed *ItemRef     `yaml:"mark_dismissed,omitempty"`
	MarkConverted *ConvertStep `yaml:"mark_converted,omitempty"`

	// Advance moves the deterministic clock forward by a duration.
	Advance string `yaml:"advance,omitempty"`
}

// ItemRef names a scheduled item by payload id and surface. The variant
// is resolved from the payload's option for that surface.
type ItemRef struct {
	ID      string `yaml:"id"`
	Surface string `yaml:"surface"`
}

// ConvertStep is an ItemRef plus optional conversion metadata.
type ConvertStep struct {
	ID      string         `yaml:"id"`
	Surface string         `yaml:"surface"`
	Meta    map[string]any `yaml:"meta,omitempty"`
}

// Expect validates the final engine state and the recorded trace.
type Expect struct {
	// Surfaces maps surface names to their expected slot contents.
	Surfaces map[string]SlotExpect `yaml:"surfaces,omitempty"`

	// Shown maps payload ids to the expected number of shown events in
	// the trace.
	Shown map[string]int `yaml:"shown,omitempty"`

	// Transitions is the expected number of transition events.
	Transitions *int `yaml:"transitions,omitempty"`
}

// SlotExpect describes one surface slot. An empty Active means the slot
// must have no active item; Queue is matched in order by payload id.
type SlotExpect struct {
	Active string   `yaml:"active,omitempty"`
	Queue  []string `yaml:"queue,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. Unknown fields
// are rejected so typos fail loudly instead of silently validating
// nothing.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML from memory.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing scenario YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Payloads) == 0 && s.Catalog == "" {
		return fmt.Errorf("payloads or catalog is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, p := range s.Payloads {
		if p.ID == "" {
			return fmt.Errorf("payloads[%d]: id is required", i)
		}
		if len(p.Options) == 0 {
			return fmt.Errorf("payloads[%d] (%s): at least one option is required", i, p.ID)
		}
		for j, o := range p.Options {
			if o.Surface == "" {
				return fmt.Errorf("payloads[%d].options[%d]: surface is required", i, j)
			}
			if o.Cooldown != "" {
				if _, err := time.ParseDuration(o.Cooldown); err != nil {
					return fmt.Errorf("payloads[%d].options[%d]: bad cooldown %q", i, j, o.Cooldown)
				}
			}
			if o.MaxImpressions < 0 {
				return fmt.Errorf("payloads[%d].options[%d]: max_impressions must not be negative", i, j)
			}
		}
	}

	for i := range s.Steps {
		if err := validateStep(i, &s.Steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	n := 0
	if st.SetCandidates != nil {
		n++
	}
	if st.Push != nil {
		n++
	}
	if st.Remove != "" {
		n++
	}
	if st.MarkShown != nil {
		n++
	}
	if st.MarkDismissed != nil {
		n++
	}
	if st.MarkConverted != nil {
		n++
	}
	if st.Advance != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("steps[%d]: exactly one operation per step, got %d", index, n)
	}
	if st.Advance != "" {
		if _, err := time.ParseDuration(st.Advance); err != nil {
			return fmt.Errorf("steps[%d]: bad advance duration %q", index, st.Advance)
		}
	}
	for _, ref := range []*ItemRef{st.Push, st.MarkShown, st.MarkDismissed} {
		if ref != nil && (ref.ID == "" || ref.Surface == "") {
			return fmt.Errorf("steps[%d]: id and surface are required", index)
		}
	}
	if st.MarkConverted != nil && (st.MarkConverted.ID == "" || st.MarkConverted.Surface == "") {
		return fmt.Errorf("steps[%d]: id and surface are required", index)
	}
	return nil
}

// payload converts a PayloadDef to the engine's data model. Cooldowns
// were validated during parsing.
func (p PayloadDef) payload() item.Payload {
	out := item.Payload{ID: p.ID, Priority: p.Priority, Meta: p.Meta}
	for _, o := range p.Options {
		variant := o.Variant
		if variant == "" {
			variant = "default"
		}
		var cd time.Duration
		if o.Cooldown != "" {
			cd, _ = time.ParseDuration(o.Cooldown)
		}
		out.Options = append(out.Options, item.Option{
			Surface:        item.Surface(o.Surface),
			Variant:        variant,
			Stage:          o.Stage,
			MaxImpressions: o.MaxImpressions,
			Cooldown:       cd,
			Dismissible:    o.Dismissible,
			AlwaysOn:       o.AlwaysOn,
		})
	}
	return out
}
