// Package catalog compiles CUE payload catalogs into the engine's data
// model. A catalog declares payloads, their scheduling priority, and the
// per-surface presentation options; the compiler validates the
// declarations and reports errors with source positions.
package catalog

import (
	"fmt"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/presentum/presentum/internal/item"
)

// CompilePayload parses a CUE value into a Payload. The payload id is
// taken from the struct label:
//
//	payload: welcome: {
//		priority: 10
//		option: banner: { variant: "hero", max_impressions: 3 }
//	}
func CompilePayload(v cue.Value) (*item.Payload, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &item.Payload{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		p.ID = labels[len(labels)-1].String()
	}
	if p.ID == "" {
		return nil, &CompileError{
			Field:   "payload",
			Message: "payload id label is required",
			Pos:     v.Pos(),
		}
	}

	priorityVal := v.LookupPath(cue.ParsePath("priority"))
	if priorityVal.Exists() {
		priority, err := priorityVal.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		p.Priority = int(priority)
	}

	meta, err := parseMeta(v)
	if err != nil {
		return nil, err
	}
	p.Meta = meta

	p.Options, err = parseOptions(v)
	if err != nil {
		return nil, err
	}
	if len(p.Options) == 0 {
		return nil, &CompileError{
			Field:   "option",
			Message: "at least one option is required",
			Pos:     v.Pos(),
		}
	}

	return p, nil
}

// parseMeta extracts the optional metadata map. Values are restricted to
// strings, ints, and bools so the map round-trips through storage.
func parseMeta(v cue.Value) (map[string]any, error) {
	metaVal := v.LookupPath(cue.ParsePath("meta"))
	if !metaVal.Exists() {
		return nil, nil
	}

	iter, err := metaVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	meta := make(map[string]any)
	for iter.Next() {
		val, err := extractMetaValue(iter.Value())
		if err != nil {
			return nil, err
		}
		meta[iter.Label()] = val
	}
	return meta, nil
}

func extractMetaValue(v cue.Value) (any, error) {
	switch v.Kind() {
	case cue.StringKind:
		return v.String()
	case cue.IntKind:
		i, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return int(i), nil
	case cue.BoolKind:
		return v.Bool()
	default:
		return nil, &CompileError{
			Field:   "meta",
			Message: fmt.Sprintf("unsupported meta value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// parseOptions extracts the per-surface options, keyed by surface label.
func parseOptions(v cue.Value) ([]item.Option, error) {
	optionVal := v.LookupPath(cue.ParsePath("option"))
	if !optionVal.Exists() {
		return nil, nil
	}

	iter, err := optionVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var options []item.Option
	for iter.Next() {
		opt, err := parseOption(item.Surface(iter.Label()), iter.Value())
		if err != nil {
			return nil, err
		}
		options = append(options, opt)
	}
	return options, nil
}

func parseOption(surface item.Surface, v cue.Value) (item.Option, error) {
	opt := item.Option{Surface: surface, Variant: "default"}

	variantVal := v.LookupPath(cue.ParsePath("variant"))
	if variantVal.Exists() {
		variant, err := variantVal.String()
		if err != nil {
			return opt, formatCUEError(err)
		}
		if variant == "" {
			return opt, &CompileError{
				Field:   "variant",
				Message: "variant must be non-empty",
				Pos:     variantVal.Pos(),
			}
		}
		opt.Variant = variant
	}

	stageVal := v.LookupPath(cue.ParsePath("stage"))
	if stageVal.Exists() {
		stage, err := stageVal.Int64()
		if err != nil {
			return opt, formatCUEError(err)
		}
		opt.Stage = int(stage)
	}

	maxVal := v.LookupPath(cue.ParsePath("max_impressions"))
	if maxVal.Exists() {
		maxImpressions, err := maxVal.Int64()
		if err != nil {
			return opt, formatCUEError(err)
		}
		if maxImpressions < 0 {
			return opt, &CompileError{
				Field:   "max_impressions",
				Message: "max_impressions must not be negative",
				Pos:     maxVal.Pos(),
			}
		}
		opt.MaxImpressions = int(maxImpressions)
	}

	cooldownVal := v.LookupPath(cue.ParsePath("cooldown"))
	if cooldownVal.Exists() {
		raw, err := cooldownVal.String()
		if err != nil {
			return opt, formatCUEError(err)
		}
		cd, err := time.ParseDuration(raw)
		if err != nil || cd < 0 {
			return opt, &CompileError{
				Field:   "cooldown",
				Message: fmt.Sprintf("cooldown must be a non-negative duration, got %q", raw),
				Pos:     cooldownVal.Pos(),
			}
		}
		opt.Cooldown = cd
	}

	dismissibleVal := v.LookupPath(cue.ParsePath("dismissible"))
	if dismissibleVal.Exists() {
		dismissible, err := dismissibleVal.Bool()
		if err != nil {
			return opt, formatCUEError(err)
		}
		opt.Dismissible = dismissible
	}

	alwaysOnVal := v.LookupPath(cue.ParsePath("always_on"))
	if alwaysOnVal.Exists() {
		alwaysOn, err := alwaysOnVal.Bool()
		if err != nil {
			return opt, formatCUEError(err)
		}
		opt.AlwaysOn = alwaysOn
	}

	return opt, nil
}

// CompileError represents a catalog error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
