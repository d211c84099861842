package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/presentum/presentum/internal/catalog"
)

// ValidationIssue is one catalog problem, with its position when known.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult is the validate command's output.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Payloads int               `json:"payloads"`
	Issues   []ValidationIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	collectAll := false

	cmd := &cobra.Command{
		Use:   "validate <catalog-dir>",
		Short: "Validate a CUE payload catalog",
		Long: `Validate the CUE payload catalog in a directory.

Checks that every payload declares at least one option and that variants,
impression caps, and cooldowns are well formed. Reports errors with
source positions.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := catalog.LoadModeFailFast
			if collectAll {
				mode = catalog.LoadModeCollectAll
			}
			return runValidate(rootOpts, args[0], mode, cmd)
		},
	}

	cmd.Flags().BoolVar(&collectAll, "all", false, "report every error instead of stopping at the first")
	return cmd
}

func runValidate(opts *RootOptions, dir string, mode catalog.LoadMode, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	result, errs := catalog.Load(dir, mode)

	if result == nil && len(errs) > 0 {
		var loadErr *catalog.LoadError
		if errors.As(errs[0], &loadErr) {
			_ = formatter.Error(loadErr.Code, loadErr.Message, nil)
			return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", loadErr.Code, loadErr.Message))
		}
		_ = formatter.Error(catalog.ErrCodeGeneric, errs[0].Error(), nil)
		return NewExitError(ExitCommandError, errs[0].Error())
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", result.FileCount, dir)

	issues := make([]ValidationIssue, 0, len(errs))
	for _, err := range errs {
		issues = append(issues, toIssue(err))
	}

	out := ValidationResult{
		Valid:    len(issues) == 0,
		Payloads: len(result.Payloads),
		Issues:   issues,
	}

	if out.Valid {
		if formatter.Format == "json" {
			return formatter.Success(out)
		}
		fmt.Fprintf(formatter.Writer, "✓ Catalog valid: %d payload(s)\n", out.Payloads)
		return nil
	}

	if formatter.Format == "json" {
		_ = formatter.Error(issues[0].Code, issues[0].Message, out)
	} else {
		fmt.Fprintln(formatter.Writer, "✗ Validation failed")
		fmt.Fprintln(formatter.Writer)
		for _, is := range issues {
			if is.Line > 0 {
				fmt.Fprintf(formatter.Writer, "%s:%d\n", is.File, is.Line)
			}
			fmt.Fprintf(formatter.Writer, "  %s: %s\n\n", is.Code, is.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))
}

func toIssue(err error) ValidationIssue {
	var loadErr *catalog.LoadError
	if errors.As(err, &loadErr) {
		issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.File = loadErr.Pos.Filename()
			issue.Line = loadErr.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: catalog.ErrCodeGeneric, Message: err.Error()}
}
