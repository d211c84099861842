package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/presentum/presentum/internal/harness"
)

// RunReport is the run command's output.
type RunReport struct {
	Scenario string   `json:"scenario"`
	Passed   bool     `json:"passed"`
	Events   int      `json:"events"`
	Failures []string `json:"failures,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	showTrace := false

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Execute a scenario against a fresh engine",
		Long: `Execute a YAML scenario against a real engine with in-memory storage,
a deterministic clock, and fixed transaction tokens, then report
whether its expectations held.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(rootOpts, args[0], showTrace, cmd)
		},
	}

	cmd.Flags().BoolVar(&showTrace, "trace", false, "print the canonical trace")
	return cmd
}

func runScenario(opts *RootOptions, path string, showTrace bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	formatter.VerboseLog("running scenario %s (%d steps)", scenario.Name, len(scenario.Steps))

	result, err := harness.Run(scenario)
	if err != nil {
		_ = formatter.Error("E001", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	report := RunReport{
		Scenario: result.Name,
		Passed:   result.Passed(),
		Events:   len(result.Trace),
		Failures: result.Failures,
		Errors:   result.EngineErrors(),
	}

	if formatter.Format == "json" {
		if err := formatter.Success(report); err != nil {
			return err
		}
	} else {
		if report.Passed {
			fmt.Fprintf(formatter.Writer, "✓ %s passed (%d trace events)\n", report.Scenario, report.Events)
		} else {
			fmt.Fprintf(formatter.Writer, "✗ %s failed\n", report.Scenario)
			for _, f := range report.Failures {
				fmt.Fprintf(formatter.Writer, "  expectation: %s\n", f)
			}
			for _, e := range report.Errors {
				fmt.Fprintf(formatter.Writer, "  engine: %s\n", e)
			}
		}
		if showTrace {
			encoded, err := harness.EncodeTrace(result.Name, result.Trace)
			if err != nil {
				return err
			}
			fmt.Fprintln(formatter.Writer, string(encoded))
		}
	}

	if !report.Passed {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", report.Scenario))
	}
	return nil
}
