package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/presentum/presentum/internal/diff"
)

// EditOp is one operation of the computed edit script.
type EditOp struct {
	Op    string `json:"op"` // "insert", "remove", "move"
	Pos   int    `json:"pos,omitempty"`
	Count int    `json:"count,omitempty"`
	From  int    `json:"from,omitempty"`
	To    int    `json:"to,omitempty"`
}

// DiffResult is the diff command's output.
type DiffResult struct {
	OldCount int      `json:"old_count"`
	NewCount int      `json:"new_count"`
	Ops      []EditOp `json:"ops"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	detectMoves := false

	cmd := &cobra.Command{
		Use:   "diff <old.yaml> <new.yaml>",
		Short: "Compute the edit script between two candidate id lists",
		Long: `Compute the minimal edit script relating two YAML lists of payload ids.

Each input file holds a YAML sequence of ids. Replaying the printed
operations against the old list reproduces the new list exactly.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(rootOpts, args[0], args[1], detectMoves, cmd)
		},
	}

	cmd.Flags().BoolVar(&detectMoves, "moves", false, "report relocations as moves instead of remove/insert pairs")
	return cmd
}

func runDiff(opts *RootOptions, oldPath, newPath string, detectMoves bool, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	oldIDs, err := loadIDList(oldPath)
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}
	newIDs, err := loadIDList(newPath)
	if err != nil {
		_ = formatter.Error("E005", err.Error(), nil)
		return NewExitError(ExitCommandError, err.Error())
	}

	formatter.VerboseLog("diffing %d -> %d ids (moves=%v)", len(oldIDs), len(newIDs), detectMoves)

	rec := &opRecorder{}
	diff.Slices(oldIDs, newIDs,
		func(id string) string { return id },
		func(a, b string) bool { return a == b },
		detectMoves,
	).DispatchTo(rec)

	result := DiffResult{OldCount: len(oldIDs), NewCount: len(newIDs), Ops: rec.ops}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	if len(result.Ops) == 0 {
		fmt.Fprintln(formatter.Writer, "lists are identical")
		return nil
	}
	for _, op := range result.Ops {
		switch op.Op {
		case "insert":
			fmt.Fprintf(formatter.Writer, "insert %d at %d\n", op.Count, op.Pos)
		case "remove":
			fmt.Fprintf(formatter.Writer, "remove %d at %d\n", op.Count, op.Pos)
		case "move":
			fmt.Fprintf(formatter.Writer, "move %d -> %d\n", op.From, op.To)
		}
	}
	return nil
}

// loadIDList reads a YAML sequence of payload ids.
func loadIDList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading id list: %w", err)
	}
	var ids []string
	if err := yaml.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("parsing id list %s: %w", path, err)
	}
	return ids, nil
}

// opRecorder collects edit operations. Identity lists have no content
// changes, so Changed never fires.
type opRecorder struct {
	ops []EditOp
}

func (r *opRecorder) Inserted(pos, count int) {
	r.ops = append(r.ops, EditOp{Op: "insert", Pos: pos, Count: count})
}

func (r *opRecorder) Removed(pos, count int) {
	r.ops = append(r.ops, EditOp{Op: "remove", Pos: pos, Count: count})
}

func (r *opRecorder) Moved(from, to int) {
	r.ops = append(r.ops, EditOp{Op: "move", From: from, To: to})
}

func (r *opRecorder) Changed(pos, count int, payload any) {
	r.ops = append(r.ops, EditOp{Op: "change", Pos: pos, Count: count})
}
