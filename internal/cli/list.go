package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Search string
	Limit  int
}

// PositionView is the displayed form of a record.
type PositionView struct {
	ID        string  `json:"id"`
	Code      string  `json:"code"`
	Magnitude float32 `json:"magnitude"`
	Place     string  `json:"place"`
	Time      string  `json:"time"`
}

// ListResult is the list command's output.
type ListResult struct {
	Count     int            `json:"count"`
	Positions []PositionView `json:"positions"`
}

func (r ListResult) renderText(w io.Writer, verbose bool) error {
	if r.Count == 0 {
		fmt.Fprintln(w, "No positions.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if verbose {
		fmt.Fprintln(tw, "TIME\tMAG\tCODE\tID\tPLACE")
	} else {
		fmt.Fprintln(tw, "TIME\tMAG\tCODE\tPLACE")
	}
	for _, p := range r.Positions {
		if verbose {
			fmt.Fprintf(tw, "%s\t%.1f\t%s\t%s\t%s\n", p.Time, p.Magnitude, p.Code, p.ID, p.Place)
		} else {
			fmt.Fprintf(tw, "%s\t%.1f\t%s\t%s\n", p.Time, p.Magnitude, p.Code, p.Place)
		}
	}
	return tw.Flush()
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored positions, newest first",
		Long: `List the positions in the read replica, newest first.

--search keeps positions whose place contains the text, ignoring case.

Examples:
  positions list
  positions list --search hawaii --limit 10
  positions list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Search, "search", "", "case-insensitive place substring")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum positions to list (0 = all)")

	return cmd
}

func runList(cmd *cobra.Command, opts *ListOptions) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}

	sess, err := openSession(opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer sess.Close()

	records := sess.coordinator.Positions(store.Query{Search: opts.Search, Limit: opts.Limit})

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(newListResult(records))
}

func newListResult(records []position.Record) ListResult {
	views := make([]PositionView, len(records))
	for i, r := range records {
		views[i] = viewOf(r)
	}
	return ListResult{Count: len(views), Positions: views}
}

func viewOf(r position.Record) PositionView {
	return PositionView{
		ID:        string(r.ID),
		Code:      r.Code,
		Magnitude: r.Magnitude,
		Place:     r.Place,
		Time:      r.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
}
