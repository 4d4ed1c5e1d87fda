package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
)

// Delete modes reported in DeleteResult.
const (
	deleteModeBestEffort = "best-effort"
	deleteModeAtomic     = "atomic"
	deleteModeAll        = "all"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	IDs    []string
	Codes  []string
	All    bool
	Atomic bool
}

// DeleteResult is the outcome of a delete.
type DeleteResult struct {
	Mode      string   `json:"mode"`
	Requested int      `json:"requested"`
	Deleted   int      `json:"deleted"`
	NotFound  []string `json:"not_found"`
	Remaining int      `json:"remaining"`
}

func (r DeleteResult) renderText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Deleted %d positions (%s), %d remaining\n", r.Deleted, r.Mode, r.Remaining)
	if len(r.NotFound) > 0 {
		fmt.Fprintf(w, "Not found: %s\n", strings.Join(r.NotFound, ", "))
	}
	return nil
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete stored positions",
		Long: `Delete positions by id, by code, or all of them.

By default each position is deleted on its own and a failure only skips that
position. With --atomic the selected positions are deleted together or not
at all. --all is always atomic.

Examples:
  positions delete --id 0192f6c4-... --id 0192f6c4-...
  positions delete --code 70643082 --atomic
  positions delete --all`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.IDs, "id", nil, "record id to delete (repeatable)")
	cmd.Flags().StringSliceVar(&opts.Codes, "code", nil, "feed code to delete (repeatable)")
	cmd.Flags().BoolVar(&opts.All, "all", false, "delete every position")
	cmd.Flags().BoolVar(&opts.Atomic, "atomic", false, "delete the selection as one unit")
	cmd.MarkFlagsMutuallyExclusive("id", "code", "all")
	cmd.MarkFlagsOneRequired("id", "code", "all")

	return cmd
}

func runDelete(cmd *cobra.Command, opts *DeleteOptions) error {
	ctx := cmd.Context()

	sess, err := openSession(opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer sess.Close()

	before, err := sess.countRecords(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count positions", err)
	}

	result := DeleteResult{NotFound: []string{}}
	switch {
	case opts.All:
		result.Mode = deleteModeAll
		result.Requested = before
		if err := sess.coordinator.DeleteAllPositions(ctx); err != nil {
			return WrapExitError(ExitFailure, "delete failed", err)
		}

	default:
		records, notFound := selectRecords(sess.store.ReadContext(), opts)
		result.Requested = len(records) + len(notFound)
		result.NotFound = notFound

		if opts.Atomic {
			result.Mode = deleteModeAtomic
			if err := sess.coordinator.DeletePositions(ctx, records); err != nil {
				return WrapExitError(ExitFailure, "delete failed", err)
			}
		} else {
			result.Mode = deleteModeBestEffort
			ids := make([]position.RecordID, len(records))
			for i, r := range records {
				ids[i] = r.ID
			}
			select {
			case <-sess.coordinator.DeletePositionsByID(ctx, ids):
			case <-ctx.Done():
				return WrapExitError(ExitFailure, "delete interrupted", ctx.Err())
			}
		}
	}

	if err := sess.merge(ctx); err != nil {
		return WrapExitError(ExitFailure, "merge failed", err)
	}

	after, err := sess.countRecords(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count positions", err)
	}
	result.Deleted = before - after
	result.Remaining = after

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(result)
}

// selectRecords resolves --id or --code against the read context. Unknown
// selectors are returned separately, in flag order.
func selectRecords(rc *store.ReadContext, opts *DeleteOptions) ([]position.Record, []string) {
	records := []position.Record{}
	notFound := []string{}

	if len(opts.IDs) > 0 {
		for _, id := range opts.IDs {
			r, ok := rc.Get(position.RecordID(id))
			if !ok {
				notFound = append(notFound, id)
				continue
			}
			records = append(records, r)
		}
		return records, notFound
	}

	byCode := map[string]position.Record{}
	for _, r := range rc.Fetch(store.Query{}) {
		byCode[r.Code] = r
	}
	for _, code := range opts.Codes {
		r, ok := byCode[code]
		if !ok {
			notFound = append(notFound, code)
			continue
		}
		records = append(records, r)
	}
	return records, notFound
}
