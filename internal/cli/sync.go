package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/positions/internal/store"
)

// SyncOptions holds flags for the sync command.
type SyncOptions struct {
	*RootOptions
	URL string
}

// SyncResult is the outcome of one sync.
type SyncResult struct {
	Imported int         `json:"imported"` // records new to the store
	Merged   int         `json:"merged"`   // change-history transactions merged
	Token    store.Token `json:"token"`    // change-history cursor after merging
	Total    int         `json:"total"`    // records visible after merging
}

func (r SyncResult) renderText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Imported %d new positions (%d total)\n", r.Imported, r.Total)
	if verbose {
		fmt.Fprintf(w, "Merged %d transactions, cursor at %d\n", r.Merged, r.Token)
	}
	return nil
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Fetch the feed and import new positions",
		Long: `Fetch the remote feed, import every valid entry whose code is not
already stored as one atomic batch, and merge the resulting change history
into the read replica.

Examples:
  positions sync
  positions sync --url http://localhost:8080/all_month.geojson
  positions sync --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "feed URL (overrides config)")

	return cmd
}

func runSync(cmd *cobra.Command, opts *SyncOptions) error {
	ctx := cmd.Context()

	sess, err := openSession(opts.RootOptions, opts.URL)
	if err != nil {
		return err
	}
	defer sess.Close()

	before, err := sess.countRecords(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count positions", err)
	}

	if err := sess.coordinator.UploadPositions(ctx); err != nil {
		return WrapExitError(ExitFailure, "sync failed", err)
	}

	if err := sess.merge(ctx); err != nil {
		return WrapExitError(ExitFailure, "merge failed", err)
	}

	after, err := sess.countRecords(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to count positions", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(SyncResult{
		Imported: after - before,
		Merged:   int(sess.merged.Load()),
		Token:    sess.tracker.Cursor(),
		Total:    len(sess.coordinator.Positions(store.Query{})),
	})
}
