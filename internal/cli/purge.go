package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/positions/internal/store"
)

// PurgeOptions holds flags for the purge command.
type PurgeOptions struct {
	*RootOptions
	Through int64
}

// PurgeResult is the outcome of a purge.
type PurgeResult struct {
	Through store.Token `json:"through"`
	Purged  int64       `json:"purged"`
}

func (r PurgeResult) renderText(w io.Writer, _ bool) error {
	fmt.Fprintf(w, "Purged %d transactions through token %d\n", r.Purged, r.Through)
	return nil
}

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PurgeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop change history every replica has merged",
		Long: `Delete change-history transactions up to and including a token.

Only purge history that every running watcher has already merged: a replica
whose cursor is behind the purged token never sees those changes. Without
--through everything up to the newest token is purged.

Examples:
  positions purge
  positions purge --through 40`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPurge(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.Through, "through", 0, "purge transactions up to this token (0 = newest)")

	return cmd
}

func runPurge(cmd *cobra.Command, opts *PurgeOptions) error {
	ctx := cmd.Context()
	if opts.Through < 0 {
		return NewExitError(ExitCommandError, "--through must not be negative")
	}

	sess, err := openSession(opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer sess.Close()

	through := store.Token(opts.Through)
	if through == 0 {
		through = sess.tracker.Cursor()
	}

	n, err := sess.store.PurgeHistory(ctx, through)
	if err != nil {
		return WrapExitError(ExitFailure, "purge failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(PurgeResult{Through: through, Purged: n})
}
