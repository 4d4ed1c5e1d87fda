package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/positions/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	After int64
	Limit int
}

// ChangeView is the displayed form of a change.
type ChangeView struct {
	Op       string `json:"op"`
	RecordID string `json:"record_id"`
	Code     string `json:"code,omitempty"`
}

// TransactionView is the displayed form of a change-history transaction.
type TransactionView struct {
	Token       store.Token  `json:"token"`
	Context     string       `json:"context"`
	Author      string       `json:"author"`
	CommittedAt string       `json:"committed_at"`
	Changes     []ChangeView `json:"changes"`
}

// HistoryResult is the history command's output.
type HistoryResult struct {
	Head         store.Token       `json:"head"`
	Transactions []TransactionView `json:"transactions"`
}

func (r HistoryResult) renderText(w io.Writer, verbose bool) error {
	fmt.Fprintf(w, "Head token: %d\n", r.Head)
	if len(r.Transactions) == 0 {
		fmt.Fprintln(w, "  (no transactions)")
		return nil
	}
	for _, t := range r.Transactions {
		fmt.Fprintf(w, "[%d] %s by %s at %s: %d changes\n",
			t.Token, t.Context, t.Author, t.CommittedAt, len(t.Changes))
		if !verbose {
			continue
		}
		for _, c := range t.Changes {
			if c.Code != "" {
				fmt.Fprintf(w, "  %-6s %s (%s)\n", c.Op, c.RecordID, c.Code)
			} else {
				fmt.Fprintf(w, "  %-6s %s\n", c.Op, c.RecordID)
			}
		}
	}
	return nil
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the store's change history",
		Long: `Show change-history transactions committed after a token, oldest first.

Examples:
  positions history
  positions history --after 12 --limit 5 -v
  positions history --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().Int64Var(&opts.After, "after", 0, "show transactions after this token")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum transactions to show (0 = all)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	ctx := cmd.Context()
	if opts.After < 0 || opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--after and --limit must not be negative")
	}

	sess, err := openSession(opts.RootOptions, "")
	if err != nil {
		return err
	}
	defer sess.Close()

	txns, err := sess.store.FetchHistory(ctx, store.Token(opts.After), opts.Limit)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to fetch history", err)
	}
	head, err := sess.store.HeadToken(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to fetch history", err)
	}

	result := HistoryResult{Head: head, Transactions: make([]TransactionView, len(txns))}
	for i, t := range txns {
		result.Transactions[i] = transactionView(t)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(result)
}

func transactionView(t store.Transaction) TransactionView {
	view := TransactionView{
		Token:       t.Token,
		Context:     t.ContextName,
		Author:      t.Author,
		CommittedAt: t.CommittedAt.UTC().Format(time.RFC3339Nano),
		Changes:     make([]ChangeView, len(t.Changes)),
	}
	for i, c := range t.Changes {
		cv := ChangeView{Op: string(c.Op), RecordID: string(c.RecordID)}
		if c.Op == store.OpInsert {
			if r, err := c.Record(); err == nil {
				cv.Code = r.Code
			}
		}
		view.Changes[i] = cv
	}
	return view
}
