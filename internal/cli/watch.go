package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/positions/internal/notify"
	"github.com/roach88/positions/internal/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	URL          string
	SyncEvery    time.Duration
	PollInterval time.Duration
}

// WatchResult summarizes a watch session when it stops.
type WatchResult struct {
	Merged int         `json:"merged"`
	Token  store.Token `json:"token"`
	Total  int         `json:"total"`
}

func (r WatchResult) renderText(w io.Writer, _ bool) error {
	fmt.Fprintf(w, "Merged %d transactions, cursor at %d, %d positions\n", r.Merged, r.Token, r.Total)
	return nil
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the read replica merged with every commit",
		Long: `Keep the read replica in step with the store until interrupted.

Commits from this process are merged as soon as they land. Commits from
other processes are detected by polling the database, and through an MQTT
topic when mqtt.enabled is set. With --sync-every the feed is also fetched
periodically.

Examples:
  positions watch
  positions watch --sync-every 5m
  positions watch --config positions.yaml -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.URL, "url", "", "feed URL (overrides config)")
	cmd.Flags().DurationVar(&opts.SyncEvery, "sync-every", 0, "fetch the feed at this interval (0 = never)")
	cmd.Flags().DurationVar(&opts.PollInterval, "poll-interval", 0, "database poll interval (overrides config)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	if opts.SyncEvery < 0 || opts.PollInterval < 0 {
		return NewExitError(ExitCommandError, "intervals must not be negative")
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	sess, err := openSession(opts.RootOptions, opts.URL)
	if err != nil {
		return err
	}
	defer sess.Close()

	pollInterval := sess.cfg.History.PollInterval
	if opts.PollInterval > 0 {
		pollInterval = opts.PollInterval
	}

	var bridge *notify.MQTTBridge
	if mq := sess.cfg.MQTT; mq.Enabled {
		bridge, err = notify.NewMQTTBridge(ctx, notify.MQTTOptions{
			BrokerURL: mq.Broker,
			ClientID:  mq.ClientID,
			Topic:     mq.Topic,
			QoS:       byte(mq.QoS),
		}, sess.notifier)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("watch stopped before the MQTT broker answered", "broker", mq.Broker)
				return nil
			}
			return WrapExitError(ExitCommandError, "failed to connect MQTT broker", err)
		}
	}

	// Subscribe and prime the watcher before the tracker's catch-up merge so
	// no commit falls between the two.
	sub := sess.notifier.Subscribe()
	defer sub.Close()
	watcher := notify.NewWatcher(sess.store, sess.notifier, pollInterval)
	if err := watcher.Prime(ctx); err != nil {
		slog.Warn("initial data_version poll failed", "error", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.tracker.Run(gctx, sub)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	if bridge != nil {
		g.Go(func() error {
			return bridge.Run(gctx)
		})
	}
	if opts.SyncEvery > 0 {
		g.Go(func() error {
			return syncPeriodically(gctx, sess, opts.SyncEvery)
		})
	}

	slog.Info("watching", "db", sess.cfg.Database.Path, "poll_interval", pollInterval,
		"mqtt", bridge != nil, "cursor", sess.tracker.Cursor())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "watch failed", err)
	}
	slog.Info("watch stopped gracefully")

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), Verbose: opts.Verbose}
	return formatter.Success(WatchResult{
		Merged: int(sess.merged.Load()),
		Token:  sess.tracker.Cursor(),
		Total:  len(sess.coordinator.Positions(store.Query{})),
	})
}

// syncPeriodically uploads the feed every interval. Failures are logged and
// retried on the next tick.
func syncPeriodically(ctx context.Context, sess *session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if err := sess.coordinator.UploadPositions(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("periodic sync failed", "error", err)
		}
	}
}
