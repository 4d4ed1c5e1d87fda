package notify

import (
	"context"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often the Watcher checks data_version.
const DefaultPollInterval = time.Second

// VersionSource reports a counter that changes when another connection
// commits. Implemented by *store.Store.
type VersionSource interface {
	DataVersion(ctx context.Context) (int64, error)
}

// Watcher polls a VersionSource and signals the Notifier when it moves.
type Watcher struct {
	source   VersionSource
	notifier *Notifier
	interval time.Duration
	logger   *slog.Logger

	last  int64
	known bool
}

// NewWatcher creates a Watcher. A non-positive interval selects
// DefaultPollInterval.
func NewWatcher(source VersionSource, notifier *Notifier, interval time.Duration) *Watcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Watcher{
		source:   source,
		notifier: notifier,
		interval: interval,
		logger:   slog.Default().With("component", "notify", "detector", "data_version"),
	}
}

// Prime records the current version, so a commit made after Prime returns
// is signalled even if it lands before Run's first tick. Call it before
// the catch-up merge.
func (w *Watcher) Prime(ctx context.Context) error {
	v, err := w.source.DataVersion(ctx)
	if err != nil {
		return err
	}
	w.last, w.known = v, true
	return nil
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick. Run primes the watcher itself if Prime was not called.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.known {
		if err := w.Prime(ctx); err != nil {
			w.logger.Warn("initial data_version poll failed", "error", err)
		}
	}
	last, known := w.last, w.known

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		v, err := w.source.DataVersion(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("data_version poll failed", "error", err)
			continue
		}
		if known && v != last {
			w.notifier.Signal("data_version")
		}
		last, known = v, true
	}
}
