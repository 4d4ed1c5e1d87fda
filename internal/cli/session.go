package cli

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/roach88/positions/internal/batch"
	"github.com/roach88/positions/internal/config"
	"github.com/roach88/positions/internal/feed"
	"github.com/roach88/positions/internal/history"
	"github.com/roach88/positions/internal/notify"
	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
	"github.com/roach88/positions/internal/usecase"
)

// session is everything one command invocation works with: the open store,
// the commit notifier it reports to, a tracker merging its history and the
// coordinator over both.
type session struct {
	cfg         config.Config
	store       *store.Store
	notifier    *notify.Notifier
	tracker     *history.Tracker
	coordinator *usecase.Coordinator

	merged atomic.Int64 // transactions merged by this session
}

// openSession opens the configured store. feedURL overrides feed.url when
// non-empty.
func openSession(opts *RootOptions, feedURL string) (*session, error) {
	cfg := opts.config
	if feedURL != "" {
		cfg.Feed.URL = feedURL
	}

	notifier := notify.New()
	storeOpts := []store.Option{
		store.WithAuthor(cfg.Database.Author),
		store.WithMergePolicy(cfg.MergePolicy()),
		store.WithCommitObserver(notifier),
	}
	if opts.Now != nil {
		storeOpts = append(storeOpts, store.WithNow(opts.Now))
	}

	slog.Debug("opening database", "path", cfg.Database.Path)
	s, err := store.Open(cfg.Database.Path, storeOpts...)
	if err != nil {
		notifier.Close()
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	sess := &session{
		cfg:      cfg,
		store:    s,
		notifier: notifier,
	}
	sess.tracker = history.ForStore(s,
		history.WithCursor(s.LoadedThrough()),
		history.WithBatchSize(cfg.History.BatchSize),
		history.WithMergeObserver(sess.observeMerge),
	)

	source := feed.NewSource(cfg.Feed.URL, feed.WithHTTPClient(&http.Client{Timeout: cfg.Feed.Timeout}))
	var importerOpts []batch.ImporterOption
	if opts.IDs != nil {
		importerOpts = append(importerOpts, batch.WithIDGenerator(opts.IDs))
	}
	sess.coordinator = usecase.New(source, s, importerOpts...)

	return sess, nil
}

func (s *session) observeMerge(r history.MergeResult) {
	s.merged.Add(int64(r.Applied))
	if r.Err != nil {
		return
	}
	slog.Info("merged change history", "from", r.From, "to", r.To, "transactions", r.Applied)
}

// merge brings the read context up to date. Finding nothing new is not an
// error.
func (s *session) merge(ctx context.Context) error {
	err := s.tracker.Merge(ctx)
	if err != nil && !position.IsNoNewHistory(err) {
		return err
	}
	return nil
}

// countRecords counts stored records. A store failure here has no
// domain classification, so it is reported as UNEXPECTED.
func (s *session) countRecords(ctx context.Context) (int, error) {
	n, err := s.store.CountRecords(ctx)
	if err != nil {
		return 0, position.NewUnexpectedError(err)
	}
	return n, nil
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
	s.notifier.Close()
}
