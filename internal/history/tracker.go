// Package history merges the store's change log into the shared ReadContext.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/positions/internal/notify"
	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
)

// State is the tracker's merge state.
type State int32

const (
	// Idle waits for a signal.
	Idle State = iota
	// Fetching reads new transactions after the cursor.
	Fetching
	// Merging applies fetched transactions to the read context.
	Merging
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Merging:
		return "merging"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Source is the change log the tracker reads. Implemented by *store.Store.
type Source interface {
	FetchHistory(ctx context.Context, after store.Token, limit int) ([]store.Transaction, error)
}

// Replica receives merged transactions. Implemented by *store.ReadContext.
type Replica interface {
	Merge(ctx context.Context, txn store.Transaction) error
}

// MergeResult describes one completed merge cycle.
type MergeResult struct {
	// From is the cursor before the cycle.
	From store.Token
	// To is the cursor after the cycle.
	To store.Token
	// Applied is the number of transactions merged.
	Applied int
	// Err is the failure that stopped the cycle early, if any.
	Err error
}

// Tracker holds the change-history cursor: the token of the last
// transaction merged into the replica. The cursor starts at none, only
// moves forward, and only after a transaction was applied.
type Tracker struct {
	source    Source
	replica   Replica
	batchSize int
	observer  func(MergeResult)
	logger    *slog.Logger

	mu     sync.Mutex // one merge cycle at a time
	cursor atomic.Int64
	state  atomic.Int32
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithBatchSize caps how many transactions one fetch returns.
// Zero (the default) fetches everything after the cursor.
func WithBatchSize(n int) Option {
	return func(t *Tracker) {
		t.batchSize = n
	}
}

// WithMergeObserver registers fn to be called after every cycle that
// fetched at least one transaction.
func WithMergeObserver(fn func(MergeResult)) Option {
	return func(t *Tracker) {
		t.observer = fn
	}
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithCursor starts the tracker at a known token instead of none.
func WithCursor(token store.Token) Option {
	return func(t *Tracker) {
		t.cursor.Store(int64(token))
	}
}

// NewTracker creates a tracker merging source into replica.
func NewTracker(source Source, replica Replica, opts ...Option) *Tracker {
	t := &Tracker{
		source:  source,
		replica: replica,
		logger:  slog.Default().With("component", "tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ForStore creates a tracker over a store's change log and read context.
func ForStore(s *store.Store, opts ...Option) *Tracker {
	return NewTracker(s, s.ReadContext(), opts...)
}

// Cursor returns the token of the last merged transaction.
func (t *Tracker) Cursor() store.Token {
	return store.Token(t.cursor.Load())
}

// State returns the current merge state.
func (t *Tracker) State() State {
	return State(t.state.Load())
}

// Merge runs one merge cycle: fetch every transaction after the cursor and
// apply them in token order. With a batch size set, the cycle keeps fetching
// pages until one comes back short.
//
// Returns position.ErrNoNewHistory when there was nothing to merge. When a
// transaction fails to apply, the cursor stays on the last one applied and
// the failure is returned as a HISTORY_FETCH_FAILED error; the failed
// transaction is retried by the next cycle.
func (t *Tracker) Merge(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer t.state.Store(int32(Idle))

	from := t.Cursor()
	applied := 0
	var mergeErr error
	for page := 0; ; page++ {
		t.state.Store(int32(Fetching))
		txns, err := t.source.FetchHistory(ctx, t.Cursor(), t.batchSize)
		if err != nil {
			if page == 0 {
				return position.NewHistoryFetchError(err)
			}
			mergeErr = position.NewHistoryFetchError(err)
			break
		}
		if len(txns) == 0 {
			if page == 0 {
				return position.ErrNoNewHistory
			}
			break
		}

		t.state.Store(int32(Merging))
		n, err := t.apply(ctx, txns)
		applied += n
		if err != nil {
			mergeErr = err
			break
		}
		if n == 0 || t.batchSize <= 0 || len(txns) < t.batchSize {
			break
		}
		if err := ctx.Err(); err != nil {
			mergeErr = position.NewHistoryFetchError(err)
			break
		}
	}

	result := MergeResult{From: from, To: t.Cursor(), Applied: applied, Err: mergeErr}
	if t.observer != nil {
		t.observer(result)
	}

	if mergeErr != nil {
		return mergeErr
	}
	t.logger.Debug("merged history", "from", from, "to", result.To, "transactions", applied)
	return nil
}

// apply merges one fetched page, advancing the cursor after each
// transaction. Tokens at or below the cursor are skipped.
func (t *Tracker) apply(ctx context.Context, txns []store.Transaction) (int, error) {
	applied := 0
	for _, txn := range txns {
		if txn.Token <= t.Cursor() {
			continue
		}
		if err := t.replica.Merge(ctx, txn); err != nil {
			return applied, position.NewHistoryFetchError(fmt.Errorf("merge token %d: %w", txn.Token, err))
		}
		t.cursor.Store(int64(txn.Token))
		applied++
	}
	return applied, nil
}

// Run merges once to catch up, then once per notice from sub, until ctx is
// cancelled or sub is closed. Merge failures are logged, not returned.
func (t *Tracker) Run(ctx context.Context, sub *notify.Subscription) error {
	t.mergeAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-sub.C():
			if !ok {
				return nil
			}
		}
		sub.Take()
		t.mergeAndLog(ctx)
	}
}

func (t *Tracker) mergeAndLog(ctx context.Context) {
	err := t.Merge(ctx)
	switch {
	case err == nil:
	case position.IsNoNewHistory(err):
		t.logger.Debug("no new history", "cursor", t.Cursor())
	case errors.Is(err, context.Canceled):
	default:
		t.logger.Error("history merge failed", "cursor", t.Cursor(), "error", err)
	}
}
