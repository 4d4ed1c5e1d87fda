package store

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/positions/internal/position"
)

// ReadContextName is recorded on change-log transactions committed by
// ReadContext.Save.
const ReadContextName = "Read Context"

// MergePolicy decides what happens when a merged change touches a record
// that has a pending, unsaved local edit in the ReadContext.
type MergePolicy int

const (
	// MergeIncomingWins discards the local edit and applies the change.
	MergeIncomingWins MergePolicy = iota

	// MergeLocalWins applies the change underneath but keeps the local edit
	// visible until it is saved or rolled back.
	MergeLocalWins
)

// String returns the policy's configuration name.
func (p MergePolicy) String() string {
	switch p {
	case MergeIncomingWins:
		return "incoming-wins"
	case MergeLocalWins:
		return "local-wins"
	default:
		return fmt.Sprintf("MergePolicy(%d)", int(p))
	}
}

// ParseMergePolicy parses a policy's configuration name.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch s {
	case "", "incoming-wins":
		return MergeIncomingWins, nil
	case "local-wins":
		return MergeLocalWins, nil
	default:
		return 0, fmt.Errorf("unknown merge policy %q", s)
	}
}

// Query selects records from the ReadContext.
type Query struct {
	// Search filters by case-insensitive substring of the canonical place.
	// Empty matches everything.
	Search string

	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// ReadContext is the shared, read-optimized replica of the store.
//
// It is loaded from committed rows when the store opens and afterwards
// changes only through Merge (history written by any context) and through
// its own pending local deletions. Reads are safe from any goroutine.
// Mutating jobs run on the context's queue via Perform / PerformAsync.
type ReadContext struct {
	store  *Store
	queue  *jobQueue
	logger *slog.Logger

	mu      sync.RWMutex
	records map[position.RecordID]position.Record
	pending map[position.RecordID]struct{} // marked deleted, not yet saved
}

func newReadContext(s *Store, records []position.Record) *ReadContext {
	rc := &ReadContext{
		store:   s,
		queue:   newJobQueue(),
		logger:  s.logger.With("context", ReadContextName),
		records: make(map[position.RecordID]position.Record, len(records)),
		pending: map[position.RecordID]struct{}{},
	}
	for _, r := range records {
		rc.records[r.ID] = r
	}
	return rc
}

func (rc *ReadContext) close() {
	rc.queue.Close()
}

// Perform runs fn on the context's queue and waits for it.
// fn must not call Perform itself.
func (rc *ReadContext) Perform(ctx context.Context, fn func() error) error {
	return rc.queue.perform(ctx, fn)
}

// PerformAsync queues fn and returns immediately.
// Returns false if the store is closed.
func (rc *ReadContext) PerformAsync(fn func()) bool {
	return rc.queue.performAsync(fn)
}

// Fetch returns the visible records matching q, newest first.
// Ties are broken by code and then id so the order is total.
func (rc *ReadContext) Fetch(q Query) []position.Record {
	rc.mu.RLock()
	out := make([]position.Record, 0, len(rc.records))
	for id, r := range rc.records {
		if _, deleted := rc.pending[id]; deleted {
			continue
		}
		if !position.PlaceMatches(r.CanonicalPlace, q.Search) {
			continue
		}
		out = append(out, r)
	}
	rc.mu.RUnlock()

	sortRecords(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Get returns a visible record by id.
func (rc *ReadContext) Get(id position.RecordID) (position.Record, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if _, deleted := rc.pending[id]; deleted {
		return position.Record{}, false
	}
	r, ok := rc.records[id]
	return r, ok
}

// Len returns the number of visible records.
func (rc *ReadContext) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	n := 0
	for id := range rc.records {
		if _, deleted := rc.pending[id]; !deleted {
			n++
		}
	}
	return n
}

// HasChanges reports whether there are unsaved local edits.
func (rc *ReadContext) HasChanges() bool {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.pending) > 0
}

// MarkDeleted hides a record locally until Save or Rollback.
// Returns false if the record is not visible.
func (rc *ReadContext) MarkDeleted(id position.RecordID) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if _, ok := rc.records[id]; !ok {
		return false
	}
	if _, deleted := rc.pending[id]; deleted {
		return false
	}
	rc.pending[id] = struct{}{}
	return true
}

// Rollback discards unsaved local edits.
func (rc *ReadContext) Rollback() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	clear(rc.pending)
}

// Save commits pending deletions to the store as one change-log
// transaction. On failure the edits stay pending.
func (rc *ReadContext) Save(ctx context.Context) error {
	rc.mu.RLock()
	ids := make([]position.RecordID, 0, len(rc.pending))
	for id := range rc.pending {
		ids = append(ids, id)
	}
	rc.mu.RUnlock()

	if len(ids) == 0 {
		return nil
	}
	slices.Sort(ids)

	token, err := rc.store.commit(ctx, ReadContextName, func(tx *sql.Tx) ([]Change, error) {
		return deleteRecords(ctx, tx, ids)
	})
	if err != nil {
		return fmt.Errorf("save read context: %w", err)
	}

	rc.mu.Lock()
	for _, id := range ids {
		delete(rc.records, id)
		delete(rc.pending, id)
	}
	rc.mu.Unlock()

	rc.logger.Debug("saved local deletions", "ids", len(ids), "token", token)
	return nil
}

// Merge applies one change-log transaction to the replica, on the context's
// queue. Every change is decoded before any is applied, so a transaction is
// merged entirely or not at all. Applying the same transaction twice leaves
// the replica unchanged: inserts upsert by id and deleting a missing id is a
// no-op.
func (rc *ReadContext) Merge(ctx context.Context, txn Transaction) error {
	type decoded struct {
		op     ChangeOp
		id     position.RecordID
		record position.Record
	}

	ops := make([]decoded, 0, len(txn.Changes))
	for i, c := range txn.Changes {
		switch c.Op {
		case OpInsert:
			r, err := c.Record()
			if err != nil {
				return fmt.Errorf("merge transaction %d: change %d: %w", txn.Token, i, err)
			}
			ops = append(ops, decoded{op: OpInsert, id: c.RecordID, record: r})
		case OpDelete:
			ops = append(ops, decoded{op: OpDelete, id: c.RecordID})
		default:
			return fmt.Errorf("merge transaction %d: change %d: unknown op %q", txn.Token, i, c.Op)
		}
	}

	policy := rc.store.policy
	return rc.Perform(ctx, func() error {
		rc.mu.Lock()
		defer rc.mu.Unlock()

		for _, op := range ops {
			if _, local := rc.pending[op.id]; local && policy == MergeIncomingWins {
				delete(rc.pending, op.id)
				rc.logger.Debug("discarded local edit", "id", op.id, "token", txn.Token)
			}
			switch op.op {
			case OpInsert:
				rc.records[op.id] = op.record
			case OpDelete:
				delete(rc.records, op.id)
				delete(rc.pending, op.id)
			}
		}
		return nil
	})
}

// ListRecords reads every durable record directly from the database, newest
// first. It bypasses the ReadContext.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ListRecords(ctx context.Context) ([]position.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, magnitude, place, canonical_place, occurred_at
		FROM positions
		ORDER BY occurred_at DESC, code COLLATE BINARY ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	records := []position.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// CountRecords returns the number of durable records.
func (s *Store) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

func scanRecord(rows *sql.Rows) (position.Record, error) {
	var (
		r          position.Record
		id         string
		magnitude  float64
		occurredAt int64
	)
	if err := rows.Scan(&id, &r.Code, &magnitude, &r.Place, &r.CanonicalPlace, &occurredAt); err != nil {
		return position.Record{}, fmt.Errorf("scan record: %w", err)
	}
	r.ID = position.RecordID(id)
	r.Magnitude = float32(magnitude)
	r.OccurredAt = fromMicros(occurredAt)
	return r, nil
}

// sortRecords orders records newest first, then by code, then by id.
func sortRecords(records []position.Record) {
	slices.SortFunc(records, func(a, b position.Record) int {
		if c := b.OccurredAt.Compare(a.OccurredAt); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Code, b.Code); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
