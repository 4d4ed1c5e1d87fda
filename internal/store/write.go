package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/roach88/positions/internal/position"
)

// WriteContext is an isolated unit of work over the store.
//
// Its operations run one at a time on the context's own queue; separate
// write contexts run concurrently. Nothing a WriteContext does is visible in
// the ReadContext until the resulting change-log transaction is merged.
//
// A WriteContext is cheap: create one per operation and Close it after.
type WriteContext struct {
	store  *Store
	name   string
	queue  *jobQueue
	logger *slog.Logger
}

// NewWriteContext opens a write context. name is recorded on every
// change-log transaction the context commits.
func (s *Store) NewWriteContext(name string) *WriteContext {
	return &WriteContext{
		store:  s,
		name:   name,
		queue:  newJobQueue(),
		logger: s.logger.With("context", name),
	}
}

// Close stops the context's queue after queued operations finish.
func (w *WriteContext) Close() {
	w.queue.Close()
}

// BatchInsert inserts records as one atomic unit: either every new record
// and its change-log transaction commit, or nothing does.
//
// Records whose code already exists are skipped and do not appear in the
// change log. Returns the committed token, or zero if nothing was inserted.
func (w *WriteContext) BatchInsert(ctx context.Context, records []position.Record) (Token, error) {
	var token Token
	err := w.queue.perform(ctx, func() error {
		var err error
		token, err = w.store.commit(ctx, w.name, func(tx *sql.Tx) ([]Change, error) {
			return insertRecords(ctx, tx, records)
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("batch insert: %w", err)
	}
	w.logger.Debug("batch insert committed", "records", len(records), "token", token)
	return token, nil
}

// BatchDelete deletes the identified records as one atomic unit.
// Ids that no longer exist are skipped. Returns the committed token, or zero
// if nothing was deleted.
func (w *WriteContext) BatchDelete(ctx context.Context, ids []position.RecordID) (Token, error) {
	var token Token
	err := w.queue.perform(ctx, func() error {
		var err error
		token, err = w.store.commit(ctx, w.name, func(tx *sql.Tx) ([]Change, error) {
			return deleteRecords(ctx, tx, ids)
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("batch delete: %w", err)
	}
	w.logger.Debug("batch delete committed", "ids", len(ids), "token", token)
	return token, nil
}

// DeleteAll deletes every stored record as one atomic unit.
func (w *WriteContext) DeleteAll(ctx context.Context) (Token, error) {
	var token Token
	err := w.queue.perform(ctx, func() error {
		var err error
		token, err = w.store.commit(ctx, w.name, func(tx *sql.Tx) ([]Change, error) {
			ids, err := selectIDs(ctx, tx)
			if err != nil {
				return nil, err
			}
			return deleteRecords(ctx, tx, ids)
		})
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	w.logger.Debug("delete all committed", "token", token)
	return token, nil
}

// commit runs apply and the change-log append in one SQL transaction and
// signals the commit observer once it is durable.
func (s *Store) commit(ctx context.Context, contextName string, apply func(tx *sql.Tx) ([]Change, error)) (Token, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	changes, err := apply(tx)
	if err != nil {
		return 0, err
	}

	token, err := s.appendTransaction(ctx, tx, contextName, changes)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}

	if token != 0 && s.observer != nil {
		s.observer.Committed(token)
	}
	return token, nil
}

// insertRecords inserts records inside tx and returns the changes for the
// rows actually inserted.
func insertRecords(ctx context.Context, tx *sql.Tx, records []position.Record) ([]Change, error) {
	changes := make([]Change, 0, len(records))
	for i, r := range records {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}

		// ON CONFLICT DO NOTHING: a code (or id) already present is skipped.
		result, err := tx.ExecContext(ctx, `
			INSERT INTO positions
			(id, code, magnitude, place, canonical_place, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			string(r.ID),
			r.Code,
			float64(r.Magnitude),
			r.Place,
			r.CanonicalPlace,
			toMicros(r.OccurredAt),
		)
		if err != nil {
			return nil, fmt.Errorf("insert record %d (%s): %w", i, r.Code, err)
		}

		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("insert record %d: rows affected: %w", i, err)
		}
		if n == 0 {
			continue
		}

		c, err := insertChange(r)
		if err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, nil
}

// deleteRecords deletes ids inside tx and returns the changes for the rows
// actually removed.
func deleteRecords(ctx context.Context, tx *sql.Tx, ids []position.RecordID) ([]Change, error) {
	changes := make([]Change, 0, len(ids))
	for _, id := range ids {
		result, err := tx.ExecContext(ctx, `DELETE FROM positions WHERE id = ?`, string(id))
		if err != nil {
			return nil, fmt.Errorf("delete record %s: %w", id, err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("delete record %s: rows affected: %w", id, err)
		}
		if n > 0 {
			changes = append(changes, deleteChange(id))
		}
	}
	return changes, nil
}

// selectIDs returns every stored id in a stable order.
func selectIDs(ctx context.Context, tx *sql.Tx) ([]position.RecordID, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM positions ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()

	ids := []position.RecordID{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, position.RecordID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ids: %w", err)
	}
	return ids, nil
}
