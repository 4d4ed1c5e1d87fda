package batch

import (
	"context"
	"log/slog"

	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
)

// DeleteContextName names the write context used for atomic deletes.
const DeleteContextName = "Delete Positions"

// Deleter removes records from the store.
type Deleter struct {
	store  *store.Store
	logger *slog.Logger
}

// NewDeleter creates a Deleter over s.
func NewDeleter(s *store.Store) *Deleter {
	return &Deleter{
		store:  s,
		logger: slog.Default().With("component", "persistence"),
	}
}

// DeleteByIdentity deletes ids one at a time on the ReadContext's queue:
// look the record up, mark it deleted, save. Each save is its own commit.
// Failures are logged and the remaining ids are still processed; nothing
// is reported to the caller. The returned channel is closed when the job
// has finished.
//
// An empty list is a no-op.
func (d *Deleter) DeleteByIdentity(ctx context.Context, ids []position.RecordID) <-chan struct{} {
	done := make(chan struct{})
	if len(ids) == 0 {
		close(done)
		return done
	}

	ids = append([]position.RecordID(nil), ids...)
	rc := d.store.ReadContext()
	ok := rc.PerformAsync(func() {
		defer close(done)
		for _, id := range ids {
			if ctx.Err() != nil {
				d.logger.Debug("stopped deleting by identity", "error", ctx.Err())
				return
			}
			if !rc.MarkDeleted(id) {
				d.logger.Debug("nothing to delete", "id", id)
				continue
			}
			if err := rc.Save(ctx); err != nil {
				d.logger.Warn("failed to delete position", "id", id, "error", err)
				rc.Rollback()
			}
		}
	})
	if !ok {
		d.logger.Warn("read context closed, dropping deletes", "ids", len(ids))
		close(done)
	}
	return done
}

// DeleteBatch deletes records as one atomic batch. An empty batch is a
// successful no-op. On failure nothing is deleted and a
// BATCH_DELETE_FAILED error wrapping the cause is returned.
func (d *Deleter) DeleteBatch(ctx context.Context, records []position.Record) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]position.RecordID, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}

	w := d.store.NewWriteContext(DeleteContextName)
	defer w.Close()

	d.logger.Debug("start deleting data from the store", "records", len(ids))
	token, err := w.BatchDelete(ctx, ids)
	if err != nil {
		d.logger.Debug("failed to execute batch delete request", "error", err)
		return position.NewBatchDeleteError(err)
	}

	d.logger.Debug("finished deleting data", "records", len(ids), "token", token)
	return nil
}

// DeleteAll deletes every stored record as one atomic batch.
func (d *Deleter) DeleteAll(ctx context.Context) error {
	w := d.store.NewWriteContext(DeleteContextName)
	defer w.Close()

	token, err := w.DeleteAll(ctx)
	if err != nil {
		return position.NewBatchDeleteError(err)
	}

	d.logger.Debug("deleted all positions", "token", token)
	return nil
}
