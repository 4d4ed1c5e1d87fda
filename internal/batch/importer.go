package batch

import (
	"context"
	"log/slog"

	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
)

// ImportContextName names the write context used for imports.
const ImportContextName = "Import Positions"

// Importer persists decoded feed records.
type Importer struct {
	store  *store.Store
	ids    IDGenerator
	logger *slog.Logger
}

// ImporterOption configures an Importer.
type ImporterOption func(*Importer)

// WithIDGenerator sets the id source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) ImporterOption {
	return func(i *Importer) {
		i.ids = g
	}
}

// NewImporter creates an Importer writing to s.
func NewImporter(s *store.Store, opts ...ImporterOption) *Importer {
	i := &Importer{
		store:  s,
		ids:    UUIDv7Generator{},
		logger: slog.Default().With("component", "persistence"),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Import inserts records as a single atomic batch.
//
// An empty batch is a successful no-op. Otherwise each record gets a new
// id and its canonical place, and the whole batch is inserted in one write
// context; on any failure nothing is inserted and a BATCH_INSERT_FAILED
// error wrapping the cause is returned. Import never retries.
func (i *Importer) Import(ctx context.Context, records []position.DecodedRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([]position.Record, len(records))
	for n, d := range records {
		rows[n] = position.FromDecoded(i.ids.NewID(), d)
	}

	w := i.store.NewWriteContext(ImportContextName)
	defer w.Close()

	i.logger.Debug("start importing data to the store", "records", len(rows))
	token, err := w.BatchInsert(ctx, rows)
	if err != nil {
		i.logger.Debug("failed to execute batch insert request", "error", err)
		return position.NewBatchInsertError(err)
	}

	i.logger.Debug("finished importing data", "records", len(rows), "token", token)
	return nil
}
