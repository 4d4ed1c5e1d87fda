// Package usecase is the entry point other layers call: it orchestrates
// feed ingestion and exposes the delete operations.
package usecase

import (
	"context"
	"log/slog"

	"github.com/roach88/positions/internal/batch"
	"github.com/roach88/positions/internal/position"
	"github.com/roach88/positions/internal/store"
)

// Fetcher fetches and decodes the remote feed. Implemented by *feed.Source.
type Fetcher interface {
	Fetch(ctx context.Context) ([]position.DecodedRecord, error)
}

// Coordinator wires the feed to the store.
type Coordinator struct {
	source   Fetcher
	importer *batch.Importer
	deleter  *batch.Deleter
	read     *store.ReadContext
	logger   *slog.Logger
}

// New creates a Coordinator importing from source into s.
func New(source Fetcher, s *store.Store, opts ...batch.ImporterOption) *Coordinator {
	return &Coordinator{
		source:   source,
		importer: batch.NewImporter(s, opts...),
		deleter:  batch.NewDeleter(s),
		read:     s.ReadContext(),
		logger:   slog.Default().With("component", "coordinator"),
	}
}

// UploadPositions fetches the feed and imports every valid record as one
// batch. Fetch and import errors are returned as they are.
func (c *Coordinator) UploadPositions(ctx context.Context) error {
	records, err := c.source.Fetch(ctx)
	if err != nil {
		c.logger.Debug("fetch failed", "error", err)
		return err
	}
	c.logger.Info("fetched positions", "records", len(records))
	return c.importer.Import(ctx, records)
}

// DeletePositionsByID deletes ids best-effort in the background. Individual
// failures are logged only. The returned channel closes when the
// background job ends; callers may ignore it.
func (c *Coordinator) DeletePositionsByID(ctx context.Context, ids []position.RecordID) <-chan struct{} {
	return c.deleter.DeleteByIdentity(ctx, ids)
}

// DeletePositions deletes records atomically.
func (c *Coordinator) DeletePositions(ctx context.Context, records []position.Record) error {
	return c.deleter.DeleteBatch(ctx, records)
}

// DeleteAllPositions deletes every record atomically.
func (c *Coordinator) DeleteAllPositions(ctx context.Context) error {
	return c.deleter.DeleteAll(ctx)
}

// Positions queries the read context: newest first, optionally filtered by
// place.
func (c *Coordinator) Positions(q store.Query) []position.Record {
	return c.read.Fetch(q)
}
