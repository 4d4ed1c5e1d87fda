// Package store provides the SQLite-backed local store for imported positions.
//
// The store owns three things:
//   - the durable positions table
//   - an append-only change log (history_transactions / history_changes)
//     addressed by strictly increasing Tokens
//   - the shared ReadContext, an in-memory replica that only changes when
//     change-log transactions are merged into it
//
// Writers never touch the ReadContext. Each writer opens its own
// WriteContext, whose operations run one at a time on the context's queue.
// Every operation is a single SQL transaction that writes the data rows and
// the change-log transaction describing them, so a reader merging the log
// sees either all of a write or none of it.
//
// # Critical Patterns
//
// Token order is commit order. Tokens are assigned inside the committing SQL
// transaction and SQLite serializes writers.
//
// Effect-free writes append nothing. A batch whose rows were all skipped
// (duplicate codes, already deleted ids) commits no change-log transaction.
//
// Deterministic results. Every query that returns more than one row carries
// an ORDER BY.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: change rows cascade with their transaction
package store
