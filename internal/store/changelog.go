package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/positions/internal/position"
)

// Token names a change-log transaction. Tokens are strictly increasing in
// commit order. The zero Token means "none".
type Token int64

// ChangeOp is the kind of effect a change records.
type ChangeOp string

const (
	// OpInsert records a new position. Payload carries the full record.
	OpInsert ChangeOp = "insert"

	// OpDelete records a removed position. Payload is empty.
	OpDelete ChangeOp = "delete"
)

// Change is one effect of a change-log transaction.
type Change struct {
	Op       ChangeOp
	RecordID position.RecordID
	Payload  json.RawMessage
}

// Record decodes the payload of an insert change.
func (c Change) Record() (position.Record, error) {
	if c.Op != OpInsert {
		return position.Record{}, fmt.Errorf("decode change: %s change has no record", c.Op)
	}
	r, err := unmarshalRecord(c.Payload)
	if err != nil {
		return position.Record{}, fmt.Errorf("decode change %s: %w", c.RecordID, err)
	}
	if r.ID != c.RecordID {
		return position.Record{}, fmt.Errorf("decode change: payload id %q does not match %q", r.ID, c.RecordID)
	}
	return r, nil
}

// Transaction is a committed write, as recorded in the change log.
type Transaction struct {
	Token       Token
	ContextName string
	Author      string
	CommittedAt time.Time
	Changes     []Change
}

// insertChange builds the change for a newly inserted record.
func insertChange(r position.Record) (Change, error) {
	payload, err := marshalRecord(r)
	if err != nil {
		return Change{}, err
	}
	return Change{Op: OpInsert, RecordID: r.ID, Payload: json.RawMessage(payload)}, nil
}

// deleteChange builds the change for a removed record.
func deleteChange(id position.RecordID) Change {
	return Change{Op: OpDelete, RecordID: id}
}

// appendTransaction writes one change-log transaction inside tx.
// Returns the zero Token and writes nothing when changes is empty.
func (s *Store) appendTransaction(ctx context.Context, tx *sql.Tx, contextName string, changes []Change) (Token, error) {
	if len(changes) == 0 {
		return 0, nil
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO history_transactions (context_name, author, committed_at)
		VALUES (?, ?, ?)
	`, contextName, s.author, toMicros(s.now()))
	if err != nil {
		return 0, fmt.Errorf("append transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append transaction: last insert id: %w", err)
	}
	token := Token(id)

	for i, c := range changes {
		var payload any
		if len(c.Payload) > 0 {
			payload = string(c.Payload)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history_changes (token, seq, op, record_id, payload)
			VALUES (?, ?, ?, ?, ?)
		`, int64(token), i, string(c.Op), string(c.RecordID), payload); err != nil {
			return 0, fmt.Errorf("append change %d: %w", i, err)
		}
	}

	return token, nil
}

// FetchHistory returns the transactions with tokens strictly greater than
// after, oldest first, each with its changes in the order they were made.
// limit <= 0 means no limit. Both queries run in one SQL transaction so the
// result is a consistent snapshot.
//
// Returns an empty slice (not nil) if there is no newer history.
func (s *Store) FetchHistory(ctx context.Context, after Token, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = -1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch history: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT token, context_name, author, committed_at
		FROM history_transactions
		WHERE token > ?
		ORDER BY token ASC
		LIMIT ?
	`, int64(after), limit)
	if err != nil {
		return nil, fmt.Errorf("query history transactions: %w", err)
	}

	txns := []Transaction{}
	index := map[Token]int{}
	for rows.Next() {
		var (
			t           Transaction
			token       int64
			committedAt int64
		)
		if err := rows.Scan(&token, &t.ContextName, &t.Author, &committedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan history transaction: %w", err)
		}
		t.Token = Token(token)
		t.CommittedAt = fromMicros(committedAt)
		t.Changes = []Change{}
		index[t.Token] = len(txns)
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate history transactions: %w", err)
	}
	rows.Close()

	if len(txns) == 0 {
		return txns, nil
	}

	last := txns[len(txns)-1].Token
	changeRows, err := tx.QueryContext(ctx, `
		SELECT token, op, record_id, payload
		FROM history_changes
		WHERE token > ? AND token <= ?
		ORDER BY token ASC, seq ASC
	`, int64(after), int64(last))
	if err != nil {
		return nil, fmt.Errorf("query history changes: %w", err)
	}
	defer changeRows.Close()

	for changeRows.Next() {
		var (
			token    int64
			op       string
			recordID string
			payload  sql.NullString
		)
		if err := changeRows.Scan(&token, &op, &recordID, &payload); err != nil {
			return nil, fmt.Errorf("scan history change: %w", err)
		}
		i, ok := index[Token(token)]
		if !ok {
			continue
		}
		c := Change{Op: ChangeOp(op), RecordID: position.RecordID(recordID)}
		if payload.Valid {
			c.Payload = json.RawMessage(payload.String)
		}
		txns[i].Changes = append(txns[i].Changes, c)
	}
	if err := changeRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history changes: %w", err)
	}

	return txns, nil
}

// HeadToken returns the most recently assigned token, or zero when nothing
// was ever committed. Purging does not lower it.
func (s *Store) HeadToken(ctx context.Context) (Token, error) {
	var token int64
	err := s.db.QueryRowContext(ctx,
		`SELECT seq FROM sqlite_sequence WHERE name = 'history_transactions'`,
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query head token: %w", err)
	}
	return Token(token), nil
}

// CountTransactions returns the number of transactions in the change log.
func (s *Store) CountTransactions(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history_transactions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// PurgeHistory deletes every transaction with a token at or below through.
// Callers must only purge history every reader has already merged.
// Returns the number of transactions removed.
func (s *Store) PurgeHistory(ctx context.Context, through Token) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM history_transactions WHERE token <= ?`, int64(through))
	if err != nil {
		return 0, fmt.Errorf("purge history: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge history: rows affected: %w", err)
	}
	s.logger.Debug("purged history", "through", through, "transactions", n)
	return n, nil
}
