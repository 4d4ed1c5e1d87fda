package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/positions/internal/position"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	s := newStore(db, append([]Option{WithNow(stepClock(testEpoch))}, opts...)...)
	t.Cleanup(func() { s.Close() })
	return s, mock
}

func TestCommit_CommitFailureNotObserved(t *testing.T) {
	obs := &recordingObserver{}
	s, mock := newMockStore(t, WithCommitObserver(obs))
	r := createTestRecord("c1", "Somewhere", 1)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO positions")).
		WithArgs(string(r.ID), r.Code, float64(r.Magnitude), r.Place, r.CanonicalPlace, r.OccurredAt.UnixMicro()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_transactions")).
		WithArgs("Import Positions", DefaultAuthor, testEpoch.UnixMicro()).
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_changes")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	w := s.NewWriteContext("Import Positions")
	defer w.Close()

	token, err := w.BatchInsert(context.Background(), []position.Record{r})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Equal(t, Token(0), token)
	assert.Empty(t, obs.Tokens())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommit_ChangeLogFailureRollsBack(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM positions")).
		WithArgs("id-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO history_transactions")).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	w := s.NewWriteContext("Delete Positions")
	defer w.Close()

	_, err := w.BatchDelete(context.Background(), []position.RecordID{"id-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append transaction")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchHistory_QueryFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM history_transactions")).
		WillReturnError(errors.New("no such table: history_transactions"))
	mock.ExpectRollback()

	_, err := s.FetchHistory(context.Background(), 0, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query history transactions")
	assert.NoError(t, mock.ExpectationsWereMet())
}
