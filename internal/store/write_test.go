package store

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/positions/internal/position"
)

func TestBatchInsert_CommitsRecordsAndOneTransaction(t *testing.T) {
	obs := &recordingObserver{}
	s := createTestStore(t, WithCommitObserver(obs), WithAuthor("tester"))

	w := s.NewWriteContext("Import Positions")
	defer w.Close()

	records := createTestRecords(3)
	token, err := w.BatchInsert(t.Context(), records)
	require.NoError(t, err)
	assert.Equal(t, Token(1), token)
	assert.Equal(t, []Token{1}, obs.Tokens())

	stored, err := s.ListRecords(t.Context())
	require.NoError(t, err)
	require.Len(t, stored, 3)
	// Newest first.
	assert.Equal(t, records[2], stored[0])
	assert.Equal(t, records[0], stored[2])

	txns, err := s.FetchHistory(t.Context(), 0, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, "Import Positions", txns[0].ContextName)
	assert.Equal(t, "tester", txns[0].Author)
	assert.Equal(t, testEpoch, txns[0].CommittedAt)
	require.Len(t, txns[0].Changes, 3)
	for i, c := range txns[0].Changes {
		assert.Equal(t, OpInsert, c.Op)
		got, err := c.Record()
		require.NoError(t, err)
		assert.Equal(t, records[i], got)
	}
}

func TestBatchInsert_DuplicateCodesSkipped(t *testing.T) {
	s := createTestStore(t)
	w := s.NewWriteContext("Import Positions")
	defer w.Close()

	first := createTestRecord("dup", "Somewhere", 1)
	_, err := w.BatchInsert(t.Context(), []position.Record{first})
	require.NoError(t, err)

	again := first
	again.ID = "id-other"
	token, err := w.BatchInsert(t.Context(), []position.Record{again, createTestRecord("fresh", "Elsewhere", 2)})
	require.NoError(t, err)
	assert.Equal(t, Token(2), token)

	n, err := s.CountRecords(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	txns, err := s.FetchHistory(t.Context(), 1, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Len(t, txns[0].Changes, 1)
	assert.Equal(t, position.RecordID("id-fresh"), txns[0].Changes[0].RecordID)
}

func TestBatchInsert_AllDuplicatesAppendsNothing(t *testing.T) {
	obs := &recordingObserver{}
	s := createTestStore(t, WithCommitObserver(obs))
	w := s.NewWriteContext("Import Positions")
	defer w.Close()

	records := createTestRecords(2)
	_, err := w.BatchInsert(t.Context(), records)
	require.NoError(t, err)

	token, err := w.BatchInsert(t.Context(), records)
	require.NoError(t, err)
	assert.Equal(t, Token(0), token)
	assert.Equal(t, []Token{1}, obs.Tokens())

	n, err := s.CountTransactions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatchInsert_FailurePartwayCommitsNothing(t *testing.T) {
	obs := &recordingObserver{}
	s := createTestStore(t, WithCommitObserver(obs))

	// Abort the fourth insert of the batch.
	_, err := s.db.Exec(`
		CREATE TRIGGER fail_fourth BEFORE INSERT ON positions
		WHEN (SELECT COUNT(*) FROM positions) >= 3
		BEGIN
			SELECT RAISE(ABORT, 'store unavailable');
		END
	`)
	require.NoError(t, err)

	w := s.NewWriteContext("Import Positions")
	defer w.Close()

	_, err = w.BatchInsert(t.Context(), createTestRecords(5))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")

	n, err := s.CountRecords(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "no record of the failed batch may be visible")

	txns, err := s.CountTransactions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, txns)
	assert.Empty(t, obs.Tokens())
}

func TestBatchInsert_InvalidRecordRejectsBatch(t *testing.T) {
	s := createTestStore(t)
	w := s.NewWriteContext("Import Positions")
	defer w.Close()

	records := createTestRecords(2)
	records[1].Place = ""

	_, err := w.BatchInsert(t.Context(), records)
	require.Error(t, err)
	assert.True(t, position.IsCode(err, position.ErrCodeMissingField))

	n, err := s.CountRecords(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBatchDelete_OnlyExistingIdsLogged(t *testing.T) {
	s := createTestStore(t)
	w := s.NewWriteContext("Delete Positions")
	defer w.Close()

	records := createTestRecords(3)
	_, err := w.BatchInsert(t.Context(), records)
	require.NoError(t, err)

	token, err := w.BatchDelete(t.Context(), []position.RecordID{records[0].ID, "missing", records[2].ID})
	require.NoError(t, err)
	assert.Equal(t, Token(2), token)

	txns, err := s.FetchHistory(t.Context(), 1, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, []Change{
		{Op: OpDelete, RecordID: records[0].ID},
		{Op: OpDelete, RecordID: records[2].ID},
	}, txns[0].Changes)

	remaining, err := s.ListRecords(t.Context())
	require.NoError(t, err)
	assert.Equal(t, []position.Record{records[1]}, remaining)
}

func TestBatchDelete_NothingToDelete(t *testing.T) {
	s := createTestStore(t)
	w := s.NewWriteContext("Delete Positions")
	defer w.Close()

	token, err := w.BatchDelete(t.Context(), []position.RecordID{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, Token(0), token)

	token, err = w.DeleteAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Token(0), token)

	n, err := s.CountTransactions(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestDeleteAll(t *testing.T) {
	s := createTestStore(t)
	w := s.NewWriteContext("Delete Positions")
	defer w.Close()

	_, err := w.BatchInsert(t.Context(), createTestRecords(4))
	require.NoError(t, err)

	token, err := w.DeleteAll(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Token(2), token)

	n, err := s.CountRecords(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	txns, err := s.FetchHistory(t.Context(), 1, 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Len(t, txns[0].Changes, 4)
}

func TestWriteContext_ClosedRejectsWork(t *testing.T) {
	s := createTestStore(t)
	w := s.NewWriteContext("closed")
	w.Close()

	_, err := w.BatchInsert(t.Context(), createTestRecords(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestWriteContexts_TokensFollowCommitOrder(t *testing.T) {
	obs := &recordingObserver{}
	s := createTestStore(t, WithCommitObserver(obs))

	const writers = 4
	const batches = 5

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := s.NewWriteContext("writer")
			defer w.Close()
			for b := 0; b < batches; b++ {
				r := createTestRecord(string(rune('a'+i))+string(rune('0'+b)), "Place", i*batches+b)
				_, err := w.BatchInsert(t.Context(), []position.Record{r})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	txns, err := s.FetchHistory(t.Context(), 0, 0)
	require.NoError(t, err)
	require.Len(t, txns, writers*batches)
	for i, txn := range txns {
		assert.Equal(t, Token(i+1), txn.Token)
		if i > 0 {
			assert.True(t, txn.CommittedAt.After(txns[i-1].CommittedAt), "committed_at follows token order")
		}
	}
	assert.Len(t, obs.Tokens(), writers*batches)

	mergeAll(t, s, 0)
	assert.Equal(t, writers*batches, s.ReadContext().Len())
}
