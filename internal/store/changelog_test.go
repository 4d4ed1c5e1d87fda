package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/positions/internal/position"
)

func seedHistory(t *testing.T, s *Store, n int) []position.Record {
	t.Helper()
	w := s.NewWriteContext("seed")
	defer w.Close()

	records := createTestRecords(n)
	for _, r := range records {
		_, err := w.BatchInsert(t.Context(), []position.Record{r})
		require.NoError(t, err)
	}
	return records
}

func TestFetchHistory_Empty(t *testing.T) {
	s := createTestStore(t)

	txns, err := s.FetchHistory(t.Context(), 0, 0)
	require.NoError(t, err)
	assert.NotNil(t, txns)
	assert.Empty(t, txns)
}

func TestFetchHistory_AfterAndLimit(t *testing.T) {
	s := createTestStore(t)
	records := seedHistory(t, s, 5)

	txns, err := s.FetchHistory(t.Context(), 2, 2)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, Token(3), txns[0].Token)
	assert.Equal(t, Token(4), txns[1].Token)
	require.Len(t, txns[0].Changes, 1)
	assert.Equal(t, records[2].ID, txns[0].Changes[0].RecordID)

	txns, err = s.FetchHistory(t.Context(), 5, 0)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestHeadToken_SurvivesPurge(t *testing.T) {
	s := createTestStore(t)

	head, err := s.HeadToken(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Token(0), head)

	seedHistory(t, s, 3)

	n, err := s.PurgeHistory(t.Context(), 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	head, err = s.HeadToken(t.Context())
	require.NoError(t, err)
	assert.Equal(t, Token(3), head)

	// Purged change rows cascade with their transactions.
	var changes int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM history_changes`).Scan(&changes))
	assert.Equal(t, 0, changes)

	// New tokens keep increasing past purged ones.
	w := s.NewWriteContext("after purge")
	defer w.Close()
	token, err := w.BatchInsert(t.Context(), []position.Record{createTestRecord("late", "Late", 60)})
	require.NoError(t, err)
	assert.Equal(t, Token(4), token)
}

func TestPurgeHistory_Partial(t *testing.T) {
	s := createTestStore(t)
	seedHistory(t, s, 4)

	_, err := s.PurgeHistory(t.Context(), 2)
	require.NoError(t, err)

	txns, err := s.FetchHistory(t.Context(), 0, 0)
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, Token(3), txns[0].Token)
}

func TestChange_Record(t *testing.T) {
	r := createTestRecord("x", "Tōkyō <Japan>", 3)
	c, err := insertChange(r)
	require.NoError(t, err)
	assert.Contains(t, string(c.Payload), "<Japan>", "payload stores place verbatim")

	got, err := c.Record()
	require.NoError(t, err)
	assert.Equal(t, r, got)

	_, err = deleteChange(r.ID).Record()
	assert.Error(t, err)

	bad := c
	bad.RecordID = "someone-else"
	_, err = bad.Record()
	assert.Error(t, err)

	invalid := Change{Op: OpInsert, RecordID: r.ID, Payload: []byte(`{"id":"id-x","code":""}`)}
	_, err = invalid.Record()
	assert.True(t, position.IsCode(err, position.ErrCodeMissingField))
}
