package store

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/positions/internal/position"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, 0, s.ReadContext().Len())
	assert.Equal(t, Token(0), s.LoadedThrough())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"positions", "history_transactions", "history_changes"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", fmt.Sprint(currentSchemaVersion)))
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion+1))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, errSchemaTooNew)
}

func TestOpen_LoadsReadContextFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s1 := openTestStore(t, path)
	w := s1.NewWriteContext("seed")
	_, err := w.BatchInsert(t.Context(), createTestRecords(3))
	require.NoError(t, err)
	w.Close()

	// Not merged yet in the writing process.
	assert.Equal(t, 0, s1.ReadContext().Len())
	require.NoError(t, s1.Close())

	s2 := openTestStore(t, path)
	assert.Equal(t, 3, s2.ReadContext().Len())
	assert.Equal(t, Token(1), s2.LoadedThrough())
}

func TestDataVersion_ChangesOnForeignCommit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	watcher := openTestStore(t, path)
	writer := openTestStore(t, path)

	before, err := watcher.DataVersion(t.Context())
	require.NoError(t, err)

	// Own commits do not move the watcher's own data_version.
	own := watcher.NewWriteContext("own")
	_, err = own.BatchInsert(t.Context(), createTestRecords(1))
	require.NoError(t, err)
	own.Close()

	same, err := watcher.DataVersion(t.Context())
	require.NoError(t, err)
	assert.Equal(t, before, same)

	w := writer.NewWriteContext("other")
	_, err = w.BatchInsert(t.Context(), []position.Record{createTestRecord("other", "Elsewhere", 5)})
	require.NoError(t, err)
	w.Close()

	after, err := watcher.DataVersion(t.Context())
	require.NoError(t, err)
	assert.NotEqual(t, before, after)
}

func TestParseMergePolicy(t *testing.T) {
	for _, p := range []MergePolicy{MergeIncomingWins, MergeLocalWins} {
		got, err := ParseMergePolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	got, err := ParseMergePolicy("")
	require.NoError(t, err)
	assert.Equal(t, MergeIncomingWins, got)

	_, err = ParseMergePolicy("newest-wins")
	assert.Error(t, err)
}
