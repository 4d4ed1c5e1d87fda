package store

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/positions/internal/position"
)

// testEpoch is the fixed committed_at clock start used by test stores.
var testEpoch = time.Date(2018, 10, 10, 16, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return openTestStore(t, filepath.Join(t.TempDir(), "test.db"), opts...)
}

func openTestStore(t *testing.T, path string, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithNow(stepClock(testEpoch))}, opts...)
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Second)
		return t
	}
}

// createTestRecord creates a valid record whose id is derived from code.
func createTestRecord(code, place string, minute int) position.Record {
	return position.FromDecoded(position.RecordID("id-"+code), position.DecodedRecord{
		Code:       code,
		Magnitude:  float32(minute) / 10,
		Place:      place,
		OccurredAt: testEpoch.Add(time.Duration(minute) * time.Minute),
	})
}

// createTestRecords creates n records with distinct codes and times.
func createTestRecords(n int) []position.Record {
	records := make([]position.Record, n)
	for i := range records {
		records[i] = createTestRecord(fmt.Sprintf("c%03d", i), fmt.Sprintf("Place %d", i), i)
	}
	return records
}

// recordingObserver captures committed tokens.
type recordingObserver struct {
	mu     sync.Mutex
	tokens []Token
}

func (o *recordingObserver) Committed(token Token) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tokens = append(o.tokens, token)
}

func (o *recordingObserver) Tokens() []Token {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Token{}, o.tokens...)
}

// mergeAll merges every transaction after the given token into the read
// context and returns the last token merged.
func mergeAll(t *testing.T, s *Store, after Token) Token {
	t.Helper()
	txns, err := s.FetchHistory(t.Context(), after, 0)
	if err != nil {
		t.Fatalf("FetchHistory() failed: %v", err)
	}
	for _, txn := range txns {
		if err := s.ReadContext().Merge(t.Context(), txn); err != nil {
			t.Fatalf("Merge(%d) failed: %v", txn.Token, err)
		}
		after = txn.Token
	}
	return after
}
