package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/positions/internal/position"
)

// marshalRecord converts a record to the JSON TEXT stored as an insert
// change's payload. HTML escaping is disabled so payloads store places
// verbatim.
func marshalRecord(r position.Record) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalRecord parses an insert payload and checks the record invariants.
func unmarshalRecord(data []byte) (position.Record, error) {
	var r position.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return position.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	r.OccurredAt = r.OccurredAt.UTC()
	if err := r.Validate(); err != nil {
		return position.Record{}, fmt.Errorf("unmarshal record: %w", err)
	}
	return r, nil
}

// toMicros and fromMicros convert between time.Time and the INTEGER columns.
func toMicros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}
