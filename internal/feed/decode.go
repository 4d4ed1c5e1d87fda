package feed

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/roach88/positions/internal/position"
)

//go:embed feed_schema.json
var feedSchemaJSON string

var compileFeedSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(feedSchemaJSON))
})

// document is the top-level container once the schema has accepted it.
type document struct {
	Features []json.RawMessage `json:"features"`
}

// feature is the wrapper around a single entry.
type feature struct {
	Properties json.RawMessage `json:"properties"`
}

// Decode decodes a whole feed payload. Entries that fail DecodeEntry are
// skipped and logged. Only a structurally invalid document is an error.
//
// Returns an empty slice (not nil) if no entry is valid.
func Decode(body []byte) ([]position.DecodedRecord, error) {
	logger := slog.Default().With("component", "decoder")

	if err := validateDocument(body); err != nil {
		return nil, position.NewMalformedPayloadError(err)
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, position.NewMalformedPayloadError(err)
	}

	records := make([]position.DecodedRecord, 0, len(doc.Features))
	skipped := 0
	for i, raw := range doc.Features {
		rec, err := DecodeEntry(raw)
		if err != nil {
			skipped++
			logger.Warn("discarding feed entry", "index", i, "error", err)
			continue
		}
		records = append(records, rec)
	}

	logger.Debug("decoded feed", "features", len(doc.Features), "records", len(records), "skipped", skipped)
	return records, nil
}

// validateDocument checks the top-level shape against the embedded schema.
func validateDocument(body []byte) error {
	schema, err := compileFeedSchema()
	if err != nil {
		return fmt.Errorf("compile feed schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("validate feed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return errors.New("feed does not match schema: " + strings.Join(msgs, "; "))
	}
	return nil
}

// DecodeEntry decodes one feature wrapper. Any absent, null, empty or
// wrongly typed field yields a MISSING_FIELD error naming the first such
// field.
func DecodeEntry(raw json.RawMessage) (position.DecodedRecord, error) {
	var f feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return position.DecodedRecord{}, position.NewMissingFieldError("properties")
	}
	if isNull(f.Properties) {
		return position.DecodedRecord{}, position.NewMissingFieldError("properties")
	}

	var props map[string]json.RawMessage
	if err := json.Unmarshal(f.Properties, &props); err != nil || props == nil {
		return position.DecodedRecord{}, position.NewMissingFieldError("properties")
	}

	mag, magOK := magnitudeField(props["mag"])
	place, placeOK := stringField(props["place"])
	millis, timeOK := numberField(props["time"])
	code, codeOK := stringField(props["code"])

	occurredAt, timeOK := toTime(millis, timeOK)

	if !magOK || !placeOK || !timeOK || !codeOK {
		slog.Default().With("component", "decoder").Debug("entry with missing data",
			"code", describe(code, codeOK),
			"mag", describe(mag, magOK),
			"place", describe(place, placeOK),
			"time", describe(millis, timeOK),
		)
	}

	switch {
	case !codeOK:
		return position.DecodedRecord{}, position.NewMissingFieldError("code")
	case !magOK:
		return position.DecodedRecord{}, position.NewMissingFieldError("mag")
	case !placeOK:
		return position.DecodedRecord{}, position.NewMissingFieldError("place")
	case !timeOK:
		return position.DecodedRecord{}, position.NewMissingFieldError("time")
	}

	return position.DecodedRecord{
		Code:       code,
		Magnitude:  mag,
		Place:      place,
		OccurredAt: occurredAt,
	}, nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

func stringField(raw json.RawMessage) (string, bool) {
	if isNull(raw) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

func numberField(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

func magnitudeField(raw json.RawMessage) (float32, bool) {
	f, ok := numberField(raw)
	if !ok || math.Abs(f) > math.MaxFloat32 {
		return 0, false
	}
	return float32(f), true
}

func toTime(millis float64, ok bool) (t time.Time, valid bool) {
	if !ok {
		return t, false
	}
	return position.TimeFromEpochMillis(millis)
}

func describe(v any, ok bool) string {
	if !ok {
		return "nil"
	}
	return fmt.Sprint(v)
}
