package position

import (
	"fmt"
	"math"
	"time"
)

// RecordID is the store-assigned identity of a persisted Record.
type RecordID string

// DecodedRecord is a validated entry from the remote feed, before the
// importer assigns an ID and derives CanonicalPlace.
type DecodedRecord struct {
	Code       string
	Magnitude  float32
	Place      string
	OccurredAt time.Time
}

// Record is a persisted event.
type Record struct {
	ID             RecordID  `json:"id"`
	Code           string    `json:"code"`
	Magnitude      float32   `json:"magnitude"`
	Place          string    `json:"place"`
	CanonicalPlace string    `json:"canonical_place"`
	OccurredAt     time.Time `json:"time"`
}

// Validate checks the fields every decoded record must carry.
func (d DecodedRecord) Validate() error {
	return validateFields(d.Code, d.Magnitude, d.Place, d.OccurredAt)
}

// Validate checks the persisted-record invariants.
func (r Record) Validate() error {
	if r.ID == "" {
		return NewMissingFieldError("id")
	}
	return validateFields(r.Code, r.Magnitude, r.Place, r.OccurredAt)
}

func validateFields(code string, magnitude float32, place string, occurredAt time.Time) error {
	switch {
	case code == "":
		return NewMissingFieldError("code")
	case math.IsNaN(float64(magnitude)) || math.IsInf(float64(magnitude), 0):
		return NewMissingFieldError("mag")
	case place == "":
		return NewMissingFieldError("place")
	case !inStorableRange(occurredAt):
		return NewMissingFieldError("time")
	}
	return nil
}

// FromDecoded builds a Record from a decoded entry. CanonicalPlace is derived
// here so the derivation is explicit rather than a store-side trigger.
func FromDecoded(id RecordID, d DecodedRecord) Record {
	return Record{
		ID:             id,
		Code:           d.Code,
		Magnitude:      d.Magnitude,
		Place:          d.Place,
		CanonicalPlace: CanonicalPlace(d.Place),
		OccurredAt:     d.OccurredAt,
	}
}

// Decoded returns the feed-level view of the record.
func (r Record) Decoded() DecodedRecord {
	return DecodedRecord{
		Code:       r.Code,
		Magnitude:  r.Magnitude,
		Place:      r.Place,
		OccurredAt: r.OccurredAt,
	}
}

// String implements fmt.Stringer for log output.
func (r Record) String() string {
	return fmt.Sprintf("%s M%.1f %q @ %s", r.Code, r.Magnitude, r.Place, r.OccurredAt.UTC().Format(time.RFC3339))
}

// TimeFromEpochMillis converts a feed timestamp (epoch milliseconds, possibly
// fractional) to an absolute time with microsecond precision. Times that
// cannot be stored (the zero time, years outside 0..9999) are rejected.
func TimeFromEpochMillis(ms float64) (time.Time, bool) {
	if math.IsNaN(ms) || math.IsInf(ms, 0) {
		return time.Time{}, false
	}
	micros := math.Round(ms * 1000)
	// float64(math.MaxInt64) rounds up to 2^63, so >= keeps the conversion in range.
	if micros >= math.MaxInt64 || micros < math.MinInt64 {
		return time.Time{}, false
	}
	t := time.UnixMicro(int64(micros)).UTC()
	if !inStorableRange(t) {
		return time.Time{}, false
	}
	return t, true
}

// inStorableRange reports whether t survives the JSON payload encoding,
// which only accepts four-digit years.
func inStorableRange(t time.Time) bool {
	if t.IsZero() {
		return false
	}
	y := t.UTC().Year()
	return y >= 0 && y <= 9999
}

// EpochMillis is the inverse of TimeFromEpochMillis.
func EpochMillis(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1000
}
