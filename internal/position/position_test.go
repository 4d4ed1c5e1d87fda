package position

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPlace(t *testing.T) {
	tests := []struct {
		name  string
		place string
		want  string
	}{
		{"lowercases ascii", "21km ENE of Honaunau-Napoopoo, Hawaii", "21km ene of honaunau-napoopoo, hawaii"},
		{"trims whitespace", "  Cupertino, CA ", "cupertino, ca"},
		{"composes decomposed accents", "Ame\u0301rica", "am\u00e9rica"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalPlace(tt.place))
		})
	}
}

func TestPlaceMatches(t *testing.T) {
	hawaii := CanonicalPlace("21km ENE of Honaunau-Napoopoo, Hawaii")

	assert.True(t, PlaceMatches(hawaii, "Hawaii"))
	assert.True(t, PlaceMatches(hawaii, "HAWAII"))
	assert.True(t, PlaceMatches(hawaii, "napoopoo"))
	assert.True(t, PlaceMatches(hawaii, ""), "empty query matches everything")
	assert.False(t, PlaceMatches(CanonicalPlace("Cupertino, CA"), "Hawaii"))
}

func TestDecodedRecord_Validate(t *testing.T) {
	valid := DecodedRecord{
		Code:       "70643082",
		Magnitude:  1.9,
		Place:      "21km ENE of Honaunau-Napoopoo, Hawaii",
		OccurredAt: time.UnixMilli(1539187727610).UTC(),
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*DecodedRecord)
		field  string
	}{
		{"missing code", func(d *DecodedRecord) { d.Code = "" }, "code"},
		{"nan magnitude", func(d *DecodedRecord) { d.Magnitude = float32(math.NaN()) }, "mag"},
		{"infinite magnitude", func(d *DecodedRecord) { d.Magnitude = float32(math.Inf(1)) }, "mag"},
		{"missing place", func(d *DecodedRecord) { d.Place = "" }, "place"},
		{"missing time", func(d *DecodedRecord) { d.OccurredAt = time.Time{} }, "time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid
			tt.mutate(&d)
			err := d.Validate()
			require.Error(t, err)
			assert.True(t, IsCode(err, ErrCodeMissingField))

			var pe *Error
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, tt.field, pe.Field)
		})
	}
}

func TestRecord_ValidateRequiresID(t *testing.T) {
	r := FromDecoded("", DecodedRecord{
		Code:       "c1",
		Magnitude:  1,
		Place:      "Somewhere",
		OccurredAt: time.Unix(1, 0),
	})
	err := r.Validate()
	require.Error(t, err)
	assert.True(t, IsCode(err, ErrCodeMissingField))
}

func TestFromDecoded_DerivesCanonicalPlace(t *testing.T) {
	d := DecodedRecord{Code: "c1", Magnitude: 2.5, Place: "Cupertino, CA", OccurredAt: time.Unix(10, 0)}
	r := FromDecoded("id-1", d)

	assert.Equal(t, RecordID("id-1"), r.ID)
	assert.Equal(t, "cupertino, ca", r.CanonicalPlace)
	assert.Equal(t, d, r.Decoded())
}

func TestTimeFromEpochMillis(t *testing.T) {
	got, ok := TimeFromEpochMillis(1539187727610)
	require.True(t, ok)
	assert.Equal(t, int64(1539187727), got.Unix())
	assert.Equal(t, 610*time.Millisecond, time.Duration(got.Nanosecond()))

	fractional, ok := TimeFromEpochMillis(1539187727610.5)
	require.True(t, ok)
	assert.Equal(t, int64(1539187727610500), fractional.UnixMicro())
	assert.Equal(t, 1539187727610.5, EpochMillis(fractional))

	_, ok = TimeFromEpochMillis(math.Inf(1))
	assert.False(t, ok)
	_, ok = TimeFromEpochMillis(math.NaN())
	assert.False(t, ok)
	_, ok = TimeFromEpochMillis(1e300)
	assert.False(t, ok)
}

func TestTimeFromEpochMillis_RejectsUnstorableYears(t *testing.T) {
	year10000 := float64(time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	lastMilli := float64(time.Date(9999, 12, 31, 23, 59, 59, 999e6, time.UTC).UnixMilli())
	yearZero := float64(time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	zeroTime := float64(time.Time{}.UnixMilli())

	tests := []struct {
		name string
		ms   float64
		ok   bool
	}{
		{"far future", 1e15, false},
		{"year 10000", year10000, false},
		{"negative year", -1e15, false},
		{"max int64 micros", float64(math.MaxInt64) / 1000, false},
		{"zero time", zeroTime, false},
		{"last storable millisecond", lastMilli, true},
		{"first millisecond of year zero", yearZero, true},
		{"epoch", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := TimeFromEpochMillis(tt.ms)
			assert.Equal(t, tt.ok, ok, "got %v", got)
			if ok {
				_, err := got.MarshalJSON()
				assert.NoError(t, err)
			}
		})
	}
}

func TestError_WrappingAndClassification(t *testing.T) {
	cause := errors.New("disk I/O error")
	err := fmt.Errorf("import: %w", NewBatchInsertError(cause))

	assert.True(t, IsCode(err, ErrCodeBatchInsert))
	assert.False(t, IsCode(err, ErrCodeBatchDelete))
	assert.Equal(t, ErrCodeBatchInsert, CodeOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "Failed to execute a batch insert request.")

	assert.Equal(t, ErrCodeUnexpected, CodeOf(cause))
	assert.False(t, IsCode(nil, ErrCodeBatchInsert))
}

func TestError_Description(t *testing.T) {
	e := NewRequestFailedError(nil)
	assert.Equal(t, "Request failed.", e.Description())
	assert.Equal(t, "REQUEST_FAILED: Request failed.", e.Error())

	wrapped := NewDecodingFailedError(errors.New("unexpected EOF"))
	assert.Equal(t, "Decoding failed. unexpected EOF", wrapped.Description())
}

func TestIsNoNewHistory(t *testing.T) {
	assert.True(t, IsNoNewHistory(ErrNoNewHistory))
	assert.True(t, IsNoNewHistory(fmt.Errorf("merge: %w", ErrNoNewHistory)))
	assert.False(t, IsNoNewHistory(NewHistoryFetchError(errors.New("boom"))))
	assert.True(t, IsCode(ErrNoNewHistory, ErrCodeHistoryFetch))
}
