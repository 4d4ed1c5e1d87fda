package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roach88/positions/internal/feed"
	"github.com/roach88/positions/internal/position"
)

// HawaiiFeed is a three-entry feed: two valid records and one missing its
// code.
const HawaiiFeed = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"mag": 1.9, "place": "21km ENE of Honaunau-Napoopoo, Hawaii", "time": 1539187727610, "code": "70643082"}},
    {"type": "Feature", "properties": {"mag": 2.4, "place": "Cupertino, CA", "time": 1539187627610, "code": "ci38015"}},
    {"type": "Feature", "properties": {"mag": 3.1, "place": "10km S of Volcano, Hawaii", "time": 1539187827610}}
  ]
}`

// SampleRecords returns n valid decoded records, one minute apart starting
// at DefaultEpoch, with distinct codes.
func SampleRecords(n int) []position.DecodedRecord {
	places := []string{
		"21km ENE of Honaunau-Napoopoo, Hawaii",
		"Cupertino, CA",
		"10km NW of Anchorage, Alaska",
		"Ñuñoa, Chile",
	}
	records := make([]position.DecodedRecord, n)
	for i := range records {
		records[i] = position.DecodedRecord{
			Code:       "ev" + string(rune('a'+i%26)) + string(rune('0'+i/26%10)),
			Magnitude:  float32(i%70) / 10,
			Place:      places[i%len(places)],
			OccurredAt: DefaultEpoch.Add(time.Duration(i) * time.Minute),
		}
	}
	return records
}

// EncodeFeed renders records as a feed body, failing the test on error.
func EncodeFeed(t testing.TB, records []position.DecodedRecord) []byte {
	t.Helper()
	body, err := feed.Encode(records)
	if err != nil {
		t.Fatalf("feed.Encode() failed: %v", err)
	}
	return body
}

// FeedServer serves a feed body over HTTP.
type FeedServer struct {
	*httptest.Server
	body   atomic.Value // []byte
	status atomic.Int32
	hits   atomic.Int32
}

// NewFeedServer starts a server returning body with 200 OK. It is closed
// when the test ends.
func NewFeedServer(t testing.TB, body []byte) *FeedServer {
	t.Helper()
	fs := &FeedServer{}
	fs.SetBody(body)
	fs.SetStatus(http.StatusOK)
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		status := int(fs.status.Load())
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write(fs.body.Load().([]byte))
	}))
	t.Cleanup(fs.Close)
	return fs
}

// SetBody replaces the served body.
func (fs *FeedServer) SetBody(body []byte) {
	fs.body.Store(append([]byte(nil), body...))
}

// SetStatus makes the server answer every request with status and no body
// (any status other than 200).
func (fs *FeedServer) SetStatus(status int) {
	fs.status.Store(int32(status))
}

// Hits returns the number of requests served.
func (fs *FeedServer) Hits() int {
	return int(fs.hits.Load())
}
