package feed

import (
	"encoding/json"

	"github.com/roach88/positions/internal/position"
)

// Encode renders records as a feed document. It is the inverse of Decode
// for valid records and is used to build fixtures and mirror feeds.
func Encode(records []position.DecodedRecord) ([]byte, error) {
	type properties struct {
		Mag   float64 `json:"mag"`
		Place string  `json:"place"`
		Time  float64 `json:"time"`
		Code  string  `json:"code"`
	}
	type feature struct {
		Type       string     `json:"type"`
		ID         string     `json:"id"`
		Properties properties `json:"properties"`
	}
	type collection struct {
		Type     string    `json:"type"`
		Features []feature `json:"features"`
	}

	out := collection{Type: "FeatureCollection", Features: make([]feature, 0, len(records))}
	for _, r := range records {
		out.Features = append(out.Features, feature{
			Type: "Feature",
			ID:   r.Code,
			Properties: properties{
				Mag:   float64(r.Magnitude),
				Place: r.Place,
				Time:  position.EpochMillis(r.OccurredAt),
				Code:  r.Code,
			},
		})
	}
	return json.Marshal(out)
}
