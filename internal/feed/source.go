package feed

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/roach88/positions/internal/position"
)

// DefaultURL is the USGS all-month summary feed.
const DefaultURL = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_month.geojson"

// Source fetches one fixed feed resource.
//
// Fetch performs no retry and applies no deadline beyond the one configured
// on the http.Client and the caller's context.
type Source struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithHTTPClient sets the client used for requests. Default: http.DefaultClient.
func WithHTTPClient(c *http.Client) SourceOption {
	return func(s *Source) {
		s.client = c
	}
}

// WithLogger sets the source's logger.
func WithLogger(l *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = l
	}
}

// NewSource creates a Source for url. An empty url selects DefaultURL.
func NewSource(url string, opts ...SourceOption) *Source {
	if url == "" {
		url = DefaultURL
	}
	s := &Source{
		url:    url,
		client: http.DefaultClient,
		logger: slog.Default().With("component", "provider"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// URL returns the fetched resource.
func (s *Source) URL() string {
	return s.url
}

// Fetch downloads and decodes the feed.
//
// Transport failures and non-2xx statuses fail with REQUEST_FAILED; a
// structurally invalid body fails with DECODING_FAILED wrapping the decoder's
// MALFORMED_PAYLOAD error.
func (s *Source) Fetch(ctx context.Context) ([]position.DecodedRecord, error) {
	s.logger.Debug("start fetching positions from server", "url", s.url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, http.NoBody)
	if err != nil {
		return nil, position.NewRequestFailedError(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, position.NewRequestFailedError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, position.NewRequestFailedError(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, position.NewRequestFailedError(fmt.Errorf("read body: %w", err))
	}

	records, err := Decode(body)
	if err != nil {
		return nil, position.NewDecodingFailedError(err)
	}

	s.logger.Debug("finish fetching positions from server", "records", len(records))
	return records, nil
}
