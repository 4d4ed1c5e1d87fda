// Package feed fetches and decodes the remote earthquake feed.
//
// The feed is a GeoJSON FeatureCollection. Each feature carries a
// properties object with mag, place, time (epoch milliseconds) and code.
//
// Decoding is defensive: the top-level document is checked against an
// embedded JSON Schema and rejected with MALFORMED_PAYLOAD when it is not an
// object with a features array, but individual features that are missing a
// field (or carry one of the wrong shape) are logged and skipped. A single bad
// entry never fails the batch.
package feed
