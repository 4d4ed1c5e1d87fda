// Package position defines the core types shared by every layer of the
// positions replication engine.
//
// A Record is one persisted seismic event. Records are created only by the
// batch importer from a DecodedRecord and destroyed only by the batch deleter;
// there is no update path.
//
// # Identity
//
// Two identities exist side by side:
//   - Code: the externally supplied event code from the remote feed
//   - ID: the store-assigned RecordID (UUIDv7), used by delete-by-identity
//
// # Derived Fields
//
// CanonicalPlace is derived from Place by CanonicalPlace (NFC normalization
// followed by Unicode case folding). Search filters compare against it.
//
// # Errors
//
// All failures surfaced past a component boundary are *Error values carrying
// an ErrorCode. Use IsCode (or the Is* helpers) to classify them; wrapping
// with fmt.Errorf("...: %w", err) is preserved.
package position
