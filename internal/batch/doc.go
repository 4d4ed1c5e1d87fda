// Package batch applies bulk inserts and deletes to the local store.
//
// Importer and the atomic Deleter operations each open a fresh
// store.WriteContext, perform exactly one atomic operation and close it.
// A successful operation appends one change-log transaction; the shared
// ReadContext sees it only after the history tracker merges it.
//
// Deleter.DeleteByIdentity is the exception: it works on the ReadContext
// itself, one record at a time, and reports nothing.
package batch
