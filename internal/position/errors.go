package position

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes position errors.
type ErrorCode string

const (
	// ErrCodeMalformedPayload indicates the top-level feed document is structurally invalid.
	ErrCodeMalformedPayload ErrorCode = "MALFORMED_PAYLOAD"

	// ErrCodeMissingField indicates a feed entry lacks a required field. Absorbed by the decoder.
	ErrCodeMissingField ErrorCode = "MISSING_FIELD"

	// ErrCodeRequestFailed indicates a transport failure or non-success HTTP status.
	ErrCodeRequestFailed ErrorCode = "REQUEST_FAILED"

	// ErrCodeDecodingFailed indicates the fetched body could not be decoded.
	ErrCodeDecodingFailed ErrorCode = "DECODING_FAILED"

	// ErrCodeBatchInsert indicates a bulk insert was rejected as a whole.
	ErrCodeBatchInsert ErrorCode = "BATCH_INSERT_FAILED"

	// ErrCodeBatchDelete indicates a bulk delete was rejected as a whole.
	ErrCodeBatchDelete ErrorCode = "BATCH_DELETE_FAILED"

	// ErrCodeHistoryFetch indicates the change log could not be fetched or merged.
	ErrCodeHistoryFetch ErrorCode = "HISTORY_FETCH_FAILED"

	// ErrCodeUnexpected wraps anything else.
	ErrCodeUnexpected ErrorCode = "UNEXPECTED"
)

// ErrNoNewHistory is returned by a merge cycle that found no transactions
// after the cursor. It is benign.
var ErrNoNewHistory = &Error{
	Code:    ErrCodeHistoryFetch,
	Message: "No persistent history transactions found.",
}

// Error is the typed failure returned across component boundaries.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Field names the offending feed field (MISSING_FIELD only).
	Field string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Description returns the message without the code prefix, for display.
func (e *Error) Description() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %v", e.Message, e.Err)
	}
	return e.Message
}

// IsCode reports whether err (or anything it wraps) is an *Error with code.
func IsCode(err error, code ErrorCode) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}

// CodeOf returns the code of the first *Error in err's chain, or
// ErrCodeUnexpected when there is none.
func CodeOf(err error) ErrorCode {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeUnexpected
}

// IsNoNewHistory reports whether err is the benign empty-history result.
func IsNoNewHistory(err error) bool {
	return errors.Is(err, ErrNoNewHistory)
}

// NewMalformedPayloadError creates an error for a structurally invalid feed.
func NewMalformedPayloadError(cause error) *Error {
	return &Error{
		Code:    ErrCodeMalformedPayload,
		Message: "Could not digest the fetched data.",
		Err:     cause,
	}
}

// NewMissingFieldError creates an error for a feed entry lacking field.
func NewMissingFieldError(field string) *Error {
	return &Error{
		Code:    ErrCodeMissingField,
		Message: "Found and will discard a quake missing a valid code, magnitude, place, or time.",
		Field:   field,
	}
}

// NewRequestFailedError creates an error for a failed fetch.
func NewRequestFailedError(cause error) *Error {
	return &Error{
		Code:    ErrCodeRequestFailed,
		Message: "Request failed.",
		Err:     cause,
	}
}

// NewDecodingFailedError creates an error for an undecodable response body.
func NewDecodingFailedError(cause error) *Error {
	return &Error{
		Code:    ErrCodeDecodingFailed,
		Message: "Decoding failed.",
		Err:     cause,
	}
}

// NewBatchInsertError creates an error for a rejected bulk insert.
func NewBatchInsertError(cause error) *Error {
	return &Error{
		Code:    ErrCodeBatchInsert,
		Message: "Failed to execute a batch insert request.",
		Err:     cause,
	}
}

// NewBatchDeleteError creates an error for a rejected bulk delete.
func NewBatchDeleteError(cause error) *Error {
	return &Error{
		Code:    ErrCodeBatchDelete,
		Message: "Failed to execute a batch delete request.",
		Err:     cause,
	}
}

// NewHistoryFetchError creates an error for a failed history fetch or merge.
func NewHistoryFetchError(cause error) *Error {
	return &Error{
		Code:    ErrCodeHistoryFetch,
		Message: "Failed to execute a persistent history change request.",
		Err:     cause,
	}
}

// NewUnexpectedError wraps an unclassified failure.
func NewUnexpectedError(cause error) *Error {
	return &Error{
		Code:    ErrCodeUnexpected,
		Message: "Received unexpected error.",
		Err:     cause,
	}
}
