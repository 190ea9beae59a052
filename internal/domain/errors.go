package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionConflict is returned by the index engine when a write
	// carries a version lower than or equal to the stored document
	// version. It means a newer change already landed; the write is
	// stale, not broken.
	ErrVersionConflict = errors.New("version conflict: stored document version is newer")

	// ErrDocumentNotFound is returned by partial updates against a
	// document that is not in the index. Transient: the create may still
	// be in flight on another domain stream.
	ErrDocumentNotFound = errors.New("document not found in index")

	// ErrDuplicateEvent marks an event whose ID already reached a
	// terminal outcome.
	ErrDuplicateEvent = errors.New("event already processed")

	// ErrStaleVersion marks an event outranked by an already applied
	// newer version of the same document.
	ErrStaleVersion = errors.New("event version is older than the applied document version")
)

// PermanentError marks a failure that will never succeed on retry: malformed
// envelopes, unknown event types, payloads missing required fields. The
// pipeline dead-letters these immediately instead of retrying.
type PermanentError struct {
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

// Unwrap returns the underlying error.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a permanent failure with the given reason.
// err may be nil when the reason alone describes the failure.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// IsPermanent reports whether err is classified as permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// IsVersionConflict reports whether err is a stale-write rejection.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// IsTransient reports whether err is worth retrying: neither permanent nor
// a version conflict.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return Classify(err) == ErrorClassTransient
}

// ErrorClass partitions failures for dead-letter bookkeeping and retry
// decisions.
type ErrorClass string

const (
	ErrorClassPermanent ErrorClass = "permanent"
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassConflict  ErrorClass = "conflict"
)

// Classify maps an error to its class. Anything neither permanent nor a
// version conflict is assumed transient and eligible for retry.
func Classify(err error) ErrorClass {
	switch {
	case IsVersionConflict(err):
		return ErrorClassConflict
	case IsPermanent(err):
		return ErrorClassPermanent
	default:
		return ErrorClassTransient
	}
}
