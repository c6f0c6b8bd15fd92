// ABOUTME: Error taxonomy for the store: sentinels, typed wrappers, and classification
// ABOUTME: Lets callers tell duplicates and misses apart from storage and merge faults

package store

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateVouch is returned when a vouch with the same seller, namespace,
// image hash and description hash already exists
var ErrDuplicateVouch = errors.New("duplicate vouch: same seller, image and text")

// ErrInvalidRating is returned when a rating is outside 0..5
var ErrInvalidRating = errors.New("rating must be between 0 and 5")

// ErrInvalidMuteKind is returned for mute kinds other than vouch and reply
var ErrInvalidMuteKind = errors.New("invalid mute kind")

// ErrInvalidVouch is returned when a bulk import contains a missing record
var ErrInvalidVouch = errors.New("invalid vouch")

// ErrorKind classifies store errors for callers that report them to end users.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindDuplicateVouch
	KindNotFound
	KindInvalid
	KindStorage
	KindIntegrity
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindDuplicateVouch:
		return "duplicate_vouch"
	case KindNotFound:
		return "not_found"
	case KindInvalid:
		return "invalid"
	case KindStorage:
		return "storage"
	case KindIntegrity:
		return "integrity"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// StorageError wraps an I/O or engine failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IntegrityError is returned when a merge or bulk transaction failed and was
// rolled back. No partial state from the transaction is visible.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("store %s rolled back: %v", e.Op, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// KindOf classifies err. Context errors are reported as storage faults since
// the caller abandoned the wait, not the operation.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var ie *IntegrityError
	var se *StorageError
	switch {
	case errors.Is(err, ErrDuplicateVouch):
		return KindDuplicateVouch
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidRating), errors.Is(err, ErrInvalidMuteKind), errors.Is(err, ErrInvalidVouch):
		return KindInvalid
	case errors.As(err, &ie):
		return KindIntegrity
	case errors.As(err, &se):
		return KindStorage
	default:
		return KindStorage
	}
}

// storageErr wraps err as a StorageError unless it is nil or already classified.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateVouch) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint
// violation. NOT NULL and CHECK failures are not duplicates.
func isConstraintViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if the error is a SQLite FOREIGN KEY violation
func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
