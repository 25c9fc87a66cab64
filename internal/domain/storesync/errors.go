package storesync

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Error categories
// ---------------------------------------------------------------------------

var (
	// ErrNotFound means a referenced store, job or tenant does not exist.
	ErrNotFound = errors.New("storesync: not found")
	// ErrPrecondition means the store is not in a state that allows the operation.
	ErrPrecondition = errors.New("storesync: precondition failed")
	// ErrConflict means another operation already holds the resource.
	ErrConflict = errors.New("storesync: conflict")
	// ErrSourceUnavailable means the store API could not be reached (network, timeout, 429, 5xx).
	ErrSourceUnavailable = errors.New("storesync: source unavailable")
	// ErrInvalidCredential means the store API rejected the access token (401/403).
	ErrInvalidCredential = errors.New("storesync: invalid credential")
	// ErrPersistence means a record could not be written.
	ErrPersistence = errors.New("storesync: persistence failed")
	// ErrValidation means the caller supplied an invalid argument.
	ErrValidation = errors.New("storesync: validation failed")
)

// ---------------------------------------------------------------------------
// Specific errors
// ---------------------------------------------------------------------------

var (
	ErrStoreNotFound = fmt.Errorf("%w: store", ErrNotFound)
	ErrJobNotFound   = fmt.Errorf("%w: sync job", ErrNotFound)

	ErrStoreNotConnected = fmt.Errorf("%w: store is not connected", ErrPrecondition)
	ErrMissingCredential = fmt.Errorf("%w: store has no access token", ErrPrecondition)

	ErrSyncInProgress = fmt.Errorf("%w: sync already in progress", ErrConflict)
	ErrDomainTaken    = fmt.Errorf("%w: shop domain already connected", ErrConflict)

	ErrSourceRequestFailed = errors.New("storesync: source request failed")
	ErrInvalidRecord       = errors.New("storesync: invalid record")
	ErrInvalidTransition   = errors.New("storesync: invalid job status transition")

	ErrInvalidDomain    = fmt.Errorf("%w: invalid shop domain", ErrValidation)
	ErrInvalidSyncType  = fmt.Errorf("%w: invalid sync type", ErrValidation)
	ErrInvalidFrequency = fmt.Errorf("%w: invalid sync frequency", ErrValidation)
	ErrInvalidPeriod    = fmt.Errorf("%w: invalid statistics period", ErrValidation)
	ErrUnsupportedTopic = fmt.Errorf("%w: unsupported webhook topic", ErrValidation)
)

// IsNotFound reports whether err is in the not-found category.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsPrecondition reports whether err is in the precondition category.
func IsPrecondition(err error) bool { return errors.Is(err, ErrPrecondition) }

// IsConflict reports whether err is in the conflict category.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsSourceUnavailable reports whether err is a recoverable store API failure.
func IsSourceUnavailable(err error) bool { return errors.Is(err, ErrSourceUnavailable) }

// IsInvalidCredential reports whether the store API rejected the credential.
func IsInvalidCredential(err error) bool { return errors.Is(err, ErrInvalidCredential) }

// ---------------------------------------------------------------------------
// RecordError
// ---------------------------------------------------------------------------

// RecordError is a failure scoped to a single external record. Batch operations
// return a list of these instead of failing as a whole.
type RecordError struct {
	Kind       ResourceKind
	ExternalID int64
	Err        error
}

// NewRecordError wraps err for the given record.
func NewRecordError(kind ResourceKind, externalID int64, err error) RecordError {
	return RecordError{Kind: kind, ExternalID: externalID, Err: err}
}

// Error implements the error interface
func (e RecordError) Error() string {
	return fmt.Sprintf("%s %d: %v", e.Kind.Singular(), e.ExternalID, e.Err)
}

// Unwrap returns the underlying error
func (e RecordError) Unwrap() error {
	return e.Err
}
