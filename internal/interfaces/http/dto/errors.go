package dto

import (
	"errors"
	"net/http"

	"github.com/storesync/backend/internal/domain/storesync"
)

// Error codes, ERR_<CATEGORY>
const (
	ErrCodeInternal          = "ERR_INTERNAL"
	ErrCodeValidation        = "ERR_VALIDATION"
	ErrCodeBadRequest        = "ERR_BAD_REQUEST"
	ErrCodeUnauthorized      = "ERR_UNAUTHORIZED"
	ErrCodeNotFound          = "ERR_NOT_FOUND"
	ErrCodeConflict          = "ERR_CONFLICT"
	ErrCodeSyncInProgress    = "ERR_SYNC_IN_PROGRESS"
	ErrCodePrecondition      = "ERR_PRECONDITION_FAILED"
	ErrCodeSourceUnavailable = "ERR_SOURCE_UNAVAILABLE"
	ErrCodeInvalidCredential = "ERR_INVALID_CREDENTIAL"
	ErrCodeRateLimited       = "ERR_RATE_LIMITED"
	ErrCodeRequestTooLarge   = "ERR_REQUEST_TOO_LARGE"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:          http.StatusInternalServerError,
	ErrCodeValidation:        http.StatusBadRequest,
	ErrCodeBadRequest:        http.StatusBadRequest,
	ErrCodeUnauthorized:      http.StatusUnauthorized,
	ErrCodeNotFound:          http.StatusNotFound,
	ErrCodeConflict:          http.StatusConflict,
	ErrCodeSyncInProgress:    http.StatusConflict,
	ErrCodePrecondition:      http.StatusPreconditionFailed,
	ErrCodeSourceUnavailable: http.StatusBadGateway,
	ErrCodeInvalidCredential: http.StatusUnauthorized,
	ErrCodeRateLimited:       http.StatusTooManyRequests,
	ErrCodeRequestTooLarge:   http.StatusRequestEntityTooLarge,
}

// GetHTTPStatus returns the status for code, 500 when unknown
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// ErrorCodeFor classifies a domain error. ok is false for errors outside the
// domain taxonomy, which callers report as internal errors.
func ErrorCodeFor(err error) (code string, ok bool) {
	switch {
	case errors.Is(err, storesync.ErrSyncInProgress):
		return ErrCodeSyncInProgress, true
	case storesync.IsNotFound(err):
		return ErrCodeNotFound, true
	case storesync.IsPrecondition(err):
		return ErrCodePrecondition, true
	case storesync.IsConflict(err):
		return ErrCodeConflict, true
	case storesync.IsInvalidCredential(err):
		return ErrCodeInvalidCredential, true
	case storesync.IsSourceUnavailable(err):
		return ErrCodeSourceUnavailable, true
	case errors.Is(err, storesync.ErrValidation), errors.Is(err, storesync.ErrInvalidRecord):
		return ErrCodeValidation, true
	default:
		return ErrCodeInternal, false
	}
}
