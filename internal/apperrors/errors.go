package apperrors

import (
	"errors"
	"fmt"
)

// RetryableError indicates an error that might be resolved by retrying,
// typically NAKed back to JetStream.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryable wraps err as a RetryableError with a formatted message prefix.
func NewRetryable(err error, message string, args ...interface{}) error {
	return &RetryableError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// FatalError indicates an error that will not be resolved by retrying.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// NewFatal wraps err as a FatalError with a formatted message prefix.
func NewFatal(err error, message string, args ...interface{}) error {
	return &FatalError{Err: fmt.Errorf(message+": %w", append(args, err)...)}
}

// Sentinel errors checked with errors.Is across the service.
var (
	// ErrNotFound indicates a requested resource was not found.
	ErrNotFound = errors.New("resource not found")
	// ErrValidation indicates missing or malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrDatabase indicates a general database interaction error.
	ErrDatabase = errors.New("database error")
	// ErrNATS indicates a NATS communication error.
	ErrNATS = errors.New("nats communication error")
	// ErrUpstream indicates an external collaborator call failed.
	ErrUpstream = errors.New("upstream unavailable")
	// ErrRejected indicates a business rule refused the request.
	ErrRejected = errors.New("rejected by policy")
	// ErrDuplicate indicates a conflict due to duplicate data.
	ErrDuplicate = errors.New("duplicate resource")
	// ErrBadRequest indicates a malformed request from the caller.
	ErrBadRequest = errors.New("bad request")
	// ErrTimeout indicates an operation timed out.
	ErrTimeout = errors.New("operation timeout")
	// ErrConflict indicates the request was already accepted once.
	ErrConflict = errors.New("request already accepted")
)

func IsRetryable(err error) bool {
	var target *RetryableError
	return errors.As(err, &target)
}

func IsFatal(err error) bool {
	var target *FatalError
	return errors.As(err, &target)
}

// IsNotFoundError checks if the error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDatabaseError checks if the error is or wraps ErrDatabase.
func IsDatabaseError(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsNATSError checks if the error is or wraps ErrNATS.
func IsNATSError(err error) bool {
	return errors.Is(err, ErrNATS)
}

// IsUpstreamError checks if the error is or wraps ErrUpstream.
func IsUpstreamError(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// IsDuplicateError checks if the error is or wraps ErrDuplicate.
func IsDuplicateError(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsConflictError checks if the error is or wraps ErrConflict.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsBadRequestError checks if the error is or wraps ErrBadRequest.
func IsBadRequestError(err error) bool {
	return errors.Is(err, ErrBadRequest)
}
