// Package apperrors classifies errors along the taxonomy in spec §7:
// ValidationFailure, TransientProviderFailure, PermanentProviderFailure,
// AuthFailure, StorageFailure, BrokerFailure, and DBConflict.
// Code.Retryable reports the retry/no-retry split for each code.
// Intake and the HTTP layer use these errors; the worker's job-level
// retry-vs-DLQ step does not consult this classification.
package apperrors

import "fmt"

// Code is the taxonomy tag for an AppError.
type Code string

const (
	CodeValidation         Code = "VALIDATION_FAILURE"
	CodeTransientProvider  Code = "TRANSIENT_PROVIDER_FAILURE"
	CodePermanentProvider  Code = "PERMANENT_PROVIDER_FAILURE"
	CodeAuth               Code = "AUTH_FAILURE"
	CodeStorage            Code = "STORAGE_FAILURE"
	CodeBroker             Code = "BROKER_FAILURE"
	CodeDBConflict         Code = "DB_CONFLICT"
	CodeInternal           Code = "INTERNAL_ERROR"
	CodeDuplicateJob       Code = "DUPLICATE_JOB"
)

// AppError is a classified application error. It wraps an underlying
// cause so callers can still use errors.Is/errors.As.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func New(code Code, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Err: cause}
}

func NewValidation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func NewTransientProvider(message string, err error) *AppError {
	return &AppError{Code: CodeTransientProvider, Message: message, Err: err}
}

func NewPermanentProvider(message string, err error) *AppError {
	return &AppError{Code: CodePermanentProvider, Message: message, Err: err}
}

func NewAuth(message string, err error) *AppError {
	return &AppError{Code: CodeAuth, Message: message, Err: err}
}

func NewStorage(message string, err error) *AppError {
	return &AppError{Code: CodeStorage, Message: message, Err: err}
}

func NewBroker(message string, err error) *AppError {
	return &AppError{Code: CodeBroker, Message: message, Err: err}
}

func NewDuplicateJob(filename string) *AppError {
	return &AppError{Code: CodeDuplicateJob, Message: "mailing already exists for filename " + filename}
}

// Retryable reports whether an error of this code should be retried
// by the Retry Policy rather than routed straight to DLQ.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransientProvider, CodeStorage, CodeBroker, CodeInternal:
		return true
	case CodeValidation, CodePermanentProvider, CodeDuplicateJob:
		return false
	default:
		return true
	}
}

// As is a small helper to classify an arbitrary error, defaulting
// unknown errors to a retryable internal failure so unexpected
// exceptions are not silently swallowed.
func As(err error) *AppError {
	if err == nil {
		return nil
	}
	if ae, ok := err.(*AppError); ok {
		return ae
	}
	return &AppError{Code: CodeInternal, Message: err.Error(), Err: err}
}
