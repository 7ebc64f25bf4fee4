package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrBadCredential   = errors.New("invalid credential")
	ErrSessionExpired  = errors.New("upload session expired")
	ErrSessionConsumed = errors.New("upload session already consumed")
	ErrAlreadyTerminal = errors.New("job already in a terminal status")
)

// Code is the machine-readable error code carried in API responses.
type Code string

const (
	CodeInvalidCredential   Code = "invalid_credential"
	CodeRateLimited         Code = "rate_limited"
	CodeTooManyUploads      Code = "too_many_uploads"
	CodeDuplicateInFlight   Code = "duplicate_in_flight"
	CodeInvalidDocumentType Code = "invalid_document_type"
	CodeFileTooLarge        Code = "file_too_large"
	CodeInvalidRequest      Code = "invalid_request"
	CodeSessionExpired      Code = "upload_session_expired"
	CodeSessionConsumed     Code = "upload_session_consumed"
	CodeAlreadyTerminal     Code = "already_terminal"
	CodeNotFound            Code = "not_found"
	CodeForbidden           Code = "forbidden"
)

// AdmissionError is a synchronous rejection on the submission path. Each
// code maps to its own HTTP status; none of them collapse into a 500.
type AdmissionError struct {
	Code       Code
	Message    string
	RetryAfter time.Duration
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission rejected (%s): %s", e.Code, e.Message)
}

// InvalidTransitionError reports a status update the state machine forbids.
type InvalidTransitionError struct {
	JobID string
	From  Status
	To    Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("job %s: invalid transition %s -> %s", e.JobID, e.From, e.To)
}
