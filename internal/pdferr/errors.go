// Package pdferr defines the coded error taxonomy shared by the transform
// pipeline, the codec and the persistence sinks.
package pdferr

import (
	"errors"
	"fmt"
)

// Code categorizes a failure so callers can decide how to surface it.
type Code string

const (
	// CodeLoad means input bytes could not be parsed as a document.
	CodeLoad Code = "LOAD"
	// CodeValidation means a caller precondition failed before any load.
	CodeValidation Code = "VALIDATION"
	// CodeRange means a page index outside its source document was requested.
	CodeRange Code = "RANGE"
	// CodeSerialize means the built document could not be written out.
	CodeSerialize Code = "SERIALIZE"
	// CodePersistence means a remote upload, record write or hand-off failed.
	CodePersistence Code = "PERSISTENCE"
	// CodeBusy means a job is already running on the same job state.
	CodeBusy Code = "BUSY"
)

// Error is a structured error carrying a Code, a message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches a target *Error by code, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps cause with the given code and message.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is.
var (
	ErrLoad        = &Error{Code: CodeLoad}
	ErrValidation  = &Error{Code: CodeValidation}
	ErrRange       = &Error{Code: CodeRange}
	ErrSerialize   = &Error{Code: CodeSerialize}
	ErrPersistence = &Error{Code: CodePersistence}
	ErrBusy        = &Error{Code: CodeBusy, Message: "a job is already running"}
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// IsFatal reports whether err should fail a job. Persistence failures never do.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	code, ok := CodeOf(err)
	return !ok || code != CodePersistence
}
