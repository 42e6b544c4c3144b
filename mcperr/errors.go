// Package mcperr defines the structured failures returned by the dispatch
// engine. Every failure that crosses the dispatch boundary is an *Error with a
// Code; handler-raised errors are wrapped rather than replaced so callers can
// still match them with errors.Is / errors.As.
package mcperr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code classifies a failure.
type Code string

const (
	// CodeNotFound means no handler, template or record matched.
	CodeNotFound Code = "not_found"
	// CodeAmbiguousMatch means two or more templates of equal best specificity matched a URI.
	CodeAmbiguousMatch Code = "ambiguous_match"
	// CodeAmbiguousTemplate means a template overlaps an existing one at equal specificity.
	CodeAmbiguousTemplate Code = "ambiguous_template"
	// CodeDuplicateName means a name or byte-identical template is already registered.
	CodeDuplicateName Code = "duplicate_name"
	// CodeValidation means one or more arguments failed validation. See Error.Fields.
	CodeValidation Code = "validation_error"
	// CodePermissionDenied means the access-control collaborator refused the call.
	CodePermissionDenied Code = "permission_denied"
	// CodeOverloaded means the worker pool queue is full.
	CodeOverloaded Code = "overloaded"
	// CodeProgressOrder means a handler reported progress out of order.
	CodeProgressOrder Code = "progress_order_error"
	// CodeTransient is declared by handlers for failures a caller may retry.
	CodeTransient Code = "transient_error"
	// CodeInternal is an unexpected failure.
	CodeInternal Code = "internal_error"
	// CodeCancelled means the invocation was cancelled or timed out.
	CodeCancelled Code = "cancelled"
	// CodeHandlerFailed wraps an ordinary error returned by a handler.
	CodeHandlerFailed Code = "handler_failed"
)

// Reason is the cause of a single field validation failure.
type Reason string

const (
	ReasonMissingRequired Reason = "MissingRequired"
	ReasonTypeMismatch    Reason = "TypeMismatch"
	ReasonOutOfRange      Reason = "OutOfRange"
	ReasonPatternMismatch Reason = "PatternMismatch"
	ReasonNotInChoices    Reason = "NotInChoices"
)

// FieldError describes why one argument failed validation. Path is the
// parameter name, extended with ".field" and "[i]" for nested values.
type FieldError struct {
	Path    string `json:"path"`
	Reason  Reason `json:"reason"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	if f.Message == "" {
		return fmt.Sprintf("%s: %s", f.Path, f.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", f.Path, f.Reason, f.Message)
}

// Error is the structured failure type of the dispatch engine.
type Error struct {
	Code    Code
	Message string
	// Cause is the wrapped underlying error, if any.
	Cause error
	// Fields lists every field failure for CodeValidation.
	Fields []FieldError
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = f.String()
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(parts, "; "))
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by code so errors.Is(err, &Error{Code: c}) works
// as a code check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == "" && t.Cause == nil
}

// HasReason reports whether any field failed with r.
func (e *Error) HasReason(path string, r Reason) bool {
	for _, f := range e.Fields {
		if f.Reason == r && (path == "" || f.Path == path) {
			return true
		}
	}
	return false
}

// New returns an *Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap returns an *Error that preserves cause, with a stack attached to it.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	if cause != nil {
		cause = errors.WithStack(cause)
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Validation returns a CodeValidation error carrying every field failure.
func Validation(fields []FieldError) *Error {
	return &Error{Code: CodeValidation, Message: "invalid arguments", Fields: fields}
}

// Transient marks err as retryable by the caller.
func Transient(err error) *Error {
	return &Error{Code: CodeTransient, Message: "transient failure", Cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, CodeInternal
// for any other non-nil error, and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Retryable reports whether the caller may retry err with backoff.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTransient, CodeOverloaded:
		return true
	}
	return false
}
