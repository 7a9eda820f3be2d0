package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine error so callers can render a specific failure
// instead of a generic one.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindPermissionDenied Kind = "permission_denied"
	KindConflict         Kind = "conflict"
	KindValidation       Kind = "validation"
)

// Conflict codes surfaced by the lock coordinator and metadata updates.
const (
	CodeAlreadyCheckedOut     = "already_checked_out"
	CodeNotCheckedOut         = "not_checked_out"
	CodeNotCheckedOutByCaller = "not_checked_out_by_caller"
	CodeStaleRecord           = "stale_record"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details any
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func notFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

func denied(message string) *Error {
	return &Error{Kind: KindPermissionDenied, Code: "permission_denied", Message: message}
}

func conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

func invalid(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

func kindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsNotFound(err error) bool         { return kindOf(err) == KindNotFound }
func IsPermissionDenied(err error) bool { return kindOf(err) == KindPermissionDenied }
func IsConflict(err error) bool         { return kindOf(err) == KindConflict }
func IsValidation(err error) bool       { return kindOf(err) == KindValidation }

// ErrorCode extracts the code from an engine error, or "" for other errors.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
