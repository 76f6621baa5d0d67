// Package apperr classifies domain failures so every error that reaches the
// HTTP boundary carries one of a fixed set of kinds.
package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the failure class of a domain error.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
	KindNotFound          Kind = "not_found"
	KindForbidden         Kind = "forbidden"
	KindInvalidCredential Kind = "invalid_credential"
	KindAccountInactive   Kind = "account_inactive"
	KindGateway           Kind = "gateway"
	KindInternal          Kind = "internal"
)

// Error is a classified domain error.
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field messages for validation failures.
	Fields map[string]string
	// Payload is the raw provider body for gateway failures.
	Payload json.RawMessage
	// Status is the provider HTTP status for gateway failures.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation returns a ValidationError without field detail.
func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

// FieldValidation returns a ValidationError for a single field.
func FieldValidation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, Fields: map[string]string{field: msg}}
}

// Fields returns a ValidationError carrying several field messages.
func Fields(fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: "validation failed", Fields: fields}
}

// Conflict reports a violated state precondition.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// NotFound reports an absent entity.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Forbidden reports a failed authorization predicate.
func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// InvalidCredential reports a failed password or token check.
func InvalidCredential(msg string) *Error {
	return &Error{Kind: KindInvalidCredential, Message: msg}
}

// AccountInactive reports an authenticated but deactivated account.
func AccountInactive(msg string) *Error {
	return &Error{Kind: KindAccountInactive, Message: msg}
}

// Gateway reports an external provider failure with its raw payload attached.
func Gateway(msg string, status int, payload []byte, err error) *Error {
	e := &Error{Kind: KindGateway, Message: msg, Status: status, Err: err}
	if len(payload) > 0 {
		if json.Valid(payload) {
			e.Payload = json.RawMessage(payload)
		} else {
			quoted, _ := json.Marshal(string(payload))
			e.Payload = quoted
		}
	}
	return e
}

// Internal wraps an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf returns the kind of err, or KindInternal when err is not classified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
