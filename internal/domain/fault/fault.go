// SPDX-License-Identifier: MIT

// Package fault defines the typed error surface shared by the domain
// services. The API layer maps codes to HTTP statuses; services attach
// structured details where the client needs them (e.g. device mismatch).
package fault

import (
	"errors"
	"fmt"
)

// Code enumerates the error kinds of the service.
type Code string

const (
	CodeBadRequest          Code = "BAD_REQUEST"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeDeviceMismatch      Code = "DEVICE_MISMATCH"
	CodeNotFound            Code = "NOT_FOUND"
	CodeInvalidState        Code = "INVALID_STATE"
	CodeIdempotencyConflict Code = "IDEMPOTENCY_CONFLICT"
	CodeInternal            Code = "INTERNAL"
)

// Fault is a typed service error.
type Fault struct {
	Code    Code
	Message string
	Details map[string]any
	cause   error
}

func (f *Fault) Error() string {
	if f.cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.cause)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

func (f *Fault) Unwrap() error { return f.cause }

// New creates a fault with the given code and message.
func New(code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message, preserving the cause chain.
func Wrap(err error, code Code, format string, args ...any) *Fault {
	return &Fault{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// WithDetail attaches a structured detail field and returns the fault.
func (f *Fault) WithDetail(key string, value any) *Fault {
	if f.Details == nil {
		f.Details = make(map[string]any)
	}
	f.Details[key] = value
	return f
}

// CodeOf extracts the fault code from err, or CodeInternal for plain errors.
func CodeOf(err error) Code {
	var f *Fault
	if errors.As(err, &f) {
		return f.Code
	}
	return CodeInternal
}

// As unwraps err into a *Fault if possible.
func As(err error) (*Fault, bool) {
	var f *Fault
	ok := errors.As(err, &f)
	return f, ok
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
