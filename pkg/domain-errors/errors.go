// Package domainerrors carries service-level error codes. Stores return
// pkg/platform/sentinel errors; services translate them into a coded error
// here so transports can pick a status without inspecting storage details.
package domainerrors

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeBadRequest            Code = "bad_request"
	CodeInvalidInput          Code = "invalid_input"
	CodeValidation            Code = "validation_error"
	CodeNotFound              Code = "not_found"
	CodeConflict              Code = "conflict"
	CodeOutOfMemory           Code = "out_of_memory"
	CodeDecode                Code = "decode_error"
	CodeRandomnessUnavailable Code = "randomness_unavailable"
	CodeUnavailable           Code = "unavailable"
	CodeInvariantViolation    Code = "invariant_violation"
	CodeInternal              Code = "internal_error"
)

// Error is a coded domain error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode reports whether the outermost coded error in err's chain carries code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the outermost code in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }
