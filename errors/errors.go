// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package errors wraps pkg/errors and adds coded errors so that a caller can
// check the kind of failure with Is() even after the error has been Wrap'd
// with additional context on its way up the stack.
package errors

import (
	"github.com/pkg/errors"
)

// Code is an error code which can be used to check a wrapped error's kind,
// e.g. with Is(err, NotFound).
type Code string

// New returns a new coded error carrying message, with a stack trace
// attached at the call site.
func New(code Code, message string) error {
	return errors.WithStack(codedError{Code: code, Message: message})
}

// NewWrapping is New, but preserves cause in the error chain via Unwrap so
// both the coded message and the original failure survive. Cause stops at
// the coded error and does not return cause.
func NewWrapping(cause error, code Code, message string) error {
	return errors.WithStack(codedError{Code: code, Message: message, cause: cause})
}

// Is reports whether err, or any error in its Wrap chain, carries code.
func Is(err error, code Code) bool {
	return errors.Is(err, codedError{Code: code})
}

// Cause unwraps err down to its root cause.
func Cause(err error) error {
	return errors.Cause(err)
}

// Wrap annotates err with message while preserving its Code for Is().
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// codedError is the fundamental type used by this package to provide coded
// errors that survive Wrap.
type codedError struct {
	Code    Code
	Message string
	cause   error
}

func (ce codedError) Error() string {
	if ce.cause != nil {
		return ce.Message + ": " + ce.cause.Error()
	}
	return ce.Message
}

func (ce codedError) Unwrap() error {
	return ce.cause
}

func (ce codedError) Is(err error) bool {
	e, ok := err.(codedError)
	return ok && ce.Code == e.Code
}
