// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package status defines the outcome of every binding and scheduling operation.
//
// Operations return a plain error: nil means success, and a failure wraps one of the sentinel
// errors below, so callers can either test with errors.Is or map the error to a Code with Of.
// Errors coming from an accelerator driver are returned untouched and map to HardwareFailure.
package status

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the numeric status of an operation.
type Code int

const (
	OK Code = iota
	InvalidHandle
	InvalidArgument
	SizeMismatch
	PartialUpdate
	AlreadyBound
	IncompleteSet
	NotGenerated
	NotCommitted
	SessionBusy
	NotRunning
	HardwareFailure
)

var codeNames = [...]string{
	OK:              "OK",
	InvalidHandle:   "InvalidHandle",
	InvalidArgument: "InvalidArgument",
	SizeMismatch:    "SizeMismatch",
	PartialUpdate:   "PartialUpdate",
	AlreadyBound:    "AlreadyBound",
	IncompleteSet:   "IncompleteSet",
	NotGenerated:    "NotGenerated",
	NotCommitted:    "NotCommitted",
	SessionBusy:     "SessionBusy",
	NotRunning:      "NotRunning",
	HardwareFailure: "HardwareFailure",
}

// String implements fmt.Stringer.
func (c Code) String() string {
	if c < 0 || int(c) >= len(codeNames) {
		return fmt.Sprintf("Code(%d)", int(c))
	}
	return codeNames[c]
}

// Error is the sentinel type carrying a Code.
type Error struct {
	code Code
	msg  string
}

// Error implements the error interface.
func (e *Error) Error() string { return e.msg }

// Code returns the status code of the sentinel.
func (e *Error) Code() Code { return e.code }

var (
	// ErrInvalidHandle is returned for an unregistered model id or an out-of-range session or inference index.
	ErrInvalidHandle = &Error{InvalidHandle, "invalid handle"}

	// ErrInvalidArgument is returned for malformed input: zero counts, nil objects, invalid tables.
	ErrInvalidArgument = &Error{InvalidArgument, "invalid argument"}

	// ErrSizeMismatch is returned when a memory object's size does not match what is being bound.
	ErrSizeMismatch = &Error{SizeMismatch, "size mismatch"}

	// ErrPartialUpdate is returned when binding to a descriptor that doesn't cover its whole region.
	ErrPartialUpdate = &Error{PartialUpdate, "partial update rejected"}

	// ErrAlreadyBound is returned when binding a region that already holds a memory object.
	ErrAlreadyBound = &Error{AlreadyBound, "region already bound"}

	// ErrIncompleteSet is returned when an execution set still has unbound regions.
	ErrIncompleteSet = &Error{IncompleteSet, "incomplete execution set"}

	// ErrNotGenerated is returned when using an execution set that was cleared or never generated.
	ErrNotGenerated = &Error{NotGenerated, "execution set not generated"}

	// ErrNotCommitted is returned when executing a session whose buffers were not committed.
	ErrNotCommitted = &Error{NotCommitted, "session not committed"}

	// ErrSessionBusy is returned when a session is driven while a previous execution is in flight.
	ErrSessionBusy = &Error{SessionBusy, "session busy"}

	// ErrNotRunning is returned when waiting on a session that has no execution in flight.
	ErrNotRunning = &Error{NotRunning, "session not running"}
)

// Errorf returns an error wrapping the sentinel err with the formatted message and a stack trace.
func Errorf(err *Error, format string, args ...any) error {
	return errors.Wrapf(err, format, args...)
}

// Of returns the Code of err: OK for nil, the sentinel's code if err wraps one of this package's
// sentinels, and HardwareFailure for anything else (driver errors).
func Of(err error) Code {
	if err == nil {
		return OK
	}
	var statusErr *Error
	if errors.As(err, &statusErr) {
		return statusErr.code
	}
	return HardwareFailure
}
