//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Kind classifies an Error by how a caller is expected to react to it.
type Kind int

const (
	// KindDevice is any failure reported by the reader or its driver
	// that doesn't fit a more specific Kind.
	// It is fatal to the enclosing workflow.
	KindDevice = Kind(iota)
	// KindConfig errors are detected before any device interaction:
	// bad antenna syntax, missing antenna list, unsupported protocol or region.
	KindConfig
	// KindCapability means the reader model doesn't support the parameter.
	// Session state is not affected.
	KindCapability
	// KindBufferFull is the non-fatal outcome of a read
	// that filled the reader's tag buffer.
	// Records already captured must still be drained.
	KindBufferFull
	// KindState is a lifecycle misuse,
	// such as reading before draining or starting an active background read.
	KindState
	// KindValidation is an invalid tag operation payload.
	KindValidation
)

var kindStrs = [...]string{
	KindDevice:     "device",
	KindConfig:     "configuration",
	KindCapability: "capability",
	KindBufferFull: "buffer full",
	KindState:      "state",
	KindValidation: "validation",
}

func (k Kind) String() string {
	if 0 <= int(k) && int(k) < len(kindStrs) {
		return kindStrs[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

var (
	ErrBufferFull          = errors.New("tag id buffer full")
	ErrNoMoreTags          = errors.New("no more tags")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrUnsupportedRegion   = errors.New("unsupported region")
	ErrInvalidRegion       = errors.New("reader doesn't support any regions")
	ErrNoAntennas          = errors.New("module doesn't have antenna detection support, antenna list required")
	ErrUnsupportedParam    = errors.New("unsupported parameter")
	ErrReadOnlyParam       = errors.New("read-only parameter")
	ErrClosed              = errors.New("session is closed")
	ErrNotDrained          = errors.New("previous read has not been drained")
	ErrAlreadyReading      = errors.New("background read already active")
	ErrNotReading          = errors.New("background read not active")
)

// Error is the single error type returned by Session operations.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.String())
	sb.WriteString(" error")
	if e.Op != "" {
		sb.WriteString(" ")
		sb.WriteString(e.Op)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Cause() error {
	return e.Err
}

// KindOf returns the Kind of err if it is or wraps an *Error.
// Errors from outside this package are KindDevice.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindDevice
}

func isKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// IsBufferFull reports whether err is the non-fatal buffer-full read outcome.
func IsBufferFull(err error) bool { return isKind(err, KindBufferFull) }

func IsConfig(err error) bool { return isKind(err, KindConfig) }

func IsCapability(err error) bool { return isKind(err, KindCapability) }

func IsState(err error) bool { return isKind(err, KindState) }

func IsValidation(err error) bool { return isKind(err, KindValidation) }

// asError converts a driver error into an *Error for op.
//
// Driver errors which already carry a Kind keep it;
// ErrBufferFull and ErrUnsupportedParam map to their Kinds;
// everything else is a device error.
func asError(op string, err error) error {
	if err == nil {
		return nil
	}

	var re *Error
	if errors.As(err, &re) {
		if re.Op == "" {
			return newError(re.Kind, op, re.Err)
		}
		return err
	}

	switch {
	case errors.Is(err, ErrBufferFull):
		return newError(KindBufferFull, op, err)
	case errors.Is(err, ErrUnsupportedParam):
		return newError(KindCapability, op, err)
	case errors.Is(err, ErrUnsupportedProtocol), errors.Is(err, ErrUnsupportedRegion):
		return newError(KindConfig, op, err)
	}
	return newError(KindDevice, op, err)
}
