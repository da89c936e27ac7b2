//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"context"
	"time"

	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

// Driver is the low-level reader driver a Session orchestrates.
// It owns the byte-level command/response codec for a reader family.
//
// A Driver is never used concurrently: the Session serializes every call.
// Errors may be *Error values with a Kind, or plain errors;
// the Session treats ErrBufferFull and ErrUnsupportedParam specially
// and anything else as a device error.
type Driver interface {
	Connect(ctx context.Context) error
	Close() error

	// ParamGet returns a parameter's value, or ErrUnsupportedParam.
	ParamGet(p Param) (interface{}, error)
	// ParamSet sets a parameter's value, or returns ErrUnsupportedParam.
	ParamSet(p Param, v interface{}) error

	// Read runs the active read plan for up to d,
	// or until the plan's stop trigger fires,
	// and leaves the captured records in the reader's tag buffer.
	// If the buffer fills first, Read returns ErrBufferFull.
	Read(ctx context.Context, d time.Duration) error
	// HasMoreTags reports whether the tag buffer has undrained records.
	HasMoreTags() bool
	// GetNextTag removes and returns the oldest record in the tag buffer,
	// or returns ErrNoMoreTags.
	GetNextTag() (TagReadData, error)

	// ExecuteTagOp runs op against every tag matching filter,
	// or the active read plan's population if filter is nil.
	ExecuteTagOp(ctx context.Context, op TagOp, filter TagFilter) ([]TagOpResult, error)

	// AddTransportListener installs a tap on the driver's byte traffic.
	AddTransportListener(l TransportListener)
}

// TransportListener observes raw bytes sent to (tx) or received from the reader.
type TransportListener = transport.Listener
