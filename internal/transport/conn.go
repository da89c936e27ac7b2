//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package transport moves command and response bytes between a driver and a reader.
package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Conn is a byte link to a reader.
// Drivers own their Conn and never use it concurrently.
type Conn interface {
	// Send writes all of data or returns an error.
	Send(data []byte, timeout time.Duration) error
	// Receive reads up to len(buf) bytes, waiting at most timeout.
	Receive(buf []byte, timeout time.Duration) (int, error)
	Close() error
	// String names the link for logs.
	String() string
}

// ErrTimeout is returned by Receive when no data arrived in time.
var ErrTimeout = errors.New("transport timeout")

// DialOptions tune how Dial opens an Endpoint.
type DialOptions struct {
	// BaudRate is used for serial links; zero means DefaultBaudRate.
	BaudRate int
	// ConnectTimeout bounds TCP connection setup; zero means DefaultConnectTimeout.
	ConnectTimeout time.Duration
	// ReadTimeout is the serial port's read timeout; zero means DefaultReadTimeout.
	ReadTimeout time.Duration
}

const (
	DefaultBaudRate       = 115200
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = time.Second
)

// Dial opens the link described by ep.
func Dial(ctx context.Context, ep Endpoint, opts DialOptions) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch ep.Type {
	case TypeSerial:
		return OpenSerial(ep.Address, opts)
	case TypeTCP:
		return DialTCP(ctx, ep.Address, opts)
	case TypeLoopback:
		return NewLoopback(ep.Address), nil
	}
	return nil, errors.Errorf("unknown transport type %v", ep.Type)
}
