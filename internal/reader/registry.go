//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"context"
	"sort"
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

// DriverFactory builds a Driver for an already-open transport.
// The Session owns conn and closes it after the Driver.
type DriverFactory func(conn transport.Conn, lc logger.LoggingClient) (Driver, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]DriverFactory{}
)

// RegisterDriver makes a driver available for URIs with the given scheme.
// It panics if the scheme is registered twice.
func RegisterDriver(scheme string, f DriverFactory) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if f == nil {
		panic("reader: nil driver factory for scheme " + scheme)
	}
	if _, dup := drivers[scheme]; dup {
		panic("reader: driver registered twice for scheme " + scheme)
	}
	drivers[scheme] = f
}

// Schemes lists the registered URI schemes.
func Schemes() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()

	s := make([]string, 0, len(drivers))
	for k := range drivers {
		s = append(s, k)
	}
	sort.Strings(s)
	return s
}

// OpenOptions configure Open.
type OpenOptions struct {
	Options
	Dial transport.DialOptions
}

// Open parses uri, opens its transport, builds a Session around
// the driver registered for its scheme, and connects it.
func Open(ctx context.Context, uri string, opts OpenOptions) (*Session, error) {
	const op = "open"

	ep, err := transport.ParseURI(uri)
	if err != nil {
		return nil, newError(KindConfig, op, err)
	}

	driversMu.RLock()
	factory, ok := drivers[ep.Scheme]
	driversMu.RUnlock()
	if !ok {
		return nil, newError(KindConfig, op, errors.Errorf("no driver for scheme '%s'", ep.Scheme))
	}

	conn, err := transport.Dial(ctx, ep, opts.Dial)
	if err != nil {
		return nil, newError(KindDevice, op, err)
	}

	lc := opts.Logger
	if lc == nil {
		lc = logger.NewMockClient()
	}

	drv, err := factory(conn, lc)
	if err != nil {
		_ = conn.Close()
		return nil, asError(op, err)
	}

	sOpts := opts.Options
	sOpts.Logger = lc
	sOpts.Transport = conn
	s := NewSession(drv, sOpts)
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}

	lc.Debug("Opened reader.", "session", s.ID(), "uri", uri, "transport", conn.String())
	return s, nil
}
