//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simreader

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

const serveWriteTimeout = time.Second

// Serve answers command frames from every connection ln accepts,
// so tmr://host:port URIs reach a simulated reader over the network.
// It closes ln and all open connections when ctx is done and then returns nil.
func Serve(ctx context.Context, ln net.Listener, lc logger.LoggingClient) error {
	if lc == nil {
		lc = logger.NewMockClient()
	}

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		conns = map[net.Conn]struct{}{}
	)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		_ = ln.Close()
		mu.Lock()
		for c := range conns {
			_ = c.Close()
		}
		mu.Unlock()
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	lc.Info("Simulated reader listening.", "address", ln.Addr().String())
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "simulated reader stopped accepting connections")
		}

		mu.Lock()
		conns[c] = struct{}{}
		mu.Unlock()

		wg.Add(1)
		go func() {
			defer wg.Done()
			serveConn(transport.NewTCP(c), lc)
			mu.Lock()
			delete(conns, c)
			mu.Unlock()
		}()
	}
}

// serveConn answers frames until the peer hangs up or sends garbage.
func serveConn(conn transport.Conn, lc logger.LoggingClient) {
	defer conn.Close()
	lc.Debug("Simulated reader accepted a connection.", "peer", conn.String())

	for {
		req, err := receiveFrame(conn, 0)
		if err != nil {
			lc.Debug("Simulated reader connection closed.", "peer", conn.String(), "reason", err.Error())
			return
		}
		if err := conn.Send(respond(req), serveWriteTimeout); err != nil {
			lc.Debug("Simulated reader failed to respond.", "peer", conn.String(), "error", err.Error())
			return
		}
	}
}
