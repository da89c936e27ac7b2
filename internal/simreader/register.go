//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simreader

import (
	"sync"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

var (
	configsMu sync.RWMutex
	configs   = map[string]Config{}
)

func init() {
	reader.RegisterDriver(transport.SchemeSim, open)
	reader.RegisterDriver(transport.SchemeTMR, open)
}

// Register sets the Config used for the reader at name:
// the loopback name of sim:///name, the host:port of tmr://host:port,
// or the device path of tmr:///dev/ttyUSB0.
// Names without a registered Config use DefaultConfig.
func Register(name string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	configsMu.Lock()
	configs[name] = cfg
	configsMu.Unlock()
	return nil
}

func open(conn transport.Conn, lc logger.LoggingClient) (reader.Driver, error) {
	cfg := DefaultConfig()
	configsMu.RLock()
	if c, found := configs[configName(conn)]; found {
		cfg = c
	}
	configsMu.RUnlock()

	d, err := New(conn, lc, cfg)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func configName(conn transport.Conn) string {
	switch c := conn.(type) {
	case *transport.Loopback:
		return c.Name()
	case *transport.TCP:
		return c.Addr()
	case *transport.Serial:
		return c.Device()
	}
	return conn.String()
}
