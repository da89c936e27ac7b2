//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/grandcat/zeroconf"
	"github.com/pkg/errors"
)

const (
	mdnsInstance    = "rfid-reader"
	mdnsServiceType = "_rfid-reader._tcp"
	mdnsDomain      = "local."
)

// txtRecords describe where clients find the API.
func (svc *Service) txtRecords() []string {
	return []string{
		"version=1",
		"api=" + apiBase,
		"stream=" + streamRoute,
		"session=" + svc.session.ID(),
	}
}

// advertise registers the service over mDNS on port.
// The caller must Shutdown the returned server.
func (svc *Service) advertise(port int) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(mdnsInstance, mdnsServiceType, mdnsDomain, port, svc.txtRecords(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register mDNS service")
	}
	svc.lc.Info("Registered mDNS service.", "type", mdnsServiceType, "port", port)
	return server, nil
}
