//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Type is the physical link an Endpoint uses.
type Type int

const (
	TypeSerial = Type(iota)
	TypeTCP
	TypeLoopback
)

func (t Type) String() string {
	switch t {
	case TypeSerial:
		return "serial"
	case TypeTCP:
		return "tcp"
	case TypeLoopback:
		return "loopback"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

const (
	// DefaultTCPPort is used for network readers when the URI has no port.
	DefaultTCPPort = 8080

	SchemeTMR = "tmr"
	SchemeSim = "sim"
)

// Endpoint is a parsed reader URI.
type Endpoint struct {
	// Scheme selects the reader driver.
	Scheme string
	Type   Type
	// Address is a device path, a host:port pair, or a loopback name.
	Address string
	URI     string
}

var comPort = regexp.MustCompile(`(?i)^/com[0-9]+$`)

// ParseURI parses a reader URI:
//
//	tmr:///dev/ttyUSB0    serial device
//	tmr:///COM4           serial device (Windows naming)
//	tmr://host[:port]     network reader, default port 8080
//	sim:///name           in-process simulated reader
//
// Any other scheme with a path is treated as serial,
// and with a host as TCP, so other drivers can register their own scheme.
func ParseURI(uri string) (Endpoint, error) {
	if strings.TrimSpace(uri) == "" {
		return Endpoint{}, errors.New("missing reader URI")
	}

	u, err := url.Parse(uri)
	if err != nil {
		return Endpoint{}, errors.Wrapf(err, "invalid reader URI '%s'", uri)
	}
	if u.Scheme == "" {
		return Endpoint{}, errors.Errorf("reader URI '%s' has no scheme", uri)
	}

	ep := Endpoint{Scheme: strings.ToLower(u.Scheme), URI: uri}
	switch {
	case ep.Scheme == SchemeSim:
		ep.Type = TypeLoopback
		ep.Address = strings.TrimPrefix(u.Path, "/")
		if ep.Address == "" {
			ep.Address = u.Host
		}
		if ep.Address == "" {
			ep.Address = "default"
		}

	case u.Host != "":
		ep.Type = TypeTCP
		port := u.Port()
		if port == "" {
			port = strconv.Itoa(DefaultTCPPort)
		} else if _, err := strconv.ParseUint(port, 10, 16); err != nil {
			return Endpoint{}, errors.Errorf("invalid port '%s' in reader URI '%s'", port, uri)
		}
		ep.Address = net.JoinHostPort(u.Hostname(), port)

	case u.Path != "":
		ep.Type = TypeSerial
		ep.Address = u.Path
		if comPort.MatchString(ep.Address) {
			ep.Address = strings.TrimPrefix(ep.Address, "/")
		}

	default:
		return Endpoint{}, errors.Errorf("reader URI '%s' has neither a host nor a device path", uri)
	}

	return ep, nil
}
