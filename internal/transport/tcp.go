//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// TCP is a Conn to a network-attached reader.
type TCP struct {
	conn net.Conn
	addr string
}

// DialTCP connects to addr, a host:port pair.
func DialTCP(ctx context.Context, addr string, opts DialOptions) (*TCP, error) {
	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = DefaultConnectTimeout
	}

	d := net.Dialer{Timeout: timeout}
	c, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", addr)
	}
	return &TCP{conn: c, addr: addr}, nil
}

// NewTCP wraps an established connection, such as one a listener accepted.
func NewTCP(c net.Conn) *TCP {
	return &TCP{conn: c, addr: c.RemoteAddr().String()}
}

// Addr is the host:port the connection was dialed with.
func (t *TCP) Addr() string {
	return t.addr
}

func (t *TCP) Send(data []byte, timeout time.Duration) error {
	if err := t.conn.SetWriteDeadline(deadline(timeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if _, err := t.conn.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write to %s", t.addr)
	}
	return nil
}

func (t *TCP) Receive(buf []byte, timeout time.Duration) (int, error) {
	if err := t.conn.SetReadDeadline(deadline(timeout)); err != nil {
		return 0, errors.Wrap(err, "failed to set read deadline")
	}
	n, err := t.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return n, ErrTimeout
		}
		return n, errors.Wrapf(err, "failed to read from %s", t.addr)
	}
	return n, nil
}

func (t *TCP) Close() error {
	return t.conn.Close()
}

func (t *TCP) String() string {
	return "tcp:" + t.addr
}

func deadline(timeout time.Duration) time.Time {
	if timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(timeout)
}
