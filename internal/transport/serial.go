//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"time"

	"github.com/pkg/errors"
	"github.com/tarm/serial"
)

// Serial is a Conn over a local serial device.
//
// The port's read timeout is fixed when it is opened,
// so per-call timeouts shorter than it are not honored.
type Serial struct {
	port   *serial.Port
	device string
}

// OpenSerial opens device at the configured baud rate.
func OpenSerial(device string, opts DialOptions) (*Serial, error) {
	baud := opts.BaudRate
	if baud == 0 {
		baud = DefaultBaudRate
	}
	readTimeout := opts.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}

	c := &serial.Config{
		Name:        device,
		Baud:        baud,
		ReadTimeout: readTimeout,
	}
	port, err := serial.OpenPort(c)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial device %s", device)
	}

	return &Serial{port: port, device: device}, nil
}

func (s *Serial) Send(data []byte, _ time.Duration) error {
	for len(data) > 0 {
		n, err := s.port.Write(data)
		if err != nil {
			return errors.Wrapf(err, "failed to write to %s", s.device)
		}
		data = data[n:]
	}
	return nil
}

func (s *Serial) Receive(buf []byte, _ time.Duration) (int, error) {
	n, err := s.port.Read(buf)
	if err != nil {
		return n, errors.Wrapf(err, "failed to read from %s", s.device)
	}
	if n == 0 {
		return 0, ErrTimeout
	}
	return n, nil
}

func (s *Serial) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

// Device is the serial device path.
func (s *Serial) Device() string {
	return s.device
}

func (s *Serial) String() string {
	return "serial:" + s.device
}
