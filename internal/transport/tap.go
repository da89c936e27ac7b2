//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Listener observes raw bytes sent to (tx) or received from a reader.
// It must not block or retain data.
type Listener func(tx bool, data []byte, timeout time.Duration)

// Tap is a Conn that reports its traffic to listeners.
type Tap struct {
	Conn

	mu        sync.RWMutex
	listeners []Listener
}

// NewTap wraps conn.
func NewTap(conn Conn) *Tap {
	return &Tap{Conn: conn}
}

// AddListener registers l for all subsequent traffic.
func (t *Tap) AddListener(l Listener) {
	t.mu.Lock()
	t.listeners = append(t.listeners, l)
	t.mu.Unlock()
}

func (t *Tap) Send(data []byte, timeout time.Duration) error {
	t.notify(true, data, timeout)
	return t.Conn.Send(data, timeout)
}

func (t *Tap) Receive(buf []byte, timeout time.Duration) (int, error) {
	n, err := t.Conn.Receive(buf, timeout)
	if n > 0 {
		t.notify(false, buf[:n], timeout)
	}
	return n, err
}

func (t *Tap) notify(tx bool, data []byte, timeout time.Duration) {
	t.mu.RLock()
	ls := t.listeners
	t.mu.RUnlock()

	for _, l := range ls {
		l(tx, data, timeout)
	}
}

func direction(tx bool) string {
	if tx {
		return "Sending: "
	}
	return "Received:"
}

// FormatHex renders data as hex bytes, 16 per line,
// with continuation lines aligned under the first byte.
func FormatHex(tx bool, data []byte) string {
	var sb strings.Builder
	sb.WriteString(direction(tx))
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n         ")
		}
		fmt.Fprintf(&sb, " %02x", b)
	}
	return sb.String()
}

// HexPrinter returns a Listener that logs every frame as hex.
func HexPrinter(log logrus.FieldLogger) Listener {
	return func(tx bool, data []byte, timeout time.Duration) {
		log.WithField("timeout", timeout).Info(FormatHex(tx, data))
	}
}

// StringPrinter returns a Listener that logs every frame as text,
// for readers with a textual protocol.
func StringPrinter(log logrus.FieldLogger) Listener {
	return func(tx bool, data []byte, timeout time.Duration) {
		log.WithField("timeout", timeout).Info(direction(tx) + " " + strings.TrimRight(string(data), "\r\n"))
	}
}
