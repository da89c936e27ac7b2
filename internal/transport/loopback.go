//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Responder turns one request frame into the bytes the far end sends back.
type Responder func(request []byte) []byte

// ErrClosed is returned by a Loopback after Close.
var ErrClosed = errors.New("transport closed")

// Loopback is an in-process Conn.
// Everything sent is handed to its Responder,
// and the response is queued for Receive.
// Without a Responder, it echoes.
type Loopback struct {
	name string

	mu      sync.Mutex
	respond Responder
	pending bytes.Buffer
	closed  bool
	notify  chan struct{}
}

func NewLoopback(name string) *Loopback {
	return &Loopback{
		name:   name,
		notify: make(chan struct{}, 1),
	}
}

// SetResponder replaces the far end of the link.
func (l *Loopback) SetResponder(r Responder) {
	l.mu.Lock()
	l.respond = r
	l.mu.Unlock()
}

func (l *Loopback) Send(data []byte, _ time.Duration) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	respond := l.respond
	l.mu.Unlock()

	var resp []byte
	if respond == nil {
		resp = append([]byte(nil), data...)
	} else {
		resp = respond(data)
	}
	if len(resp) == 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.pending.Write(resp)
	select {
	case l.notify <- struct{}{}:
	default:
	}
	return nil
}

func (l *Loopback) Receive(buf []byte, timeout time.Duration) (int, error) {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return 0, ErrClosed
		}
		if l.pending.Len() > 0 {
			n, _ := l.pending.Read(buf)
			l.mu.Unlock()
			return n, nil
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-timer:
			return 0, ErrTimeout
		}
	}
}

func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	l.pending.Reset()
	close(l.notify)
	return nil
}

// Name is the loopback's name, taken from its URI.
func (l *Loopback) Name() string {
	return l.name
}

func (l *Loopback) String() string {
	return "loopback:" + l.name
}
