//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

const (
	// DefaultAsyncOnTime is used when the driver doesn't expose ParamAsyncOnTime.
	DefaultAsyncOnTime = 250 * time.Millisecond
)

// ReadListener receives every tag record read in the background.
// Records are delivered in the order the reader produced them.
// Listeners share each record and must not modify it.
type ReadListener interface {
	OnTagRead(t TagReadData)
}

// ReadListenerFunc adapts a function to a ReadListener.
type ReadListenerFunc func(t TagReadData)

func (f ReadListenerFunc) OnTagRead(t TagReadData) { f(t) }

// ReadExceptionListener receives faults that occur during a background read.
// A fault doesn't end the background read.
type ReadExceptionListener interface {
	OnReadException(err error)
}

// ReadExceptionListenerFunc adapts a function to a ReadExceptionListener.
type ReadExceptionListenerFunc func(err error)

func (f ReadExceptionListenerFunc) OnReadException(err error) { f(err) }

// ListenerID identifies a registered listener for later removal.
type ListenerID uint64

type readEntry struct {
	id ListenerID
	l  ReadListener
}

type exceptionEntry struct {
	id ListenerID
	l  ReadExceptionListener
}

type listeners struct {
	nextID     ListenerID
	read       []readEntry
	exceptions []exceptionEntry
}

// asyncRead tracks an active background read.
type asyncRead struct {
	cancel   context.CancelFunc
	done     chan struct{}
	stopping bool
}

// AddReadListener registers l to receive every background tag record.
// Listeners may be added at any time; they apply from the next dispatch.
func (s *Session) AddReadListener(l ReadListener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners.nextID++
	id := s.listeners.nextID
	s.listeners.read = append(s.listeners.read, readEntry{id: id, l: l})
	return id
}

// RemoveReadListener unregisters a read listener.
// It reports whether the listener was registered.
func (s *Session) RemoveReadListener(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.listeners.read {
		if e.id == id {
			s.listeners.read = append(s.listeners.read[:i:i], s.listeners.read[i+1:]...)
			return true
		}
	}
	return false
}

// AddReadExceptionListener registers l to receive background read faults.
func (s *Session) AddReadExceptionListener(l ReadExceptionListener) ListenerID {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.listeners.nextID++
	id := s.listeners.nextID
	s.listeners.exceptions = append(s.listeners.exceptions, exceptionEntry{id: id, l: l})
	return id
}

// RemoveReadExceptionListener unregisters an exception listener.
func (s *Session) RemoveReadExceptionListener(id ListenerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, e := range s.listeners.exceptions {
		if e.id == id {
			s.listeners.exceptions = append(s.listeners.exceptions[:i:i], s.listeners.exceptions[i+1:]...)
			return true
		}
	}
	return false
}

// IsReading reports whether a background read is active.
func (s *Session) IsReading() bool {
	return s.isReading()
}

// StartReading begins reading in the background.
//
// The background goroutine repeatedly runs the active read plan
// for the reader's async on-time, drains the captured records,
// and delivers each one to every registered ReadListener.
// Faults, including buffer-full, go to every ReadExceptionListener
// and do not stop the background read.
//
// While reading, parameters that affect the read plan can't be changed,
// and synchronous reads and tag operations are rejected.
//
// Cancelling ctx ends the background goroutine but not the background read:
// IsReading stays true and synchronous operations stay rejected
// until StopReading is called.
func (s *Session) StartReading(ctx context.Context) error {
	const op = "start reading"

	s.opMu.Lock()
	if err := s.checkOpen(op); err != nil {
		s.opMu.Unlock()
		return err
	}
	if s.pendingDrain {
		s.opMu.Unlock()
		return newError(KindState, op, ErrNotDrained)
	}
	if err := s.ensureRegion(); err != nil {
		s.opMu.Unlock()
		return err
	}
	onTime, offTime, err := s.asyncTimes()
	s.opMu.Unlock()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.async != nil {
		s.mu.Unlock()
		return newError(KindState, op, ErrAlreadyReading)
	}
	readCtx, cancel := context.WithCancel(ctx)
	a := &asyncRead{cancel: cancel, done: make(chan struct{})}
	s.async = a
	s.mu.Unlock()

	s.lc.Info("Started background read.", "session", s.id,
		"onTime", onTime.String(), "offTime", offTime.String())

	go s.readLoop(readCtx, a, onTime, offTime)
	return nil
}

// StopReading stops the background read and blocks until it has quiesced.
// Once it returns, no listener will be invoked again.
//
// StopReading must not be called from within a listener.
func (s *Session) StopReading() error {
	const op = "stop reading"

	s.mu.Lock()
	a := s.async
	if a == nil || a.stopping {
		s.mu.Unlock()
		return newError(KindState, op, ErrNotReading)
	}
	a.stopping = true
	s.mu.Unlock()

	a.cancel()
	<-a.done

	s.mu.Lock()
	s.async = nil
	s.mu.Unlock()

	s.lc.Info("Stopped background read.", "session", s.id)
	return nil
}

// asyncTimes must be called with opMu held.
func (s *Session) asyncTimes() (on, off time.Duration, err error) {
	on, off = DefaultAsyncOnTime, 0

	if v, err := s.params.get(ParamAsyncOnTime); err == nil {
		if d, ok := v.(time.Duration); ok && d > 0 {
			on = d
		}
	} else if !IsCapability(err) {
		return 0, 0, err
	}

	if v, err := s.params.get(ParamAsyncOffTime); err == nil {
		if d, ok := v.(time.Duration); ok && d >= 0 {
			off = d
		}
	} else if !IsCapability(err) {
		return 0, 0, err
	}

	return on, off, nil
}

// readLoop is the background read goroutine.
// It is the only caller of listeners while the read is active.
func (s *Session) readLoop(ctx context.Context, a *asyncRead, onTime, offTime time.Duration) {
	defer close(a.done)

	for {
		if ctx.Err() != nil {
			return
		}

		tags, err := s.readCycle(ctx, onTime)
		s.dispatchTags(tags)

		if err != nil && ctx.Err() == nil {
			s.dispatchException(err)
		}

		if offTime <= 0 {
			continue
		}

		t := time.NewTimer(offTime)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// readCycle runs one read and drains its records.
func (s *Session) readCycle(ctx context.Context, d time.Duration) ([]TagReadData, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	const op = "background read"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}

	readErr := s.read(ctx, op, d)
	if readErr != nil && !IsBufferFull(readErr) {
		// Some drivers leave partial results behind after a fault.
		tags, _ := s.drain(op)
		if errors.Is(readErr, context.Canceled) {
			return tags, nil
		}
		return tags, readErr
	}

	tags, err := s.drain(op)
	if err != nil {
		return tags, err
	}
	return tags, readErr
}

func (s *Session) dispatchTags(tags []TagReadData) {
	if len(tags) == 0 {
		return
	}

	s.mu.Lock()
	ls := append([]readEntry(nil), s.listeners.read...)
	s.mu.Unlock()

	for _, t := range tags {
		for _, e := range ls {
			e.l.OnTagRead(t)
		}
	}
}

func (s *Session) dispatchException(err error) {
	s.mu.Lock()
	ls := append([]exceptionEntry(nil), s.listeners.exceptions...)
	s.mu.Unlock()

	if len(ls) == 0 {
		s.lc.Warn("Background read fault with no exception listener.", "session", s.id, "error", err.Error())
		return
	}
	for _, e := range ls {
		e.l.OnReadException(err)
	}
}
