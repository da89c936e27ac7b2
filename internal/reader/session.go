//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package reader implements the session layer atop an RFID reader driver.
//
// A Session moves a reader through connect, configure, read, drain,
// and (optionally) tag operations. Reads are either synchronous,
// followed by a destructive drain of the reader's tag buffer,
// or asynchronous, with a background goroutine
// delivering records to registered listeners.
package reader

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is a Session's lifecycle state.
type State int

const (
	StateCreated = State(iota)
	StateConnected
	StateClosed
)

func (st State) String() string {
	switch st {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(st))
}

// Options configure a new Session.
type Options struct {
	Logger logger.LoggingClient
	// TransportListener, if set, observes the driver's byte traffic.
	TransportListener TransportListener
	// Transport is closed after the driver when the Session closes.
	Transport io.Closer
}

// A Session owns one Driver (and its transport) for its entire lifetime.
//
// Driver calls are serialized by opMu.
// Lifecycle and background-read state are guarded by mu;
// when both are needed, opMu is acquired first.
type Session struct {
	id     string
	lc     logger.LoggingClient
	drv    Driver
	conn   io.Closer
	params ParamStore

	opMu sync.Mutex
	// pendingDrain is set after a read completes
	// and cleared once the tag buffer reports empty.
	pendingDrain bool

	mu        sync.Mutex
	state     State
	async     *asyncRead
	listeners listeners
}

// NewSession wraps drv in an unconnected Session.
func NewSession(drv Driver, opts Options) *Session {
	lc := opts.Logger
	if lc == nil {
		lc = logger.NewMockClient()
	}

	s := &Session{
		id:   uuid.New().String(),
		lc:   lc,
		drv:  drv,
		conn: opts.Transport,
	}
	s.params.s = s

	if opts.TransportListener != nil {
		s.AddTransportListener(opts.TransportListener)
	}
	return s
}

// ID uniquely identifies the Session in logs and events.
func (s *Session) ID() string {
	return s.id
}

// Params returns the Session's parameter store.
func (s *Session) Params() *ParamStore {
	return &s.params
}

// State returns the Session's lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddTransportListener installs a tap on the driver's byte traffic.
// The tap receives a copy of the bytes; a panic in it is logged and discarded.
func (s *Session) AddTransportListener(l TransportListener) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.drv.AddTransportListener(func(tx bool, data []byte, timeout time.Duration) {
		defer func() {
			if r := recover(); r != nil {
				s.lc.Warn("Transport listener panicked.", "session", s.id, "panic", fmt.Sprint(r))
			}
		}()
		l(tx, append([]byte(nil), data...), timeout)
	})
}

// Connect opens the reader connection.
func (s *Session) Connect(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	switch st {
	case StateConnected:
		return nil
	case StateClosed:
		return newError(KindState, "connect", ErrClosed)
	}

	if err := s.drv.Connect(ctx); err != nil {
		return asError("connect", err)
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mu.Unlock()

	s.lc.Info("Connected to reader.", "session", s.id)
	return nil
}

// Close stops any background read, then releases the driver and transport.
// The Session is unusable afterwards.
func (s *Session) Close() error {
	if s.isReading() {
		if err := s.StopReading(); err != nil && !IsState(err) {
			s.lc.Warn("Failed to stop background read on close.", "session", s.id, "error", err.Error())
		}
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.mu.Unlock()

	var errs MultiErr
	if err := s.drv.Close(); err != nil {
		errs = append(errs, errors.Wrap(err, "failed to close driver"))
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			errs = append(errs, errors.Wrap(err, "failed to close transport"))
		}
	}

	s.lc.Info("Closed reader session.", "session", s.id)
	if len(errs) == 0 {
		return nil
	}
	return newError(KindDevice, "close", errs)
}

func (s *Session) checkOpen(op string) error {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()

	switch st {
	case StateConnected:
		return nil
	case StateClosed:
		return newError(KindState, op, ErrClosed)
	}
	return newError(KindState, op, errors.New("session is not connected"))
}

func (s *Session) isReading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.async != nil
}

// ResolveRegion makes sure the reader has a region.
// If none is set, it commits the first entry of the supported-region list.
// It returns the active region.
func (s *Session) ResolveRegion() (Region, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.resolveRegion()
}

func (s *Session) resolveRegion() (Region, error) {
	r, err := s.params.region()
	if err != nil {
		return RegionNone, err
	}
	if r != RegionNone {
		return r, nil
	}

	regions, err := s.params.supportedRegions()
	if err != nil {
		return RegionNone, err
	}
	if len(regions) < 1 {
		return RegionNone, newError(KindConfig, "resolve region", ErrInvalidRegion)
	}

	r = regions[0]
	if err := s.params.set(ParamRegionID, r); err != nil {
		return RegionNone, err
	}

	s.lc.Info("Region was unset; using first supported region.", "session", s.id, "region", r.String())
	return r, nil
}

// ensureRegion resolves an unset region and verifies a set one is supported.
func (s *Session) ensureRegion() error {
	r, err := s.resolveRegion()
	if err != nil {
		return err
	}

	regions, err := s.params.supportedRegions()
	if err != nil {
		return err
	}
	if !containsRegion(regions, r) {
		return newError(KindConfig, "check region", errors.Wrapf(ErrUnsupportedRegion, "region %s", r))
	}
	return nil
}

// Read runs the active read plan for up to d,
// or until its stop trigger fires, and blocks until the read completes.
//
// On success or buffer-full (see IsBufferFull),
// the captured records must be drained with HasMoreTags/GetNextTag
// before Read may be called again.
// Any other error is fatal to the current workflow.
func (s *Session) Read(ctx context.Context, d time.Duration) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	const op = "read"
	if err := s.checkOpen(op); err != nil {
		return err
	}
	if s.isReading() {
		return newError(KindState, op, ErrAlreadyReading)
	}
	if s.pendingDrain {
		return newError(KindState, op, ErrNotDrained)
	}

	return s.read(ctx, op, d)
}

// read must be called with opMu held.
func (s *Session) read(ctx context.Context, op string, d time.Duration) error {
	if d <= 0 {
		return newError(KindConfig, op, errors.New("read duration must be positive"))
	}
	if err := s.ensureRegion(); err != nil {
		return err
	}

	err := asError(op, s.drv.Read(ctx, d))
	if IsBufferFull(err) && !s.drv.HasMoreTags() {
		// A full buffer always holds at least one record.
		return newError(KindDevice, op, errors.Wrap(ErrBufferFull, "driver reported an empty full buffer"))
	}
	if err == nil || IsBufferFull(err) {
		s.pendingDrain = true
	}
	return err
}

// HasMoreTags reports whether the last read left undrained records.
func (s *Session) HasMoreTags() bool {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.checkOpen("has more tags") != nil {
		return false
	}

	more := s.drv.HasMoreTags()
	if !more {
		s.pendingDrain = false
	}
	return more
}

// GetNextTag removes and returns the oldest undrained record.
// It returns ErrNoMoreTags once the buffer is exhausted.
func (s *Session) GetNextTag() (TagReadData, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	const op = "fetch tag"
	if err := s.checkOpen(op); err != nil {
		return TagReadData{}, err
	}

	return s.nextTag(op)
}

func (s *Session) nextTag(op string) (TagReadData, error) {
	t, err := s.drv.GetNextTag()
	if errors.Is(err, ErrNoMoreTags) {
		s.pendingDrain = false
		return TagReadData{}, ErrNoMoreTags
	}
	if err != nil {
		return TagReadData{}, asError(op, err)
	}
	if !s.drv.HasMoreTags() {
		s.pendingDrain = false
	}
	return t, nil
}

// Drain removes and returns every undrained record, in read order.
func (s *Session) Drain() ([]TagReadData, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	const op = "drain"
	if err := s.checkOpen(op); err != nil {
		return nil, err
	}
	return s.drain(op)
}

func (s *Session) drain(op string) ([]TagReadData, error) {
	var tags []TagReadData
	for s.drv.HasMoreTags() {
		t, err := s.nextTag(op)
		if errors.Is(err, ErrNoMoreTags) {
			break
		}
		if err != nil {
			return tags, err
		}
		tags = append(tags, t)
	}
	s.pendingDrain = false
	return tags, nil
}

// ExecuteTagOp runs op against every tag matching filter,
// or the active read plan's population if filter is nil.
//
// The op is validated before any radio activity.
// Per-tag failures are reported in the results and never abort other tags;
// the returned error is reserved for failures of the whole operation.
// Confirming the operation's effect (e.g., by re-reading) is up to the caller.
func (s *Session) ExecuteTagOp(ctx context.Context, op TagOp, filter TagFilter) ([]TagOpResult, error) {
	if op == nil {
		return nil, newError(KindValidation, "execute tag op", errors.New("missing tag operation"))
	}
	opName := "execute " + op.Name()
	if err := op.Validate(); err != nil {
		return nil, err
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.checkOpen(opName); err != nil {
		return nil, err
	}
	if s.isReading() {
		return nil, newError(KindState, opName, ErrAlreadyReading)
	}
	if err := s.ensureRegion(); err != nil {
		return nil, err
	}

	results, err := s.drv.ExecuteTagOp(ctx, op, filter)
	if err != nil {
		return nil, asError(opName, err)
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	s.lc.Debug("Executed tag operation.", "session", s.id, "op", op.Name(),
		"tags", len(results), "failed", failed)

	return results, nil
}

// MultiErr tracks a list of errors collected
// when an operation is applied to multiple things.
type MultiErr []error

// Error implements the error interface for MultiErr
// by returning a single string listing all the collected errors,
// separated by a semicolon and a space ("; ").
func (me MultiErr) Error() string {
	strs := make([]string, len(me))
	for i, s := range me {
		strs[i] = s.Error()
	}

	return strings.Join(strs, "; ")
}
