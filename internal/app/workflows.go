//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package app holds the reader workflows run by the command line
// and the HTTP service that exposes a long-running Session.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/inventory"
	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

const (
	stopTriggerReadTime = time.Second
	bapReadTime         = 500 * time.Millisecond
	untraceableReadTime = 500 * time.Millisecond
	planWeightMillis    = 1000

	timeLayout = "2006-01-02T15:04:05.000000"
)

// SingaporeHopTable is the Singapore carrier list, in kHz,
// applied by the async workflow on top of the NA region.
var SingaporeHopTable = []uint32{923250, 923750, 921250, 921750, 922750, 922250, 920750, 924250}

// Untraceable workflow credentials.
var (
	untraceableKey       = []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF, 0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	untraceableChallenge = []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF, 0xAB, 0xCD}
)

// Runner runs workflows against a connected Session and prints
// what it reads to Out.
type Runner struct {
	s        *reader.Session
	lc       logger.LoggingClient
	out      io.Writer
	antennas []uint8
	tracker  *inventory.Tracker
}

type RunnerOptions struct {
	Logger logger.LoggingClient
	// Out defaults to os.Stdout.
	Out io.Writer
	// Antennas may be empty for readers with antenna detection.
	Antennas []uint8
	// Tracker, if set, receives every record a workflow reads.
	Tracker *inventory.Tracker
}

func NewRunner(s *reader.Session, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = logger.NewMockClient()
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	return &Runner{
		s:        s,
		lc:       opts.Logger,
		out:      opts.Out,
		antennas: append([]uint8(nil), opts.Antennas...),
		tracker:  opts.Tracker,
	}
}

func (r *Runner) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.out, format, args...)
}

// checkAntennas fails if the reader needs an explicit antenna list and has none.
func (r *Runner) checkAntennas() error {
	if len(r.antennas) > 0 {
		return nil
	}
	model, err := r.s.Params().Model()
	if err != nil {
		return errors.WithMessage(err, "getting model")
	}
	if !reader.HasAntennaDetection(model) {
		return &reader.Error{Kind: reader.KindConfig, Op: "check antennas", Err: reader.ErrNoAntennas}
	}
	return nil
}

func (r *Runner) simplePlan(proto reader.TagProtocol) (*reader.SimpleReadPlan, error) {
	plan, err := reader.NewSimpleReadPlan(r.antennas, proto, planWeightMillis)
	return plan, errors.WithMessage(err, "initializing the read plan")
}

// read does a synchronous read and drains it.
// A full tag buffer is reported and the captured records are still returned.
func (r *Runner) read(ctx context.Context, d time.Duration) ([]reader.TagReadData, error) {
	err := r.s.Read(ctx, d)
	if reader.IsBufferFull(err) {
		r.printf("reading tags:%v\n", err)
	} else if err != nil {
		return nil, errors.WithMessage(err, "reading tags")
	}

	tags, err := r.s.Drain()
	if err != nil {
		return nil, errors.WithMessage(err, "fetching tag")
	}
	if r.tracker != nil {
		r.tracker.Process(tags...)
	}
	return tags, nil
}

// ReadStop reads with a stop trigger of one tag. It builds both a simple
// Gen2 plan and a Gen2 plus ISO18000-6B multi plan, and commits the multi
// plan only if multi is set.
func (r *Runner) ReadStop(ctx context.Context, multi bool) error {
	if err := r.checkAntennas(); err != nil {
		return err
	}

	err := r.s.Params().SetGen2Q(reader.Gen2Q{Static: true, InitialQ: 0})
	if reader.IsCapability(err) {
		r.lc.Warn("Reader doesn't support setting Q; using its default.", "error", err)
	} else if err != nil {
		return errors.WithMessage(err, "setting the Q value")
	}

	const tagCount = 1
	simple, err := r.simplePlan(reader.ProtocolGen2)
	if err != nil {
		return err
	}
	if _, err := simple.WithStopTrigger(tagCount); err != nil {
		return err
	}

	var plan reader.ReadPlan = simple
	if multi {
		if plan, err = r.multiPlan(tagCount); err != nil {
			return err
		}
	}
	if err := r.s.Params().SetReadPlan(plan); err != nil {
		return errors.WithMessage(err, "setting read plan")
	}

	tags, err := r.read(ctx, stopTriggerReadTime)
	if err != nil {
		return err
	}
	for _, t := range tags {
		r.printf("EPC:%s\n", t.EPCString())
	}
	return nil
}

func (r *Runner) multiPlan(tagCount uint32) (*reader.MultiReadPlan, error) {
	if _, err := r.s.Params().SupportedProtocols(); err != nil {
		return nil, errors.WithMessage(err, "getting the supported protocols")
	}

	var subs []reader.ReadPlan
	for _, proto := range []reader.TagProtocol{reader.ProtocolGen2, reader.ProtocolISO180006B} {
		sub, err := r.simplePlan(proto)
		if err != nil {
			return nil, err
		}
		if _, err := sub.WithStopTrigger(tagCount); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return reader.NewMultiReadPlan(subs, 0)
}

type bapCase struct {
	title string
	bap   *reader.BAP
}

func bapCases() []bapCase {
	unset := reader.NewBAP(-1, -1)
	explicit := reader.NewBAP(40000, 30000)
	return []bapCase{
		{title: "case 1: read by using the default bap parameter values", bap: &unset},
		{title: "case 2: read by setting the bap parameters", bap: &explicit},
		{title: "case 3: read by disabling the bap option", bap: nil},
	}
}

// BAP reads once with each Gen2 Backscatter-Adaptive-Power setting:
// reader defaults, explicit values, and disabled.
func (r *Runner) BAP(ctx context.Context) error {
	if err := r.checkAntennas(); err != nil {
		return err
	}
	plan, err := r.simplePlan(reader.ProtocolGen2)
	if err != nil {
		return err
	}
	if err := r.s.Params().SetReadPlan(plan); err != nil {
		return errors.WithMessage(err, "setting read plan")
	}

	for _, c := range bapCases() {
		r.printf("%s\n", c.title)
		if err := r.s.Params().SetBAP(c.bap); err != nil {
			return errors.WithMessage(err, "setting bap params")
		}
		bap, err := r.s.Params().BAP()
		if err != nil {
			return errors.WithMessage(err, "getting bap params")
		}
		r.printf("powerupdelay:%d freqhopofftime:%d\n", derefOrZero(bap.PowerUpDelayUs), derefOrZero(bap.FreqHopOffTimeUs))

		tags, err := r.read(ctx, bapReadTime)
		if err != nil {
			return err
		}
		for _, t := range tags {
			r.printf("EPC:%s ant:%d count:%d\n", t.EPCString(), t.Antenna, t.ReadCount)
		}
	}
	return nil
}

func derefOrZero(v *uint32) uint32 {
	if v == nil {
		return 0
	}
	return *v
}

// Async selects the NA region with the Singapore carriers,
// then reads in the background for d or until ctx is done.
func (r *Runner) Async(ctx context.Context, d time.Duration) error {
	ps := r.s.Params()
	if _, err := ps.Region(); err != nil {
		return errors.WithMessage(err, "getting region")
	}
	if err := ps.SetRegion(reader.RegionNA); err != nil {
		return errors.WithMessage(err, "setting region")
	}
	if _, err := ps.HopTable(); err != nil {
		return errors.WithMessage(err, "getting hop table")
	}

	r.printf("SINGAPORE freqs %d\n", len(SingaporeHopTable))
	for _, f := range SingaporeHopTable {
		r.printf("freq %d\n", f)
	}
	if err := ps.SetHopTable(SingaporeHopTable); err != nil {
		return errors.WithMessage(err, "setting hop table")
	}

	if err := r.checkAntennas(); err != nil {
		return err
	}
	plan, err := r.simplePlan(reader.ProtocolGen2)
	if err != nil {
		return err
	}
	if err := ps.SetReadPlan(plan); err != nil {
		return errors.WithMessage(err, "setting read plan")
	}

	readID := r.s.AddReadListener(reader.ReadListenerFunc(func(t reader.TagReadData) {
		r.printf("Background read[ant:%d]: %s\n", t.Antenna, t.EPCString())
	}))
	defer r.s.RemoveReadListener(readID)
	exID := r.s.AddReadExceptionListener(reader.ReadExceptionListenerFunc(func(err error) {
		r.printf("Error:%v\n", err)
	}))
	defer r.s.RemoveReadExceptionListener(exID)
	if r.tracker != nil {
		trackID := r.s.AddReadListener(r.tracker)
		defer r.s.RemoveReadListener(trackID)
	}

	if err := r.s.StartReading(ctx); err != nil {
		return errors.WithMessage(err, "starting reading")
	}
	r.printf("Reading for %v\n", d)

	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
	}

	return errors.WithMessage(r.s.StopReading(), "stopping reading")
}

// Untraceable reads, hides the EPC of every Gen2 tag in the field
// beyond its first four words using TAM1 authentication, and reads again.
func (r *Runner) Untraceable(ctx context.Context) error {
	if err := r.checkAntennas(); err != nil {
		return err
	}
	plan, err := r.simplePlan(reader.ProtocolGen2)
	if err != nil {
		return err
	}
	if err := r.s.Params().SetReadPlan(plan); err != nil {
		return errors.WithMessage(err, "setting read plan")
	}

	if err := r.readWithTimes(ctx); err != nil {
		return err
	}

	tam1, err := reader.NewTam1Authentication(reader.Key0, untraceableKey, untraceableChallenge, false)
	if err != nil {
		return err
	}
	op := &reader.Untraceable{
		EPC:       reader.EPCHide,
		EPCLength: 4,
		TID:       reader.TIDHideNone,
		User:      reader.UserShow,
		Range:     reader.RangeNormal,
		Auth:      reader.UntraceableAuth{Type: reader.UntraceableWithAuthentication, Tam1: tam1},
	}

	results, err := r.s.ExecuteTagOp(ctx, op, nil)
	if err != nil {
		return errors.WithMessage(err, "executing untraceable")
	}
	for _, res := range results {
		if res.Succeeded() {
			r.printf("Untraceable EPC:%X: success\n", res.EPC)
		} else {
			r.printf("Untraceable EPC:%X: %v\n", res.EPC, res.Err)
		}
	}

	return r.readWithTimes(ctx)
}

func (r *Runner) readWithTimes(ctx context.Context) error {
	tags, err := r.read(ctx, untraceableReadTime)
	if err != nil {
		return err
	}
	for _, t := range tags {
		r.printf("EPC:%s ant:%d count:%d Time:%s\n",
			t.EPCString(), t.Antenna, t.ReadCount, t.Time().Format(timeLayout))
	}
	return nil
}
