//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package simreader is an in-process reader driver.
//
// It behaves like a fixed reader with a configurable tag population:
// reads aggregate observations per EPC and antenna,
// the tag buffer has a finite capacity,
// and Gen2 tag operations change what later reads observe.
// Every command crosses the transport as a framed request and response,
// so transport listeners see realistic traffic.
// The link is an in-process loopback for sim:// URIs,
// or a TCP or serial link to a peer running Serve for tmr:// URIs.
package simreader

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

const defaultAsyncOnTime = 250 * time.Millisecond

var errNotConnected = errors.New("reader not connected")

type simTag struct {
	Tag
	visibleEPC []byte
	tid        reader.TIDVisibility
	userHidden bool
	rangeMode  reader.RangeMode
}

// Driver is a simulated reader.Driver.
type Driver struct {
	conn *transport.Tap
	lc   logger.LoggingClient
	now  func() time.Time

	mu          sync.Mutex
	cfg         Config
	unsupported map[reader.Param]bool
	tags        []*simTag
	connected   bool
	region      reader.Region
	hopTable    []uint32
	plan        reader.ReadPlan
	bap         *reader.BAP
	q           reader.Gen2Q
	onTime      time.Duration
	offTime     time.Duration
	buffer      *reader.TagBuffer

	failRead  error
	failTagOp error
	tagFaults map[string]error
}

// New returns a simulated reader talking over conn.
// If conn is a *transport.Loopback, the simulator answers on its far end.
// Otherwise the far end must answer frames the way Serve does.
func New(conn transport.Conn, lc logger.LoggingClient, cfg Config) (*Driver, error) {
	if conn == nil {
		return nil, errors.New("missing transport")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid simulated reader config")
	}
	cfg.applyDefaults()
	if lc == nil {
		lc = logger.NewMockClient()
	}

	if lb, ok := conn.(*transport.Loopback); ok {
		lb.SetResponder(respond)
	}

	d := &Driver{
		conn:        transport.NewTap(conn),
		lc:          lc,
		now:         time.Now,
		cfg:         cfg,
		unsupported: make(map[reader.Param]bool, len(cfg.Unsupported)),
		region:      cfg.Region,
		hopTable:    defaultHopTable(cfg.Region),
		q:           reader.Gen2Q{InitialQ: 4},
		onTime:      defaultAsyncOnTime,
		buffer:      reader.NewTagBuffer(cfg.BufferCapacity),
		tagFaults:   map[string]error{},
	}
	for _, p := range cfg.Unsupported {
		d.unsupported[p] = true
	}
	d.setTags(cfg.Tags)
	return d, nil
}

func (d *Driver) setTags(tags []Tag) {
	d.tags = make([]*simTag, len(tags))
	for i, t := range tags {
		d.tags[i] = &simTag{
			Tag:        t,
			visibleEPC: append([]byte(nil), t.EPC...),
		}
	}
}

// SetTags replaces the tag population.
func (d *Driver) SetTags(tags []Tag) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.setTags(tags)
}

// FailNextRead makes the next Read return err.
func (d *Driver) FailNextRead(err error) {
	d.mu.Lock()
	d.failRead = err
	d.mu.Unlock()
}

// FailNextTagOp makes the next ExecuteTagOp fail entirely with err.
func (d *Driver) FailNextTagOp(err error) {
	d.mu.Lock()
	d.failTagOp = err
	d.mu.Unlock()
}

// FailTag makes every tag operation on the tag with this EPC fail with err.
// A nil err clears the fault.
func (d *Driver) FailTag(epc []byte, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := hex.EncodeToString(epc)
	if err == nil {
		delete(d.tagFaults, key)
		return
	}
	d.tagFaults[key] = err
}

func (d *Driver) exchange(op opcode, payload []byte) error {
	d.mu.Lock()
	timeout := d.cfg.ResponseTimeout
	d.mu.Unlock()
	return exchange(d.conn, op, payload, timeout)
}

func (d *Driver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := d.exchange(opVersion, nil); err != nil {
		return errors.WithMessage(err, "failed to query reader version")
	}

	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()

	d.lc.Debug("Simulated reader connected.", "model", d.cfg.Model, "transport", d.conn.String())
	return nil
}

// Close disconnects the simulator. The transport belongs to the caller.
func (d *Driver) Close() error {
	d.mu.Lock()
	d.connected = false
	d.buffer.Reset()
	d.mu.Unlock()
	return nil
}

func (d *Driver) AddTransportListener(l reader.TransportListener) {
	d.conn.AddListener(l)
}

func (d *Driver) activePlan() reader.ReadPlan {
	if d.plan != nil {
		return d.plan
	}
	return &reader.SimpleReadPlan{Protocol: reader.ProtocolGen2, Weight: 1000}
}

func (d *Driver) antennaSet(sp *reader.SimpleReadPlan) map[uint8]bool {
	ants := sp.AntennaList
	if len(ants) == 0 {
		ants = d.cfg.Ports
	}
	set := make(map[uint8]bool, len(ants))
	for _, a := range ants {
		set[a] = true
	}
	return set
}

type step struct {
	plan *reader.SimpleReadPlan
	dur  time.Duration
}

// schedule splits dur across a plan's simple sub-plans by weight.
func schedule(plan reader.ReadPlan, dur time.Duration) []step {
	switch p := plan.(type) {
	case *reader.SimpleReadPlan:
		return []step{{plan: p, dur: dur}}
	case *reader.MultiReadPlan:
		var total uint64
		for _, sub := range p.Plans {
			total += uint64(weightOf(sub))
		}
		var steps []step
		for _, sub := range p.Plans {
			share := dur / time.Duration(len(p.Plans))
			if total > 0 {
				share = time.Duration(uint64(dur) * uint64(weightOf(sub)) / total)
			}
			steps = append(steps, schedule(sub, share)...)
		}
		return steps
	}
	return nil
}

func weightOf(plan reader.ReadPlan) uint32 {
	switch p := plan.(type) {
	case *reader.SimpleReadPlan:
		return p.Weight
	case *reader.MultiReadPlan:
		return p.Weight
	}
	return 0
}

// Read runs inventory rounds over the active plan.
// Each sub-plan runs for its share of dur, or until its stop trigger fires.
func (d *Driver) Read(ctx context.Context, dur time.Duration) error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return errNotConnected
	}
	if err := d.failRead; err != nil {
		d.failRead = nil
		d.mu.Unlock()
		return err
	}
	d.buffer.Reset()
	steps := schedule(d.activePlan(), dur)
	interval := d.cfg.RoundInterval
	realTime := d.cfg.RealTime
	d.mu.Unlock()

	if err := d.exchange(opClearTagBuffer, nil); err != nil {
		return err
	}
	ms := make([]byte, 4)
	binary.BigEndian.PutUint32(ms, uint32(dur/time.Millisecond))
	if err := d.exchange(opReadTagMultiple, ms); err != nil {
		return err
	}

	for _, st := range steps {
		rounds := int(st.dur / interval)
		if rounds < 1 {
			rounds = 1
		}

		var limit, seen uint32
		if st.plan.StopTrigger != nil {
			limit = st.plan.StopTrigger.N
		}

		for i := 0; i < rounds; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}

			var remaining uint32
			if limit > 0 {
				remaining = limit - seen
			}
			n, err := d.inventoryRound(st.plan, remaining)
			seen += n
			if err != nil {
				return err
			}
			if limit > 0 && seen >= limit {
				break
			}

			if realTime {
				t := time.NewTimer(interval)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
	}

	return d.exchange(opGetTagBuffer, nil)
}

// inventoryRound reads every visible tag once, up to limit reads if limit > 0,
// and returns the number of reads.
func (d *Driver) inventoryRound(sp *reader.SimpleReadPlan, limit uint32) (uint32, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ants := d.antennaSet(sp)
	now := d.now()

	var n uint32
	for _, t := range d.tags {
		if t.Protocol != sp.Protocol || !ants[t.Antenna] {
			continue
		}
		if sp.Filter != nil && !sp.Filter.Match(t.visibleEPC) {
			continue
		}

		rssi := t.RSSI
		if rssi == 0 {
			rssi = defaultRSSI
		}
		if t.rangeMode == reader.RangeReduced {
			rssi -= 20
		}

		epc, ant := t.visibleEPC, t.Antenna
		found := d.buffer.Update(
			func(r *reader.TagReadData) bool {
				return r.Antenna == ant && string(r.EPC) == string(epc)
			},
			func(r *reader.TagReadData) {
				r.ReadCount++
				if rssi > r.RSSI {
					r.RSSI = rssi
				}
			})
		if !found {
			rec := reader.TagReadData{
				EPC:       append([]byte(nil), epc...),
				Antenna:   ant,
				Protocol:  t.Protocol,
				RSSI:      rssi,
				ReadCount: 1,
			}
			rec.SetTime(now)
			if err := d.buffer.Push(rec); err != nil {
				return n, err
			}
		}

		n++
		if limit > 0 && n >= limit {
			break
		}
	}
	return n, nil
}

func (d *Driver) HasMoreTags() bool {
	return d.buffer.Len() > 0
}

func (d *Driver) GetNextTag() (reader.TagReadData, error) {
	return d.buffer.Next()
}

func (d *Driver) ParamGet(p reader.Param) (interface{}, error) {
	if err := d.exchange(opGetParam, []byte(p)); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, errNotConnected
	}
	if d.unsupported[p] {
		return nil, errors.Wrapf(reader.ErrUnsupportedParam, "%s", p)
	}

	switch p {
	case reader.ParamRegionID:
		return d.region, nil
	case reader.ParamSupportedRegions:
		return append([]reader.Region(nil), d.cfg.Regions...), nil
	case reader.ParamHopTable:
		return append([]uint32(nil), d.hopTable...), nil
	case reader.ParamSupportedProtocols:
		return append([]reader.TagProtocol(nil), d.cfg.Protocols...), nil
	case reader.ParamVersionModel:
		return d.cfg.Model, nil
	case reader.ParamAntennaPortList:
		return append([]uint8(nil), d.cfg.Ports...), nil
	case reader.ParamReadPlan:
		if d.plan == nil {
			return nil, nil
		}
		return d.plan, nil
	case reader.ParamAsyncOnTime:
		return d.onTime, nil
	case reader.ParamAsyncOffTime:
		return d.offTime, nil
	case reader.ParamGen2BAP:
		return d.effectiveBAP(), nil
	case reader.ParamGen2Q:
		return d.q, nil
	case reader.ParamTagBufferCapacity:
		return d.cfg.BufferCapacity, nil
	}
	return nil, errors.Wrapf(reader.ErrUnsupportedParam, "%s", p)
}

// effectiveBAP fills unset BAP values with the reader's defaults.
func (d *Driver) effectiveBAP() reader.BAP {
	powerUp, hopOff := d.cfg.BAPPowerUpDelayUs, d.cfg.BAPFreqHopOffTimeUs
	if d.bap != nil {
		if d.bap.PowerUpDelayUs != nil {
			powerUp = *d.bap.PowerUpDelayUs
		}
		if d.bap.FreqHopOffTimeUs != nil {
			hopOff = *d.bap.FreqHopOffTimeUs
		}
	}
	return reader.BAP{PowerUpDelayUs: &powerUp, FreqHopOffTimeUs: &hopOff}
}

func (d *Driver) ParamSet(p reader.Param, v interface{}) error {
	op := opSetParam
	if p == reader.ParamRegionID {
		op = opSetRegion
	}
	if err := d.exchange(op, []byte(p)); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return errNotConnected
	}
	if d.unsupported[p] {
		return errors.Wrapf(reader.ErrUnsupportedParam, "%s", p)
	}

	switch p {
	case reader.ParamRegionID:
		r, ok := v.(reader.Region)
		if !ok {
			return wrongType(p, v)
		}
		if !containsRegion(d.cfg.Regions, r) {
			return errors.Wrapf(reader.ErrUnsupportedRegion, "region %s", r)
		}
		if r != d.region {
			d.region = r
			d.hopTable = defaultHopTable(r)
		}

	case reader.ParamHopTable:
		freqs, ok := v.([]uint32)
		if !ok {
			return wrongType(p, v)
		}
		if d.region == reader.RegionNone {
			return errors.New("can't set a hop table before the region")
		}
		if len(freqs) == 0 {
			return errors.New("empty hop table")
		}
		d.hopTable = append([]uint32(nil), freqs...)

	case reader.ParamReadPlan:
		plan, ok := v.(reader.ReadPlan)
		if !ok {
			return wrongType(p, v)
		}
		for _, proto := range plan.Protocols() {
			if !containsProtocol(d.cfg.Protocols, proto) {
				return errors.Wrapf(reader.ErrUnsupportedProtocol, "protocol %s", proto)
			}
		}
		d.plan = plan

	case reader.ParamAsyncOnTime, reader.ParamAsyncOffTime:
		dur, ok := v.(time.Duration)
		if !ok {
			return wrongType(p, v)
		}
		if p == reader.ParamAsyncOnTime {
			d.onTime = dur
		} else {
			d.offTime = dur
		}

	case reader.ParamGen2BAP:
		if v == nil {
			d.bap = nil
			break
		}
		b, ok := v.(*reader.BAP)
		if !ok {
			return wrongType(p, v)
		}
		if b == nil {
			d.bap = nil
			break
		}
		bapCopy := reader.BAP{}
		if b.PowerUpDelayUs != nil {
			pu := *b.PowerUpDelayUs
			bapCopy.PowerUpDelayUs = &pu
		}
		if b.FreqHopOffTimeUs != nil {
			ho := *b.FreqHopOffTimeUs
			bapCopy.FreqHopOffTimeUs = &ho
		}
		d.bap = &bapCopy

	case reader.ParamGen2Q:
		q, ok := v.(reader.Gen2Q)
		if !ok {
			return wrongType(p, v)
		}
		d.q = q

	case reader.ParamSupportedRegions, reader.ParamSupportedProtocols, reader.ParamVersionModel,
		reader.ParamAntennaPortList, reader.ParamTagBufferCapacity:
		return errors.Wrapf(reader.ErrReadOnlyParam, "%s", p)

	default:
		return errors.Wrapf(reader.ErrUnsupportedParam, "%s", p)
	}

	return nil
}

func wrongType(p reader.Param, v interface{}) error {
	return errors.Errorf("unexpected value type %T for %s", v, p)
}

func containsRegion(list []reader.Region, r reader.Region) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

func containsProtocol(list []reader.TagProtocol, p reader.TagProtocol) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}
