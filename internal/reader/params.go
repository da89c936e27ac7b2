//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"time"

	"github.com/pkg/errors"
)

// Param names a reader parameter.
type Param string

const (
	ParamRegionID           = Param("/reader/region/id")
	ParamSupportedRegions   = Param("/reader/region/supportedRegions")
	ParamHopTable           = Param("/reader/region/hopTable")
	ParamSupportedProtocols = Param("/reader/version/supportedProtocols")
	ParamVersionModel       = Param("/reader/version/model")
	ParamAntennaPortList    = Param("/reader/antenna/portList")
	ParamReadPlan           = Param("/reader/read/plan")
	ParamAsyncOnTime        = Param("/reader/read/asyncOnTime")
	ParamAsyncOffTime       = Param("/reader/read/asyncOffTime")
	ParamGen2BAP            = Param("/reader/gen2/bap")
	ParamGen2Q              = Param("/reader/gen2/q")
	ParamTagBufferCapacity  = Param("/reader/tagReadData/bufferCapacity")
)

var readOnlyParams = map[Param]bool{
	ParamSupportedRegions:   true,
	ParamSupportedProtocols: true,
	ParamVersionModel:       true,
	ParamAntennaPortList:    true,
	ParamTagBufferCapacity:  true,
}

// readPlanParams may not change while a background read is active.
var readPlanParams = map[Param]bool{
	ParamRegionID: true,
	ParamHopTable: true,
	ParamReadPlan: true,
	ParamGen2BAP:  true,
	ParamGen2Q:    true,
}

// BAP holds Gen2 Backscatter-Adaptive-Power parameters.
// A nil field lets the reader choose its default.
type BAP struct {
	PowerUpDelayUs   *uint32
	FreqHopOffTimeUs *uint32
}

// NewBAP builds BAP params from values where a negative number means "unset".
func NewBAP(powerUpDelayUs, freqHopOffTimeUs int32) BAP {
	var b BAP
	if powerUpDelayUs >= 0 {
		v := uint32(powerUpDelayUs)
		b.PowerUpDelayUs = &v
	}
	if freqHopOffTimeUs >= 0 {
		v := uint32(freqHopOffTimeUs)
		b.FreqHopOffTimeUs = &v
	}
	return b
}

// Gen2Q is the Gen2 anti-collision Q algorithm setting.
type Gen2Q struct {
	Static   bool
	InitialQ uint8
}

// ParamStore is the typed view of a reader's parameters.
// It is owned by a Session and shares its locks.
type ParamStore struct {
	s *Session
}

// Get returns the raw value of a parameter.
func (ps *ParamStore) Get(p Param) (interface{}, error) {
	ps.s.opMu.Lock()
	defer ps.s.opMu.Unlock()
	return ps.get(p)
}

// Set sets the raw value of a parameter.
// Read plans and regions are validated against the reader's capabilities first.
func (ps *ParamStore) Set(p Param, v interface{}) error {
	ps.s.opMu.Lock()
	defer ps.s.opMu.Unlock()
	return ps.set(p, v)
}

func (ps *ParamStore) get(p Param) (interface{}, error) {
	op := "get " + string(p)
	if err := ps.s.checkOpen(op); err != nil {
		return nil, err
	}

	v, err := ps.s.drv.ParamGet(p)
	if err != nil {
		return nil, asError(op, err)
	}
	return v, nil
}

func (ps *ParamStore) set(p Param, v interface{}) error {
	op := "set " + string(p)
	if err := ps.s.checkOpen(op); err != nil {
		return err
	}
	if readOnlyParams[p] {
		return newError(KindConfig, op, ErrReadOnlyParam)
	}
	if readPlanParams[p] && ps.s.isReading() {
		return newError(KindState, op, ErrAlreadyReading)
	}

	switch p {
	case ParamReadPlan:
		plan, ok := v.(ReadPlan)
		if !ok {
			return errWrongType(op, v)
		}
		if err := ps.validatePlan(plan); err != nil {
			return errors.WithMessage(err, op)
		}
	case ParamRegionID:
		r, ok := v.(Region)
		if !ok {
			return errWrongType(op, v)
		}
		supported, err := ps.supportedRegions()
		if err != nil {
			return err
		}
		if !containsRegion(supported, r) {
			return newError(KindConfig, op, errors.Wrapf(ErrUnsupportedRegion, "region %s", r))
		}
	case ParamGen2BAP:
		if _, ok := v.(*BAP); !ok && v != nil {
			return errWrongType(op, v)
		}
	}

	if err := ps.s.drv.ParamSet(p, v); err != nil {
		return asError(op, err)
	}

	ps.s.lc.Debug("Set reader parameter.", "session", ps.s.id, "param", string(p))
	return nil
}

func errWrongType(op string, v interface{}) error {
	return newError(KindConfig, op, errors.Errorf("unexpected value type %T", v))
}

// validatePlan checks plan against the connected reader:
// supported protocols, antenna detection, and known antenna ports.
// Nothing is sent to the radio.
func (ps *ParamStore) validatePlan(plan ReadPlan) error {
	if plan == nil {
		return newError(KindConfig, "", errors.New("missing read plan"))
	}
	if err := plan.Validate(); err != nil {
		return err
	}

	protos, err := ps.supportedProtocols()
	if err != nil {
		return err
	}
	for _, p := range plan.Protocols() {
		if !containsProtocol(protos, p) {
			return newError(KindConfig, "", errors.Wrapf(ErrUnsupportedProtocol, "protocol %s", p))
		}
	}

	if err := ps.checkAntennas(plan); err != nil {
		return err
	}
	return nil
}

func (ps *ParamStore) checkAntennas(plan ReadPlan) error {
	var simples []*SimpleReadPlan
	collectSimple(plan, &simples)

	model, err := ps.model()
	if err != nil && !IsCapability(err) {
		return err
	}
	for _, sp := range simples {
		if len(sp.AntennaList) == 0 && !HasAntennaDetection(model) {
			return newError(KindConfig, "", ErrNoAntennas)
		}
	}

	ports, err := ps.get(ParamAntennaPortList)
	if IsCapability(err) {
		return nil
	} else if err != nil {
		return err
	}
	portList, ok := ports.([]uint8)
	if !ok {
		return nil
	}

	known := make(map[uint8]bool, len(portList))
	for _, p := range portList {
		known[p] = true
	}
	for _, a := range plan.Antennas() {
		if !known[a] {
			return newError(KindConfig, "", errors.Errorf("antenna %d is not a reader port", a))
		}
	}
	return nil
}

func collectSimple(plan ReadPlan, out *[]*SimpleReadPlan) {
	switch p := plan.(type) {
	case *SimpleReadPlan:
		*out = append(*out, p)
	case *MultiReadPlan:
		for _, sub := range p.Plans {
			collectSimple(sub, out)
		}
	}
}

func (ps *ParamStore) supportedRegions() ([]Region, error) {
	v, err := ps.get(ParamSupportedRegions)
	if err != nil {
		return nil, err
	}
	regions, ok := v.([]Region)
	if !ok {
		return nil, errWrongType("get "+string(ParamSupportedRegions), v)
	}
	return regions, nil
}

func (ps *ParamStore) supportedProtocols() ([]TagProtocol, error) {
	v, err := ps.get(ParamSupportedProtocols)
	if err != nil {
		return nil, err
	}
	protos, ok := v.([]TagProtocol)
	if !ok {
		return nil, errWrongType("get "+string(ParamSupportedProtocols), v)
	}
	return protos, nil
}

func (ps *ParamStore) model() (string, error) {
	v, err := ps.get(ParamVersionModel)
	if err != nil {
		return "", err
	}
	model, ok := v.(string)
	if !ok {
		return "", errWrongType("get "+string(ParamVersionModel), v)
	}
	return model, nil
}

func (ps *ParamStore) region() (Region, error) {
	v, err := ps.get(ParamRegionID)
	if err != nil {
		return RegionNone, err
	}
	r, ok := v.(Region)
	if !ok {
		return RegionNone, errWrongType("get "+string(ParamRegionID), v)
	}
	return r, nil
}

// Region returns the reader's active region, which may be RegionNone.
func (ps *ParamStore) Region() (Region, error) {
	ps.s.opMu.Lock()
	defer ps.s.opMu.Unlock()
	return ps.region()
}

// SetRegion sets the reader's region; it must be in SupportedRegions.
func (ps *ParamStore) SetRegion(r Region) error {
	return ps.Set(ParamRegionID, r)
}

// SupportedRegions queries the regions the reader supports.
func (ps *ParamStore) SupportedRegions() ([]Region, error) {
	ps.s.opMu.Lock()
	defer ps.s.opMu.Unlock()
	return ps.supportedRegions()
}

// SupportedProtocols queries the protocols the reader supports.
func (ps *ParamStore) SupportedProtocols() ([]TagProtocol, error) {
	ps.s.opMu.Lock()
	defer ps.s.opMu.Unlock()
	return ps.supportedProtocols()
}

// Model returns the reader's model string.
func (ps *ParamStore) Model() (string, error) {
	ps.s.opMu.Lock()
	defer ps.s.opMu.Unlock()
	return ps.model()
}

// AntennaPorts returns the reader's physical antenna ports.
func (ps *ParamStore) AntennaPorts() ([]uint8, error) {
	v, err := ps.Get(ParamAntennaPortList)
	if err != nil {
		return nil, err
	}
	ports, ok := v.([]uint8)
	if !ok {
		return nil, errWrongType("get "+string(ParamAntennaPortList), v)
	}
	return ports, nil
}

// ReadPlan returns the active read plan.
func (ps *ParamStore) ReadPlan() (ReadPlan, error) {
	v, err := ps.Get(ParamReadPlan)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	plan, ok := v.(ReadPlan)
	if !ok {
		return nil, errWrongType("get "+string(ParamReadPlan), v)
	}
	return plan, nil
}

// SetReadPlan validates plan against the reader and makes it the active plan,
// replacing any previous one.
func (ps *ParamStore) SetReadPlan(plan ReadPlan) error {
	return ps.Set(ParamReadPlan, plan)
}

// BAP returns the effective BAP parameters.
// Unset values are reported as the reader's defaults, never as nil.
func (ps *ParamStore) BAP() (BAP, error) {
	v, err := ps.Get(ParamGen2BAP)
	if err != nil {
		return BAP{}, err
	}
	b, ok := v.(BAP)
	if !ok {
		return BAP{}, errWrongType("get "+string(ParamGen2BAP), v)
	}
	return b, nil
}

// SetBAP sets BAP parameters. A nil b disables BAP overrides entirely.
func (ps *ParamStore) SetBAP(b *BAP) error {
	if b == nil {
		return ps.Set(ParamGen2BAP, nil)
	}
	return ps.Set(ParamGen2BAP, b)
}

// HopTable returns the frequency hop table, in kHz.
func (ps *ParamStore) HopTable() ([]uint32, error) {
	v, err := ps.Get(ParamHopTable)
	if err != nil {
		return nil, err
	}
	freqs, ok := v.([]uint32)
	if !ok {
		return nil, errWrongType("get "+string(ParamHopTable), v)
	}
	return freqs, nil
}

// SetHopTable replaces the frequency hop table, in kHz.
func (ps *ParamStore) SetHopTable(freqs []uint32) error {
	if len(freqs) == 0 {
		return newError(KindConfig, "set "+string(ParamHopTable), errors.New("empty hop table"))
	}
	return ps.Set(ParamHopTable, append([]uint32(nil), freqs...))
}

func (ps *ParamStore) Gen2Q() (Gen2Q, error) {
	v, err := ps.Get(ParamGen2Q)
	if err != nil {
		return Gen2Q{}, err
	}
	q, ok := v.(Gen2Q)
	if !ok {
		return Gen2Q{}, errWrongType("get "+string(ParamGen2Q), v)
	}
	return q, nil
}

func (ps *ParamStore) SetGen2Q(q Gen2Q) error {
	if q.InitialQ > 15 {
		return newError(KindConfig, "set "+string(ParamGen2Q), errors.Errorf("initial Q %d exceeds 15", q.InitialQ))
	}
	return ps.Set(ParamGen2Q, q)
}

// AsyncOnTime is how long each background read cycle reads.
func (ps *ParamStore) AsyncOnTime() (time.Duration, error) {
	return ps.duration(ParamAsyncOnTime)
}

func (ps *ParamStore) SetAsyncOnTime(d time.Duration) error {
	if d <= 0 {
		return newError(KindConfig, "set "+string(ParamAsyncOnTime), errors.New("on time must be positive"))
	}
	return ps.Set(ParamAsyncOnTime, d)
}

// AsyncOffTime is how long the background reader rests between cycles.
func (ps *ParamStore) AsyncOffTime() (time.Duration, error) {
	return ps.duration(ParamAsyncOffTime)
}

func (ps *ParamStore) SetAsyncOffTime(d time.Duration) error {
	if d < 0 {
		return newError(KindConfig, "set "+string(ParamAsyncOffTime), errors.New("off time must not be negative"))
	}
	return ps.Set(ParamAsyncOffTime, d)
}

func (ps *ParamStore) duration(p Param) (time.Duration, error) {
	v, err := ps.Get(p)
	if err != nil {
		return 0, err
	}
	d, ok := v.(time.Duration)
	if !ok {
		return 0, errWrongType("get "+string(p), v)
	}
	return d, nil
}

// TagBufferCapacity is the number of records the reader can hold per read.
func (ps *ParamStore) TagBufferCapacity() (int, error) {
	v, err := ps.Get(ParamTagBufferCapacity)
	if err != nil {
		return 0, err
	}
	n, ok := v.(int)
	if !ok {
		return 0, errWrongType("get "+string(ParamTagBufferCapacity), v)
	}
	return n, nil
}
