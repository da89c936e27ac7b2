//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"bytes"

	"github.com/pkg/errors"
)

// ReadPlan describes which antennas and protocols a reader uses during a read.
// It is either a *SimpleReadPlan or a *MultiReadPlan.
type ReadPlan interface {
	// Protocols lists every protocol the plan reads, in plan order.
	Protocols() []TagProtocol
	// Antennas lists every antenna the plan selects, in plan order.
	Antennas() []uint8
	// Validate checks the parts of the plan that don't depend on the reader.
	Validate() error

	isReadPlan()
}

// StopTrigger ends a read window early once the reader
// has observed N tag reads in total (not N unique tags).
type StopTrigger struct {
	N uint32
}

// SimpleReadPlan reads a single protocol on a list of antennas.
type SimpleReadPlan struct {
	AntennaList []uint8
	Protocol    TagProtocol
	// Weight is the plan's dwell time in milliseconds,
	// or its relative share of time when nested in a MultiReadPlan.
	Weight      uint32
	StopTrigger *StopTrigger `json:",omitempty"`
	Filter      TagFilter    `json:"-"`
}

// MultiReadPlan runs its sub-plans in order, each for its share of Weight.
type MultiReadPlan struct {
	Plans  []ReadPlan
	Weight uint32
}

// NewSimpleReadPlan builds a SimpleReadPlan.
// The antenna list may be empty only for readers with antenna detection,
// which is checked when the plan is committed to a reader.
func NewSimpleReadPlan(antennas []uint8, protocol TagProtocol, weightMs uint32) (*SimpleReadPlan, error) {
	p := &SimpleReadPlan{
		AntennaList: append([]uint8(nil), antennas...),
		Protocol:    protocol,
		Weight:      weightMs,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// WithStopTrigger caps the plan's read window at n total tag reads.
func (p *SimpleReadPlan) WithStopTrigger(n uint32) (*SimpleReadPlan, error) {
	if n == 0 {
		return nil, newError(KindConfig, "set stop trigger", errors.New("tag count must be greater than 0"))
	}
	p.StopTrigger = &StopTrigger{N: n}
	return p, nil
}

// WithFilter restricts the plan to tags matching f.
func (p *SimpleReadPlan) WithFilter(f TagFilter) *SimpleReadPlan {
	p.Filter = f
	return p
}

func (p *SimpleReadPlan) Protocols() []TagProtocol {
	return []TagProtocol{p.Protocol}
}

func (p *SimpleReadPlan) Antennas() []uint8 {
	return p.AntennaList
}

func (p *SimpleReadPlan) Validate() error {
	if p.Weight == 0 {
		return newError(KindConfig, "validate read plan", errors.New("dwell time must be greater than 0"))
	}
	if p.Protocol == ProtocolNone {
		return newError(KindConfig, "validate read plan", errors.New("missing protocol"))
	}
	if p.StopTrigger != nil && p.StopTrigger.N == 0 {
		return newError(KindConfig, "validate read plan", errors.New("stop trigger tag count must be greater than 0"))
	}
	return nil
}

func (p *SimpleReadPlan) isReadPlan() {}

// NewMultiReadPlan builds a MultiReadPlan from at least one valid sub-plan.
func NewMultiReadPlan(plans []ReadPlan, weight uint32) (*MultiReadPlan, error) {
	p := &MultiReadPlan{
		Plans:  append([]ReadPlan(nil), plans...),
		Weight: weight,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *MultiReadPlan) Protocols() []TagProtocol {
	var protos []TagProtocol
	for _, sub := range p.Plans {
		protos = append(protos, sub.Protocols()...)
	}
	return protos
}

func (p *MultiReadPlan) Antennas() []uint8 {
	var ants []uint8
	for _, sub := range p.Plans {
		ants = append(ants, sub.Antennas()...)
	}
	return ants
}

func (p *MultiReadPlan) Validate() error {
	if len(p.Plans) == 0 {
		return newError(KindConfig, "validate read plan", errors.New("multi read plan has no sub-plans"))
	}
	for i, sub := range p.Plans {
		if sub == nil {
			return newError(KindConfig, "validate read plan", errors.Errorf("sub-plan %d is nil", i))
		}
		if err := sub.Validate(); err != nil {
			return errors.WithMessagef(err, "sub-plan %d", i)
		}
	}
	return nil
}

func (p *MultiReadPlan) isReadPlan() {}

// TagFilter selects a subset of the tag population.
type TagFilter interface {
	// Match reports whether a tag with the given EPC passes the filter.
	Match(epc []byte) bool
}

// EPCFilter matches a single tag by its exact EPC.
type EPCFilter []byte

func (f EPCFilter) Match(epc []byte) bool {
	return bytes.Equal(f, epc)
}

// MemoryBank is a Gen2 tag memory bank.
type MemoryBank uint8

const (
	BankReserved = MemoryBank(iota)
	BankEPC
	BankTID
	BankUser
)

// epcBankOffset is the bit offset of the EPC inside the EPC memory bank,
// after the CRC and PC words.
const epcBankOffset = 32

// Gen2Select matches tags whose memory in Bank,
// starting at BitPointer and spanning BitLength bits, equals Mask.
//
// Only the EPC bank can be evaluated client side;
// other banks are evaluated by the reader.
type Gen2Select struct {
	Invert     bool
	Bank       MemoryBank
	BitPointer uint32
	BitLength  uint16
	Mask       []byte
}

func (f *Gen2Select) Match(epc []byte) bool {
	if f.Bank != BankEPC {
		return !f.Invert
	}
	if f.BitPointer < epcBankOffset {
		return f.Invert
	}

	start := f.BitPointer - epcBankOffset
	matched := true
	for i := uint32(0); i < uint32(f.BitLength); i++ {
		pos := start + i
		if pos/8 >= uint32(len(epc)) || bitAt(epc, pos) != bitAt(f.Mask, i) {
			matched = false
			break
		}
	}
	return matched != f.Invert
}

func bitAt(b []byte, i uint32) bool {
	if i/8 >= uint32(len(b)) {
		return false
	}
	return b[i/8]&(0x80>>(i%8)) != 0
}
