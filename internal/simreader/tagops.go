//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simreader

import (
	"bytes"
	"context"
	"crypto/aes"
	"encoding/hex"

	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

// tam1Constant prefixes the plaintext a TAM1 tag encrypts.
var tam1Constant = []byte{0x96, 0xC5}

var (
	errAuthFailed    = errors.New("tag authentication failed")
	errMemoryLocked  = errors.New("tag memory is locked")
	errMemoryOverrun = errors.New("tag memory overrun")
)

// ExecuteTagOp runs op on every Gen2 tag the active plan can see.
// Per-tag failures are reported in the results.
func (d *Driver) ExecuteTagOp(ctx context.Context, op reader.TagOp, filter reader.TagFilter) ([]reader.TagOpResult, error) {
	switch op.(type) {
	case *reader.Tam1Authentication, *reader.Untraceable, *reader.ReadData:
	default:
		return nil, errors.Errorf("unsupported tag operation %s", op.Name())
	}

	if err := d.exchange(opTagOp, []byte(op.Name())); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return nil, errNotConnected
	}
	if err := d.failTagOp; err != nil {
		d.failTagOp = nil
		return nil, err
	}

	population := d.tagOpPopulation(filter)
	results := make([]reader.TagOpResult, 0, len(population))
	for _, t := range population {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := reader.TagOpResult{EPC: append([]byte(nil), t.visibleEPC...)}
		if err, ok := d.tagFaults[hex.EncodeToString(t.visibleEPC)]; ok {
			res.Err = err
		} else {
			res.Data, res.Err = applyTagOp(t, op)
		}
		results = append(results, res)
	}
	return results, nil
}

// tagOpPopulation is every Gen2 tag on the active plan's Gen2 antennas
// that passes filter, or the plan's own filter if filter is nil.
func (d *Driver) tagOpPopulation(filter reader.TagFilter) []*simTag {
	var simples []*reader.SimpleReadPlan
	collect(d.activePlan(), &simples)

	ants := map[uint8]bool{}
	for _, sp := range simples {
		if sp.Protocol != reader.ProtocolGen2 {
			continue
		}
		for a := range d.antennaSet(sp) {
			ants[a] = true
		}
		if filter == nil && sp.Filter != nil {
			filter = sp.Filter
		}
	}

	var tags []*simTag
	for _, t := range d.tags {
		if t.Protocol != reader.ProtocolGen2 || !ants[t.Antenna] {
			continue
		}
		if filter != nil && !filter.Match(t.visibleEPC) {
			continue
		}
		tags = append(tags, t)
	}
	return tags
}

func collect(plan reader.ReadPlan, out *[]*reader.SimpleReadPlan) {
	switch p := plan.(type) {
	case *reader.SimpleReadPlan:
		*out = append(*out, p)
	case *reader.MultiReadPlan:
		for _, sub := range p.Plans {
			collect(sub, out)
		}
	}
}

func applyTagOp(t *simTag, op reader.TagOp) ([]byte, error) {
	switch o := op.(type) {
	case *reader.Tam1Authentication:
		return tam1Response(t, o)
	case *reader.Untraceable:
		return nil, untraceable(t, o)
	case *reader.ReadData:
		return readMemory(t, o)
	}
	return nil, errors.Errorf("unsupported tag operation %s", op.Name())
}

// tam1Response is the tag's encrypted reply to an interrogator challenge:
// AES-128 over the TAM1 constant, the 10-byte challenge, and 4 bytes of TID.
func tam1Response(t *simTag, a *reader.Tam1Authentication) ([]byte, error) {
	key, ok := t.Tam1Keys[a.KeyID]
	if !ok {
		return nil, errors.Errorf("tag has no key %d", a.KeyID)
	}
	if !bytes.Equal(key, a.Key) {
		return nil, errAuthFailed
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "invalid tag key")
	}

	plain := make([]byte, 0, aes.BlockSize)
	plain = append(plain, tam1Constant...)
	plain = append(plain, a.IChallenge...)
	rnd := make([]byte, 4)
	copy(rnd, t.TID)
	plain = append(plain, rnd...)

	out := make([]byte, aes.BlockSize)
	block.Encrypt(out, plain)
	return out, nil
}

func untraceable(t *simTag, u *reader.Untraceable) error {
	switch u.Auth.Type {
	case reader.UntraceableWithAuthentication:
		if _, err := tam1Response(t, u.Auth.Tam1); err != nil {
			return err
		}
	case reader.UntraceableWithAccess:
		if t.AccessPassword != u.Auth.AccessPassword {
			return errAuthFailed
		}
	}

	switch u.EPC {
	case reader.EPCHide:
		n := int(u.EPCLength) * 2
		if n > len(t.EPC) {
			n = len(t.EPC)
		}
		t.visibleEPC = append([]byte(nil), t.EPC[:n]...)
	case reader.EPCShow:
		t.visibleEPC = append([]byte(nil), t.EPC...)
	}
	t.tid = u.TID
	t.userHidden = u.User == reader.UserHide
	t.rangeMode = u.Range
	return nil
}

func readMemory(t *simTag, r *reader.ReadData) ([]byte, error) {
	var mem []byte
	switch r.Bank {
	case reader.BankReserved:
		if t.AccessPassword != 0 {
			return nil, errMemoryLocked
		}
		mem = make([]byte, 8)
	case reader.BankEPC:
		mem = epcBank(t.visibleEPC)
	case reader.BankTID:
		switch t.tid {
		case reader.TIDHideAll:
			return nil, errMemoryLocked
		case reader.TIDHideSome:
			n := 4
			if n > len(t.TID) {
				n = len(t.TID)
			}
			mem = t.TID[:n]
		default:
			mem = t.TID
		}
	case reader.BankUser:
		if t.userHidden {
			return nil, errMemoryLocked
		}
		mem = t.User
	}

	start := int(r.WordAddress) * 2
	if start > len(mem) {
		return nil, errMemoryOverrun
	}
	end := len(mem)
	if r.WordCount > 0 {
		end = start + int(r.WordCount)*2
		if end > len(mem) {
			return nil, errMemoryOverrun
		}
	}
	return append([]byte(nil), mem[start:end]...), nil
}

// epcBank lays out the EPC bank: StoredCRC, PC word, then the EPC.
func epcBank(epc []byte) []byte {
	pc := uint16(len(epc)/2) << 11
	mem := make([]byte, 4, 4+len(epc))
	mem[2], mem[3] = byte(pc>>8), byte(pc)
	mem = append(mem, epc...)
	crc := ^crc16(mem[2:])
	mem[0], mem[1] = byte(crc>>8), byte(crc)
	return mem
}
