//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"bytes"

	"github.com/pkg/errors"
)

// Region is a regulatory region a reader operates in.
type Region int

const (
	RegionNone = Region(iota)
	RegionNA
	RegionEU
	RegionKR
	RegionIN
	RegionJP
	RegionPRC
	RegionEU2
	RegionEU3
	RegionKR2
	RegionPRC2
	RegionAU
	RegionNZ
	RegionNA2
	RegionNA3
	RegionIS
	RegionMY
	RegionID
	RegionPH
	RegionTW
	RegionMO
	RegionRU
	RegionSG
	RegionJP2
	RegionJP3
	RegionVN
	RegionTH
	RegionAR
	RegionHK
	RegionBD
	RegionEU4
	RegionUnrestricted
	RegionOpen
)

var regionStrs = [...][]byte{
	RegionNone:         []byte("NONE"),
	RegionNA:           []byte("NA"),
	RegionEU:           []byte("EU"),
	RegionKR:           []byte("KR"),
	RegionIN:           []byte("IN"),
	RegionJP:           []byte("JP"),
	RegionPRC:          []byte("PRC"),
	RegionEU2:          []byte("EU2"),
	RegionEU3:          []byte("EU3"),
	RegionKR2:          []byte("KR2"),
	RegionPRC2:         []byte("PRC2"),
	RegionAU:           []byte("AU"),
	RegionNZ:           []byte("NZ"),
	RegionNA2:          []byte("NA2"),
	RegionNA3:          []byte("NA3"),
	RegionIS:           []byte("IS"),
	RegionMY:           []byte("MY"),
	RegionID:           []byte("ID"),
	RegionPH:           []byte("PH"),
	RegionTW:           []byte("TW"),
	RegionMO:           []byte("MO"),
	RegionRU:           []byte("RU"),
	RegionSG:           []byte("SG"),
	RegionJP2:          []byte("JP2"),
	RegionJP3:          []byte("JP3"),
	RegionVN:           []byte("VN"),
	RegionTH:           []byte("TH"),
	RegionAR:           []byte("AR"),
	RegionHK:           []byte("HK"),
	RegionBD:           []byte("BD"),
	RegionEU4:          []byte("EU4"),
	RegionUnrestricted: []byte("UNRESTRICTED"),
	RegionOpen:         []byte("OPEN"),
}

func (r Region) String() string {
	b, err := r.MarshalText()
	if err != nil {
		return "Region(?)"
	}
	return string(b)
}

func (r Region) MarshalText() ([]byte, error) {
	if !(0 <= int(r) && int(r) < len(regionStrs)) {
		return nil, errors.Errorf("unknown Region: %d", int(r))
	}
	return regionStrs[r], nil
}

func (r *Region) UnmarshalText(text []byte) error {
	for i := range regionStrs {
		if bytes.EqualFold(regionStrs[i], text) {
			*r = Region(i)
			return nil
		}
	}

	return errors.Errorf("unknown Region: %q", string(text))
}

func containsRegion(list []Region, r Region) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

// TagProtocol is an RFID air-interface protocol.
type TagProtocol int

const (
	ProtocolNone = TagProtocol(iota)
	ProtocolGen2
	ProtocolISO180006B
	ProtocolIPX64
	ProtocolIPX256
	ProtocolATA
)

var protocolStrs = [...][]byte{
	ProtocolNone:       []byte("NONE"),
	ProtocolGen2:       []byte("GEN2"),
	ProtocolISO180006B: []byte("ISO180006B"),
	ProtocolIPX64:      []byte("IPX64"),
	ProtocolIPX256:     []byte("IPX256"),
	ProtocolATA:        []byte("ATA"),
}

func (p TagProtocol) String() string {
	b, err := p.MarshalText()
	if err != nil {
		return "TagProtocol(?)"
	}
	return string(b)
}

func (p TagProtocol) MarshalText() ([]byte, error) {
	if !(0 <= int(p) && int(p) < len(protocolStrs)) {
		return nil, errors.Errorf("unknown TagProtocol: %d", int(p))
	}
	return protocolStrs[p], nil
}

func (p *TagProtocol) UnmarshalText(text []byte) error {
	for i := range protocolStrs {
		if bytes.EqualFold(protocolStrs[i], text) {
			*p = TagProtocol(i)
			return nil
		}
	}

	return errors.Errorf("unknown TagProtocol: %q", string(text))
}

func containsProtocol(list []TagProtocol, p TagProtocol) bool {
	for _, x := range list {
		if x == p {
			return true
		}
	}
	return false
}
