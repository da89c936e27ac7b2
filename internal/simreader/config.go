//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simreader

import (
	"time"

	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

// Tag is a simulated tag in the reader's field.
type Tag struct {
	EPC      []byte
	TID      []byte
	User     []byte
	Antenna  uint8
	Protocol reader.TagProtocol
	RSSI     int32

	// Tam1Keys are the tag's AES keys, by key ID. A tag without keys fails TAM1.
	Tam1Keys       map[reader.Tam1KeyID][]byte
	AccessPassword uint32
}

// Config describes a simulated reader.
type Config struct {
	Model     string
	Regions   []reader.Region
	Protocols []reader.TagProtocol
	Ports     []uint8
	// Region is the region the reader boots with; RegionNone leaves it unset.
	Region reader.Region

	BufferCapacity int
	Tags           []Tag

	// RoundInterval is the duration of one inventory round.
	RoundInterval time.Duration
	// RealTime makes reads take their full duration.
	// Otherwise the rounds are simulated instantly.
	RealTime bool

	BAPPowerUpDelayUs   uint32
	BAPFreqHopOffTimeUs uint32

	// Unsupported parameters report a capability error.
	Unsupported []reader.Param

	ResponseTimeout time.Duration
}

const (
	DefaultModel          = "M6e"
	DefaultBufferCapacity = 200
	DefaultRoundInterval  = 10 * time.Millisecond
	DefaultPowerUpDelayUs = 3000
	DefaultHopOffTimeUs   = 20000
	defaultRSSI           = -60
	defaultTimeout        = time.Second
)

// DefaultConfig is a four-port Gen2/ISO18000-6B reader with an unset region
// and a small tag population.
func DefaultConfig() Config {
	return Config{
		Model:     DefaultModel,
		Regions:   []reader.Region{reader.RegionNA, reader.RegionEU3, reader.RegionSG, reader.RegionPRC},
		Protocols: []reader.TagProtocol{reader.ProtocolGen2, reader.ProtocolISO180006B},
		Ports:     []uint8{1, 2, 3, 4},
		Tags: []Tag{
			{
				EPC:      []byte{0xE2, 0x00, 0x68, 0x11, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x01},
				TID:      []byte{0xE2, 0x80, 0x68, 0x94, 0x00, 0x00, 0x50, 0x01},
				User:     make([]byte, 8),
				Antenna:  1,
				Protocol: reader.ProtocolGen2,
				RSSI:     -52,
				Tam1Keys: map[reader.Tam1KeyID][]byte{
					reader.Key0: {
						0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
						0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
					},
				},
			},
			{
				EPC:      []byte{0x30, 0x08, 0x33, 0xB2, 0xDD, 0xD9, 0x01, 0x40, 0x00, 0x00, 0x00, 0x02},
				TID:      []byte{0xE2, 0x00, 0x34, 0x12, 0x01, 0x2E, 0xFF, 0x02},
				Antenna:  2,
				Protocol: reader.ProtocolGen2,
				RSSI:     -67,
			},
			{
				EPC:      []byte{0xE0, 0x04, 0x01, 0x00, 0x9B, 0x3C, 0x11, 0x03},
				Antenna:  1,
				Protocol: reader.ProtocolISO180006B,
				RSSI:     -71,
			},
		},
	}
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.BufferCapacity == 0 {
		c.BufferCapacity = DefaultBufferCapacity
	}
	if c.RoundInterval == 0 {
		c.RoundInterval = DefaultRoundInterval
	}
	if c.BAPPowerUpDelayUs == 0 {
		c.BAPPowerUpDelayUs = DefaultPowerUpDelayUs
	}
	if c.BAPFreqHopOffTimeUs == 0 {
		c.BAPFreqHopOffTimeUs = DefaultHopOffTimeUs
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = defaultTimeout
	}
}

// Validate returns an error if the Config can't describe a reader.
func (c Config) Validate() error {
	if c.BufferCapacity < 0 {
		return errors.Errorf("buffer capacity must not be negative, got %d", c.BufferCapacity)
	}
	if c.RoundInterval < 0 {
		return errors.New("round interval must not be negative")
	}
	for i, t := range c.Tags {
		if len(t.EPC) == 0 {
			return errors.Errorf("tag %d has no EPC", i)
		}
		if len(t.EPC)%2 != 0 {
			return errors.Errorf("tag %d EPC must be a whole number of 16-bit words", i)
		}
		if t.Protocol == reader.ProtocolNone {
			return errors.Errorf("tag %d has no protocol", i)
		}
		for id, k := range t.Tam1Keys {
			if len(k) != reader.Tam1KeyLen {
				return errors.Errorf("tag %d key %d must be %d bytes", i, id, reader.Tam1KeyLen)
			}
		}
	}
	if c.Region != reader.RegionNone {
		found := false
		for _, r := range c.Regions {
			if r == c.Region {
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("initial region %s isn't in the supported list", c.Region)
		}
	}
	return nil
}

// defaultHopTable is the channel list, in kHz, a region boots with.
func defaultHopTable(r reader.Region) []uint32 {
	switch r {
	case reader.RegionNA, reader.RegionNA2, reader.RegionNA3:
		freqs := make([]uint32, 0, 50)
		for f := uint32(902750); f <= 927250; f += 500 {
			freqs = append(freqs, f)
		}
		return freqs
	case reader.RegionEU3:
		return []uint32{865700, 866300, 866900, 867500}
	case reader.RegionSG:
		return []uint32{920250, 920750, 921250, 921750, 922250, 922750, 923250, 923750, 924250, 924750}
	case reader.RegionPRC:
		return []uint32{920625, 921125, 921625, 922125, 922625, 923125, 923625, 924125}
	case reader.RegionNone:
		return nil
	}
	return []uint32{915000}
}
