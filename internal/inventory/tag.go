//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"sort"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

type TagState string

const (
	Present  TagState = "Present"
	Departed TagState = "Departed"
)

// Tag aggregates every observation of one EPC.
type Tag struct {
	EPC         string
	Protocol    reader.TagProtocol
	FirstSeen   int64
	LastSeen    int64
	LastAntenna uint8
	ReadCount   uint64
	state       TagState

	antennaStats map[uint8]*AntennaStats
	windowSize   int
}

func newTag(epc string, windowSize int) *Tag {
	return &Tag{
		EPC:          epc,
		state:        Present,
		antennaStats: make(map[uint8]*AntennaStats),
		windowSize:   windowSize,
	}
}

func (tag *Tag) update(r reader.TagReadData, seen int64) {
	if tag.FirstSeen == 0 || seen < tag.FirstSeen {
		tag.FirstSeen = seen
	}
	if seen >= tag.LastSeen {
		tag.LastSeen = seen
		tag.LastAntenna = r.Antenna
	}
	tag.Protocol = r.Protocol

	count := r.ReadCount
	if count == 0 {
		count = 1
	}
	tag.ReadCount += uint64(count)
	tag.getStats(r.Antenna).update(seen, count, r.RSSI)
}

func (tag *Tag) getStats(antenna uint8) *AntennaStats {
	stats, found := tag.antennaStats[antenna]
	if !found {
		stats = newAntennaStats(tag.windowSize)
		tag.antennaStats[antenna] = stats
	}
	return stats
}

// StaticTag is a Tag frozen in time for use with APIs.
type StaticTag struct {
	// EPC is upper-case hex.
	EPC      string             `json:"epc"`
	Protocol reader.TagProtocol `json:"protocol"`
	// FirstSeen, LastSeen are Unix epoch milliseconds.
	FirstSeen   int64    `json:"first_seen"`
	LastSeen    int64    `json:"last_seen"`
	LastAntenna uint8    `json:"last_antenna"`
	ReadCount   uint64   `json:"read_count"`
	State       TagState `json:"state"`
	// Antennas lists the antennas that have seen the tag, in ascending order.
	Antennas []StaticAntennaStats `json:"antennas"`
}

// StaticAntennaStats is an AntennaStats frozen in time.
type StaticAntennaStats struct {
	Antenna   uint8   `json:"antenna"`
	LastSeen  int64   `json:"last_seen"`
	ReadCount uint64  `json:"read_count"`
	MeanRSSI  float64 `json:"mean_rssi"`
}

func (tag *Tag) static() StaticTag {
	s := StaticTag{
		EPC:         tag.EPC,
		Protocol:    tag.Protocol,
		FirstSeen:   tag.FirstSeen,
		LastSeen:    tag.LastSeen,
		LastAntenna: tag.LastAntenna,
		ReadCount:   tag.ReadCount,
		State:       tag.state,
		Antennas:    make([]StaticAntennaStats, 0, len(tag.antennaStats)),
	}
	for ant, stats := range tag.antennaStats {
		s.Antennas = append(s.Antennas, StaticAntennaStats{
			Antenna:   ant,
			LastSeen:  stats.LastSeen,
			ReadCount: stats.ReadCount,
			MeanRSSI:  stats.MeanRSSI(),
		})
	}
	sort.Slice(s.Antennas, func(i, j int) bool {
		return s.Antennas[i].Antenna < s.Antennas[j].Antenna
	})
	return s
}

// TagRecord is the JSON form of a single tag read,
// as published and streamed.
type TagRecord struct {
	EPC       string             `json:"epc"`
	Antenna   uint8              `json:"antenna"`
	Protocol  reader.TagProtocol `json:"protocol"`
	RSSI      int32              `json:"rssi"`
	ReadCount uint32             `json:"read_count"`
	// Timestamp is Unix epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
	// Micros is the microsecond part of the observation time.
	Micros uint32 `json:"micros"`
}

func NewTagRecord(r reader.TagReadData) TagRecord {
	ts := r.Time()
	return TagRecord{
		EPC:       r.EPCString(),
		Antenna:   r.Antenna,
		Protocol:  r.Protocol,
		RSSI:      r.RSSI,
		ReadCount: r.ReadCount,
		Timestamp: int64(r.Millis()),
		Micros:    uint32(ts.Nanosecond()/1000) % 1000,
	}
}
