//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

// AntennaStats tracks how one antenna has seen a tag.
type AntennaStats struct {
	LastSeen  int64
	ReadCount uint64
	rssi      *CircularBuffer
}

func newAntennaStats(windowSize int) *AntennaStats {
	return &AntennaStats{rssi: NewCircularBuffer(windowSize)}
}

func (stats *AntennaStats) update(seen int64, count uint32, rssi int32) {
	if seen > stats.LastSeen {
		stats.LastSeen = seen
	}
	stats.ReadCount += uint64(count)
	stats.rssi.AddValue(float64(rssi))
}

func (stats *AntennaStats) MeanRSSI() float64 {
	return stats.rssi.Mean()
}
