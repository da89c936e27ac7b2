//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"encoding/hex"
	"strings"
	"time"
)

// TagReadData is a single tag observation produced by a reader.
type TagReadData struct {
	EPC      []byte
	Antenna  uint8
	Protocol TagProtocol
	RSSI     int32

	// ReadCount is the number of times this EPC was seen on Antenna
	// during the current read window.
	ReadCount uint32

	// TimestampHigh and TimestampLow are the upper and lower halves
	// of the observation time, in milliseconds since the Unix epoch.
	TimestampHigh uint32
	TimestampLow  uint32
	// DSPMicros is the microsecond-resolution offset of the observation.
	// Its millisecond part is already included in the timestamp.
	DSPMicros uint32
}

// EPCString returns the EPC as upper-case hex.
func (t TagReadData) EPCString() string {
	return strings.ToUpper(hex.EncodeToString(t.EPC))
}

// Millis returns the combined 64-bit millisecond timestamp.
func (t TagReadData) Millis() uint64 {
	return uint64(t.TimestampHigh)<<32 | uint64(t.TimestampLow)
}

// Time returns the absolute observation time with microsecond precision.
func (t TagReadData) Time() time.Time {
	ms := int64(t.Millis())
	micros := (ms%1000)*1000 - int64(t.DSPMicros/1000)*1000 + int64(t.DSPMicros)
	return time.Unix(ms/1000, micros*int64(time.Microsecond))
}

// SetTime fills in the timestamp fields from ts.
func (t *TagReadData) SetTime(ts time.Time) {
	ms := uint64(ts.UnixNano() / int64(time.Millisecond))
	t.TimestampHigh = uint32(ms >> 32)
	t.TimestampLow = uint32(ms)
	t.DSPMicros = uint32(ts.Nanosecond()/int(time.Microsecond)) % 1000
}
