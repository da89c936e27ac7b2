//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

var baseTime = time.Unix(1600000000, 0)

func read(epc byte, antenna uint8, rssi int32, at time.Time) reader.TagReadData {
	r := reader.TagReadData{
		EPC:       []byte{0x30, 0x00, epc},
		Antenna:   antenna,
		Protocol:  reader.ProtocolGen2,
		RSSI:      rssi,
		ReadCount: 2,
	}
	r.SetTime(at)
	return r
}

func newTestTracker(opts TrackerOptions) *Tracker {
	tr := NewTracker(logger.NewMockClient(), opts)
	tr.now = func() time.Time { return baseTime.Add(10 * time.Second) }
	return tr
}

func TestProcessAggregates(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})

	events := tr.Process(
		read(1, 1, -60, baseTime),
		read(1, 2, -50, baseTime.Add(time.Second)),
		read(1, 1, -70, baseTime.Add(2*time.Second)),
		read(2, 2, -40, baseTime),
	)
	require.Len(t, events, 2)
	assert.Equal(t, ArrivedType, events[0].OfType())
	assert.Equal(t, "300001", events[0].(ArrivedEvent).EPC)
	assert.Equal(t, uint8(1), events[0].(ArrivedEvent).Antenna)
	assert.Equal(t, "300002", events[1].(ArrivedEvent).EPC)

	assert.Equal(t, 2, tr.Len())
	snap := tr.Snapshot()
	require.Len(t, snap, 2)

	tag := snap[0]
	assert.Equal(t, "300001", tag.EPC)
	assert.Equal(t, UnixMilli(baseTime), tag.FirstSeen)
	assert.Equal(t, UnixMilli(baseTime.Add(2*time.Second)), tag.LastSeen)
	assert.Equal(t, uint8(1), tag.LastAntenna)
	assert.Equal(t, uint64(6), tag.ReadCount)
	assert.Equal(t, Present, tag.State)
	require.Len(t, tag.Antennas, 2)
	assert.Equal(t, uint8(1), tag.Antennas[0].Antenna)
	assert.Equal(t, uint64(4), tag.Antennas[0].ReadCount)
	assert.Equal(t, -65.0, tag.Antennas[0].MeanRSSI)
	assert.Equal(t, -50.0, tag.Antennas[1].MeanRSSI)
}

func TestOutOfOrderReads(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.Process(read(1, 1, -60, baseTime.Add(time.Second)))
	tr.Process(read(1, 2, -60, baseTime))

	tag, ok := tr.Lookup("300001")
	require.True(t, ok)
	assert.Equal(t, UnixMilli(baseTime), tag.FirstSeen)
	assert.Equal(t, UnixMilli(baseTime.Add(time.Second)), tag.LastSeen)
	assert.Equal(t, uint8(1), tag.LastAntenna)
}

func TestMissingTimestamp(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.OnTagRead(reader.TagReadData{EPC: []byte{0xAB}, Antenna: 1})

	tag, ok := tr.Lookup("AB")
	require.True(t, ok)
	assert.Equal(t, UnixMilli(tr.now()), tag.LastSeen)
	assert.Equal(t, uint64(1), tag.ReadCount, "zero read count counts once")
}

func TestAgeOut(t *testing.T) {
	var got []Event
	tr := newTestTracker(TrackerOptions{OnEvent: func(e Event) { got = append(got, e) }})

	tr.Process(read(1, 1, -60, baseTime), read(2, 1, -60, baseTime.Add(9*time.Second)))
	require.Len(t, got, 2)

	events := tr.AgeOut(5 * time.Second)
	require.Len(t, events, 1)
	departed := events[0].(DepartedEvent)
	assert.Equal(t, "300001", departed.EPC)
	assert.Equal(t, UnixMilli(baseTime), departed.LastSeen)
	assert.Len(t, got, 3)

	// Already departed.
	assert.Empty(t, tr.AgeOut(5*time.Second))

	tag, _ := tr.Lookup("300001")
	assert.Equal(t, Departed, tag.State)

	// Seen again.
	events = tr.Process(read(1, 2, -60, baseTime.Add(10*time.Second)))
	require.Len(t, events, 1)
	assert.Equal(t, ArrivedType, events[0].OfType())
	tag, _ = tr.Lookup("300001")
	assert.Equal(t, Present, tag.State)
}

func TestReset(t *testing.T) {
	tr := newTestTracker(TrackerOptions{})
	tr.Process(read(1, 1, -60, baseTime))
	tr.Reset()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Snapshot())
	_, ok := tr.Lookup("300001")
	assert.False(t, ok)
}

func TestRSSIWindow(t *testing.T) {
	tr := newTestTracker(TrackerOptions{WindowSize: 2})
	tr.Process(
		read(1, 1, -90, baseTime),
		read(1, 1, -60, baseTime),
		read(1, 1, -40, baseTime),
	)
	tag, _ := tr.Lookup("300001")
	assert.Equal(t, -50.0, tag.Antennas[0].MeanRSSI)
}

func TestCircularBuffer(t *testing.T) {
	buff := NewCircularBuffer(3)
	assert.Equal(t, 0.0, buff.Mean())

	for _, v := range []float64{1, 2, 3, 4, 5} {
		buff.AddValue(v)
	}
	assert.Equal(t, 3, buff.Len())
	assert.Equal(t, 4.0, buff.Mean())

	assert.Equal(t, 1, cap(NewCircularBuffer(0).values))
}

func TestUnixMilli(t *testing.T) {
	assert.Equal(t, int64(0), UnixMilli(time.Time{}))
	assert.True(t, FromUnixMilli(0).IsZero())

	const ms = int64(1502472327865)
	at := time.Unix(ms/1000, ms%1000*int64(time.Millisecond))
	assert.Equal(t, ms, UnixMilli(at))
	assert.True(t, at.Equal(FromUnixMilli(ms)))
}

func TestTagRecordJSON(t *testing.T) {
	r := reader.TagReadData{
		EPC:          []byte{0xE2, 0x00},
		Antenna:      2,
		Protocol:     reader.ProtocolGen2,
		RSSI:         -55,
		ReadCount:    3,
		TimestampLow: 1500,
		DSPMicros:    250,
	}
	rec := NewTagRecord(r)
	assert.Equal(t, int64(1500), rec.Timestamp)
	assert.Equal(t, uint32(250), rec.Micros)

	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"epc":"E200","antenna":2,"protocol":"GEN2","rssi":-55,
		"read_count":3,"timestamp":1500,"micros":250}`, string(data))
}
