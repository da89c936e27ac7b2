//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

import (
	"sort"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

// DefaultWindowSize is the number of RSSI values averaged per antenna.
const DefaultWindowSize = 20

// Tracker holds the current inventory and folds tag reads into it.
// It implements reader.ReadListener, so it can be attached to a Session
// for background reads or fed the drained records of a synchronous read.
type Tracker struct {
	lc         logger.LoggingClient
	windowSize int
	onEvent    func(Event)
	now        func() time.Time

	mu        sync.Mutex
	inventory map[string]*Tag
}

// TrackerOptions configure a Tracker. The zero value is usable.
type TrackerOptions struct {
	WindowSize int
	// OnEvent, if set, is called for every Arrived and Departed event,
	// outside the Tracker's lock.
	OnEvent func(Event)
}

func NewTracker(lc logger.LoggingClient, opts TrackerOptions) *Tracker {
	if lc == nil {
		lc = logger.NewMockClient()
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	return &Tracker{
		lc:         lc,
		windowSize: opts.WindowSize,
		onEvent:    opts.OnEvent,
		now:        time.Now,
		inventory:  make(map[string]*Tag),
	}
}

// OnTagRead implements reader.ReadListener.
func (tr *Tracker) OnTagRead(r reader.TagReadData) {
	tr.Process(r)
}

// Process folds the reads into the inventory
// and returns the events they caused, in order.
func (tr *Tracker) Process(reads ...reader.TagReadData) []Event {
	var events []Event

	tr.mu.Lock()
	for _, r := range reads {
		if e := tr.process(r); e != nil {
			events = append(events, e)
		}
	}
	tr.mu.Unlock()

	tr.emit(events)
	return events
}

func (tr *Tracker) process(r reader.TagReadData) Event {
	seen := int64(r.Millis())
	if seen == 0 {
		seen = UnixMilli(tr.now())
	}

	epc := r.EPCString()
	tag, found := tr.inventory[epc]
	if !found {
		tag = newTag(epc, tr.windowSize)
		tr.inventory[epc] = tag
	}

	var event Event
	if !found || tag.state == Departed {
		tag.state = Present
		event = ArrivedEvent{
			BaseEvent: BaseEvent{EPC: epc, Timestamp: seen},
			Antenna:   r.Antenna,
		}
	}

	tag.update(r, seen)
	return event
}

// AgeOut marks Present tags not seen for longer than maxAge as Departed,
// and returns the resulting events.
func (tr *Tracker) AgeOut(maxAge time.Duration) []Event {
	now := tr.now()
	cutoff := UnixMilli(now.Add(-maxAge))
	var events []Event

	tr.mu.Lock()
	for _, tag := range tr.inventory {
		if tag.state != Present || tag.LastSeen >= cutoff {
			continue
		}
		tag.state = Departed
		events = append(events, DepartedEvent{
			BaseEvent:   BaseEvent{EPC: tag.EPC, Timestamp: UnixMilli(now)},
			LastSeen:    tag.LastSeen,
			LastAntenna: tag.LastAntenna,
		})
	}
	tr.mu.Unlock()

	sort.Slice(events, func(i, j int) bool {
		return events[i].(DepartedEvent).EPC < events[j].(DepartedEvent).EPC
	})
	tr.emit(events)
	return events
}

func (tr *Tracker) emit(events []Event) {
	for _, e := range events {
		tr.lc.Debug("Inventory event.", "type", e.OfType())
		if tr.onEvent != nil {
			tr.onEvent(e)
		}
	}
}

// Snapshot returns the inventory ordered by EPC.
func (tr *Tracker) Snapshot() []StaticTag {
	tr.mu.Lock()
	res := make([]StaticTag, 0, len(tr.inventory))
	for _, tag := range tr.inventory {
		res = append(res, tag.static())
	}
	tr.mu.Unlock()

	sort.Slice(res, func(i, j int) bool { return res[i].EPC < res[j].EPC })
	return res
}

// Lookup returns the tag with the given upper-case hex EPC.
func (tr *Tracker) Lookup(epc string) (StaticTag, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	tag, found := tr.inventory[epc]
	if !found {
		return StaticTag{}, false
	}
	return tag.static(), true
}

func (tr *Tracker) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.inventory)
}

// Reset forgets every tag.
func (tr *Tracker) Reset() {
	tr.mu.Lock()
	tr.inventory = make(map[string]*Tag)
	tr.mu.Unlock()
}
