//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

// EventType is an enum of the inventory events.
type EventType string

const (
	// ArrivedType is a tag seen for the first time,
	// or seen again after it Departed.
	ArrivedType EventType = "Arrived"
	// DepartedType is a tag not seen for longer than the age-out window.
	DepartedType EventType = "Departed"
)

// BaseEvent holds the values common to every inventory event.
type BaseEvent struct {
	// EPC is the tag's Electronic Product Code as upper-case hex.
	EPC string `json:"epc"`
	// Timestamp is when the event occurred, in Unix epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// ArrivedEvent is generated when a tag is first seen,
// or seen while in the Departed state.
type ArrivedEvent struct {
	BaseEvent
	Antenna uint8 `json:"antenna"`
}

// DepartedEvent is generated when a tag hasn't been read for a while.
type DepartedEvent struct {
	BaseEvent
	// LastSeen is the tag's last read time in Unix epoch milliseconds.
	LastSeen    int64 `json:"last_seen"`
	LastAntenna uint8 `json:"last_antenna"`
}

// Event maps event structs to their EventType.
type Event interface {
	OfType() EventType
}

func (a ArrivedEvent) OfType() EventType {
	return ArrivedType
}

func (d DepartedEvent) OfType() EventType {
	return DepartedType
}
