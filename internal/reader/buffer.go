//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"sync"
)

// TagBuffer is a bounded FIFO of tag records, as held by a reader during a read.
//
// Unlike a ring buffer, a full TagBuffer rejects new records
// rather than overwriting the oldest: the reader reports the overflow
// and the client drains what was captured.
// Draining is destructive and returns records in the order they were pushed.
type TagBuffer struct {
	records []TagReadData
	head    int
	mutex   sync.RWMutex
}

// NewTagBuffer allocates a TagBuffer that holds at most capacity records.
func NewTagBuffer(capacity int) *TagBuffer {
	if capacity <= 0 {
		panic("illegal tag buffer capacity")
	}

	return &TagBuffer{
		records: make([]TagReadData, 0, capacity),
	}
}

// Cap returns the maximum number of records the buffer can hold.
func (buff *TagBuffer) Cap() int {
	buff.mutex.RLock()
	defer buff.mutex.RUnlock()

	return cap(buff.records)
}

// Len returns the number of undrained records.
func (buff *TagBuffer) Len() int {
	buff.mutex.RLock()
	defer buff.mutex.RUnlock()

	return len(buff.records) - buff.head
}

// Push appends a record, or returns ErrBufferFull if the buffer is at capacity.
// Space freed by Next is not reused until Reset.
func (buff *TagBuffer) Push(t TagReadData) error {
	buff.mutex.Lock()
	defer buff.mutex.Unlock()

	if len(buff.records) >= cap(buff.records) {
		return ErrBufferFull
	}
	buff.records = append(buff.records, t)
	return nil
}

// Update calls f on the first undrained record matching match
// and reports whether one was found.
func (buff *TagBuffer) Update(match func(*TagReadData) bool, f func(*TagReadData)) bool {
	buff.mutex.Lock()
	defer buff.mutex.Unlock()

	for i := buff.head; i < len(buff.records); i++ {
		if match(&buff.records[i]) {
			f(&buff.records[i])
			return true
		}
	}
	return false
}

// Next removes and returns the oldest record, or ErrNoMoreTags.
func (buff *TagBuffer) Next() (TagReadData, error) {
	buff.mutex.Lock()
	defer buff.mutex.Unlock()

	if buff.head >= len(buff.records) {
		return TagReadData{}, ErrNoMoreTags
	}

	t := buff.records[buff.head]
	buff.records[buff.head] = TagReadData{}
	buff.head++
	return t, nil
}

// Reset empties the buffer for a new read window.
func (buff *TagBuffer) Reset() {
	buff.mutex.Lock()
	defer buff.mutex.Unlock()

	buff.records = buff.records[:0]
	buff.head = 0
}
