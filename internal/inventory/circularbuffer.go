//
// Copyright (C) 2020 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package inventory

// CircularBuffer keeps the most recent values up to a fixed window
// and a running total, for moving averages of RSSI.
// It is not safe for concurrent use; the Tracker's lock guards it.
type CircularBuffer struct {
	values []float64
	total  float64
	next   int
}

// NewCircularBuffer returns a buffer holding at most windowSize values.
// A windowSize less than 1 is treated as 1.
func NewCircularBuffer(windowSize int) *CircularBuffer {
	if windowSize < 1 {
		windowSize = 1
	}
	return &CircularBuffer{values: make([]float64, 0, windowSize)}
}

func (buff *CircularBuffer) Len() int {
	return len(buff.values)
}

// Mean is the average of the values in the window, or 0 if it's empty.
func (buff *CircularBuffer) Mean() float64 {
	if len(buff.values) == 0 {
		return 0
	}
	return buff.total / float64(len(buff.values))
}

// AddValue adds value, replacing the oldest one if the window is full.
func (buff *CircularBuffer) AddValue(value float64) {
	if len(buff.values) < cap(buff.values) {
		buff.values = append(buff.values, value)
		buff.total += value
		return
	}

	buff.total += value - buff.values[buff.next]
	buff.values[buff.next] = value
	buff.next = (buff.next + 1) % cap(buff.values)
}
