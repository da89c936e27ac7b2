//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simreader

import (
	"time"

	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

// Frames on the wire are:
//
//	0xFF | length | opcode | payload (length bytes) | CRC-16 (big endian)
//
// The CRC covers everything after the 0xFF header.
// Responses echo the opcode and start their payload with a 2-byte status.
const (
	frameHeader   = 0xFF
	frameOverhead = 5
	maxPayload    = 250
)

type opcode uint8

const (
	opVersion         = opcode(0x03)
	opReadTagMultiple = opcode(0x22)
	opGetTagBuffer    = opcode(0x29)
	opClearTagBuffer  = opcode(0x2A)
	opTagOp           = opcode(0x2D)
	opGetParam        = opcode(0x6B)
	opSetRegion       = opcode(0x97)
	opSetParam        = opcode(0x9B)
)

const (
	statusOK        = 0x0000
	statusBadCRC    = 0x0101
	statusBadLength = 0x0105
)

var (
	errShortFrame = errors.New("short frame")
	errBadHeader  = errors.New("missing frame header")
	errBadCRC     = errors.New("frame CRC mismatch")
)

// crc16 is CRC-CCITT (polynomial 0x1021, initial value 0xFFFF).
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func encodeFrame(op opcode, payload []byte) []byte {
	if len(payload) > maxPayload {
		payload = payload[:maxPayload]
	}
	f := make([]byte, 0, len(payload)+frameOverhead)
	f = append(f, frameHeader, byte(len(payload)), byte(op))
	f = append(f, payload...)
	crc := crc16(f[1:])
	return append(f, byte(crc>>8), byte(crc))
}

// decodeFrame parses a single complete frame.
func decodeFrame(f []byte) (opcode, []byte, error) {
	if len(f) < frameOverhead {
		return 0, nil, errShortFrame
	}
	if f[0] != frameHeader {
		return 0, nil, errBadHeader
	}
	n := int(f[1])
	if len(f) != n+frameOverhead {
		return 0, nil, errors.Wrapf(errShortFrame, "want %d bytes, got %d", n+frameOverhead, len(f))
	}
	body := f[1 : n+3]
	want := uint16(f[n+3])<<8 | uint16(f[n+4])
	if crc16(body) != want {
		return 0, nil, errBadCRC
	}
	return opcode(f[2]), f[3 : n+3], nil
}

// respond is the far end of the loopback: it acknowledges every request.
func respond(req []byte) []byte {
	op, _, err := decodeFrame(req)
	status := uint16(statusOK)
	switch {
	case errors.Is(err, errBadCRC):
		status = statusBadCRC
	case err != nil:
		status = statusBadLength
	}
	return encodeFrame(op, []byte{byte(status >> 8), byte(status)})
}

// exchange sends one command frame and waits for its response.
func exchange(conn transport.Conn, op opcode, payload []byte, timeout time.Duration) error {
	if err := conn.Send(encodeFrame(op, payload), timeout); err != nil {
		return errors.WithMessagef(err, "failed to send opcode 0x%02X", uint8(op))
	}

	resp, err := receiveFrame(conn, timeout)
	if err != nil {
		return errors.WithMessagef(err, "no response to opcode 0x%02X", uint8(op))
	}
	rop, body, err := decodeFrame(resp)
	if err != nil {
		return err
	}
	if rop != op {
		return errors.Errorf("response opcode 0x%02X doesn't match request 0x%02X", uint8(rop), uint8(op))
	}
	if len(body) < 2 {
		return errors.Wrap(errShortFrame, "response has no status")
	}
	if status := uint16(body[0])<<8 | uint16(body[1]); status != statusOK {
		return errors.Errorf("reader returned status 0x%04X for opcode 0x%02X", status, uint8(op))
	}
	return nil
}

func receiveFrame(conn transport.Conn, timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 0, maxPayload+frameOverhead)
	chunk := make([]byte, maxPayload+frameOverhead)
	for {
		need := frameOverhead
		if len(buf) >= 2 {
			need = int(buf[1]) + frameOverhead
		}
		if len(buf) >= need {
			return buf[:need], nil
		}

		n, err := conn.Receive(chunk[:need-len(buf)], timeout)
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk[:n]...)
		if len(buf) > 0 && buf[0] != frameHeader {
			return nil, errBadHeader
		}
	}
}
