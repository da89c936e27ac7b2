//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package simreader

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

func TestCRC16(t *testing.T) {
	assert.Equal(t, uint16(0x29B1), crc16([]byte("123456789")))
	assert.Equal(t, uint16(0xFFFF), crc16(nil))
}

func TestFrameRoundTrip(t *testing.T) {
	f := encodeFrame(opSetRegion, []byte{0x01})
	assert.Equal(t, byte(frameHeader), f[0])
	assert.Equal(t, byte(1), f[1])
	assert.Len(t, f, 6)

	op, payload, err := decodeFrame(f)
	require.NoError(t, err)
	assert.Equal(t, opSetRegion, op)
	assert.Equal(t, []byte{0x01}, payload)
}

func TestDecodeFrameErrors(t *testing.T) {
	good := encodeFrame(opVersion, []byte{0xAA, 0xBB})

	corrupt := append([]byte(nil), good...)
	corrupt[3] ^= 0xFF
	_, _, err := decodeFrame(corrupt)
	assert.Equal(t, errBadCRC, err)

	noHeader := append([]byte(nil), good...)
	noHeader[0] = 0x00
	_, _, err = decodeFrame(noHeader)
	assert.Equal(t, errBadHeader, err)

	_, _, err = decodeFrame(good[:4])
	assert.True(t, errors.Is(err, errShortFrame))

	_, _, err = decodeFrame(good[:len(good)-1])
	assert.True(t, errors.Is(err, errShortFrame))
}

func TestRespond(t *testing.T) {
	resp := respond(encodeFrame(opGetParam, []byte("x")))
	op, body, err := decodeFrame(resp)
	require.NoError(t, err)
	assert.Equal(t, opGetParam, op)
	assert.Equal(t, []byte{0x00, 0x00}, body)

	bad := encodeFrame(opGetParam, nil)
	bad[len(bad)-1] ^= 0xFF
	_, body, err = decodeFrame(respond(bad))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x01}, body)
}

func TestExchangeOverLoopback(t *testing.T) {
	lb := transport.NewLoopback("exchange")
	defer lb.Close()

	// Without the simulator answering, the echo has no status word.
	assert.Error(t, exchange(lb, opVersion, nil, 50*time.Millisecond))

	lb.SetResponder(respond)
	assert.NoError(t, exchange(lb, opVersion, nil, 50*time.Millisecond))
	assert.NoError(t, exchange(lb, opSetParam, make([]byte, 40), 50*time.Millisecond))

	lb.SetResponder(func([]byte) []byte { return nil })
	assert.True(t, errors.Is(exchange(lb, opVersion, nil, 10*time.Millisecond), transport.ErrTimeout))
}

func TestSchedule(t *testing.T) {
	a := &reader.SimpleReadPlan{Protocol: reader.ProtocolGen2, Weight: 3}
	b := &reader.SimpleReadPlan{Protocol: reader.ProtocolISO180006B, Weight: 1}

	steps := schedule(a, time.Second)
	require.Len(t, steps, 1)
	assert.Equal(t, time.Second, steps[0].dur)

	multi := &reader.MultiReadPlan{Plans: []reader.ReadPlan{a, b}, Weight: 1000}
	steps = schedule(multi, time.Second)
	require.Len(t, steps, 2)
	assert.Equal(t, 750*time.Millisecond, steps[0].dur)
	assert.Equal(t, 250*time.Millisecond, steps[1].dur)
	assert.Same(t, a, steps[0].plan)

	nested := &reader.MultiReadPlan{Plans: []reader.ReadPlan{multi, b}}
	assert.Len(t, schedule(nested, time.Second), 3)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "default", modify: func(*Config) {}},
		{name: "negative capacity", modify: func(c *Config) { c.BufferCapacity = -1 }, wantErr: true},
		{name: "odd EPC", modify: func(c *Config) { c.Tags[0].EPC = []byte{1, 2, 3} }, wantErr: true},
		{name: "no protocol", modify: func(c *Config) { c.Tags[0].Protocol = reader.ProtocolNone }, wantErr: true},
		{name: "short key", modify: func(c *Config) {
			c.Tags[0].Tam1Keys = map[reader.Tam1KeyID][]byte{reader.Key0: {1}}
		}, wantErr: true},
		{name: "unknown initial region", modify: func(c *Config) { c.Region = reader.RegionJP }, wantErr: true},
		{name: "known initial region", modify: func(c *Config) { c.Region = reader.RegionNA }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDefaultHopTable(t *testing.T) {
	na := defaultHopTable(reader.RegionNA)
	assert.Len(t, na, 50)
	assert.Equal(t, uint32(902750), na[0])
	assert.Equal(t, uint32(927250), na[len(na)-1])
	assert.Nil(t, defaultHopTable(reader.RegionNone))
	assert.NotEmpty(t, defaultHopTable(reader.RegionKR2))
}

func TestEPCBank(t *testing.T) {
	mem := epcBank([]byte{0x30, 0x00, 0x00, 0x01})
	require.Len(t, mem, 8)
	// Two EPC words in the PC length field.
	assert.Equal(t, []byte{0x10, 0x00}, mem[2:4])
	crc := ^crc16(mem[2:])
	assert.Equal(t, []byte{byte(crc >> 8), byte(crc)}, mem[:2])
}

func TestReadMemory(t *testing.T) {
	tag := &simTag{
		Tag: Tag{
			EPC:  []byte{0x30, 0x00, 0x00, 0x01},
			TID:  []byte{0xE2, 0x80, 0x11, 0x05, 0x20, 0x00},
			User: []byte{0xCA, 0xFE},
		},
		visibleEPC: []byte{0x30, 0x00, 0x00, 0x01},
	}

	data, err := readMemory(tag, &reader.ReadData{Bank: reader.BankEPC, WordAddress: 2})
	require.NoError(t, err)
	assert.Equal(t, tag.EPC, data)

	data, err = readMemory(tag, &reader.ReadData{Bank: reader.BankTID, WordAddress: 1, WordCount: 1})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0x05}, data)

	_, err = readMemory(tag, &reader.ReadData{Bank: reader.BankTID, WordCount: 4})
	assert.Equal(t, errMemoryOverrun, err)

	tag.tid = reader.TIDHideSome
	_, err = readMemory(tag, &reader.ReadData{Bank: reader.BankTID, WordAddress: 2, WordCount: 1})
	assert.Equal(t, errMemoryOverrun, err)

	tag.tid = reader.TIDHideAll
	_, err = readMemory(tag, &reader.ReadData{Bank: reader.BankTID})
	assert.Equal(t, errMemoryLocked, err)

	tag.userHidden = true
	_, err = readMemory(tag, &reader.ReadData{Bank: reader.BankUser})
	assert.Equal(t, errMemoryLocked, err)

	data, err = readMemory(tag, &reader.ReadData{Bank: reader.BankReserved})
	require.NoError(t, err)
	assert.Len(t, data, 8)
	tag.AccessPassword = 0x1234
	_, err = readMemory(tag, &reader.ReadData{Bank: reader.BankReserved})
	assert.Equal(t, errMemoryLocked, err)
}

func TestUntraceableAccessPassword(t *testing.T) {
	tag := &simTag{
		Tag:        Tag{EPC: []byte{1, 2, 3, 4, 5, 6}, AccessPassword: 0xCAFE},
		visibleEPC: []byte{1, 2, 3, 4, 5, 6},
	}

	op := &reader.Untraceable{
		EPC:       reader.EPCHide,
		EPCLength: 1,
		User:      reader.UserHide,
		Auth:      reader.UntraceableAuth{Type: reader.UntraceableWithAccess, AccessPassword: 0xBEEF},
	}
	assert.Equal(t, errAuthFailed, untraceable(tag, op))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, tag.visibleEPC)

	op.Auth.AccessPassword = 0xCAFE
	require.NoError(t, untraceable(tag, op))
	assert.Equal(t, []byte{1, 2}, tag.visibleEPC)
	assert.True(t, tag.userHidden)

	op.EPC = reader.EPCShow
	op.User = reader.UserShow
	require.NoError(t, untraceable(tag, op))
	assert.Equal(t, tag.EPC, tag.visibleEPC)
	assert.False(t, tag.userHidden)
}

func TestDriverParams(t *testing.T) {
	lb := transport.NewLoopback("params")
	defer lb.Close()
	d, err := New(lb, logger.NewMockClient(), DefaultConfig())
	require.NoError(t, err)

	_, err = d.ParamGet(reader.ParamVersionModel)
	assert.Equal(t, errNotConnected, err)

	require.NoError(t, d.Connect(context.Background()))

	v, err := d.ParamGet(reader.ParamTagBufferCapacity)
	require.NoError(t, err)
	assert.Equal(t, DefaultBufferCapacity, v)

	v, err = d.ParamGet(reader.ParamAsyncOnTime)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, v)

	_, err = d.ParamGet(reader.Param("/reader/unknown"))
	assert.True(t, errors.Is(err, reader.ErrUnsupportedParam))

	err = d.ParamSet(reader.ParamHopTable, []uint32{915000})
	assert.Error(t, err, "hop table before region")

	require.NoError(t, d.ParamSet(reader.ParamRegionID, reader.RegionSG))
	v, err = d.ParamGet(reader.ParamHopTable)
	require.NoError(t, err)
	assert.Equal(t, defaultHopTable(reader.RegionSG), v)

	assert.True(t, errors.Is(d.ParamSet(reader.ParamRegionID, reader.RegionJP), reader.ErrUnsupportedRegion))
	assert.True(t, errors.Is(d.ParamSet(reader.ParamVersionModel, "x"), reader.ErrReadOnlyParam))
	assert.Error(t, d.ParamSet(reader.ParamGen2Q, 4))

	require.NoError(t, d.Close())
	_, err = d.ParamGet(reader.ParamRegionID)
	assert.Equal(t, errNotConnected, err)
}

func TestRegisterAndOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Model = "M6e Micro"
	require.NoError(t, Register("micro", cfg))

	bad := DefaultConfig()
	bad.BufferCapacity = -5
	assert.Error(t, Register("bad", bad))

	s, err := reader.Open(context.Background(), "sim:///micro", reader.OpenOptions{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	model, err := s.Params().Model()
	require.NoError(t, err)
	assert.Equal(t, "M6e Micro", model)
}

func TestSetTags(t *testing.T) {
	lb := transport.NewLoopback("set-tags")
	defer lb.Close()
	d, err := New(lb, logger.NewMockClient(), DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, d.Connect(context.Background()))

	d.SetTags([]Tag{{
		EPC:      []byte{0x30, 0x14, 0x00, 0x42},
		Antenna:  3,
		Protocol: reader.ProtocolGen2,
		RSSI:     -40,
	}})

	require.NoError(t, d.Read(context.Background(), 50*time.Millisecond))
	var reads []reader.TagReadData
	for d.HasMoreTags() {
		trd, err := d.GetNextTag()
		require.NoError(t, err)
		reads = append(reads, trd)
	}
	require.Len(t, reads, 1)
	assert.Equal(t, "30140042", reads[0].EPCString())
	assert.Equal(t, uint8(3), reads[0].Antenna)

	d.SetTags(nil)
	require.NoError(t, d.Read(context.Background(), 50*time.Millisecond))
	assert.False(t, d.HasMoreTags())
}

func TestServeOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- Serve(ctx, ln, logger.NewMockClient()) }()

	cfg := DefaultConfig()
	cfg.Model = "M6e Nano"
	require.NoError(t, Register(addr, cfg))

	var sent, received int
	s, err := reader.Open(context.Background(), "tmr://"+addr, reader.OpenOptions{
		Options: reader.Options{
			TransportListener: func(tx bool, _ []byte, _ time.Duration) {
				if tx {
					sent++
				} else {
					received++
				}
			},
		},
	})
	require.NoError(t, err)

	model, err := s.Params().Model()
	require.NoError(t, err)
	assert.Equal(t, "M6e Nano", model)

	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
	n := 0
	for s.HasMoreTags() {
		_, err := s.GetNextTag()
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, len(cfg.Tags), n)
	assert.NotZero(t, sent)
	assert.NotZero(t, received)
	require.NoError(t, s.Close())

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	_, err = reader.Open(context.Background(), "tmr://"+addr, reader.OpenOptions{
		Dial: transport.DialOptions{ConnectTimeout: time.Second},
	})
	require.Error(t, err)
	assert.Equal(t, reader.KindDevice, reader.KindOf(err), "%v", err)
}

func TestOpenMissingSerialDevice(t *testing.T) {
	_, err := reader.Open(context.Background(), "tmr://"+t.TempDir()+"/ttyUSB9", reader.OpenOptions{})
	require.Error(t, err)
	assert.Equal(t, reader.KindDevice, reader.KindOf(err), "%v", err)
	assert.Contains(t, err.Error(), "failed to open serial device")
}
