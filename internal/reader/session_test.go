//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader_test

import (
	"context"
	"crypto/aes"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
	"edgexfoundry/app-rfid-reader-session/internal/simreader"
	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

var testKey = []byte{
	0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
	0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF,
}

var testChallenge = []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF, 0xAB, 0xCD}

func gen2Tag(last byte, antenna uint8) simreader.Tag {
	return simreader.Tag{
		EPC:      []byte{0xE2, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, last},
		TID:      []byte{0xE2, 0x80, 0x11, last},
		User:     []byte{0x00, 0x01, 0x02, 0x03},
		Antenna:  antenna,
		Protocol: reader.ProtocolGen2,
		Tam1Keys: map[reader.Tam1KeyID][]byte{reader.Key0: testKey},
	}
}

func testConfig(tags ...simreader.Tag) simreader.Config {
	return simreader.Config{
		Model:     "M6e",
		Regions:   []reader.Region{reader.RegionNA, reader.RegionEU3},
		Protocols: []reader.TagProtocol{reader.ProtocolGen2, reader.ProtocolISO180006B},
		Ports:     []uint8{1, 2},
		Tags:      tags,
	}
}

// newTestSession returns a connected Session over a simulated reader.
func newTestSession(t *testing.T, cfg simreader.Config) (*reader.Session, *simreader.Driver) {
	t.Helper()
	conn := transport.NewLoopback(t.Name())
	drv, err := simreader.New(conn, logger.NewMockClient(), cfg)
	require.NoError(t, err)

	s := reader.NewSession(drv, reader.Options{Logger: logger.NewMockClient(), Transport: conn})
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s, drv
}

func setPlan(t *testing.T, s *reader.Session, antennas []uint8, proto reader.TagProtocol) *reader.SimpleReadPlan {
	t.Helper()
	plan, err := reader.NewSimpleReadPlan(antennas, proto, 1000)
	require.NoError(t, err)
	require.NoError(t, s.Params().SetReadPlan(plan))
	return plan
}

func TestSessionLifecycle(t *testing.T) {
	conn := transport.NewLoopback("lifecycle")
	drv, err := simreader.New(conn, nil, testConfig(gen2Tag(1, 1)))
	require.NoError(t, err)
	s := reader.NewSession(drv, reader.Options{Transport: conn})

	assert.Equal(t, reader.StateCreated, s.State())
	assert.NotEmpty(t, s.ID())

	err = s.Read(context.Background(), time.Second)
	assert.True(t, reader.IsState(err), "read before connect: %v", err)

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, reader.StateConnected, s.State())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, reader.StateClosed, s.State())

	err = s.Read(context.Background(), time.Second)
	assert.True(t, reader.IsState(err))
	assert.True(t, errors.Is(err, reader.ErrClosed))
	assert.True(t, reader.IsState(s.Connect(context.Background())))
	_, err = s.Params().Region()
	assert.True(t, errors.Is(err, reader.ErrClosed))
}

func TestRegionFallback(t *testing.T) {
	cfg := testConfig(gen2Tag(1, 1))
	cfg.Regions = []reader.Region{reader.RegionEU3, reader.RegionNA}
	s, _ := newTestSession(t, cfg)

	r, err := s.Params().Region()
	require.NoError(t, err)
	assert.Equal(t, reader.RegionNone, r)

	r, err = s.ResolveRegion()
	require.NoError(t, err)
	assert.Equal(t, reader.RegionEU3, r)

	r, err = s.Params().Region()
	require.NoError(t, err)
	assert.Equal(t, reader.RegionEU3, r)
}

func TestRegionFallbackOnRead(t *testing.T) {
	cfg := testConfig(gen2Tag(1, 1))
	cfg.Regions = []reader.Region{reader.RegionEU3}
	s, _ := newTestSession(t, cfg)
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	require.NoError(t, s.Read(context.Background(), 100*time.Millisecond))
	r, err := s.Params().Region()
	require.NoError(t, err)
	assert.Equal(t, reader.RegionEU3, r)
}

func TestRegionNoneSupported(t *testing.T) {
	cfg := testConfig(gen2Tag(1, 1))
	cfg.Regions = nil
	s, _ := newTestSession(t, cfg)

	_, err := s.ResolveRegion()
	require.Error(t, err)
	assert.True(t, reader.IsConfig(err))
	assert.True(t, errors.Is(err, reader.ErrInvalidRegion))
}

func TestSetRegion(t *testing.T) {
	s, _ := newTestSession(t, testConfig())

	require.NoError(t, s.Params().SetRegion(reader.RegionNA))
	err := s.Params().SetRegion(reader.RegionJP)
	assert.True(t, reader.IsConfig(err))
	assert.True(t, errors.Is(err, reader.ErrUnsupportedRegion))

	r, err := s.Params().Region()
	require.NoError(t, err)
	assert.Equal(t, reader.RegionNA, r)
}

func TestHopTable(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	require.NoError(t, s.Params().SetRegion(reader.RegionNA))

	singapore := []uint32{923250, 923750, 921250, 921750, 922750, 922250, 920750, 924250}
	require.NoError(t, s.Params().SetHopTable(singapore))
	got, err := s.Params().HopTable()
	require.NoError(t, err)
	assert.Equal(t, singapore, got)

	assert.True(t, reader.IsConfig(s.Params().SetHopTable(nil)))
}

func TestReadAndDrain(t *testing.T) {
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1), gen2Tag(2, 1), gen2Tag(3, 1), gen2Tag(4, 2)))
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	require.NoError(t, s.Read(context.Background(), 100*time.Millisecond))

	var tags []reader.TagReadData
	for s.HasMoreTags() {
		tag, err := s.GetNextTag()
		require.NoError(t, err)
		tags = append(tags, tag)
	}
	require.Len(t, tags, 3)
	for i, tag := range tags {
		assert.Equal(t, byte(i+1), tag.EPC[len(tag.EPC)-1])
		assert.Equal(t, uint8(1), tag.Antenna)
		assert.Equal(t, reader.ProtocolGen2, tag.Protocol)
		assert.Equal(t, uint32(10), tag.ReadCount)
		assert.WithinDuration(t, time.Now(), tag.Time(), time.Minute)
	}

	_, err := s.GetNextTag()
	assert.Equal(t, reader.ErrNoMoreTags, err)
	assert.False(t, s.HasMoreTags())
}

func TestReadRequiresDrain(t *testing.T) {
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1)))
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
	err := s.Read(context.Background(), 50*time.Millisecond)
	assert.True(t, reader.IsState(err))
	assert.True(t, errors.Is(err, reader.ErrNotDrained))

	tags, err := s.Drain()
	require.NoError(t, err)
	assert.Len(t, tags, 1)
	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
}

func TestReadEmptyField(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
	assert.False(t, s.HasMoreTags())
	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
}

func TestReadBadDuration(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	assert.True(t, reader.IsConfig(s.Read(context.Background(), 0)))
}

func TestBufferFull(t *testing.T) {
	cfg := testConfig(gen2Tag(1, 1), gen2Tag(2, 1), gen2Tag(3, 1), gen2Tag(4, 1), gen2Tag(5, 1))
	cfg.BufferCapacity = 2
	s, _ := newTestSession(t, cfg)
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	capacity, err := s.Params().TagBufferCapacity()
	require.NoError(t, err)
	assert.Equal(t, 2, capacity)

	err = s.Read(context.Background(), time.Second)
	require.Error(t, err)
	assert.True(t, reader.IsBufferFull(err))
	assert.True(t, errors.Is(err, reader.ErrBufferFull))

	// A full buffer holds at least one record, which still must be drained.
	assert.True(t, s.HasMoreTags())
	assert.True(t, errors.Is(s.Read(context.Background(), time.Second), reader.ErrNotDrained))

	tags, err := s.Drain()
	require.NoError(t, err)
	assert.Len(t, tags, 2)
}

func TestStopTrigger(t *testing.T) {
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1), gen2Tag(2, 1), gen2Tag(3, 2)))

	plan, err := reader.NewSimpleReadPlan([]uint8{1, 2}, reader.ProtocolGen2, 1000)
	require.NoError(t, err)
	plan, err = plan.WithStopTrigger(1)
	require.NoError(t, err)
	require.NoError(t, s.Params().SetReadPlan(plan))

	require.NoError(t, s.Read(context.Background(), time.Second))
	tags, err := s.Drain()
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, uint32(1), tags[0].ReadCount)
}

func TestMultiPlanStopTrigger(t *testing.T) {
	iso := simreader.Tag{
		EPC:      []byte{0xE0, 0x04, 0x01, 0x00},
		Antenna:  1,
		Protocol: reader.ProtocolISO180006B,
	}
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1), gen2Tag(2, 1), iso))

	gen2Plan, err := reader.NewSimpleReadPlan([]uint8{1}, reader.ProtocolGen2, 1000)
	require.NoError(t, err)
	_, err = gen2Plan.WithStopTrigger(1)
	require.NoError(t, err)
	isoPlan, err := reader.NewSimpleReadPlan([]uint8{1}, reader.ProtocolISO180006B, 1000)
	require.NoError(t, err)
	_, err = isoPlan.WithStopTrigger(1)
	require.NoError(t, err)

	multi, err := reader.NewMultiReadPlan([]reader.ReadPlan{gen2Plan, isoPlan}, 1000)
	require.NoError(t, err)
	require.NoError(t, s.Params().SetReadPlan(multi))

	got, err := s.Params().ReadPlan()
	require.NoError(t, err)
	assert.Equal(t, multi, got)

	require.NoError(t, s.Read(context.Background(), time.Second))
	tags, err := s.Drain()
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, reader.ProtocolGen2, tags[0].Protocol)
	assert.Equal(t, reader.ProtocolISO180006B, tags[1].Protocol)
}

func TestReadPlanValidation(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		antennas []uint8
		protocol reader.TagProtocol
		want     error
	}{
		{name: "unsupported protocol", model: "M6e", antennas: []uint8{1}, protocol: reader.ProtocolATA, want: reader.ErrUnsupportedProtocol},
		{name: "no antennas without detection", model: "M6e Micro", protocol: reader.ProtocolGen2, want: reader.ErrNoAntennas},
		{name: "no antennas with detection", model: "M6e", protocol: reader.ProtocolGen2},
		{name: "unknown port", model: "M6e", antennas: []uint8{7}, protocol: reader.ProtocolGen2},
		{name: "OK", model: "M6e Nano", antennas: []uint8{1, 2}, protocol: reader.ProtocolGen2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Model = tt.model
			s, _ := newTestSession(t, cfg)

			plan, err := reader.NewSimpleReadPlan(tt.antennas, tt.protocol, 1000)
			require.NoError(t, err)
			err = s.Params().SetReadPlan(plan)

			switch {
			case tt.want != nil:
				require.Error(t, err)
				assert.True(t, reader.IsConfig(err), "%v", err)
				assert.True(t, errors.Is(err, tt.want), "%v", err)
			case tt.name == "unknown port":
				require.Error(t, err)
				assert.True(t, reader.IsConfig(err), "%v", err)
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestReadPlanUnset(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	plan, err := s.Params().ReadPlan()
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestBAP(t *testing.T) {
	tests := []struct {
		name        string
		bap         *reader.BAP
		wantPowerUp uint32
		wantHopOff  uint32
	}{
		{name: "both unset", bap: bapPtr(reader.NewBAP(-1, -1)), wantPowerUp: 3000, wantHopOff: 20000},
		{name: "both set", bap: bapPtr(reader.NewBAP(40000, 30000)), wantPowerUp: 40000, wantHopOff: 30000},
		{name: "one set", bap: bapPtr(reader.NewBAP(-1, 5000)), wantPowerUp: 3000, wantHopOff: 5000},
		{name: "disabled", bap: nil, wantPowerUp: 3000, wantHopOff: 20000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestSession(t, testConfig())
			require.NoError(t, s.Params().SetBAP(bapPtr(reader.NewBAP(1, 1))))
			require.NoError(t, s.Params().SetBAP(tt.bap))

			got, err := s.Params().BAP()
			require.NoError(t, err)
			require.NotNil(t, got.PowerUpDelayUs)
			require.NotNil(t, got.FreqHopOffTimeUs)
			assert.Equal(t, tt.wantPowerUp, *got.PowerUpDelayUs)
			assert.Equal(t, tt.wantHopOff, *got.FreqHopOffTimeUs)
		})
	}
}

func bapPtr(b reader.BAP) *reader.BAP {
	return &b
}

func TestUnsupportedParam(t *testing.T) {
	cfg := testConfig(gen2Tag(1, 1))
	cfg.Unsupported = []reader.Param{reader.ParamGen2BAP, reader.ParamAntennaPortList}
	s, _ := newTestSession(t, cfg)

	_, err := s.Params().BAP()
	assert.True(t, reader.IsCapability(err), "%v", err)
	assert.True(t, reader.IsCapability(s.Params().SetBAP(nil)))

	// Plans can still be validated without a port list.
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)
	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
	tags, err := s.Drain()
	require.NoError(t, err)
	assert.Len(t, tags, 1)
}

func TestReadOnlyParam(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	err := s.Params().Set(reader.ParamVersionModel, "M7e")
	assert.True(t, reader.IsConfig(err))
	assert.True(t, errors.Is(err, reader.ErrReadOnlyParam))

	model, err := s.Params().Model()
	require.NoError(t, err)
	assert.Equal(t, "M6e", model)
}

func TestGen2Q(t *testing.T) {
	s, _ := newTestSession(t, testConfig())
	require.NoError(t, s.Params().SetGen2Q(reader.Gen2Q{Static: true, InitialQ: 0}))
	q, err := s.Params().Gen2Q()
	require.NoError(t, err)
	assert.Equal(t, reader.Gen2Q{Static: true}, q)

	assert.True(t, reader.IsConfig(s.Params().SetGen2Q(reader.Gen2Q{InitialQ: 16})))
}

func TestDeviceFault(t *testing.T) {
	s, drv := newTestSession(t, testConfig(gen2Tag(1, 1)))
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	drv.FailNextRead(errors.New("antenna fault"))
	err := s.Read(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.Equal(t, reader.KindDevice, reader.KindOf(err))

	// Nothing to drain after a failed read.
	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
}

func TestTransportListener(t *testing.T) {
	var mu sync.Mutex
	var tx, rx int

	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1)))
	s.AddTransportListener(func(isTx bool, data []byte, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if isTx {
			tx++
		} else {
			rx++
		}
		data[0] = 0 // listeners get a copy
	})
	s.AddTransportListener(func(bool, []byte, time.Duration) {
		panic("listener bug")
	})

	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)
	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
	_, err := s.Drain()
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, tx > 0)
	// Responses may arrive in more than one chunk.
	assert.True(t, rx >= tx)
}

func TestExecuteTagOpValidationFirst(t *testing.T) {
	var frames int
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1)))
	s.AddTransportListener(func(bool, []byte, time.Duration) { frames++ })

	bad := &reader.Tam1Authentication{Key: testKey[:8], IChallenge: testChallenge}
	_, err := s.ExecuteTagOp(context.Background(), bad, nil)
	assert.True(t, reader.IsValidation(err))

	_, err = s.ExecuteTagOp(context.Background(), nil, nil)
	assert.True(t, reader.IsValidation(err))
	assert.Equal(t, 0, frames)
}

func TestTam1Authentication(t *testing.T) {
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1)))
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	op, err := reader.NewTam1Authentication(reader.Key0, testKey, testChallenge, false)
	require.NoError(t, err)
	results, err := s.ExecuteTagOp(context.Background(), op, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Succeeded(), "%v", results[0].Err)

	block, err := aes.NewCipher(testKey)
	require.NoError(t, err)
	plain := make([]byte, aes.BlockSize)
	block.Decrypt(plain, results[0].Data)
	assert.Equal(t, []byte{0x96, 0xC5}, plain[:2])
	assert.Equal(t, testChallenge, plain[2:12])

	wrongKey := append([]byte(nil), testKey...)
	wrongKey[0] ^= 0xFF
	op, err = reader.NewTam1Authentication(reader.Key0, wrongKey, testChallenge, false)
	require.NoError(t, err)
	results, err = s.ExecuteTagOp(context.Background(), op, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Succeeded())
}

func TestUntraceableThenReread(t *testing.T) {
	s, _ := newTestSession(t, testConfig(gen2Tag(1, 1), gen2Tag(2, 1)))
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)

	tam1, err := reader.NewTam1Authentication(reader.Key0, testKey, testChallenge, false)
	require.NoError(t, err)
	op := &reader.Untraceable{
		EPC:       reader.EPCHide,
		EPCLength: 2,
		TID:       reader.TIDHideNone,
		User:      reader.UserShow,
		Range:     reader.RangeNormal,
		Auth:      reader.UntraceableAuth{Type: reader.UntraceableWithAuthentication, Tam1: tam1},
	}

	target := gen2Tag(2, 1).EPC
	results, err := s.ExecuteTagOp(context.Background(), op, reader.EPCFilter(target))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Succeeded(), "%v", results[0].Err)
	assert.Equal(t, target, results[0].EPC)

	require.NoError(t, s.Read(context.Background(), 50*time.Millisecond))
	tags, err := s.Drain()
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, gen2Tag(1, 1).EPC, tags[0].EPC)
	assert.Equal(t, target[:4], tags[1].EPC)
}

func TestTagOpPerTagFailure(t *testing.T) {
	s, drv := newTestSession(t, testConfig(gen2Tag(1, 1), gen2Tag(2, 1), gen2Tag(3, 1)))
	setPlan(t, s, []uint8{1}, reader.ProtocolGen2)
	drv.FailTag(gen2Tag(2, 1).EPC, errors.New("tag out of range"))

	results, err := s.ExecuteTagOp(context.Background(),
		&reader.ReadData{Bank: reader.BankTID, WordCount: 2}, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Succeeded())
	assert.False(t, results[1].Succeeded())
	assert.True(t, results[2].Succeeded())
	assert.Equal(t, []byte{0xE2, 0x80, 0x11, 0x03}, results[2].Data)
}

func TestTagOpWholeFailure(t *testing.T) {
	s, drv := newTestSession(t, testConfig(gen2Tag(1, 1)))
	drv.FailNextTagOp(errors.New("reader busy"))

	_, err := s.ExecuteTagOp(context.Background(), &reader.ReadData{Bank: reader.BankEPC}, nil)
	require.Error(t, err)
	assert.Equal(t, reader.KindDevice, reader.KindOf(err))
}

func TestOpen(t *testing.T) {
	assert.Contains(t, reader.Schemes(), transport.SchemeSim)
	assert.Contains(t, reader.Schemes(), transport.SchemeTMR)

	s, err := reader.Open(context.Background(), "sim:///open-test", reader.OpenOptions{})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Connect(context.Background()))

	model, err := s.Params().Model()
	require.NoError(t, err)
	assert.Equal(t, simreader.DefaultModel, model)

	_, err = reader.Open(context.Background(), "nope:///dev/tty0", reader.OpenOptions{})
	assert.True(t, reader.IsConfig(err))
	_, err = reader.Open(context.Background(), "", reader.OpenOptions{})
	assert.True(t, reader.IsConfig(err))
}
