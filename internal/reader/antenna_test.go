//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"flag"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAntennaList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []uint8
		wantErr bool
	}{
		{name: "single", input: "1", want: []uint8{1}},
		{name: "several", input: "1,2,3", want: []uint8{1, 2, 3}},
		{name: "spaces", input: " 1, 2 ", want: []uint8{1, 2}},
		{name: "max", input: "255", want: []uint8{255}},
		{name: "overflow", input: "256", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "not a number", input: "1,a", wantErr: true},
		{name: "empty token", input: "1,,2", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAntennaList(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsConfig(err), "expected a config error, got %v", err)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAntennaListMessage(t *testing.T) {
	_, err := ParseAntennaList("1,x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't parse 'x' as an 8-bit unsigned integer value")
}

func TestAntennaFlag(t *testing.T) {
	newFlagSet := func() (*flag.FlagSet, *AntennaFlag) {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.SetOutput(ioutil.Discard)
		var af AntennaFlag
		fs.Var(&af, "ant", "antenna list")
		return fs, &af
	}

	t.Run("once", func(t *testing.T) {
		fs, af := newFlagSet()
		require.NoError(t, fs.Parse([]string{"--ant", "1,2"}))
		assert.True(t, af.IsSet())
		assert.Equal(t, []uint8{1, 2}, af.Antennas)
		assert.Equal(t, "1,2", af.String())
	})

	t.Run("absent", func(t *testing.T) {
		fs, af := newFlagSet()
		require.NoError(t, fs.Parse(nil))
		assert.False(t, af.IsSet())
		assert.Empty(t, af.Antennas)
	})

	t.Run("twice", func(t *testing.T) {
		fs, _ := newFlagSet()
		err := fs.Parse([]string{"--ant", "1", "--ant", "2"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate argument")
	})
}

func TestHasAntennaDetection(t *testing.T) {
	assert.False(t, HasAntennaDetection("M6e Micro"))
	assert.False(t, HasAntennaDetection("M6e Nano"))
	assert.True(t, HasAntennaDetection("M6e"))
	assert.True(t, HasAntennaDetection(""))
}
