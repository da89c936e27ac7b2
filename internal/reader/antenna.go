//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package reader

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// modelsWithoutAntennaDetection lists reader models
// which can't discover connected antennas on their own.
var modelsWithoutAntennaDetection = map[string]bool{
	"M6e Micro": true,
	"M6e Nano":  true,
}

// HasAntennaDetection reports whether a reader model can auto-detect antennas,
// in which case a read plan may leave its antenna selection empty.
func HasAntennaDetection(model string) bool {
	return !modelsWithoutAntennaDetection[model]
}

// ParseAntennaList parses a comma-separated list of 8-bit unsigned decimals,
// such as "1,2,3". The whole list is rejected if any token is invalid.
func ParseAntennaList(s string) ([]uint8, error) {
	if s == "" {
		return nil, newError(KindConfig, "parse antenna list", errors.New("missing argument"))
	}

	tokens := strings.Split(s, ",")
	ants := make([]uint8, 0, len(tokens))
	for _, tok := range tokens {
		v, err := strconv.ParseUint(strings.TrimSpace(tok), 10, 8)
		if err != nil {
			return nil, newError(KindConfig, "parse antenna list",
				errors.Errorf("can't parse '%s' as an 8-bit unsigned integer value", tok))
		}
		ants = append(ants, uint8(v))
	}

	return ants, nil
}

// AntennaFlag is a flag.Value for an antenna list
// which may only be given once on a command line.
type AntennaFlag struct {
	Antennas []uint8
	set      bool
}

func (af *AntennaFlag) String() string {
	if af == nil || len(af.Antennas) == 0 {
		return ""
	}
	strs := make([]string, len(af.Antennas))
	for i, a := range af.Antennas {
		strs[i] = strconv.Itoa(int(a))
	}
	return strings.Join(strs, ",")
}

func (af *AntennaFlag) Set(s string) error {
	if af.set {
		return newError(KindConfig, "parse antenna list",
			errors.New("duplicate argument: --ant specified more than once"))
	}

	ants, err := ParseAntennaList(s)
	if err != nil {
		return err
	}

	af.Antennas = ants
	af.set = true
	return nil
}

// IsSet reports whether the flag appeared on the command line.
func (af *AntennaFlag) IsSet() bool {
	return af.set
}
