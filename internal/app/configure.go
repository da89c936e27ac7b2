//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/config"
	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

// Configure applies the [Reader] settings to a connected Session:
// region, hop table, read plan, and async on/off times.
// Settings the reader doesn't support are logged and skipped.
func Configure(s *reader.Session, cfg config.Config, lc logger.LoggingClient) error {
	if lc == nil {
		lc = logger.NewMockClient()
	}
	ps := s.Params()

	region, err := cfg.Region()
	if err != nil {
		return err
	}
	if region != reader.RegionNone {
		if err := ps.SetRegion(region); err != nil {
			return errors.WithMessage(err, "setting region")
		}
	}

	if freqs := cfg.HopTable(); len(freqs) > 0 {
		if err := skipUnsupported(lc, ps.SetHopTable(freqs), "hop table"); err != nil {
			return err
		}
	}

	plan, err := cfg.ReadPlan()
	if err != nil {
		return err
	}
	if err := ps.SetReadPlan(plan); err != nil {
		return errors.WithMessage(err, "setting read plan")
	}

	if err := skipUnsupported(lc, ps.SetAsyncOnTime(cfg.AsyncOnTime()), "async on time"); err != nil {
		return err
	}
	if err := skipUnsupported(lc, ps.SetAsyncOffTime(cfg.AsyncOffTime()), "async off time"); err != nil {
		return err
	}

	lc.Debug("Configured reader.", "session", s.ID(), "region", region, "antennas", cfg.Reader.Antennas)
	return nil
}

func skipUnsupported(lc logger.LoggingClient, err error, what string) error {
	if reader.IsCapability(err) {
		lc.Warn("Reader doesn't support setting "+what+"; skipping.", "error", err)
		return nil
	}
	return errors.WithMessagef(err, "setting %s", what)
}
