//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package logutil holds logging helpers shared by the command line tools.
package logutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

// LogWrap adds error-or-exit helpers to a LoggingClient.
type LogWrap struct {
	logger.LoggingClient
	// exit is os.Exit unless replaced by a test.
	exit func(code int)
}

func New(lc logger.LoggingClient) LogWrap {
	return LogWrap{LoggingClient: lc, exit: os.Exit}
}

// WithExit returns a copy of lgr that calls exit instead of os.Exit.
func (lgr LogWrap) WithExit(exit func(code int)) LogWrap {
	lgr.exit = exit
	return lgr
}

type KeyValue struct {
	Key string
	Val interface{}
}

func flatten(params []KeyValue) []interface{} {
	parts := make([]interface{}, 0, len(params)*2)
	for _, p := range params {
		parts = append(parts, p.Key, p.Val)
	}
	return parts
}

// ErrIf logs msg at error level if cond is true, and returns cond.
func (lgr LogWrap) ErrIf(cond bool, msg string, params ...KeyValue) bool {
	if cond {
		lgr.Error(msg, flatten(params)...)
	}
	return cond
}

// ExitIf logs msg and exits with status 1 if cond is true.
func (lgr LogWrap) ExitIf(cond bool, msg string, params ...KeyValue) {
	if lgr.ErrIf(cond, msg, params...) {
		lgr.doExit(1)
	}
}

// ExitIfErr logs msg and err, then exits with ExitCode(err), if err isn't nil.
func (lgr LogWrap) ExitIfErr(err error, msg string, params ...KeyValue) {
	if err == nil {
		return
	}
	params = append(params, KeyValue{"error", err})
	var re *reader.Error
	if errors.As(err, &re) {
		params = append(params, KeyValue{"kind", re.Kind.String()})
	}
	lgr.ErrIf(true, msg, params...)
	lgr.doExit(ExitCode(err))
}

func (lgr LogWrap) doExit(code int) {
	if lgr.exit == nil {
		os.Exit(code)
	}
	lgr.exit(code)
}

// ExitCode is the process status for a workflow's result:
// 0 on success, 1 for any error.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// NewTraceLogger returns a logrus logger for transport traces.
// Messages are written verbatim so hex dumps stay aligned.
func NewTraceLogger(w io.Writer, level string) *logrus.Logger {
	lg := logrus.New()
	lg.SetOutput(w)
	lg.SetFormatter(traceFormatter{})

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	lg.SetLevel(lvl)
	return lg
}

// traceFormatter writes the message, then any fields sorted by key.
type traceFormatter struct{}

func (traceFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}

	b.WriteByte('\n')
	return b.Bytes(), nil
}
