//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/app"
	"edgexfoundry/app-rfid-reader-session/internal/config"
	"edgexfoundry/app-rfid-reader-session/internal/inventory"
	"edgexfoundry/app-rfid-reader-session/internal/logutil"
	"edgexfoundry/app-rfid-reader-session/internal/publish"
	"edgexfoundry/app-rfid-reader-session/internal/reader"
	"edgexfoundry/app-rfid-reader-session/internal/simreader"
	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

const (
	serviceKey = "rfid-reader"

	defaultAsyncDuration = 5 * time.Second
)

const usage = `usage: rfid-reader <command> <uri> [options]

commands:
  readstop     read with a stop trigger of one tag
  bap          read with each Backscatter-Adaptive-Power setting
  async        read in the background on the Singapore carriers
  untraceable  hide tag EPCs with TAM1 authentication
  serve        run the HTTP and MQTT service
  simulate     serve a simulated reader on tmr://host:port

options:
  --ant 1,2        antenna list
  --config file    TOML configuration
  --trace hex|string
  --multi          (readstop) use a Gen2 and ISO18000-6B multi plan
  --duration 5s    (async) how long to read
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	lgr := logutil.New(logger.NewClientStdOut(serviceKey, false, "ERROR"))
	finish(lgr, os.Stderr, os.Args[1:], err)
}

// finish reports a failed command on stderr and in the log, then exits.
func finish(lgr logutil.LogWrap, stderr io.Writer, args []string, err error) {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return
	}
	fmt.Fprintf(stderr, "%s: %v\n", serviceKey, err)

	if errors.Is(err, errUsage) {
		lgr.ExitIf(true, "Invalid command line.", logutil.KeyValue{Key: "error", Val: err})
		return
	}
	command := ""
	if len(args) > 0 {
		command = args[0]
	}
	lgr.ExitIfErr(err, "Command failed.", logutil.KeyValue{Key: "command", Val: command})
}

type options struct {
	command  string
	uri      string
	ants     reader.AntennaFlag
	cfgFile  string
	trace    string
	multi    bool
	duration time.Duration
}

// parseArgs accepts the URI either before or after the options.
func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return opts, errUsage
	}
	opts.command = args[0]
	switch opts.command {
	case "help", "-h", "--help":
		fmt.Fprint(stderr, usage)
		return opts, flag.ErrHelp
	case "readstop", "bap", "async", "untraceable", "serve", "simulate":
	default:
		fmt.Fprint(stderr, usage)
		return opts, errors.Wrapf(errUsage, "unknown command %q", opts.command)
	}

	fs := flag.NewFlagSet(opts.command, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	fs.Var(&opts.ants, "ant", "antenna list")
	fs.StringVar(&opts.cfgFile, "config", "", "TOML configuration file")
	fs.StringVar(&opts.trace, "trace", "", "transport trace: hex or string")
	fs.BoolVar(&opts.multi, "multi", false, "use a multi read plan")
	fs.DurationVar(&opts.duration, "duration", defaultAsyncDuration, "background read duration")

	rest := args[1:]
	if len(rest) > 0 && !strings.HasPrefix(rest[0], "-") {
		opts.uri, rest = rest[0], rest[1:]
	}
	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, err
		}
		return opts, &reader.Error{Kind: reader.KindConfig, Op: "parse arguments", Err: errors.Wrap(errUsage, err.Error())}
	}

	switch {
	case fs.NArg() > 1, fs.NArg() == 1 && opts.uri != "":
		return opts, errors.Wrapf(errUsage, "unexpected arguments %v", fs.Args())
	case fs.NArg() == 1:
		opts.uri = fs.Arg(0)
	}
	if opts.duration <= 0 {
		return opts, errors.Wrap(errUsage, "--duration must be positive")
	}
	return opts, nil
}

func loadConfig(opts options, stderr io.Writer) (config.Config, error) {
	cfg := config.Default()
	if opts.cfgFile != "" {
		var err error
		cfg, err = config.Load(opts.cfgFile)
		if errors.Is(err, config.ErrUnexpectedConfigItems) {
			fmt.Fprintf(stderr, "%s: warning: %v\n", serviceKey, err)
		} else if err != nil {
			return cfg, err
		}
	}

	if opts.uri != "" {
		cfg.Reader.URI = opts.uri
	}
	if opts.ants.IsSet() {
		cfg.Reader.Antennas = opts.ants.String()
	}
	if opts.trace != "" {
		cfg.Reader.Trace = opts.trace
	}
	if cfg.Reader.URI == "" {
		return cfg, errors.Wrap(errUsage, "a reader URI is required")
	}
	return cfg, cfg.Validate()
}

// simulatorConfig overlays the [Simulator] settings on the default simulated reader.
func simulatorConfig(cfg config.Config) (simreader.Config, error) {
	sc := simreader.DefaultConfig()
	if cfg.Simulator.Model != "" {
		sc.Model = cfg.Simulator.Model
	}
	sc.BufferCapacity = int(cfg.Simulator.BufferCapacity)
	sc.RealTime = cfg.Simulator.RealTime

	regions, err := cfg.SimulatorRegions()
	if err != nil {
		return sc, err
	}
	if len(regions) > 0 {
		sc.Regions = regions
	}
	return sc, nil
}

func traceListener(mode string, out io.Writer) transport.Listener {
	log := logutil.NewTraceLogger(out, "info")
	switch strings.ToLower(mode) {
	case "hex":
		return transport.HexPrinter(log)
	case "string":
		return transport.StringPrinter(log)
	}
	return nil
}

func open(ctx context.Context, cfg config.Config, lc logger.LoggingClient, stdout io.Writer) (*reader.Session, error) {
	ep, err := transport.ParseURI(cfg.Reader.URI)
	if err != nil {
		return nil, err
	}
	sc, err := simulatorConfig(cfg)
	if err != nil {
		return nil, err
	}
	if err := simreader.Register(ep.Address, sc); err != nil {
		return nil, errors.WithMessage(err, "configuring the simulated reader")
	}

	return reader.Open(ctx, cfg.Reader.URI, reader.OpenOptions{
		Options: reader.Options{
			Logger:            lc,
			TransportListener: traceListener(cfg.Reader.Trace, stdout),
		},
	})
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseArgs(args, stderr)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts, stderr)
	if err != nil {
		return err
	}

	lc := logger.NewClientStdOut(serviceKey, false, strings.ToUpper(cfg.Writable.LogLevel))
	lgr := logutil.New(lc)

	if opts.command == "simulate" {
		return simulate(ctx, cfg, lc)
	}

	s, err := open(ctx, cfg, lc, stdout)
	if err != nil {
		return errors.WithMessage(err, "creating reader")
	}
	defer func() {
		if err := s.Close(); err != nil {
			lgr.Error("Failed to close the reader session.", "session", s.ID(), "error", err)
		}
	}()

	if opts.command == "serve" {
		return serve(ctx, s, cfg, lgr)
	}

	ants, err := cfg.Antennas()
	if err != nil {
		return err
	}
	runner := app.NewRunner(s, app.RunnerOptions{
		Logger:   lc,
		Out:      stdout,
		Antennas: ants,
		Tracker:  inventory.NewTracker(lc, inventory.TrackerOptions{}),
	})

	switch opts.command {
	case "readstop":
		return runner.ReadStop(ctx, opts.multi)
	case "bap":
		return runner.BAP(ctx)
	case "async":
		return runner.Async(ctx, opts.duration)
	case "untraceable":
		return runner.Untraceable(ctx)
	}
	return errors.Wrapf(errUsage, "unknown command %q", opts.command)
}

func serve(ctx context.Context, s *reader.Session, cfg config.Config, lgr logutil.LogWrap) error {
	if err := app.Configure(s, cfg, lgr); err != nil {
		return errors.WithMessage(err, "configuring reader")
	}

	pub, err := publish.New(cfg.MQTT, lgr)
	if err != nil {
		return err
	}
	if pub.Enabled() {
		if err := pub.Connect(); err != nil {
			lgr.ErrIf(true, "MQTT connection failed; tag reads won't be published.",
				logutil.KeyValue{Key: "host", Val: cfg.MQTT.Host}, logutil.KeyValue{Key: "error", Val: err})
			pub = nil
		} else {
			defer pub.Close()
		}
	}

	svc, err := app.NewService(s, cfg, app.ServiceOptions{Logger: lgr, Publisher: pub})
	if err != nil {
		return err
	}
	lgr.Info("Service is running.", "uri", cfg.Reader.URI, "address", cfg.ServiceAddr())
	return svc.Run(ctx)
}

// simulate answers reader command frames on the URI's host and port
// until ctx is done. Clients reach it with the same tmr:// URI.
func simulate(ctx context.Context, cfg config.Config, lc logger.LoggingClient) error {
	ep, err := transport.ParseURI(cfg.Reader.URI)
	if err != nil {
		return err
	}
	if ep.Type != transport.TypeTCP {
		return errors.Wrapf(errUsage, "simulate needs a tmr://host:port URI, got '%s'", cfg.Reader.URI)
	}

	ln, err := net.Listen("tcp", ep.Address)
	if err != nil {
		return errors.Wrap(err, "simulated reader failed to listen")
	}
	return simreader.Serve(ctx, ln, lc)
}
