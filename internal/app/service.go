//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/config"
	"edgexfoundry/app-rfid-reader-session/internal/inventory"
	"edgexfoundry/app-rfid-reader-session/internal/publish"
	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

const (
	apiBase       = "/api/v1"
	pingRoute     = apiBase + "/ping"
	snapshotRoute = apiBase + "/inventory/snapshot"
	streamRoute   = apiBase + "/inventory/stream"
	cmdStartRoute = apiBase + "/command/reading/start"
	cmdStopRoute  = apiBase + "/command/reading/stop"
	readPlanRoute = apiBase + "/readplan"

	shutdownTimeout = 5 * time.Second
)

// Service exposes a Session over HTTP. Tag reads from background reading
// feed the inventory, the websocket stream, and MQTT if it's enabled.
type Service struct {
	lc       logger.LoggingClient
	cfg      config.Config
	session  *reader.Session
	tracker  *inventory.Tracker
	pub      *publish.Publisher
	hub      *streamHub
	router   *mux.Router
	upgrader websocket.Upgrader

	// readCtx bounds background reads started over HTTP.
	ctxMu   sync.Mutex
	readCtx context.Context
}

type ServiceOptions struct {
	Logger logger.LoggingClient
	// Publisher may be nil.
	Publisher *publish.Publisher
}

// NewService attaches the inventory, the stream, and the publisher
// to the Session's listeners and builds the routes.
func NewService(s *reader.Session, cfg config.Config, opts ServiceOptions) (*Service, error) {
	lc := opts.Logger
	if lc == nil {
		lc = logger.NewMockClient()
	}

	svc := &Service{
		lc:      lc,
		cfg:     cfg,
		session: s,
		pub:     opts.Publisher,
		hub:     newStreamHub(lc),
		router:  mux.NewRouter(),
		readCtx: context.Background(),
	}
	svc.tracker = inventory.NewTracker(lc, inventory.TrackerOptions{OnEvent: svc.onEvent})

	s.AddReadListener(svc.tracker)
	s.AddReadListener(svc.hub)
	s.AddReadExceptionListener(svc.hub)
	s.AddReadExceptionListener(reader.ReadExceptionListenerFunc(func(err error) {
		lc.Warn("Background read fault.", "session", s.ID(), "error", err)
	}))
	if svc.pub != nil && svc.pub.Enabled() {
		s.AddReadListener(svc.pub)
		s.AddReadExceptionListener(svc.pub)
	}

	if err := svc.addRoutes(); err != nil {
		return nil, err
	}
	return svc, nil
}

func (svc *Service) onEvent(e inventory.Event) {
	svc.hub.OnEvent(e)
	if svc.pub != nil {
		svc.pub.OnEvent(e)
	}
}

func (svc *Service) Handler() http.Handler {
	return svc.router
}

func (svc *Service) Tracker() *inventory.Tracker {
	return svc.tracker
}

func (svc *Service) addRoutes() error {
	routes := []struct {
		path, method string
		f            http.HandlerFunc
	}{
		{pingRoute, http.MethodGet, svc.ping},
		{snapshotRoute, http.MethodGet, svc.getSnapshot},
		{streamRoute, http.MethodGet, svc.stream},
		{cmdStartRoute, http.MethodPost, svc.startReading},
		{cmdStopRoute, http.MethodPost, svc.stopReading},
		{readPlanRoute, http.MethodGet, svc.getReadPlan},
	}
	for _, r := range routes {
		if err := svc.addRoute(r.path, r.method, r.f); err != nil {
			return err
		}
	}
	return nil
}

func (svc *Service) addRoute(path, method string, f http.HandlerFunc) error {
	if err := svc.router.HandleFunc(path, f).Methods(method).GetError(); err != nil {
		return errors.Wrapf(err, "failed to add route, path=%s, method=%s", path, method)
	}
	return nil
}

// Run serves HTTP until ctx is done, ageing out departed tags as it goes.
// On return, background reading is stopped and stream clients are closed.
func (svc *Service) Run(ctx context.Context) error {
	svc.ctxMu.Lock()
	svc.readCtx = ctx
	svc.ctxMu.Unlock()

	ln, err := net.Listen("tcp", svc.cfg.ServiceAddr())
	if err != nil {
		return errors.Wrap(err, "HTTP service failed")
	}
	server := &http.Server{Handler: svc.router}
	serveErr := make(chan error, 1)
	go func() {
		svc.lc.Info("Starting HTTP service.", "address", ln.Addr().String())
		serveErr <- server.Serve(ln)
	}()

	if svc.cfg.Service.Advertise {
		port := ln.Addr().(*net.TCPAddr).Port
		if mdns, err := svc.advertise(port); err != nil {
			svc.lc.Warn("Service won't be discoverable.", "error", err)
		} else {
			defer mdns.Shutdown()
		}
	}

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.taskLoop(loopCtx)
		svc.lc.Info("Task loop has exited.")
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		err = errors.Wrap(err, "HTTP service failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if sErr := server.Shutdown(shutdownCtx); sErr != nil {
		svc.lc.Error("HTTP shutdown failed.", "error", sErr)
	}

	if svc.session.IsReading() {
		if sErr := svc.session.StopReading(); sErr != nil && !errors.Is(sErr, reader.ErrNotReading) {
			svc.lc.Error("Failed to stop reading.", "error", sErr)
		}
	}
	svc.hub.closeAll()

	stopLoop()
	wg.Wait()
	return err
}

func (svc *Service) taskLoop(ctx context.Context) {
	threshold := svc.cfg.DepartedThreshold()
	if threshold <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(threshold / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if events := svc.tracker.AgeOut(threshold); len(events) > 0 {
				svc.lc.Debug("Tags departed.", "count", len(events))
			}
		}
	}
}

// Routes

func (svc *Service) ping(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte("pong")); err != nil {
		svc.lc.Error("Error writing ping response.", "error", err)
	}
}

func (svc *Service) writeJSON(w http.ResponseWriter, what string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		svc.fail(w, http.StatusInternalServerError, fmt.Sprintf("Failed to marshal %s: %v", what, err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		svc.lc.Error("Failed to write response.", "content", what, "error", err)
	}
}

func (svc *Service) fail(w http.ResponseWriter, code int, msg string) {
	svc.lc.Error(msg)
	http.Error(w, msg, code)
}

// statusFor maps a Session error to an HTTP status.
func statusFor(err error) int {
	switch reader.KindOf(err) {
	case reader.KindState:
		return http.StatusConflict
	case reader.KindConfig, reader.KindValidation:
		return http.StatusBadRequest
	case reader.KindCapability:
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}

func (svc *Service) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	svc.writeJSON(w, "inventory snapshot", svc.tracker.Snapshot())
}

func (svc *Service) startReading(w http.ResponseWriter, _ *http.Request) {
	svc.ctxMu.Lock()
	ctx := svc.readCtx
	svc.ctxMu.Unlock()

	if err := svc.session.StartReading(ctx); err != nil {
		svc.fail(w, statusFor(err), fmt.Sprintf("Failed to start reading: %v", err))
		return
	}
	svc.lc.Info("Started reading.", "session", svc.session.ID())
}

func (svc *Service) stopReading(w http.ResponseWriter, _ *http.Request) {
	if err := svc.session.StopReading(); err != nil {
		svc.fail(w, statusFor(err), fmt.Sprintf("Failed to stop reading: %v", err))
		return
	}
	svc.lc.Info("Stopped reading.", "session", svc.session.ID())
}

func (svc *Service) getReadPlan(w http.ResponseWriter, _ *http.Request) {
	plan, err := svc.session.Params().ReadPlan()
	if err != nil {
		svc.fail(w, statusFor(err), fmt.Sprintf("Failed to get read plan: %v", err))
		return
	}
	if plan == nil {
		svc.fail(w, http.StatusNotFound, "No read plan is set.")
		return
	}
	svc.writeJSON(w, "read plan", plan)
}

func (svc *Service) stream(w http.ResponseWriter, req *http.Request) {
	conn, err := svc.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		svc.lc.Error("Failed to upgrade stream connection.", "error", err)
		return
	}
	svc.hub.register(conn)
	svc.lc.Debug("Stream client connected.", "remote", conn.RemoteAddr().String())

	// Clients don't send anything; reading detects when they leave.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			break
		}
	}
	svc.hub.unregister(conn)
}
