//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/gorilla/websocket"

	"edgexfoundry/app-rfid-reader-session/internal/inventory"
	"edgexfoundry/app-rfid-reader-session/internal/publish"
	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

const (
	streamWriteTimeout = time.Second

	TagMessage   = "tag"
	ErrorMessage = "error"
	EventMessage = "event"
)

// StreamMessage is a message sent to websocket clients.
type StreamMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// streamHub fans out tag reads, read faults and inventory events
// to every connected websocket client.
// It implements reader.ReadListener and reader.ReadExceptionListener.
type streamHub struct {
	lc      logger.LoggingClient
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func newStreamHub(lc logger.LoggingClient) *streamHub {
	return &streamHub{lc: lc, clients: make(map[*websocket.Conn]bool)}
}

func (h *streamHub) register(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
}

func (h *streamHub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if h.clients[conn] {
		delete(h.clients, conn)
		_ = conn.Close()
	}
	h.mu.Unlock()
}

func (h *streamHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *streamHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(streamWriteTimeout))
		_ = conn.Close()
		delete(h.clients, conn)
	}
}

// broadcast drops any client that can't take the message in time.
func (h *streamHub) broadcast(msg StreamMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(msg); err != nil {
			h.lc.Warn("Dropping stream client.", "remote", conn.RemoteAddr().String(), "error", err)
			_ = conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *streamHub) OnTagRead(t reader.TagReadData) {
	h.broadcast(StreamMessage{Type: TagMessage, Payload: inventory.NewTagRecord(t)})
}

func (h *streamHub) OnReadException(err error) {
	h.broadcast(StreamMessage{Type: ErrorMessage, Payload: publish.NewErrorMessage(err, time.Now())})
}

func (h *streamHub) OnEvent(e inventory.Event) {
	h.broadcast(StreamMessage{Type: EventMessage, Payload: e})
}
