//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package publish sends tag reads, read faults and inventory events to MQTT.
package publish

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/edgexfoundry/go-mod-core-contracts/clients/logger"
	"github.com/pkg/errors"

	"edgexfoundry/app-rfid-reader-session/internal/config"
	"edgexfoundry/app-rfid-reader-session/internal/inventory"
	"edgexfoundry/app-rfid-reader-session/internal/reader"
)

const (
	defaultPort    = 1883
	connectTimeout = 10 * time.Second
	quiesceMillis  = 250

	// Disconnect waits out a pending retry, so keep this short.
	connectRetryInterval = time.Second

	TagsTopic   = "tags"
	ErrorsTopic = "errors"
	EventsTopic = "events"
)

// Publisher publishes to an MQTT broker.
// A Publisher built without a host is disabled and drops everything.
type Publisher struct {
	lc     logger.LoggingClient
	client paho.Client
	prefix string

	connectTimeout time.Duration
	// send is replaced in tests.
	send func(topic string, payload []byte)
}

// ErrorMessage is the JSON payload published for a read fault.
type ErrorMessage struct {
	Kind      string `json:"kind"`
	Op        string `json:"op,omitempty"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}

// EventMessage is the JSON payload published for an inventory event.
type EventMessage struct {
	Type  inventory.EventType `json:"type"`
	Event inventory.Event     `json:"event"`
}

// New builds a Publisher from cfg. It doesn't connect.
func New(cfg config.MQTTInfo, lc logger.LoggingClient) (*Publisher, error) {
	if lc == nil {
		lc = logger.NewMockClient()
	}
	p := &Publisher{lc: lc, prefix: cfg.TopicPrefix, connectTimeout: connectTimeout}

	if cfg.Host == "" {
		lc.Info("MQTT disabled (no host configured).")
		return p, nil
	}

	port := cfg.Port
	scheme := "tcp"
	var tlsConfig *tls.Config
	if cfg.CACert != "" || cfg.ClientCert != "" {
		var err error
		if tlsConfig, err = buildTLSConfig(cfg); err != nil {
			return nil, err
		}
		scheme = "ssl"
	}
	if port == 0 {
		port = defaultPort
	}
	broker := fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, port)

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetKeepAlive(60 * time.Second).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			lc.Warn("MQTT connection lost.", "broker", broker, "error", err)
		}).
		SetOnConnectHandler(func(paho.Client) {
			lc.Info("MQTT connection established.", "broker", broker)
		})
	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	paho.ERROR = pahoLogger{lc: lc, level: "ERROR"}
	paho.CRITICAL = pahoLogger{lc: lc, level: "ERROR"}
	paho.WARN = pahoLogger{lc: lc, level: "WARN"}

	p.client = paho.NewClient(opts)
	p.send = func(topic string, payload []byte) {
		p.client.Publish(topic, 0, false, payload)
	}
	return p, nil
}

func buildTLSConfig(cfg config.MQTTInfo) (*tls.Config, error) {
	tlsConfig := &tls.Config{}

	if cfg.CACert != "" {
		caCert, err := ioutil.ReadFile(cfg.CACert)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read MQTT CA cert")
		}
		caPool := x509.NewCertPool()
		if !caPool.AppendCertsFromPEM(caCert) {
			return nil, errors.Errorf("no certificates found in %s", cfg.CACert)
		}
		tlsConfig.RootCAs = caPool
	}

	if cfg.ClientCert != "" && cfg.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCert, cfg.ClientKey)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load MQTT client cert")
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func (p *Publisher) Enabled() bool {
	return p.send != nil
}

// Connect connects to the broker. It's a no-op when disabled.
// If it fails, the client stops retrying in the background.
func (p *Publisher) Connect() error {
	if p.client == nil {
		return nil
	}

	var err error
	token := p.client.Connect()
	if !token.WaitTimeout(p.connectTimeout) {
		err = errors.Errorf("timed out connecting to MQTT broker after %v", p.connectTimeout)
	} else if token.Error() != nil {
		err = errors.Wrap(token.Error(), "failed to connect to MQTT broker")
	}
	if err != nil {
		p.client.Disconnect(0)
	}
	return err
}

// Close disconnects from the broker. It's a no-op when disabled.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	p.client.Disconnect(quiesceMillis)
}

func (p *Publisher) topic(name string) string {
	if p.prefix == "" {
		return name
	}
	return p.prefix + "/" + name
}

func (p *Publisher) publishJSON(name string, v interface{}) {
	if p.send == nil {
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.lc.Error("Failed to marshal MQTT payload.", "topic", name, "error", err)
		return
	}
	p.send(p.topic(name), payload)
}

// OnTagRead implements reader.ReadListener.
func (p *Publisher) OnTagRead(r reader.TagReadData) {
	p.publishJSON(TagsTopic, inventory.NewTagRecord(r))
}

// OnReadException implements reader.ReadExceptionListener.
func (p *Publisher) OnReadException(err error) {
	p.publishJSON(ErrorsTopic, NewErrorMessage(err, time.Now()))
}

// OnEvent publishes an inventory event.
func (p *Publisher) OnEvent(e inventory.Event) {
	p.publishJSON(EventsTopic, EventMessage{Type: e.OfType(), Event: e})
}

func NewErrorMessage(err error, at time.Time) ErrorMessage {
	msg := ErrorMessage{
		Kind:      reader.KindOf(err).String(),
		Error:     err.Error(),
		Timestamp: inventory.UnixMilli(at),
	}
	var re *reader.Error
	if errors.As(err, &re) {
		msg.Op = re.Op
	}
	return msg
}

// pahoLogger routes the MQTT client's own logs to a LoggingClient.
type pahoLogger struct {
	lc    logger.LoggingClient
	level string
}

func (l pahoLogger) Println(v ...interface{}) {
	l.log(fmt.Sprint(v...))
}

func (l pahoLogger) Printf(format string, v ...interface{}) {
	l.log(fmt.Sprintf(format, v...))
}

func (l pahoLogger) log(msg string) {
	if l.level == "WARN" {
		l.lc.Warn(msg, "source", "mqtt")
		return
	}
	l.lc.Error(msg, "source", "mqtt")
}
