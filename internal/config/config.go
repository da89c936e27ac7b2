//
// Copyright (C) 2021 Intel Corporation
//
// SPDX-License-Identifier: Apache-2.0

// Package config loads the reader client's configuration.toml.
package config

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"edgexfoundry/app-rfid-reader-session/internal/reader"
	"edgexfoundry/app-rfid-reader-session/internal/transport"
)

const (
	DefaultFile = "res/configuration.toml"

	defaultLogLevel     = "INFO"
	defaultProtocol     = "GEN2"
	defaultWeightMillis = 1000
	defaultReadMillis   = 1000
	defaultAsyncOnMs    = 250
	defaultServicePort  = 59711
	defaultDepartedSecs = 30
	defaultTopicPrefix  = "rfid"
	defaultMQTTClientID = "rfid-reader"
)

var ErrUnexpectedConfigItems = errors.New("unexpected config items")

// Config mirrors configuration.toml. The same keys may be given in YAML.
type Config struct {
	Writable  WritableInfo  `yaml:"Writable"`
	Reader    ReaderInfo    `yaml:"Reader"`
	Simulator SimulatorInfo `yaml:"Simulator"`
	Service   ServiceInfo   `yaml:"Service"`
	MQTT      MQTTInfo      `yaml:"MQTT"`
}

type WritableInfo struct {
	LogLevel string `yaml:"LogLevel"`
}

// ReaderInfo selects and configures the reader.
type ReaderInfo struct {
	URI string `yaml:"URI"`
	// Antennas is a comma-separated antenna list, e.g. "1,2".
	Antennas string `yaml:"Antennas"`
	Protocol string `yaml:"Protocol"`
	// Region is applied before reading; empty means the reader's first supported region.
	Region string `yaml:"Region"`
	// HopTable, in kHz, replaces the region's default channels.
	HopTable []int64 `yaml:"HopTable"`

	WeightMillis       int64 `yaml:"WeightMillis"`
	StopTriggerTags    int64 `yaml:"StopTriggerTags"`
	ReadMillis         int64 `yaml:"ReadMillis"`
	AsyncOnTimeMillis  int64 `yaml:"AsyncOnTimeMillis"`
	AsyncOffTimeMillis int64 `yaml:"AsyncOffTimeMillis"`
	// Trace is "", "hex", or "string".
	Trace string `yaml:"Trace"`
}

// SimulatorInfo configures readers opened with the sim scheme.
type SimulatorInfo struct {
	Model          string `yaml:"Model"`
	BufferCapacity int64  `yaml:"BufferCapacity"`
	RealTime       bool   `yaml:"RealTime"`
	// Regions lists the supported regions by name.
	Regions []string `yaml:"Regions"`
}

// ServiceInfo configures the HTTP service.
type ServiceInfo struct {
	Host string `yaml:"Host"`
	Port int64  `yaml:"Port"`
	// DepartedThresholdSeconds is how long a tag may go unseen
	// before the inventory marks it Departed.
	DepartedThresholdSeconds int64 `yaml:"DepartedThresholdSeconds"`
	// Advertise registers the service over mDNS.
	Advertise bool `yaml:"Advertise"`
}

// MQTTInfo configures tag event publishing; an empty Host disables it.
type MQTTInfo struct {
	Host        string `yaml:"Host"`
	Port        int64  `yaml:"Port"`
	ClientID    string `yaml:"ClientID"`
	TopicPrefix string `yaml:"TopicPrefix"`
	CACert      string `yaml:"CACert"`
	ClientCert  string `yaml:"ClientCert"`
	ClientKey   string `yaml:"ClientKey"`
}

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Writable.LogLevel == "" {
		c.Writable.LogLevel = defaultLogLevel
	}
	if c.Reader.Protocol == "" {
		c.Reader.Protocol = defaultProtocol
	}
	if c.Reader.WeightMillis == 0 {
		c.Reader.WeightMillis = defaultWeightMillis
	}
	if c.Reader.ReadMillis == 0 {
		c.Reader.ReadMillis = defaultReadMillis
	}
	if c.Reader.AsyncOnTimeMillis == 0 {
		c.Reader.AsyncOnTimeMillis = defaultAsyncOnMs
	}
	if c.Service.Port == 0 {
		c.Service.Port = defaultServicePort
	}
	if c.Service.DepartedThresholdSeconds == 0 {
		c.Service.DepartedThresholdSeconds = defaultDepartedSecs
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultMQTTClientID
	}
}

// Load reads and validates a TOML file, or a YAML file
// if the name ends in .yaml or .yml.
func Load(path string) (Config, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
	}

	parse := Parse
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parse = ParseYAML
	}

	cfg, err := parse(data)
	if err != nil && !errors.Is(err, ErrUnexpectedConfigItems) {
		return Config{}, errors.WithMessagef(err, "config file %s", path)
	}
	return cfg, err
}

// Parse decodes TOML data, fills in defaults, and validates the result.
//
// Unknown keys don't prevent parsing; the Config is returned
// along with an error wrapping ErrUnexpectedConfigItems.
func Parse(data []byte) (Config, error) {
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return Config{}, errors.Wrap(err, "invalid TOML")
	}

	var cfg Config
	if err := tree.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode configuration")
	}
	return finish(cfg, unexpectedKeys(tomlSections(tree)))
}

// ParseYAML is Parse for YAML data.
func ParseYAML(data []byte) (Config, error) {
	var raw yaml.MapSlice
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, errors.Wrap(err, "invalid YAML")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode configuration")
	}
	return finish(cfg, unexpectedKeys(yamlSections(raw)))
}

func finish(cfg Config, unknown []string) (Config, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if len(unknown) > 0 {
		return cfg, errors.Wrapf(ErrUnexpectedConfigItems, "%s", strings.Join(unknown, ", "))
	}
	return cfg, nil
}

var knownKeys = map[string][]string{
	"Writable":  {"LogLevel"},
	"Reader":    {"URI", "Antennas", "Protocol", "Region", "HopTable", "WeightMillis", "StopTriggerTags", "ReadMillis", "AsyncOnTimeMillis", "AsyncOffTimeMillis", "Trace"},
	"Simulator": {"Model", "BufferCapacity", "RealTime", "Regions"},
	"Service":   {"Host", "Port", "DepartedThresholdSeconds", "Advertise"},
	"MQTT":      {"Host", "Port", "ClientID", "TopicPrefix", "CACert", "ClientCert", "ClientKey"},
}

// section is a top-level table and its keys.
// Keys is nil if the section isn't a table.
type section struct {
	name string
	keys []string
}

func tomlSections(tree *toml.Tree) []section {
	var sections []section
	for _, name := range tree.Keys() {
		sec := section{name: name}
		if sub, ok := tree.Get(name).(*toml.Tree); ok {
			sec.keys = append([]string{}, sub.Keys()...)
		}
		sections = append(sections, sec)
	}
	return sections
}

func yamlSections(raw yaml.MapSlice) []section {
	var sections []section
	for _, item := range raw {
		sec := section{name: fmt.Sprint(item.Key)}
		if sub, ok := item.Value.(yaml.MapSlice); ok {
			sec.keys = []string{}
			for _, kv := range sub {
				sec.keys = append(sec.keys, fmt.Sprint(kv.Key))
			}
		}
		sections = append(sections, sec)
	}
	return sections
}

func unexpectedKeys(sections []section) []string {
	var unknown []string
	for _, sec := range sections {
		fields, ok := knownKeys[sec.name]
		if !ok || sec.keys == nil {
			unknown = append(unknown, sec.name)
			continue
		}
		for _, k := range sec.keys {
			if !contains(fields, k) {
				unknown = append(unknown, sec.name+"."+k)
			}
		}
	}
	return unknown
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

var logLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR"}

// Validate returns an error if the Config has invalid values.
func (c Config) Validate() error {
	if !contains(logLevels, strings.ToUpper(c.Writable.LogLevel)) {
		return fmt.Errorf("invalid Writable.LogLevel %q; must be one of %s",
			c.Writable.LogLevel, strings.Join(logLevels, ", "))
	}

	r := c.Reader
	if r.URI != "" {
		if _, err := transport.ParseURI(r.URI); err != nil {
			return errors.WithMessage(err, "invalid Reader.URI")
		}
	}
	if r.Antennas != "" {
		if _, err := reader.ParseAntennaList(r.Antennas); err != nil {
			return errors.WithMessage(err, "invalid Reader.Antennas")
		}
	}
	if _, err := c.Protocol(); err != nil {
		return err
	}
	if _, err := c.Region(); err != nil {
		return err
	}
	for _, f := range r.HopTable {
		if f <= 0 || f > 0xFFFFFFFF {
			return fmt.Errorf("invalid Reader.HopTable frequency %d", f)
		}
	}
	if r.WeightMillis <= 0 || r.WeightMillis > 0xFFFFFFFF {
		return fmt.Errorf("Reader.WeightMillis must be in 1..%d, got %d", uint32(0xFFFFFFFF), r.WeightMillis)
	}
	if r.StopTriggerTags < 0 || r.StopTriggerTags > 0xFFFFFFFF {
		return fmt.Errorf("Reader.StopTriggerTags must be in 0..%d, got %d", uint32(0xFFFFFFFF), r.StopTriggerTags)
	}
	if r.ReadMillis <= 0 {
		return fmt.Errorf("Reader.ReadMillis must be greater than 0, got %d", r.ReadMillis)
	}
	if r.AsyncOnTimeMillis <= 0 {
		return fmt.Errorf("Reader.AsyncOnTimeMillis must be greater than 0, got %d", r.AsyncOnTimeMillis)
	}
	if r.AsyncOffTimeMillis < 0 {
		return fmt.Errorf("Reader.AsyncOffTimeMillis must not be negative, got %d", r.AsyncOffTimeMillis)
	}
	switch strings.ToLower(r.Trace) {
	case "", "hex", "string":
	default:
		return fmt.Errorf("invalid Reader.Trace %q; must be hex or string", r.Trace)
	}

	if c.Simulator.BufferCapacity < 0 {
		return fmt.Errorf("Simulator.BufferCapacity must not be negative, got %d", c.Simulator.BufferCapacity)
	}
	if _, err := c.SimulatorRegions(); err != nil {
		return err
	}

	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid Service.Port %d", c.Service.Port)
	}
	if c.Service.DepartedThresholdSeconds < 0 {
		return fmt.Errorf("Service.DepartedThresholdSeconds must not be negative, got %d", c.Service.DepartedThresholdSeconds)
	}
	if c.MQTT.Port < 0 || c.MQTT.Port > 65535 {
		return fmt.Errorf("invalid MQTT.Port %d", c.MQTT.Port)
	}
	return nil
}

// Antennas returns the parsed antenna list, which may be empty.
func (c Config) Antennas() ([]uint8, error) {
	if c.Reader.Antennas == "" {
		return nil, nil
	}
	return reader.ParseAntennaList(c.Reader.Antennas)
}

func (c Config) Protocol() (reader.TagProtocol, error) {
	var p reader.TagProtocol
	if err := p.UnmarshalText([]byte(c.Reader.Protocol)); err != nil {
		return reader.ProtocolNone, errors.WithMessage(err, "invalid Reader.Protocol")
	}
	if p == reader.ProtocolNone {
		return p, errors.New("Reader.Protocol must not be NONE")
	}
	return p, nil
}

// Region returns the configured region, or RegionNone if it isn't set.
func (c Config) Region() (reader.Region, error) {
	if c.Reader.Region == "" {
		return reader.RegionNone, nil
	}
	var r reader.Region
	if err := r.UnmarshalText([]byte(c.Reader.Region)); err != nil {
		return reader.RegionNone, errors.WithMessage(err, "invalid Reader.Region")
	}
	return r, nil
}

func (c Config) HopTable() []uint32 {
	if len(c.Reader.HopTable) == 0 {
		return nil
	}
	freqs := make([]uint32, len(c.Reader.HopTable))
	for i, f := range c.Reader.HopTable {
		freqs[i] = uint32(f)
	}
	return freqs
}

func (c Config) SimulatorRegions() ([]reader.Region, error) {
	regions := make([]reader.Region, 0, len(c.Simulator.Regions))
	for _, name := range c.Simulator.Regions {
		var r reader.Region
		if err := r.UnmarshalText([]byte(name)); err != nil {
			return nil, errors.WithMessage(err, "invalid Simulator.Regions")
		}
		regions = append(regions, r)
	}
	return regions, nil
}

// ReadPlan builds the configured simple read plan.
func (c Config) ReadPlan() (*reader.SimpleReadPlan, error) {
	ants, err := c.Antennas()
	if err != nil {
		return nil, err
	}
	proto, err := c.Protocol()
	if err != nil {
		return nil, err
	}
	plan, err := reader.NewSimpleReadPlan(ants, proto, uint32(c.Reader.WeightMillis))
	if err != nil {
		return nil, err
	}
	if c.Reader.StopTriggerTags > 0 {
		return plan.WithStopTrigger(uint32(c.Reader.StopTriggerTags))
	}
	return plan, nil
}

func (c Config) ReadDuration() time.Duration {
	return time.Duration(c.Reader.ReadMillis) * time.Millisecond
}

func (c Config) AsyncOnTime() time.Duration {
	return time.Duration(c.Reader.AsyncOnTimeMillis) * time.Millisecond
}

func (c Config) AsyncOffTime() time.Duration {
	return time.Duration(c.Reader.AsyncOffTimeMillis) * time.Millisecond
}

func (c Config) DepartedThreshold() time.Duration {
	return time.Duration(c.Service.DepartedThresholdSeconds) * time.Second
}

// ServiceAddr is the HTTP listen address.
func (c Config) ServiceAddr() string {
	return fmt.Sprintf("%s:%d", c.Service.Host, c.Service.Port)
}
