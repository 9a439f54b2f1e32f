// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads node settings from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

const (
	// SchemaVersion is the layout understood by Load
	SchemaVersion = 1
	// EnvPath overrides the config file location
	EnvPath = "UARTCONNECT_CONFIG"
	// FileName is the default config file name
	FileName = "uartconnect.toml"
)

// ErrSchemaMismatch is returned for files written for another layout
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Values is the content of a config file
type Values struct {
	Schema       int          `toml:"schema"`
	Node         Node         `toml:"node"`
	Link         Link         `toml:"link"`
	Power        Power        `toml:"power"`
	ScanCodes    ScanCodes    `toml:"scan_codes"`
	Ports        Ports        `toml:"ports"`
	MQTT         MQTT         `toml:"mqtt"`
	Log          Log          `toml:"log"`
	Capabilities Capabilities `toml:"capabilities"`
}

// Node selects the role of the node
type Node struct {
	Name     string `toml:"name"`
	Master   bool   `toml:"master"`
	Override string `toml:"override" validate:"omitempty,oneof=m s d master slave default none"`
	Debug    bool   `toml:"debug"`
}

// Link holds the protocol timing
type Link struct {
	TxBufferSize      int    `toml:"tx_buffer_size" validate:"gte=16,lte=65536"`
	CableCheckLength  uint8  `toml:"cable_check_length" validate:"gte=1"`
	CheckIntervalMask uint32 `toml:"check_interval_mask" validate:"gte=1"`
	RetryDelayUS      int    `toml:"retry_delay_us" validate:"gte=1"`
	TxStallTimeoutMS  int    `toml:"tx_stall_timeout_ms" validate:"gte=-1"`
	LockSpinDelayUS   int    `toml:"lock_spin_delay_us" validate:"gte=1"`
	LockTimeoutMS     int    `toml:"lock_timeout_ms" validate:"gte=1"`
	PollIntervalMS    int    `toml:"poll_interval_ms" validate:"gte=1,lte=1000"`
}

// Power holds the USB current budgets in milliamps
type Power struct {
	USBMinimumMA uint16 `toml:"usb_minimum_ma" validate:"gte=1"`
	AssignedMA   uint16 `toml:"assigned_ma" validate:"gtefield=USBMinimumMA"`
}

// ScanCodes maps device ids to scan code offsets
type ScanCodes struct {
	Offsets []int `toml:"offsets,omitempty" validate:"dive,gte=0,lte=255"`
}

// Ports selects the links toward the master and the slave. Each side is a
// serial port or a websocket URL, never both.
type Ports struct {
	Master      string `toml:"master,omitempty" validate:"excluded_with=MasterURL"`
	MasterURL   string `toml:"master_url,omitempty" validate:"omitempty,url"`
	Slave       string `toml:"slave,omitempty" validate:"excluded_with=SlaveURL"`
	SlaveURL    string `toml:"slave_url,omitempty" validate:"omitempty,url"`
	Baud        int    `toml:"baud" validate:"gte=1200"`
	Username    string `toml:"username,omitempty"`
	NoSSLVerify bool   `toml:"no_ssl_verify"`
}

// MQTT configures the event publisher. An empty broker disables it.
type MQTT struct {
	Broker string `toml:"broker,omitempty" validate:"omitempty,hostname_port"`
	Topic  string `toml:"topic" validate:"required_with=Broker"`
}

// Log configures logging
type Log struct {
	Level string `toml:"level" validate:"oneof=trace debug info warn error"`
	File  string `toml:"file,omitempty"`
}

// Capabilities lists host-side capabilities registered at startup
type Capabilities struct {
	Slots int      `toml:"slots" validate:"gte=1,lte=256"`
	Names []string `toml:"names,omitempty" validate:"dive,required"`
}

// Defaults are the values used for anything missing from a file
var Defaults = Values{
	Schema: SchemaVersion,
	Link: Link{
		TxBufferSize:      256,
		CableCheckLength:  2,
		CheckIntervalMask: 0x1FF,
		RetryDelayUS:      100,
		TxStallTimeoutMS:  250,
		LockSpinDelayUS:   10,
		LockTimeoutMS:     50,
		PollIntervalMS:    1,
	},
	Power: Power{
		USBMinimumMA: connect.USBMinimumCurrent,
		AssignedMA:   connect.USBMaximumCurrent,
	},
	Ports: Ports{Baud: 115200},
	MQTT:  MQTT{Topic: "uartconnect"},
	Log:   Log{Level: "info"},
	Capabilities: Capabilities{
		Slots: 32,
	},
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Path returns the config file location: $UARTCONNECT_CONFIG, or
// uartconnect.toml in the user config directory
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(dir, "uartconnect", FileName)
}

// Parse decodes a config on top of the defaults and validates it
func Parse(data []byte) (Values, error) {
	vals := Defaults
	vals.ScanCodes.Offsets = nil
	vals.Capabilities.Names = nil
	if err := toml.Unmarshal(data, &vals); err != nil {
		return Values{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if vals.Schema != SchemaVersion {
		return Values{}, fmt.Errorf("%w: got %d, expecting %d", ErrSchemaMismatch, vals.Schema, SchemaVersion)
	}
	if err := vals.Validate(); err != nil {
		return Values{}, err
	}
	return vals, nil
}

// Load reads and parses the file at path. A missing file yields the defaults.
func Load(path string) (Values, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Debug().Str("path", path).Msg("no config file, using defaults")
		return Defaults, nil
	}
	if err != nil {
		return Values{}, fmt.Errorf("failed to read config file: %w", err)
	}
	vals, err := Parse(data)
	if err != nil {
		return Values{}, fmt.Errorf("%s: %w", path, err)
	}
	log.Debug().Str("path", path).Msg("loaded config")
	return vals, nil
}

// Save writes vals to path, creating the directory if needed
func Save(path string, vals Values) error {
	if err := vals.Validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(&vals)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks field ranges and cross-field rules
func (v *Values) Validate() error {
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Override returns the parsed role override
func (v *Values) Override() connect.Override {
	o, err := connect.ParseOverride(v.Node.Override)
	if err != nil {
		return connect.OverrideNone
	}
	return o
}

// PollInterval returns how often the node loop polls the links
func (v *Values) PollInterval() time.Duration {
	return time.Duration(v.Link.PollIntervalMS) * time.Millisecond
}

// ToConnect converts the file values to node tunables
func (v *Values) ToConnect() connect.Config {
	stall := time.Duration(v.Link.TxStallTimeoutMS) * time.Millisecond
	if v.Link.TxStallTimeoutMS < 0 {
		stall = -1
	}
	offsets := make([]uint8, len(v.ScanCodes.Offsets))
	for i, o := range v.ScanCodes.Offsets {
		offsets[i] = uint8(o)
	}
	return connect.Config{
		Master:            v.Node.Master,
		TxBufferSize:      v.Link.TxBufferSize,
		CableCheckLength:  v.Link.CableCheckLength,
		CheckIntervalMask: v.Link.CheckIntervalMask,
		RetryDelay:        time.Duration(v.Link.RetryDelayUS) * time.Microsecond,
		TxStallTimeout:    stall,
		LockSpinDelay:     time.Duration(v.Link.LockSpinDelayUS) * time.Microsecond,
		LockTimeout:       time.Duration(v.Link.LockTimeoutMS) * time.Millisecond,
		USBMinimumCurrent: v.Power.USBMinimumMA,
		AssignedCurrent:   v.Power.AssignedMA,
		ScanCodeOffsets:   offsets,
	}
}
