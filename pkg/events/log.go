// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/rs/zerolog"
)

// LogSink writes every event to a logger at info level
type LogSink struct {
	log zerolog.Logger
}

var _ Sink = (*LogSink)(nil)

// NewLogSink creates a sink logging to l
func NewLogSink(l zerolog.Logger) *LogSink {
	return &LogSink{log: l.With().Str("component", "events").Logger()}
}

// DeliverScanCode implements connect.MacroEngine
func (s *LogSink) DeliverScanCode(g connect.TriggerGuide) {
	s.log.Info().
		Uint8("type", g.Type).
		Uint8("state", g.State).
		Uint8("scan_code", g.ScanCode).
		Msg("scan code")
}

// DeliverAnimation implements connect.AnimationSink
func (s *LogSink) DeliverAnimation(id uint8, params []byte) {
	s.log.Info().Uint8("id", id).Hex("params", params).Msg("animation")
}
