// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package events delivers key transitions and animations that reach a node
// to host-side consumers.
package events

import (
	"fmt"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
)

// Kind tells what an Event carries
type Kind uint8

const (
	KindScanCode Kind = iota
	KindAnimation
)

func (k Kind) String() string {
	switch k {
	case KindScanCode:
		return "scan_code"
	case KindAnimation:
		return "animation"
	default:
		return "unknown"
	}
}

// Event is one delivered key transition or animation request
type Event struct {
	Time      time.Time
	Kind      Kind
	Guide     connect.TriggerGuide
	Animation uint8
	Params    []byte
}

func (e Event) String() string {
	switch e.Kind {
	case KindScanCode:
		return connect.FormatTriggerGuide(e.Guide)
	case KindAnimation:
		return fmt.Sprintf("Animation id=%d params=% X", e.Animation, e.Params)
	default:
		return "unknown event"
	}
}

// Sink consumes both kinds of events
type Sink interface {
	connect.MacroEngine
	connect.AnimationSink
}

// Fanout delivers every event to each sink in order
type Fanout []Sink

var _ Sink = Fanout(nil)

// DeliverScanCode implements connect.MacroEngine
func (f Fanout) DeliverScanCode(g connect.TriggerGuide) {
	for _, s := range f {
		s.DeliverScanCode(g)
	}
}

// DeliverAnimation implements connect.AnimationSink
func (f Fanout) DeliverAnimation(id uint8, params []byte) {
	for _, s := range f {
		s.DeliverAnimation(id, params)
	}
}
