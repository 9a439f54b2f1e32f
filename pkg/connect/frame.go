// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import "time"

// frameLayout describes how many header bytes a command carries and how
// the header announces the payload length.
type frameLayout struct {
	header  int
	payload func(h []byte) int
}

func noPayload([]byte) int { return 0 }

var layouts = [commandCount]frameLayout{
	CableCheck:       {header: 1, payload: func(h []byte) int { return int(h[0]) }},
	IDRequest:        {header: 0, payload: noPayload},
	IDEnumeration:    {header: 1, payload: noPayload},
	IDReport:         {header: 1, payload: noPayload},
	ScanCode:         {header: 2, payload: func(h []byte) int { return int(h[1]) * triggerGuideSize }},
	Animation:        {header: 2, payload: func(h []byte) int { return int(h[1]) }},
	RemoteCapability: {header: 5, payload: func(h []byte) int { return int(h[4]) }},
}

// HeaderSize returns the number of fixed header bytes following the command byte
func HeaderSize(k CommandKind) int {
	if !k.Valid() {
		return 0
	}
	return layouts[k].header
}

// PayloadSize returns the payload length announced by a complete header
func PayloadSize(k CommandKind, header []byte) int {
	if !k.Valid() || len(header) < layouts[k].header {
		return 0
	}
	return layouts[k].payload(header)
}

// Frame is a fully received command frame as seen on the wire
type Frame struct {
	Kind      CommandKind
	Header    []byte
	Payload   []byte
	Timestamp time.Time
}

// Bytes returns the wire encoding of the frame
func (f *Frame) Bytes() []byte {
	out := make([]byte, 0, 3+len(f.Header)+len(f.Payload))
	out = append(out, SynByte, SohByte, byte(f.Kind))
	out = append(out, f.Header...)
	return append(out, f.Payload...)
}

// Len returns the encoded length including SYN, SOH and the command byte
func (f *Frame) Len() int {
	return 3 + len(f.Header) + len(f.Payload)
}

// ID returns the id byte for IdEnumeration, IdReport, Animation and
// RemoteCapability frames and the device id for ScanCode frames.
func (f *Frame) ID() (uint8, bool) {
	switch f.Kind {
	case IDEnumeration, IDReport, ScanCode, Animation, RemoteCapability:
		if len(f.Header) > 0 {
			return f.Header[0], true
		}
	}
	return 0, false
}

// Entries decodes the TriggerGuide entries of a ScanCode frame
func (f *Frame) Entries() []TriggerGuide {
	if f.Kind != ScanCode {
		return nil
	}
	entries := make([]TriggerGuide, 0, len(f.Payload)/triggerGuideSize)
	for i := 0; i+triggerGuideSize <= len(f.Payload); i += triggerGuideSize {
		entries = append(entries, TriggerGuide{
			Type:     f.Payload[i],
			State:    f.Payload[i+1],
			ScanCode: f.Payload[i+2],
		})
	}
	return entries
}

// RemoteCall holds the decoded header of a RemoteCapability frame
type RemoteCall struct {
	ID         uint8
	Capability uint8
	State      uint8
	StateType  uint8
	Args       []byte
}

// Remote decodes a RemoteCapability frame
func (f *Frame) Remote() (RemoteCall, bool) {
	if f.Kind != RemoteCapability || len(f.Header) < 5 {
		return RemoteCall{}, false
	}
	return RemoteCall{
		ID:         f.Header[0],
		Capability: f.Header[1],
		State:      f.Header[2],
		StateType:  f.Header[3],
		Args:       f.Payload,
	}, true
}
