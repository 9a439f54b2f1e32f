// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"errors"
	"strings"
	"testing"
)

// ============================================================
// Decoder Tests
// ============================================================

func TestDecoder_AllCommands(t *testing.T) {
	scan := mustScanCode(t, 3, TriggerGuide{1, 1, 0x2A})
	anim, _ := AppendAnimation(nil, 2, []byte{0x10})
	remote := mustRemote(t, IDBroadcast, 1, 2, 3, 0xAA)

	tests := []struct {
		name    string
		frame   []byte
		kind    CommandKind
		header  int
		payload int
	}{
		{"CableCheck", AppendCableCheck(nil, 4), CableCheck, 1, 4},
		{"IdRequest", AppendIDRequest(nil), IDRequest, 0, 0},
		{"IdEnumeration", AppendIDEnumeration(nil, 1), IDEnumeration, 1, 0},
		{"IdReport", AppendIDReport(nil, 1), IDReport, 1, 0},
		{"ScanCode", scan, ScanCode, 2, 3},
		{"Animation", anim, Animation, 2, 1},
		{"RemoteCapability", remote, RemoteCapability, 5, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			frames, errs := d.Decode(tt.frame)
			if len(errs) != 0 {
				t.Fatalf("Unexpected errors: %v", errs)
			}
			if len(frames) != 1 {
				t.Fatalf("Expected 1 frame, got %d", len(frames))
			}
			f := frames[0]
			if f.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, f.Kind)
			}
			if len(f.Header) != tt.header || len(f.Payload) != tt.payload {
				t.Errorf("Expected header/payload %d/%d, got %d/%d", tt.header, tt.payload, len(f.Header), len(f.Payload))
			}
			if string(f.Bytes()) != string(tt.frame) {
				t.Errorf("Re-encoded frame differs:\n got % X\nwant % X", f.Bytes(), tt.frame)
			}
			if d.State() != RxWait {
				t.Errorf("Expected Wait after a frame, got %s", d.State())
			}
		})
	}
}

func TestDecoder_FramingErrors(t *testing.T) {
	d := NewDecoder()

	_, err := d.DecodeByte(SynByte)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	_, err = d.DecodeByte(0x42)
	if !errors.Is(err, ErrFraming) {
		t.Errorf("Expected ErrFraming after SYN, got %v", err)
	}

	frames, errs := d.Decode([]byte{SynByte, SohByte, 0x30})
	if len(frames) != 0 || len(errs) != 1 || !errors.Is(errs[0], ErrFraming) {
		t.Errorf("Expected one framing error for unknown command, got %v / %v", frames, errs)
	}
}

func TestDecoder_CableMismatch(t *testing.T) {
	d := NewDecoder()
	stream := []byte{SynByte, SohByte, byte(CableCheck), 4, 0xD2, 0xD2, 0x00, 0xD2}
	stream = append(stream, AppendIDReport(nil, 2)...)

	frames, errs := d.Decode(stream)

	if len(errs) != 1 || !errors.Is(errs[0], ErrCableMismatch) {
		t.Fatalf("Expected one cable mismatch, got %v", errs)
	}
	if !strings.Contains(errs[0].Error(), "byte 2") {
		t.Errorf("Expected mismatch offset in %q", errs[0])
	}
	if len(frames) != 1 || frames[0].Kind != IDReport {
		t.Errorf("Expected the IdReport after the corrupted check, got %v", frames)
	}
}

func TestDecoder_NoiseBetweenFrames(t *testing.T) {
	d := NewDecoder()
	var stream []byte
	stream = append(stream, 0x00, 0xFF, SohByte)
	stream = append(stream, AppendIDEnumeration(nil, 7)...)
	stream = append(stream, 0x55)
	stream = append(stream, AppendIDEnumeration(nil, 8)...)

	frames, errs := d.Decode(stream)

	if len(errs) != 0 {
		t.Errorf("Noise in Wait is not an error, got %v", errs)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if id, _ := frames[1].ID(); id != 8 {
		t.Errorf("Expected id 8, got %d", id)
	}
}

func TestFrame_Accessors(t *testing.T) {
	d := NewDecoder()
	frames, _ := d.Decode(mustRemote(t, 4, 1, 2, 3, 0xAA, 0xBB))
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	rc, ok := frames[0].Remote()
	if !ok {
		t.Fatal("Expected RemoteCapability accessor to succeed")
	}
	want := RemoteCall{ID: 4, Capability: 1, State: 2, StateType: 3}
	if rc.ID != want.ID || rc.Capability != want.Capability || rc.State != want.State || rc.StateType != want.StateType {
		t.Errorf("Expected %+v, got %+v", want, rc)
	}
	if string(rc.Args) != "\xAA\xBB" {
		t.Errorf("Expected args AA BB, got % X", rc.Args)
	}
	if _, ok := (&Frame{Kind: ScanCode}).Remote(); ok {
		t.Error("Remote on a ScanCode frame should fail")
	}
}

// ============================================================
// Statistics Tests
// ============================================================

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()
	d := NewDecoder()
	stream := append(AppendCableCheck(nil, 2), SynByte, SohByte, byte(CableCheck), 1, 0x00)
	stream = append(stream, SynByte, 0x09)
	stream = append(stream, AppendIDRequest(nil)...)

	s.AddBytes(len(stream))
	for _, b := range stream {
		f, err := d.DecodeByte(b)
		if f != nil || err != nil {
			s.Update(f, err)
		}
	}

	if s.TotalFrames != 2 {
		t.Errorf("Expected 2 frames, got %d", s.TotalFrames)
	}
	if s.FramesByKind[CableCheck] != 1 || s.FramesByKind[IDRequest] != 1 {
		t.Errorf("Unexpected per-kind counts: %v", s.FramesByKind)
	}
	if s.CableFaults != 1 {
		t.Errorf("Expected 1 cable fault, got %d", s.CableFaults)
	}
	if s.FramingErrors != 1 {
		t.Errorf("Expected 1 framing error, got %d", s.FramingErrors)
	}
	out := s.String()
	for _, want := range []string{"Total Frames:", "CableCheck:", "Cable Faults:", "Framing Errors:"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in summary:\n%s", want, out)
		}
	}

	s.Reset()
	if s.TotalFrames != 0 || s.Bytes != 0 {
		t.Error("Reset should clear counters")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatFrame(t *testing.T) {
	d := NewDecoder()
	frames, _ := d.Decode(mustScanCode(t, 3, TriggerGuide{1, 1, 0x2A}))
	out := FormatFrame(frames[0])

	for _, want := range []string{"ScanCode (0x04)", "device_id: 3", "scancode=0x2A"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}

func TestFormatCommandTable(t *testing.T) {
	out := FormatCommandTable()
	for _, k := range Kinds() {
		if !strings.Contains(out, k.String()) {
			t.Errorf("Command table missing %s", k)
		}
	}
}
