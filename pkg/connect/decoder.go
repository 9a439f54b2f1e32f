// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"fmt"
	"time"
)

// Decoder recovers frames from a captured or sniffed byte stream. It uses
// the same framing rules as a Node but has no side effects.
type Decoder struct {
	state RxStatus
	frame rxFrame
}

// NewDecoder creates a decoder waiting for SYN
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Reset returns the decoder to Wait
func (d *Decoder) Reset() {
	d.state = RxWait
	d.frame.n = 0
}

// State returns the framing state
func (d *Decoder) State() RxStatus {
	return d.state
}

// DecodeByte processes a single byte through the decoder state machine.
// It returns a completed frame, or nil while the frame is incomplete. An
// error is returned when a started frame is broken off; the decoder has
// already resynchronized when that happens.
func (d *Decoder) DecodeByte(b byte) (*Frame, error) {
	switch d.state {
	case RxWait:
		if b == SynByte {
			d.state = RxSyn
		}
		return nil, nil

	case RxSyn:
		if b == SohByte {
			d.state = RxSoh
			return nil, nil
		}
		d.state = RxWait
		return nil, fmt.Errorf("%w: 0x%02X after SYN", ErrFraming, b)

	case RxSoh:
		k := CommandKind(b)
		switch {
		case b == SynByte:
			d.state = RxSyn
			return nil, nil
		case !k.Valid():
			d.state = RxWait
			return nil, fmt.Errorf("%w: unknown command 0x%02X", ErrFraming, b)
		}
		d.frame.begin(k)
		if HeaderSize(k) == 0 {
			d.state = RxWait
			return d.complete(), nil
		}
		d.state = RxCommand
		return nil, nil

	case RxCommand:
		f := &d.frame
		if f.kind == CableCheck && f.state == countingPayload && b != CableCheckPattern {
			offset := f.n - 3 - layouts[CableCheck].header
			d.state = RxWait
			return nil, fmt.Errorf("%w: byte %d is 0x%02X", ErrCableMismatch, offset, b)
		}
		if !f.push(b) {
			return nil, nil
		}
		d.state = RxWait
		return d.complete(), nil

	default:
		d.Reset()
		return nil, fmt.Errorf("invalid state: %d", d.state)
	}
}

// Decode runs every byte of p through the decoder and returns the completed
// frames and the errors met on the way
func (d *Decoder) Decode(p []byte) ([]*Frame, []error) {
	var frames []*Frame
	var errs []error
	for _, b := range p {
		f, err := d.DecodeByte(b)
		if err != nil {
			errs = append(errs, err)
		}
		if f != nil {
			frames = append(frames, f)
		}
	}
	return frames, errs
}

func (d *Decoder) complete() *Frame {
	header := d.frame.header()
	payload := d.frame.payload()
	f := &Frame{
		Kind:      d.frame.kind,
		Header:    append([]byte(nil), header...),
		Timestamp: time.Now(),
	}
	if len(payload) > 0 {
		f.Payload = append([]byte(nil), payload...)
	}
	return f
}
