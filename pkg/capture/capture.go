// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capture records interconnect frames to a file as a sequence of
// CBOR items: one header followed by one record per frame.
package capture

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/fxamacker/cbor/v2"
)

// Magic identifies capture files
const Magic = "uartconnect-capture"

// Version is the record layout written by Writer
const Version = 1

// Link values for Record.Link
const (
	LinkToMaster = uint8(connect.ToMaster)
	LinkToSlave  = uint8(connect.ToSlave)
	LinkMonitor  = 0xFF
)

var (
	// ErrBadHeader is returned for files that are not captures
	ErrBadHeader = errors.New("not a capture file")
	// ErrUnsupportedVersion is returned for captures written by a newer layout
	ErrUnsupportedVersion = errors.New("unsupported capture version")
)

// Header is the first item of a capture
type Header struct {
	_       struct{} `cbor:",toarray"`
	Magic   string
	Version uint
	Source  string
	Started int64
}

// Record is one captured frame
type Record struct {
	_ struct{} `cbor:",toarray"`
	// Time is the receive time in Unix nanoseconds
	Time int64
	// Link is the direction the frame was seen on, LinkMonitor for a tap
	Link  uint8
	Bytes []byte
}

// Frame decodes the captured bytes
func (r Record) Frame() (*connect.Frame, error) {
	d := connect.NewDecoder()
	for _, b := range r.Bytes {
		f, err := d.DecodeByte(b)
		if err != nil {
			return nil, fmt.Errorf("record at %d: %w", r.Time, err)
		}
		if f != nil {
			f.Timestamp = time.Unix(0, r.Time)
			return f, nil
		}
	}
	return nil, fmt.Errorf("record at %d: incomplete frame", r.Time)
}

// Writer appends frames to a capture
type Writer struct {
	enc *cbor.Encoder
	n   int
}

// NewWriter writes the header and returns a writer for the records
func NewWriter(w io.Writer, source string, started time.Time) (*Writer, error) {
	enc := cbor.NewEncoder(w)
	h := Header{Magic: Magic, Version: Version, Source: source, Started: started.UnixNano()}
	if err := enc.Encode(h); err != nil {
		return nil, fmt.Errorf("failed to write capture header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Write appends one record
func (w *Writer) Write(r Record) error {
	if err := w.enc.Encode(r); err != nil {
		return fmt.Errorf("failed to write capture record: %w", err)
	}
	w.n++
	return nil
}

// WriteFrame records a decoded frame seen on link
func (w *Writer) WriteFrame(link uint8, f *connect.Frame) error {
	return w.Write(Record{Time: f.Timestamp.UnixNano(), Link: link, Bytes: f.Bytes()})
}

// Count returns the number of records written
func (w *Writer) Count() int { return w.n }

// Reader iterates over the records of a capture
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the header
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if h.Magic != Magic {
		return nil, ErrBadHeader
	}
	if h.Version > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Header returns the capture header
func (r *Reader) Header() Header { return r.header }

// Next returns the next record, io.EOF after the last one
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to read capture record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every remaining record
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
