// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

// RxStatus is the framing state of one receive direction
type RxStatus uint8

const (
	RxWait RxStatus = iota
	RxSyn
	RxSoh
	RxCommand
)

func (s RxStatus) String() string {
	switch s {
	case RxWait:
		return "Wait"
	case RxSyn:
		return "Syn"
	case RxSoh:
		return "Soh"
	case RxCommand:
		return "Command"
	default:
		return "invalid"
	}
}

// payloadState tracks progress through the bytes following the command byte
type payloadState uint8

const (
	awaitingHeader payloadState = iota
	countingPayload
)

// rxFrame accumulates the frame being received, framing bytes included, so
// a relay can re-emit it unchanged.
type rxFrame struct {
	buf       [MaxFrameSize]byte
	n         int
	kind      CommandKind
	state     payloadState
	remaining int
}

func (f *rxFrame) begin(k CommandKind) {
	f.buf[0], f.buf[1], f.buf[2] = SynByte, SohByte, byte(k)
	f.n = 3
	f.kind = k
	f.state = awaitingHeader
	f.remaining = layouts[k].header
}

// push stores b and advances the sub-state. It returns true once the last
// payload byte has been stored.
func (f *rxFrame) push(b byte) bool {
	if f.n < len(f.buf) {
		f.buf[f.n] = b
		f.n++
	}
	f.remaining--
	if f.state == awaitingHeader {
		if f.remaining > 0 {
			return false
		}
		f.state = countingPayload
		f.remaining = layouts[f.kind].payload(f.header())
	}
	return f.remaining <= 0
}

func (f *rxFrame) header() []byte {
	end := 3 + layouts[f.kind].header
	if end > f.n {
		end = f.n
	}
	return f.buf[3:end]
}

func (f *rxFrame) payload() []byte {
	start := 3 + layouts[f.kind].header
	if start > f.n {
		return nil
	}
	return f.buf[start:f.n]
}

// bytes returns the whole frame as received
func (f *rxFrame) bytes() []byte {
	return f.buf[:f.n]
}

func (f *rxFrame) reset() {
	for i := range f.buf {
		f.buf[i] = 0
	}
	f.n, f.kind, f.state, f.remaining = 0, 0, awaitingHeader, 0
}

// RxChannel is the parser state of one receive direction
type RxChannel struct {
	status  RxStatus
	pending CommandKind
	frame   rxFrame
}

// Status returns the framing state
func (c *RxChannel) Status() RxStatus { return c.status }

// Pending returns the command being received; only meaningful in RxCommand
func (c *RxChannel) Pending() CommandKind { return c.pending }

func (c *RxChannel) reset() {
	c.status = RxWait
	c.pending = 0
	c.frame.reset()
}

// RxChannel exposes the parser state of dir
func (n *Node) RxChannel(dir Direction) *RxChannel {
	return &n.rx[dir]
}

// processByte runs one received byte through the framing state machine
func (n *Node) processByte(dir Direction, b byte) {
	rx := &n.rx[dir]
	if n.debug {
		n.log.Debug().
			Stringer("dir", dir).
			Stringer("state", rx.status).
			Hex("byte", []byte{b}).
			Msg("rx")
	}

	switch rx.status {
	case RxWait:
		if b == SynByte {
			rx.status = RxSyn
		}

	case RxSyn:
		if b == SohByte {
			rx.status = RxSoh
			return
		}
		n.framingError(dir, rx.status, b)
		rx.status = RxWait

	case RxSoh:
		k := CommandKind(b)
		switch {
		case b == SynByte:
			rx.status = RxSyn
		case k.Valid():
			rx.pending = k
			rx.frame.begin(k)
			rx.status = RxCommand
			if HeaderSize(k) == 0 && receiveFunctions[k](n, dir, &rx.frame, 0) {
				rx.status = RxWait
			}
		default:
			n.framingError(dir, rx.status, b)
			rx.status = RxWait
		}

	case RxCommand:
		if receiveFunctions[rx.pending](n, dir, &rx.frame, b) {
			rx.status = RxWait
		}
	}
}

func (n *Node) framingError(dir Direction, state RxStatus, b byte) {
	if !n.debug {
		return
	}
	n.log.Debug().
		Stringer("dir", dir).
		Stringer("state", state).
		Hex("byte", []byte{b}).
		Msg("framing error, resync")
}
