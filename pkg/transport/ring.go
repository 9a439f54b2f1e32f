// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package transport provides byte transports for interconnect nodes: in
// memory links for simulation and stream links over serial ports or
// websockets.
package transport

import "sync/atomic"

// Ring is a single-producer, single-consumer byte ring. It stands in for a
// DMA-filled UART buffer: one goroutine writes, one goroutine reads, and
// neither blocks.
type Ring struct {
	buf  []byte
	mask uint32
	rd   atomic.Uint32 // consumer index (monotonic)
	wr   atomic.Uint32 // producer index (monotonic)

	readable chan struct{} // raised after every write that stored bytes
	writable chan struct{} // raised after every read that freed bytes
}

// NewRing allocates a ring of at least size bytes, rounded up to a power of two
func NewRing(size int) *Ring {
	n := 2
	for n < size {
		n <<= 1
	}
	return &Ring{
		buf:      make([]byte, n),
		mask:     uint32(n - 1),
		readable: make(chan struct{}, 1),
		writable: make(chan struct{}, 1),
	}
}

func (r *Ring) size() uint32 { return uint32(len(r.buf)) }

// Cap returns the ring capacity
func (r *Ring) Cap() int { return len(r.buf) }

// Space returns how many bytes Write accepts
func (r *Ring) Space() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(r.size() - (wr - rd))
}

// Available returns how many bytes Read returns
func (r *Ring) Available() int {
	rd := r.rd.Load()
	wr := r.wr.Load()
	return int(wr - rd)
}

// Write copies as much of src as fits and returns the count. Producer side.
func (r *Ring) Write(src []byte) (n int) {
	if len(src) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	beforeAvail := wr - rd
	space := int(r.size() - beforeAvail)
	if space <= 0 {
		return 0
	}
	if len(src) < space {
		space = len(src)
	}
	n = space

	size := r.size()
	wrIdx := wr & r.mask
	first := int(size - wrIdx)
	if first > n {
		first = n
	}
	copy(r.buf[wrIdx:wrIdx+uint32(first)], src[:first])
	if second := n - first; second > 0 {
		copy(r.buf[:second], src[first:n])
	}
	r.wr.Store(wr + uint32(n))
	notify(r.readable)
	return n
}

// Put writes a single byte, reporting false when the ring is full
func (r *Ring) Put(b byte) bool {
	var one [1]byte
	one[0] = b
	return r.Write(one[:]) == 1
}

// Read copies up to len(dst) bytes out of the ring. Consumer side.
func (r *Ring) Read(dst []byte) (n int) {
	if len(dst) == 0 {
		return 0
	}
	rd := r.rd.Load()
	wr := r.wr.Load()
	avail := int(wr - rd)
	if avail <= 0 {
		return 0
	}
	if len(dst) < avail {
		avail = len(dst)
	}
	n = avail

	size := r.size()
	rdIdx := rd & r.mask
	first := int(size - rdIdx)
	if first > n {
		first = n
	}
	copy(dst[:first], r.buf[rdIdx:rdIdx+uint32(first)])
	if second := n - first; second > 0 {
		copy(dst[first:n], r.buf[:second])
	}
	r.rd.Store(rd + uint32(n))
	notify(r.writable)
	return n
}

// Take pops a single byte, reporting false when the ring is empty
func (r *Ring) Take() (byte, bool) {
	var one [1]byte
	if r.Read(one[:]) == 0 {
		return 0, false
	}
	return one[0], true
}

// Readable signals that bytes were written since the last receive. A
// waiter must re-check Available after waking.
func (r *Ring) Readable() <-chan struct{} { return r.readable }

// Writable signals that bytes were read since the last receive. A waiter
// must re-check Space after waking.
func (r *Ring) Writable() <-chan struct{} { return r.writable }

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
