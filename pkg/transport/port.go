// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import "github.com/Thermoquad/uartconnect/pkg/connect"

// DefaultRingSize is the per-direction buffer used when none is given
const DefaultRingSize = 1024

// Port is one UART of a node: a receive ring filled from the wire and a
// transmit ring drained to it.
type Port interface {
	// Rx returns the ring holding received bytes
	Rx() *Ring
	// Tx returns the ring holding bytes waiting to go out
	Tx() *Ring
}

type ringPort struct {
	rx, tx *Ring
}

func (p ringPort) Rx() *Ring { return p.rx }
func (p ringPort) Tx() *Ring { return p.tx }

// NewPort builds a port from existing rings
func NewPort(rx, tx *Ring) Port {
	return ringPort{rx: rx, tx: tx}
}

// NewLink returns the two ends of an in-memory cable. Bytes written to the
// Tx ring of one end appear on the Rx ring of the other.
func NewLink(size int) (Port, Port) {
	if size <= 0 {
		size = DefaultRingSize
	}
	ab, ba := NewRing(size), NewRing(size)
	return ringPort{rx: ba, tx: ab}, ringPort{rx: ab, tx: ba}
}

// Pair binds a port to each direction of a node and implements
// connect.Transport. A nil port is an unplugged connector: nothing is
// received and transmitted bytes are discarded.
type Pair struct {
	ports [2]Port
}

var _ connect.Transport = (*Pair)(nil)

// NewPair creates a transport from the port toward the master and the port
// toward the slave
func NewPair(toMaster, toSlave Port) *Pair {
	p := &Pair{}
	p.ports[connect.ToMaster] = toMaster
	p.ports[connect.ToSlave] = toSlave
	return p
}

// Port returns the port bound to dir, nil when unplugged
func (p *Pair) Port(dir connect.Direction) Port {
	return p.ports[dir]
}

// Plug binds port to dir. It must not race with the node's Process.
func (p *Pair) Plug(dir connect.Direction, port Port) {
	p.ports[dir] = port
}

// RxAvailable implements connect.Transport
func (p *Pair) RxAvailable(dir connect.Direction) int {
	if p.ports[dir] == nil {
		return 0
	}
	return p.ports[dir].Rx().Available()
}

// RxByte implements connect.Transport
func (p *Pair) RxByte(dir connect.Direction) byte {
	if p.ports[dir] == nil {
		return 0
	}
	b, _ := p.ports[dir].Rx().Take()
	return b
}

// TxSpace implements connect.Transport
func (p *Pair) TxSpace(dir connect.Direction) int {
	if p.ports[dir] == nil {
		return connect.MaxFrameSize
	}
	return p.ports[dir].Tx().Space()
}

// TxByte implements connect.Transport
func (p *Pair) TxByte(dir connect.Direction, b byte) {
	if p.ports[dir] == nil {
		return
	}
	p.ports[dir].Tx().Put(b)
}
