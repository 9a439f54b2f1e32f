// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package connect implements the UARTConnect interconnect protocol.
//
// UARTConnect links keyboard controller boards into a chain over two UART
// directions (toward the master and toward the slave). This package provides
// the frame parser, the per-command handlers, id enumeration, cable checks,
// the Tx ring buffers and the event bridge interfaces used by the rest of
// the firmware.
//
// Frame format (no terminator, payload length is fixed or self-describing):
//
//	[SYN 0x16][SOH 0x01][COMMAND][PAYLOAD...]
package connect

// Framing bytes
const (
	SynByte = 0x16
	SohByte = 0x01
)

// CableCheckPattern is the repeating byte of a CableCheck payload
const CableCheckPattern = 0xD2

// Special ids
const (
	IDMaster     = 0x00
	IDUnassigned = 0xFF
	IDBroadcast  = 0xFF // RemoteCapability target for every node
)

// Power budgets in mA
const (
	USBMinimumCurrent = 100
	USBMaximumCurrent = 500
)

// Frame size limits
const (
	// Longest possible frame: SYN SOH kind + ScanCode header + 255 triples
	MaxFrameSize     = 3 + 2 + 255*triggerGuideSize
	triggerGuideSize = 3
	maxHeaderSize    = 5
)

// CommandKind identifies the command carried by a frame
type CommandKind uint8

// Command values. SynByte (0x16) is reserved and never a valid command.
const (
	CableCheck CommandKind = iota
	IDRequest
	IDEnumeration
	IDReport
	ScanCode
	Animation
	RemoteCapability

	commandCount
)

// Valid reports whether k is a known command kind
func (k CommandKind) Valid() bool {
	return k < commandCount
}

// String returns the command name used in traces and the command table
func (k CommandKind) String() string {
	switch k {
	case CableCheck:
		return "CableCheck"
	case IDRequest:
		return "IdRequest"
	case IDEnumeration:
		return "IdEnumeration"
	case IDReport:
		return "IdReport"
	case ScanCode:
		return "ScanCode"
	case Animation:
		return "Animation"
	case RemoteCapability:
		return "RemoteCapability"
	default:
		return "UNKNOWN"
	}
}

// Kinds returns every valid command kind in wire order
func Kinds() []CommandKind {
	kinds := make([]CommandKind, 0, commandCount)
	for k := CommandKind(0); k < commandCount; k++ {
		kinds = append(kinds, k)
	}
	return kinds
}

// Direction selects one of the two UART links of a node
type Direction uint8

const (
	ToMaster Direction = iota
	ToSlave

	directionCount
)

// Other returns the opposite direction
func (d Direction) Other() Direction {
	if d == ToMaster {
		return ToSlave
	}
	return ToMaster
}

func (d Direction) String() string {
	switch d {
	case ToMaster:
		return "master"
	case ToSlave:
		return "slave"
	default:
		return "invalid"
	}
}

// Directions lists both directions in index order
var Directions = [directionCount]Direction{ToMaster, ToSlave}

// Role is the topological role of a node
type Role uint8

const (
	RoleSlave Role = iota
	RoleMaster
)

func (r Role) String() string {
	if r == RoleMaster {
		return "Master"
	}
	return "Slave"
}

// Override pins the role regardless of USB state (connectMst)
type Override uint8

const (
	OverrideNone Override = iota
	OverrideMaster
	OverrideSlave
)

func (o Override) String() string {
	switch o {
	case OverrideMaster:
		return "master"
	case OverrideSlave:
		return "slave"
	default:
		return "none"
	}
}

// TriggerGuide is one forwarded key transition
type TriggerGuide struct {
	Type     uint8
	State    uint8
	ScanCode uint8
}
