// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

// Transport moves raw bytes for both directions of a node. Receive bytes are
// buffered by the transport (DMA ring on hardware) and drained by Process.
type Transport interface {
	// RxAvailable returns how many received bytes are ready for RxByte
	RxAvailable(dir Direction) int
	// RxByte pops the next received byte
	RxByte(dir Direction) byte
	// TxSpace returns how many bytes TxByte accepts without blocking
	TxSpace(dir Direction) int
	// TxByte queues one byte for transmission
	TxByte(dir Direction, b byte)
}

// MacroEngine consumes key transitions forwarded to the master
type MacroEngine interface {
	DeliverScanCode(TriggerGuide)
}

// CapabilityTable executes capabilities requested by RemoteCapability frames.
// args is only valid for the duration of the call.
type CapabilityTable interface {
	Invoke(index, state, stateType uint8, args []byte)
}

// PowerManager adjusts how much current the node may draw from USB
type PowerManager interface {
	SetExternalCurrentBudget(ma uint16)
}

// AnimationSink receives Animation frames. params is only valid for the
// duration of the call.
type AnimationSink interface {
	DeliverAnimation(id uint8, params []byte)
}

// MacroEngineFunc adapts a function to MacroEngine
type MacroEngineFunc func(TriggerGuide)

// DeliverScanCode implements MacroEngine
func (f MacroEngineFunc) DeliverScanCode(g TriggerGuide) { f(g) }

// CapabilityFunc adapts a function to CapabilityTable
type CapabilityFunc func(index, state, stateType uint8, args []byte)

// Invoke implements CapabilityTable
func (f CapabilityFunc) Invoke(index, state, stateType uint8, args []byte) {
	f(index, state, stateType, args)
}

// PowerFunc adapts a function to PowerManager
type PowerFunc func(ma uint16)

// SetExternalCurrentBudget implements PowerManager
func (f PowerFunc) SetExternalCurrentBudget(ma uint16) { f(ma) }

type nopCollaborator struct{}

func (nopCollaborator) DeliverScanCode(TriggerGuide) {}
func (nopCollaborator) Invoke(_, _, _ uint8, _ []byte) {}
func (nopCollaborator) SetExternalCurrentBudget(uint16) {}
func (nopCollaborator) DeliverAnimation(uint8, []byte) {}
func (nopCollaborator) RxAvailable(Direction) int { return 0 }
func (nopCollaborator) RxByte(Direction) byte { return 0 }
func (nopCollaborator) TxSpace(Direction) int { return MaxFrameSize }
func (nopCollaborator) TxByte(Direction, byte) {}
