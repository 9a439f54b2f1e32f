// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import "fmt"

// SendScanCode forwards local key transitions toward the master. On the
// master itself the entries go straight to the macro engine.
func (n *Node) SendScanCode(entries ...TriggerGuide) error {
	if n.identity.Role == RoleMaster {
		offset := n.scanCodeOffset(n.identity.ID)
		for _, e := range entries {
			e.ScanCode += offset
			n.macros.DeliverScanCode(e)
		}
		return nil
	}
	frame, err := AppendScanCode(n.compose(), n.identity.ID, entries)
	if err != nil {
		return err
	}
	return n.emit(ToMaster, frame)
}

// SendRemoteCapability requests capability index on node id. IDBroadcast
// runs it locally and on every other node of the chain.
func (n *Node) SendRemoteCapability(id, index, state, stateType uint8, args []byte) error {
	if len(args) > 0xFF {
		return fmt.Errorf("remote capability with %d args: %w", len(args), ErrPayloadTooLarge)
	}
	own := n.identity.ID
	if id == IDBroadcast || id == own {
		n.caps.Invoke(index, state, stateType, args)
		if id != IDBroadcast {
			return nil
		}
	}

	frame, err := AppendRemoteCapability(n.compose(), id, index, state, stateType, args)
	if err != nil {
		return err
	}
	switch {
	case id == IDBroadcast:
		return n.emitBoth(frame)
	case id > own:
		return n.emit(ToSlave, frame)
	default:
		return n.emit(ToMaster, frame)
	}
}

// SendAnimation sends an Animation frame on both directions
func (n *Node) SendAnimation(id uint8, params []byte) error {
	frame, err := AppendAnimation(n.compose(), id, params)
	if err != nil {
		return err
	}
	return n.emitBoth(frame)
}

// SendCommand composes a frame from manual arguments (see BuildCommand) and
// sends it the way the command normally travels
func (n *Node) SendCommand(k CommandKind, args []uint8) error {
	frame, err := BuildCommand(k, args, n.cfg.CableCheckLength)
	if err != nil {
		return err
	}
	switch k {
	case CableCheck, Animation:
		return n.emitBoth(frame)
	case IDRequest, IDReport, ScanCode:
		return n.emit(ToMaster, frame)
	case IDEnumeration:
		return n.emit(ToSlave, frame)
	case RemoteCapability:
		id := frame[3]
		switch {
		case id == IDBroadcast:
			return n.emitBoth(frame)
		case id > n.identity.ID:
			return n.emit(ToSlave, frame)
		default:
			return n.emit(ToMaster, frame)
		}
	default:
		return fmt.Errorf("0x%02X: %w", uint8(k), ErrUnknownCommand)
	}
}

// SendIdle writes count SYN bytes on both directions, forcing the peers'
// parsers back to Wait
func (n *Node) SendIdle(count int) error {
	if count <= 0 {
		return nil
	}
	if err := n.LockBoth(); err != nil {
		return err
	}
	defer func() {
		n.Unlock(ToMaster)
		n.Unlock(ToSlave)
	}()

	chunk := n.scratch[:]
	for i := range chunk {
		chunk[i] = SynByte
	}
	for _, d := range Directions {
		if capacity := n.tx[d].Cap(); len(chunk) > capacity {
			chunk = chunk[:capacity]
		}
	}
	for remaining := count; remaining > 0; {
		size := len(chunk)
		if remaining < size {
			size = remaining
		}
		for _, d := range Directions {
			if err := n.AddBytes(d, chunk[:size]); err != nil {
				return err
			}
		}
		remaining -= size
	}
	return nil
}
