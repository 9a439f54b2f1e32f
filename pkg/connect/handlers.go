// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

// receiveFunc consumes one byte of a frame received on dir and reports
// whether the frame is complete. Zero-payload commands are called once
// with a dummy byte.
type receiveFunc func(n *Node, dir Direction, f *rxFrame, b byte) bool

var receiveFunctions = [commandCount]receiveFunc{
	CableCheck:       receiveCableCheck,
	IDRequest:        receiveIDRequest,
	IDEnumeration:    receiveIDEnumeration,
	IDReport:         receiveIDReport,
	ScanCode:         receiveScanCode,
	Animation:        receiveAnimation,
	RemoteCapability: receiveRemoteCapability,
}

func receiveCableCheck(n *Node, dir Direction, f *rxFrame, b byte) bool {
	if f.state == countingPayload && b != CableCheckPattern {
		n.cableFault(dir, f, b)
		return true
	}
	if !f.push(b) {
		return false
	}
	n.cablePass(dir)
	return true
}

func receiveIDRequest(n *Node, dir Direction, _ *rxFrame, _ byte) bool {
	if dir != ToSlave {
		n.log.Warn().Stringer("dir", dir).Msg("IdRequest from master side, dropped")
		return true
	}
	if n.identity.Role == RoleMaster {
		n.relay(ToSlave, AppendIDEnumeration(n.compose(), IDMaster+1))
		return true
	}
	n.relay(ToMaster, AppendIDRequest(n.compose()))
	return true
}

func receiveIDEnumeration(n *Node, dir Direction, f *rxFrame, b byte) bool {
	if !f.push(b) {
		return false
	}
	if dir != ToMaster {
		n.log.Warn().Stringer("dir", dir).Msg("IdEnumeration from slave side, dropped")
		return true
	}
	n.assignID(f.header()[0])
	return true
}

func receiveIDReport(n *Node, dir Direction, f *rxFrame, b byte) bool {
	if !f.push(b) {
		return false
	}
	if dir != ToSlave {
		n.log.Warn().Stringer("dir", dir).Msg("IdReport from master side, dropped")
		return true
	}
	id := f.header()[0]
	if n.identity.Role == RoleMaster {
		n.recordReport(id)
		return true
	}
	n.relay(ToMaster, f.bytes())
	return true
}

func receiveScanCode(n *Node, dir Direction, f *rxFrame, b byte) bool {
	if !f.push(b) {
		return false
	}
	if n.identity.Role == RoleMaster {
		n.deliverScanCodes(f.header()[0], f.payload())
		return true
	}
	if dir != ToSlave {
		n.log.Warn().Stringer("dir", dir).Msg("ScanCode from master side, dropped")
		return true
	}
	n.relay(ToMaster, f.bytes())
	return true
}

func receiveAnimation(n *Node, dir Direction, f *rxFrame, b byte) bool {
	if !f.push(b) {
		return false
	}
	n.animations.DeliverAnimation(f.header()[0], f.payload())
	if n.identity.Role != RoleMaster {
		n.relay(dir.Other(), f.bytes())
	}
	return true
}

func receiveRemoteCapability(n *Node, dir Direction, f *rxFrame, b byte) bool {
	if !f.push(b) {
		return false
	}
	h := f.header()
	id := h[0]
	own := n.identity.ID
	if id == IDBroadcast || id == own {
		n.caps.Invoke(h[1], h[2], h[3], f.payload())
	}
	if id == IDBroadcast || id != own {
		n.relay(dir.Other(), f.bytes())
	}
	return true
}

// deliverScanCodes hands each TriggerGuide of a ScanCode payload to the
// macro engine with the device offset applied
func (n *Node) deliverScanCodes(deviceID uint8, payload []byte) {
	offset := n.scanCodeOffset(deviceID)
	for i := 0; i+triggerGuideSize <= len(payload); i += triggerGuideSize {
		n.macros.DeliverScanCode(TriggerGuide{
			Type:     payload[i],
			State:    payload[i+1],
			ScanCode: payload[i+2] + offset,
		})
	}
}

func (n *Node) scanCodeOffset(deviceID uint8) uint8 {
	if int(deviceID) < len(n.cfg.ScanCodeOffsets) {
		return n.cfg.ScanCodeOffsets[deviceID]
	}
	return 0
}

// relay sends a frame produced while handling received data. Failures are
// already logged by the composer and do not stop the parser.
func (n *Node) relay(dir Direction, frame []byte) {
	if err := n.emit(dir, frame); err != nil {
		n.log.Warn().
			Err(err).
			Stringer("dir", dir).
			Stringer("kind", CommandKind(frame[2])).
			Msg("frame not sent")
	}
}
