// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

func (n *Node) cablePass(dir Direction) {
	h := &n.health[dir]
	h.CheckCount++
	if !h.OK && n.debug {
		n.log.Debug().Stringer("dir", dir).Msg("cable check passed")
	}
	h.OK = true
}

func (n *Node) cableFault(dir Direction, f *rxFrame, b byte) {
	h := &n.health[dir]
	h.FaultCount++
	h.OK = false

	n.log.Warn().
		Stringer("dir", dir).
		Int("offset", f.n-3-layouts[CableCheck].header).
		Hex("byte", []byte{b}).
		Uint32("faults", h.FaultCount).
		Msg("cable check failed")

	// Faults on the upstream link of an identified slave leave the budget alone
	id := n.identity.ID
	if dir == ToMaster && id != IDMaster && id != IDUnassigned {
		return
	}
	n.power.SetExternalCurrentBudget(n.cfg.USBMinimumCurrent)
}

// periodic runs the link check when the millisecond counter has every bit
// of CheckIntervalMask set, at most once per millisecond
func (n *Node) periodic() {
	mask := n.cfg.CheckIntervalMask
	ms := n.Millis()
	if ms&mask != mask {
		return
	}
	if n.checked && ms == n.lastCheck {
		return
	}
	n.checked, n.lastCheck = true, ms
	n.linkCheck()
}

// linkCheck sends a CableCheck on both directions and, while unassigned,
// asks the master for an id once the upstream link is healthy
func (n *Node) linkCheck() {
	frame := AppendCableCheck(n.compose(), n.cfg.CableCheckLength)
	if err := n.emitBoth(frame); err != nil {
		n.log.Warn().Err(err).Msg("cable check not sent")
		return
	}
	if n.identity.Role == RoleSlave && !n.identity.Assigned() && n.health[ToMaster].OK {
		n.relay(ToMaster, AppendIDRequest(n.compose()))
	}
}

// CheckLinks runs one link check immediately
func (n *Node) CheckLinks() {
	n.linkCheck()
}
