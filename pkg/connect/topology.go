// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"fmt"
	"strings"
)

// Identity returns the role and id of the node
func (n *Node) Identity() Identity {
	return n.identity
}

func (n *Node) assignID(id uint8) {
	if n.identity.Role == RoleMaster {
		n.log.Warn().Uint8("id", id).Msg("master ignores IdEnumeration")
		return
	}
	n.identity.ID = id
	n.log.Info().Uint8("id", id).Msg("id assigned")

	n.relay(ToMaster, AppendIDReport(n.compose(), id))
	if id != IDMaster {
		n.power.SetExternalCurrentBudget(n.cfg.AssignedCurrent)
	}

	// Stop at the end of the chain and before the next id would collide
	// with the unassigned marker
	if !n.health[ToSlave].OK || id >= IDUnassigned-1 {
		return
	}
	n.relay(ToSlave, AppendIDEnumeration(n.compose(), id+1))
}

func (n *Node) recordReport(id uint8) {
	if id > n.identity.MaxID {
		n.identity.MaxID = id
	}
	n.log.Info().Uint8("id", id).Uint8("max_id", n.identity.MaxID).Msg("id reported")
}

// SetUSBActive reports host USB state. A slave that gains USB promotes
// itself to Master(0) unless its role is overridden; no protocol reset is
// performed.
func (n *Node) SetUSBActive(active bool) {
	if !active || n.identity.Role == RoleMaster || n.identity.Override != OverrideNone {
		return
	}
	n.identity.ID = IDMaster
	n.identity.Role = RoleMaster
	n.identity.MaxID = 0
	n.log.Info().Msg("usb active, promoted to master")
}

// SetOverride pins or releases the role
func (n *Node) SetOverride(o Override) {
	switch o {
	case OverrideMaster:
		n.identity = Identity{ID: IDMaster, Role: RoleMaster, Override: OverrideMaster}
	case OverrideSlave:
		n.identity = Identity{ID: IDUnassigned, Role: RoleSlave, Override: OverrideSlave}
	default:
		n.identity.Override = OverrideNone
	}
	n.log.Info().
		Stringer("override", n.identity.Override).
		Stringer("role", n.identity.Role).
		Msg("role override")
}

// ParseOverride accepts the connectMst arguments m, s and d
func ParseOverride(s string) (Override, error) {
	switch strings.ToLower(s) {
	case "m", "master":
		return OverrideMaster, nil
	case "s", "slave":
		return OverrideSlave, nil
	case "d", "default", "none":
		return OverrideNone, nil
	default:
		return OverrideNone, fmt.Errorf("role override %q: want m, s or d", s)
	}
}
