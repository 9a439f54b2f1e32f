// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"fmt"
	"strings"
)

// FormatFrame formats a frame into a human-readable string
func FormatFrame(f *Frame) string {
	timestamp := f.Timestamp.Format("15:04:05.000")
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n", timestamp, f.Kind, uint8(f.Kind), f.Len())
	result += FormatFields(f)
	return result
}

// FormatFields returns the decoded header and payload, one field per line
func FormatFields(f *Frame) string {
	var b strings.Builder
	switch f.Kind {
	case CableCheck:
		fmt.Fprintf(&b, "  length: %d\n", len(f.Payload))
	case IDEnumeration:
		fmt.Fprintf(&b, "  assign_id: %d\n", f.Header[0])
	case IDReport:
		fmt.Fprintf(&b, "  report_id: %d\n", f.Header[0])
	case ScanCode:
		fmt.Fprintf(&b, "  device_id: %d\n", f.Header[0])
		for i, e := range f.Entries() {
			fmt.Fprintf(&b, "  [%d] %s\n", i, FormatTriggerGuide(e))
		}
	case Animation:
		fmt.Fprintf(&b, "  id: %d\n", f.Header[0])
		if len(f.Payload) > 0 {
			fmt.Fprintf(&b, "  params: % X\n", f.Payload)
		}
	case RemoteCapability:
		rc, _ := f.Remote()
		target := fmt.Sprintf("%d", rc.ID)
		if rc.ID == IDBroadcast {
			target = "broadcast"
		}
		fmt.Fprintf(&b, "  id: %s\n", target)
		fmt.Fprintf(&b, "  capability: %d state: 0x%02X state_type: 0x%02X\n", rc.Capability, rc.State, rc.StateType)
		if len(rc.Args) > 0 {
			fmt.Fprintf(&b, "  args: % X\n", rc.Args)
		}
	}
	return b.String()
}

// FormatTriggerGuide formats one forwarded key transition
func FormatTriggerGuide(g TriggerGuide) string {
	return fmt.Sprintf("type=0x%02X state=0x%02X scancode=0x%02X", g.Type, g.State, g.ScanCode)
}

// FormatCommandTable lists every command with its value and header size
func FormatCommandTable() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-4s %-18s %s\n", "ID", "Command", "Header")
	for _, k := range Kinds() {
		fmt.Fprintf(&b, "0x%02X %-18s %d\n", uint8(k), k, HeaderSize(k))
	}
	return b.String()
}

// FormatStatus renders a node snapshot the way connectSts prints it
func FormatStatus(st Status) string {
	var b strings.Builder
	id := st.Identity
	fmt.Fprintf(&b, "Role:     %s (override: %s)\n", id.Role, id.Override)
	if id.Assigned() {
		fmt.Fprintf(&b, "ID:       %d\n", id.ID)
	} else {
		fmt.Fprintf(&b, "ID:       unassigned\n")
	}
	if id.Role == RoleMaster {
		fmt.Fprintf(&b, "Max ID:   %d\n", id.MaxID)
	}
	fmt.Fprintf(&b, "Debug:    %t\n", st.Debug)
	fmt.Fprintf(&b, "Uptime:   %d ms\n", st.Millis)
	for _, l := range st.Links {
		fmt.Fprintf(&b, "To %s:\n", l.Direction)
		fmt.Fprintf(&b, "  Rx:      %s", l.Rx)
		if l.Rx == RxCommand {
			fmt.Fprintf(&b, " (%s)", l.Pending)
		}
		b.WriteByte('\n')
		fmt.Fprintf(&b, "  Tx:      %s locked=%t queued=%d/%d\n", l.Tx, l.Locked, l.Queued, l.Capacity)
		fmt.Fprintf(&b, "  Health:  ok=%t checks=%d faults=%d\n", l.Health.OK, l.Health.CheckCount, l.Health.FaultCount)
	}
	return b.String()
}
