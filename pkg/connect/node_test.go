// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Setup Tests
// ============================================================

func TestNewNode_Defaults(t *testing.T) {
	n := newSlave(t)
	cfg := n.Config()

	assert.Equal(t, DefaultConfig().TxBufferSize, cfg.TxBufferSize)
	assert.Equal(t, DefaultConfig().CheckIntervalMask, cfg.CheckIntervalMask)
	assert.Equal(t, Identity{ID: IDUnassigned, Role: RoleSlave}, n.Identity())
	for _, d := range Directions {
		assert.Equal(t, RxWait, n.RxChannel(d).Status())
		assert.Equal(t, cfg.TxBufferSize, n.TxChannel(d).Cap())
		assert.False(t, n.Health(d).OK, "links start unhealthy")
	}
}

func TestNewNode_Master(t *testing.T) {
	n := newMaster(t)

	assert.Equal(t, uint8(IDMaster), n.Identity().ID)
	assert.Equal(t, RoleMaster, n.Identity().Role)
	assert.Equal(t, OverrideMaster, n.Identity().Override)
}

// ============================================================
// Link Health Monitor Tests
// ============================================================

func TestPeriodic_FiresOnMask(t *testing.T) {
	n := newTestNode(t, Config{CheckIntervalMask: 0x3, CableCheckLength: 4})
	check := AppendCableCheck(nil, 4)

	n.Process()
	assert.Empty(t, n.wire.take(ToMaster), "counter 0 does not match the mask")

	n.clock.Advance(3 * time.Millisecond)
	n.Process()
	assert.Equal(t, check, n.wire.take(ToMaster))
	assert.Equal(t, check, n.wire.take(ToSlave))

	n.Process()
	assert.Empty(t, n.wire.take(ToMaster), "at most once per millisecond")

	n.clock.Advance(time.Millisecond)
	n.Process()
	assert.Empty(t, n.wire.take(ToMaster))

	n.clock.Advance(3 * time.Millisecond)
	n.Process()
	assert.Equal(t, check, n.wire.take(ToSlave))
}

func TestPeriodic_ZeroMaskUsesDefault(t *testing.T) {
	n := newTestNode(t, Config{CheckIntervalMask: 0, CableCheckLength: 1})
	assert.Equal(t, DefaultConfig().CheckIntervalMask, n.Config().CheckIntervalMask)

	for i := 0; i < 8; i++ {
		n.Process()
		n.clock.Advance(time.Millisecond)
	}
	assert.Empty(t, n.wire.take(ToMaster), "no check before the default interval")
	assert.Empty(t, n.wire.take(ToSlave))
}

func TestPeriodic_UnassignedSlaveRequestsID(t *testing.T) {
	n := newTestNode(t, Config{CheckIntervalMask: 0x1, CableCheckLength: 1})
	check := AppendCableCheck(nil, 1)

	n.clock.Advance(time.Millisecond)
	n.Process()
	assert.Equal(t, check, n.wire.take(ToMaster), "no IdRequest before the upstream link is healthy")

	n.healthy(ToMaster)
	n.clock.Advance(2 * time.Millisecond)
	n.Process()
	assert.Equal(t, append(check, AppendIDRequest(nil)...), n.wire.take(ToMaster))
	assert.Equal(t, check, n.wire.take(ToSlave))

	n.receive(ToMaster, AppendIDEnumeration(nil, 1)...)
	n.wire.take(ToMaster)
	n.clock.Advance(2 * time.Millisecond)
	n.Process()
	assert.Equal(t, check, n.wire.take(ToMaster), "assigned slaves stop asking")
}

func TestCheckLinks_MasterNeverRequests(t *testing.T) {
	n := newMaster(t)
	n.healthy(ToMaster)

	n.CheckLinks()
	n.Process()

	assert.Equal(t, AppendCableCheck(nil, 2), n.wire.take(ToMaster))
}

// ============================================================
// Topology Tests
// ============================================================

func TestSetUSBActive_PromotesSlave(t *testing.T) {
	n := newSlave(t)
	n.receive(ToMaster, AppendIDEnumeration(nil, 2)...)

	n.SetUSBActive(true)

	assert.Equal(t, Identity{ID: IDMaster, Role: RoleMaster}, n.Identity())
}

func TestSetUSBActive_RespectsOverride(t *testing.T) {
	n := newSlave(t)
	n.SetOverride(OverrideSlave)

	n.SetUSBActive(true)
	assert.Equal(t, RoleSlave, n.Identity().Role)

	n.SetOverride(OverrideNone)
	n.SetUSBActive(true)
	assert.Equal(t, RoleMaster, n.Identity().Role)
}

func TestSetUSBActive_InactiveIsNoop(t *testing.T) {
	n := newSlave(t)
	n.SetUSBActive(false)
	assert.Equal(t, RoleSlave, n.Identity().Role)
}

func TestSetOverride(t *testing.T) {
	n := newSlave(t)

	n.SetOverride(OverrideMaster)
	assert.Equal(t, Identity{ID: IDMaster, Role: RoleMaster, Override: OverrideMaster}, n.Identity())

	n.SetOverride(OverrideSlave)
	assert.Equal(t, Identity{ID: IDUnassigned, Role: RoleSlave, Override: OverrideSlave}, n.Identity())

	n.SetOverride(OverrideNone)
	assert.Equal(t, OverrideNone, n.Identity().Override)
	assert.Equal(t, RoleSlave, n.Identity().Role, "releasing keeps the current role")
}

func TestParseOverride(t *testing.T) {
	tests := []struct {
		in      string
		want    Override
		wantErr bool
	}{
		{"m", OverrideMaster, false},
		{"S", OverrideSlave, false},
		{"d", OverrideNone, false},
		{"x", OverrideNone, true},
	}
	for _, tt := range tests {
		got, err := ParseOverride(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseOverride(%q) error = %v, wantErr %t", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseOverride(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

// ============================================================
// Origination Tests
// ============================================================

func TestSendScanCode_MasterDeliversLocally(t *testing.T) {
	n := newTestNode(t, Config{Master: true, ScanCodeOffsets: []uint8{0x40}})

	require.NoError(t, n.SendScanCode(TriggerGuide{1, 1, 0x02}))
	n.Process()

	assert.Equal(t, []TriggerGuide{{1, 1, 0x42}}, n.rec.scanCodes)
	assert.Empty(t, n.wire.take(ToMaster))
}

func TestSendScanCode_SlaveUsesOwnID(t *testing.T) {
	n := newSlave(t)
	n.receive(ToMaster, AppendIDEnumeration(nil, 3)...)
	n.wire.take(ToMaster)

	require.NoError(t, n.SendScanCode(TriggerGuide{1, 1, 0x02}))
	n.Process()

	assert.Equal(t, mustScanCode(t, 3, TriggerGuide{1, 1, 0x02}), n.wire.take(ToMaster))
}

func TestSendRemoteCapability_Routing(t *testing.T) {
	tests := []struct {
		name    string
		target  uint8
		invoked bool
		sent    []Direction
	}{
		{"own id", 2, true, nil},
		{"broadcast", IDBroadcast, true, []Direction{ToMaster, ToSlave}},
		{"downstream", 5, false, []Direction{ToSlave}},
		{"upstream", 1, false, []Direction{ToMaster}},
		{"master", IDMaster, false, []Direction{ToMaster}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newSlave(t)
			n.identity.ID = 2

			require.NoError(t, n.SendRemoteCapability(tt.target, 1, 1, 0, []byte{9}))
			n.Process()

			assert.Equal(t, tt.invoked, len(n.rec.calls) == 1)
			frame := mustRemote(t, tt.target, 1, 1, 0, 9)
			for _, d := range Directions {
				out := n.wire.take(d)
				want := containsDir(tt.sent, d)
				if want {
					assert.Equal(t, frame, out, "toward %s", d)
				} else {
					assert.Empty(t, out, "toward %s", d)
				}
			}
		})
	}
}

func containsDir(dirs []Direction, d Direction) bool {
	for _, x := range dirs {
		if x == d {
			return true
		}
	}
	return false
}

func TestSendRemoteCapability_TooManyArgs(t *testing.T) {
	n := newSlave(t)
	err := n.SendRemoteCapability(IDBroadcast, 0, 0, 0, make([]byte, 256))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, n.rec.calls)
}

func TestSendCommand_Routing(t *testing.T) {
	tests := []struct {
		kind CommandKind
		args []uint8
		dirs []Direction
	}{
		{CableCheck, nil, []Direction{ToMaster, ToSlave}},
		{IDRequest, nil, []Direction{ToMaster}},
		{IDEnumeration, []uint8{1}, []Direction{ToSlave}},
		{IDReport, []uint8{1}, []Direction{ToMaster}},
		{ScanCode, []uint8{1, 0, 1, 4}, []Direction{ToMaster}},
		{Animation, []uint8{1, 2}, []Direction{ToMaster, ToSlave}},
		{RemoteCapability, []uint8{0xFF, 1, 1, 0}, []Direction{ToMaster, ToSlave}},
		{RemoteCapability, []uint8{4, 1, 1, 0}, []Direction{ToSlave}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			n := newSlave(t)
			n.identity.ID = 2
			want, err := BuildCommand(tt.kind, tt.args, n.Config().CableCheckLength)
			require.NoError(t, err)

			require.NoError(t, n.SendCommand(tt.kind, tt.args))
			n.Process()

			for _, d := range Directions {
				out := n.wire.take(d)
				if containsDir(tt.dirs, d) {
					assert.Equal(t, want, out, "toward %s", d)
				} else {
					assert.Empty(t, out, "toward %s", d)
				}
			}
		})
	}
}

func TestSendCommand_MissingArgument(t *testing.T) {
	n := newSlave(t)
	assert.ErrorIs(t, n.SendCommand(IDEnumeration, nil), ErrMissingArgument)
}

func TestSendIdle(t *testing.T) {
	n := newTestNode(t, Config{TxBufferSize: 16})

	require.NoError(t, n.SendIdle(40))
	n.Process()

	for _, d := range Directions {
		out := n.wire.take(d)
		assert.Equal(t, bytes.Repeat([]byte{SynByte}, 40), out, "toward %s", d)
		assert.False(t, n.TxChannel(d).Locked())
	}
}

// ============================================================
// Status Tests
// ============================================================

func TestStatus_Snapshot(t *testing.T) {
	n := newMaster(t)
	n.receive(ToSlave, AppendIDReport(nil, 4)...)
	n.receive(ToSlave, AppendCableCheck(nil, 2)...)
	n.receive(ToSlave, SynByte, SohByte, byte(CableCheck), 2, 0x00)

	st := n.Status()

	assert.Equal(t, uint8(4), st.Identity.MaxID)
	link := st.Links[ToSlave]
	assert.Equal(t, ToSlave, link.Direction)
	assert.Equal(t, LinkHealth{FaultCount: 1, CheckCount: 1, OK: false}, link.Health)
	assert.Equal(t, TxReady, link.Tx)

	out := FormatStatus(st)
	for _, want := range []string{"Role:     Master", "Max ID:   4", "To slave:", "checks=1 faults=1"} {
		assert.True(t, strings.Contains(out, want), "missing %q in:\n%s", want, out)
	}
}
