// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package chain

import (
	"context"
	"testing"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func fastLinks(t *Topology) {
	mask := uint32(0x3)
	t.Link.CheckIntervalMask = &mask
}

func newTestChain(t *testing.T, n int) *Chain {
	t.Helper()
	topo := Linear(n)
	fastLinks(&topo)
	topo.Capabilities = []string{"probe"}
	c, err := New(topo, WithClock(clockwork.NewFakeClock()), WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	return c
}

func enumerated(c *Chain) func() bool {
	return func() bool {
		master := c.At(0).Node.Identity()
		for i := 1; i < c.Len(); i++ {
			if c.At(i).Node.Identity().ID != uint8(i) {
				return false
			}
		}
		return master.MaxID == uint8(c.Len()-1)
	}
}

func TestChain_Enumeration(t *testing.T) {
	c := newTestChain(t, 3)

	require.True(t, c.StepUntil(200, enumerated(c)), "chain did not enumerate")

	master, a, b := c.At(0).Node.Identity(), c.At(1).Node.Identity(), c.At(2).Node.Identity()
	assert.Equal(t, connect.RoleMaster, master.Role)
	assert.Equal(t, uint8(0), master.ID)
	assert.Equal(t, uint8(2), master.MaxID)
	assert.Equal(t, uint8(1), a.ID)
	assert.Equal(t, uint8(2), b.ID)
	assert.Equal(t, connect.RoleSlave, b.Role)

	// Assigned slaves raise their budget
	assert.Equal(t, uint16(connect.USBMaximumCurrent), c.At(2).Power.Current())
}

func TestChain_LinksHealthy(t *testing.T) {
	c := newTestChain(t, 3)
	for i := 0; i < 40; i++ {
		c.Step()
	}

	for _, m := range c.Members() {
		if m.Index > 0 {
			h := m.Node.Health(connect.ToMaster)
			assert.True(t, h.OK, "%s upstream", m.Name)
			assert.Zero(t, h.FaultCount, "%s upstream", m.Name)
		}
		if m.Index < c.Len()-1 {
			assert.True(t, m.Node.Health(connect.ToSlave).OK, "%s downstream", m.Name)
		}
	}
}

func TestChain_BroadcastFromMiddle(t *testing.T) {
	c := newTestChain(t, 3)
	require.True(t, c.StepUntil(200, enumerated(c)))

	middle := c.At(1)
	idx, ok := middle.Capabilities.Lookup("probe")
	require.True(t, ok)
	require.NoError(t, middle.Node.SendRemoteCapability(connect.IDBroadcast, idx, 1, 0, []byte{0x42}))

	for i := 0; i < 50; i++ {
		c.Step()
	}

	for _, m := range c.Members() {
		assert.Equal(t, uint64(1), m.Capabilities.Stats().Invoked, "%s runs the broadcast once", m.Name)
	}
}

func TestChain_TargetedCapability(t *testing.T) {
	c := newTestChain(t, 3)
	require.True(t, c.StepUntil(200, enumerated(c)))

	require.NoError(t, c.At(0).Node.SendRemoteCapability(2, 0, 1, 0, nil))
	for i := 0; i < 20; i++ {
		c.Step()
	}

	assert.Zero(t, c.At(0).Capabilities.Stats().Invoked)
	assert.Zero(t, c.At(1).Capabilities.Stats().Invoked)
	assert.Equal(t, uint64(1), c.At(2).Capabilities.Stats().Invoked)
}

func TestChain_ScanCodesReachMaster(t *testing.T) {
	c := newTestChain(t, 3)
	require.True(t, c.StepUntil(200, enumerated(c)))
	c.At(0).Events.Drain()

	require.NoError(t, c.At(2).Node.SendScanCode(connect.TriggerGuide{Type: 0, State: 1, ScanCode: 0x21}))
	require.True(t, c.StepUntil(20, func() bool { return c.At(0).Events.Len() > 0 }))

	got := c.At(0).Events.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, uint8(0x21), got[0].Guide.ScanCode)
	assert.Zero(t, c.At(1).Events.Len(), "slaves only relay")
}

func TestChain_Lookup(t *testing.T) {
	c := newTestChain(t, 2)
	m, ok := c.Member("node1")
	require.True(t, ok)
	assert.Equal(t, 1, m.Index)
	_, ok = c.Member("missing")
	assert.False(t, ok)
}

func TestChain_Run(t *testing.T) {
	topo := Linear(2)
	fastLinks(&topo)
	c, err := New(topo, WithLogger(zerolog.Nop()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		st, err := c.At(1).Loop.Status(ctx)
		return err == nil && st.Identity.ID == 1
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

// ============================================================
// Topology Tests
// ============================================================

func TestParseTopology(t *testing.T) {
	topo, err := ParseTopology([]byte(`
nodes:
  - name: host
    usb: true
  - name: left
  - override: s
link:
  check_interval_mask: 0x7
capabilities: [ledToggle, layerShift]
`))
	require.NoError(t, err)

	require.Len(t, topo.Nodes, 3)
	assert.Equal(t, "node2", topo.Nodes[2].Name)
	assert.True(t, topo.Nodes[0].USB)
	require.NotNil(t, topo.Link.CheckIntervalMask)
	assert.Equal(t, uint32(7), *topo.Link.CheckIntervalMask)
	assert.Equal(t, 2*connect.MaxFrameSize, topo.Link.BufferSize)
	assert.Equal(t, []string{"ledToggle", "layerShift"}, topo.Capabilities)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"empty", "nodes: []", "no nodes"},
		{"duplicate", "nodes: [{name: a}, {name: a}]", "already used"},
		{"override", "nodes: [{override: boss}]", "role override"},
		{"small buffer", "nodes: [{}]\nlink: {buffer_size: 8}", "smaller than a frame"},
		{"zero check mask", "nodes: [{}]\nlink: {check_interval_mask: 0}", "check_interval_mask"},
		{"bad yaml", "nodes: [", "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTopology([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLinear(t *testing.T) {
	topo := Linear(3)
	require.NoError(t, Validate(&topo))
	assert.True(t, topo.Nodes[0].USB)
	assert.False(t, topo.Nodes[1].USB)
	assert.Equal(t, "node1", topo.Nodes[1].Name)
}
