// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// ============================================================
// Test Helpers
// ============================================================

// fakeTransport feeds scripted Rx bytes and records everything sent
type fakeTransport struct {
	rx    [directionCount][]byte
	tx    [directionCount][]byte
	space [directionCount]int // negative means unlimited
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{space: [directionCount]int{-1, -1}}
}

func (f *fakeTransport) RxAvailable(d Direction) int { return len(f.rx[d]) }

func (f *fakeTransport) RxByte(d Direction) byte {
	b := f.rx[d][0]
	f.rx[d] = f.rx[d][1:]
	return b
}

func (f *fakeTransport) TxSpace(d Direction) int {
	if f.space[d] < 0 {
		return 1 << 16
	}
	return f.space[d]
}

func (f *fakeTransport) TxByte(d Direction, b byte) {
	f.tx[d] = append(f.tx[d], b)
	if f.space[d] > 0 {
		f.space[d]--
	}
}

func (f *fakeTransport) feed(d Direction, p ...byte) {
	f.rx[d] = append(f.rx[d], p...)
}

// take returns and clears the bytes sent on d
func (f *fakeTransport) take(d Direction) []byte {
	out := f.tx[d]
	f.tx[d] = nil
	return out
}

// recorder captures every collaborator call
type recorder struct {
	scanCodes  []TriggerGuide
	calls      []RemoteCall
	budgets    []uint16
	animations []RemoteCall // ID and Args reused for animation id and params
}

func (r *recorder) DeliverScanCode(g TriggerGuide) { r.scanCodes = append(r.scanCodes, g) }

func (r *recorder) Invoke(index, state, stateType uint8, args []byte) {
	r.calls = append(r.calls, RemoteCall{
		Capability: index,
		State:      state,
		StateType:  stateType,
		Args:       append([]byte(nil), args...),
	})
}

func (r *recorder) SetExternalCurrentBudget(ma uint16) { r.budgets = append(r.budgets, ma) }

func (r *recorder) DeliverAnimation(id uint8, params []byte) {
	r.animations = append(r.animations, RemoteCall{ID: id, Args: append([]byte(nil), params...)})
}

// tb is the part of testing.TB that rapid.T also provides
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type testNode struct {
	*Node
	wire  *fakeTransport
	rec   *recorder
	clock *clockwork.FakeClock
}

// newTestNode builds a node on a fake transport and fake clock
func newTestNode(t tb, cfg Config, opts ...Option) *testNode {
	t.Helper()
	wire := newFakeTransport()
	rec := &recorder{}
	clock := clockwork.NewFakeClock()
	base := []Option{
		WithClock(clock),
		WithLogger(zerolog.Nop()),
		WithMacroEngine(rec),
		WithCapabilities(rec),
		WithPower(rec),
		WithAnimationSink(rec),
	}
	n := NewNode(cfg, wire, append(base, opts...)...)
	return &testNode{Node: n, wire: wire, rec: rec, clock: clock}
}

func newMaster(t tb) *testNode {
	t.Helper()
	return newTestNode(t, Config{Master: true})
}

func newSlave(t tb) *testNode {
	t.Helper()
	return newTestNode(t, Config{})
}

// receive feeds p on dir and runs one Process pass
func (tn *testNode) receive(dir Direction, p ...byte) {
	tn.wire.feed(dir, p...)
	tn.Process()
}

// healthy marks dir as having passed a cable check
func (tn *testNode) healthy(dir Direction) {
	tn.receive(dir, AppendCableCheck(nil, 1)...)
	tn.wire.take(ToMaster)
	tn.wire.take(ToSlave)
}

func mustScanCode(t tb, device uint8, entries ...TriggerGuide) []byte {
	t.Helper()
	frame, err := AppendScanCode(nil, device, entries)
	if err != nil {
		t.Fatalf("AppendScanCode failed: %v", err)
	}
	return frame
}

func mustRemote(t tb, id, index, state, stateType uint8, args ...byte) []byte {
	t.Helper()
	frame, err := AppendRemoteCapability(nil, id, index, state, stateType, args)
	if err != nil {
		t.Fatalf("AppendRemoteCapability failed: %v", err)
	}
	return frame
}
