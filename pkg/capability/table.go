// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package capability implements the indexed dispatch table that executes
// RemoteCapability requests.
package capability

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Thermoquad/uartconnect/internal/syncutil"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultSlots is the table size used when none is given
const DefaultSlots = 32

// AnyArgs disables the argument count check of a capability
const AnyArgs = -1

var (
	// ErrTableFull is returned when every slot is taken
	ErrTableFull = errors.New("capability table full")
	// ErrDuplicate is returned when a name is registered twice
	ErrDuplicate = errors.New("capability already registered")
)

// Call is one capability invocation. Args is only valid during the call.
type Call struct {
	Index     uint8
	State     uint8
	StateType uint8
	Args      []byte
}

// Func executes a capability
type Func func(Call)

// Capability is one table entry
type Capability struct {
	Name string
	// Args is the number of argument bytes the capability expects, or AnyArgs
	Args int
	Func Func
}

// Entry is a registered capability with its index
type Entry struct {
	Index uint8
	Capability
}

// Stats counts dispatch outcomes
type Stats struct {
	Invoked  uint64
	Unknown  uint64
	Rejected uint64
}

// Table maps capability indices to functions. Registration may happen while
// a node is dispatching.
type Table struct {
	mu      syncutil.RWMutex
	entries []Capability
	slots   int
	stats   Stats
	log     zerolog.Logger
}

var _ connect.CapabilityTable = (*Table)(nil)

// NewTable creates a table with a fixed number of slots
func NewTable(slots int) *Table {
	if slots <= 0 {
		slots = DefaultSlots
	}
	if slots > 0x100 {
		slots = 0x100
	}
	return &Table{
		entries: make([]Capability, 0, slots),
		slots:   slots,
		log:     log.With().Str("component", "capability").Logger(),
	}
}

// Register appends a capability and returns its index. When the table is
// full the entry is ignored with a warning.
func (t *Table) Register(c Capability) (uint8, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		if e.Name == c.Name {
			return 0, fmt.Errorf("%s: %w", c.Name, ErrDuplicate)
		}
	}
	if len(t.entries) >= t.slots {
		t.log.Warn().Str("name", c.Name).Int("slots", t.slots).Msg("capability table full, entry ignored")
		return 0, fmt.Errorf("%s: %w", c.Name, ErrTableFull)
	}
	t.entries = append(t.entries, c)
	return uint8(len(t.entries) - 1), nil
}

// Lookup finds a capability index by name
func (t *Table) Lookup(name string) (uint8, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i, e := range t.entries {
		if e.Name == name {
			return uint8(i), true
		}
	}
	return 0, false
}

// Invoke implements connect.CapabilityTable. Unknown indices and argument
// count mismatches are logged and dropped.
func (t *Table) Invoke(index, state, stateType uint8, args []byte) {
	t.mu.RLock()
	if int(index) >= len(t.entries) {
		t.mu.RUnlock()
		t.count(func(s *Stats) { s.Unknown++ })
		t.log.Warn().Uint8("index", index).Msg("unknown capability")
		return
	}
	c := t.entries[index]
	t.mu.RUnlock()

	if c.Args != AnyArgs && c.Args != len(args) {
		t.count(func(s *Stats) { s.Rejected++ })
		t.log.Warn().Str("name", c.Name).Int("want", c.Args).Int("got", len(args)).
			Msg("capability argument count mismatch")
		return
	}

	t.count(func(s *Stats) { s.Invoked++ })
	t.log.Debug().Str("name", c.Name).Uint8("state", state).Uint8("state_type", stateType).
		Hex("args", args).Msg("capability")
	if c.Func != nil {
		c.Func(Call{Index: index, State: state, StateType: stateType, Args: args})
	}
}

func (t *Table) count(fn func(*Stats)) {
	t.mu.Lock()
	fn(&t.stats)
	t.mu.Unlock()
}

// Stats returns a snapshot of the dispatch counters
func (t *Table) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.stats
}

// List returns the registered capabilities in index order
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	for i, c := range t.entries {
		out[i] = Entry{Index: uint8(i), Capability: c}
	}
	return out
}

// Format renders the table for the console
func (t *Table) Format() string {
	entries := t.List()
	if len(entries) == 0 {
		return "No capabilities registered\n"
	}
	var b strings.Builder
	for _, e := range entries {
		args := "any"
		if e.Args != AnyArgs {
			args = fmt.Sprintf("%d", e.Args)
		}
		fmt.Fprintf(&b, "%3d  %-20s args=%s\n", e.Index, e.Name, args)
	}
	return b.String()
}
