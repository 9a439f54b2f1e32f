// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package power tracks the USB current budget a node may draw.
package power

import (
	"github.com/Thermoquad/uartconnect/internal/syncutil"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Change is one budget adjustment
type Change struct {
	From, To uint16
}

// Budget implements connect.PowerManager. It records the current budget and
// notifies an optional listener on every change.
type Budget struct {
	mu       syncutil.Mutex
	current  uint16
	changes  uint64
	onChange func(Change)
	log      zerolog.Logger
}

var _ connect.PowerManager = (*Budget)(nil)

// NewBudget creates a budget starting at initial milliamps
func NewBudget(initial uint16) *Budget {
	return &Budget{
		current: initial,
		log:     log.With().Str("component", "power").Logger(),
	}
}

// OnChange sets the listener called after each change. It runs on the
// caller's goroutine.
func (b *Budget) OnChange(fn func(Change)) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// SetExternalCurrentBudget implements connect.PowerManager
func (b *Budget) SetExternalCurrentBudget(ma uint16) {
	b.mu.Lock()
	c := Change{From: b.current, To: ma}
	if c.From == c.To {
		b.mu.Unlock()
		return
	}
	b.current = ma
	b.changes++
	fn := b.onChange
	b.mu.Unlock()

	if c.To < c.From {
		b.log.Warn().Uint16("from_ma", c.From).Uint16("to_ma", c.To).Msg("current budget lowered")
	} else {
		b.log.Info().Uint16("from_ma", c.From).Uint16("to_ma", c.To).Msg("current budget raised")
	}
	if fn != nil {
		fn(c)
	}
}

// Current returns the budget in milliamps
func (b *Budget) Current() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Changes returns how many times the budget changed
func (b *Budget) Changes() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.changes
}
