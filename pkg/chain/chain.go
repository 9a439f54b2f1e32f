// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package chain wires several nodes together over in-memory cables so a
// whole keyboard chain can be simulated on the host.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/capability"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/Thermoquad/uartconnect/pkg/events"
	"github.com/Thermoquad/uartconnect/pkg/power"
	"github.com/Thermoquad/uartconnect/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Member is one node of the chain with its host-side collaborators
type Member struct {
	Name         string
	Index        int
	Node         *connect.Node
	Loop         *connect.Loop
	Events       *events.Queue
	Capabilities *capability.Table
	Power        *power.Budget
	Transport    *transport.Pair
}

// Chain is a line of nodes. Member 0 sits at the master end; the ToSlave
// port of each member is cabled to the ToMaster port of the next.
type Chain struct {
	members  []*Member
	byName   map[string]*Member
	clock    clockwork.Clock
	interval time.Duration
	log      zerolog.Logger
}

// Option configures a chain
type Option func(*Chain)

// WithClock drives every node from c. Step advances it when it is a fake clock.
func WithClock(c clockwork.Clock) Option {
	return func(ch *Chain) { ch.clock = c }
}

// WithLogger sets the base logger of the nodes
func WithLogger(l zerolog.Logger) Option {
	return func(ch *Chain) { ch.log = l }
}

// WithInterval sets the polling interval used by Run
func WithInterval(d time.Duration) Option {
	return func(ch *Chain) { ch.interval = d }
}

// New builds the chain described by topo
func New(topo Topology, opts ...Option) (*Chain, error) {
	if err := Validate(&topo); err != nil {
		return nil, err
	}
	Normalize(&topo)

	c := &Chain{
		byName:   make(map[string]*Member, len(topo.Nodes)),
		clock:    clockwork.NewRealClock(),
		interval: time.Millisecond,
		log:      log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	cfg := connect.Config{
		TxBufferSize:     topo.Link.TxBufferSize,
		CableCheckLength: topo.Link.CableCheckLength,
	}
	cfg.CheckIntervalMask = connect.DefaultConfig().CheckIntervalMask
	if topo.Link.CheckIntervalMask != nil {
		cfg.CheckIntervalMask = *topo.Link.CheckIntervalMask
	}

	var upstream transport.Port
	for i, ns := range topo.Nodes {
		var downstream, next transport.Port
		if i < len(topo.Nodes)-1 {
			downstream, next = transport.NewLink(topo.Link.BufferSize)
		}

		m := &Member{
			Name:         ns.Name,
			Index:        i,
			Events:       events.NewQueue(0, c.clock),
			Capabilities: capability.NewTable(0),
			Power:        power.NewBudget(0),
			Transport:    transport.NewPair(upstream, downstream),
		}
		for _, name := range topo.Capabilities {
			if _, err := m.Capabilities.Register(capability.Capability{
				Name: name,
				Args: capability.AnyArgs,
				Func: capability.LogFunc(name),
			}); err != nil {
				return nil, fmt.Errorf("node %s: %w", ns.Name, err)
			}
		}

		m.Node = connect.NewNode(cfg, m.Transport,
			connect.WithClock(c.clock),
			connect.WithLogger(c.log.With().Str("node", ns.Name).Logger()),
			connect.WithMacroEngine(m.Events),
			connect.WithAnimationSink(m.Events),
			connect.WithCapabilities(m.Capabilities),
			connect.WithPower(m.Power),
		)
		if ns.Override != "" {
			o, _ := connect.ParseOverride(ns.Override)
			m.Node.SetOverride(o)
		}
		if ns.USB {
			m.Node.SetUSBActive(true)
		}
		m.Loop = connect.NewLoop(m.Node, c.interval)

		c.members = append(c.members, m)
		c.byName[m.Name] = m
		upstream = next
	}
	return c, nil
}

// Len returns the number of members
func (c *Chain) Len() int { return len(c.members) }

// Members returns the members from the master end outward
func (c *Chain) Members() []*Member { return c.members }

// Member finds a member by name
func (c *Chain) Member(name string) (*Member, bool) {
	m, ok := c.byName[name]
	return m, ok
}

// At returns the member at index i
func (c *Chain) At(i int) *Member { return c.members[i] }

// Clock returns the clock driving the nodes
func (c *Chain) Clock() clockwork.Clock { return c.clock }

// Step runs one millisecond of the chain on the calling goroutine: the fake
// clock, if any, advances and every node processes once. It must not be
// mixed with Run.
func (c *Chain) Step() {
	if fc, ok := c.clock.(*clockwork.FakeClock); ok {
		fc.Advance(time.Millisecond)
	}
	for _, m := range c.members {
		m.Node.Process()
	}
}

// StepUntil steps until done returns true or steps ran out. It reports
// whether done was reached.
func (c *Chain) StepUntil(steps int, done func() bool) bool {
	for i := 0; i < steps; i++ {
		if done() {
			return true
		}
		c.Step()
	}
	return done()
}

// Run runs every node loop concurrently until ctx is cancelled
func (c *Chain) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range c.members {
		g.Go(func() error {
			if err := m.Loop.Run(gctx); !errors.Is(err, gctx.Err()) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
