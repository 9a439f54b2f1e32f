// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the tunables of a node. Zero values are replaced by the
// defaults from DefaultConfig.
type Config struct {
	// Master starts the node as Master(0) with its role pinned
	Master bool

	// TxBufferSize is the capacity of each Tx ring in bytes
	TxBufferSize int

	// CableCheckLength is the pattern length of periodic CableCheck frames
	CableCheckLength uint8

	// CheckIntervalMask fires the health check when every set bit of the
	// millisecond counter is set. Use 0x1 or larger; zero takes the default.
	CheckIntervalMask uint32

	// RetryDelay is the pause between attempts when a Tx ring is full
	RetryDelay time.Duration

	// TxStallTimeout bounds the full-ring retry. Negative disables the bound.
	TxStallTimeout time.Duration

	// LockSpinDelay and LockTimeout bound Lock and LockBoth
	LockSpinDelay time.Duration
	LockTimeout   time.Duration

	// USBMinimumCurrent is the clamp applied on cable faults (mA)
	USBMinimumCurrent uint16

	// AssignedCurrent is the budget requested once an id is assigned (mA)
	AssignedCurrent uint16

	// ScanCodeOffsets is added to scan codes forwarded by each device id
	ScanCodeOffsets []uint8
}

// DefaultConfig returns the stock tunables
func DefaultConfig() Config {
	return Config{
		TxBufferSize:      256,
		CableCheckLength:  2,
		CheckIntervalMask: 0x1FF,
		RetryDelay:        100 * time.Microsecond,
		TxStallTimeout:    250 * time.Millisecond,
		LockSpinDelay:     10 * time.Microsecond,
		LockTimeout:       50 * time.Millisecond,
		USBMinimumCurrent: USBMinimumCurrent,
		AssignedCurrent:   USBMaximumCurrent,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TxBufferSize <= 0 {
		c.TxBufferSize = d.TxBufferSize
	}
	if c.CableCheckLength == 0 {
		c.CableCheckLength = d.CableCheckLength
	}
	if c.CheckIntervalMask == 0 {
		c.CheckIntervalMask = d.CheckIntervalMask
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.TxStallTimeout == 0 {
		c.TxStallTimeout = d.TxStallTimeout
	}
	if c.LockSpinDelay <= 0 {
		c.LockSpinDelay = d.LockSpinDelay
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = d.LockTimeout
	}
	if c.USBMinimumCurrent == 0 {
		c.USBMinimumCurrent = d.USBMinimumCurrent
	}
	if c.AssignedCurrent == 0 {
		c.AssignedCurrent = d.AssignedCurrent
	}
	return c
}

// Identity is the role and numeric id of a node
type Identity struct {
	ID       uint8
	Role     Role
	MaxID    uint8 // Master only: highest id reported so far
	Override Override
}

// Assigned reports whether the node holds an id
func (i Identity) Assigned() bool {
	return i.ID != IDUnassigned
}

// LinkHealth tracks cable checks received on one direction
type LinkHealth struct {
	FaultCount uint32
	CheckCount uint32
	OK         bool
}

// Option customizes a Node
type Option func(*Node)

// WithClock sets the clock used for health checks and retry delays
func WithClock(c clockwork.Clock) Option {
	return func(n *Node) { n.clock = c }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(n *Node) { n.log = l }
}

// WithMacroEngine sets the receiver of forwarded scan codes
func WithMacroEngine(m MacroEngine) Option {
	return func(n *Node) { n.macros = m }
}

// WithCapabilities sets the capability dispatch table
func WithCapabilities(c CapabilityTable) Option {
	return func(n *Node) { n.caps = c }
}

// WithPower sets the power manager
func WithPower(p PowerManager) Option {
	return func(n *Node) { n.power = p }
}

// WithAnimationSink sets the receiver of Animation frames
func WithAnimationSink(a AnimationSink) Option {
	return func(n *Node) { n.animations = a }
}

// Node is one controller board participating in the chain. A Node is not
// safe for concurrent use; drive it from a single goroutine (see Loop).
type Node struct {
	cfg        Config
	transport  Transport
	macros     MacroEngine
	caps       CapabilityTable
	power      PowerManager
	animations AnimationSink
	clock      clockwork.Clock
	log        zerolog.Logger

	identity Identity
	rx       [directionCount]RxChannel
	tx       [directionCount]*TxChannel
	health   [directionCount]LinkHealth

	epoch     time.Time
	lastCheck uint32
	checked   bool
	debug     bool

	scratch [MaxFrameSize]byte
}

// NewNode sets up a node on the given transport
func NewNode(cfg Config, t Transport, opts ...Option) *Node {
	if t == nil {
		t = nopCollaborator{}
	}
	n := &Node{
		cfg:        cfg.withDefaults(),
		transport:  t,
		macros:     nopCollaborator{},
		caps:       nopCollaborator{},
		power:      nopCollaborator{},
		animations: nopCollaborator{},
		clock:      clockwork.NewRealClock(),
		log:        log.Logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	n.log = n.log.With().Str("component", "connect").Logger()
	n.epoch = n.clock.Now()

	for _, d := range Directions {
		n.tx[d] = newTxChannel(n.cfg.TxBufferSize)
	}

	n.identity = Identity{ID: IDUnassigned, Role: RoleSlave}
	if n.cfg.Master {
		n.identity = Identity{ID: IDMaster, Role: RoleMaster, Override: OverrideMaster}
	}

	n.log.Info().
		Stringer("role", n.identity.Role).
		Int("tx_buffer", n.cfg.TxBufferSize).
		Msg("interconnect setup")
	return n
}

// Config returns the effective configuration
func (n *Node) Config() Config {
	return n.cfg
}

// Reset returns both directions to a clean protocol state: Rx waiting for
// SYN, Tx rings empty, unlocked and Ready. The id is kept.
func (n *Node) Reset() {
	for _, d := range Directions {
		n.rx[d].reset()
		n.tx[d].reset()
	}
	n.log.Info().Msg("interconnect reset")
}

// SetDebug toggles per-byte tracing
func (n *Node) SetDebug(on bool) {
	n.debug = on
}

// Debug reports whether per-byte tracing is enabled
func (n *Node) Debug() bool {
	return n.debug
}

// Health returns the link health of dir
func (n *Node) Health(dir Direction) LinkHealth {
	return n.health[dir]
}

// TxChannel exposes the Tx ring of dir
func (n *Node) TxChannel(dir Direction) *TxChannel {
	return n.tx[dir]
}

// Millis returns the free-running millisecond counter
func (n *Node) Millis() uint32 {
	return uint32(n.clock.Since(n.epoch) / time.Millisecond)
}

// Process is the polling entry point: it drains queued Tx bytes to the
// transport, parses every received byte in arrival order and runs the
// periodic link check.
func (n *Node) Process() {
	for _, d := range Directions {
		n.drain(d)
	}
	for _, d := range Directions {
		for avail := n.transport.RxAvailable(d); avail > 0; avail-- {
			n.processByte(d, n.transport.RxByte(d))
		}
	}
	n.periodic()
	for _, d := range Directions {
		n.drain(d)
	}
}

// drain moves queued bytes into the transport as far as it accepts them
func (n *Node) drain(dir Direction) {
	tx := n.tx[dir]
	for tx.Len() > 0 {
		space := n.transport.TxSpace(dir)
		if space <= 0 {
			return
		}
		for ; space > 0; space-- {
			b, ok := tx.Pop()
			if !ok {
				return
			}
			n.transport.TxByte(dir, b)
		}
	}
}

// Lock spins until dir is free and takes it
func (n *Node) Lock(dir Direction) error {
	deadline := n.clock.Now().Add(n.cfg.LockTimeout)
	for {
		if err := n.tx[dir].TryLock(); err == nil {
			return nil
		}
		if !n.clock.Now().Before(deadline) {
			n.log.Error().Stringer("dir", dir).Msg("tx lock timeout")
			return fmt.Errorf("%s: %w", dir, ErrLockTimeout)
		}
		n.clock.Sleep(n.cfg.LockSpinDelay)
	}
}

// LockBoth takes both directions together so no other producer can hold
// one while waiting for the other.
func (n *Node) LockBoth() error {
	m, s := n.tx[ToMaster], n.tx[ToSlave]
	deadline := n.clock.Now().Add(n.cfg.LockTimeout)
	for {
		if !m.locked && m.status == TxReady && !s.locked && s.status == TxReady {
			_ = m.TryLock()
			_ = s.TryLock()
			return nil
		}
		if !n.clock.Now().Before(deadline) {
			n.log.Error().Msg("tx lock timeout on both directions")
			return ErrLockTimeout
		}
		n.clock.Sleep(n.cfg.LockSpinDelay)
	}
}

// Unlock releases dir
func (n *Node) Unlock(dir Direction) {
	n.tx[dir].Unlock()
}

// AddBytes appends p to the Tx ring of dir. The caller must hold the lock.
// When the ring is full the call drains to the transport and retries after
// RetryDelay until the bytes fit or TxStallTimeout passes.
func (n *Node) AddBytes(dir Direction, p []byte) error {
	tx := n.tx[dir]
	if !tx.locked {
		return ErrNotLocked
	}
	if len(p) > tx.Cap() {
		n.log.Error().
			Stringer("dir", dir).
			Int("len", len(p)).
			Int("capacity", tx.Cap()).
			Msg("frame does not fit tx buffer, not sent")
		return fmt.Errorf("%d bytes on %s: %w", len(p), dir, ErrFrameTooLarge)
	}

	var deadline time.Time
	for tx.Free() < len(p) {
		n.drain(dir)
		if tx.Free() >= len(p) {
			break
		}
		if n.cfg.TxStallTimeout > 0 {
			now := n.clock.Now()
			if deadline.IsZero() {
				deadline = now.Add(n.cfg.TxStallTimeout)
			} else if !now.Before(deadline) {
				n.log.Error().Stringer("dir", dir).Int("queued", tx.Len()).Msg("tx buffer stalled")
				return fmt.Errorf("%s: %w", dir, ErrTxStalled)
			}
		}
		n.clock.Sleep(n.cfg.RetryDelay)
	}
	tx.Push(p)
	return nil
}

// emit sends one complete frame on dir
func (n *Node) emit(dir Direction, frame []byte) error {
	if err := n.Lock(dir); err != nil {
		return err
	}
	defer n.Unlock(dir)
	if err := n.AddBytes(dir, frame); err != nil {
		return err
	}
	if n.debug {
		n.log.Debug().Stringer("dir", dir).Hex("frame", frame).Msg("tx frame")
	}
	return nil
}

// emitBoth sends the same frame on both directions under one LockBoth
func (n *Node) emitBoth(frame []byte) error {
	if err := n.LockBoth(); err != nil {
		return err
	}
	defer func() {
		n.Unlock(ToMaster)
		n.Unlock(ToSlave)
	}()
	for _, d := range Directions {
		if err := n.AddBytes(d, frame); err != nil {
			return err
		}
	}
	return nil
}

// compose returns the scratch frame buffer, emptied
func (n *Node) compose() []byte {
	return n.scratch[:0]
}
