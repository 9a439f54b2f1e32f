// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"context"
	"errors"
	"time"
)

// ErrLoopStopped is returned by Do once Run has returned
var ErrLoopStopped = errors.New("node loop stopped")

type loopOp struct {
	fn   func(*Node)
	done chan struct{}
}

// Loop owns a node on a single goroutine. It calls Process every interval
// and runs closures posted with Do between polls, so callers on other
// goroutines never touch node state directly.
type Loop struct {
	node     *Node
	interval time.Duration
	ops      chan loopOp
	stopped  chan struct{}
}

// NewLoop creates a loop polling n every interval
func NewLoop(n *Node, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = time.Millisecond
	}
	return &Loop{
		node:     n,
		interval: interval,
		ops:      make(chan loopOp),
		stopped:  make(chan struct{}),
	}
}

// Run polls the node until ctx is cancelled. It must be called once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.stopped)

	ticker := l.node.clock.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case op := <-l.ops:
			op.fn(l.node)
			close(op.done)
		case <-ticker.Chan():
			l.node.Process()
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to finish
func (l *Loop) Do(ctx context.Context, fn func(*Node)) error {
	op := loopOp{fn: fn, done: make(chan struct{})}
	select {
	case l.ops <- op:
	case <-l.stopped:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status is a convenience wrapper returning a snapshot taken on the loop
func (l *Loop) Status(ctx context.Context) (Status, error) {
	var st Status
	if err := l.Do(ctx, func(n *Node) { st = n.Status() }); err != nil {
		return Status{}, err
	}
	return st, nil
}
