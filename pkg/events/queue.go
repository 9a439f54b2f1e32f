// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"github.com/Thermoquad/uartconnect/internal/syncutil"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/jonboulle/clockwork"
)

// DefaultQueueSize is the queue capacity used when none is given
const DefaultQueueSize = 256

// Queue is a bounded FIFO standing in for the macro engine. When full the
// oldest event is dropped.
type Queue struct {
	mu      syncutil.Mutex
	events  []Event
	head    int
	size    int
	dropped uint64
	notify  chan struct{}
	clock   clockwork.Clock
}

var _ Sink = (*Queue)(nil)

// NewQueue creates a queue holding up to size events
func NewQueue(size int, clock clockwork.Clock) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Queue{
		events: make([]Event, size),
		notify: make(chan struct{}, 1),
		clock:  clock,
	}
}

// DeliverScanCode implements connect.MacroEngine
func (q *Queue) DeliverScanCode(g connect.TriggerGuide) {
	q.push(Event{Time: q.clock.Now(), Kind: KindScanCode, Guide: g})
}

// DeliverAnimation implements connect.AnimationSink
func (q *Queue) DeliverAnimation(id uint8, params []byte) {
	q.push(Event{
		Time:      q.clock.Now(),
		Kind:      KindAnimation,
		Animation: id,
		Params:    append([]byte(nil), params...),
	})
}

func (q *Queue) push(e Event) {
	q.mu.Lock()
	if q.size == len(q.events) {
		q.head = (q.head + 1) % len(q.events)
		q.size--
		q.dropped++
	}
	q.events[(q.head+q.size)%len(q.events)] = e
	q.size++
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns every queued event, oldest first
func (q *Queue) Drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Event, q.size)
	for i := range out {
		out[i] = q.events[(q.head+i)%len(q.events)]
		q.events[(q.head+i)%len(q.events)] = Event{}
	}
	q.head, q.size = 0, 0
	return out
}

// Len returns the number of queued events
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns how many events were discarded because the queue was full
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Ready is signalled after events are queued
func (q *Queue) Ready() <-chan struct{} {
	return q.notify
}
