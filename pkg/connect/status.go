// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

// LinkStatus is a snapshot of one direction
type LinkStatus struct {
	Direction Direction
	Rx        RxStatus
	Pending   CommandKind
	Tx        TxStatus
	Locked    bool
	Queued    int
	Capacity  int
	Health    LinkHealth
}

// Status is a snapshot of the whole node, as printed by connectSts
type Status struct {
	Identity Identity
	Debug    bool
	Millis   uint32
	Links    [directionCount]LinkStatus
}

// Status returns a snapshot of identity, counters and channel states
func (n *Node) Status() Status {
	st := Status{
		Identity: n.identity,
		Debug:    n.debug,
		Millis:   n.Millis(),
	}
	for _, d := range Directions {
		tx := n.tx[d]
		st.Links[d] = LinkStatus{
			Direction: d,
			Rx:        n.rx[d].status,
			Pending:   n.rx[d].pending,
			Tx:        tx.Status(),
			Locked:    tx.Locked(),
			Queued:    tx.Len(),
			Capacity:  tx.Cap(),
			Health:    n.health[d],
		}
	}
	return st
}
