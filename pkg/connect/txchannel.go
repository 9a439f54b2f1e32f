// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

// TxStatus reports whether a composer may start a new frame on a channel
type TxStatus uint8

const (
	TxReady TxStatus = iota
	TxWait
)

func (s TxStatus) String() string {
	if s == TxWait {
		return "Wait"
	}
	return "Ready"
}

// TxChannel is a fixed-capacity byte ring guarded by a cooperative lock.
// The ring storage is allocated once when the node is set up.
type TxChannel struct {
	buf    []byte
	head   int // next write index
	tail   int // next read index
	count  int
	status TxStatus
	locked bool
}

func newTxChannel(size int) *TxChannel {
	return &TxChannel{buf: make([]byte, size)}
}

// Cap returns the ring capacity in bytes
func (c *TxChannel) Cap() int { return len(c.buf) }

// Len returns the number of queued bytes
func (c *TxChannel) Len() int { return c.count }

// Free returns the number of bytes that can be pushed without blocking
func (c *TxChannel) Free() int { return len(c.buf) - c.count }

// Status returns the composer status
func (c *TxChannel) Status() TxStatus { return c.status }

// Locked reports whether a producer holds the channel
func (c *TxChannel) Locked() bool { return c.locked }

// TryLock takes the channel if it is unlocked and Ready
func (c *TxChannel) TryLock() error {
	if c.locked || c.status != TxReady {
		return ErrWouldBlock
	}
	c.locked = true
	c.status = TxWait
	return nil
}

// Unlock releases the channel for the next composer
func (c *TxChannel) Unlock() {
	c.status = TxReady
	c.locked = false
}

// Push copies as much of p as fits and returns the number of bytes queued
func (c *TxChannel) Push(p []byte) int {
	n := len(p)
	if free := c.Free(); n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		c.buf[c.head] = p[i]
		c.head++
		if c.head == len(c.buf) {
			c.head = 0
		}
	}
	c.count += n
	return n
}

// Pop removes the oldest queued byte
func (c *TxChannel) Pop() (byte, bool) {
	if c.count == 0 {
		return 0, false
	}
	b := c.buf[c.tail]
	c.tail++
	if c.tail == len(c.buf) {
		c.tail = 0
	}
	c.count--
	return b, true
}

// PopInto drains up to len(dst) bytes into dst
func (c *TxChannel) PopInto(dst []byte) int {
	n := 0
	for n < len(dst) {
		b, ok := c.Pop()
		if !ok {
			break
		}
		dst[n] = b
		n++
	}
	return n
}

func (c *TxChannel) reset() {
	for i := range c.buf {
		c.buf[i] = 0
	}
	c.head, c.tail, c.count = 0, 0, 0
	c.Unlock()
}
