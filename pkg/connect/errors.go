// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import "errors"

var (
	// ErrWouldBlock is returned by TryLock when the channel is held or draining
	ErrWouldBlock = errors.New("tx channel busy")

	// ErrLockTimeout is returned when Lock or LockBoth gave up spinning
	ErrLockTimeout = errors.New("tx channel lock timeout")

	// ErrTxStalled is returned when the peer did not drain the Tx ring in time
	ErrTxStalled = errors.New("tx buffer stalled")

	// ErrFrameTooLarge is returned when a frame can never fit the Tx ring
	ErrFrameTooLarge = errors.New("frame larger than tx buffer")

	// ErrPayloadTooLarge is returned when a count field would overflow a byte
	ErrPayloadTooLarge = errors.New("payload count exceeds 255")

	// ErrNotLocked is returned by AddBytes when the caller does not hold the lock
	ErrNotLocked = errors.New("tx channel not locked")

	// ErrUnknownCommand is returned for command names or values outside the table
	ErrUnknownCommand = errors.New("unknown command")

	// ErrMissingArgument is returned when a manual command lacks a required argument
	ErrMissingArgument = errors.New("missing command argument")

	// ErrFraming is reported by Decoder when a frame start is broken off
	ErrFraming = errors.New("framing error")

	// ErrCableMismatch is reported by Decoder for a corrupted CableCheck pattern
	ErrCableMismatch = errors.New("cable check pattern mismatch")
)
