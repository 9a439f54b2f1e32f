// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"fmt"
	"strconv"
	"strings"
)

// Command builder functions append a complete wire frame to dst and return
// the extended slice. Passing a slice with spare capacity avoids allocation.

func appendPreamble(dst []byte, k CommandKind) []byte {
	return append(dst, SynByte, SohByte, byte(k))
}

// AppendCableCheck appends a CableCheck frame with length pattern bytes
func AppendCableCheck(dst []byte, length uint8) []byte {
	dst = appendPreamble(dst, CableCheck)
	dst = append(dst, length)
	for i := 0; i < int(length); i++ {
		dst = append(dst, CableCheckPattern)
	}
	return dst
}

// AppendIDRequest appends a zero-payload IdRequest frame
func AppendIDRequest(dst []byte) []byte {
	return appendPreamble(dst, IDRequest)
}

// AppendIDEnumeration appends an IdEnumeration frame assigning id
func AppendIDEnumeration(dst []byte, id uint8) []byte {
	return append(appendPreamble(dst, IDEnumeration), id)
}

// AppendIDReport appends an IdReport frame for id
func AppendIDReport(dst []byte, id uint8) []byte {
	return append(appendPreamble(dst, IDReport), id)
}

// AppendScanCode appends a ScanCode frame for deviceID carrying entries
func AppendScanCode(dst []byte, deviceID uint8, entries []TriggerGuide) ([]byte, error) {
	if len(entries) > 0xFF {
		return dst, fmt.Errorf("scan code with %d entries: %w", len(entries), ErrPayloadTooLarge)
	}
	dst = appendPreamble(dst, ScanCode)
	dst = append(dst, deviceID, uint8(len(entries)))
	for _, e := range entries {
		dst = append(dst, e.Type, e.State, e.ScanCode)
	}
	return dst, nil
}

// AppendAnimation appends an Animation frame with opaque params
func AppendAnimation(dst []byte, id uint8, params []byte) ([]byte, error) {
	if len(params) > 0xFF {
		return dst, fmt.Errorf("animation with %d params: %w", len(params), ErrPayloadTooLarge)
	}
	dst = appendPreamble(dst, Animation)
	dst = append(dst, id, uint8(len(params)))
	return append(dst, params...), nil
}

// AppendRemoteCapability appends a RemoteCapability frame.
// Use IDBroadcast to address every node in the chain.
func AppendRemoteCapability(dst []byte, id, capability, state, stateType uint8, args []byte) ([]byte, error) {
	if len(args) > 0xFF {
		return dst, fmt.Errorf("remote capability with %d args: %w", len(args), ErrPayloadTooLarge)
	}
	dst = appendPreamble(dst, RemoteCapability)
	dst = append(dst, id, capability, state, stateType, uint8(len(args)))
	return append(dst, args...), nil
}

// ParseCommandKind resolves a command by name (case-insensitive) or number
func ParseCommandKind(s string) (CommandKind, error) {
	for _, k := range Kinds() {
		if strings.EqualFold(k.String(), s) {
			return k, nil
		}
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil || !CommandKind(v).Valid() {
		return 0, fmt.Errorf("%q: %w", s, ErrUnknownCommand)
	}
	return CommandKind(v), nil
}

// BuildCommand composes a frame from command line style byte arguments.
//
//	CableCheck [length]
//	IdRequest
//	IdEnumeration <id>
//	IdReport <id>
//	ScanCode <device> [<type> <state> <scancode>]...
//	Animation <id> [param]...
//	RemoteCapability <id> <index> <state> <stateType> [arg]...
func BuildCommand(k CommandKind, args []uint8, defaultCheckLength uint8) ([]byte, error) {
	need := func(n int) error {
		if len(args) < n {
			return fmt.Errorf("%s needs %d argument(s): %w", k, n, ErrMissingArgument)
		}
		return nil
	}

	switch k {
	case CableCheck:
		length := defaultCheckLength
		if len(args) > 0 {
			length = args[0]
		}
		return AppendCableCheck(nil, length), nil
	case IDRequest:
		return AppendIDRequest(nil), nil
	case IDEnumeration:
		if err := need(1); err != nil {
			return nil, err
		}
		return AppendIDEnumeration(nil, args[0]), nil
	case IDReport:
		if err := need(1); err != nil {
			return nil, err
		}
		return AppendIDReport(nil, args[0]), nil
	case ScanCode:
		if err := need(1); err != nil {
			return nil, err
		}
		rest := args[1:]
		if len(rest)%triggerGuideSize != 0 {
			return nil, fmt.Errorf("scan code entries must be <type> <state> <scancode> triples: %w", ErrMissingArgument)
		}
		entries := make([]TriggerGuide, 0, len(rest)/triggerGuideSize)
		for i := 0; i < len(rest); i += triggerGuideSize {
			entries = append(entries, TriggerGuide{Type: rest[i], State: rest[i+1], ScanCode: rest[i+2]})
		}
		return AppendScanCode(nil, args[0], entries)
	case Animation:
		if err := need(1); err != nil {
			return nil, err
		}
		return AppendAnimation(nil, args[0], args[1:])
	case RemoteCapability:
		if err := need(4); err != nil {
			return nil, err
		}
		return AppendRemoteCapability(nil, args[0], args[1], args[2], args[3], args[4:])
	default:
		return nil, fmt.Errorf("0x%02X: %w", uint8(k), ErrUnknownCommand)
	}
}
