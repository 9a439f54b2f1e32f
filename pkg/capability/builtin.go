// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package capability

import "github.com/rs/zerolog/log"

// LogFunc returns a capability that only logs its invocations. Host-side
// nodes use it in place of firmware actions.
func LogFunc(name string) Func {
	return func(c Call) {
		log.Info().
			Str("capability", name).
			Uint8("index", c.Index).
			Uint8("state", c.State).
			Uint8("state_type", c.StateType).
			Hex("args", c.Args).
			Msg("capability invoked")
	}
}

// RegisterAll registers each capability in order, stopping at the first error
func RegisterAll(t *Table, caps ...Capability) error {
	for _, c := range caps {
		if _, err := t.Register(c); err != nil {
			return err
		}
	}
	return nil
}
