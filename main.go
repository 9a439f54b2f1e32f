// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// UARTConnect - keyboard controller interconnect tools
//
// Runs, simulates and monitors the framed serial protocol that links the
// boards of a split or chained keyboard.

package main

import (
	"os"

	"github.com/Thermoquad/uartconnect/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
