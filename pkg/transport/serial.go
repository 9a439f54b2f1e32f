// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate matches the interconnect UART configuration
const DefaultBaudRate = 115200

// SerialOpener opens a serial port. Tests replace it to avoid hardware.
type SerialOpener func(portName string, mode *serial.Mode) (serial.Port, error)

// OpenSerialPort is the opener used by OpenSerial
var OpenSerialPort SerialOpener = serial.Open

// OpenSerial opens a USB-UART adapter as one side of a node, 8N1
func OpenSerial(portName string, baudRate int) (io.ReadWriteCloser, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := OpenSerialPort(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}
	return port, nil
}

// SerialPorts lists the serial ports present on the host
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}
