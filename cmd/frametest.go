// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/spf13/cobra"
)

var (
	frameTestTimeout int
	frameTestKind    string
)

var frameTestCmd = &cobra.Command{
	Use:   "frame_test",
	Short: "Test a link by waiting for a complete interconnect frame",
	Long: `Wait for a complete interconnect frame on the connection until timeout.

Any node emits a CableCheck every health interval, so a live cable produces a
frame within a second. Bytes that do not form a frame are skipped.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a frame
  2 - Connection error`,
	RunE: runFrameTest,
}

func init() {
	rootCmd.AddCommand(frameTestCmd)
	frameTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	frameTestCmd.Flags().StringVar(&frameTestKind, "kind", "", "Only accept this command (name or number)")
}

func runFrameTest(cmd *cobra.Command, args []string) error {
	want := connect.CommandKind(0xFF)
	if frameTestKind != "" {
		k, err := connect.ParseCommandKind(frameTestKind)
		if err != nil {
			return err
		}
		want = k
	}

	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("UARTConnect - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for interconnect frame...\n\n")

	decoder := connect.NewDecoder()
	buf := make([]byte, 128)

	frameChan := make(chan *connect.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		skipped := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					skipped++
					continue
				}
				if frame == nil {
					continue
				}
				if want.Valid() && frame.Kind != want {
					continue
				}
				if skipped > 0 {
					fmt.Printf("(skipped %d framing errors before sync)\n", skipped)
				}
				frameChan <- frame
				return
			}
		}
	}()

	select {
	case frame := <-frameChan:
		fmt.Printf("SUCCESS: Received frame\n")
		fmt.Printf("  Command: %s (0x%02X)\n", frame.Kind, uint8(frame.Kind))
		fmt.Printf("  Length: %d bytes\n", frame.Len())
		fmt.Print(connect.FormatFields(frame))
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(frameTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No frame received within %d seconds\n", frameTestTimeout)
		os.Exit(1)
	}

	return nil
}
