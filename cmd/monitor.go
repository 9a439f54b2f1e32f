// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/capture"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	monitorRecord string
	monitorHex    bool
	monitorStats  int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Display interconnect frames in human-readable format",
	Long: `Continuously decode and display interconnect frames as they arrive.

Attach a USB-UART adapter to one direction of a cable (or a websocket bridge)
and every frame is shown with timestamp, command and decoded fields. Framing
errors and cable check mismatches are reported inline.

With --record the frames are also written to a capture file that the decode
command can replay.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().StringVar(&monitorRecord, "record", "", "Write frames to a capture file")
	monitorCmd.Flags().BoolVar(&monitorHex, "hex", false, "Show raw frame bytes")
	monitorCmd.Flags().IntVar(&monitorStats, "stats-interval", 0, "Print statistics every N seconds (0 disables)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	var rec *capture.Writer
	if monitorRecord != "" {
		f, err := os.Create(monitorRecord)
		if err != nil {
			return fmt.Errorf("failed to create capture: %w", err)
		}
		defer f.Close()
		rec, err = capture.NewWriter(f, connInfo, time.Now())
		if err != nil {
			return err
		}
	}

	fmt.Printf("UARTConnect - Frame Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if rec != nil {
		fmt.Printf("Recording: %s\n", monitorRecord)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := connect.NewDecoder()
	stats := connect.NewStatistics()
	lastStats := time.Now()
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			// A read error usually means the connection is permanently closed
			if errors.Is(err, io.EOF) || cmd.Context().Err() != nil {
				log.Info().Msg("connection closed")
				return nil
			}
			return fmt.Errorf("read error: %w", err)
		}
		stats.AddBytes(n)

		for i := 0; i < n; i++ {
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				stats.Update(nil, err)
				fmt.Printf("[ERROR] %v\n", err)
				continue
			}
			if frame == nil {
				continue
			}
			stats.Update(frame, nil)
			fmt.Print(connect.FormatFrame(frame))
			if monitorHex {
				fmt.Printf("  Bytes: % X\n", frame.Bytes())
			}
			if rec != nil {
				if err := rec.WriteFrame(capture.LinkMonitor, frame); err != nil {
					return err
				}
			}
		}

		if monitorStats > 0 && time.Since(lastStats) >= time.Duration(monitorStats)*time.Second {
			stats.CalculateRates()
			fmt.Print(stats.String())
			lastStats = time.Now()
		}
	}
}
