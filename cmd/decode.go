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
	"github.com/spf13/cobra"
)

var decodeStats bool

var decodeCmd = &cobra.Command{
	Use:   "decode <capture>",
	Short: "Replay a capture file recorded by monitor or node",
	Args:  cobra.ExactArgs(1),
	RunE:  runDecode,
}

func init() {
	rootCmd.AddCommand(decodeCmd)
	decodeCmd.Flags().BoolVar(&decodeStats, "stats", false, "Print statistics after the frames")
}

func runDecode(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	return decodeCapture(f, os.Stdout, decodeStats)
}

func linkName(link uint8) string {
	if link == capture.LinkMonitor {
		return "tap"
	}
	return "to " + connect.Direction(link).String()
}

// decodeCapture prints every record of a capture stream to out
func decodeCapture(in io.Reader, out io.Writer, withStats bool) error {
	r, err := capture.NewReader(in)
	if err != nil {
		return err
	}
	h := r.Header()
	fmt.Fprintf(out, "Capture from %s started %s\n\n", h.Source, time.Unix(0, h.Started).Format(time.RFC3339))

	stats := connect.NewStatistics()
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		stats.AddBytes(len(rec.Bytes))

		frame, err := rec.Frame()
		stats.Update(frame, err)
		if err != nil {
			fmt.Fprintf(out, "[ERROR] %s: %v\n", linkName(rec.Link), err)
			continue
		}
		fmt.Fprintf(out, "%-9s %s", linkName(rec.Link), connect.FormatFrame(frame))
	}

	if withStats {
		fmt.Fprintf(out, "\n%s", stats.String())
	}
	return nil
}
