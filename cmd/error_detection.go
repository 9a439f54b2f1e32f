// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect framing errors and cable faults on a link",
	Long: `Track framing errors and cable check faults with statistics.

This command decodes every frame on the cable and detects:
  - Framing errors (a frame start broken off by stray bytes)
  - Cable faults (a corrupted CableCheck pattern)
  - Statistics and trends (frame rate, error rate, frames per command)

By default, only errors are displayed. Use --show-all to display valid frames too.

Errors are highlighted immediately and periodic statistics summaries are
displayed at configurable intervals.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	errorDetectionCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// printLinkError prints a decode error in highlighted format
func printLinkError(err error) {
	fmt.Printf("[ERROR] %s\n", describeLinkError(err))
}

// runTUIMode runs error detection in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	decoder := connect.NewDecoder()
	synchronized := false
	errorsBeforeSync := 0

	// Create TUI program
	m := initialModel(connInfo, showAll)
	p := tea.NewProgram(m)

	// Link reader goroutine
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				log.Error().Err(err).Msg("read error")
				p.Quit()
				return
			}
			p.Send(linkDataMsg{bytes: n})

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])

				if decodeErr != nil {
					if synchronized {
						p.Send(linkDataMsg{decodeErr: decodeErr})
					} else {
						// Not synced yet, just count
						errorsBeforeSync++
					}
				} else if frame != nil {
					if !synchronized {
						// First frame, we're now synchronized
						synchronized = true
						p.Send(syncMsg{invalidBytes: errorsBeforeSync})
					}
					p.Send(linkDataMsg{frame: frame})
				}
			}
		}
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %v", err)
	}

	return nil
}

// runTextMode runs error detection in text mode
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("UARTConnect - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := connect.NewDecoder()
	stats := connect.NewStatistics()

	// Sync tracking - ignore decode errors until first frame
	synchronized := false
	errorsBeforeSync := 0

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	// Channel for non-blocking reads
	linkBuf := make(chan []byte, 10)
	readErr := make(chan error, 1)
	go func() {
		buf := make([]byte, 128)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				readErr <- err
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			linkBuf <- data
		}
	}()

	for {
		select {
		case data := <-linkBuf:
			stats.AddBytes(len(data))
			for _, b := range data {
				frame, decodeErr := decoder.DecodeByte(b)

				if decodeErr != nil {
					if synchronized {
						stats.Update(nil, decodeErr)
						printLinkError(decodeErr)
					} else {
						errorsBeforeSync++
					}
				} else if frame != nil {
					if !synchronized {
						synchronized = true
						if errorsBeforeSync > 0 {
							fmt.Printf("[SYNC] Synchronized after %d framing errors\n\n", errorsBeforeSync)
						} else {
							fmt.Printf("[SYNC] Synchronized\n\n")
						}
					}

					stats.Update(frame, nil)
					if showAll {
						fmt.Print(connect.FormatFrame(frame))
					}
				}
			}

		case err := <-readErr:
			fmt.Println()
			fmt.Print(stats.String())
			return fmt.Errorf("read error: %w", err)

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()
		}
	}
}
