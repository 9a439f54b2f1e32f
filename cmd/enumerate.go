// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/Thermoquad/uartconnect/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	enumerateTimeout int
	enumerateSettle  int
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "Act as master and enumerate the boards behind a link",
	Long: `Run a master node on the connection and report the ids assigned to the
boards behind it.

The host plays Master(0) on its slave-side connector. Each board that sees a
healthy cable toward the master asks for an id, reports it back and passes
enumeration on to the next board. The command finishes once no new id was
reported for the settle time.

Examples:
  # Keyboard half on a USB-UART adapter
  uartconnect enumerate --port /dev/ttyUSB0

  # Through a websocket bridge
  uartconnect enumerate --url ws://bridge.local/uart

Exit codes:
  0 - Enumeration successful (at least one board found)
  1 - Enumeration failed (no board answered before timeout)
  2 - Connection error`,
	RunE: runEnumerate,
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
	enumerateCmd.Flags().IntVar(&enumerateTimeout, "timeout", 10, "Timeout in seconds for enumeration")
	enumerateCmd.Flags().IntVar(&enumerateSettle, "settle", 2, "Seconds without new reports before finishing")
}

func runEnumerate(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("UARTConnect - Enumeration\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", enumerateTimeout)

	vals := appConfig
	vals.Node.Name = "host"
	vals.Node.Master = true
	vals.Node.Override = "m"
	stream := transport.NewStream(conn, "to slave", 0)
	t, err := newTarget(vals, transport.NewPair(nil, stream), true, clockwork.NewRealClock())
	if err != nil {
		conn.Close()
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(enumerateTimeout)*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error {
		if err := t.loop.Run(gctx); !errors.Is(err, gctx.Err()) {
			return err
		}
		return nil
	})

	maxID, err := watchEnumeration(gctx, t.loop, time.Duration(enumerateSettle)*time.Second)
	cancel()
	if werr := g.Wait(); werr != nil {
		fmt.Printf("READ FAILED: %v\n", werr)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	// Summary
	fmt.Printf("\n--- Enumeration summary ---\n")
	fmt.Printf("Boards found: %d\n", maxID)
	if maxID == 0 {
		fmt.Printf("No board reported an id. Check the cable and board power.\n")
		os.Exit(1)
	}
	for id := 1; id <= int(maxID); id++ {
		fmt.Printf("  id %d\n", id)
	}
	return nil
}

// watchEnumeration polls the master until MaxID stops changing for settle
func watchEnumeration(ctx context.Context, loop *connect.Loop, settle time.Duration) (uint8, error) {
	var maxID uint8
	lastChange := time.Now()
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return maxID, ctx.Err()
		case <-ticker.C:
		}

		st, err := loop.Status(ctx)
		if err != nil {
			return maxID, err
		}
		if id := st.Identity.MaxID; id != maxID {
			for n := maxID + 1; n <= id && n > maxID; n++ {
				fmt.Printf("Board reported id %d\n", n)
			}
			maxID = id
			lastChange = time.Now()
		}
		if maxID > 0 && time.Since(lastChange) >= settle {
			return maxID, nil
		}
	}
}
