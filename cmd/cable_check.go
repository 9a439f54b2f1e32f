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
	cableCheckTimeout int
	cableCheckCount   int
)

var cableCheckCmd = &cobra.Command{
	Use:   "cable_check",
	Short: "Exchange CableCheck frames with the board on a link",
	Long: `Run a node on the connection and wait for CableCheck frames from the peer.

Both ends of a cable send a CableCheck every health interval. Each check that
arrives with an intact pattern counts as a pass; a corrupted pattern counts as
a fault and marks the cable unhealthy.

This is useful for verifying:
  - The cable or websocket bridge carries bytes both ways
  - The baud rate matches the board
  - No bytes are corrupted in transit

Exit codes:
  0 - All checks passed
  1 - A check failed or timed out
  2 - Connection error`,
	RunE: runCableCheck,
}

func init() {
	rootCmd.AddCommand(cableCheckCmd)
	cableCheckCmd.Flags().IntVar(&cableCheckTimeout, "timeout", 5, "Timeout in seconds for each check")
	cableCheckCmd.Flags().IntVar(&cableCheckCount, "count", 3, "Number of checks to wait for")
}

func runCableCheck(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("UARTConnect - Cable Check\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per check\n", cableCheckTimeout)
	fmt.Printf("Count: %d checks\n\n", cableCheckCount)

	vals := appConfig
	vals.Node.Name = "host"
	stream := transport.NewStream(conn, "to master", 0)
	t, err := newTarget(vals, transport.NewPair(stream, nil), false, clockwork.NewRealClock())
	if err != nil {
		conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stream.Run(gctx) })
	g.Go(func() error {
		if err := t.loop.Run(gctx); !errors.Is(err, gctx.Err()) {
			return err
		}
		return nil
	})

	passCount, failCount := 0, 0
	var last connect.LinkHealth
	for i := 1; i <= cableCheckCount; i++ {
		fmt.Printf("Check %d/%d: ", i, cableCheckCount)
		start := time.Now()
		h, err := waitCableCheck(gctx, t.loop, last, time.Duration(cableCheckTimeout)*time.Second)
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			fmt.Printf("TIMEOUT (no check in %ds)\n", cableCheckTimeout)
			failCount++
		case err != nil:
			fmt.Printf("READ FAILED: %v\n", err)
			failCount++
		case h.FaultCount > last.FaultCount:
			fmt.Printf("FAULT, pattern corrupted, after %v\n", time.Since(start).Round(time.Millisecond))
			failCount++
		default:
			fmt.Printf("PASS after %v\n", time.Since(start).Round(time.Millisecond))
			passCount++
		}
		if err == nil {
			last = h
		}
		if gctx.Err() != nil {
			break
		}
	}

	cancel()
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	// Summary
	fmt.Printf("\n--- Cable check statistics ---\n")
	fmt.Printf("%d checks expected, %d passed, %.0f%% failed\n",
		cableCheckCount, passCount, float64(failCount)/float64(cableCheckCount)*100)

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// waitCableCheck polls the node until the ToMaster counters move past last
func waitCableCheck(ctx context.Context, loop *connect.Loop, last connect.LinkHealth, timeout time.Duration) (connect.LinkHealth, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}
		st, err := loop.Status(ctx)
		if err != nil {
			return last, err
		}
		h := st.Links[connect.ToMaster].Health
		if h.CheckCount > last.CheckCount || h.FaultCount > last.FaultCount {
			return h, nil
		}
	}
}
