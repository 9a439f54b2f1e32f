// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/chain"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	simTopology string
	simNodes    int
	simTUI      bool
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulate a chain of nodes on in-memory cables",
	Long: `Run a whole chain of interconnect nodes inside one process.

The chain is read from a YAML topology file (--topology) or built as a line
of --nodes boards where the first one has USB. Every node runs its own loop
and the cables between them are in-memory rings, so enumeration, cable
checks and frame forwarding behave as on hardware.

The console targets one node at a time; use "node <name>" to switch.

Example topology:
  nodes:
    - name: left
      usb: true
    - name: right
  capabilities: [led, layer]`,
	RunE: runSim,
}

func init() {
	rootCmd.AddCommand(simCmd)
	simCmd.Flags().StringVarP(&simTopology, "topology", "t", "", "Chain topology YAML file")
	simCmd.Flags().IntVarP(&simNodes, "nodes", "n", 3, "Number of nodes when no topology is given")
	simCmd.Flags().BoolVar(&simTUI, "tui", false, "Show the live dashboard instead of the console")
	simCmd.Flags().BoolVar(&consoleExit, "exit", false, "Exit once a piped console script has run")
}

func loadSimTopology() (chain.Topology, error) {
	if simTopology != "" {
		return chain.LoadTopology(simTopology)
	}
	topo := chain.Linear(simNodes)
	topo.Capabilities = appConfig.Capabilities.Names
	return topo, nil
}

// memberTargets exposes every member of c to the console
func memberTargets(c *chain.Chain) []*target {
	targets := make([]*target, 0, c.Len())
	for _, m := range c.Members() {
		targets = append(targets, &target{
			name:   m.Name,
			loop:   m.Loop,
			events: m.Events,
			caps:   m.Capabilities,
			power:  m.Power,
		})
	}
	return targets
}

func runSim(cmd *cobra.Command, args []string) error {
	topo, err := loadSimTopology()
	if err != nil {
		return err
	}
	interval := appConfig.PollInterval()
	if interval <= 0 {
		interval = time.Millisecond
	}
	c, err := chain.New(topo, chain.WithInterval(interval), chain.WithLogger(log.Logger))
	if err != nil {
		return err
	}
	log.Info().Int("nodes", c.Len()).Msg("chain started")

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.Run(gctx) })
	g.Go(func() error {
		defer cancel()
		con := newConsole(memberTargets(c)...)
		if simTUI {
			return runDashboard(gctx, con, "simulated chain")
		}
		return runConsole(gctx, con)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
