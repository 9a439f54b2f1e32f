// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/Thermoquad/uartconnect/pkg/capability"
	"github.com/Thermoquad/uartconnect/pkg/config"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/Thermoquad/uartconnect/pkg/events"
	"github.com/Thermoquad/uartconnect/pkg/power"
	"github.com/Thermoquad/uartconnect/pkg/transport"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	nodeMasterPort string
	nodeMasterURL  string
	nodeSlavePort  string
	nodeSlaveURL   string
	nodeMaster     bool
	nodeUSB        bool
	nodeName       string
	nodeMQTT       string
	nodeTopic      string
	nodeTUI        bool
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run an interconnect node on two links",
	Long: `Run one interconnect node on the host.

The link toward the master and the link toward the slave are each a serial
port or a websocket bridge. Either side may be left unplugged. Lost links are
reopened with exponential backoff while the node keeps running.

Forwarded key events and animations are logged, queued for the console
events command and optionally published to an MQTT broker.

The console accepts the connect* commands (type help). With --tui a live
dashboard is shown instead.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(nodeCmd)
	nodeCmd.Flags().StringVar(&nodeMasterPort, "master-port", "", "Serial port toward the master")
	nodeCmd.Flags().StringVar(&nodeMasterURL, "master-url", "", "WebSocket URL toward the master")
	nodeCmd.Flags().StringVar(&nodeSlavePort, "slave-port", "", "Serial port toward the slave")
	nodeCmd.Flags().StringVar(&nodeSlaveURL, "slave-url", "", "WebSocket URL toward the slave")
	nodeCmd.Flags().BoolVar(&nodeMaster, "master", false, "Start as Master(0)")
	nodeCmd.Flags().BoolVar(&nodeUSB, "usb", false, "Report host USB as active")
	nodeCmd.Flags().StringVar(&nodeName, "name", "", "Node name used in logs and MQTT")
	nodeCmd.Flags().StringVar(&nodeMQTT, "mqtt", "", "MQTT broker host:port for key events")
	nodeCmd.Flags().StringVar(&nodeTopic, "mqtt-topic", "", "MQTT topic prefix")
	nodeCmd.Flags().BoolVar(&nodeTUI, "tui", false, "Show the live dashboard instead of the console")
	nodeCmd.Flags().BoolVar(&consoleExit, "exit", false, "Exit once a piped console script has run")
}

// nodeSettings applies the node flags on top of the loaded config
func nodeSettings(cmd *cobra.Command) (config.Values, error) {
	vals := appConfig
	flags := cmd.Flags()
	if flags.Changed("master-port") {
		vals.Ports.Master, vals.Ports.MasterURL = nodeMasterPort, ""
	}
	if flags.Changed("master-url") {
		vals.Ports.Master, vals.Ports.MasterURL = "", nodeMasterURL
	}
	if flags.Changed("slave-port") {
		vals.Ports.Slave, vals.Ports.SlaveURL = nodeSlavePort, ""
	}
	if flags.Changed("slave-url") {
		vals.Ports.Slave, vals.Ports.SlaveURL = "", nodeSlaveURL
	}
	if flags.Changed("master") {
		vals.Node.Master = nodeMaster
	}
	if flags.Changed("name") {
		vals.Node.Name = nodeName
	}
	if flags.Changed("mqtt") {
		vals.MQTT.Broker = nodeMQTT
	}
	if flags.Changed("mqtt-topic") {
		vals.MQTT.Topic = nodeTopic
	}
	if vals.Node.Name == "" {
		vals.Node.Name = "node"
	}
	if err := vals.Validate(); err != nil {
		return config.Values{}, err
	}
	return vals, nil
}

// newTarget builds a node on the given ports with the host collaborators
// described by vals. The node is configured before its loop starts.
func newTarget(vals config.Values, tr connect.Transport, usb bool, clock clockwork.Clock, sinks ...events.Sink) (*target, error) {
	queue := events.NewQueue(0, clock)
	fanout := append(events.Fanout{queue, events.NewLogSink(log.Logger.With().Str("node", vals.Node.Name).Logger())}, sinks...)

	caps := capability.NewTable(vals.Capabilities.Slots)
	for _, name := range vals.Capabilities.Names {
		if _, err := caps.Register(capability.Capability{
			Name: name,
			Args: capability.AnyArgs,
			Func: capability.LogFunc(name),
		}); err != nil {
			return nil, fmt.Errorf("capability %s: %w", name, err)
		}
	}
	budget := power.NewBudget(vals.Power.USBMinimumMA)

	n := connect.NewNode(vals.ToConnect(), tr,
		connect.WithClock(clock),
		connect.WithLogger(log.Logger.With().Str("node", vals.Node.Name).Logger()),
		connect.WithMacroEngine(fanout),
		connect.WithAnimationSink(fanout),
		connect.WithCapabilities(caps),
		connect.WithPower(budget),
	)
	if o := vals.Override(); o != connect.OverrideNone {
		n.SetOverride(o)
	}
	n.SetUSBActive(usb)
	n.SetDebug(vals.Node.Debug)

	return &target{
		name:   vals.Node.Name,
		loop:   connect.NewLoop(n, vals.PollInterval()),
		events: queue,
		caps:   caps,
		power:  budget,
	}, nil
}

func runNode(cmd *cobra.Command, args []string) error {
	vals, err := nodeSettings(cmd)
	if err != nil {
		return err
	}

	ends := [2]endpoint{
		connect.ToMaster: {port: vals.Ports.Master, url: vals.Ports.MasterURL},
		connect.ToSlave:  {port: vals.Ports.Slave, url: vals.Ports.SlaveURL},
	}
	if ends[connect.ToMaster].empty() {
		ends[connect.ToMaster] = endpoint{port: portName, url: wsURL}
	}
	if ends[connect.ToMaster].empty() && ends[connect.ToSlave].empty() {
		return errors.New("at least one of --master-port, --master-url, --slave-port or --slave-url must be specified")
	}

	pair := transport.NewPair(nil, nil)
	for _, d := range connect.Directions {
		if !ends[d].empty() {
			pair.Plug(d, transport.NewPort(transport.NewRing(transport.DefaultRingSize), transport.NewRing(transport.DefaultRingSize)))
		}
	}

	var sinks []events.Sink
	var mqttSink *events.MQTTSink
	if vals.MQTT.Broker != "" {
		mqttSink = events.NewMQTTSink(vals.MQTT.Broker, vals.MQTT.Topic, vals.Node.Name)
		if err := mqttSink.Start(); err != nil {
			return err
		}
		defer func() { _ = mqttSink.Stop() }()
		sinks = append(sinks, mqttSink)
	}

	t, err := newTarget(vals, pair, nodeUSB, clockwork.NewRealClock(), sinks...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := t.loop.Run(gctx); !errors.Is(err, gctx.Err()) {
			return err
		}
		return nil
	})
	for _, d := range connect.Directions {
		if ends[d].empty() {
			continue
		}
		name := "to " + d.String()
		e, port := ends[d], pair.Port(d)
		g.Go(func() error { return superviseLink(gctx, name, e, port) })
	}
	g.Go(func() error {
		defer cancel()
		c := newConsole(t)
		if nodeTUI {
			return runNodeTUI(gctx, c, ends)
		}
		return runConsole(gctx, c)
	})

	return g.Wait()
}
