// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/Thermoquad/uartconnect/pkg/capability"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/Thermoquad/uartconnect/pkg/events"
	"github.com/Thermoquad/uartconnect/pkg/power"
	"github.com/abiosoft/ishell"
	"golang.org/x/term"
)

// target is a node the console talks to
type target struct {
	name   string
	loop   *connect.Loop
	events *events.Queue
	caps   *capability.Table
	power  *power.Budget
}

// console dispatches connect* commands to the selected target
type console struct {
	targets []*target
	current *target
}

func newConsole(targets ...*target) *console {
	c := &console{targets: targets}
	if len(targets) > 0 {
		c.current = targets[0]
	}
	return c
}

func (c *console) prompt() string {
	if c.current == nil {
		return "[none] > "
	}
	return fmt.Sprintf("[%s] > ", c.current.name)
}

type consoleCommand struct {
	name  string
	usage string
	help  string
	run   func(ctx context.Context, c *console, out io.Writer, args []string) error
}

var errUsage = errors.New("usage")

var consoleCommands = []consoleCommand{
	{"connectCmd", "<command> [args...]", "Emit a frame built from manual arguments", runConnectCmd},
	{"connectDbg", "[on|off]", "Toggle per-byte tracing", runConnectDbg},
	{"connectIdl", "<count>", "Emit count SYN bytes on both links", runConnectIdl},
	{"connectLst", "", "List interconnect commands", runConnectLst},
	{"connectMst", "{m|s|d}", "Override or release the node role", runConnectMst},
	{"connectRst", "", "Reset identity, parsers and Tx channels", runConnectRst},
	{"connectSts", "", "Show role, ids and link state", runConnectSts},
	{"capList", "", "List registered capabilities", runCapList},
	{"events", "", "Drain forwarded key and animation events", runEvents},
	{"scanCode", "<type> <state> <scancode> [...]", "Forward key transitions toward the master", runScanCode},
	{"remoteCap", "<id|b> <capability> <state> <state_type> [args...]", "Invoke a capability on a node", runRemoteCap},
	{"animation", "<id> [params...]", "Send an animation to every node", runAnimation},
	{"power", "", "Show the external current budget", runPower},
	{"node", "[name]", "List nodes or select the console target", runSelectNode},
}

func findConsoleCommand(name string) (consoleCommand, bool) {
	for _, cc := range consoleCommands {
		if cc.name == name {
			return cc, true
		}
	}
	return consoleCommand{}, false
}

// runConsoleLine executes one console line. Blank lines and # comments are
// ignored.
func (c *console) runConsoleLine(ctx context.Context, out io.Writer, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil
	}
	cc, ok := findConsoleCommand(fields[0])
	if !ok {
		return fmt.Errorf("%s: %w", fields[0], connect.ErrUnknownCommand)
	}
	if cc.name != "node" && c.current == nil {
		return fmt.Errorf("no node selected")
	}
	err := cc.run(ctx, c, out, fields[1:])
	if errors.Is(err, errUsage) {
		return fmt.Errorf("usage: %s %s", cc.name, cc.usage)
	}
	return err
}

// do runs fn on the loop of the current target
func (c *console) do(ctx context.Context, fn func(n *connect.Node) error) error {
	var err error
	if loopErr := c.current.loop.Do(ctx, func(n *connect.Node) { err = fn(n) }); loopErr != nil {
		return loopErr
	}
	return err
}

func parseBytes(args []string) ([]uint8, error) {
	out := make([]uint8, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseUint(a, 0, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid byte %q", a)
		}
		out = append(out, uint8(v))
	}
	return out, nil
}

func runConnectCmd(ctx context.Context, c *console, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	k, err := connect.ParseCommandKind(args[0])
	if err != nil {
		return err
	}
	values, err := parseBytes(args[1:])
	if err != nil {
		return err
	}
	if err := c.do(ctx, func(n *connect.Node) error { return n.SendCommand(k, values) }); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %s\n", k)
	return nil
}

func runConnectDbg(ctx context.Context, c *console, out io.Writer, args []string) error {
	var set *bool
	if len(args) > 0 {
		on, err := strconv.ParseBool(strings.NewReplacer("on", "true", "off", "false").Replace(args[0]))
		if err != nil {
			return errUsage
		}
		set = &on
	}
	var now bool
	err := c.do(ctx, func(n *connect.Node) error {
		if set != nil {
			n.SetDebug(*set)
		} else {
			n.SetDebug(!n.Debug())
		}
		now = n.Debug()
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "debug %t\n", now)
	return nil
}

func runConnectIdl(ctx context.Context, c *console, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 0 {
		return errUsage
	}
	if err := c.do(ctx, func(n *connect.Node) error { return n.SendIdle(count) }); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %d idle bytes\n", count)
	return nil
}

func runConnectLst(_ context.Context, _ *console, out io.Writer, _ []string) error {
	fmt.Fprint(out, connect.FormatCommandTable())
	return nil
}

func runConnectMst(ctx context.Context, c *console, out io.Writer, args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	o, err := connect.ParseOverride(args[0])
	if err != nil {
		return err
	}
	var id connect.Identity
	err = c.do(ctx, func(n *connect.Node) error {
		n.SetOverride(o)
		id = n.Identity()
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "override %s, role %s\n", id.Override, id.Role)
	return nil
}

func runConnectRst(ctx context.Context, c *console, out io.Writer, _ []string) error {
	if err := c.do(ctx, func(n *connect.Node) error { n.Reset(); return nil }); err != nil {
		return err
	}
	fmt.Fprintln(out, "reset")
	return nil
}

func runConnectSts(ctx context.Context, c *console, out io.Writer, _ []string) error {
	st, err := c.current.loop.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(out, connect.FormatStatus(st))
	return nil
}

func runCapList(_ context.Context, c *console, out io.Writer, _ []string) error {
	if c.current.caps == nil {
		return fmt.Errorf("no capability table")
	}
	fmt.Fprint(out, c.current.caps.Format())
	s := c.current.caps.Stats()
	fmt.Fprintf(out, "invoked=%d unknown=%d rejected=%d\n", s.Invoked, s.Unknown, s.Rejected)
	return nil
}

func runEvents(_ context.Context, c *console, out io.Writer, _ []string) error {
	if c.current.events == nil {
		return fmt.Errorf("no event queue")
	}
	evs := c.current.events.Drain()
	for _, e := range evs {
		fmt.Fprintf(out, "%s %-10s %s\n", e.Time.Format("15:04:05.000"), e.Kind, e)
	}
	if dropped := c.current.events.Dropped(); dropped > 0 {
		fmt.Fprintf(out, "(%d events dropped)\n", dropped)
	}
	if len(evs) == 0 {
		fmt.Fprintln(out, "no events")
	}
	return nil
}

func runScanCode(ctx context.Context, c *console, out io.Writer, args []string) error {
	if len(args) == 0 || len(args)%3 != 0 {
		return errUsage
	}
	values, err := parseBytes(args)
	if err != nil {
		return err
	}
	entries := make([]connect.TriggerGuide, 0, len(values)/3)
	for i := 0; i < len(values); i += 3 {
		entries = append(entries, connect.TriggerGuide{Type: values[i], State: values[i+1], ScanCode: values[i+2]})
	}
	if err := c.do(ctx, func(n *connect.Node) error { return n.SendScanCode(entries...) }); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent %d scan codes\n", len(entries))
	return nil
}

func runRemoteCap(ctx context.Context, c *console, out io.Writer, args []string) error {
	if len(args) < 4 {
		return errUsage
	}
	if args[0] == "b" || args[0] == "broadcast" {
		args[0] = strconv.Itoa(connect.IDBroadcast)
	}
	if idx, ok := c.capabilityIndex(args[1]); ok {
		args[1] = strconv.Itoa(int(idx))
	}
	values, err := parseBytes(args)
	if err != nil {
		return err
	}
	id, index, state, stateType := values[0], values[1], values[2], values[3]
	err = c.do(ctx, func(n *connect.Node) error {
		return n.SendRemoteCapability(id, index, state, stateType, values[4:])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sent capability %d to %d\n", index, id)
	return nil
}

// capabilityIndex resolves a capability name on the current target
func (c *console) capabilityIndex(name string) (uint8, bool) {
	if c.current.caps == nil {
		return 0, false
	}
	return c.current.caps.Lookup(name)
}

func runAnimation(ctx context.Context, c *console, out io.Writer, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	values, err := parseBytes(args)
	if err != nil {
		return err
	}
	if err := c.do(ctx, func(n *connect.Node) error { return n.SendAnimation(values[0], values[1:]) }); err != nil {
		return err
	}
	fmt.Fprintf(out, "sent animation %d\n", values[0])
	return nil
}

func runPower(_ context.Context, c *console, out io.Writer, _ []string) error {
	if c.current.power == nil {
		return fmt.Errorf("no power budget")
	}
	fmt.Fprintf(out, "budget %d mA (%d changes)\n", c.current.power.Current(), c.current.power.Changes())
	return nil
}

func runSelectNode(_ context.Context, c *console, out io.Writer, args []string) error {
	if len(args) == 0 {
		names := make([]string, 0, len(c.targets))
		for _, t := range c.targets {
			mark := " "
			if t == c.current {
				mark = "*"
			}
			names = append(names, mark+" "+t.name)
		}
		sort.Strings(names)
		fmt.Fprintln(out, strings.Join(names, "\n"))
		return nil
	}
	for _, t := range c.targets {
		if t.name == args[0] {
			c.current = t
			fmt.Fprintf(out, "selected %s\n", t.name)
			return nil
		}
	}
	return fmt.Errorf("no node named %q", args[0])
}

// consoleExit makes a piped console script end the command once it ran
var consoleExit bool

// runConsole runs the interactive shell until exit or ctx is cancelled.
// Without a terminal on stdin the lines are read as a script instead and
// the node keeps running afterwards unless consoleExit is set.
func runConsole(ctx context.Context, c *console) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		if err := runScript(ctx, c, os.Stdin, os.Stdout); err != nil {
			return err
		}
		if !consoleExit {
			<-ctx.Done()
		}
		return nil
	}

	shell := ishell.New()
	shell.SetPrompt(c.prompt())
	shell.Println("UARTConnect console, type help for commands")

	for _, cc := range consoleCommands {
		cc := cc
		help := cc.help
		if cc.usage != "" {
			help += " (" + cc.name + " " + cc.usage + ")"
		}
		shell.AddCmd(&ishell.Cmd{
			Name: cc.name,
			Help: help,
			Func: func(ic *ishell.Context) {
				var b strings.Builder
				line := strings.Join(append([]string{cc.name}, ic.Args...), " ")
				if err := c.runConsoleLine(ctx, &b, line); err != nil {
					ic.Err(err)
					return
				}
				ic.Print(b.String())
				ic.SetPrompt(c.prompt())
			},
		})
	}

	go func() {
		<-ctx.Done()
		shell.Stop()
	}()
	shell.Run()
	return nil
}

// runScript executes console lines from r, stopping at the first error
func runScript(ctx context.Context, c *console, r io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := c.runConsoleLine(ctx, out, scanner.Text()); err != nil {
			return err
		}
	}
	return scanner.Err()
}
