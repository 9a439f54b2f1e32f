// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const statusPollInterval = 250 * time.Millisecond

// Focus states
const (
	focusNodeList = iota
	focusCommandInput
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// nodeItem is one node in the list panel
type nodeItem struct {
	t      *target
	status *connect.Status
}

// Implement list.Item interface
func (n nodeItem) Title() string { return n.t.name }
func (n nodeItem) Description() string {
	if n.status == nil {
		return "waiting..."
	}
	id := n.status.Identity
	if !id.Assigned() {
		return fmt.Sprintf("%s, unassigned", id.Role)
	}
	return fmt.Sprintf("%s, id %d", id.Role, id.ID)
}
func (n nodeItem) FilterValue() string { return n.t.name }

// nodeModel is the Bubble Tea model for the node dashboard
type nodeModel struct {
	ctx      context.Context
	console  *console
	connInfo string

	nodes    list.Model
	links    table.Model
	input    textinput.Model
	statuses map[string]connect.Status

	errorLog      []errorLogEntry
	maxLogEntries int
	eventCount    int

	focusedField int
	width        int
	height       int
	quitting     bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type nodeTickMsg time.Time

type nodeStatusMsg struct {
	statuses map[string]connect.Status
	events   []string
	err      error
}

type consoleResultMsg struct {
	line   string
	output string
	err    error
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialNodeModel(ctx context.Context, c *console, connInfo string) nodeModel {
	ti := textinput.New()
	ti.Placeholder = "connectSts"
	ti.Prompt = "> "
	ti.CharLimit = 120
	ti.Width = 50

	items := make([]list.Item, 0, len(c.targets))
	for _, t := range c.targets {
		items = append(items, nodeItem{t: t})
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	nodeList := list.New(items, delegate, 24, 10)
	nodeList.Title = "Nodes"
	nodeList.SetShowStatusBar(false)
	nodeList.SetShowHelp(false)
	nodeList.SetFilteringEnabled(false)

	links := table.New(
		table.WithColumns([]table.Column{
			{Title: "Link", Width: 10},
			{Title: "OK", Width: 4},
			{Title: "Checks", Width: 8},
			{Title: "Faults", Width: 8},
			{Title: "Rx", Width: 12},
			{Title: "Tx", Width: 14},
		}),
		table.WithHeight(3),
		table.WithFocused(false),
	)

	return nodeModel{
		ctx:           ctx,
		console:       c,
		connInfo:      connInfo,
		nodes:         nodeList,
		links:         links,
		input:         ti,
		statuses:      make(map[string]connect.Status),
		errorLog:      make([]errorLogEntry, 0),
		maxLogEntries: 100,
		focusedField:  focusNodeList,
		width:         80,
		height:        24,
	}
}

// runNodeTUI shows the dashboard until the user quits or ctx is cancelled
func runNodeTUI(ctx context.Context, c *console, ends [2]endpoint) error {
	var info []string
	for _, d := range connect.Directions {
		if !ends[d].empty() {
			info = append(info, fmt.Sprintf("to %s: %s", d, ends[d]))
		}
	}
	return runDashboard(ctx, c, strings.Join(info, " | "))
}

func runDashboard(ctx context.Context, c *console, connInfo string) error {
	p := tea.NewProgram(initialNodeModel(ctx, c, connInfo), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("TUI error: %v", err)
	}
	return nil
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m nodeModel) Init() tea.Cmd {
	return tea.Batch(nodeTickCmd(), m.pollStatus())
}

func nodeTickCmd() tea.Cmd {
	return tea.Tick(statusPollInterval, func(t time.Time) tea.Msg {
		return nodeTickMsg(t)
	})
}

// pollStatus snapshots every node and drains their event queues
func (m nodeModel) pollStatus() tea.Cmd {
	targets := m.console.targets
	ctx := m.ctx
	return func() tea.Msg {
		msg := nodeStatusMsg{statuses: make(map[string]connect.Status, len(targets))}
		for _, t := range targets {
			sctx, cancel := context.WithTimeout(ctx, statusPollInterval)
			st, err := t.loop.Status(sctx)
			cancel()
			if err != nil {
				msg.err = fmt.Errorf("%s: %w", t.name, err)
				continue
			}
			msg.statuses[t.name] = st
			if t.events != nil {
				for _, e := range t.events.Drain() {
					msg.events = append(msg.events, fmt.Sprintf("%s: %s %s", t.name, e.Kind, e))
				}
			}
		}
		return msg
	}
}

func (m nodeModel) runCommand(line string) tea.Cmd {
	c, ctx := m.console, m.ctx
	return func() tea.Msg {
		var b strings.Builder
		err := c.runConsoleLine(ctx, &b, line)
		return consoleResultMsg{line: line, output: b.String(), err: err}
	}
}

func (m nodeModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.nodes.SetSize(24, m.height/2)

	case nodeTickMsg:
		return m, tea.Batch(nodeTickCmd(), m.pollStatus())

	case nodeStatusMsg:
		if msg.err != nil {
			m.addLogEntry(msg.err.Error(), true)
		}
		for _, ev := range msg.events {
			m.eventCount++
			m.addLogEntry(ev, false)
		}
		m.applyStatuses(msg.statuses)

	case consoleResultMsg:
		if msg.err != nil {
			m.addLogEntry(fmt.Sprintf("%s: %v", msg.line, msg.err), true)
		} else {
			for _, l := range strings.Split(strings.TrimRight(msg.output, "\n"), "\n") {
				if l != "" {
					m.addLogEntry(l, false)
				}
			}
		}
		m.selectCurrent()
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.input, cmd = m.input.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

func (m nodeModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "q":
		if m.focusedField == focusNodeList {
			m.quitting = true
			return m, tea.Quit
		}

	case "tab", "shift+tab":
		if m.focusedField == focusNodeList {
			m.focusedField = focusCommandInput
			m.input.Focus()
		} else {
			m.focusedField = focusNodeList
			m.input.Blur()
		}
		return m, nil

	case "enter":
		if m.focusedField == focusCommandInput {
			line := strings.TrimSpace(m.input.Value())
			m.input.SetValue("")
			if line == "" {
				return m, nil
			}
			return m, m.runCommand(line)
		}
	}

	var cmd tea.Cmd
	if m.focusedField == focusCommandInput {
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}
	m.nodes, cmd = m.nodes.Update(msg)
	if item, ok := m.nodes.SelectedItem().(nodeItem); ok {
		m.console.current = item.t
		m.refreshLinks()
	}
	return m, cmd
}

func (m nodeModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := dashboardStyles

	var s strings.Builder
	s.WriteString(st.title.Render("UARTCONNECT NODE"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | q=quit Tab=switch", m.connInfo)))
	s.WriteString("\n\n")

	// Layout: left panel (nodes) | right panel (identity and links)
	leftWidth := 26
	rightWidth := m.width - leftWidth - 6
	if rightWidth < 40 {
		rightWidth = 40
	}

	listStyle := st.box
	if m.focusedField == focusNodeList {
		listStyle = st.focusedBox
	}
	nodePanel := listStyle.Width(leftWidth).Render(m.nodes.View())
	detailPanel := st.box.Width(rightWidth).Render(m.viewDetail())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, nodePanel, " ", detailPanel))
	s.WriteString("\n")

	inputStyle := st.box
	if m.focusedField == focusCommandInput {
		inputStyle = st.focusedBox
	}
	s.WriteString(inputStyle.Width(m.width - 4).Render(m.input.View()))
	s.WriteString("\n")

	s.WriteString(st.label.Render(fmt.Sprintf("EVENTS (%d forwarded)", m.eventCount)))
	s.WriteString("\n")
	s.WriteString(st.box.Width(m.width - 4).Render(renderLog(m.errorLog, 8)))
	return s.String()
}

// viewDetail shows identity, links and power of the selected node
func (m nodeModel) viewDetail() string {
	st := dashboardStyles
	status, ok := m.currentStatus()
	if !ok {
		return st.warn.Render("Waiting for node status...")
	}

	id := status.Identity
	idText := "unassigned"
	if id.Assigned() {
		idText = fmt.Sprintf("%d", id.ID)
	}
	lines := []string{labelled(
		"Role:", st.value.Render(id.Role.String()),
		"ID:", st.value.Render(idText),
		"Override:", st.value.Render(id.Override.String()),
	)}
	pairs := []string{
		"Uptime:", st.value.Render(formatUptime(uint64(status.Millis))),
		"Debug:", st.value.Render(fmt.Sprintf("%t", status.Debug)),
	}
	if id.Role == connect.RoleMaster {
		pairs = append([]string{"Max ID:", st.value.Render(fmt.Sprintf("%d", id.MaxID))}, pairs...)
	}
	lines = append(lines, labelled(pairs...), "", m.links.View())

	if t := m.console.current; t != nil && t.power != nil {
		lines = append(lines, labelled("Budget:", st.value.Render(fmt.Sprintf("%d mA", t.power.Current()))))
	}
	for _, l := range status.Links {
		if !l.Health.OK && l.Health.FaultCount > 0 {
			lines = append(lines, st.err.Render(fmt.Sprintf("cable fault toward %s", l.Direction)))
		}
	}
	return strings.Join(lines, "\n")
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *nodeModel) addLogEntry(message string, isError bool) {
	m.errorLog = appendLog(m.errorLog, m.maxLogEntries, message, isError)
}

func (m *nodeModel) applyStatuses(statuses map[string]connect.Status) {
	for name, st := range statuses {
		m.statuses[name] = st
	}
	for i, item := range m.nodes.Items() {
		ni := item.(nodeItem)
		if st, ok := m.statuses[ni.t.name]; ok {
			ni.status = &st
			m.nodes.SetItem(i, ni)
		}
	}
	m.refreshLinks()
}

// selectCurrent moves the list cursor to the console target, which the
// node command may have changed
func (m *nodeModel) selectCurrent() {
	for i, item := range m.nodes.Items() {
		if item.(nodeItem).t == m.console.current {
			m.nodes.Select(i)
		}
	}
	m.refreshLinks()
}

func (m *nodeModel) currentStatus() (connect.Status, bool) {
	if m.console.current == nil {
		return connect.Status{}, false
	}
	st, ok := m.statuses[m.console.current.name]
	return st, ok
}

func (m *nodeModel) refreshLinks() {
	st, ok := m.currentStatus()
	if !ok {
		m.links.SetRows(nil)
		return
	}
	rows := make([]table.Row, 0, len(st.Links))
	for _, l := range st.Links {
		rx := l.Rx.String()
		if l.Rx == connect.RxCommand {
			rx = l.Pending.String()
		}
		tx := fmt.Sprintf("%d/%d", l.Queued, l.Capacity)
		if l.Locked {
			tx += " L"
		}
		rows = append(rows, table.Row{
			"to " + l.Direction.String(),
			fmt.Sprintf("%t", l.Health.OK),
			fmt.Sprintf("%d", l.Health.CheckCount),
			fmt.Sprintf("%d", l.Health.FaultCount),
			rx,
			tx,
		})
	}
	m.links.SetRows(rows)
}
