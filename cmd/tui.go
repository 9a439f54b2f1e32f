// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// dashboardStyles is shared by the link and node dashboards
var dashboardStyles = struct {
	title, header, label, value, err, warn, box, focusedBox lipgloss.Style
}{
	title:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Background(lipgloss.Color("235")).Padding(0, 1),
	header:     lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
	label:      lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true),
	value:      lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	err:        lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	warn:       lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	box:        lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1),
	focusedBox: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("12")).Padding(0, 1),
}

// labelled renders "label value" pairs separated by three spaces
func labelled(pairs ...string) string {
	st := dashboardStyles
	parts := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		parts = append(parts, st.label.Render(pairs[i])+" "+pairs[i+1])
	}
	return strings.Join(parts, "   ")
}

// errorLogEntry is one line of a dashboard event log
type errorLogEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

func formatLogEntry(entry errorLogEntry) string {
	st := dashboardStyles
	ts := st.header.Render(entry.timestamp.Format("15:04:05.000"))
	if entry.isError {
		return ts + " " + st.err.Render("✗ "+entry.message) + "\n"
	}
	return ts + " " + st.warn.Render("ℹ "+entry.message) + "\n"
}

// appendLog adds an entry and keeps at most limit entries
func appendLog(entries []errorLogEntry, limit int, message string, isError bool) []errorLogEntry {
	entries = append(entries, errorLogEntry{timestamp: time.Now(), message: message, isError: isError})
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}

// renderLog renders the last height entries, or a placeholder
func renderLog(entries []errorLogEntry, height int) string {
	if len(entries) == 0 {
		return dashboardStyles.header.Render("  (no events yet)")
	}
	start := len(entries) - height
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	for _, e := range entries[start:] {
		b.WriteString(formatLogEntry(e))
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatUptime renders a node's millisecond counter as "1 day, 2 hours and 5 seconds"
func formatUptime(ms uint64) string {
	secs := ms / 1000
	units := []struct {
		name string
		n    uint64
	}{
		{"day", secs / 86400},
		{"hour", secs / 3600 % 24},
		{"minute", secs / 60 % 60},
		{"second", secs % 60},
	}
	var parts []string
	for _, u := range units {
		if u.n == 0 {
			continue
		}
		p := fmt.Sprintf("%d %ss", u.n, u.name)
		if u.n == 1 {
			p = "1 " + u.name
		}
		parts = append(parts, p)
	}
	switch len(parts) {
	case 0:
		return "0 seconds"
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}

// model is the error_detection dashboard: link statistics, id traffic and
// a log of framing errors and cable faults
type model struct {
	connInfo      string
	showAll       bool
	stats         *connect.Statistics
	errorLog      []errorLogEntry
	maxLogEntries int
	synchronized  bool
	invalidBytes  int
	width         int
	height        int
	quitting      bool
	lastIdentity  map[connect.CommandKind]string
}

type tickMsg time.Time

// linkDataMsg carries one decoder result and the bytes read with it
type linkDataMsg struct {
	frame     *connect.Frame
	decodeErr error
	bytes     int
}

// syncMsg reports the first complete frame on the link
type syncMsg struct {
	invalidBytes int
}

func initialModel(connInfo string, showAll bool) model {
	return model{
		connInfo:      connInfo,
		showAll:       showAll,
		stats:         connect.NewStatistics(),
		maxLogEntries: 100,
		width:         80,
		height:        24,
		lastIdentity:  make(map[connect.CommandKind]string),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), tea.EnterAltScreen)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.stats.Reset()
			m.addLogEntry("Statistics reset", false)
		}

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height

	case tickMsg:
		m.stats.CalculateRates()
		return m, tickCmd()

	case syncMsg:
		m.synchronized = true
		m.invalidBytes = msg.invalidBytes
		if msg.invalidBytes > 0 {
			m.addLogEntry(fmt.Sprintf("Synchronized after %d framing errors", msg.invalidBytes), false)
		} else {
			m.addLogEntry("Synchronized", false)
		}

	case linkDataMsg:
		m.stats.AddBytes(msg.bytes)
		switch {
		case msg.decodeErr != nil:
			// Noise before the first frame is expected
			if m.synchronized {
				m.stats.Update(nil, msg.decodeErr)
				m.addLogEntry(describeLinkError(msg.decodeErr), true)
			}
		case msg.frame != nil:
			m.stats.Update(msg.frame, nil)
			m.trackTopology(msg.frame)
			if m.showAll {
				fields := strings.Join(strings.Fields(connect.FormatFields(msg.frame)), " ")
				m.addLogEntry(fmt.Sprintf("%s %s", msg.frame.Kind, fields), false)
			}
		}
	}
	return m, nil
}

// describeLinkError names the kind of failure seen on the cable
func describeLinkError(err error) string {
	if errors.Is(err, connect.ErrCableMismatch) {
		return fmt.Sprintf("CABLE FAULT: %v", err)
	}
	return fmt.Sprintf("FRAMING ERROR: %v", err)
}

// trackTopology remembers the last id traffic seen on the cable
func (m *model) trackTopology(f *connect.Frame) {
	switch f.Kind {
	case connect.IDEnumeration, connect.IDReport:
		id, _ := f.ID()
		m.lastIdentity[f.Kind] = fmt.Sprintf("%d", id)
		m.addLogEntry(fmt.Sprintf("%s id=%d", f.Kind, id), false)
	case connect.IDRequest:
		m.lastIdentity[f.Kind] = f.Timestamp.Format("15:04:05")
	}
}

func (m *model) addLogEntry(message string, isError bool) {
	m.errorLog = appendLog(m.errorLog, m.maxLogEntries, message, isError)
}

func (m model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}
	st := dashboardStyles

	mode := "errors only"
	if m.showAll {
		mode = "all frames"
	}

	var s strings.Builder
	s.WriteString(st.title.Render("UARTCONNECT LINK"))
	s.WriteString(" ")
	s.WriteString(st.header.Render(fmt.Sprintf("| %s | %s | r=reset q=quit", m.connInfo, mode)))
	s.WriteString("\n\n")

	if m.synchronized {
		s.WriteString(st.value.Render("✓ Synchronized"))
		if m.invalidBytes > 0 {
			s.WriteString(st.header.Render(fmt.Sprintf(" (skipped %d framing errors)", m.invalidBytes)))
		}
	} else {
		s.WriteString(st.warn.Render("Waiting for the first frame..."))
	}
	s.WriteString("\n")

	s.WriteString(st.box.Render(m.viewStats()))
	s.WriteString("\n")
	if topo := m.viewTopology(); topo != "" {
		s.WriteString(st.box.Render(topo))
		s.WriteString("\n")
	}

	logHeight := m.height - 15
	if logHeight < 5 {
		logHeight = 5
	}
	s.WriteString(st.label.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(st.box.Width(m.width - 4).Render(renderLog(m.errorLog, logHeight)))
	return s.String()
}

func (m model) viewStats() string {
	st := dashboardStyles
	stats := m.stats
	stats.CalculateRates()

	errs := stats.FramingErrors + stats.CableFaults
	var pct float64
	if seen := stats.TotalFrames + errs; seen > 0 {
		pct = float64(errs) * 100 / float64(seen)
	}
	errStyle := st.value
	if errs > 0 {
		errStyle = st.err
	}

	lines := []string{labelled(
		"Frames:", st.value.Render(fmt.Sprintf("%d", stats.TotalFrames)),
		"Bytes:", st.value.Render(fmt.Sprintf("%d", stats.Bytes)),
		"Errors:", errStyle.Render(fmt.Sprintf("%d (%.1f%%)", errs, pct)),
	)}
	if errs > 0 {
		lines = append(lines, labelled(
			"Framing Errors:", st.err.Render(fmt.Sprintf("%d", stats.FramingErrors)),
			"Cable Faults:", st.err.Render(fmt.Sprintf("%d", stats.CableFaults)),
		))
	}

	var kinds []string
	for _, k := range connect.Kinds() {
		if c := stats.FramesByKind[k]; c > 0 {
			kinds = append(kinds, fmt.Sprintf("%s=%d", k, c))
		}
	}
	if len(kinds) > 0 {
		lines = append(lines, st.header.Render(strings.Join(kinds, "  ")))
	}

	lines = append(lines, labelled(
		"Frame Rate:", st.value.Render(fmt.Sprintf("%.1f frames/s", stats.FrameRate)),
		"Error Rate:", errStyle.Render(fmt.Sprintf("%.1f err/s", stats.ErrorRate)),
	))
	return strings.Join(lines, "\n")
}

// viewTopology lists the last id traffic, empty until some was seen
func (m model) viewTopology() string {
	st := dashboardStyles
	var lines []string
	for _, k := range []connect.CommandKind{connect.IDRequest, connect.IDEnumeration, connect.IDReport} {
		if v, ok := m.lastIdentity[k]; ok {
			lines = append(lines, st.label.Render(k.String()+":")+" "+st.value.Render(v))
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return st.label.Render("Topology:") + "\n" + strings.Join(lines, "\n")
}
