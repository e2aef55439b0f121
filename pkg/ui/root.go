// Copyright 2023 Ewout Prangsma
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Author Ewout Prangsma
//

package ui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/ssh"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"

	"github.com/binkynet/DeviceBus/pkg/service/devicebus"
)

const refreshInterval = time.Second

// StatusSource provides the status shown in the UI.
type StatusSource interface {
	// Snapshot returns the status of all buses & devices.
	Snapshot() []devicebus.BusStatus
}

// UI serves the status UI over SSH.
type UI struct {
	source  StatusSource
	started time.Time
}

// New creates a UI showing the status of the given source.
func New(source StatusSource) *UI {
	return &UI{
		source:  source,
		started: time.Now(),
	}
}

// Handler creates a model for an incoming SSH session.
func (u *UI) Handler(s ssh.Session) (tea.Model, []tea.ProgramOption) {
	pty, _, _ := s.Pty()
	r := NewRoot(u.source, u.started)
	r.term = pty.Term
	r.width = pty.Window.Width
	r.height = pty.Window.Height
	return r, []tea.ProgramOption{tea.WithAltScreen()}
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("63"))
	faintStyle = lipgloss.NewStyle().Faint(true)
	tableStyle = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("240"))
)

type Root struct {
	source  StatusSource
	started time.Time
	term    string
	width   int
	height  int
	loadAvg string
	buses   []devicebus.BusStatus
	devices table.Model
}

var _ tea.Model = Root{}

// NewRoot creates the root model.
func NewRoot(source StatusSource, started time.Time) Root {
	t := table.New(
		table.WithColumns(deviceColumns()),
		table.WithHeight(10),
		table.WithFocused(true),
	)
	r := Root{
		source:  source,
		started: started,
		devices: t,
	}
	return r.refresh()
}

// Init is the first function that will be called. It returns an optional
// initial command. To not perform an initial command return nil.
func (r Root) Init() tea.Cmd {
	return tea.Batch(doReloadCPULoadAvg(), doRefresh())
}

// Update is called when a message is received. Use it to inspect messages
// and, in response, update the model and/or send a command.
func (r Root) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadAvgMsg:
		r.loadAvg = string(msg)
		return r, doReloadCPULoadAvg()
	case refreshMsg:
		return r.refresh(), doRefresh()
	case tea.WindowSizeMsg:
		r.height = msg.Height
		r.width = msg.Width
		r.devices.SetHeight(max(r.height-lipgloss.Height(r.headerView())-4, 3))
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return r, tea.Quit
		case "r":
			return r.refresh(), nil
		}
	}

	// Handle keyboard events in the table
	var cmd tea.Cmd
	r.devices, cmd = r.devices.Update(msg)
	return r, cmd
}

// View renders the program's UI, which is just a string. The view is
// rendered after every Update.
func (r Root) View() string {
	return r.headerView() +
		tableStyle.Render(r.devices.View()) + "\n" +
		faintStyle.Render("r - Refresh, q - Disconnect") + "\n"
}

func (r Root) headerView() string {
	transactions := lo.SumBy(r.buses, func(b devicebus.BusStatus) uint64 { return b.Transactions })
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Device bus"),
		fmt.Sprintf("Started %s, %s transactions on %d buses",
			humanize.Time(r.started), humanize.Comma(int64(transactions)), len(r.buses)),
		faintStyle.Render(strings.TrimSpace(r.loadAvg)),
	) + "\n"
}

// refresh reloads the status of all devices.
func (r Root) refresh() Root {
	r.buses = r.source.Snapshot()
	r.devices.SetRows(deviceRows(r.buses))
	return r
}

func deviceColumns() []table.Column {
	return []table.Column{
		{Title: "Bus", Width: 8},
		{Title: "Device", Width: 12},
		{Title: "Driver", Width: 9},
		{Title: "Address", Width: 7},
		{Title: "Status", Width: 15},
		{Title: "Transactions", Width: 12},
		{Title: "Rounds", Width: 10},
		{Title: "Values", Width: 40},
	}
}

// deviceRows builds a table row for every device of every bus.
func deviceRows(buses []devicebus.BusStatus) []table.Row {
	var rows []table.Row
	for _, b := range buses {
		for _, d := range b.Devices {
			rows = append(rows, table.Row{
				b.Name,
				d.Name,
				d.Driver,
				d.Address,
				deviceState(d),
				humanize.Comma(int64(d.Transactions)),
				humanize.Comma(int64(d.Rounds)),
				strings.Join(lo.Map(d.Values, func(v int, _ int) string { return fmt.Sprint(v) }), " "),
			})
		}
	}
	return rows
}

func deviceState(d devicebus.DeviceStatus) string {
	switch {
	case !d.Enabled:
		return "disabled"
	case !d.Connected:
		return d.LastStatus
	default:
		return "connected"
	}
}

type refreshMsg struct{}

func doRefresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg{}
	})
}

type loadAvgMsg string

func doReloadCPULoadAvg() tea.Cmd {
	return tea.Tick(time.Second*2, func(t time.Time) tea.Msg {
		if content, err := os.ReadFile("/proc/loadavg"); err != nil {
			return loadAvgMsg(err.Error())
		} else {
			return loadAvgMsg(string(content))
		}
	})
}
