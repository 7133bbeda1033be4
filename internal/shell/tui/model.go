// Package tui is the terminal mission-control shell for the station-keeping
// engine.
package tui

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/signalsfoundry/station-keeper/core"
	"github.com/signalsfoundry/station-keeper/internal/sim"
	"github.com/signalsfoundry/station-keeper/internal/sim/state"
	"github.com/signalsfoundry/station-keeper/orbit"
	"github.com/signalsfoundry/station-keeper/timectrl"
)

const (
	refreshInterval = 500 * time.Millisecond
	historyRows     = 6
	sparkWidth      = 60
	orbitWidth      = 44
	orbitHeight     = 15
	orbitSamples    = 120
)

// Station is the engine surface the shell drives.
type Station interface {
	Start(ctx context.Context) error
	Stop() error
	TogglePause() (timectrl.Phase, bool)
	ToggleRecording() bool
	ClearHistory()
	ResetController()

	Status() sim.Status
	History() []state.DriftEvent
	Series() state.SeriesSnapshot
}

// ReportMsg carries a tick report into the bubbletea event loop.
type ReportMsg sim.Report

type refreshMsg time.Time

func refresh() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return refreshMsg(t)
	})
}

// Observer forwards engine ticks to p without blocking the loop goroutine.
func Observer(p *tea.Program) sim.Observer {
	return func(r sim.Report) {
		go p.Send(ReportMsg(r))
	}
}

// Model is the bubbletea model.
type Model struct {
	ctx     context.Context
	station Station

	status  sim.Status
	latest  *state.TelemetryEntry
	history []state.DriftEvent
	series  state.SeriesSnapshot

	orbitPath []core.Vec3
	orbitIdx  int

	err error
}

// New returns a model bound to st. Loops started from the shell run under ctx.
func New(ctx context.Context, st Station) Model {
	path, _ := orbit.Path(orbit.DefaultElements(), orbitSamples)
	m := Model{ctx: ctx, station: st, orbitPath: path}
	m.pull()
	return m
}

func (m *Model) pull() {
	m.status = m.station.Status()
	m.history = m.station.History()
	m.series = m.station.Series()
}

func (m Model) Init() tea.Cmd {
	return refresh()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		m.err = nil
		switch msg.String() {
		case "ctrl+c", "q":
			if err := m.station.Stop(); err != nil && !errors.Is(err, timectrl.ErrNotRunning) {
				m.err = err
			}
			return m, tea.Quit
		case "s":
			if m.station.Status().Phase == timectrl.Stopped.String() {
				m.err = m.station.Start(m.ctx)
			} else {
				m.err = m.station.Stop()
			}
		case "p":
			m.station.TogglePause()
		case "r":
			m.station.ToggleRecording()
		case "c":
			m.station.ClearHistory()
		case "z":
			m.station.ResetController()
		}
		m.pull()
		return m, nil

	case ReportMsg:
		entry := msg.Entry
		m.latest = &entry
		if len(m.orbitPath) > 1 {
			m.orbitIdx = (m.orbitIdx + 1) % (len(m.orbitPath) - 1)
		}
		m.pull()
		return m, nil

	case refreshMsg:
		m.pull()
		return m, refresh()
	}
	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

func (m Model) View() string {
	var s strings.Builder
	s.WriteString(titleStyle.Render("STATION KEEPING MISSION CONTROL"))
	s.WriteString("\n\n")

	left := lipgloss.JoinVertical(lipgloss.Left,
		panelStyle.Render(m.renderStatus()),
		panelStyle.Render(m.renderTelemetry()),
	)
	right := panelStyle.Render(m.renderOrbit())
	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, left, right))
	s.WriteString("\n")
	s.WriteString(panelStyle.Render(m.renderDrift()))
	s.WriteString("\n")
	s.WriteString(panelStyle.Render(m.renderHistory()))
	s.WriteString("\n")

	if m.err != nil {
		s.WriteString(errStyle.Render("error: " + m.err.Error()))
		s.WriteString("\n")
	}
	s.WriteString(helpStyle.Render("s start/stop · p pause · r record · c clear history · z reset PID · q quit"))
	return s.String()
}

func (m Model) renderStatus() string {
	st := m.status
	var b strings.Builder
	b.WriteString(headerStyle.Render("Loop"))
	b.WriteString("\n")

	phase := strings.ToUpper(st.Phase)
	switch st.Phase {
	case timectrl.Running.String():
		phase = okStyle.Render(phase)
	case timectrl.Paused.String():
		phase = warnStyle.Render(phase)
	}
	fmt.Fprintf(&b, "phase      %s", phase)
	if st.Recording {
		b.WriteString("  " + recStyle.Render("● RECORDING"))
	}
	fmt.Fprintf(&b, "\nmode       %s @ %s\n", st.Mode, st.TickPeriod)
	fmt.Fprintf(&b, "ticks      %d\n", st.Ticks)
	fmt.Fprintf(&b, "sim time   %s\n", st.SimTime.Format(time.RFC3339))
	fmt.Fprintf(&b, "corrections %d\n", st.TotalCorrections)
	fmt.Fprintf(&b, "gains      kp=%.3f ki=%.3f kd=%.3f", st.Gains.Kp, st.Gains.Ki, st.Gains.Kd)
	return b.String()
}

func (m Model) renderTelemetry() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Telemetry"))
	b.WriteString("\n")
	if m.latest == nil {
		b.WriteString(helpStyle.Render("waiting for first tick"))
		return b.String()
	}
	e := m.latest
	course := okStyle.Render("ON COURSE")
	if !e.OnCourse {
		course = warnStyle.Render("CORRECTING")
	}
	fmt.Fprintf(&b, "%s  %s\n", e.Timestamp.Format(time.TimeOnly), course)
	fmt.Fprintf(&b, "position   %s\n", e.CurrentPosition)
	fmt.Fprintf(&b, "target     %s\n", e.TargetPosition)
	fmt.Fprintf(&b, "error      %.4f km", e.ErrorMagnitude)
	if e.Correction != nil {
		fmt.Fprintf(&b, "\ncorrection %s", *e.Correction)
	}
	return b.String()
}

func (m Model) renderDrift() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Distance to target"))
	b.WriteString("\n")
	d := m.series.Distances
	if len(d) == 0 {
		b.WriteString(helpStyle.Render("no samples"))
		return b.String()
	}
	b.WriteString(Sparkline(d, sparkWidth))
	lo, hi := minMax(d)
	fmt.Fprintf(&b, "\nmin %.4f  max %.4f  last %.4f km", lo, hi, d[len(d)-1])
	return b.String()
}

func (m Model) renderHistory() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Drift history (%d)", len(m.history))))
	events := m.history
	if len(events) > historyRows {
		events = events[len(events)-historyRows:]
	}
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		fmt.Fprintf(&b, "\n%s  err %.4f  corr %s", ev.Timestamp.Format(time.TimeOnly), ev.ErrorMagnitude, ev.Correction)
	}
	if len(events) == 0 {
		b.WriteString("\n" + helpStyle.Render("empty (press r to record)"))
	}
	return b.String()
}

func (m Model) renderOrbit() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Orbit"))
	b.WriteString("\n")
	b.WriteString(RenderOrbit(m.orbitPath, m.orbitIdx, orbitWidth, orbitHeight))
	return b.String()
}

var sparkRunes = []rune("▁▂▃▄▅▆▇█")

// Sparkline renders the last width values scaled between their min and max.
func Sparkline(values []float64, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := minMax(values)
	out := make([]rune, len(values))
	for i, v := range values {
		idx := 0
		if hi > lo {
			idx = int(math.Round((v - lo) / (hi - lo) * float64(len(sparkRunes)-1)))
		}
		out[i] = sparkRunes[idx]
	}
	return string(out)
}

// RenderOrbit projects path onto the x/y plane of a width by height grid and
// marks sample idx with the satellite glyph.
func RenderOrbit(path []core.Vec3, idx, width, height int) string {
	if len(path) == 0 || width < 3 || height < 3 {
		return ""
	}
	var extent float64
	for _, p := range path {
		extent = math.Max(extent, math.Max(math.Abs(p.X), math.Abs(p.Y)))
	}
	if extent == 0 {
		extent = 1
	}

	grid := make([][]rune, height)
	for r := range grid {
		grid[r] = []rune(strings.Repeat(" ", width))
	}
	cell := func(p core.Vec3) (int, int) {
		col := int(math.Round((p.X/extent + 1) / 2 * float64(width-1)))
		row := int(math.Round((1 - p.Y/extent) / 2 * float64(height-1)))
		return row, col
	}
	for _, p := range path {
		r, c := cell(p)
		grid[r][c] = '·'
	}
	cr, cc := cell(core.Vec3{})
	grid[cr][cc] = '◉'
	if idx >= 0 && idx < len(path) {
		r, c := cell(path[idx])
		grid[r][c] = '✦'
	}

	lines := make([]string, height)
	for r, row := range grid {
		lines[r] = string(row)
	}
	return strings.Join(lines, "\n")
}

func minMax(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
