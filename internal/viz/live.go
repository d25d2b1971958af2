package viz

import (
	"fmt"
	"math"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/servoloop/internal/servo"
)

const (
	canvasWidth     = 40
	canvasHeight    = 12
	historyCapacity = 600
	graphWidth      = 40
)

// CycleMsg carries one cycle from the feed.
type CycleMsg servo.Cycle

// DoneMsg reports the end of the loop. Send it with tea.Program.Send.
type DoneMsg struct {
	State string
	Err   error
}

type feedClosedMsg struct{}

// Tunable exposes a loop stage's parameters under a prefix, e.g.
// "decision" or "control".
type Tunable struct {
	Prefix string
	Target servo.Configurable
}

type param struct {
	tunable int
	name    string
}

// integer-valued parameters move in whole steps
var integerParams = map[string]bool{
	"LossPatience": true,
}

// Model is the Bubble Tea model of the live dashboard.
type Model struct {
	title     string
	feed      <-chan servo.Cycle
	margin    float64
	tunables  []Tunable
	params    []param
	initial   map[param]float64
	selected  int
	history   []servo.Cycle
	playHead  int
	showHelp  bool
	finished  bool
	endState  string
	endErr    error
	lastError string
	canvas    *Canvas
}

// NewModel builds a dashboard reading from feed. margin is the decision
// engine's center margin, drawn as the centered band.
func NewModel(title string, feed <-chan servo.Cycle, margin float64, tunables ...Tunable) Model {
	m := Model{
		title:    title,
		feed:     feed,
		margin:   margin,
		tunables: tunables,
		initial:  make(map[param]float64),
		playHead: -1,
		canvas:   NewCanvas(canvasWidth, canvasHeight),
	}
	for i, t := range tunables {
		values := t.Target.GetParams()
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := param{tunable: i, name: name}
			m.params = append(m.params, p)
			m.initial[p] = values[name]
		}
	}
	return m
}

func waitForCycle(feed <-chan servo.Cycle) tea.Cmd {
	return func() tea.Msg {
		c, ok := <-feed
		if !ok {
			return feedClosedMsg{}
		}
		return CycleMsg(c)
	}
}

func (m Model) Init() tea.Cmd {
	return waitForCycle(m.feed)
}

// Update handles input events and incoming cycles.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.togglePause()
		case "r":
			m.reset()
		case "[":
			m.scrub(-1)
		case "]":
			m.scrub(1)
		case "tab":
			m.cycleParam()
		case "up", "k":
			m.adjustParam(1)
		case "down", "j":
			m.adjustParam(-1)
		case "?":
			m.showHelp = !m.showHelp
		case "t":
			SetTheme(nextTheme())
		}
	case CycleMsg:
		m.history = append(m.history, servo.Cycle(msg))
		if len(m.history) > historyCapacity {
			m.history = m.history[1:]
			if m.playHead > 0 {
				m.playHead--
			}
		}
		return m, waitForCycle(m.feed)
	case feedClosedMsg:
		return m, nil
	case DoneMsg:
		m.finished = true
		m.endState = msg.State
		m.endErr = msg.Err
	}
	return m, nil
}

func (m *Model) cycleParam() {
	if len(m.params) == 0 {
		return
	}
	m.selected = (m.selected + 1) % len(m.params)
}

// adjustParam moves the selected parameter by 5% (or by one for integer
// parameters) in direction dir. Rejected values leave the stage unchanged.
func (m *Model) adjustParam(dir int) {
	if len(m.params) == 0 {
		return
	}
	p := m.params[m.selected]
	target := m.tunables[p.tunable].Target
	val := target.GetParams()[p.name]

	next := val * (1 + 0.05*float64(dir))
	switch {
	case integerParams[p.name]:
		next = val + float64(dir)
	case val == 0 && dir > 0:
		next = 0.05
	}
	if err := target.SetParam(p.name, next); err != nil {
		m.lastError = err.Error()
		return
	}
	m.lastError = ""
}

// togglePause pins the display to the newest cycle, or returns to live.
func (m *Model) togglePause() {
	if m.playHead >= 0 || len(m.history) == 0 {
		m.playHead = -1
		return
	}
	m.playHead = len(m.history) - 1
}

// scrub changes the playback position in history. Moving past the newest
// cycle returns to live.
func (m *Model) scrub(dir int) {
	if m.playHead == -1 {
		if len(m.history) == 0 {
			return
		}
		m.playHead = len(m.history) - 1
	}
	m.playHead += dir
	if m.playHead < 0 {
		m.playHead = 0
	}
	if m.playHead >= len(m.history) {
		m.playHead = -1
	}
}

// reset restores the initial parameters and clears history.
func (m *Model) reset() {
	for p, v := range m.initial {
		_ = m.tunables[p.tunable].Target.SetParam(p.name, v)
	}
	m.history = m.history[:0]
	m.playHead = -1
	m.lastError = ""
}

// visible returns the cycles on screen, ending at the play head.
func (m Model) visible() []servo.Cycle {
	if m.playHead >= 0 && m.playHead < len(m.history) {
		return m.history[:m.playHead+1]
	}
	return m.history
}

// draw renders the frame: border, center band and the target column.
func (m *Model) draw(c servo.Cycle, ok bool) {
	m.canvas.Clear()
	w, h := m.canvas.Dots()
	m.canvas.DrawRect(0, 0, w-1, h-1)

	cx := (w - 1) / 2
	band := int(m.margin * float64(w-1) / 2)
	m.canvas.DrawDashed(cx-band, 1, h-2)
	m.canvas.DrawDashed(cx+band, 1, h-2)

	if !ok || c.FrameLost || !c.Target.Present {
		return
	}
	offset := math.Max(-1, math.Min(1, c.Target.Offset))
	tx := int((offset + 1) / 2 * float64(w-1))
	m.canvas.FillRect(tx-2, h/2-4, tx+2, h/2+4)
}

func (m Model) status() string {
	switch {
	case m.finished && m.endErr != nil:
		return SparkLow.Render(fmt.Sprintf("%s: %v", strings.ToUpper(m.endState), m.endErr))
	case m.finished:
		return Subtle.Render(strings.ToUpper(m.endState))
	case m.playHead >= 0:
		return SparkMid.Render(fmt.Sprintf("PAUSED %d/%d", m.playHead+1, len(m.history)))
	default:
		return SparkHigh.Render("RUNNING")
	}
}

// View renders the dashboard.
func (m Model) View() string {
	cycles := m.visible()
	var last servo.Cycle
	if len(cycles) > 0 {
		last = cycles[len(cycles)-1]
	}
	m.draw(last, len(cycles) > 0)

	var left strings.Builder
	left.WriteString(canvasStyle.Render(m.canvas.String()) + "\n")
	left.WriteString(BehaviorStrip(cycles, canvasWidth+4) + "\n")

	var s strings.Builder
	s.WriteString(headerStyle.Render(strings.ToUpper(m.title)) + "\n")
	s.WriteString(m.status() + "\n\n")

	row := func(label, value string) {
		s.WriteString(labelStyle.Render(label) + value + "\n")
	}
	if len(cycles) == 0 {
		row("Cycle", Subtle.Render("waiting for frames"))
	} else {
		row("Cycle", valueStyle.Render(fmt.Sprintf("%d", last.Index)))
		if last.FrameLost {
			row("Frame", SparkLow.Render("lost"))
		} else {
			row("Frame", valueStyle.Render(fmt.Sprintf("%d", last.FrameIndex)))
		}
		row("Behavior", BehaviorStyle(last.Decision.Behavior).Render(last.Decision.Behavior.String()))
		row("Last seen", valueStyle.Render(last.Decision.SearchDirection.String()))
		if last.Target.Present {
			row("Offset", valueStyle.Render(fmt.Sprintf("%+.3f", last.Target.Offset)))
			row("Confidence", ProgressBar(last.Target.Confidence, 12))
		} else {
			row("Offset", Subtle.Render("no target"))
		}
		row("Detections", valueStyle.Render(fmt.Sprintf("%d", last.Detections)))
		row("Linear", valueStyle.Render(fmt.Sprintf("%+.3f", last.Signal.Linear)))
		row("Angular", valueStyle.Render(fmt.Sprintf("%+.3f", last.Signal.Angular)))
	}

	if len(cycles) > 1 {
		offsets := make([]float64, len(cycles))
		angular := make([]float64, len(cycles))
		for i, c := range cycles {
			angular[i] = c.Signal.Angular
			if c.Target.Present {
				offsets[i] = c.Target.Offset
			}
		}
		s.WriteString("\n" + graphStyle.Render(asciigraph.Plot(tail(angular, graphWidth),
			asciigraph.Height(4), asciigraph.Width(graphWidth), asciigraph.Caption("angular"))) + "\n")
		s.WriteString("\n" + graphStyle.Render(asciigraph.Plot(tail(offsets, graphWidth),
			asciigraph.Height(4), asciigraph.Width(graphWidth), asciigraph.Caption("offset"),
			asciigraph.LowerBound(-1), asciigraph.UpperBound(1))) + "\n")
	}

	s.WriteString("\nPARAMETERS\n")
	if len(m.params) == 0 {
		s.WriteString(labelStyle.Render("  (none)") + "\n")
	}
	for i, p := range m.params {
		t := m.tunables[p.tunable]
		line := fmt.Sprintf("%-26s %.3f", t.Prefix+"."+p.name, t.Target.GetParams()[p.name])
		if i == m.selected {
			s.WriteString(activeParamStyle.Render("> "+line) + "\n")
		} else {
			s.WriteString("  " + Subtle.Render(line) + "\n")
		}
	}
	if m.lastError != "" {
		s.WriteString(SparkLow.Render(m.lastError) + "\n")
	}
	s.WriteString(helpStyle.Render("SP:Freeze R:Reset Q:Quit\nTab:Param ↑↓:Tune T:Theme\n[ ]:Replay ?:Help"))

	mainView := lipgloss.JoinHorizontal(lipgloss.Top, left.String(), statsStyle.Render(s.String()))
	if m.showHelp {
		return `
╔══════════════════════════════════════╗
║          KEYBOARD SHORTCUTS          ║
╠══════════════════════════════════════╣
║  Space    - Freeze/unfreeze display  ║
║  R        - Restore parameters       ║
║  Q        - Quit                     ║
║  Tab      - Cycle parameters         ║
║  Up/K     - Increase parameter       ║
║  Down/J   - Decrease parameter       ║
║  [        - Step back through cycles ║
║  ]        - Step forward             ║
║  T        - Cycle themes             ║
║  ?        - Toggle this help         ║
╚══════════════════════════════════════╝
` + "\n\n" + mainView
	}
	return mainView
}

func tail(values []float64, n int) []float64 {
	if len(values) > n {
		return values[len(values)-n:]
	}
	return values
}
