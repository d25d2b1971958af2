package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/san-kum/servoloop/internal/servo"
)

var (
	canvasStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444466")).
			Padding(0, 1)

	statsStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), false, false, false, true).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 2).
			Width(48)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffffff")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("#444466"))

	Subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#888899")).
			Width(12)

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00ccff")).
			Bold(true)

	activeParamStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("205")).
				Bold(true)

	graphStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("49"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666688")).
			Italic(true).
			MarginTop(1)

	SparkHigh = lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff88"))
	SparkMid  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00"))
	SparkLow  = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff4444"))
)

// BehaviorStyle colors a behavior with the current theme.
func BehaviorStyle(b servo.Behavior) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	switch b {
	case servo.Forward:
		return style.Foreground(CurrentTheme.Success)
	case servo.RotateLeft, servo.RotateRight:
		return style.Foreground(CurrentTheme.Secondary)
	case servo.Search:
		return style.Foreground(CurrentTheme.Warning)
	default:
		return style.Foreground(CurrentTheme.Muted)
	}
}

// ProgressBar renders a bar for a value in [0, 1].
func ProgressBar(percent float64, width int) string {
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	if percent > 0.8 {
		return SparkHigh.Render(bar)
	} else if percent > 0.4 {
		return SparkMid.Render(bar)
	}
	return SparkLow.Render(bar)
}

// BehaviorStrip renders one glyph per cycle, newest last.
func BehaviorStrip(cycles []servo.Cycle, width int) string {
	if len(cycles) > width {
		cycles = cycles[len(cycles)-width:]
	}
	var b strings.Builder
	for _, c := range cycles {
		glyph := "·"
		switch c.Decision.Behavior {
		case servo.Forward:
			glyph = "▲"
		case servo.RotateLeft:
			glyph = "◀"
		case servo.RotateRight:
			glyph = "▶"
		case servo.Search:
			glyph = "?"
		}
		if c.FrameLost {
			glyph = "✗"
		}
		b.WriteString(BehaviorStyle(c.Decision.Behavior).Render(glyph))
	}
	if pad := width - len(cycles); pad > 0 {
		b.WriteString(Subtle.Render(strings.Repeat("─", pad)))
	}
	return b.String()
}

func Separator(width int) string {
	mid := width / 2
	left := strings.Repeat("─", mid-3)
	right := strings.Repeat("─", width-mid-3)
	return Subtle.Render(left + " ◆ " + right)
}
