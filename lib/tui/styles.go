package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Dashboard palette, in 256-color terminal codes.
const (
	colorAccent  = lipgloss.Color("39")
	colorSurface = lipgloss.Color("236")
	colorRule    = lipgloss.Color("240")
	colorText    = lipgloss.Color("252")
	colorBright  = lipgloss.Color("255")
	colorDim     = lipgloss.Color("243")
	colorOK      = lipgloss.Color("42")
	colorDegrade = lipgloss.Color("214")
	colorFail    = lipgloss.Color("203")
)

type styleSet struct {
	Title       lipgloss.Style
	TabActive   lipgloss.Style
	TabInactive lipgloss.Style
	HelpText    lipgloss.Style
	StatusText  lipgloss.Style
	BoxTitle    lipgloss.Style
	TableHeader lipgloss.Style
	TableRow    lipgloss.Style
	Selected    lipgloss.Style
	Muted       lipgloss.Style
	Bold        lipgloss.Style

	// Outcome styles shared by breaker states, upstream health and the
	// activity log.
	Success lipgloss.Style
	Warning lipgloss.Style
	Error   lipgloss.Style
}

var styles = newStyleSet()

func newStyleSet() styleSet {
	text := lipgloss.NewStyle().Foreground(colorText)
	dim := lipgloss.NewStyle().Foreground(colorDim)
	accent := lipgloss.NewStyle().Foreground(colorAccent).Bold(true)

	return styleSet{
		Title:       accent.Padding(0, 1),
		TabActive:   accent.Background(colorSurface).Padding(0, 2),
		TabInactive: text.Padding(0, 2),
		HelpText:    dim,
		StatusText:  dim.Italic(true),
		BoxTitle:    accent.Underline(true),
		TableHeader: text.Bold(true).
			BorderBottom(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(colorRule),
		TableRow: text,
		Selected: lipgloss.NewStyle().Background(colorSurface).Foreground(colorBright).Bold(true),
		Muted:    dim,
		Bold:     lipgloss.NewStyle().Bold(true),

		Success: lipgloss.NewStyle().Foreground(colorOK),
		Warning: lipgloss.NewStyle().Foreground(colorDegrade).Bold(true),
		Error:   lipgloss.NewStyle().Foreground(colorFail).Bold(true),
	}
}

// breakerStates maps a circuit breaker state to its outcome style.
var breakerStates = map[string]*lipgloss.Style{
	"closed":    &styles.Success,
	"half-open": &styles.Warning,
	"open":      &styles.Error,
}

// BreakerStateStyle returns the style for a circuit breaker state. Unknown
// states are muted.
func BreakerStateStyle(state string) lipgloss.Style {
	if s, ok := breakerStates[state]; ok {
		return *s
	}
	return styles.Muted
}

// HealthStyle returns the style for an upstream's health.
func HealthStyle(healthy bool) lipgloss.Style {
	if healthy {
		return styles.Success
	}
	return styles.Error
}
