package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines the keybindings for the TUI.
type KeyMap struct {
	Quit      key.Binding
	Tab       key.Binding
	ShiftTab  key.Binding
	Refresh   key.Binding
	Up        key.Binding
	Down      key.Binding
	Top       key.Binding
	Bottom    key.Binding
	Status    key.Binding
	Groups    key.Binding
	Breakers  key.Binding
	Activity  key.Binding
	CloseIdle key.Binding
	Probe     key.Binding
	Reset     key.Binding
}

var keys = KeyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Tab: key.NewBinding(
		key.WithKeys("tab"),
		key.WithHelp("tab", "next tab"),
	),
	ShiftTab: key.NewBinding(
		key.WithKeys("shift+tab"),
		key.WithHelp("shift+tab", "prev tab"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "up"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "down"),
	),
	Top: key.NewBinding(
		key.WithKeys("g", "home"),
		key.WithHelp("g", "top"),
	),
	Bottom: key.NewBinding(
		key.WithKeys("G", "end"),
		key.WithHelp("G", "bottom"),
	),
	Status: key.NewBinding(
		key.WithKeys("1"),
		key.WithHelp("1", "status"),
	),
	Groups: key.NewBinding(
		key.WithKeys("2"),
		key.WithHelp("2", "groups"),
	),
	Breakers: key.NewBinding(
		key.WithKeys("3"),
		key.WithHelp("3", "breakers"),
	),
	Activity: key.NewBinding(
		key.WithKeys("4"),
		key.WithHelp("4", "activity"),
	),
	CloseIdle: key.NewBinding(
		key.WithKeys("c"),
		key.WithHelp("c", "close idle"),
	),
	Probe: key.NewBinding(
		key.WithKeys("p", "enter"),
		key.WithHelp("p", "probe"),
	),
	Reset: key.NewBinding(
		key.WithKeys("x"),
		key.WithHelp("x", "reset breaker"),
	),
}
