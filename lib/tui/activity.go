package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxActivityEntries bounds the activity log.
const maxActivityEntries = 500

// Level is the severity of an activity entry.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelError Level = "ERROR"
)

// ActivityEntry is one line of the activity log.
type ActivityEntry struct {
	Time    time.Time
	Level   Level
	Message string
}

// ActivityModel shows the outcome of dashboard actions such as probes and
// breaker resets.
type ActivityModel struct {
	entries  []ActivityEntry
	viewport viewport.Model
	ready    bool
	width    int
	height   int
	follow   bool // auto-scroll to bottom
}

// NewActivityModel creates a new activity view model.
func NewActivityModel() ActivityModel {
	return ActivityModel{
		follow: true,
	}
}

// Add appends an entry, dropping the oldest past maxActivityEntries.
func (m *ActivityModel) Add(level Level, message string) {
	m.entries = append(m.entries, ActivityEntry{Time: time.Now(), Level: level, Message: message})
	if over := len(m.entries) - maxActivityEntries; over > 0 {
		m.entries = append(m.entries[:0], m.entries[over:]...)
	}
	if m.ready {
		m.updateViewport()
	}
}

// Entries returns the logged entries, oldest first.
func (m ActivityModel) Entries() []ActivityEntry {
	return m.entries
}

// SetDimensions sets the view dimensions.
func (m *ActivityModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
	if !m.ready {
		m.viewport = viewport.New(width, height-4)
		m.ready = true
	} else {
		m.viewport.Width = width
		m.viewport.Height = height - 4
	}
	m.updateViewport()
}

// Update handles messages for the activity view.
func (m ActivityModel) Update(msg tea.Msg) (ActivityModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, keys.Top):
			m.viewport.GotoTop()
			m.follow = false
			return m, nil
		case key.Matches(msg, keys.Bottom):
			m.viewport.GotoBottom()
			m.follow = true
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.follow = m.viewport.AtBottom()
	return m, cmd
}

// View renders the activity view.
func (m ActivityModel) View() string {
	if !m.ready {
		return styles.Muted.Render("Initializing...")
	}
	if len(m.entries) == 0 {
		return renderEmptyState(m.width, m.height, "No activity yet",
			"Probes, breaker resets and refresh errors show up here", nil)
	}

	header := styles.Muted.Render(fmt.Sprintf("Activity ─ %d entries │ (g)top (G)bottom", len(m.entries)))
	footer := styles.Muted.Render(fmt.Sprintf("─── %.0f%% ───", m.viewport.ScrollPercent()*100))
	return lipgloss.JoinVertical(lipgloss.Left, header, m.viewport.View(), footer)
}

func (m *ActivityModel) updateViewport() {
	var content strings.Builder
	for _, e := range m.entries {
		levelStyle := styles.Success
		if e.Level == LevelError {
			levelStyle = styles.Error
		}
		fmt.Fprintf(&content, "%s %s %s\n",
			styles.Muted.Render(e.Time.Format("15:04:05")),
			levelStyle.Render(fmt.Sprintf("[%-5s]", e.Level)),
			e.Message,
		)
	}
	m.viewport.SetContent(content.String())
	if m.follow {
		m.viewport.GotoBottom()
	}
}
