package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// GroupsModel is the model for the groups view. It joins the configured
// groups with their live pool counts.
type GroupsModel struct {
	groups []rpc.GroupInfo
	live   map[string]rpc.GroupStats
	cursor int
	width  int
	height int
}

// NewGroupsModel creates a new groups view model.
func NewGroupsModel() GroupsModel {
	return GroupsModel{live: make(map[string]rpc.GroupStats)}
}

// SetData updates the groups data.
func (m *GroupsModel) SetData(groups *rpc.GroupsListResult, stats *rpc.StatsResult) {
	m.groups = nil
	if groups != nil {
		m.groups = groups.Groups
	}
	m.live = make(map[string]rpc.GroupStats)
	if stats != nil {
		for _, g := range stats.Groups {
			m.live[g.Name] = g
		}
	}
	if m.cursor >= len(m.groups) {
		m.cursor = max(0, len(m.groups)-1)
	}
}

// SetDimensions sets the view dimensions.
func (m *GroupsModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// Update handles navigation.
func (m GroupsModel) Update(msg tea.Msg) (GroupsModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		m.cursor = moveCursor(msg, m.cursor, len(m.groups))
	}
	return m, nil
}

// SelectedGroup returns the group under the cursor, or nil.
func (m GroupsModel) SelectedGroup() *rpc.GroupInfo {
	if m.cursor < 0 || m.cursor >= len(m.groups) {
		return nil
	}
	return &m.groups[m.cursor]
}

// View renders the groups view.
func (m GroupsModel) View() string {
	if len(m.groups) == 0 {
		return renderEmptyState(m.width, m.height, "No groups configured",
			"Add [[groups]] entries to the configuration file", nil)
	}

	var b strings.Builder
	header := fmt.Sprintf("%-16s %-6s %-28s %4s %5s %6s %5s %5s  %-9s",
		"NAME", "KIND", "ADDRESS", "PRIO", "IDLE", "ACTIVE", "CONN", "PEND", "BREAKER")
	b.WriteString(styles.TableHeader.Render(header))
	b.WriteString("\n")

	for i, g := range m.groups {
		live := m.live[g.Pool]
		row := fmt.Sprintf("%-16s %-6s %-28s %4d %5d %6d %5d %5d  ",
			truncate(g.Name, 16),
			g.Transport,
			truncate(g.Address, 28),
			g.Priority,
			live.Idle,
			live.Active,
			live.Connecting,
			live.Pending,
		)
		breaker := BreakerStateStyle(g.Breaker).Render(fmt.Sprintf("%-9s", g.Breaker))
		if i == m.cursor {
			b.WriteString(styles.Selected.Render(row) + breaker)
		} else {
			b.WriteString(styles.TableRow.Render(row) + breaker)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(styles.Muted.Render(fmt.Sprintf("%d groups", len(m.groups))))
	return lipgloss.NewStyle().MaxHeight(max(1, m.height)).Render(b.String())
}
