package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// BreakersModel is the model for the circuit breaker view.
type BreakersModel struct {
	breakers  []rpc.BreakerInfo
	upstreams []rpc.UpstreamInfo
	cursor    int
	width     int
	height    int
}

// NewBreakersModel creates a new breakers view model.
func NewBreakersModel() BreakersModel {
	return BreakersModel{}
}

// SetData updates the breakers data.
func (m *BreakersModel) SetData(result *rpc.BreakersListResult) {
	m.breakers, m.upstreams = nil, nil
	if result != nil {
		m.breakers = result.Breakers
		m.upstreams = result.Upstreams
	}
	if m.cursor >= len(m.breakers) {
		m.cursor = max(0, len(m.breakers)-1)
	}
}

// SetDimensions sets the view dimensions.
func (m *BreakersModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// Update handles navigation.
func (m BreakersModel) Update(msg tea.Msg) (BreakersModel, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		m.cursor = moveCursor(msg, m.cursor, len(m.breakers))
	}
	return m, nil
}

// SelectedBreaker returns the breaker under the cursor, or nil.
func (m BreakersModel) SelectedBreaker() *rpc.BreakerInfo {
	if m.cursor < 0 || m.cursor >= len(m.breakers) {
		return nil
	}
	return &m.breakers[m.cursor]
}

// View renders the breakers and upstream probes.
func (m BreakersModel) View() string {
	if len(m.breakers) == 0 && len(m.upstreams) == 0 {
		return renderEmptyState(m.width, m.height, "No circuit breakers",
			"Breakers appear once a group has been dialed", nil)
	}

	var b strings.Builder
	if len(m.breakers) > 0 {
		header := fmt.Sprintf("%-32s %-10s %8s %9s  %s", "GROUP", "STATE", "FAILURES", "SUCCESSES", "LAST FAILURE")
		b.WriteString(styles.TableHeader.Render(header))
		b.WriteString("\n")
		for i, br := range m.breakers {
			state := BreakerStateStyle(br.State).Render(fmt.Sprintf("%-10s", br.State))
			name := fmt.Sprintf("%-32s ", truncate(br.Name, 32))
			rest := fmt.Sprintf(" %8d %9d  %s", br.Failures, br.Successes, formatSince(br.LastFailure))
			if i == m.cursor {
				b.WriteString(styles.Selected.Render(name) + state + styles.Selected.Render(rest))
			} else {
				b.WriteString(styles.TableRow.Render(name) + state + styles.TableRow.Render(rest))
			}
			b.WriteString("\n")
		}
	}

	if len(m.upstreams) > 0 {
		b.WriteString("\n")
		b.WriteString(styles.TableHeader.Render(fmt.Sprintf("%-12s %-28s %-9s  %s", "UPSTREAM", "ADDRESS", "HEALTH", "LAST CHECK")))
		b.WriteString("\n")
		for _, u := range m.upstreams {
			health := "down"
			if u.Healthy {
				health = "up"
			}
			fmt.Fprintf(&b, "%-12s %-28s %s  %s\n",
				truncate(u.Name, 12),
				truncate(u.Addr, 28),
				HealthStyle(u.Healthy).Render(fmt.Sprintf("%-9s", health)),
				formatSince(u.LastCheck),
			)
		}
	}
	return b.String()
}

// formatSince renders t relative to now, or "-" for the zero time.
func formatSince(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return time.Since(t).Round(time.Second).String() + " ago"
}
