package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// StatusModel is the model for the status view.
type StatusModel struct {
	status *rpc.StatusResult
	stats  *rpc.StatsResult
	width  int
	height int
}

// NewStatusModel creates a new status view model.
func NewStatusModel() StatusModel {
	return StatusModel{}
}

// SetData updates the status data.
func (m *StatusModel) SetData(status *rpc.StatusResult, stats *rpc.StatsResult) {
	m.status = status
	m.stats = stats
}

// SetDimensions sets the view dimensions.
func (m *StatusModel) SetDimensions(width, height int) {
	m.width = width
	m.height = height
}

// View renders the status view.
func (m StatusModel) View() string {
	if m.status == nil {
		return styles.Muted.Render("Loading status...")
	}

	var b strings.Builder

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(1, 2).
		Width(60)

	stateStyle := styles.Success
	if m.status.State != "running" {
		stateStyle = styles.Warning
	}

	serviceContent := lipgloss.JoinVertical(lipgloss.Left,
		styles.BoxTitle.Render("Service"),
		"",
		m.statusRow("State", stateStyle.Render(m.status.State)),
		m.statusRow("Version", m.status.Version),
		m.statusRow("Protocol", m.status.Protocol),
		m.statusRow("Uptime", m.status.Uptime),
		m.statusRow("SOCKS5 proxy", m.formatOptional(m.status.SOCKSProxy)),
		m.statusRow("I2P", m.formatBool(m.status.I2P)),
		m.statusRow("Metrics", m.formatOptional(m.status.MetricsAddr)),
	)
	b.WriteString(box.Render(serviceContent))
	b.WriteString("\n\n")

	pendingStyle := styles.Muted
	if m.status.Pending > 0 {
		pendingStyle = styles.Warning
	}

	poolRows := []string{
		styles.BoxTitle.Render("Pool"),
		"",
		m.statusRow("Groups", fmt.Sprintf("%d configured, %d live", m.status.Groups, m.status.LiveGroups)),
		m.statusRow("Idle", fmt.Sprintf("%d", m.status.Idle)),
		m.statusRow("Active", fmt.Sprintf("%d", m.status.Active)),
		m.statusRow("Pending", pendingStyle.Render(fmt.Sprintf("%d", m.status.Pending))),
	}
	if m.stats != nil {
		poolRows = append(poolRows,
			m.statusRow("Per group", fmt.Sprintf("%d sockets", m.stats.MaxSocketsPerGroup)),
			m.statusRow("Requests", fmt.Sprintf("%d (%s reused)", m.stats.Requests, reuseRatio(m.stats))),
			m.statusRow("Connects", fmt.Sprintf("%d started, %d failed", m.stats.ConnectsStarted, m.stats.ConnectsFailed)),
			m.statusRow("Evicted", fmt.Sprintf("%d", m.stats.Evicted)),
		)
	}
	b.WriteString(box.Render(lipgloss.JoinVertical(lipgloss.Left, poolRows...)))

	return b.String()
}

// reuseRatio formats the share of requests served by an idle socket.
func reuseRatio(stats *rpc.StatsResult) string {
	if stats.Requests == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", float64(stats.Reused)*100/float64(stats.Requests))
}

// statusRow formats a status row with label and value.
func (m StatusModel) statusRow(label, value string) string {
	labelStyle := styles.Muted.Width(15)
	return labelStyle.Render(label+":") + " " + value
}

// formatOptional formats an optional value.
func (m StatusModel) formatOptional(value string) string {
	if value == "" {
		return styles.Muted.Render("(not set)")
	}
	return value
}

func (m StatusModel) formatBool(v bool) string {
	if v {
		return styles.Success.Render("enabled")
	}
	return styles.Muted.Render("disabled")
}
