// Package tui is an interactive terminal dashboard for a running sockpool
// service. It uses BubbleTea for the application framework and talks to the
// service over the control interface.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// DefaultRefreshInterval is how often data is refreshed.
const DefaultRefreshInterval = 2 * time.Second

// requestTimeout bounds every control call made by the dashboard.
const requestTimeout = 5 * time.Second

// Tab represents a UI tab.
type Tab int

const (
	TabStatus Tab = iota
	TabGroups
	TabBreakers
	TabActivity
	tabCount
)

func (t Tab) String() string {
	switch t {
	case TabStatus:
		return "Status"
	case TabGroups:
		return "Groups"
	case TabBreakers:
		return "Breakers"
	case TabActivity:
		return "Activity"
	default:
		return "Unknown"
	}
}

// Client is the part of the control API the dashboard uses.
// *rpc.PooledClient implements it.
type Client interface {
	Status(ctx context.Context) (*rpc.StatusResult, error)
	Stats(ctx context.Context) (*rpc.StatsResult, error)
	GroupsList(ctx context.Context) (*rpc.GroupsListResult, error)
	BreakersList(ctx context.Context) (*rpc.BreakersListResult, error)
	Probe(ctx context.Context, params rpc.ProbeParams) (*rpc.ProbeResult, error)
	BreakerReset(ctx context.Context, name string) (*rpc.BreakerResetResult, error)
	CloseIdle(ctx context.Context) (*rpc.CloseIdleResult, error)
	Close() error
}

// Model is the main TUI application model.
type Model struct {
	client          Client
	refreshInterval time.Duration

	activeTab   Tab
	width       int
	height      int
	ready       bool
	err         error
	lastRefresh time.Time

	status *rpc.StatusResult

	spinner      spinner.Model
	statusView   StatusModel
	groupsView   GroupsModel
	breakersView BreakersModel
	activityView ActivityModel
}

// Config holds TUI configuration.
type Config struct {
	// Control locates the service's control server.
	Control rpc.ClientConfig
	// RefreshInterval is how often to refresh data.
	// Default: 2 seconds
	RefreshInterval time.Duration
}

// New connects to the control server and creates the dashboard. Refreshes
// and actions run concurrently over a small connection pool.
func New(cfg Config) (*Model, error) {
	client, err := rpc.NewPooledClient(cfg.Control, 4)
	if err != nil {
		return nil, fmt.Errorf("connecting to control server: %w", err)
	}
	m := NewWithClient(client, cfg.RefreshInterval)
	return &m, nil
}

// NewWithClient creates the dashboard on top of client.
func NewWithClient(client Client, refreshInterval time.Duration) Model {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return Model{
		client:          client,
		refreshInterval: refreshInterval,
		activeTab:       TabStatus,
		spinner:         s,
		statusView:      NewStatusModel(),
		groupsView:      NewGroupsModel(),
		breakersView:    NewBreakersModel(),
		activityView:    NewActivityModel(),
	}
}

// Init starts the spinner and the first refresh.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.refreshData,
		tea.SetWindowTitle("sockpool"),
	)
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, keys.Tab):
			m.activeTab = (m.activeTab + 1) % tabCount
		case key.Matches(msg, keys.ShiftTab):
			m.activeTab = (m.activeTab + tabCount - 1) % tabCount
		case key.Matches(msg, keys.Refresh):
			cmds = append(cmds, m.refreshData)
		case key.Matches(msg, keys.CloseIdle):
			cmds = append(cmds, m.closeIdle)
		case key.Matches(msg, keys.Status):
			m.activeTab = TabStatus
		case key.Matches(msg, keys.Groups):
			m.activeTab = TabGroups
		case key.Matches(msg, keys.Breakers):
			m.activeTab = TabBreakers
		case key.Matches(msg, keys.Activity):
			m.activeTab = TabActivity
		}

		var cmd tea.Cmd
		switch m.activeTab {
		case TabGroups:
			m.groupsView, cmd = m.groupsView.Update(msg)
			if key.Matches(msg, keys.Probe) {
				if g := m.groupsView.SelectedGroup(); g != nil {
					cmd = m.probe(g.Name)
				}
			}
		case TabBreakers:
			m.breakersView, cmd = m.breakersView.Update(msg)
			if key.Matches(msg, keys.Reset) {
				if b := m.breakersView.SelectedBreaker(); b != nil {
					cmd = m.resetBreaker(b.Name)
				}
			}
		case TabActivity:
			m.activityView, cmd = m.activityView.Update(msg)
		}
		cmds = append(cmds, cmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		contentHeight := m.height - 4 // header and footer
		m.statusView.SetDimensions(m.width, contentHeight)
		m.groupsView.SetDimensions(m.width, contentHeight)
		m.breakersView.SetDimensions(m.width, contentHeight)
		m.activityView.SetDimensions(m.width, contentHeight)

	case refreshMsg:
		m.lastRefresh = time.Now()
		if msg.err != nil && (m.err == nil || m.err.Error() != msg.err.Error()) {
			m.activityView.Add(LevelError, "refresh failed: "+msg.err.Error())
		}
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.statusView.SetData(msg.status, msg.stats)
			m.groupsView.SetData(msg.groups, msg.stats)
			m.breakersView.SetData(msg.breakers)
		}
		cmds = append(cmds, tea.Tick(m.refreshInterval, func(t time.Time) tea.Msg {
			return tickMsg(t)
		}))

	case tickMsg:
		cmds = append(cmds, m.refreshData)

	case actionMsg:
		level := LevelInfo
		if msg.err != nil {
			level = LevelError
		}
		m.activityView.Add(level, msg.text)
		cmds = append(cmds, m.refreshData)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if !m.ready {
		return fmt.Sprintf("%s Loading...", m.spinner.View())
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	switch m.activeTab {
	case TabStatus:
		b.WriteString(m.statusView.View())
	case TabGroups:
		b.WriteString(m.groupsView.View())
	case TabBreakers:
		b.WriteString(m.breakersView.View())
	case TabActivity:
		b.WriteString(m.activityView.View())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	var renderedTabs []string
	for tab := TabStatus; tab < tabCount; tab++ {
		style := styles.TabInactive
		if tab == m.activeTab {
			style = styles.TabActive
		}
		renderedTabs = append(renderedTabs, style.Render(tab.String()))
	}

	title := styles.Title.Render("sockpool")
	tabBar := lipgloss.JoinHorizontal(lipgloss.Top, renderedTabs...)
	return lipgloss.JoinHorizontal(lipgloss.Top, title, "  ", tabBar)
}

func (m Model) renderFooter() string {
	var helpItems []string
	switch m.activeTab {
	case TabGroups:
		helpItems = append(helpItems, "↑↓ navigate", "p probe")
	case TabBreakers:
		helpItems = append(helpItems, "↑↓ navigate", "x reset")
	case TabActivity:
		helpItems = append(helpItems, "↑↓ scroll")
	}
	helpItems = append(helpItems, "c close idle", "tab switch", "r refresh", "q quit")
	help := strings.Join(helpItems, " • ")

	var statusInfo string
	if m.status != nil {
		statusInfo = fmt.Sprintf("Idle: %d  Active: %d | %s", m.status.Idle, m.status.Active, m.status.Uptime)
	}
	if m.err != nil {
		statusInfo = styles.Error.Render(truncate(m.err.Error(), 60))
	}

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		styles.HelpText.Render(help),
		strings.Repeat(" ", max(0, m.width-lipgloss.Width(help)-lipgloss.Width(statusInfo)-2)),
		styles.StatusText.Render(statusInfo),
	)
}

// refreshData fetches every view's data with concurrent calls.
func (m Model) refreshData() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var msg refreshMsg
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		msg.status, err = m.client.Status(gctx)
		return err
	})
	g.Go(func() (err error) {
		msg.stats, err = m.client.Stats(gctx)
		return err
	})
	g.Go(func() (err error) {
		msg.groups, err = m.client.GroupsList(gctx)
		return err
	})
	g.Go(func() (err error) {
		msg.breakers, err = m.client.BreakersList(gctx)
		return err
	})
	msg.err = g.Wait()
	return msg
}

func (m Model) closeIdle() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	result, err := m.client.CloseIdle(ctx)
	if err != nil {
		return actionMsg{text: "close idle failed: " + err.Error(), err: err}
	}
	return actionMsg{text: fmt.Sprintf("closed %d idle sockets", result.Closed)}
}

func (m Model) probe(group string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout+rpc.DefaultProbeTimeout)
		defer cancel()

		result, err := m.client.Probe(ctx, rpc.ProbeParams{Target: group})
		switch {
		case err != nil:
			return actionMsg{text: fmt.Sprintf("probe %s failed: %v", group, err), err: err}
		case result.Error != "":
			return actionMsg{text: fmt.Sprintf("probe %s: %s", group, result.Error), err: fmt.Errorf("%s", result.Error)}
		default:
			return actionMsg{text: fmt.Sprintf("probe %s: ok in %s (reused=%t)", group, result.Latency, result.Reused)}
		}
	}
}

func (m Model) resetBreaker(name string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		result, err := m.client.BreakerReset(ctx, name)
		if err != nil {
			return actionMsg{text: fmt.Sprintf("reset %s failed: %v", name, err), err: err}
		}
		return actionMsg{text: fmt.Sprintf("breaker %s is now %s", name, result.State)}
	}
}

// ActiveTab returns the selected tab.
func (m Model) ActiveTab() Tab {
	return m.activeTab
}

// Close releases the control connections.
func (m *Model) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}
