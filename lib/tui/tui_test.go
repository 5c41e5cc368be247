package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// fakeKeyMsg creates a tea.KeyMsg for testing.
func fakeKeyMsg(key string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
}

type fakeClient struct {
	mu       sync.Mutex
	err      error
	probed   []string
	reset    []string
	closed   bool
	closeIdl int
}

func (f *fakeClient) Status(context.Context) (*rpc.StatusResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &rpc.StatusResult{State: "running", Uptime: "1m0s", Idle: 2, Active: 1, Groups: 1}, nil
}

func (f *fakeClient) Stats(context.Context) (*rpc.StatsResult, error) {
	return &rpc.StatsResult{
		MaxSocketsPerGroup: 6,
		Idle:               2,
		Active:             1,
		Requests:           4,
		Reused:             2,
		Groups:             []rpc.GroupStats{{Name: "tcp/example.com:80", Idle: 2, Active: 1}},
	}, nil
}

func (f *fakeClient) GroupsList(context.Context) (*rpc.GroupsListResult, error) {
	return &rpc.GroupsListResult{
		Groups: []rpc.GroupInfo{
			{Name: "web", Transport: "tcp", Address: "example.com:80", Pool: "tcp/example.com:80", Breaker: "closed"},
			{Name: "api", Transport: "tls", Address: "example.com:443", Pool: "tls/example.com:443", Breaker: "open"},
		},
		Total: 2,
	}, nil
}

func (f *fakeClient) BreakersList(context.Context) (*rpc.BreakersListResult, error) {
	return &rpc.BreakersListResult{
		Breakers: []rpc.BreakerInfo{
			{Name: "tcp/example.com:80", State: "closed"},
			{Name: "tls/example.com:443", State: "open", Failures: 5, LastFailure: time.Now()},
		},
		Upstreams: []rpc.UpstreamInfo{{Name: "socks5", Addr: "127.0.0.1:9050", Healthy: true}},
	}, nil
}

func (f *fakeClient) Probe(_ context.Context, p rpc.ProbeParams) (*rpc.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probed = append(f.probed, p.Target)
	return &rpc.ProbeResult{Group: "tcp/example.com:80", Latency: "1ms", Reused: true}, nil
}

func (f *fakeClient) BreakerReset(_ context.Context, name string) (*rpc.BreakerResetResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reset = append(f.reset, name)
	return &rpc.BreakerResetResult{Name: name, State: "closed"}, nil
}

func (f *fakeClient) CloseIdle(context.Context) (*rpc.CloseIdleResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeIdl++
	return &rpc.CloseIdleResult{Closed: 2}, nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

// loadedModel returns a sized model holding one round of fake data.
func loadedModel(t *testing.T, client *fakeClient) Model {
	t.Helper()
	m := NewWithClient(client, time.Hour)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	next, _ = next.(Model).Update(m.refreshData())
	return next.(Model)
}

func TestTabString(t *testing.T) {
	tests := []struct {
		tab      Tab
		expected string
	}{
		{TabStatus, "Status"},
		{TabGroups, "Groups"},
		{TabBreakers, "Breakers"},
		{TabActivity, "Activity"},
		{Tab(99), "Unknown"},
	}

	for _, tc := range tests {
		if got := tc.tab.String(); got != tc.expected {
			t.Errorf("Tab(%d).String() = %q, want %q", tc.tab, got, tc.expected)
		}
	}
}

func TestNewWithClient_DefaultRefresh(t *testing.T) {
	m := NewWithClient(&fakeClient{}, 0)
	if m.refreshInterval != DefaultRefreshInterval {
		t.Errorf("refreshInterval = %v, want %v", m.refreshInterval, DefaultRefreshInterval)
	}
	if m.ActiveTab() != TabStatus {
		t.Errorf("ActiveTab() = %v, want Status", m.ActiveTab())
	}
	if !strings.Contains(m.View(), "Loading") {
		t.Error("View before sizing should show the loading state")
	}
}

func TestModel_TabSwitching(t *testing.T) {
	m := loadedModel(t, &fakeClient{})

	steps := []struct {
		msg  tea.KeyMsg
		want Tab
	}{
		{fakeKeyMsg("3"), TabBreakers},
		{fakeKeyMsg("2"), TabGroups},
		{tea.KeyMsg{Type: tea.KeyTab}, TabBreakers},
		{tea.KeyMsg{Type: tea.KeyTab}, TabActivity},
		{tea.KeyMsg{Type: tea.KeyTab}, TabStatus},
		{tea.KeyMsg{Type: tea.KeyShiftTab}, TabActivity},
		{fakeKeyMsg("1"), TabStatus},
	}
	for _, s := range steps {
		next, _ := m.Update(s.msg)
		m = next.(Model)
		if m.ActiveTab() != s.want {
			t.Fatalf("after %q: ActiveTab() = %v, want %v", s.msg.String(), m.ActiveTab(), s.want)
		}
	}
}

func TestModel_RefreshData(t *testing.T) {
	m := loadedModel(t, &fakeClient{})

	if m.err != nil {
		t.Fatalf("err = %v", m.err)
	}
	if m.status == nil || m.status.State != "running" {
		t.Fatalf("status = %+v", m.status)
	}
	if len(m.groupsView.groups) != 2 {
		t.Errorf("groups = %d, want 2", len(m.groupsView.groups))
	}
	if got := m.groupsView.live["tcp/example.com:80"].Idle; got != 2 {
		t.Errorf("live idle = %d, want 2", got)
	}
	if len(m.breakersView.breakers) != 2 {
		t.Errorf("breakers = %d, want 2", len(m.breakersView.breakers))
	}

	view := m.View()
	for _, want := range []string{"sockpool", "running", "Idle: 2"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_RefreshError(t *testing.T) {
	client := &fakeClient{}
	m := loadedModel(t, client)

	client.err = errors.New("connection refused")
	next, _ := m.Update(m.refreshData())
	m = next.(Model)

	if m.err == nil {
		t.Fatal("expected refresh error")
	}
	// Data from the last good refresh is kept.
	if m.status == nil {
		t.Error("status dropped after failed refresh")
	}
	entries := m.activityView.Entries()
	if len(entries) != 1 || entries[0].Level != LevelError {
		t.Fatalf("activity = %+v, want one error entry", entries)
	}

	// The same error again is not logged twice.
	next, _ = m.Update(m.refreshData())
	m = next.(Model)
	if n := len(m.activityView.Entries()); n != 1 {
		t.Errorf("activity entries = %d, want 1", n)
	}
}

func TestModel_ProbeSelectedGroup(t *testing.T) {
	client := &fakeClient{}
	m := loadedModel(t, client)

	next, _ := m.Update(fakeKeyMsg("2"))
	next, _ = next.(Model).Update(fakeKeyMsg("j"))
	next, cmd := next.(Model).Update(fakeKeyMsg("p"))
	m = next.(Model)
	if cmd == nil {
		t.Fatal("probe key returned no command")
	}

	raw := cmd()
	msg, ok := raw.(actionMsg)
	if !ok {
		t.Fatalf("command returned %T, want actionMsg", raw)
	}
	if msg.err != nil {
		t.Errorf("probe failed: %v", msg.err)
	}
	if len(client.probed) != 1 || client.probed[0] != "api" {
		t.Errorf("probed = %v, want [api]", client.probed)
	}

	next, _ = m.Update(msg)
	m = next.(Model)
	entries := m.activityView.Entries()
	if len(entries) != 1 || !strings.Contains(entries[0].Message, "probe api") {
		t.Errorf("activity = %+v", entries)
	}
}

func TestModel_ResetSelectedBreaker(t *testing.T) {
	client := &fakeClient{}
	m := loadedModel(t, client)

	next, _ := m.Update(fakeKeyMsg("3"))
	next, _ = next.(Model).Update(fakeKeyMsg("G"))
	_, cmd := next.(Model).Update(fakeKeyMsg("x"))
	if cmd == nil {
		t.Fatal("reset key returned no command")
	}
	msg := cmd().(actionMsg)
	if msg.err != nil {
		t.Errorf("reset failed: %v", msg.err)
	}
	if len(client.reset) != 1 || client.reset[0] != "tls/example.com:443" {
		t.Errorf("reset = %v", client.reset)
	}
}

func TestModel_CloseIdle(t *testing.T) {
	client := &fakeClient{}
	m := loadedModel(t, client)

	msg := m.closeIdle().(actionMsg)
	if msg.err != nil || !strings.Contains(msg.text, "closed 2 idle sockets") {
		t.Errorf("closeIdle = %+v", msg)
	}
	if client.closeIdl != 1 {
		t.Errorf("CloseIdle calls = %d, want 1", client.closeIdl)
	}
}

func TestModel_Close(t *testing.T) {
	client := &fakeClient{}
	m := NewWithClient(client, 0)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if !client.closed {
		t.Error("client not closed")
	}
}

func TestGroupsModel(t *testing.T) {
	m := NewGroupsModel()
	if m.SelectedGroup() != nil {
		t.Error("SelectedGroup: expected nil when no data")
	}

	m.SetData(&rpc.GroupsListResult{Groups: []rpc.GroupInfo{{Name: "a"}, {Name: "b"}, {Name: "c"}}}, nil)

	m, _ = m.Update(fakeKeyMsg("j"))
	m, _ = m.Update(fakeKeyMsg("j"))
	m, _ = m.Update(fakeKeyMsg("j"))
	if g := m.SelectedGroup(); g == nil || g.Name != "c" {
		t.Fatalf("SelectedGroup = %+v, want c", g)
	}
	m, _ = m.Update(fakeKeyMsg("g"))
	if g := m.SelectedGroup(); g.Name != "a" {
		t.Errorf("after top: %s, want a", g.Name)
	}

	// Shrinking the list clamps the cursor.
	m, _ = m.Update(fakeKeyMsg("G"))
	m.SetData(&rpc.GroupsListResult{Groups: []rpc.GroupInfo{{Name: "a"}}}, nil)
	if g := m.SelectedGroup(); g == nil || g.Name != "a" {
		t.Errorf("after shrink: %+v, want a", g)
	}
}

func TestBreakersModel(t *testing.T) {
	m := NewBreakersModel()
	m.SetDimensions(100, 30)
	if !strings.Contains(m.View(), "No circuit breakers") {
		t.Error("expected empty state")
	}

	m.SetData(&rpc.BreakersListResult{
		Breakers:  []rpc.BreakerInfo{{Name: "tcp/a:1", State: "open"}, {Name: "tcp/b:1", State: "closed"}},
		Upstreams: []rpc.UpstreamInfo{{Name: "sam", Addr: "127.0.0.1:7656"}},
	})
	m, _ = m.Update(fakeKeyMsg("k"))
	if b := m.SelectedBreaker(); b == nil || b.Name != "tcp/a:1" {
		t.Errorf("SelectedBreaker = %+v", b)
	}
	view := m.View()
	for _, want := range []string{"tcp/b:1", "sam", "down"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}

	m.SetData(nil)
	if m.SelectedBreaker() != nil {
		t.Error("SelectedBreaker after clear: expected nil")
	}
}

func TestActivityModel_Bounded(t *testing.T) {
	m := NewActivityModel()
	m.SetDimensions(80, 20)
	for i := 0; i < maxActivityEntries+10; i++ {
		m.Add(LevelInfo, "entry")
	}
	if n := len(m.Entries()); n != maxActivityEntries {
		t.Errorf("entries = %d, want %d", n, maxActivityEntries)
	}
}

func TestBreakerStateStyle(t *testing.T) {
	tests := []struct {
		state string
		want  lipgloss.TerminalColor
	}{
		{"closed", colorOK},
		{"half-open", colorDegrade},
		{"open", colorFail},
		{"unknown", colorDim},
	}
	for _, tt := range tests {
		if got := BreakerStateStyle(tt.state).GetForeground(); got != tt.want {
			t.Errorf("BreakerStateStyle(%q) foreground = %v, want %v", tt.state, got, tt.want)
		}
	}
	if HealthStyle(true).GetForeground() != colorOK || HealthStyle(false).GetForeground() != colorFail {
		t.Error("HealthStyle should use the ok and fail colors")
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 10, "this is..."},
		{"abcdef", 3, "abc"},
	}
	for _, tc := range tests {
		if got := truncate(tc.in, tc.max); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestFormatSince(t *testing.T) {
	if got := formatSince(time.Time{}); got != "-" {
		t.Errorf("formatSince(zero) = %q, want -", got)
	}
	if got := formatSince(time.Now().Add(-time.Minute)); !strings.HasSuffix(got, " ago") {
		t.Errorf("formatSince = %q", got)
	}
}
