package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/rpc"
)

type fakeControl struct {
	statusErr   error
	state       string
	openBreaker bool
	probeErr    string
	resetErr    error
	closed      bool
	probed      rpc.ProbeParams
}

func (f *fakeControl) Status(context.Context) (*rpc.StatusResult, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	state := f.state
	if state == "" {
		state = "running"
	}
	return &rpc.StatusResult{State: state, Version: "0.1.0", Idle: 3}, nil
}

func (f *fakeControl) Stats(context.Context) (*rpc.StatsResult, error) {
	return &rpc.StatsResult{Idle: 3, Requests: 10, Groups: []rpc.GroupStats{}}, nil
}

func (f *fakeControl) CloseIdle(context.Context) (*rpc.CloseIdleResult, error) {
	return &rpc.CloseIdleResult{Closed: 3}, nil
}

func (f *fakeControl) GroupsList(context.Context) (*rpc.GroupsListResult, error) {
	return &rpc.GroupsListResult{Groups: []rpc.GroupInfo{{Name: "web"}}, Total: 1}, nil
}

func (f *fakeControl) Probe(_ context.Context, p rpc.ProbeParams) (*rpc.ProbeResult, error) {
	f.probed = p
	return &rpc.ProbeResult{Group: "tcp/" + p.Target, Latency: "1ms", Error: f.probeErr}, nil
}

func (f *fakeControl) BreakersList(context.Context) (*rpc.BreakersListResult, error) {
	state := "closed"
	if f.openBreaker {
		state = "open"
	}
	return &rpc.BreakersListResult{
		Breakers:  []rpc.BreakerInfo{{Name: "tcp/a:1", State: state}},
		Upstreams: []rpc.UpstreamInfo{{Name: "socks5", Healthy: true}},
	}, nil
}

func (f *fakeControl) BreakerReset(_ context.Context, name string) (*rpc.BreakerResetResult, error) {
	if f.resetErr != nil {
		return nil, f.resetErr
	}
	return &rpc.BreakerResetResult{Name: name, State: "closed"}, nil
}

func (f *fakeControl) ConfigGet(_ context.Context, key string) (*rpc.ConfigGetResult, error) {
	if key == "missing" {
		return nil, rpc.ErrNotFound("missing")
	}
	return &rpc.ConfigGetResult{Key: key, Value: 6}, nil
}

func (f *fakeControl) Close() error {
	f.closed = true
	return nil
}

func newTestServer(t *testing.T, client ControlClient) *Server {
	t.Helper()
	s := NewWithClient(Config{ListenAddr: "127.0.0.1:0"}, client)
	t.Cleanup(s.limiter.Close)
	return s
}

func do(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set(CSRFHeaderName, token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func csrfToken(t *testing.T, h http.Handler) string {
	t.Helper()
	w := do(t, h, http.MethodGet, "/api/csrf-token", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("csrf-token: status %d", w.Code)
	}
	var resp map[string]string
	decode(t, w, &resp)
	return resp["token"]
}

func TestReadEndpoints(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()

	for _, path := range []string{"/api/status", "/api/stats", "/api/groups", "/api/breakers", "/api/config?key=pool"} {
		t.Run(path, func(t *testing.T) {
			w := do(t, h, http.MethodGet, path, "", "")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if w.Header().Get("X-Frame-Options") != "DENY" {
				t.Error("missing security headers")
			}
		})
	}

	w := do(t, h, http.MethodGet, "/api/config?key=missing", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing config key: status = %d, want 404", w.Code)
	}
}

func TestActionsRequireCSRF(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()

	w := do(t, h, http.MethodPost, "/api/pool/close-idle", "", "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("without token: status = %d, want 403", w.Code)
	}

	token := csrfToken(t, h)
	w = do(t, h, http.MethodPost, "/api/pool/close-idle", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("with token: status = %d", w.Code)
	}
	var result rpc.CloseIdleResult
	decode(t, w, &result)
	if result.Closed != 3 {
		t.Errorf("Closed = %d, want 3", result.Closed)
	}
}

func TestProbe(t *testing.T) {
	client := &fakeControl{}
	h := newTestServer(t, client).Handler()
	token := csrfToken(t, h)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", "{", http.StatusBadRequest},
		{"no target", `{}`, http.StatusBadRequest},
		{"bad timeout", `{"target":"web","timeout":"soon"}`, http.StatusBadRequest},
		{"ok", `{"target":"web","timeout":"2s"}`, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/groups/probe", token, tc.body)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tc.want, w.Body.String())
			}
		})
	}
	if client.probed.Target != "web" || client.probed.Timeout != "2s" {
		t.Errorf("probed = %+v", client.probed)
	}

	client.probeErr = "connection refused"
	w := do(t, h, http.MethodPost, "/api/groups/probe", token, `{"target":"web"}`)
	if w.Code != http.StatusBadGateway {
		t.Errorf("failed probe: status = %d, want 502", w.Code)
	}
}

func TestBreakerReset(t *testing.T) {
	client := &fakeControl{}
	h := newTestServer(t, client).Handler()
	token := csrfToken(t, h)

	if w := do(t, h, http.MethodPost, "/api/breakers/reset", token, `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("no name: status = %d, want 400", w.Code)
	}
	if w := do(t, h, http.MethodPost, "/api/breakers/reset", token, `{"name":"tcp/a:1"}`); w.Code != http.StatusOK {
		t.Errorf("reset: status = %d", w.Code)
	}

	client.resetErr = rpc.ErrNotFound("tcp/b:1")
	if w := do(t, h, http.MethodPost, "/api/breakers/reset", token, `{"name":"tcp/b:1"}`); w.Code != http.StatusNotFound {
		t.Errorf("unknown breaker: status = %d, want 404", w.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		client     *fakeControl
		wantCode   int
		wantStatus string
	}{
		{"healthy", &fakeControl{}, http.StatusOK, "healthy"},
		{"open breaker", &fakeControl{openBreaker: true}, http.StatusOK, "degraded"},
		{"stopping", &fakeControl{state: "stopping"}, http.StatusOK, "degraded"},
		{"unreachable", &fakeControl{statusErr: apperrors.ErrConnectionRefused}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestServer(t, tc.client).Handler()
			w := do(t, h, http.MethodGet, "/api/health", "", "")
			if w.Code != tc.wantCode {
				t.Errorf("code = %d, want %d", w.Code, tc.wantCode)
			}
			var resp HealthResponse
			decode(t, w, &resp)
			if resp.Status != tc.wantStatus {
				t.Errorf("status = %q, want %q (checks %v)", resp.Status, tc.wantStatus, resp.Checks)
			}
		})
	}
}

func TestLivenessAndReadiness(t *testing.T) {
	h := newTestServer(t, &fakeControl{}).Handler()
	if w := do(t, h, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("healthz = %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/readyz", "", ""); w.Code != http.StatusOK {
		t.Errorf("readyz = %d", w.Code)
	}

	h = newTestServer(t, &fakeControl{statusErr: apperrors.ErrConnectionRefused}).Handler()
	if w := do(t, h, http.MethodGet, "/readyz", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz unreachable = %d, want 503", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/healthz", "", ""); w.Code != http.StatusOK {
		t.Errorf("healthz does not depend on the service, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{rpc.ErrNotFound("x"), http.StatusNotFound},
		{rpc.ErrInvalidParams("x"), http.StatusBadRequest},
		{rpc.ErrUnavailable("x"), http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("dial: %w", apperrors.ErrConnectionRefused), http.StatusBadGateway},
		{rpc.ErrInternal("x"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestServer_StartStop(t *testing.T) {
	client := &fakeControl{}
	s := NewWithClient(Config{ListenAddr: "127.0.0.1:0"}, client)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	if err := s.Start(); !apperrors.IsInvalidState(err) {
		t.Errorf("second Start() = %v, want invalid state", err)
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/api/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /api/status = %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop() = %v", err)
	}
	if !client.closed {
		t.Error("control client not closed")
	}
	if err := s.Stop(ctx); err != nil {
		t.Errorf("second Stop() = %v", err)
	}
}
