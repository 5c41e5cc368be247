package web

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

func TestCSRFManager_GenerateToken(t *testing.T) {
	m := NewCSRFManager()

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := m.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken() error = %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token %q", token)
		}
		seen[token] = true
	}
	if m.TokenCount() != 100 {
		t.Errorf("TokenCount() = %d, want 100", m.TokenCount())
	}
}

func TestCSRFManager_Validate(t *testing.T) {
	now := time.Now()
	m := NewCSRFManager()
	m.now = func() time.Time { return now }

	token, err := m.GenerateToken()
	if err != nil {
		t.Fatal(err)
	}

	if err := m.Validate(token); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}
	// Tokens are reusable until they expire.
	if err := m.Validate(token); err != nil {
		t.Errorf("second Validate(valid) = %v", err)
	}
	if err := m.Validate(""); !errors.Is(err, ErrCSRFTokenMissing) {
		t.Errorf("Validate(\"\") = %v, want ErrCSRFTokenMissing", err)
	}
	if err := m.Validate("not-a-token"); !errors.Is(err, ErrCSRFTokenInvalid) {
		t.Errorf("Validate(unknown) = %v, want ErrCSRFTokenInvalid", err)
	}
	if !apperrors.IsInvalidInput(ErrCSRFTokenInvalid) {
		t.Error("CSRF errors should classify as invalid input")
	}

	now = now.Add(CSRFTokenExpiry + time.Second)
	if err := m.Validate(token); !errors.Is(err, ErrCSRFTokenExpired) {
		t.Errorf("Validate(expired) = %v, want ErrCSRFTokenExpired", err)
	}
	if m.TokenCount() != 0 {
		t.Errorf("expired token not dropped, count = %d", m.TokenCount())
	}
}

func TestCSRFManager_Cleanup(t *testing.T) {
	now := time.Now()
	m := NewCSRFManager()
	m.now = func() time.Time { return now }

	m.GenerateToken()
	m.GenerateToken()
	now = now.Add(CSRFTokenExpiry / 2)
	m.GenerateToken()
	now = now.Add(CSRFTokenExpiry/2 + time.Second)

	if removed := m.Cleanup(); removed != 2 {
		t.Errorf("Cleanup() = %d, want 2", removed)
	}
	if m.TokenCount() != 1 {
		t.Errorf("TokenCount() = %d, want 1", m.TokenCount())
	}
}

func TestCSRFMiddleware(t *testing.T) {
	m := NewCSRFManager()
	token, _ := m.GenerateToken()
	h := m.Middleware(okHandler())

	tests := []struct {
		name   string
		method string
		token  string
		want   int
	}{
		{"get passes", http.MethodGet, "", http.StatusOK},
		{"head passes", http.MethodHead, "", http.StatusOK},
		{"post without token", http.MethodPost, "", http.StatusForbidden},
		{"post with bad token", http.MethodPost, "bogus", http.StatusForbidden},
		{"post with token", http.MethodPost, token, http.StatusOK},
		{"delete with token", http.MethodDelete, token, http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, "/api/pool/close-idle", nil)
			if tc.token != "" {
				req.Header.Set(CSRFHeaderName, tc.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Errorf("status = %d, want %d", w.Code, tc.want)
			}
		})
	}
}

func TestSetCSRFCookie(t *testing.T) {
	w := httptest.NewRecorder()
	SetCSRFCookie(w, "tok")

	cookies := w.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("got %d cookies, want 1", len(cookies))
	}
	c := cookies[0]
	if c.Name != CSRFCookieName || c.Value != "tok" {
		t.Errorf("cookie = %s=%s", c.Name, c.Value)
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("SameSite = %v, want Strict", c.SameSite)
	}
}
