package web

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

const (
	// CSRFTokenLength is the byte length of the raw CSRF token
	CSRFTokenLength = 32

	// CSRFHeaderName carries the token on state-changing requests
	CSRFHeaderName = "X-CSRF-Token"

	// CSRFCookieName is the cookie the token is also set in
	CSRFCookieName = "csrf_token"

	// CSRFTokenExpiry is how long tokens remain valid
	CSRFTokenExpiry = 12 * time.Hour
)

var (
	ErrCSRFTokenMissing = fmt.Errorf("csrf token missing: %w", apperrors.ErrInvalidInput)
	ErrCSRFTokenInvalid = fmt.Errorf("csrf token invalid: %w", apperrors.ErrInvalidInput)
	ErrCSRFTokenExpired = fmt.Errorf("csrf token expired: %w", apperrors.ErrInvalidInput)
)

// CSRFManager issues tokens and checks them on state-changing requests.
// Tokens are not consumed by use; they expire after CSRFTokenExpiry.
type CSRFManager struct {
	mu     sync.Mutex
	issued map[string]time.Time
	now    func() time.Time
}

// NewCSRFManager creates a new CSRF manager.
func NewCSRFManager() *CSRFManager {
	return &CSRFManager{
		issued: make(map[string]time.Time),
		now:    time.Now,
	}
}

// GenerateToken creates and records a new token.
func (m *CSRFManager) GenerateToken() (string, error) {
	raw := make([]byte, CSRFTokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(raw)

	m.mu.Lock()
	m.issued[token] = m.now()
	m.mu.Unlock()
	return token, nil
}

// Validate checks provided against every live token in constant time.
func (m *CSRFManager) Validate(provided string) error {
	if provided == "" {
		return ErrCSRFTokenMissing
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		issuedAt time.Time
		found    bool
	)
	for token, at := range m.issued {
		if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1 {
			issuedAt, found = at, true
		}
	}
	if !found {
		return ErrCSRFTokenInvalid
	}
	if m.now().Sub(issuedAt) > CSRFTokenExpiry {
		delete(m.issued, provided)
		return ErrCSRFTokenExpired
	}
	return nil
}

// Cleanup drops expired tokens and returns how many it dropped.
func (m *CSRFManager) Cleanup() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	now := m.now()
	for token, at := range m.issued {
		if now.Sub(at) > CSRFTokenExpiry {
			delete(m.issued, token)
			removed++
		}
	}
	return removed
}

// StartCleanup runs Cleanup every interval until the returned channel is
// closed.
func (m *CSRFManager) StartCleanup(interval time.Duration) chan struct{} {
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := m.Cleanup(); removed > 0 {
					log.WithField("removed", removed).Debug("csrf cleanup")
				}
			case <-stop:
				return
			}
		}
	}()
	return stop
}

// TokenCount returns the number of live tokens.
func (m *CSRFManager) TokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.issued)
}

// Middleware rejects unsafe requests that lack a valid X-CSRF-Token header.
func (m *CSRFManager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isSafeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}

		if err := m.Validate(r.Header.Get(CSRFHeaderName)); err != nil {
			log.WithField("method", r.Method).
				WithField("path", r.URL.Path).
				WithError(err).
				Warn("csrf validation failed")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}

// SetCSRFCookie sets the token cookie. It is readable by scripts so a page
// can copy it into the header; SameSite=Strict keeps it off cross-site
// requests.
func SetCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CSRFCookieName,
		Value:    token,
		Path:     "/",
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(CSRFTokenExpiry.Seconds()),
	})
}
