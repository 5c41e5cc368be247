package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// handleAPICSRFToken issues a CSRF token. It must be sent in the
// X-CSRF-Token header of every POST.
func (s *Server) handleAPICSRFToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.csrf.GenerateToken()
	if err != nil {
		log.WithError(err).Error("failed to generate CSRF token")
		s.writeError(w, http.StatusInternalServerError, "failed to generate token")
		return
	}

	SetCSRFCookie(w, token)
	s.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// handleAPIStatus returns the service status.
func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	status, err := s.client.Status(ctx)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleAPIStats returns pool statistics.
func (s *Server) handleAPIStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	stats, err := s.client.Stats(ctx)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// handleAPIGroups lists the configured groups.
func (s *Server) handleAPIGroups(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	groups, err := s.client.GroupsList(ctx)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, groups)
}

// handleAPIBreakers lists circuit breakers and upstream probes.
func (s *Server) handleAPIBreakers(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	breakers, err := s.client.BreakersList(ctx)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, breakers)
}

// handleAPIConfig returns the configuration, or one dotted key of it.
func (s *Server) handleAPIConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.client.ConfigGet(ctx, r.URL.Query().Get("key"))
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleAPICloseIdle closes every idle socket in the service's pool.
func (s *Server) handleAPICloseIdle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	result, err := s.client.CloseIdle(ctx)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleAPIProbe leases one socket for a group or transport://address.
func (s *Server) handleAPIProbe(w http.ResponseWriter, r *http.Request) {
	var req rpc.ProbeParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Target == "" {
		s.writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	timeout := rpc.DefaultProbeTimeout
	if req.Timeout != "" {
		d, err := time.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid timeout")
			return
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout+requestTimeout)
	defer cancel()

	result, err := s.client.Probe(ctx, req)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	status := http.StatusOK
	if result.Error != "" {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, result)
}

// BreakerResetRequest is the request body for resetting a breaker.
type BreakerResetRequest struct {
	Name string `json:"name"`
}

// handleAPIBreakerReset closes a circuit breaker.
func (s *Server) handleAPIBreakerReset(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	var req BreakerResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	result, err := s.client.BreakerReset(ctx, req.Name)
	if err != nil {
		s.writeControlError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// HealthResponse contains the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks"`
}

// handleAPIHealth reports whether the service answers and whether any
// breaker is open or upstream down. Only an unreachable service is
// unhealthy; open breakers make it degraded.
func (s *Server) handleAPIHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    make(map[string]string),
	}

	status, err := s.client.Status(ctx)
	if err != nil {
		resp.Status = "unhealthy"
		resp.Checks["control"] = "unhealthy: " + err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Version = status.Version
	resp.Checks["control"] = "healthy"
	resp.Checks["service"] = status.State
	if status.State != "running" {
		resp.Status = "degraded"
	}

	s.checkBreakers(ctx, resp.Checks, &resp.Status)
	s.writeJSON(w, http.StatusOK, resp)
}

// checkBreakers records open breakers and unhealthy upstreams.
func (s *Server) checkBreakers(ctx context.Context, checks map[string]string, overall *string) {
	result, err := s.client.BreakersList(ctx)
	if err != nil {
		checks["breakers"] = "unknown"
		return
	}

	open := 0
	for _, b := range result.Breakers {
		if b.State == "open" {
			open++
		}
	}
	if open > 0 {
		checks["breakers"] = "open"
		*overall = "degraded"
	} else {
		checks["breakers"] = "closed"
	}

	for _, u := range result.Upstreams {
		if u.Healthy {
			checks["upstream."+u.Name] = "healthy"
			continue
		}
		checks["upstream."+u.Name] = "unhealthy"
		*overall = "degraded"
	}
}

// handleAPILiveness reports that the gateway itself responds.
func (s *Server) handleAPILiveness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// handleAPIReadiness reports whether the service is reachable and running.
func (s *Server) handleAPIReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, err := s.client.Status(ctx)
	if err != nil {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "control_unavailable",
		})
		return
	}
	if status.State != "running" {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.State,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
