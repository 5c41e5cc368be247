// Package rpc is the control interface of a running sockpool service:
// newline-delimited JSON-RPC 2.0 over a Unix socket and, optionally, TCP.
// It reports pool and breaker state and lets operators probe groups, close
// idle sockets and reset breakers.
package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ProtocolVersion is reported by the status method.
const ProtocolVersion = "1.0"

// JSON-RPC 2.0 error codes, plus sockpool's own in the -32000 range.
const (
	ErrCodeParse            = -32700
	ErrCodeInvalidRequest   = -32600
	ErrCodeMethodNotFound   = -32601
	ErrCodeInvalidParams    = -32602
	ErrCodeInternal         = -32603
	ErrCodeAuthRequired     = -32001
	ErrCodePermissionDenied = -32002
	ErrCodeNotFound         = -32003
	ErrCodeUnavailable      = -32004
)

// Request is a JSON-RPC request. One request is one line on the wire.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Error is a JSON-RPC error object. It implements error so clients can
// return it directly.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("%s (code %d): %v", e.Message, e.Code, e.Data)
	}
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// NewError creates an Error.
func NewError(code int, message string, data any) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

// NewErrorResponse creates a failed Response.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{JSONRPC: "2.0", Error: err, ID: id}
}

// NewSuccessResponse creates a Response carrying result. A result that
// cannot be encoded becomes an internal error.
func NewSuccessResponse(id json.RawMessage, result any) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return NewErrorResponse(id, ErrInternal("encoding result: "+err.Error()))
	}
	return &Response{JSONRPC: "2.0", Result: data, ID: id}
}

// ValidateRequest checks that req is a JSON-RPC 2.0 request.
func ValidateRequest(req *Request) error {
	if req.JSONRPC != "2.0" {
		return errors.New(`jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return errors.New("method is required")
	}
	return nil
}

// ErrMethodNotFound reports an unknown method.
func ErrMethodNotFound(method string) *Error {
	return NewError(ErrCodeMethodNotFound, "method not found", method)
}

// ErrInvalidParams reports malformed parameters.
func ErrInvalidParams(details string) *Error {
	return NewError(ErrCodeInvalidParams, "invalid params", details)
}

// ErrInternal reports a server-side failure.
func ErrInternal(details string) *Error {
	return NewError(ErrCodeInternal, "internal error", details)
}

// ErrAuthRequired is returned to unauthenticated TCP clients.
func ErrAuthRequired() *Error {
	return NewError(ErrCodeAuthRequired, "authentication required", nil)
}

// ErrPermissionDenied reports a rejected token.
func ErrPermissionDenied(details string) *Error {
	return NewError(ErrCodePermissionDenied, "permission denied", details)
}

// ErrNotFound reports an unknown group, breaker or config key.
func ErrNotFound(resource string) *Error {
	return NewError(ErrCodeNotFound, "not found", resource)
}

// ErrUnavailable reports that the service is not running.
func ErrUnavailable(details string) *Error {
	return NewError(ErrCodeUnavailable, "service unavailable", details)
}

// StatusResult is the result of "status".
type StatusResult struct {
	State       string    `json:"state"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	Uptime      string    `json:"uptime"`
	Version     string    `json:"version"`
	Protocol    string    `json:"protocol"`
	Groups      int       `json:"groups"`
	LiveGroups  int       `json:"live_groups"`
	Idle        int       `json:"idle"`
	Active      int       `json:"active"`
	Pending     int       `json:"pending"`
	SOCKSProxy  string    `json:"socks_proxy,omitempty"`
	I2P         bool      `json:"i2p"`
	MetricsAddr string    `json:"metrics_addr,omitempty"`
}

// GroupStats is one row of "pool.stats".
type GroupStats struct {
	Name       string `json:"name"`
	Idle       int    `json:"idle"`
	Active     int    `json:"active"`
	Connecting int    `json:"connecting"`
	Pending    int    `json:"pending"`
}

// StatsResult is the result of "pool.stats".
type StatsResult struct {
	MaxSocketsPerGroup int          `json:"max_sockets_per_group"`
	Idle               int          `json:"idle"`
	Active             int          `json:"active"`
	Connecting         int          `json:"connecting"`
	Pending            int          `json:"pending"`
	Requests           uint64       `json:"requests"`
	Reused             uint64       `json:"reused"`
	ConnectsStarted    uint64       `json:"connects_started"`
	ConnectsFailed     uint64       `json:"connects_failed"`
	Evicted            uint64       `json:"evicted"`
	Groups             []GroupStats `json:"groups"`
}

// CloseIdleResult is the result of "pool.close_idle".
type CloseIdleResult struct {
	Closed int `json:"closed"`
}

// GroupInfo describes a configured group in "groups.list".
type GroupInfo struct {
	Name      string `json:"name"`
	Transport string `json:"transport"`
	Address   string `json:"address"`
	Priority  int    `json:"priority"`
	// Pool is the pool group name the destination maps to.
	Pool    string `json:"pool"`
	Breaker string `json:"breaker"`
}

// GroupsListResult is the result of "groups.list".
type GroupsListResult struct {
	Groups []GroupInfo `json:"groups"`
	Total  int         `json:"total"`
}

// ProbeParams are the parameters of "groups.probe". Target is a configured
// group name or transport://address.
type ProbeParams struct {
	Target  string `json:"target"`
	Timeout string `json:"timeout,omitempty"`
}

// ProbeResult is the result of "groups.probe".
type ProbeResult struct {
	Group   string `json:"group"`
	Reused  bool   `json:"reused"`
	Latency string `json:"latency"`
	Error   string `json:"error,omitempty"`
}

// BreakerInfo describes one circuit breaker.
type BreakerInfo struct {
	Name        string    `json:"name"`
	State       string    `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// UpstreamInfo describes a probed upstream such as the SOCKS5 proxy or SAM
// bridge.
type UpstreamInfo struct {
	Name      string    `json:"name"`
	Addr      string    `json:"addr"`
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check,omitempty"`
}

// BreakersListResult is the result of "breakers.list".
type BreakersListResult struct {
	Breakers  []BreakerInfo  `json:"breakers"`
	Upstreams []UpstreamInfo `json:"upstreams"`
}

// BreakerResetParams are the parameters of "breakers.reset".
type BreakerResetParams struct {
	Name string `json:"name"`
}

// BreakerResetResult is the result of "breakers.reset".
type BreakerResetResult struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// ConfigGetParams are the parameters of "config.get". Key is a dotted path
// such as "pool.idle_timeout"; empty returns the whole configuration.
type ConfigGetParams struct {
	Key string `json:"key,omitempty"`
}

// ConfigGetResult is the result of "config.get".
type ConfigGetResult struct {
	Key   string `json:"key,omitempty"`
	Value any    `json:"value"`
}
