package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
)

// DefaultProbeTimeout bounds a groups.probe call without a timeout param.
const DefaultProbeTimeout = 10 * time.Second

// PoolProvider exposes the running pool.
type PoolProvider interface {
	// Status returns the service state and pool totals.
	Status(ctx context.Context) (*StatusResult, error)
	// Stats returns pool statistics.
	Stats(ctx context.Context) (*StatsResult, error)
	// CloseIdle closes every idle socket and returns how many there were.
	CloseIdle(ctx context.Context) (int, error)
}

// GroupProvider exposes the configured groups.
type GroupProvider interface {
	ListGroups() []GroupInfo
	// Probe leases and releases one socket for target, a group name or
	// transport://address.
	Probe(ctx context.Context, target string) (*ProbeResult, error)
}

// BreakerProvider exposes the circuit breakers and upstream probes.
type BreakerProvider interface {
	ListBreakers() *BreakersListResult
	// ResetBreaker closes the named breaker and returns its new state.
	ResetBreaker(name string) (string, error)
}

// ConfigProvider exposes the configuration read-only.
type ConfigProvider interface {
	// GetConfig returns the value at a dotted key, or the whole
	// configuration when key is empty.
	GetConfig(key string) (any, error)
}

// Handlers implements the control methods on top of the providers.
// A nil provider makes its methods report ErrUnavailable.
type Handlers struct {
	pool     PoolProvider
	groups   GroupProvider
	breakers BreakerProvider
	config   ConfigProvider
}

// HandlersConfig configures Handlers.
type HandlersConfig struct {
	Pool     PoolProvider
	Groups   GroupProvider
	Breakers BreakerProvider
	Config   ConfigProvider
}

// NewHandlers creates the control handlers.
func NewHandlers(cfg HandlersConfig) *Handlers {
	return &Handlers{
		pool:     cfg.Pool,
		groups:   cfg.Groups,
		breakers: cfg.Breakers,
		config:   cfg.Config,
	}
}

// RegisterAll registers every control method with s.
func (h *Handlers) RegisterAll(s *Server) {
	s.RegisterHandler("status", h.Status)
	s.RegisterHandler("pool.stats", h.PoolStats)
	s.RegisterHandler("pool.close_idle", h.PoolCloseIdle)
	s.RegisterHandler("groups.list", h.GroupsList)
	s.RegisterHandler("groups.probe", h.GroupsProbe)
	s.RegisterHandler("breakers.list", h.BreakersList)
	s.RegisterHandler("breakers.reset", h.BreakersReset)
	s.RegisterHandler("config.get", h.ConfigGet)
}

// Status returns the service status.
func (h *Handlers) Status(ctx context.Context, _ json.RawMessage) (any, *Error) {
	if h.pool == nil {
		return nil, ErrUnavailable("pool not available")
	}
	result, err := h.pool.Status(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	result.Protocol = ProtocolVersion
	return result, nil
}

// PoolStats returns pool statistics.
func (h *Handlers) PoolStats(ctx context.Context, _ json.RawMessage) (any, *Error) {
	if h.pool == nil {
		return nil, ErrUnavailable("pool not available")
	}
	result, err := h.pool.Stats(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	if result.Groups == nil {
		result.Groups = []GroupStats{}
	}
	return result, nil
}

// PoolCloseIdle closes every idle socket.
func (h *Handlers) PoolCloseIdle(ctx context.Context, _ json.RawMessage) (any, *Error) {
	if h.pool == nil {
		return nil, ErrUnavailable("pool not available")
	}
	n, err := h.pool.CloseIdle(ctx)
	if err != nil {
		return nil, toRPCError(err)
	}
	return &CloseIdleResult{Closed: n}, nil
}

// GroupsList lists the configured groups.
func (h *Handlers) GroupsList(_ context.Context, _ json.RawMessage) (any, *Error) {
	if h.groups == nil {
		return &GroupsListResult{Groups: []GroupInfo{}}, nil
	}
	groups := h.groups.ListGroups()
	if groups == nil {
		groups = []GroupInfo{}
	}
	return &GroupsListResult{Groups: groups, Total: len(groups)}, nil
}

// GroupsProbe leases one socket for the target and reports the outcome.
func (h *Handlers) GroupsProbe(ctx context.Context, params json.RawMessage) (any, *Error) {
	if h.groups == nil {
		return nil, ErrUnavailable("groups not available")
	}

	var p ProbeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
	}
	if p.Target == "" {
		return nil, ErrInvalidParams("target is required")
	}

	timeout := DefaultProbeTimeout
	if p.Timeout != "" {
		d, err := time.ParseDuration(p.Timeout)
		if err != nil || d <= 0 {
			return nil, ErrInvalidParams("invalid timeout: " + p.Timeout)
		}
		timeout = d
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := h.groups.Probe(ctx, p.Target)
	if err != nil {
		return nil, toRPCError(err)
	}
	return result, nil
}

// BreakersList lists the circuit breakers and upstream probes.
func (h *Handlers) BreakersList(_ context.Context, _ json.RawMessage) (any, *Error) {
	result := &BreakersListResult{}
	if h.breakers != nil {
		if r := h.breakers.ListBreakers(); r != nil {
			result = r
		}
	}
	if result.Breakers == nil {
		result.Breakers = []BreakerInfo{}
	}
	if result.Upstreams == nil {
		result.Upstreams = []UpstreamInfo{}
	}
	return result, nil
}

// BreakersReset closes a circuit breaker.
func (h *Handlers) BreakersReset(_ context.Context, params json.RawMessage) (any, *Error) {
	if h.breakers == nil {
		return nil, ErrUnavailable("breakers not available")
	}

	var p BreakerResetParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
	}
	if p.Name == "" {
		return nil, ErrInvalidParams("name is required")
	}

	state, err := h.breakers.ResetBreaker(p.Name)
	if err != nil {
		return nil, toRPCError(err)
	}
	return &BreakerResetResult{Name: p.Name, State: state}, nil
}

// ConfigGet returns a configuration value.
func (h *Handlers) ConfigGet(_ context.Context, params json.RawMessage) (any, *Error) {
	if h.config == nil {
		return nil, ErrUnavailable("config not available")
	}

	var p ConfigGetParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, ErrInvalidParams(err.Error())
		}
	}

	value, err := h.config.GetConfig(p.Key)
	if err != nil {
		return nil, toRPCError(err)
	}
	return &ConfigGetResult{Key: p.Key, Value: value}, nil
}

// toRPCError maps provider errors onto control error codes.
func toRPCError(err error) *Error {
	var rerr *Error
	switch {
	case errors.As(err, &rerr):
		return rerr
	case apperrors.IsNotFound(err):
		return ErrNotFound(err.Error())
	case apperrors.IsInvalidInput(err):
		return ErrInvalidParams(err.Error())
	case apperrors.IsInvalidState(err), apperrors.IsClosed(err):
		return ErrUnavailable(err.Error())
	case errors.Is(err, context.DeadlineExceeded), apperrors.IsTimeout(err):
		return NewError(ErrCodeInternal, "timed out", err.Error())
	default:
		return ErrInternal(err.Error())
	}
}
