package core

import (
	"context"
	"fmt"
	"time"

	apperrors "github.com/go-i2p/sockpool/lib/errors"
	"github.com/go-i2p/sockpool/lib/rpc"
	"github.com/go-i2p/sockpool/version"
)

// newControlServer creates the control server for cfg with every method
// backed by s. It does not listen until started.
func newControlServer(s *Service, cfg RPCConfig) (*rpc.Server, error) {
	srv, err := rpc.NewServer(rpc.ServerConfig{
		UnixSocketPath: cfg.Socket,
		TCPAddress:     cfg.TCPAddress,
		AuthFile:       cfg.AuthFile,
		MaxConnections: cfg.MaxConnections,
	})
	if err != nil {
		return nil, err
	}
	backend := controlBackend{svc: s}
	rpc.NewHandlers(rpc.HandlersConfig{
		Pool:     backend,
		Groups:   backend,
		Breakers: backend,
		Config:   backend,
	}).RegisterAll(srv)
	return srv, nil
}

// controlBackend answers control requests from the service state.
type controlBackend struct {
	svc *Service
}

func (b controlBackend) Status(ctx context.Context) (*rpc.StatusResult, error) {
	stats, err := b.svc.Stats(ctx)
	if err != nil {
		return nil, err
	}
	cfg := b.svc.Config()
	result := &rpc.StatusResult{
		State:      b.svc.State().String(),
		StartedAt:  b.svc.StartedAt(),
		Uptime:     b.svc.Uptime().Round(time.Second).String(),
		Version:    version.Full(),
		Groups:     len(cfg.Groups),
		LiveGroups: stats.Groups,
		Idle:       stats.IdleSockets,
		Active:     stats.ActiveSockets,
		Pending:    stats.PendingRequests,
		SOCKSProxy: cfg.Transport.SOCKSProxy,
		I2P:        cfg.I2P.Enabled,
	}
	if addr := b.svc.MetricsAddr(); addr != nil {
		result.MetricsAddr = addr.String()
	}
	return result, nil
}

func (b controlBackend) Stats(ctx context.Context) (*rpc.StatsResult, error) {
	stats, err := b.svc.Stats(ctx)
	if err != nil {
		return nil, err
	}
	result := &rpc.StatsResult{
		MaxSocketsPerGroup: stats.MaxSocketsPerGroup,
		Idle:               stats.IdleSockets,
		Active:             stats.ActiveSockets,
		Connecting:         stats.ConnectingRequests,
		Pending:            stats.PendingRequests,
		Requests:           stats.RequestCount,
		Reused:             stats.ReuseCount,
		ConnectsStarted:    stats.ConnectJobsStarted,
		ConnectsFailed:     stats.ConnectJobsFailed,
		Evicted:            stats.EvictedCount,
		Groups:             make([]rpc.GroupStats, 0, len(stats.PerGroup)),
	}
	for _, g := range stats.PerGroup {
		result.Groups = append(result.Groups, rpc.GroupStats{
			Name:       g.Name,
			Idle:       g.Idle,
			Active:     g.Active,
			Connecting: g.Connecting,
			Pending:    g.Pending,
		})
	}
	return result, nil
}

func (b controlBackend) CloseIdle(ctx context.Context) (int, error) {
	return b.svc.closeIdleSockets(ctx)
}

func (b controlBackend) ListGroups() []rpc.GroupInfo {
	states := make(map[string]string)
	if f := b.svc.Factory(); f != nil {
		for _, st := range f.Breakers().Stats() {
			states[st.Name] = st.State.String()
		}
	}

	cfg := b.svc.Config()
	groups := make([]rpc.GroupInfo, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		info := rpc.GroupInfo{
			Name:      g.Name,
			Transport: g.Transport,
			Address:   g.Address,
			Priority:  g.Priority,
		}
		if dest, err := g.Destination(); err == nil {
			info.Transport = string(dest.Kind)
			info.Pool = dest.GroupName()
			info.Breaker = states[info.Pool]
		}
		if info.Breaker == "" {
			info.Breaker = "closed"
		}
		groups = append(groups, info)
	}
	return groups
}

func (b controlBackend) Probe(ctx context.Context, target string) (*rpc.ProbeResult, error) {
	dest, priority, err := b.svc.Config().ResolveTarget(target)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	lease, err := b.svc.Lease(ctx, dest, priority)
	if err != nil {
		if apperrors.IsInvalidState(err) {
			return nil, err
		}
		return &rpc.ProbeResult{
			Group:   dest.GroupName(),
			Latency: time.Since(start).Round(time.Microsecond).String(),
			Error:   err.Error(),
		}, nil
	}
	defer lease.Release()
	return &rpc.ProbeResult{
		Group:   lease.Group(),
		Reused:  lease.Reused(),
		Latency: lease.Latency().Round(time.Microsecond).String(),
	}, nil
}

func (b controlBackend) ListBreakers() *rpc.BreakersListResult {
	result := &rpc.BreakersListResult{}
	f := b.svc.Factory()
	if f == nil {
		return result
	}
	for _, st := range f.Breakers().Stats() {
		result.Breakers = append(result.Breakers, rpc.BreakerInfo{
			Name:        st.Name,
			State:       st.State.String(),
			Failures:    st.Failures,
			Successes:   st.Successes,
			LastFailure: st.LastFailure,
		})
	}
	for _, p := range f.Probes() {
		st := p.Stats()
		result.Upstreams = append(result.Upstreams, rpc.UpstreamInfo{
			Name:      st.Name,
			Addr:      st.Addr,
			Healthy:   st.Healthy,
			LastCheck: st.LastCheck,
		})
	}
	return result
}

func (b controlBackend) ResetBreaker(name string) (string, error) {
	f := b.svc.Factory()
	if f == nil {
		return "", fmt.Errorf("service is %s: %w", b.svc.State(), apperrors.ErrInvalidState)
	}
	if !f.Breakers().Reset(name) {
		return "", fmt.Errorf("breaker %q: %w", name, apperrors.ErrNotFound)
	}
	b.svc.logger.Info("circuit breaker reset", "group", name)
	return f.Breakers().Get(name).State().String(), nil
}

func (b controlBackend) GetConfig(key string) (any, error) {
	return b.svc.Config().Lookup(key)
}
