package web

import (
	"context"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// ControlClient is the part of the control API the gateway serves.
type ControlClient interface {
	Status(ctx context.Context) (*rpc.StatusResult, error)
	Stats(ctx context.Context) (*rpc.StatsResult, error)
	CloseIdle(ctx context.Context) (*rpc.CloseIdleResult, error)
	GroupsList(ctx context.Context) (*rpc.GroupsListResult, error)
	Probe(ctx context.Context, params rpc.ProbeParams) (*rpc.ProbeResult, error)
	BreakersList(ctx context.Context) (*rpc.BreakersListResult, error)
	BreakerReset(ctx context.Context, name string) (*rpc.BreakerResetResult, error)
	ConfigGet(ctx context.Context, key string) (*rpc.ConfigGetResult, error)
	Close() error
}

var _ ControlClient = (*rpc.PooledClient)(nil)
