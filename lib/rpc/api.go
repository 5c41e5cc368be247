package rpc

import "context"

type caller interface {
	Call(ctx context.Context, method string, params, result any) error
}

// API provides typed wrappers around the control methods. It is embedded in
// Client and PooledClient.
type API struct {
	caller caller
}

// Status returns the service state and pool totals.
func (a API) Status(ctx context.Context) (*StatusResult, error) {
	var result StatusResult
	if err := a.caller.Call(ctx, "status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Stats returns per-group pool statistics.
func (a API) Stats(ctx context.Context) (*StatsResult, error) {
	var result StatsResult
	if err := a.caller.Call(ctx, "pool.stats", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CloseIdle closes every idle socket and reports how many were closed.
func (a API) CloseIdle(ctx context.Context) (*CloseIdleResult, error) {
	var result CloseIdleResult
	if err := a.caller.Call(ctx, "pool.close_idle", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GroupsList returns the configured groups.
func (a API) GroupsList(ctx context.Context) (*GroupsListResult, error) {
	var result GroupsListResult
	if err := a.caller.Call(ctx, "groups.list", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Probe leases and releases one socket for target. A failed connect
// attempt is reported in ProbeResult.Error, not as an error.
func (a API) Probe(ctx context.Context, params ProbeParams) (*ProbeResult, error) {
	var result ProbeResult
	if err := a.caller.Call(ctx, "groups.probe", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BreakersList returns the circuit breakers and upstream probes.
func (a API) BreakersList(ctx context.Context) (*BreakersListResult, error) {
	var result BreakersListResult
	if err := a.caller.Call(ctx, "breakers.list", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// BreakerReset closes the named breaker.
func (a API) BreakerReset(ctx context.Context, name string) (*BreakerResetResult, error) {
	var result BreakerResetResult
	if err := a.caller.Call(ctx, "breakers.reset", BreakerResetParams{Name: name}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ConfigGet returns one configuration value, or the whole configuration
// when key is empty.
func (a API) ConfigGet(ctx context.Context, key string) (*ConfigGetResult, error) {
	var result ConfigGetResult
	if err := a.caller.Call(ctx, "config.get", ConfigGetParams{Key: key}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
