package tui

import (
	"time"

	"github.com/go-i2p/sockpool/lib/rpc"
)

// refreshMsg carries one round of refreshed data.
type refreshMsg struct {
	status   *rpc.StatusResult
	stats    *rpc.StatsResult
	groups   *rpc.GroupsListResult
	breakers *rpc.BreakersListResult
	err      error
}

// tickMsg triggers a data refresh.
type tickMsg time.Time

// actionMsg reports the outcome of a user action.
type actionMsg struct {
	text string
	err  error
}
