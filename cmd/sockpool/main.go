// sockpool runs a pool of reusable client connections to TCP, TLS, SOCKS5
// and I2P destinations.
//
// Usage:
//
//	sockpool [flags] serve
//	sockpool [flags] probe [-count N] <group|transport://address>...
//	sockpool [flags] groups
//	sockpool [flags] config.init
//	sockpool [flags] rpc <method> [args]
//	sockpool [flags] tui
//	sockpool [flags] web [-listen ADDR]
//
// Flags:
//
//	-config string
//	    Path to configuration file (default "~/.sockpool/config.toml")
//	-sam string
//	    SAM bridge address, enables i2p (overrides config)
//	-socks string
//	    SOCKS5 proxy address (overrides config)
//	-metrics string
//	    Serve Prometheus metrics on this address (overrides config)
//	-rpc string
//	    Control socket path; enables the control server for serve
//	    (overrides config)
//	-v
//	    Enable verbose logging
//	-version
//	    Print version and exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/go-i2p/sockpool/lib/core"
	"github.com/go-i2p/sockpool/lib/pool"
	"github.com/go-i2p/sockpool/lib/rpc"
	"github.com/go-i2p/sockpool/lib/transport"
	"github.com/go-i2p/sockpool/lib/tui"
	"github.com/go-i2p/sockpool/lib/web"
	"github.com/go-i2p/sockpool/version"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", core.DefaultConfigPath(), "Path to configuration file")
	samAddr := flag.String("sam", "", "SAM bridge address, enables i2p (overrides config)")
	socksAddr := flag.String("socks", "", "SOCKS5 proxy address (overrides config)")
	metricsAddr := flag.String("metrics", "", "Serve Prometheus metrics on this address (overrides config)")
	rpcSocket := flag.String("rpc", "", "Control socket path, enables the control server (overrides config)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	showVersion := flag.Bool("version", false, "Print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "sockpool - pooled client connections over TCP, TLS, SOCKS5 and I2P\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] serve                 Run the pool until interrupted\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] probe TARGET...       Lease and release sockets, print timings\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] groups                List configured groups\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] config.init           Write a default config file\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] rpc METHOD [ARGS]     Call a running service's control server\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] tui                   Launch the interactive dashboard\n")
		fmt.Fprintf(os.Stderr, "  sockpool [flags] web [-listen ADDR]    Serve the control API over HTTP\n\n")
		fmt.Fprintf(os.Stderr, "TARGET is a configured group name or transport://address,\n")
		fmt.Fprintf(os.Stderr, "e.g. tcp://example.org:80 or i2p://example.i2p\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("sockpool version %s\n", version.Full())
		return 0
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	args := flag.Args()
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	if command == "config.init" {
		return handleConfigInit(*configPath)
	}

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	if *samAddr != "" {
		cfg.I2P.Enabled = true
		cfg.I2P.SAMAddress = *samAddr
	}
	if *socksAddr != "" {
		cfg.Transport.SOCKSProxy = *socksAddr
	}
	if *metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = *metricsAddr
	}
	if *rpcSocket != "" {
		cfg.RPC.Enabled = true
		cfg.RPC.Socket = *rpcSocket
	}

	switch command {
	case "serve":
		return handleServe(cfg, logger)
	case "probe":
		return handleProbe(cfg, logger, args)
	case "groups":
		return handleGroups(cfg)
	case "rpc":
		return handleRPC(cfg, args)
	case "tui":
		return handleTUI(cfg)
	case "web":
		return handleWeb(cfg, logger, args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		flag.Usage()
		return 1
	}
}

// handleServe runs the service until SIGINT or SIGTERM.
func handleServe(cfg *core.Config, logger *slog.Logger) int {
	svc, err := core.NewService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("sockpool starting", version.LogAttrs()...)
	if err := svc.Run(ctx); err != nil {
		logger.Error("service stopped with error", "error", err)
		return 1
	}

	logger.Info("sockpool stopped")
	return 0
}

// handleProbe leases a socket for each target, reports whether it was new or
// reused, and releases it. With -count N the round is repeated so reuse shows.
func handleProbe(cfg *core.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	count := fs.Int("count", 2, "Rounds over all targets")
	timeout := fs.Duration("timeout", 30*time.Second, "Timeout per lease")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: sockpool probe [-count N] [-timeout D] TARGET...")
		return 1
	}

	targets := make([]transport.Destination, 0, fs.NArg())
	priorities := make([]int, 0, fs.NArg())
	for _, arg := range fs.Args() {
		dest, priority, err := cfg.ResolveTarget(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		targets = append(targets, dest)
		priorities = append(priorities, priority)
	}

	svc, err := core.NewService(cfg, logger)
	if err != nil {
		logger.Error("failed to create service", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start service", "error", err)
		return 1
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil && ctx.Err() == nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	failures := 0
	fmt.Printf("%-5s %-40s %-8s %-12s %s\n", "ROUND", "GROUP", "REUSED", "LATENCY", "RESULT")
	for round := 1; round <= *count; round++ {
		for i, dest := range targets {
			leaseCtx, cancel := context.WithTimeout(ctx, *timeout)
			lease, err := svc.Lease(leaseCtx, dest, priorities[i])
			cancel()

			if err != nil {
				failures++
				fmt.Printf("%-5d %-40s %-8s %-12s %v\n", round, truncate(dest.GroupName(), 40), "-", "-", err)
				if ctx.Err() != nil {
					return 1
				}
				continue
			}
			fmt.Printf("%-5d %-40s %-8t %-12s ok\n", round, truncate(lease.Group(), 40), lease.Reused(), lease.Latency().Round(time.Microsecond))
			lease.Release()
		}
	}

	stats, err := svc.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	printStats(stats)
	fmt.Printf("\n%-40s %-6s %-6s %-10s %-7s\n", "GROUP", "IDLE", "ACTIVE", "CONNECTING", "PENDING")
	for _, g := range stats.PerGroup {
		fmt.Printf("%-40s %-6d %-6d %-10d %-7d\n", truncate(g.Name, 40), g.Idle, g.Active, g.Connecting, g.Pending)
	}

	if failures > 0 {
		return 1
	}
	return 0
}

func printStats(stats pool.Stats) {
	fmt.Println()
	fmt.Printf("Requests:     %d\n", stats.RequestCount)
	fmt.Printf("Reused:       %d\n", stats.ReuseCount)
	fmt.Printf("Connects:     %d\n", stats.ConnectJobsStarted)
	fmt.Printf("Failed:       %d\n", stats.ConnectJobsFailed)
	fmt.Printf("Evicted:      %d\n", stats.EvictedCount)
}

func handleGroups(cfg *core.Config) int {
	if len(cfg.Groups) == 0 {
		fmt.Println("No groups configured")
		return 0
	}

	fmt.Printf("%-16s %-8s %-40s %s\n", "NAME", "TRANSPORT", "ADDRESS", "PRIORITY")
	for _, g := range cfg.Groups {
		kind := g.Transport
		if kind == "" {
			kind = string(transport.KindTCP)
		}
		fmt.Printf("%-16s %-8s %-40s %d\n", truncate(g.Name, 16), kind, truncate(g.Address, 40), g.Priority)
	}
	return 0
}

func handleConfigInit(path string) int {
	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(os.Stderr, "Error: %s already exists\n", path)
		return 1
	} else if !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := core.SaveConfig(core.DefaultConfig(), path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote default configuration to %s\n", path)
	return 0
}

// handleRPC calls one control method on a running service.
func handleRPC(cfg *core.Config, args []string) int {
	if len(args) == 0 {
		printRPCUsage()
		return 1
	}
	method, methodArgs := args[0], args[1:]

	client, err := rpc.NewClient(cfg.RPC.ClientConfig())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error connecting to control server: %v\n", err)
		fmt.Fprintf(os.Stderr, "Is sockpool serve running with the control server enabled?\n")
		return 1
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch method {
	case "status":
		return rpcStatus(ctx, client)
	case "pool.stats":
		return rpcStats(ctx, client)
	case "pool.close_idle":
		result, err := client.CloseIdle(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("Closed %d idle sockets\n", result.Closed)
		return 0
	case "groups.list":
		return rpcGroups(ctx, client)
	case "groups.probe":
		return rpcProbe(ctx, client, methodArgs)
	case "breakers.list":
		return rpcBreakers(ctx, client)
	case "breakers.reset":
		if len(methodArgs) != 1 {
			fmt.Fprintln(os.Stderr, "Usage: sockpool rpc breakers.reset GROUP")
			return 1
		}
		result, err := client.BreakerReset(ctx, methodArgs[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Printf("%s: %s\n", result.Name, result.State)
		return 0
	case "config.get":
		return rpcConfigGet(ctx, client, methodArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown method: %s\n\n", method)
		printRPCUsage()
		return 1
	}
}

func printRPCUsage() {
	fmt.Fprintln(os.Stderr, "Usage: sockpool rpc <method> [args...]")
	fmt.Fprintln(os.Stderr, "\nAvailable methods:")
	fmt.Fprintln(os.Stderr, "  status                 Show service status")
	fmt.Fprintln(os.Stderr, "  pool.stats             Show pool statistics")
	fmt.Fprintln(os.Stderr, "  pool.close_idle        Close every idle socket")
	fmt.Fprintln(os.Stderr, "  groups.list            List configured groups")
	fmt.Fprintln(os.Stderr, "  groups.probe TARGET    Lease and release one socket")
	fmt.Fprintln(os.Stderr, "  breakers.list          Show circuit breakers and upstreams")
	fmt.Fprintln(os.Stderr, "  breakers.reset GROUP   Close a circuit breaker")
	fmt.Fprintln(os.Stderr, "  config.get [KEY]       Show configuration")
}

func rpcStatus(ctx context.Context, client *rpc.Client) int {
	result, err := client.Status(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("State:        %s\n", result.State)
	fmt.Printf("Version:      %s\n", result.Version)
	fmt.Printf("Protocol:     %s\n", result.Protocol)
	fmt.Printf("Uptime:       %s\n", result.Uptime)
	fmt.Printf("Groups:       %d configured, %d live\n", result.Groups, result.LiveGroups)
	fmt.Printf("Sockets:      %d idle, %d active, %d pending\n", result.Idle, result.Active, result.Pending)
	if result.SOCKSProxy != "" {
		fmt.Printf("SOCKS5:       %s\n", result.SOCKSProxy)
	}
	fmt.Printf("I2P:          %t\n", result.I2P)
	if result.MetricsAddr != "" {
		fmt.Printf("Metrics:      %s\n", result.MetricsAddr)
	}
	return 0
}

func rpcStats(ctx context.Context, client *rpc.Client) int {
	result, err := client.Stats(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("Per group:    %d\n", result.MaxSocketsPerGroup)
	fmt.Printf("Idle:         %d\n", result.Idle)
	fmt.Printf("Active:       %d\n", result.Active)
	fmt.Printf("Connecting:   %d\n", result.Connecting)
	fmt.Printf("Pending:      %d\n", result.Pending)
	fmt.Printf("Requests:     %d\n", result.Requests)
	fmt.Printf("Reused:       %d\n", result.Reused)
	fmt.Printf("Connects:     %d\n", result.ConnectsStarted)
	fmt.Printf("Failed:       %d\n", result.ConnectsFailed)
	fmt.Printf("Evicted:      %d\n", result.Evicted)
	if len(result.Groups) == 0 {
		return 0
	}
	fmt.Printf("\n%-40s %-6s %-6s %-10s %-7s\n", "GROUP", "IDLE", "ACTIVE", "CONNECTING", "PENDING")
	for _, g := range result.Groups {
		fmt.Printf("%-40s %-6d %-6d %-10d %-7d\n", truncate(g.Name, 40), g.Idle, g.Active, g.Connecting, g.Pending)
	}
	return 0
}

func rpcGroups(ctx context.Context, client *rpc.Client) int {
	result, err := client.GroupsList(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if len(result.Groups) == 0 {
		fmt.Println("No groups configured")
		return 0
	}

	fmt.Printf("%-16s %-8s %-40s %-8s %s\n", "NAME", "TRANSPORT", "ADDRESS", "PRIORITY", "BREAKER")
	for _, g := range result.Groups {
		fmt.Printf("%-16s %-8s %-40s %-8d %s\n", truncate(g.Name, 16), g.Transport, truncate(g.Address, 40), g.Priority, g.Breaker)
	}
	return 0
}

func rpcProbe(ctx context.Context, client *rpc.Client, args []string) int {
	fs := flag.NewFlagSet("groups.probe", flag.ContinueOnError)
	timeout := fs.Duration("timeout", rpc.DefaultProbeTimeout, "Timeout for the lease")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: sockpool rpc groups.probe [-timeout D] TARGET")
		return 1
	}

	result, err := client.Probe(ctx, rpc.ProbeParams{Target: fs.Arg(0), Timeout: timeout.String()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if result.Error != "" {
		fmt.Printf("%s: failed after %s: %s\n", result.Group, result.Latency, result.Error)
		return 1
	}
	fmt.Printf("%s: ok in %s (reused=%t)\n", result.Group, result.Latency, result.Reused)
	return 0
}

func rpcBreakers(ctx context.Context, client *rpc.Client) int {
	result, err := client.BreakersList(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if len(result.Breakers) == 0 {
		fmt.Println("No circuit breakers")
	} else {
		fmt.Printf("%-40s %-10s %-8s %s\n", "GROUP", "STATE", "FAILURES", "SUCCESSES")
		for _, b := range result.Breakers {
			fmt.Printf("%-40s %-10s %-8d %d\n", truncate(b.Name, 40), b.State, b.Failures, b.Successes)
		}
	}
	for _, u := range result.Upstreams {
		health := "down"
		if u.Healthy {
			health = "up"
		}
		fmt.Printf("\nUpstream %s (%s): %s\n", u.Name, u.Addr, health)
	}
	return 0
}

func rpcConfigGet(ctx context.Context, client *rpc.Client, args []string) int {
	key := ""
	if len(args) > 0 {
		key = args[0]
	}

	result, err := client.ConfigGet(ctx, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if key == "" {
		data, err := json.MarshalIndent(result.Value, "", "  ")
		if err != nil {
			fmt.Printf("%v\n", result.Value)
		} else {
			fmt.Println(string(data))
		}
	} else {
		fmt.Printf("%s = %v\n", key, result.Value)
	}
	return 0
}

// handleTUI launches the interactive dashboard.
func handleTUI(cfg *core.Config) int {
	app, err := tui.New(tui.Config{
		Control:         cfg.RPC.ClientConfig(),
		RefreshInterval: tui.DefaultRefreshInterval,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer app.Close()

	p := tea.NewProgram(app, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error running TUI: %v\n", err)
		return 1
	}
	return 0
}

// handleWeb serves the control API over HTTP until interrupted.
func handleWeb(cfg *core.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("web", flag.ContinueOnError)
	listen := fs.String("listen", web.DefaultListenAddr, "HTTP listen address")
	trustProxy := fs.Bool("trust-proxy", false, "Take client IPs from X-Forwarded-For")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	rl := web.DefaultRateLimitConfig()
	rl.TrustProxyHeaders = *trustProxy
	srv, err := web.New(web.Config{
		ListenAddr: *listen,
		Control:    cfg.RPC.ClientConfig(),
		RateLimit:  rl,
		Logger:     logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		logger.Error("web shutdown error", "error", err)
		return 1
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
