package core

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SOCKPOOL_"

// applyEnvOverrides overrides configuration values from SOCKPOOL_*
// environment variables. Durations are given in whole seconds. Values that
// fail to parse are ignored.
func applyEnvOverrides(cfg *Config) {
	envInt("MAX_SOCKETS_PER_GROUP", &cfg.Pool.MaxSocketsPerGroup)
	envSeconds("IDLE_TIMEOUT", &cfg.Pool.IdleTimeout)
	envSeconds("CLEANUP_INTERVAL", &cfg.Pool.CleanupInterval)
	envSeconds("SHUTDOWN_TIMEOUT", &cfg.Pool.ShutdownTimeout)

	envSeconds("DIAL_TIMEOUT", &cfg.Transport.DialTimeout)
	envString("TLS_SERVER_NAME", &cfg.Transport.TLSServerName)
	envBool("INSECURE_SKIP_VERIFY", &cfg.Transport.InsecureSkipVerify)
	envString("SOCKS_PROXY", &cfg.Transport.SOCKSProxy)
	envString("SOCKS_USER", &cfg.Transport.SOCKSUser)
	envString("SOCKS_PASSWORD", &cfg.Transport.SOCKSPassword)
	envBool("PROBE_UPSTREAMS", &cfg.Transport.ProbeUpstreams)

	envBool("I2P_ENABLED", &cfg.I2P.Enabled)
	envString("SAM_ADDRESS", &cfg.I2P.SAMAddress)
	envString("TUNNEL_NAME", &cfg.I2P.TunnelName)
	if v, ok := lookupEnv("I2P_OPTIONS"); ok {
		cfg.I2P.Options = strings.Fields(v)
	}

	envInt("FAILURE_THRESHOLD", &cfg.Resilience.FailureThreshold)
	envInt("SUCCESS_THRESHOLD", &cfg.Resilience.SuccessThreshold)
	envSeconds("OPEN_TIMEOUT", &cfg.Resilience.OpenTimeout)

	if v, ok := lookupEnv("CONNECTS_PER_SECOND"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.ConnectsPerSecond = f
		}
	}
	envInt("CONNECT_BURST", &cfg.RateLimit.Burst)

	envBool("METRICS_ENABLED", &cfg.Metrics.Enabled)
	envString("METRICS_LISTEN", &cfg.Metrics.Listen)

	envBool("RPC_ENABLED", &cfg.RPC.Enabled)
	envString("RPC_SOCKET", &cfg.RPC.Socket)
	envString("RPC_TCP_ADDRESS", &cfg.RPC.TCPAddress)
	envString("RPC_AUTH_FILE", &cfg.RPC.AuthFile)
}

func lookupEnv(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envString(name string, dst *string) {
	if v, ok := lookupEnv(name); ok {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := lookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := lookupEnv(name); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envSeconds(name string, dst *time.Duration) {
	if v, ok := lookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}
