// Package config assembles the server's runtime configuration from
// environment variables. We don't use a config file on purpose: env
// vars play nicely with containers and twelve-factor deployments.
// Every optional value has a sensible default so the server can start
// with nothing but Supabase credentials and a JWT secret set.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

const (
	defaultDomain            = "localhost"
	defaultAPIAddr           = "0.0.0.0:3000"
	defaultProxyAddr         = "0.0.0.0:8080"
	defaultSSHAddr           = "0.0.0.0:2222"
	defaultHostKeyPath       = "ssh_host_key"
	defaultMaxTunnelsPerIP   = 5
	defaultGlobalTunnelLimit = 1000
	defaultHTTPReadTimeout   = 30 * time.Second
	defaultHTTPWriteTimeout  = 30 * time.Second
	defaultFreeTierLimit     = 3
	defaultProTierLimit      = 10
	defaultEnterpriseLimit   = 100
	defaultMinSSHPort        = 1024
	defaultCORSOrigin        = "*"
	defaultRequestLogDBPath  = "request_log.db"
	defaultRequestLogFlushIv = 2 * time.Second
)

// Config is the server's immutable runtime configuration, built once at
// startup by FromEnv. Nothing in the gateway mutates it after boot.
type Config struct {
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string
	JWTSecret          string

	Domain      string
	APIAddr     string
	ProxyAddr   string
	SSHAddr     string
	HostKeyPath string

	MaxTunnelsPerIP   int
	GlobalTunnelLimit int

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration

	FreeTierLimit       int
	ProTierLimit        int
	EnterpriseTierLimit int

	MinSSHPort int
	CORSOrigin string

	RequestLogDBPath        string
	RequestLogFlushInterval time.Duration
}

// FromEnv reads configuration from the environment. It returns an error
// naming every missing required variable at once; once those are all
// present, it reports the first invalid value it finds.
func FromEnv() (*Config, error) {
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		SupabaseURL:        required("SUPABASE_URL"),
		SupabaseAnonKey:    required("SUPABASE_ANON_KEY"),
		SupabaseServiceKey: required("SUPABASE_SERVICE_ROLE_KEY"),
		JWTSecret:          required("JWT_SECRET"),

		Domain:      envOr("DOMAIN", defaultDomain),
		APIAddr:     envOr("API_ADDR", defaultAPIAddr),
		ProxyAddr:   envOr("PROXY_ADDR", defaultProxyAddr),
		SSHAddr:     envOr("SSH_ADDR", defaultSSHAddr),
		HostKeyPath: envOr("HOST_KEY_PATH", defaultHostKeyPath),

		MaxTunnelsPerIP:   envOrInt("MAX_TUNNELS_PER_IP", defaultMaxTunnelsPerIP),
		GlobalTunnelLimit: envOrInt("GLOBAL_TUNNEL_LIMIT", defaultGlobalTunnelLimit),

		HTTPReadTimeout:  envOrSeconds("HTTP_READ_TIMEOUT_SECS", defaultHTTPReadTimeout),
		HTTPWriteTimeout: envOrSeconds("HTTP_WRITE_TIMEOUT_SECS", defaultHTTPWriteTimeout),

		FreeTierLimit:       envOrInt("FREE_TIER_LIMIT", defaultFreeTierLimit),
		ProTierLimit:        envOrInt("PRO_TIER_LIMIT", defaultProTierLimit),
		EnterpriseTierLimit: envOrInt("ENTERPRISE_TIER_LIMIT", defaultEnterpriseLimit),

		MinSSHPort: envOrInt("MIN_SSH_PORT", defaultMinSSHPort),
		CORSOrigin: envOr("CORS_ORIGIN", defaultCORSOrigin),

		RequestLogDBPath:        envOr("REQUEST_LOG_DB_PATH", defaultRequestLogDBPath),
		RequestLogFlushInterval: envOrSeconds("REQUEST_LOG_FLUSH_INTERVAL", defaultRequestLogFlushIv),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %v", missing)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: DOMAIN must not be empty")
	}
	if !looksLikeHostPort(c.APIAddr) {
		return fmt.Errorf("config: API_ADDR %q is not a valid host:port", c.APIAddr)
	}
	if !looksLikeHostPort(c.ProxyAddr) {
		return fmt.Errorf("config: PROXY_ADDR %q is not a valid host:port", c.ProxyAddr)
	}
	if !looksLikeHostPort(c.SSHAddr) {
		return fmt.Errorf("config: SSH_ADDR %q is not a valid host:port", c.SSHAddr)
	}
	if c.MaxTunnelsPerIP <= 0 {
		return fmt.Errorf("config: MAX_TUNNELS_PER_IP must be positive, got %d", c.MaxTunnelsPerIP)
	}
	if c.GlobalTunnelLimit <= 0 {
		return fmt.Errorf("config: GLOBAL_TUNNEL_LIMIT must be positive, got %d", c.GlobalTunnelLimit)
	}
	if c.ProTierLimit <= c.FreeTierLimit {
		return fmt.Errorf("config: PRO_TIER_LIMIT (%d) must exceed FREE_TIER_LIMIT (%d)", c.ProTierLimit, c.FreeTierLimit)
	}
	if c.EnterpriseTierLimit <= c.ProTierLimit {
		return fmt.Errorf("config: ENTERPRISE_TIER_LIMIT (%d) must exceed PRO_TIER_LIMIT (%d)", c.EnterpriseTierLimit, c.ProTierLimit)
	}
	if c.MinSSHPort < 1024 {
		return fmt.Errorf("config: MIN_SSH_PORT must be >= 1024, got %d", c.MinSSHPort)
	}
	return nil
}

// TierLimit returns the maximum concurrent tunnel count for the given
// tier name ("free", "pro", "enterprise"); unknown tiers fall back to
// the free limit.
func (c *Config) TierLimit(tier string) int {
	switch tier {
	case "pro":
		return c.ProTierLimit
	case "enterprise":
		return c.EnterpriseTierLimit
	default:
		return c.FreeTierLimit
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func looksLikeHostPort(addr string) bool {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 0 && n <= 65535
}
