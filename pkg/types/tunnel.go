// Package types holds the wire and projection shapes shared between the
// tunnel data plane and the Admin REST API.
package types

import "time"

// Tier is a subscription tier, used to look up the per-user tunnel limit.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Protocol identifies the application protocol a tunnel was created for.
type Protocol string

const (
	ProtocolHTTP Protocol = "http"
	ProtocolTCP  Protocol = "tcp"
)

// User is the projection of a row in the `users` table.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	AuthProvider string    `json:"auth_provider"`
	Tier         Tier      `json:"tier"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TunnelRecord is the projection of a row in the `tunnels` table — the
// persisted shadow of an in-memory Tunnel, not the source of truth for
// liveness (see DATA MODEL).
type TunnelRecord struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Subdomain     string     `json:"subdomain"`
	CustomDomain  string     `json:"custom_domain,omitempty"`
	TargetPort    int        `json:"target_port"`
	Protocol      Protocol   `json:"protocol"`
	IsActive      bool       `json:"is_active"`
	IsPersistent  bool       `json:"is_persistent"`
	CreatedAt     time.Time  `json:"created_at"`
	LastActive    *time.Time `json:"last_active,omitempty"`
}

// APIKey is the projection of a row in the `api_keys` table. The raw key
// is never persisted or returned after creation — only KeyHash and the
// short KeyPrefix are stored.
type APIKey struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Name      string     `json:"name"`
	KeyHash   string     `json:"-"`
	KeyPrefix string     `json:"key_prefix"`
	Scopes    []string   `json:"scopes,omitempty"`
	LastUsed  *time.Time `json:"last_used,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// TunnelRequest is one row of `tunnel_requests`: a single proxied request
// or WebSocket session summary recorded for analytics.
type TunnelRequest struct {
	ID              string    `json:"id"`
	TunnelID        string    `json:"tunnel_id"`
	Method          string    `json:"method"`
	Path            string    `json:"path"`
	StatusCode      int       `json:"status_code"`
	LatencyMs       int64     `json:"latency_ms"`
	RequestSize     int64     `json:"request_size"`
	ResponseSize    int64     `json:"response_size"`
	RequestHeaders  string    `json:"request_headers,omitempty"`
	ResponseHeaders string    `json:"response_headers,omitempty"`
	ClientIP        string    `json:"client_ip"`
	Timestamp       time.Time `json:"timestamp"`
}

// AnalyticsDaily is one row of `analytics_daily`: a per-tunnel, per-day
// rollup of TunnelRequest rows.
type AnalyticsDaily struct {
	ID             string    `json:"id"`
	TunnelID       string    `json:"tunnel_id"`
	Date           time.Time `json:"date"`
	TotalRequests  int64     `json:"total_requests"`
	TotalBytesIn   int64     `json:"total_bytes_in"`
	TotalBytesOut  int64     `json:"total_bytes_out"`
	AvgLatencyMs   float64   `json:"avg_latency_ms"`
	ErrorCount     int64     `json:"error_count"`
	UniqueIPs      int64     `json:"unique_ips"`
}

// RevokedToken is one row of `revoked_tokens`.
type RevokedToken struct {
	JTI       string    `json:"jti"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TunnelInfo is what the Admin REST API returns for a live or persisted
// tunnel: the persisted projection plus the live bind address when the
// tunnel is currently registered in-memory.
type TunnelInfo struct {
	TunnelRecord
	BindAddr string `json:"bind_addr,omitempty"`
	URL      string `json:"url,omitempty"`
}
