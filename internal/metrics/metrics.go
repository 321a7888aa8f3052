// Package metrics holds the process-wide Prometheus instruments shared
// across the SSH acceptor, TunnelManager, proxy, and Admin REST API.
// Every instrument is registered once via promauto at package init and
// referenced by the components that emit it; nothing here holds
// business state.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TunnelCreated counts successful tunnel creations, labeled by protocol.
	TunnelCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelgate_tunnel_created_total",
			Help: "Total number of tunnels created, by protocol",
		},
		[]string{"protocol"},
	)

	// TunnelDestroyed counts tunnel removals, labeled by reason.
	TunnelDestroyed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelgate_tunnel_destroyed_total",
			Help: "Total number of tunnels destroyed, by reason",
		},
		[]string{"reason"},
	)

	// TunnelsActive is the current registry size.
	TunnelsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tunnelgate_tunnels_active",
			Help: "Number of tunnels currently registered",
		},
	)

	// AuthFailure counts failed authentication attempts, labeled by
	// surface ("ssh", "api") and reason.
	AuthFailure = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelgate_auth_failure_total",
			Help: "Total authentication failures, by type and reason",
		},
		[]string{"type", "reason"},
	)

	// RevocationCheckFailed counts JWT revocation-store lookups that
	// errored and were allowed through per the fail-open policy.
	RevocationCheckFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunnelgate_revocation_check_failed_total",
			Help: "Total revocation-store lookups that failed and were allowed open",
		},
	)

	// SSHInvalidPort counts tcpip-forward requests rejected for an
	// out-of-range or reserved port.
	SSHInvalidPort = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunnelgate_ssh_invalid_port_total",
			Help: "Total tcpip-forward requests rejected for an invalid port",
		},
	)

	// HTTPRequestsTotal counts proxied HTTP requests, labeled by status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelgate_http_requests_total",
			Help: "Total proxied HTTP requests, by status class",
		},
		[]string{"status"},
	)

	// HTTPRequestDuration observes proxied HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tunnelgate_http_request_duration_seconds",
			Help:    "Proxied HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// WebSocketBytes observes bytes transferred per bridge session,
	// labeled by direction ("up", "down").
	WebSocketBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tunnelgate_websocket_bytes",
			Help:    "Bytes transferred per websocket bridge session, by direction",
			Buckets: prometheus.ExponentialBuckets(1024, 8, 8),
		},
		[]string{"direction"},
	)

	// APIRequestsTotal counts Admin REST API requests, labeled by route
	// and status.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tunnelgate_api_requests_total",
			Help: "Total Admin REST API requests, by route and status",
		},
		[]string{"route", "status"},
	)

	// DialBreakerOpened counts dial breaker trips to the open state
	// across all tunnels.
	DialBreakerOpened = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tunnelgate_dial_breaker_opened_total",
			Help: "Total number of times a tunnel's dial breaker tripped open",
		},
	)
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
