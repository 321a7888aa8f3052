package proxy

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
	"github.com/tunnelgate/tunnelgate/internal/metrics"
	"github.com/tunnelgate/tunnelgate/internal/reqlog"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
)

// Handler is the public-facing reverse proxy: it resolves the inbound
// Host header to a live tunnel and forwards the request to that
// tunnel's loopback listener. It is a distinct net/http listener from
// the Admin REST API, sharing only the TunnelManager.
type Handler struct {
	manager *tunnel.Manager
	domain  string
	reqlog  *reqlog.Buffer // optional; nil disables durable request logging
	log     zerolog.Logger
}

// NewHandler builds a Handler bound to domain, the public root suffix
// every tunnel's subdomain is resolved against.
func NewHandler(manager *tunnel.Manager, domain string, buffer *reqlog.Buffer, log zerolog.Logger) *Handler {
	return &Handler{
		manager: manager,
		domain:  domain,
		reqlog:  buffer,
		log:     log.With().Str("component", "proxy").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	subdomain, ok := h.subdomainFromHost(r.Host)
	if !ok {
		ErrorResponse(w, http.StatusNotFound, "unknown host")
		return
	}

	tun, ok := h.manager.Get(subdomain)
	if !ok {
		writeGatewayError(w, gwerrors.TunnelNotFound(subdomain))
		return
	}

	if !tun.Allow() {
		writeGatewayError(w, gwerrors.RateLimited())
		return
	}

	if err := tun.Breaker().Allow(); err != nil {
		ErrorResponse(w, http.StatusBadGateway, "tunnel backend is temporarily unavailable")
		return
	}

	if isWebSocketUpgrade(r) {
		h.serveWebSocket(w, r, tun, start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), connectTimeout+responseTimeout)
	defer cancel()

	respBytes, err := ForwardRequest(ctx, tun.BindAddr(), r)
	if err != nil {
		tun.Breaker().RecordFailure()
		h.log.Warn().Err(err).Str("subdomain", subdomain).Msg("proxy forward failed")
		ErrorResponse(w, http.StatusBadGateway, "failed to reach tunnel backend")
		h.logRequest(tun.Subdomain, r, http.StatusBadGateway, start, 0)
		return
	}
	tun.Breaker().RecordSuccess()

	w.WriteHeader(http.StatusOK)
	n, _ := w.Write(respBytes)

	metrics.HTTPRequestsTotal.WithLabelValues("200").Inc()
	metrics.HTTPRequestDuration.Observe(time.Since(start).Seconds())
	h.logRequest(tun.Subdomain, r, http.StatusOK, start, n)
}

func (h *Handler) serveWebSocket(w http.ResponseWriter, r *http.Request, tun *tunnel.Tunnel, start time.Time) {
	stats, err := BridgeUpgrade(r.Context(), tun.BindAddr(), w, r, h.log)
	if err != nil {
		tun.Breaker().RecordFailure()
		h.log.Warn().Err(err).Str("subdomain", tun.Subdomain).Msg("websocket bridge failed")
		h.logRequest(tun.Subdomain, r, http.StatusBadGateway, start, 0)
		return
	}
	tun.Breaker().RecordSuccess()
	h.logRequest(tun.Subdomain, r, http.StatusSwitchingProtocols, start, int(stats.BytesDown))
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

func (h *Handler) logRequest(tunnelID string, r *http.Request, status int, start time.Time, responseSize int) {
	if h.reqlog == nil {
		return
	}
	clientIP, _, _ := net.SplitHostPort(r.RemoteAddr)
	entry := reqlog.Entry{
		TunnelID:     tunnelID,
		Method:       r.Method,
		Path:         r.URL.Path,
		StatusCode:   status,
		LatencyMs:    int(time.Since(start).Milliseconds()),
		RequestSize:  r.ContentLength,
		ResponseSize: int64(responseSize),
		ClientIP:     clientIP,
		Timestamp:    start,
	}
	if err := h.reqlog.Enqueue(entry); err != nil {
		h.log.Warn().Err(err).Msg("failed to enqueue request log entry")
	}
}

// subdomainFromHost strips the port (if any) and the configured root
// domain suffix from host, returning the leading label.
func (h *Handler) subdomainFromHost(host string) (string, bool) {
	if hostOnly, _, err := net.SplitHostPort(host); err == nil {
		host = hostOnly
	}
	host = strings.ToLower(host)
	suffix := "." + strings.ToLower(h.domain)
	if !strings.HasSuffix(host, suffix) {
		return "", false
	}
	sub := strings.TrimSuffix(host, suffix)
	if sub == "" {
		return "", false
	}
	return sub, true
}

func writeGatewayError(w http.ResponseWriter, err *gwerrors.Error) {
	ErrorResponse(w, gwerrors.HTTPStatus(err.Kind), err.Msg)
}
