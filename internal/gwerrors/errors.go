// Package gwerrors is the closed error taxonomy shared by the
// TunnelManager, the SSH session handler, and the HTTP/WebSocket proxy.
// Every failed precondition in those components returns one of these
// kinds unchanged; nothing in the taxonomy is recovered internally.
package gwerrors

import (
	"fmt"
	"net/http"
)

// Kind is a closed set of failure categories. Callers switch on Kind,
// never on the formatted message.
type Kind int

const (
	KindUnknown Kind = iota
	KindTunnelNotFound
	KindSubdomainTaken
	KindInvalidSubdomain
	KindRateLimited
	KindMaxTunnelsPerIP
	KindServerAtCapacity
	KindTierLimit
	KindIPBlocked
	KindTunnelExpired
	KindBodyTooLarge
	KindWebSocketTransferLimit
	KindAuthFailed
	KindForbidden
	KindSSHHandshakeTimeout
	KindSupabase
	KindConfig
	KindIO
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindTunnelNotFound:
		return "tunnel_not_found"
	case KindSubdomainTaken:
		return "subdomain_taken"
	case KindInvalidSubdomain:
		return "invalid_subdomain"
	case KindRateLimited:
		return "rate_limited"
	case KindMaxTunnelsPerIP:
		return "max_tunnels_per_ip"
	case KindServerAtCapacity:
		return "server_at_capacity"
	case KindTierLimit:
		return "tier_limit"
	case KindIPBlocked:
		return "ip_blocked"
	case KindTunnelExpired:
		return "tunnel_expired"
	case KindBodyTooLarge:
		return "body_too_large"
	case KindWebSocketTransferLimit:
		return "websocket_transfer_limit"
	case KindAuthFailed:
		return "auth_failed"
	case KindForbidden:
		return "forbidden"
	case KindSSHHandshakeTimeout:
		return "ssh_handshake_timeout"
	case KindSupabase:
		return "supabase"
	case KindConfig:
		return "config"
	case KindIO:
		return "io"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a human-readable message and an optional
// underlying cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// As reports whether err is a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	ge, ok := err.(*Error)
	return ge, ok
}

// KindOf returns the Kind of err if it is a *Error, else KindUnknown.
func KindOf(err error) Kind {
	if ge, ok := As(err); ok {
		return ge.Kind
	}
	return KindUnknown
}

// HTTPStatus maps a Kind to the status code the proxy and the Admin API's
// tunnel-CRUD handlers surface it as, per the closed taxonomy.
func HTTPStatus(k Kind) int {
	switch k {
	case KindTunnelNotFound:
		return http.StatusNotFound
	case KindSubdomainTaken:
		return http.StatusConflict
	case KindInvalidSubdomain:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindMaxTunnelsPerIP:
		return http.StatusTooManyRequests
	case KindServerAtCapacity:
		return http.StatusServiceUnavailable
	case KindTierLimit:
		return http.StatusForbidden
	case KindAuthFailed:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindBodyTooLarge, KindIPBlocked, KindTunnelExpired, KindWebSocketTransferLimit:
		return http.StatusBadRequest
	case KindSSHHandshakeTimeout:
		return http.StatusGatewayTimeout
	case KindSupabase, KindConfig, KindIO, KindHTTP:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Constructors, one per kind.

func TunnelNotFound(subdomain string) *Error {
	return New(KindTunnelNotFound, fmt.Sprintf("no tunnel registered for %q", subdomain))
}

func SubdomainTaken(subdomain string) *Error {
	return New(KindSubdomainTaken, fmt.Sprintf("subdomain %q is already in use", subdomain))
}

func InvalidSubdomain(subdomain string) *Error {
	return New(KindInvalidSubdomain, fmt.Sprintf("subdomain %q is not a valid custom subdomain", subdomain))
}

func RateLimited() *Error {
	return New(KindRateLimited, "too many requests")
}

func MaxTunnelsPerIP(ip string) *Error {
	return New(KindMaxTunnelsPerIP, fmt.Sprintf("client %s has reached its tunnel limit", ip))
}

func ServerAtCapacity() *Error {
	return New(KindServerAtCapacity, "server has reached its global tunnel capacity")
}

func TierLimit(tier string) *Error {
	return New(KindTierLimit, fmt.Sprintf("tier %q tunnel limit reached", tier))
}

func IPBlocked(ip string) *Error {
	return New(KindIPBlocked, fmt.Sprintf("client %s is blocked", ip))
}

func TunnelExpired(subdomain string) *Error {
	return New(KindTunnelExpired, fmt.Sprintf("tunnel %q has expired", subdomain))
}

func BodyTooLarge() *Error {
	return New(KindBodyTooLarge, "response body exceeds the allowed size")
}

func WebSocketTransferLimit() *Error {
	return New(KindWebSocketTransferLimit, "websocket session exceeded its transfer limit")
}

func AuthFailed(reason string) *Error {
	return New(KindAuthFailed, reason)
}

func Forbidden(reason string) *Error {
	return New(KindForbidden, reason)
}

func SSHHandshakeTimeout() *Error {
	return New(KindSSHHandshakeTimeout, "ssh handshake timed out")
}

func Supabase(msg string, cause error) *Error {
	return Wrap(KindSupabase, msg, cause)
}

func Config(msg string) *Error {
	return New(KindConfig, msg)
}

func IO(msg string, cause error) *Error {
	return Wrap(KindIO, msg, cause)
}

func HTTP(msg string, cause error) *Error {
	return Wrap(KindHTTP, msg, cause)
}
