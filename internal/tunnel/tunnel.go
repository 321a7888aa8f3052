package tunnel

import (
	"net"
	"sync"
	"time"

	"github.com/tunnelgate/tunnelgate/internal/ratelimit"
	"github.com/tunnelgate/tunnelgate/pkg/types"
)

// Tunnel is a single live forwarding: a subdomain bound to a loopback
// listener, owned by one SSH session. It is reference-counted by
// ordinary Go pointer sharing: holders that obtained a *Tunnel before
// the manager removed its registry entry keep it alive and keep
// forwarding traffic until they drop it.
type Tunnel struct {
	Subdomain    string
	ClientIP     string
	UserID       string
	TargetPort   int
	Protocol     types.Protocol
	IsPersistent bool
	CreatedAt    time.Time

	listener net.Listener
	bindAddr string
	limiter  *ratelimit.Bucket
	breaker  *DialBreaker

	mu     sync.RWMutex
	closed bool
	stop   sync.Once
}

// BindAddr returns the loopback address:port the proxy dials to reach
// the application behind this tunnel. Distinct from TargetPort, which
// is only the value the client nominated for analytics.
func (t *Tunnel) BindAddr() string {
	return t.bindAddr
}

// Allow consumes one token from the tunnel's private rate limiter.
func (t *Tunnel) Allow() bool {
	return t.limiter.Allow()
}

// Accept blocks until a connection arrives on this tunnel's loopback
// listener, or the listener is closed. The SSH acceptor uses this to
// bridge inbound proxy connections back to the client over SSH.
func (t *Tunnel) Accept() (net.Conn, error) {
	return t.listener.Accept()
}

// Breaker returns the dial breaker guarding dials to this tunnel's
// loopback listener.
func (t *Tunnel) Breaker() *DialBreaker {
	return t.breaker
}

// Close releases the loopback listener. Safe to call more than once.
func (t *Tunnel) Close() error {
	var err error
	t.stop.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		err = t.listener.Close()
	})
	return err
}

// Info projects the Tunnel into the API-facing shape.
func (t *Tunnel) Info(domain string) types.TunnelInfo {
	return types.TunnelInfo{
		TunnelRecord: types.TunnelRecord{
			Subdomain:    t.Subdomain,
			TargetPort:   t.TargetPort,
			Protocol:     t.Protocol,
			IsActive:     true,
			IsPersistent: t.IsPersistent,
			CreatedAt:    t.CreatedAt,
		},
		BindAddr: t.bindAddr,
		URL:      "https://" + t.Subdomain + "." + domain,
	}
}
