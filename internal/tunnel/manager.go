package tunnel

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
	"github.com/tunnelgate/tunnelgate/internal/metrics"
	"github.com/tunnelgate/tunnelgate/internal/ratelimit"
	"github.com/tunnelgate/tunnelgate/internal/subdomain"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/pkg/types"
)

const maxGenerateAttempts = 10

// TierLimiter resolves a tier name to its tunnel-count ceiling. config.Config
// satisfies this; it is narrowed here so this package doesn't import config.
type TierLimiter interface {
	TierLimit(tier string) int
}

// Manager owns the live tunnel registry: a subdomain → *Tunnel map plus
// the per-client-IP and per-user counts used for admission control. All
// three are mutated only under mu, per the single-writer-lock discipline.
type Manager struct {
	mu sync.RWMutex

	registry map[string]*Tunnel
	ipCounts map[string]int
	userCounts map[string]int

	gateway           *supabase.Client
	tiers             TierLimiter
	maxTunnelsPerIP   int
	globalTunnelLimit int
	rateRefillPerSec  float64
	rateBurst         float64

	log zerolog.Logger
}

// NewManager constructs an empty Manager.
func NewManager(gateway *supabase.Client, tiers TierLimiter, maxTunnelsPerIP, globalTunnelLimit int, rateRefillPerSec, rateBurst float64, log zerolog.Logger) *Manager {
	return &Manager{
		registry:          make(map[string]*Tunnel),
		ipCounts:          make(map[string]int),
		userCounts:        make(map[string]int),
		gateway:           gateway,
		tiers:             tiers,
		maxTunnelsPerIP:   maxTunnelsPerIP,
		globalTunnelLimit: globalTunnelLimit,
		rateRefillPerSec:  rateRefillPerSec,
		rateBurst:         rateBurst,
		log:               log.With().Str("component", "tunnel_manager").Logger(),
	}
}

// CreateRequest carries every input create needs, mirroring the
// create(client_ip, user_id, tier, custom_subdomain?, target_port,
// protocol, is_persistent) signature.
type CreateRequest struct {
	ClientIP         string
	UserID           string
	Tier             string
	CustomSubdomain  string
	TargetPort       int
	Protocol         types.Protocol
	IsPersistent     bool
}

// Create allocates a new Tunnel following the exact ordering: tier
// limit, per-IP limit, global capacity, subdomain resolution, loopback
// bind, persisted-row insert, registry insert, metric.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Tunnel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.userCounts[req.UserID] >= m.tiers.TierLimit(req.Tier) {
		return nil, gwerrors.TierLimit(req.Tier)
	}
	if m.ipCounts[req.ClientIP] >= m.maxTunnelsPerIP {
		return nil, gwerrors.MaxTunnelsPerIP(req.ClientIP)
	}
	if len(m.registry) >= m.globalTunnelLimit {
		return nil, gwerrors.ServerAtCapacity()
	}

	sub, err := m.resolveSubdomain(req.CustomSubdomain)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, gwerrors.IO("binding loopback listener", err)
	}

	record := types.TunnelRecord{
		UserID:       req.UserID,
		Subdomain:    sub,
		TargetPort:   req.TargetPort,
		Protocol:     req.Protocol,
		IsActive:     true,
		IsPersistent: req.IsPersistent,
		CreatedAt:    time.Now(),
	}
	var inserted []types.TunnelRecord
	if err := m.gateway.Insert(ctx, "tunnels", record, &inserted); err != nil {
		listener.Close()
		return nil, gwerrors.Supabase("inserting tunnel row", err)
	}

	t := &Tunnel{
		Subdomain:    sub,
		ClientIP:     req.ClientIP,
		UserID:       req.UserID,
		TargetPort:   req.TargetPort,
		Protocol:     req.Protocol,
		IsPersistent: req.IsPersistent,
		CreatedAt:    record.CreatedAt,
		listener:     listener,
		bindAddr:     listener.Addr().String(),
		limiter:      ratelimit.New(m.rateRefillPerSec, m.rateBurst),
		breaker:      NewDialBreaker(sub, DefaultDialBreakerConfig(), m.log),
	}

	m.registry[sub] = t
	m.ipCounts[req.ClientIP]++
	m.userCounts[req.UserID]++

	metrics.TunnelCreated.WithLabelValues(string(req.Protocol)).Inc()
	metrics.TunnelsActive.Set(float64(len(m.registry)))

	return t, nil
}

func (m *Manager) resolveSubdomain(custom string) (string, error) {
	if custom != "" {
		custom = strings.ToLower(custom)
		if _, taken := m.registry[custom]; taken {
			return "", gwerrors.SubdomainTaken(custom)
		}
		return custom, nil
	}

	for i := 0; i < maxGenerateAttempts; i++ {
		candidate := subdomain.Generate()
		if _, taken := m.registry[candidate]; !taken {
			return candidate, nil
		}
	}
	return "", gwerrors.ServerAtCapacity()
}

// Get returns the live Tunnel for subdomain, or ok=false if absent.
// This is a lock-free-relative-to-mutation read of a shared pointer:
// the manager holds RLock only long enough to look the pointer up.
func (m *Manager) Get(subdomain string) (*Tunnel, bool) {
	subdomain = strings.ToLower(subdomain)
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.registry[subdomain]
	return t, ok
}

// Remove deletes subdomain's registry entry, saturating-decrements the
// per-IP/per-user counts, and marks the persisted row inactive.
// Idempotent: removing an absent subdomain succeeds.
func (m *Manager) Remove(ctx context.Context, subdomain string) error {
	subdomain = strings.ToLower(subdomain)
	m.mu.Lock()
	t, ok := m.registry[subdomain]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.registry, subdomain)

	if m.ipCounts[t.ClientIP] > 0 {
		m.ipCounts[t.ClientIP]--
		if m.ipCounts[t.ClientIP] == 0 {
			delete(m.ipCounts, t.ClientIP)
		}
	}
	if m.userCounts[t.UserID] > 0 {
		m.userCounts[t.UserID]--
		if m.userCounts[t.UserID] == 0 {
			delete(m.userCounts, t.UserID)
		}
	}
	remaining := len(m.registry)
	m.mu.Unlock()

	metrics.TunnelDestroyed.WithLabelValues("user_deleted").Inc()
	metrics.TunnelsActive.Set(float64(remaining))

	if err := m.gateway.Update(ctx, "tunnels", []supabase.Filter{supabase.Eq("subdomain", subdomain)},
		map[string]any{"is_active": false}, nil); err != nil {
		m.log.Warn().Err(err).Str("subdomain", subdomain).Msg("failed to mark tunnel inactive")
	}

	return t.Close()
}

// Len returns the registry size, for tests and the invariant checks.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.registry)
}

// Counts returns copies of the per-IP and per-user maps, for tests
// asserting Σ counts = |registry|.
func (m *Manager) Counts() (ip map[string]int, user map[string]int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ip = make(map[string]int, len(m.ipCounts))
	for k, v := range m.ipCounts {
		ip[k] = v
	}
	user = make(map[string]int, len(m.userCounts))
	for k, v := range m.userCounts {
		user[k] = v
	}
	return ip, user
}

// Shutdown closes every tunnel's listener. The persisted rows are left
// as-is; an out-of-band process marks them inactive on restart per §3.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for sub, t := range m.registry {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing tunnel %s: %w", sub, err)
		}
	}
	m.registry = make(map[string]*Tunnel)
	m.ipCounts = make(map[string]int)
	m.userCounts = make(map[string]int)
	return firstErr
}
