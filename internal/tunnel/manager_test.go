package tunnel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/pkg/types"
)

type flatTiers struct{ limit int }

func (f flatTiers) TierLimit(string) int { return f.limit }

func newTestManager(t *testing.T, maxPerIP, globalLimit int, tierLimit int) *Manager {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`[{}]`))
		default:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)

	gw := supabase.New(srv.URL, "anon", "service", zerolog.Nop())
	return NewManager(gw, flatTiers{limit: tierLimit}, maxPerIP, globalLimit, 10.0, 20.0, zerolog.Nop())
}

func TestCreateAllocatesAndRegisters(t *testing.T) {
	m := newTestManager(t, 5, 100, 10)

	tun, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tun.BindAddr() == "" {
		t.Fatal("expected a bind address")
	}
	if m.Len() != 1 {
		t.Fatalf("expected registry size 1, got %d", m.Len())
	}

	got, ok := m.Get(tun.Subdomain)
	if !ok || got != tun {
		t.Fatal("expected Get to return the created tunnel")
	}
}

func TestCreateRejectsSubdomainCollision(t *testing.T) {
	m := newTestManager(t, 5, 100, 10)

	_, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", CustomSubdomain: "brave-eagle-deadbeef", TargetPort: 80, Protocol: types.ProtocolHTTP,
	})
	if err != nil {
		t.Fatalf("unexpected error on first create: %v", err)
	}

	_, err = m.Create(context.Background(), CreateRequest{
		ClientIP: "5.6.7.8", UserID: "u2", Tier: "free", CustomSubdomain: "brave-eagle-deadbeef", TargetPort: 80, Protocol: types.ProtocolHTTP,
	})
	if gwerrors.KindOf(err) != gwerrors.KindSubdomainTaken {
		t.Fatalf("expected SubdomainTaken, got %v", err)
	}
	if m.Len() != 1 {
		t.Fatalf("expected registry unchanged at size 1, got %d", m.Len())
	}
}

func TestCreateEnforcesPerIPLimit(t *testing.T) {
	m := newTestManager(t, 3, 100, 100)

	for i := 0; i < 3; i++ {
		if _, err := m.Create(context.Background(), CreateRequest{
			ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
		}); err != nil {
			t.Fatalf("unexpected error on create #%d: %v", i+1, err)
		}
	}

	_, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	})
	if gwerrors.KindOf(err) != gwerrors.KindMaxTunnelsPerIP {
		t.Fatalf("expected MaxTunnelsPerIP, got %v", err)
	}

	if _, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "5.6.7.8", UserID: "u2", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	}); err != nil {
		t.Fatalf("expected a concurrent creation from a different IP to succeed, got %v", err)
	}
}

func TestCreateEnforcesTierLimit(t *testing.T) {
	m := newTestManager(t, 100, 100, 1)

	if _, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "9.9.9.9", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	})
	if gwerrors.KindOf(err) != gwerrors.KindTierLimit {
		t.Fatalf("expected TierLimit, got %v", err)
	}
}

func TestCreateEnforcesGlobalCapacity(t *testing.T) {
	m := newTestManager(t, 100, 1, 100)

	if _, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "5.6.7.8", UserID: "u2", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	})
	if gwerrors.KindOf(err) != gwerrors.KindServerAtCapacity {
		t.Fatalf("expected ServerAtCapacity, got %v", err)
	}
}

func TestRemoveIsIdempotentAndKeepsCountsConsistent(t *testing.T) {
	m := newTestManager(t, 5, 100, 10)

	tun, err := m.Create(context.Background(), CreateRequest{
		ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := m.Remove(context.Background(), tun.Subdomain); err != nil {
		t.Fatalf("unexpected error on first remove: %v", err)
	}
	if err := m.Remove(context.Background(), tun.Subdomain); err != nil {
		t.Fatalf("expected remove of an absent subdomain to succeed, got %v", err)
	}

	if m.Len() != 0 {
		t.Fatalf("expected empty registry, got %d", m.Len())
	}
	ipCounts, userCounts := m.Counts()
	if len(ipCounts) != 0 || len(userCounts) != 0 {
		t.Fatalf("expected empty count maps after removal, got ip=%v user=%v", ipCounts, userCounts)
	}
}

func TestCountsSumToRegistrySize(t *testing.T) {
	m := newTestManager(t, 5, 100, 10)

	for i := 0; i < 3; i++ {
		if _, err := m.Create(context.Background(), CreateRequest{
			ClientIP: "1.2.3.4", UserID: "u1", Tier: "free", TargetPort: 8080, Protocol: types.ProtocolHTTP,
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	ipCounts, userCounts := m.Counts()
	sumIP, sumUser := 0, 0
	for _, v := range ipCounts {
		sumIP += v
	}
	for _, v := range userCounts {
		sumUser += v
	}
	if sumIP != m.Len() || sumUser != m.Len() {
		t.Fatalf("expected counts to sum to registry size %d, got ip=%d user=%d", m.Len(), sumIP, sumUser)
	}
}
