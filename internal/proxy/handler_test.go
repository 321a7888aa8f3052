package proxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
)

type flatTiers struct{ limit int }

func (f flatTiers) TierLimit(string) int { return f.limit }

func newTestHandler(t *testing.T, domain string) *Handler {
	t.Helper()
	gwSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(gwSrv.Close)

	gw := supabase.New(gwSrv.URL, "anon", "service", zerolog.Nop())
	manager := tunnel.NewManager(gw, flatTiers{limit: 100}, 10, 100, 10.0, 20.0, zerolog.Nop())
	t.Cleanup(func() { _ = manager.Shutdown() })

	return NewHandler(manager, domain, nil, zerolog.Nop())
}

func TestSubdomainFromHostStripsPortAndSuffix(t *testing.T) {
	h := newTestHandler(t, "tunnelgate.dev")

	cases := map[string]struct {
		sub string
		ok  bool
	}{
		"brave-otter-1a2b3c4d.tunnelgate.dev":      {"brave-otter-1a2b3c4d", true},
		"brave-otter-1a2b3c4d.tunnelgate.dev:8443":  {"brave-otter-1a2b3c4d", true},
		"tunnelgate.dev":                            {"", false},
		"unrelated.example.com":                     {"", false},
	}
	for host, want := range cases {
		sub, ok := h.subdomainFromHost(host)
		if ok != want.ok || sub != want.sub {
			t.Errorf("subdomainFromHost(%q) = (%q, %v), want (%q, %v)", host, sub, ok, want.sub, want.ok)
		}
	}
}

func TestServeHTTPUnknownHostIsNotFound(t *testing.T) {
	h := newTestHandler(t, "tunnelgate.dev")

	req := httptest.NewRequest(http.MethodGet, "http://unrelated.example.com/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmatched host, got %d", rec.Code)
	}
}

func TestServeHTTPUnknownSubdomainIsGatewayError(t *testing.T) {
	h := newTestHandler(t, "tunnelgate.dev")

	req := httptest.NewRequest(http.MethodGet, "http://missing-one-1a2b3c4d.tunnelgate.dev/", nil)
	req.Host = "missing-one-1a2b3c4d.tunnelgate.dev"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected tunnel-not-found to map to 404, got %d", rec.Code)
	}
}
