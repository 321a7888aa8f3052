package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
	"github.com/tunnelgate/tunnelgate/pkg/types"
)

type flatTiers struct{ limit int }

func (f flatTiers) TierLimit(string) int { return f.limit }

// fakeSupabase is a minimal in-memory stand-in for the PostgREST
// gateway, enough to drive register/login through the real handlers
// without a live Supabase project.
type fakeSupabase struct {
	users []types.User
}

func newFakeSupabaseServer(t *testing.T) (*httptest.Server, *fakeSupabase) {
	t.Helper()
	state := &fakeSupabase{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
		table := strings.SplitN(path, "?", 2)[0]

		switch {
		case table == "users" && r.Method == http.MethodGet:
			email := strings.TrimPrefix(r.URL.Query().Get("email"), "eq.")
			var out []types.User
			for _, u := range state.users {
				if u.Email == email {
					out = append(out, u)
				}
			}
			writeFakeJSON(w, out)

		case table == "users" && r.Method == http.MethodPost:
			var u types.User
			if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			u.ID = "user-1"
			state.users = append(state.users, u)
			writeFakeJSON(w, []types.User{u})

		case table == "revoked_tokens":
			writeFakeJSON(w, []types.RevokedToken{})

		default:
			writeFakeJSON(w, []map[string]any{})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, state
}

func writeFakeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	supaSrv, _ := newFakeSupabaseServer(t)
	gateway := supabase.New(supaSrv.URL, "anon", "service", zerolog.Nop())
	manager := tunnel.NewManager(gateway, flatTiers{limit: 10}, 5, 100, 10.0, 20.0, zerolog.Nop())

	s := NewServer(Config{
		Addr:      "127.0.0.1:0",
		Domain:    "tunnelgate.test",
		JWTSecret: "test-secret",
		Manager:   manager,
		Gateway:   gateway,
		Logger:    zerolog.Nop(),
	})
	return s, supaSrv
}

func TestHealthEndpointIsPublic(t *testing.T) {
	s, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("got status %d want 200", w.Code)
	}
}

func TestTunnelsEndpointRequiresAuth(t *testing.T) {
	s, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d want 401", w.Code)
	}
}

func TestRegisterThenLoginRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"email":"user@example.com","username":"username","password":"a-long-enough-password"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)

	if w.Code != http.StatusCreated {
		t.Fatalf("register got status %d want 201: %s", w.Code, w.Body.String())
	}

	var registerResp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&registerResp); err != nil {
		t.Fatalf("decoding register response: %v", err)
	}
	if registerResp.Token == "" {
		t.Fatal("expected a token on register")
	}

	loginBody := `{"email":"user@example.com","password":"a-long-enough-password"}`
	r2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(loginBody))
	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, r2)

	if w2.Code != http.StatusOK {
		t.Fatalf("login got status %d want 200: %s", w2.Code, w2.Body.String())
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"email":"user2@example.com","username":"username2","password":"a-long-enough-password"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(body))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("register got status %d want 201", w.Code)
	}

	loginBody := `{"email":"user2@example.com","password":"wrong-password"}`
	r2 := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBufferString(loginBody))
	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, r2)

	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d want 401", w2.Code)
	}
}

func TestAuthenticatedTunnelCreateAndDelete(t *testing.T) {
	s, _ := newTestServer(t)

	registerBody := `{"email":"owner@example.com","username":"owner","password":"a-long-enough-password"}`
	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(registerBody))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	if w.Code != http.StatusCreated {
		t.Fatalf("register got status %d want 201", w.Code)
	}
	var registerResp struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(w.Body).Decode(&registerResp)

	createBody := `{"subdomain":"test-tunnel","target_port":8080}`
	r2 := httptest.NewRequest(http.MethodPost, "/api/tunnels", bytes.NewBufferString(createBody))
	r2.Header.Set("Authorization", "Bearer "+registerResp.Token)
	w2 := httptest.NewRecorder()
	s.router.ServeHTTP(w2, r2)

	if w2.Code != http.StatusCreated {
		t.Fatalf("create tunnel got status %d want 201: %s", w2.Code, w2.Body.String())
	}

	r3 := httptest.NewRequest(http.MethodDelete, "/api/tunnels/test-tunnel", nil)
	r3.Header.Set("Authorization", "Bearer "+registerResp.Token)
	w3 := httptest.NewRecorder()
	s.router.ServeHTTP(w3, r3)

	if w3.Code != http.StatusNoContent {
		t.Fatalf("delete tunnel got status %d want 204: %s", w3.Code, w3.Body.String())
	}
}
