package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tunnelgate/tunnelgate/internal/supabase"
)

func TestHashAndVerifyPassword(t *testing.T) {
	encoded, err := hashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	if !verifyPassword("correct horse battery staple", encoded) {
		t.Fatal("verifyPassword should accept the correct password")
	}
	if verifyPassword("wrong password", encoded) {
		t.Fatal("verifyPassword should reject an incorrect password")
	}
}

func TestVerifyPasswordRejectsMalformedEncoding(t *testing.T) {
	if verifyPassword("anything", "not-an-encoded-hash") {
		t.Fatal("verifyPassword should reject a malformed encoded hash")
	}
}

func TestIssueAndParseToken(t *testing.T) {
	secret := []byte("test-secret")
	token, jti, err := issueToken(secret, "user-1", "user@example.com", "free")
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	c, err := parseToken(secret, token)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if c.Subject != "user-1" || c.Email != "user@example.com" || c.Tier != "free" {
		t.Fatalf("unexpected claims: %+v", c)
	}
	if c.ID != jti {
		t.Fatalf("jti mismatch: got %q want %q", c.ID, jti)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, _, err := issueToken([]byte("secret-a"), "user-1", "a@example.com", "free")
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	if _, err := parseToken([]byte("secret-b"), token); err == nil {
		t.Fatal("parseToken should reject a token signed with a different secret")
	}
}

func TestExtractBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc.def.ghi")
	if got := extractBearerToken(r); got != "abc.def.ghi" {
		t.Fatalf("got %q want abc.def.ghi", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2.Header.Set("Authorization", "Basic xyz")
	if got := extractBearerToken(r2); got != "" {
		t.Fatalf("expected empty token for non-Bearer scheme, got %q", got)
	}
}

func TestAuthMiddlewareRejectsMissingToken(t *testing.T) {
	mw := NewAuthMiddleware("secret", nil, zerolog.Nop())
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a token")
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("got status %d want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddlewareFailsOpenOnRevocationLookupError(t *testing.T) {
	gateway := supabase.New("http://127.0.0.1:0", "anon", "service", zerolog.Nop())
	mw := NewAuthMiddleware("secret", gateway, zerolog.Nop())

	token, _, err := issueToken([]byte("secret"), "user-1", "user@example.com", "free")
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}

	var reached bool
	handler := mw.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		if _, ok := identityFromContext(r.Context()); !ok {
			t.Fatal("expected identity in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/api/tunnels", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r.WithContext(ctx))

	if !reached {
		t.Fatal("a revocation-store lookup error must fail open, not block the request")
	}
}
