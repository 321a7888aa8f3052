package api

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/argon2"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
	"github.com/tunnelgate/tunnelgate/internal/metrics"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
)

const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

// hashPassword encodes algorithm parameters alongside the hash so they
// can change later without invalidating already-stored hashes.
func hashPassword(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash))
	return encoded, nil
}

// verifyPassword re-derives the hash using the parameters embedded in
// encoded and compares in constant time.
func verifyPassword(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var version, mem, timeCost, threads int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &timeCost, &threads); err != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}
	got := argon2.IDKey([]byte(password), salt, uint32(timeCost), uint32(mem), uint8(threads), uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// claims is the JWT payload minted on login/register: {sub, email,
// tier, exp, jti}.
type claims struct {
	Email string `json:"email"`
	Tier  string `json:"tier"`
	jwt.RegisteredClaims
}

func issueToken(secret []byte, userID, email, tier string) (token string, jti string, err error) {
	jti = uuid.NewString()
	now := time.Now()
	c := claims{
		Email: email,
		Tier:  tier,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(24 * time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(secret)
	return signed, jti, err
}

func parseToken(secret []byte, tokenString string) (*claims, error) {
	c := &claims{}
	token, err := jwt.ParseWithClaims(tokenString, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return nil, gwerrors.AuthFailed("invalid or expired token")
	}
	return c, nil
}

type contextKey string

const identityContextKey contextKey = "identity"

// identity is the authenticated caller, attached to the request
// context by AuthMiddleware.
type identity struct {
	UserID string
	Email  string
	Tier   string
}

func identityFromContext(ctx context.Context) (identity, bool) {
	id, ok := ctx.Value(identityContextKey).(identity)
	return id, ok
}

// AuthMiddleware validates the Bearer token on every protected route
// and checks the token's jti against the revoked_tokens table. A
// revocation-store lookup error fails open: the request is allowed
// through and the failure is recorded, per the documented policy that
// availability wins over strict revocation enforcement.
type AuthMiddleware struct {
	secret  []byte
	gateway *supabase.Client
	log     zerolog.Logger
}

func NewAuthMiddleware(secret string, gateway *supabase.Client, log zerolog.Logger) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), gateway: gateway, log: log}
}

func (am *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := extractBearerToken(r)
		if tokenString == "" {
			respondUnauthorized(w, "missing authorization token")
			return
		}

		c, err := parseToken(am.secret, tokenString)
		if err != nil {
			respondUnauthorized(w, "invalid or expired token")
			return
		}

		if am.isRevoked(r.Context(), c.ID) {
			respondUnauthorized(w, "token has been revoked")
			return
		}

		id := identity{UserID: c.Subject, Email: c.Email, Tier: c.Tier}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityContextKey, id)))
	})
}

type revokedTokenRow struct {
	JTI string `json:"jti"`
}

func (am *AuthMiddleware) isRevoked(ctx context.Context, jti string) bool {
	var rows []revokedTokenRow
	err := am.gateway.Select(ctx, "revoked_tokens", []supabase.Filter{supabase.Eq("jti", jti)}, &rows)
	if err != nil {
		metrics.RevocationCheckFailed.Inc()
		am.log.Warn().Err(err).Msg("revocation check failed, allowing request through")
		return false
	}
	return len(rows) > 0
}

func extractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
