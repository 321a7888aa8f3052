package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
	"github.com/tunnelgate/tunnelgate/internal/subdomain"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
	"github.com/tunnelgate/tunnelgate/internal/tunnel"
	"github.com/tunnelgate/tunnelgate/pkg/types"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "tunnelgate",
	})
}

// --- auth ---------------------------------------------------------------

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var existing []types.User
	if err := s.gateway.Select(r.Context(), "users", []supabase.Filter{supabase.Eq("email", req.Email)}, &existing); err != nil {
		respondInternalError(w, "failed to check existing user")
		return
	}
	if len(existing) > 0 {
		respondConflict(w, "a user with this email already exists")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		respondInternalError(w, "failed to hash password")
		return
	}

	row := types.User{Email: req.Email, Username: req.Username, PasswordHash: hash, Tier: types.TierFree}
	var created []types.User
	if err := s.gateway.Insert(r.Context(), "users", row, &created); err != nil || len(created) == 0 {
		respondInternalError(w, "failed to create user")
		return
	}

	token, _, err := issueToken([]byte(s.jwtSecret), created[0].ID, created[0].Email, string(created[0].Tier))
	if err != nil {
		respondInternalError(w, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"token": token,
		"user":  created[0],
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	var rows []types.User
	if err := s.gateway.Select(r.Context(), "users", []supabase.Filter{supabase.Eq("email", req.Email)}, &rows); err != nil {
		respondInternalError(w, "failed to look up user")
		return
	}
	if len(rows) == 0 || !verifyPassword(req.Password, rows[0].PasswordHash) {
		respondUnauthorized(w, "invalid email or password")
		return
	}

	user := rows[0]
	token, _, err := issueToken([]byte(s.jwtSecret), user.ID, user.Email, string(user.Tier))
	if err != nil {
		respondInternalError(w, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  user,
	})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		respondUnauthorized(w, "")
		return
	}
	c, err := parseToken([]byte(s.jwtSecret), extractBearerToken(r))
	if err != nil {
		respondUnauthorized(w, "invalid token")
		return
	}

	row := types.RevokedToken{JTI: c.ID, UserID: id.UserID, ExpiresAt: c.ExpiresAt.Time}
	if err := s.gateway.Insert(r.Context(), "revoked_tokens", row, nil); err != nil {
		respondInternalError(w, "failed to revoke token")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// --- tunnels --------------------------------------------------------------

func (s *Server) handleListTunnels(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var rows []types.TunnelRecord
	filters := []supabase.Filter{supabase.Eq("user_id", id.UserID), supabase.Eq("is_active", "true")}
	if err := s.gateway.Select(r.Context(), "tunnels", filters, &rows); err != nil {
		respondInternalError(w, "failed to list tunnels")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tunnels": rows})
}

func (s *Server) handleCreateTunnel(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var req CreateTunnelRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Subdomain != "" && !subdomain.IsValidCustom(strings.ToLower(req.Subdomain)) {
		writeGatewayError(w, gwerrors.InvalidSubdomain(req.Subdomain))
		return
	}

	protocol := types.ProtocolHTTP
	if req.Protocol == string(types.ProtocolTCP) {
		protocol = types.ProtocolTCP
	}

	clientIP := clientIPFromRemoteAddr(r.RemoteAddr)

	tun, err := s.manager.Create(r.Context(), tunnel.CreateRequest{
		ClientIP:        clientIP,
		UserID:          id.UserID,
		Tier:            id.Tier,
		CustomSubdomain: req.Subdomain,
		TargetPort:      req.TargetPort,
		Protocol:        protocol,
		IsPersistent:    req.IsPersistent,
	})
	if err != nil {
		if gwErr, ok := gwerrors.As(err); ok {
			writeGatewayError(w, gwErr)
			return
		}
		respondInternalError(w, "failed to create tunnel")
		return
	}

	info := tun.Info(s.domain)
	s.broadcaster.TunnelCreated(info.Subdomain)
	writeJSON(w, http.StatusCreated, map[string]any{
		"subdomain": info.Subdomain,
		"url":       info.URL,
		"bind_addr": info.BindAddr,
	})
}

func (s *Server) handleDeleteTunnel(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	subdomain := mux.Vars(r)["subdomain"]

	tun, ok := s.manager.Get(subdomain)
	if !ok {
		respondNotFound(w, "tunnel")
		return
	}
	if tun.UserID != id.UserID {
		respondForbidden(w, "you do not own this tunnel")
		return
	}

	if err := s.manager.Remove(r.Context(), subdomain); err != nil {
		if gwErr, ok := gwerrors.As(err); ok {
			writeGatewayError(w, gwErr)
			return
		}
		respondInternalError(w, "failed to remove tunnel")
		return
	}
	s.broadcaster.TunnelDestroyed(subdomain)
	w.WriteHeader(http.StatusNoContent)
}

func clientIPFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// --- API keys ---------------------------------------------------------------

func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	var rows []types.APIKey
	if err := s.gateway.Select(r.Context(), "api_keys", []supabase.Filter{supabase.Eq("user_id", id.UserID)}, &rows); err != nil {
		respondInternalError(w, "failed to list api keys")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": rows})
}

func (s *Server) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	var req CreateAPIKeyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	rawKey, err := generateAPIKey()
	if err != nil {
		respondInternalError(w, "failed to generate api key")
		return
	}

	row := types.APIKey{
		UserID:    id.UserID,
		Name:      req.Name,
		KeyHash:   hashAPIKey(rawKey),
		KeyPrefix: rawKey[:8],
		Scopes:    req.Scopes,
	}
	var created []types.APIKey
	if err := s.gateway.Insert(r.Context(), "api_keys", row, &created); err != nil || len(created) == 0 {
		respondInternalError(w, "failed to create api key")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":  created[0].ID,
		"key": rawKey, // shown once, never persisted in cleartext
	})
}

func (s *Server) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	keyID := mux.Vars(r)["id"]

	var rows []types.APIKey
	if err := s.gateway.Select(r.Context(), "api_keys", []supabase.Filter{supabase.Eq("id", keyID)}, &rows); err != nil {
		respondInternalError(w, "failed to look up api key")
		return
	}
	if len(rows) == 0 {
		respondNotFound(w, "api key")
		return
	}
	if rows[0].UserID != id.UserID {
		respondForbidden(w, "you do not own this api key")
		return
	}

	if err := s.gateway.Delete(r.Context(), "api_keys", []supabase.Filter{supabase.Eq("id", keyID)}, nil); err != nil {
		respondInternalError(w, "failed to delete api key")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// --- requests / analytics ---------------------------------------------------

func (s *Server) handleTunnelRequests(w http.ResponseWriter, r *http.Request) {
	tunnelID := mux.Vars(r)["id"]
	limit := clampInt(queryInt(r, "limit", 50), 1, 200)

	var rows []types.TunnelRequest
	if err := s.gateway.Select(r.Context(), "tunnel_requests", []supabase.Filter{supabase.Eq("tunnel_id", tunnelID)}, &rows); err != nil {
		respondInternalError(w, "failed to load requests")
		return
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"requests": rows})
}

func (s *Server) handleTunnelAnalytics(w http.ResponseWriter, r *http.Request) {
	tunnelID := mux.Vars(r)["id"]
	days := clampInt(queryInt(r, "days", 7), 1, 90)
	cutoff := time.Now().AddDate(0, 0, -days)

	var rows []types.AnalyticsDaily
	if err := s.gateway.Select(r.Context(), "analytics_daily", []supabase.Filter{supabase.Eq("tunnel_id", tunnelID)}, &rows); err != nil {
		respondInternalError(w, "failed to load analytics")
		return
	}
	filtered := rows[:0]
	for _, row := range rows {
		if row.Date.After(cutoff) {
			filtered = append(filtered, row)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"analytics": filtered})
}

func (s *Server) handleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())

	var tunnels []types.TunnelRecord
	if err := s.gateway.Select(r.Context(), "tunnels", []supabase.Filter{supabase.Eq("user_id", id.UserID)}, &tunnels); err != nil {
		respondInternalError(w, "failed to load summary")
		return
	}

	active := 0
	for _, t := range tunnels {
		if t.IsActive {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active_tunnels": active,
		"total_tunnels":  len(tunnels),
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
