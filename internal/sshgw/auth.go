package sshgw

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/tunnelgate/tunnelgate/internal/gwerrors"
	"github.com/tunnelgate/tunnelgate/internal/supabase"
)

const usernamePrefix = "user_"
const apiKeyHexLen = 64

// apiKeyFromUsername extracts the 64-char lowercase hex API key from an
// SSH username of the form "user_<64 hex chars>".
func apiKeyFromUsername(username string) (string, bool) {
	if !strings.HasPrefix(username, usernamePrefix) {
		return "", false
	}
	key := username[len(usernamePrefix):]
	if len(key) != apiKeyHexLen {
		return "", false
	}
	for _, c := range key {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", false
		}
	}
	return key, true
}

func hashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type apiKeyRow struct {
	UserID string `json:"user_id"`
}

type userRow struct {
	ID   string `json:"id"`
	Tier string `json:"tier"`
}

// authenticate resolves an SSH username into a (userID, tier) pair by
// hashing the embedded API key and looking it up against api_keys, then
// joining users for the tier. A malformed or unknown key yields
// AuthFailed and a failed gateway lookup yields a Supabase error; the
// caller rejects both and records the auth_failure metric.
func authenticate(ctx context.Context, gateway *supabase.Client, username string) (userID, tier string, err error) {
	key, ok := apiKeyFromUsername(username)
	if !ok {
		return "", "", gwerrors.AuthFailed("username is not in the form user_<64 hex chars>")
	}

	keyHash := hashAPIKey(key)

	var keys []apiKeyRow
	if err := gateway.Select(ctx, "api_keys", []supabase.Filter{supabase.Eq("key_hash", keyHash)}, &keys); err != nil {
		return "", "", gwerrors.Supabase("looking up api key", err)
	}
	if len(keys) == 0 {
		return "", "", gwerrors.AuthFailed("invalid_key")
	}

	var users []userRow
	if err := gateway.Select(ctx, "users", []supabase.Filter{supabase.Eq("id", keys[0].UserID)}, &users); err != nil {
		return "", "", gwerrors.Supabase("looking up user", err)
	}
	if len(users) == 0 {
		return "", "", gwerrors.AuthFailed("invalid_key")
	}

	return users[0].ID, users[0].Tier, nil
}

// validateForwardPort enforces the tcpip-forward port rules: fit in 16
// bits, at least minPort, and not one of the universally reserved ports.
func validateForwardPort(port uint32, minPort int) error {
	if port > 65535 {
		return fmt.Errorf("sshgw: port %d does not fit in 16 bits", port)
	}
	if int(port) < minPort {
		return fmt.Errorf("sshgw: port %d is below the minimum %d", port, minPort)
	}
	switch port {
	case 22, 80, 443:
		return fmt.Errorf("sshgw: port %d is reserved", port)
	}
	return nil
}
