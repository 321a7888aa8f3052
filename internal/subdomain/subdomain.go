// Package subdomain generates and validates the human-memorable names
// tunnels are published under, plus the separate namespace for
// user-supplied custom subdomains.
package subdomain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

var adjectives = []string{
	"brave", "calm", "dark", "eager", "fair", "glad", "happy", "keen", "light", "mild", "neat",
	"pale", "quick", "rare", "safe", "tall", "vast", "warm", "bold", "cool", "deep", "fast",
	"gold", "kind", "live", "pure", "rich", "slim", "soft", "wise",
}

var nouns = []string{
	"bear", "crow", "deer", "dove", "eagle", "fawn", "goat", "hawk", "ibis", "jade", "kite",
	"lark", "moth", "newt", "orca", "puma", "quail", "reef", "seal", "tern", "vole", "wolf",
	"wren", "yak", "bass", "crab", "duck", "elm", "frog", "gull",
}

var adjectiveSet = toSet(adjectives)
var nounSet = toSet(nouns)

func toSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Generate builds a subdomain like "brave-eagle-a1b2c3d4": a random
// adjective and noun from the fixed word lists, plus 8 hex characters
// drawn from crypto/rand for uniqueness.
func Generate() string {
	adj := adjectives[randIndex(len(adjectives))]
	noun := nouns[randIndex(len(nouns))]

	var suffix [4]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; a panic here would indicate a broken host entropy
		// source, which no caller can meaningfully recover from.
		panic(fmt.Sprintf("subdomain: crypto/rand unavailable: %v", err))
	}

	return fmt.Sprintf("%s-%s-%s", adj, noun, hex.EncodeToString(suffix[:]))
}

func randIndex(n int) int {
	var b [1]byte
	// Rejection sampling keeps the distribution uniform over small n
	// without pulling in a dependency for bounded random integers.
	for {
		if _, err := rand.Read(b[:]); err != nil {
			panic(fmt.Sprintf("subdomain: crypto/rand unavailable: %v", err))
		}
		if int(b[0]) < (256/n)*n {
			return int(b[0]) % n
		}
	}
}

// IsValid reports whether s has the generated shape: exactly three
// hyphen-separated parts, where the first is a known adjective, the
// second a known noun, and the third 8 lowercase hex characters.
func IsValid(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return false
	}

	if _, ok := adjectiveSet[parts[0]]; !ok {
		return false
	}
	if _, ok := nounSet[parts[1]]; !ok {
		return false
	}
	return isHex8(parts[2])
}

func isHex8(s string) bool {
	if len(s) != 8 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}

// IsValidCustom validates a user-reserved custom subdomain: 3-30 chars,
// starts with a lowercase letter, lowercase alphanumeric and hyphen only,
// no leading/trailing hyphen, no "--".
func IsValidCustom(s string) bool {
	if len(s) < 3 || len(s) > 30 {
		return false
	}
	if s[0] < 'a' || s[0] > 'z' {
		return false
	}
	if strings.HasPrefix(s, "-") || strings.HasSuffix(s, "-") {
		return false
	}
	if strings.Contains(s, "--") {
		return false
	}

	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-') {
			return false
		}
	}
	return true
}
