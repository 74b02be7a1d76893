package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"math/big"
	"strings"
	"time"
)

const (
	alphanumeric = "abcdefghijklmnopqrstuvwxyz0123456789"
	tokenPrefix  = "pgw"
)

// GenerateToken creates a new API token with the format: pgw-{env}-{32 random alphanumeric chars}
func GenerateToken(env string) (string, error) {
	random, err := randomString(32)
	if err != nil {
		return "", fmt.Errorf("generate random: %w", err)
	}
	return fmt.Sprintf("%s-%s-%s", tokenPrefix, env, random), nil
}

// HashKey returns the SHA-256 hex digest of a token.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", h)
}

// TokenPrefix extracts a display-safe prefix from a generated token: pgw-{env}-{first 8 chars}.
// Tokens of any other shape are cut to at most 8 characters.
func TokenPrefix(token string) string {
	parts := strings.SplitN(token, "-", 3)
	if len(parts) == 3 && parts[0] == tokenPrefix {
		random := parts[2]
		if len(random) > 8 {
			random = random[:8]
		}
		return parts[0] + "-" + parts[1] + "-" + random
	}
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func randomString(n int) (string, error) {
	b := make([]byte, n)
	max := big.NewInt(int64(len(alphanumeric)))
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = alphanumeric[idx.Int64()]
	}
	return string(b), nil
}

// TokenRecord is a stored token as cached in Redis.
type TokenRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ParseDuration parses a duration string like "365d", "30d", "24h".
func ParseDuration(s string) (time.Duration, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty duration")
	}
	last := s[len(s)-1]
	if last == 'd' {
		var days int
		_, err := fmt.Sscanf(s, "%dd", &days)
		if err != nil {
			return 0, fmt.Errorf("parse days: %w", err)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
